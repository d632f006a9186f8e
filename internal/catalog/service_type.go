package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

// ServiceType is the closed set of services the salon offers.
type ServiceType int

const (
	Haircut ServiceType = iota + 1
	Beard
	Facial
	Spa
)

// ServiceTypes lists every service type in display order.
var ServiceTypes = []ServiceType{Haircut, Beard, Facial, Spa}

// TypeInfo is the static metadata attached to a service type.
type TypeInfo struct {
	Key         string
	DisplayName string
	// Keywords are matched on word boundaries when extracting a service
	// type from free text.
	Keywords []string
}

var typeInfo = map[ServiceType]TypeInfo{
	Haircut: {Key: "haircut", DisplayName: "Haircut", Keywords: []string{"haircut", "hair cut", "hair"}},
	Beard:   {Key: "beard", DisplayName: "Beard", Keywords: []string{"beard", "shave"}},
	Facial:  {Key: "facial", DisplayName: "Facial", Keywords: []string{"facial", "facials"}},
	Spa:     {Key: "spa", DisplayName: "Spa", Keywords: []string{"spa", "massage"}},
}

// Lookup returns the metadata for t.
func Lookup(t ServiceType) (TypeInfo, bool) {
	info, ok := typeInfo[t]
	return info, ok
}

// Valid reports whether t is a known service type.
func (t ServiceType) Valid() bool {
	_, ok := typeInfo[t]
	return ok
}

func (t ServiceType) String() string {
	if info, ok := typeInfo[t]; ok {
		return info.Key
	}
	return fmt.Sprintf("service_type(%d)", int(t))
}

// DisplayName returns the human label, e.g. "Haircut".
func (t ServiceType) DisplayName() string {
	if info, ok := typeInfo[t]; ok {
		return info.DisplayName
	}
	return t.String()
}

// ParseServiceType maps a key such as "haircut" onto a ServiceType.
func ParseServiceType(s string) (ServiceType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, t := range ServiceTypes {
		if typeInfo[t].Key == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("catalog: unknown service type %q", s)
}

// MarshalText renders the service type key; the unset value renders empty.
func (t ServiceType) MarshalText() ([]byte, error) {
	if t == 0 {
		return []byte{}, nil
	}
	if !t.Valid() {
		return nil, fmt.Errorf("catalog: cannot marshal service type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText parses a service type key.
func (t *ServiceType) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*t = 0
		return nil
	}
	parsed, err := ParseServiceType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

var typePatterns = func() map[ServiceType]*regexp.Regexp {
	out := make(map[ServiceType]*regexp.Regexp, len(typeInfo))
	for t, info := range typeInfo {
		out[t] = KeywordPattern(info.Keywords)
	}
	return out
}()

// KeywordPattern compiles a case-insensitive, word-bounded alternation.
func KeywordPattern(keywords []string) *regexp.Regexp {
	quoted := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		quoted = append(quoted, strings.ReplaceAll(regexp.QuoteMeta(kw), " ", `\s+`))
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// ServiceKeywords returns every keyword of every service type.
func ServiceKeywords() []string {
	var out []string
	for _, t := range ServiceTypes {
		out = append(out, typeInfo[t].Keywords...)
	}
	return out
}

// ExtractServiceType finds the service type mentioned earliest in text.
func ExtractServiceType(text string) (ServiceType, bool) {
	var (
		found ServiceType
		at    = -1
	)
	for _, t := range ServiceTypes {
		loc := typePatterns[t].FindStringIndex(text)
		if loc == nil {
			continue
		}
		if at == -1 || loc[0] < at {
			found, at = t, loc[0]
		}
	}
	return found, at >= 0
}
