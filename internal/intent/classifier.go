// Package intent classifies chat messages with ordered keyword rules.
package intent

import (
	"regexp"
	"strings"

	"github.com/wolfman30/salon-concierge/internal/catalog"
	"github.com/wolfman30/salon-concierge/internal/dates"
)

// Intent is the closed set of message intents.
type Intent string

const (
	Greeting       Intent = "greeting"
	Thanks         Intent = "thanks"
	ServiceRequest Intent = "service_request"
	DateReference  Intent = "date_reference"
	Pricing        Intent = "pricing"
	WorkingHours   Intent = "working_hours"
	CancelRestart  Intent = "cancel_restart"
	Help           Intent = "help"
	SlotSelection  Intent = "slot_selection"
	Unknown        Intent = "unknown"
)

// Priority is the order keyword intents are tested in. Earlier entries win
// when a message matches several keyword sets.
var Priority = []Intent{CancelRestart, Pricing, WorkingHours, ServiceRequest, Help, Thanks, Greeting}

// Keywords holds the default keyword set for each keyword intent.
var Keywords = map[Intent][]string{
	CancelRestart:  {"cancel", "restart", "start over", "reset", "never mind", "nevermind", "forget it"},
	Pricing:        {"price", "prices", "pricing", "cost", "costs", "how much", "rates", "fee", "fees"},
	WorkingHours:   {"hours", "opening times", "opening time", "closing time", "timings", "are you open", "when do you open", "when do you close", "what time do you open", "what time do you close"},
	ServiceRequest: append([]string{"book", "appointment", "reserve", "schedule"}, catalog.ServiceKeywords()...),
	Help:           {"help", "what can you do", "how does this work", "options", "menu"},
	Thanks:         {"thanks", "thank you", "thx", "ty", "cheers", "appreciate it"},
	Greeting:       {"hi", "hello", "hey", "hiya", "howdy", "yo", "good morning", "good afternoon", "good evening"},
}

var (
	ordinalRe = regexp.MustCompile(`(?i)^\s*(?:#|no\.?|number|option|slot)?\s*\d{1,3}\s*[.!]?\s*$`)
	clockRe   = regexp.MustCompile(`\b\d{1,2}:\d{2}\b`)
)

type rule struct {
	intent  Intent
	pattern *regexp.Regexp
}

// Classifier maps a message to an Intent. It is stateless and safe for
// concurrent use.
type Classifier struct {
	rules         []rule
	looksLikeDate func(string) bool
}

// NewClassifier builds a classifier from the default keyword sets.
func NewClassifier() *Classifier {
	return NewClassifierWithKeywords(Keywords)
}

// NewClassifierWithKeywords builds a classifier from custom keyword sets.
// Priority order is fixed; intents missing from keywords never match.
func NewClassifierWithKeywords(keywords map[Intent][]string) *Classifier {
	c := &Classifier{looksLikeDate: dates.LooksLikeDate}
	for _, in := range Priority {
		kws := keywords[in]
		if len(kws) == 0 {
			continue
		}
		c.rules = append(c.rules, rule{intent: in, pattern: catalog.KeywordPattern(kws)})
	}
	return c
}

// Classify returns the intent of text.
func (c *Classifier) Classify(text string) Intent {
	text = strings.TrimSpace(text)
	if text == "" {
		return Unknown
	}
	for _, r := range c.rules {
		if r.pattern.MatchString(text) {
			return r.intent
		}
	}
	if c.looksLikeDate(text) {
		return DateReference
	}
	if IsSlotSelection(text) {
		return SlotSelection
	}
	return Unknown
}

// IsSlotSelection reports whether text is a bare ordinal or contains HH:MM.
func IsSlotSelection(text string) bool {
	return ordinalRe.MatchString(text) || clockRe.MatchString(text)
}
