// Package dates turns free text such as "tomorrow", "this Friday" or
// "Oct 20" into a calendar date relative to a reference day.
package dates

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/wolfman30/salon-concierge/internal/calendar"
)

// Outcome records why a rule produced or withheld a date.
type Outcome int

const (
	// Declined means the rule did not apply; the next rule runs.
	Declined Outcome = iota
	// Matched means the rule produced a date.
	Matched
	// Rejected means the rule applied but the date is unusable; resolution stops.
	Rejected
)

// Rule names a resolution step.
type Rule string

const (
	RuleToday     Rule = "today"
	RuleDayAfter  Rule = "day_after_tomorrow"
	RuleTomorrow  Rule = "tomorrow"
	RuleWeekday   Rule = "weekday"
	RuleThisMonth Rule = "this_month"
	RuleFuzzy     Rule = "fuzzy"
	RuleNone      Rule = "none"
)

// Resolution is the result of resolving a message.
type Resolution struct {
	Date    time.Time
	Rule    Rule
	Outcome Outcome
	Reason  string
}

// OK reports whether a date was produced.
func (r Resolution) OK() bool { return r.Outcome == Matched }

type step struct {
	rule Rule
	fn   func(text string, ref time.Time) (time.Time, Outcome, string)
}

// Resolver applies the rules in order; the first rule that matches or
// rejects decides the result.
type Resolver struct {
	steps []step
}

// NewResolver returns a resolver with the standard rule chain.
func NewResolver() *Resolver {
	return &Resolver{steps: []step{
		{RuleToday, resolveToday},
		{RuleDayAfter, resolveDayAfterTomorrow},
		{RuleTomorrow, resolveTomorrow},
		{RuleWeekday, resolveWeekday},
		{RuleThisMonth, resolveThisMonth},
		{RuleFuzzy, resolveFuzzy},
	}}
}

// Resolve maps text to a date relative to ref. It has no side effects.
func (r *Resolver) Resolve(text string, ref time.Time) Resolution {
	normalized := normalize(text)
	ref = calendar.DateOf(ref)
	if normalized == "" {
		return Resolution{Rule: RuleNone, Outcome: Declined, Reason: "empty text"}
	}
	for _, s := range r.steps {
		date, outcome, reason := s.fn(normalized, ref)
		switch outcome {
		case Matched:
			return Resolution{Date: date, Rule: s.rule, Outcome: Matched}
		case Rejected:
			return Resolution{Rule: s.rule, Outcome: Rejected, Reason: reason}
		}
	}
	return Resolution{Rule: RuleNone, Outcome: Declined, Reason: "no date phrase"}
}

const monthNames = `jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?`

var (
	spaceRe       = regexp.MustCompile(`\s+`)
	todayRe       = regexp.MustCompile(`\btoday\b`)
	tomorrowRe    = regexp.MustCompile(`\b(tomorrow|tmrw|next day)\b`)
	dayAfterRe    = regexp.MustCompile(`\bday after (tomorrow|tmrw)\b`)
	weekdayRe     = regexp.MustCompile(`\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	thisMonthRe   = regexp.MustCompile(`\bthis month(?: on)?(?: the)? (\d{1,2})(?:st|nd|rd|th)?\b`)
	monthDayRe    = regexp.MustCompile(`\b(` + monthNames + `)\.? (\d{1,2})(?:st|nd|rd|th)?\b(?:,? (\d{4}))?`)
	dayMonthRe    = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)? (?:of )?(` + monthNames + `)\b(?:,? (\d{4}))?`)
	numericDateRe = regexp.MustCompile(`\b(\d{4}-\d{1,2}-\d{1,2}|\d{1,2}[/.]\d{1,2}[/.]\d{2,4}|\d{4}/\d{1,2}/\d{1,2})\b`)
	shortDateRe   = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})\b`)
)

func normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	return spaceRe.ReplaceAllString(text, " ")
}

func resolveToday(text string, ref time.Time) (time.Time, Outcome, string) {
	if todayRe.MatchString(text) {
		return ref, Matched, ""
	}
	return time.Time{}, Declined, ""
}

func resolveDayAfterTomorrow(text string, ref time.Time) (time.Time, Outcome, string) {
	if dayAfterRe.MatchString(text) {
		return ref.AddDate(0, 0, 2), Matched, ""
	}
	return time.Time{}, Declined, ""
}

func resolveTomorrow(text string, ref time.Time) (time.Time, Outcome, string) {
	if tomorrowRe.MatchString(text) {
		return ref.AddDate(0, 0, 1), Matched, ""
	}
	return time.Time{}, Declined, ""
}

func resolveWeekday(text string, ref time.Time) (time.Time, Outcome, string) {
	m := weekdayRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, Declined, ""
	}
	day, _ := calendar.ParseWeekday(m[1])
	return calendar.NextWeekday(ref, day), Matched, ""
}

func resolveThisMonth(text string, ref time.Time) (time.Time, Outcome, string) {
	m := thisMonthRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, Declined, ""
	}
	day, _ := strconv.Atoi(m[1])
	date, ok := validDate(ref.Year(), ref.Month(), day, ref.Location())
	if !ok {
		return time.Time{}, Rejected, "day " + m[1] + " does not exist in " + ref.Month().String()
	}
	return date, Matched, ""
}

// resolveFuzzy handles explicit calendar dates. Month-and-day phrases are
// read in the reference year; full dates go through dateparse. Anything
// before ref is rejected.
func resolveFuzzy(text string, ref time.Time) (time.Time, Outcome, string) {
	date, ok := parseMonthDay(text, ref)
	if !ok {
		date, ok = parseNumeric(text, ref)
	}
	if !ok {
		return time.Time{}, Declined, ""
	}
	if date.Before(ref) {
		return time.Time{}, Rejected, "date " + calendar.FormatDate(date) + " is in the past"
	}
	return date, Matched, ""
}

func parseMonthDay(text string, ref time.Time) (time.Time, bool) {
	var monthToken, dayToken, yearToken string
	if m := monthDayRe.FindStringSubmatch(text); m != nil {
		monthToken, dayToken, yearToken = m[1], m[2], m[3]
	} else if m := dayMonthRe.FindStringSubmatch(text); m != nil {
		dayToken, monthToken, yearToken = m[1], m[2], m[3]
	} else {
		return time.Time{}, false
	}
	month, ok := parseMonth(monthToken)
	if !ok {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(dayToken)
	year := ref.Year()
	if yearToken != "" {
		year, _ = strconv.Atoi(yearToken)
	}
	return validDate(year, month, day, ref.Location())
}

func parseNumeric(text string, ref time.Time) (time.Time, bool) {
	if m := numericDateRe.FindString(text); m != "" {
		parsed, err := dateparse.ParseIn(m, ref.Location(), dateparse.RetryAmbiguousDateWithSwap(true))
		if err != nil {
			return time.Time{}, false
		}
		return calendar.DateOf(parsed), true
	}
	if m := shortDateRe.FindStringSubmatch(text); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 {
			return time.Time{}, false
		}
		return validDate(ref.Year(), time.Month(month), day, ref.Location())
	}
	return time.Time{}, false
}

func parseMonth(token string) (time.Month, bool) {
	token = strings.TrimSuffix(token, ".")
	if len(token) < 3 {
		return 0, false
	}
	for m := time.January; m <= time.December; m++ {
		if strings.HasPrefix(strings.ToLower(m.String()), token[:3]) {
			return m, true
		}
	}
	return 0, false
}

// validDate builds the date without normalizing overflow such as Feb 30.
func validDate(year int, month time.Month, day int, loc *time.Location) (time.Time, bool) {
	if day < 1 || day > 31 {
		return time.Time{}, false
	}
	date := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if date.Month() != month || date.Day() != day {
		return time.Time{}, false
	}
	return date, true
}

// LooksLikeDate is a cheap check for date-like phrases. It does not validate
// the date.
func LooksLikeDate(text string) bool {
	text = normalize(text)
	return todayRe.MatchString(text) ||
		tomorrowRe.MatchString(text) ||
		weekdayRe.MatchString(text) ||
		thisMonthRe.MatchString(text) ||
		monthDayRe.MatchString(text) ||
		dayMonthRe.MatchString(text) ||
		numericDateRe.MatchString(text) ||
		shortDateRe.MatchString(text)
}
