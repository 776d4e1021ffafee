// Package naturaldate turns phrases such as "tomorrow at 6pm" or
// "next friday morning" into absolute instants in a reference timezone.
//
// Relative phrases resolve against a caller-supplied "now" and prefer
// future occurrences: a bare "3pm" after 15:00 means tomorrow, a bare
// weekday means its next occurrence, and "March 12" without a year
// rolls into next year once it has passed.
package naturaldate

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultHour is used when a phrase names a day but no time of day.
const DefaultHour = 9

// Parser resolves phrases in a fixed location.
type Parser struct {
	loc *time.Location
}

// New returns a Parser for loc. A nil loc means UTC.
func New(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{loc: loc}
}

// Location is the zone results are expressed in.
func (p *Parser) Location() *time.Location {
	return p.loc
}

var (
	absoluteLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	}

	reSpaces   = regexp.MustCompile(`\s+`)
	reIn       = regexp.MustCompile(`^in\s+(\S+)\s+(\S+)$`)
	reFromNow  = regexp.MustCompile(`^(\S+)\s+(\S+)\s+from\s+now$`)
	reClock12  = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	reClock24  = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	reClockW   = regexp.MustCompile(`\b(noon|midday|midnight)\b`)
	reClockAt  = regexp.MustCompile(`\bat\s+(\d{1,2})\b`)
	reDayPart  = regexp.MustCompile(`\b(morning|afternoon|evening|tonight|night)\b`)
	reFiller   = regexp.MustCompile(`\b(at|on|by|around|about|the|of|in|this|coming)\b`)
	reMonthDay = regexp.MustCompile(`^([a-z]+)\s+(\d{1,2})(?:st|nd|rd|th)?(?:\s+(\d{4}))?$`)
	reDayMonth = regexp.MustCompile(`^(\d{1,2})(?:st|nd|rd|th)?\s+([a-z]+)(?:\s+(\d{4}))?$`)
	reNextDow  = regexp.MustCompile(`^(next\s+)?([a-z]+)$`)
)

var dayPartHours = map[string]int{
	"morning":   9,
	"afternoon": 15,
	"evening":   18,
	"tonight":   20,
	"night":     21,
}

// maxRelative bounds "in N units" offsets.
const maxRelative = 100 * 365 * 24 * time.Hour

// Parse resolves phrase against now. ok is false when the phrase is
// empty or not understood.
func (p *Parser) Parse(phrase string, now time.Time) (t time.Time, ok bool) {
	raw := strings.TrimSpace(phrase)
	if raw == "" {
		return time.Time{}, false
	}
	now = now.In(p.loc)

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(p.loc), true
	}
	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, raw, p.loc); err == nil {
			return t, true
		}
	}
	if d, err := time.ParseInLocation("2006-01-02", raw, p.loc); err == nil {
		return time.Date(d.Year(), d.Month(), d.Day(), DefaultHour, 0, 0, 0, p.loc), true
	}

	s := normalize(raw)
	if s == "now" || s == "right now" || s == "asap" {
		return now, true
	}
	if d, ok := parseRelative(s); ok {
		return now.Add(d), true
	}

	hour, minute, hasClock, bare, s, ok := extractClock(s)
	if !ok {
		return time.Time{}, false
	}
	if m := reDayPart.FindStringSubmatch(s); m != nil {
		switch {
		case !hasClock:
			hour, minute = dayPartHours[m[1]], 0
		case bare && m[1] != "morning" && hour < 12:
			hour += 12
		}
		s = strings.Replace(s, m[0], " ", 1)
		hasClock = true
	}

	// A day-part word alone ("tonight") names no day and rolls like a
	// bare clock time.
	day := strings.TrimSpace(reSpaces.ReplaceAllString(reFiller.ReplaceAllString(s, " "), " "))
	if day == "" {
		if !hasClock {
			return time.Time{}, false
		}
		c := p.at(now, 0, hour, minute)
		if !c.After(now) {
			c = p.at(now, 1, hour, minute)
		}
		return c, true
	}

	if !hasClock {
		hour, minute = DefaultHour, 0
	}
	return p.resolveDay(day, now, hour, minute, hasClock)
}

func (p *Parser) resolveDay(day string, now time.Time, hour, minute int, hasClock bool) (time.Time, bool) {
	switch day {
	case "today":
		c := p.at(now, 0, hour, minute)
		if !hasClock && !c.After(now) {
			// No time given and the default has passed: next full hour.
			return now.Truncate(time.Hour).Add(time.Hour), true
		}
		return c, true
	case "tomorrow", "tmrw", "tmr", "tomorow":
		return p.at(now, 1, hour, minute), true
	case "day after tomorrow":
		return p.at(now, 2, hour, minute), true
	case "yesterday":
		return p.at(now, -1, hour, minute), true
	case "next week":
		return p.at(now, 7, hour, minute), true
	}

	if m := reNextDow.FindStringSubmatch(day); m != nil {
		if dow, ok := parseWeekday(m[2]); ok {
			ahead := (int(dow) - int(now.Weekday()) + 7) % 7
			if m[1] != "" {
				if ahead == 0 {
					ahead = 7
				}
				return p.at(now, ahead, hour, minute), true
			}
			c := p.at(now, ahead, hour, minute)
			if !c.After(now) {
				c = p.at(now, ahead+7, hour, minute)
			}
			return c, true
		}
	}

	if m := reMonthDay.FindStringSubmatch(day); m != nil {
		if month, ok := parseMonth(m[1]); ok {
			return p.monthDay(now, month, m[2], m[3], hour, minute)
		}
	}
	if m := reDayMonth.FindStringSubmatch(day); m != nil {
		if month, ok := parseMonth(m[2]); ok {
			return p.monthDay(now, month, m[1], m[3], hour, minute)
		}
	}
	return time.Time{}, false
}

func (p *Parser) monthDay(now time.Time, month time.Month, dayStr, yearStr string, hour, minute int) (time.Time, bool) {
	d, _ := strconv.Atoi(dayStr)
	year := now.Year()
	if yearStr != "" {
		year, _ = strconv.Atoi(yearStr)
	}
	c := time.Date(year, month, d, hour, minute, 0, 0, p.loc)
	if c.Day() != d {
		return time.Time{}, false
	}
	if yearStr == "" && !c.After(now) {
		c = time.Date(year+1, month, d, hour, minute, 0, 0, p.loc)
	}
	return c, true
}

// at returns the calendar day offset days from now, at hour:minute.
func (p *Parser) at(now time.Time, offset, hour, minute int) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+offset, hour, minute, 0, 0, p.loc)
}

func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("a.m.", "am", "p.m.", "pm", ",", " ").Replace(s)
	s = strings.TrimRight(s, ".!? ")
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}

// extractClock finds an explicit time of day and removes it from s.
// bare is set for "at N" without minutes or am/pm. ok is false when
// something that looks like a clock is out of range.
func extractClock(s string) (hour, minute int, found, bare bool, rest string, ok bool) {
	if m := reClock12.FindStringSubmatchIndex(s); m != nil {
		h, _ := strconv.Atoi(s[m[2]:m[3]])
		if m[4] >= 0 {
			minute, _ = strconv.Atoi(s[m[4]:m[5]])
		}
		if h < 1 || h > 12 || minute > 59 {
			return 0, 0, false, false, s, false
		}
		if s[m[6]:m[7]] == "pm" && h != 12 {
			h += 12
		} else if s[m[6]:m[7]] == "am" && h == 12 {
			h = 0
		}
		return h, minute, true, false, s[:m[0]] + " " + s[m[1]:], true
	}
	if m := reClock24.FindStringSubmatchIndex(s); m != nil {
		h, _ := strconv.Atoi(s[m[2]:m[3]])
		minute, _ = strconv.Atoi(s[m[4]:m[5]])
		if h > 23 || minute > 59 {
			return 0, 0, false, false, s, false
		}
		return h, minute, true, false, s[:m[0]] + " " + s[m[1]:], true
	}
	if m := reClockW.FindStringSubmatchIndex(s); m != nil {
		h := 12
		if s[m[2]:m[3]] == "midnight" {
			h = 0
		}
		return h, 0, true, false, s[:m[0]] + " " + s[m[1]:], true
	}
	if m := reClockAt.FindStringSubmatchIndex(s); m != nil && !followedByMonth(s[m[1]:]) {
		h, _ := strconv.Atoi(s[m[2]:m[3]])
		if h > 23 {
			return 0, 0, false, false, s, false
		}
		return h, 0, true, true, s[:m[0]] + " " + s[m[1]:], true
	}
	return 0, 0, false, false, s, true
}

// followedByMonth reports whether rest starts with a month name, as in
// "at 12 march".
func followedByMonth(rest string) bool {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return false
	}
	_, ok := parseMonth(fields[0])
	return ok
}

func parseRelative(s string) (time.Duration, bool) {
	if s == "in half an hour" {
		return 30 * time.Minute, true
	}
	m := reIn.FindStringSubmatch(s)
	if m == nil {
		m = reFromNow.FindStringSubmatch(s)
	}
	if m == nil {
		return 0, false
	}
	n, ok := parseCount(m[1])
	if !ok {
		return 0, false
	}
	unit, ok := parseUnit(m[2])
	if !ok {
		return 0, false
	}
	if n > int(maxRelative/unit) {
		return 0, false
	}
	return time.Duration(n) * unit, true
}

var countWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10, "fifteen": 15,
	"twenty": 20, "thirty": 30,
}

func parseCount(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n, true
	}
	n, ok := countWords[s]
	return n, ok
}

func parseUnit(s string) (time.Duration, bool) {
	switch s {
	case "sec", "secs", "second", "seconds":
		return time.Second, true
	case "min", "mins", "minute", "minutes":
		return time.Minute, true
	case "hr", "hrs", "hour", "hours":
		return time.Hour, true
	case "day", "days":
		return 24 * time.Hour, true
	case "week", "weeks":
		return 7 * 24 * time.Hour, true
	}
	return 0, false
}

func parseWeekday(s string) (time.Weekday, bool) {
	if len(s) < 3 {
		return 0, false
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if strings.HasPrefix(name, s) || (len(s) > len(name) && s == name+"s") {
			return d, true
		}
	}
	return 0, false
}

func parseMonth(s string) (time.Month, bool) {
	if len(s) < 3 {
		return 0, false
	}
	if s == "sept" {
		return time.September, true
	}
	for m := time.January; m <= time.December; m++ {
		if strings.HasPrefix(strings.ToLower(m.String()), s) {
			return m, true
		}
	}
	return 0, false
}
