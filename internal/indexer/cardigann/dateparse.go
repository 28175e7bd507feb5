package cardigann

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// rfc1123GMT matches JavaScript's toUTCString output. All date filters emit
// this format so downstream parsing has a single canonical form.
const rfc1123GMT = "Mon, 02 Jan 2006 15:04:05 GMT"

type tokenKind int

const (
	tokSkip tokenKind = iota
	tokYear4
	tokYear2
	tokMonth
	tokMonthName
	tokDay
	tokHour24
	tokHour12
	tokMinute
	tokSecond
	tokAMPM
	tokTZOffset
	tokTZName
	tokFraction
)

type layoutToken struct {
	token   string
	pattern string
	kind    tokenKind
}

// layoutTokens lists Go reference-layout tokens (Mon Jan 2 15:04:05 MST
// 2006) with the capture pattern each one stands for. Scanning tries them
// in this order at every position, so longer tokens must precede their
// prefixes ("2006" before "06" before "06"'s tail digits, "15" before "1").
var layoutTokens = []layoutToken{
	{"January", `([A-Za-z]+)`, tokMonthName},
	{"Monday", `([A-Za-z]+)`, tokSkip},
	{"Z07:00", `(Z|[+-]\d{2}:\d{2})`, tokTZOffset},
	{"-07:00", `([+-]\d{2}:\d{2})`, tokTZOffset},
	{"Z0700", `(Z|[+-]\d{4})`, tokTZOffset},
	{"-0700", `([+-]\d{4})`, tokTZOffset},
	{"2006", `(\d{4})`, tokYear4},
	{".000", `\.(\d{1,9})`, tokFraction},
	{".999", `(?:\.(\d{1,9}))?`, tokFraction},
	{"Jan", `([A-Za-z]{3})`, tokMonthName},
	{"Mon", `([A-Za-z]{3})`, tokSkip},
	{"MST", `([A-Z]{2,5})`, tokTZName},
	{"PM", `([AP]M)`, tokAMPM},
	{"pm", `([apAP][mM])`, tokAMPM},
	{"15", `(\d{1,2})`, tokHour24},
	{"06", `(\d{2})`, tokYear2},
	{"05", `(\d{1,2})`, tokSecond},
	{"04", `(\d{1,2})`, tokMinute},
	{"03", `(\d{1,2})`, tokHour12},
	{"02", `(\d{1,2})`, tokDay},
	{"01", `(\d{1,2})`, tokMonth},
	{"_2", `\s?(\d{1,2})`, tokDay},
	{"5", `(\d{1,2})`, tokSecond},
	{"4", `(\d{1,2})`, tokMinute},
	{"3", `(\d{1,2})`, tokHour12},
	{"2", `(\d{1,2})`, tokDay},
	{"1", `(\d{1,2})`, tokMonth},
}

var monthsByName = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// layoutMatcher is a compiled layout: a regex over the data string plus the
// component kind captured by each group.
type layoutMatcher struct {
	re    *regexp.Regexp
	kinds []tokenKind
}

// compileLayout converts a Go-style reference layout into a regex by
// substituting each layout token with a capture group. Literal runs are
// quoted; whitespace matches flexibly.
func compileLayout(layout string) *layoutMatcher {
	var pattern strings.Builder
	var kinds []tokenKind

	i := 0
outer:
	for i < len(layout) {
		for _, lt := range layoutTokens {
			if strings.HasPrefix(layout[i:], lt.token) {
				pattern.WriteString(lt.pattern)
				kinds = append(kinds, lt.kind)
				i += len(lt.token)
				continue outer
			}
		}
		c := layout[i]
		if c == ' ' || c == '\t' {
			pattern.WriteString(`\s+`)
		} else {
			pattern.WriteString(regexp.QuoteMeta(string(c)))
		}
		i++
	}

	re, err := regexp.Compile(pattern.String())
	if err != nil {
		return nil
	}
	return &layoutMatcher{re: re, kinds: kinds}
}

// parseDateValue parses data against a Go-style layout. The match is
// tolerant: the date may sit inside surrounding text. Returns false when
// nothing in the data satisfies the layout.
func parseDateValue(data, layout string) (time.Time, bool) {
	data = strings.TrimSpace(data)
	if data == "" {
		return time.Time{}, false
	}

	switch strings.ToLower(layout) {
	case "unix":
		secs, err := strconv.ParseInt(strings.TrimSpace(data), 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(secs, 0).UTC(), true
	case "unixms":
		ms, err := strconv.ParseInt(strings.TrimSpace(data), 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(ms).UTC(), true
	}

	m := compileLayout(layout)
	if m == nil {
		return time.Time{}, false
	}
	matches := m.re.FindStringSubmatch(data)
	if matches == nil {
		return time.Time{}, false
	}

	now := time.Now().UTC()
	year := now.Year()
	month := time.January
	day := 1
	hour, minute, sec := 0, 0, 0
	loc := time.UTC
	pm := false
	sawAMPM := false
	hour12 := -1

	for gi, kind := range m.kinds {
		capture := matches[gi+1]
		if capture == "" {
			continue
		}
		switch kind {
		case tokYear4:
			year, _ = strconv.Atoi(capture)
		case tokYear2:
			y, _ := strconv.Atoi(capture)
			if y < 70 {
				year = 2000 + y
			} else {
				year = 1900 + y
			}
		case tokMonth:
			mo, _ := strconv.Atoi(capture)
			if mo >= 1 && mo <= 12 {
				month = time.Month(mo)
			}
		case tokMonthName:
			key := strings.ToLower(capture)
			if len(key) > 3 {
				key = key[:3]
			}
			if mo, ok := monthsByName[key]; ok {
				month = mo
			}
		case tokDay:
			day, _ = strconv.Atoi(capture)
		case tokHour24:
			hour, _ = strconv.Atoi(capture)
		case tokHour12:
			hour12, _ = strconv.Atoi(capture)
		case tokMinute:
			minute, _ = strconv.Atoi(capture)
		case tokSecond:
			sec, _ = strconv.Atoi(capture)
		case tokAMPM:
			sawAMPM = true
			pm = strings.EqualFold(capture, "pm")
		case tokTZOffset:
			if capture != "Z" {
				if off, ok := parseTZOffset(capture); ok {
					loc = time.FixedZone("", off)
				}
			}
		case tokTZName, tokFraction, tokSkip:
			// Zone abbreviations are ambiguous; treated as UTC.
		}
	}

	if hour12 >= 0 {
		hour = hour12 % 12
		if sawAMPM && pm {
			hour += 12
		}
	}

	if day < 1 || day > 31 || hour > 23 || minute > 59 || sec > 60 {
		return time.Time{}, false
	}

	return time.Date(year, month, day, hour, minute, sec, 0, loc).UTC(), true
}

func parseTZOffset(s string) (int, bool) {
	sign := 1
	if strings.HasPrefix(s, "-") {
		sign = -1
	}
	s = strings.TrimLeft(s, "+-")
	s = strings.ReplaceAll(s, ":", "")
	if len(s) != 4 {
		return 0, false
	}
	h, err1 := strconv.Atoi(s[:2])
	m, err2 := strconv.Atoi(s[2:])
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return sign * (h*3600 + m*60), true
}

// Date parsing filters

func filterDateParse(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	if t, ok := parseDateValue(value, args[0]); ok {
		return t.Format(rfc1123GMT), nil
	}
	return value, nil
}

var relTimeRe = regexp.MustCompile(`(\d+)\s*(sec(?:ond)?|min(?:ute)?|hour|hr|day|week|wk|month|year|yr)s?\s*ago`)

func filterTimeAgo(value string, args []string) (string, error) {
	t, ok := parseRelativeTime(value, time.Now().UTC())
	if !ok {
		return value, nil
	}
	return t.Format(rfc1123GMT), nil
}

// parseRelativeTime handles English relative phrases. Months and years are
// approximated at 30 and 365 days.
func parseRelativeTime(value string, now time.Time) (time.Time, bool) {
	v := strings.ToLower(strings.TrimSpace(value))

	switch v {
	case "now", "just now", "moments ago":
		return now, true
	case "today":
		return now, true
	case "yesterday":
		return now.AddDate(0, 0, -1), true
	case "an hour ago", "1 hour ago":
		return now.Add(-time.Hour), true
	case "a minute ago", "1 minute ago":
		return now.Add(-time.Minute), true
	}

	matches := relTimeRe.FindStringSubmatch(v)
	if matches == nil {
		return time.Time{}, false
	}
	num, _ := strconv.Atoi(matches[1])
	n := time.Duration(num)

	switch {
	case strings.HasPrefix(matches[2], "sec"):
		return now.Add(-n * time.Second), true
	case strings.HasPrefix(matches[2], "min"):
		return now.Add(-n * time.Minute), true
	case strings.HasPrefix(matches[2], "hour"), matches[2] == "hr":
		return now.Add(-n * time.Hour), true
	case matches[2] == "day":
		return now.Add(-n * 24 * time.Hour), true
	case strings.HasPrefix(matches[2], "week"), matches[2] == "wk":
		return now.Add(-n * 7 * 24 * time.Hour), true
	case strings.HasPrefix(matches[2], "month"):
		return now.Add(-n * 30 * 24 * time.Hour), true
	case strings.HasPrefix(matches[2], "year"), matches[2] == "yr":
		return now.Add(-n * 365 * 24 * time.Hour), true
	}
	return time.Time{}, false
}

// fuzzyLayouts are tried in order when no explicit layout is configured.
var fuzzyLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
	"01/02/2006",
	"Jan 2 2006 15:04:05",
	"Jan 2 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Mon, 02 Jan 2006 15:04:05 MST",
	"15:04:05",
	"15:04",
}

func filterFuzzyTime(value string, args []string) (string, error) {
	now := time.Now().UTC()
	if t, ok := parseRelativeTime(value, now); ok {
		return t.Format(rfc1123GMT), nil
	}
	for _, layout := range fuzzyLayouts {
		if t, ok := parseDateValue(value, layout); ok {
			// Bare clock times are today's date
			if t.Year() == now.Year() && strings.HasPrefix(layout, "15:04") {
				t = time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
			}
			return t.Format(rfc1123GMT), nil
		}
	}
	return value, nil
}

// parseFlexibleDate turns a field value into a concrete time. It accepts
// the canonical filter output plus standard interchange formats, then
// falls back to relative and fuzzy parsing.
func parseFlexibleDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{rfc1123GMT, time.RFC1123, time.RFC1123Z, time.RFC3339, time.RFC822} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	if t, ok := parseRelativeTime(value, time.Now().UTC()); ok {
		return t, true
	}
	for _, layout := range fuzzyLayouts {
		if t, ok := parseDateValue(value, layout); ok {
			return t, true
		}
	}
	// Bare epoch seconds
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil && secs > 1_000_000_000 && secs < 10_000_000_000 {
		return time.Unix(secs, 0).UTC(), true
	}
	return time.Time{}, false
}
