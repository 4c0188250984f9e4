package vcal

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Wire formats defined by RFC 5545 section 3.3.4 (DATE) and 3.3.5
// (DATE-TIME).  DATE-TIME values ending in Z are in UTC, all others are
// interpreted against a TZID parameter or treated as floating.
const (
	timestampFormatUTC   = "20060102T150405Z"
	timestampFormatLocal = "20060102T150405"
	dateFormatLocal      = "20060102"
)

// Floating marks date-times that carry no UTC offset and no zone identity
// ("floating" times per RFC 5545 section 3.3.5).  Comparing a value's
// location against Floating is the only way to distinguish a floating time
// from a UTC one.
var Floating = time.FixedZone("FLOATING", 0)

// Date is a calendar date without a time component, the native form of a
// VALUE=DATE property.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf truncates t to its calendar date.
func DateOf(t time.Time) Date {
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Time expands the date to midnight in loc.  A nil loc yields a floating
// midnight.
func (d Date) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = Floating
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) String() string {
	return FormatDate(d)
}

// Period is a span of time anchored at a start instant.  Both the explicit
// end form and the duration form of RFC 5545 section 3.3.9 are stored as a
// start plus an elapsed duration.
type Period struct {
	Start    time.Time
	Duration time.Duration
}

// End returns the end instant of the period.
func (p Period) End() time.Time {
	return p.Start.Add(p.Duration)
}

// ParseDate parses a fixed-width YYYYMMDD date.
func ParseDate(s string) (Date, error) {
	if len(s) != 8 {
		return Date{}, fmt.Errorf("%w: %q is not a valid DATE", ErrParse, s)
	}
	year, err1 := strconv.Atoi(s[0:4])
	month, err2 := strconv.Atoi(s[4:6])
	day, err3 := strconv.Atoi(s[6:8])
	if err1 != nil || err2 != nil || err3 != nil {
		return Date{}, fmt.Errorf("%w: %q is not a valid DATE", ErrParse, s)
	}
	return Date{Year: year, Month: time.Month(month), Day: day}, nil
}

// ParseDateTime parses a fixed-width YYYYMMDD'T'HHMMSS['Z'] date-time.  A
// trailing Z forces UTC.  Otherwise the value is interpreted in loc, or as
// a floating time when loc is nil.
func ParseDateTime(s string, loc *time.Location) (time.Time, error) {
	if len(s) < 15 || s[8] != 'T' {
		return time.Time{}, fmt.Errorf("%w: %q is not a valid DATE-TIME", ErrParse, s)
	}
	year, err1 := strconv.Atoi(s[0:4])
	month, err2 := strconv.Atoi(s[4:6])
	day, err3 := strconv.Atoi(s[6:8])
	hour, err4 := strconv.Atoi(s[9:11])
	minute, err5 := strconv.Atoi(s[11:13])
	second, err6 := strconv.Atoi(s[13:15])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil || err6 != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not a valid DATE-TIME", ErrParse, s)
	}
	if len(s) > 15 && s[15] == 'Z' {
		loc = time.UTC
	} else if loc == nil {
		loc = Floating
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, loc), nil
}

// isDurationText reports whether s looks like an RFC 5545 duration, i.e. a
// P appears within the first two characters.
func isDurationText(s string) bool {
	i := strings.IndexByte(strings.ToUpper(s), 'P')
	return i != -1 && i < 2
}

// ParsePeriod parses date-time "/" (date-time | duration).  Either form is
// stored as a start instant plus an elapsed duration.
func ParsePeriod(s string, loc *time.Location) (Period, error) {
	left, right, found := strings.Cut(s, "/")
	if !found {
		return Period{}, fmt.Errorf("%w: %q is not a valid PERIOD", ErrParse, s)
	}
	start, err := ParseDateTime(left, loc)
	if err != nil {
		return Period{}, err
	}
	if isDurationText(right) {
		deltas, err := ParseDurations(right)
		if err != nil {
			return Period{}, err
		}
		return Period{Start: start, Duration: deltas[0]}, nil
	}
	end, err := ParseDateTime(right, loc)
	if err != nil {
		return Period{}, err
	}
	return Period{Start: start, Duration: end.Sub(start)}, nil
}

// escapableChars are the characters that may legally follow a backslash in
// a TEXT value (RFC 5545 section 3.3.11).
const escapableChars = `\;,Nn`

// States of the escaped-text-list parser.  The transitions are part of the
// wire contract and intentionally not expressed as a regular expression:
// the splitting and error-tolerance behavior below must be preserved.
type textState int

const (
	textReadNormal textState = iota
	textReadEscaped
)

// ParseTextValues splits a comma-separated TEXT value into its unescaped
// parts.  In non-strict mode an invalid escape passes the escaped
// character through literally; in strict mode it is a parse error.  Empty
// input yields a single empty value.
func ParseTextValues(s string, strict bool) ([]string, error) {
	var (
		state   = textReadNormal
		current strings.Builder
		results []string
	)
	for _, char := range s {
		switch state {
		case textReadNormal:
			switch char {
			case '\\':
				state = textReadEscaped
			case ',':
				results = append(results, current.String())
				current.Reset()
			default:
				current.WriteRune(char)
			}
		case textReadEscaped:
			state = textReadNormal
			switch {
			case char == 'n' || char == 'N':
				current.WriteByte('\n')
			case strings.ContainsRune(escapableChars, char):
				current.WriteRune(char)
			case strict:
				return nil, fmt.Errorf("%w: invalid escape \\%c in %q", ErrParse, char, s)
			default:
				// error tolerated, pass the character through
				current.WriteRune(char)
			}
		}
	}
	if state == textReadEscaped && strict {
		return nil, fmt.Errorf("%w: dangling backslash in %q", ErrParse, s)
	}
	if current.Len() != 0 || len(results) == 0 {
		results = append(results, current.String())
	}
	return results, nil
}

// States of the duration parser (RFC 5545 section 3.3.6 grammar).
type durationState int

const (
	durationStart durationState = iota
	durationReadField
)

// durationFields accumulates one duration while the parser runs.
type durationFields struct {
	sign    int
	weeks   int
	days    int
	hours   int
	minutes int
	seconds int
	set     bool
}

func (f *durationFields) reset() {
	*f = durationFields{}
}

func (f *durationFields) duration() time.Duration {
	d := time.Duration(f.weeks)*7*24*time.Hour +
		time.Duration(f.days)*24*time.Hour +
		time.Duration(f.hours)*time.Hour +
		time.Duration(f.minutes)*time.Minute +
		time.Duration(f.seconds)*time.Second
	if f.sign < 0 {
		return -d
	}
	return d
}

// ParseDurations parses one or more comma-separated RFC 5545 durations.
// The unit letters are case-insensitive and T is a no-op separator.
// Malformed input is always a parse error.
func ParseDurations(s string) ([]time.Duration, error) {
	var (
		state     = durationStart
		current   strings.Builder
		fields    durationFields
		durations []time.Duration
	)
	assign := func(dst *int) error {
		n, err := strconv.Atoi(current.String())
		if err != nil {
			return fmt.Errorf("%w: bad number %q in duration %q", ErrParse, current.String(), s)
		}
		*dst = n
		fields.set = true
		current.Reset()
		return nil
	}
	for _, char := range s {
		switch state {
		case durationStart:
			switch {
			case char == '+':
				fields.sign = 1
				fields.set = true
			case char == '-':
				fields.sign = -1
				fields.set = true
			case char == 'P' || char == 'p':
				state = durationReadField
			case char >= '0' && char <= '9':
				state = durationReadField
				current.WriteRune(char)
			default:
				return nil, fmt.Errorf("%w: unexpected character %q reading in duration: %s", ErrParse, char, s)
			}
		case durationReadField:
			var err error
			switch {
			case char >= '0' && char <= '9':
				current.WriteRune(char)
			case char == 'T' || char == 't':
				// date/time separator
			case char == 'W' || char == 'w':
				err = assign(&fields.weeks)
			case char == 'D' || char == 'd':
				err = assign(&fields.days)
			case char == 'H' || char == 'h':
				err = assign(&fields.hours)
			case char == 'M' || char == 'm':
				err = assign(&fields.minutes)
			case char == 'S' || char == 's':
				err = assign(&fields.seconds)
			case char == ',':
				durations = append(durations, fields.duration())
				fields.reset()
				current.Reset()
				state = durationStart
			default:
				return nil, fmt.Errorf("%w: unexpected character %q reading in duration: %s", ErrParse, char, s)
			}
			if err != nil {
				return nil, err
			}
		}
	}
	if current.Len() != 0 || !fields.set {
		return nil, fmt.Errorf("%w: got end-of-line while reading in duration: %s", ErrParse, s)
	}
	durations = append(durations, fields.duration())
	return durations, nil
}

// FormatDate renders a date as fixed-width YYYYMMDD.
func FormatDate(d Date) string {
	return fmt.Sprintf("%04d%02d%02d", d.Year, int(d.Month), d.Day)
}

// FormatDateTime renders t as YYYYMMDD'T'HHMMSS, with a trailing Z when the
// result is in UTC.  Unless preserveTZ is set, any identified zone is first
// normalized to UTC; floating times are never converted.
func FormatDateTime(t time.Time, preserveTZ bool) string {
	if !preserveTZ && t.Location() != Floating {
		t = t.UTC()
	}
	suffix := ""
	if t.Location() == time.UTC {
		suffix = "Z"
	}
	return fmt.Sprintf("%04d%02d%02dT%02d%02d%02d%s",
		t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second(), suffix)
}

// FormatDuration renders d as an RFC 5545 duration.  Zero durations come
// out as "P0S" rather than the grammar's "PT0S"; existing consumers of
// this engine depend on the short form.
func FormatDuration(d time.Duration) string {
	var out strings.Builder
	if d < 0 {
		out.WriteByte('-')
		d = -d
	}
	out.WriteByte('P')
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	seconds := int(d % time.Minute / time.Second)
	if days != 0 {
		fmt.Fprintf(&out, "%dD", days)
	}
	switch {
	case hours != 0 || minutes != 0 || seconds != 0:
		out.WriteByte('T')
	case days == 0:
		out.WriteString("0S")
	}
	if hours != 0 {
		fmt.Fprintf(&out, "%dH", hours)
	}
	if minutes != 0 {
		fmt.Fprintf(&out, "%dM", minutes)
	}
	if seconds != 0 {
		fmt.Fprintf(&out, "%dS", seconds)
	}
	return out.String()
}

// FormatPeriod renders a period in the duration-anchored form.
func FormatPeriod(p Period) string {
	return FormatDateTime(p.Start, true) + "/" + FormatDuration(p.Duration)
}

// FormatUTCOffset renders a zone offset as ±HHMM.  Minutes are always 00;
// no supported source produces sub-hour offsets.
func FormatUTCOffset(d time.Duration) string {
	sign := "+"
	if d < 0 {
		sign = "-"
		d = -d
	}
	return fmt.Sprintf("%s%02d00", sign, int(d/time.Hour))
}

// ParseUTCOffset parses a ±HHMM zone offset.
func ParseUTCOffset(s string) (time.Duration, error) {
	if len(s) != 5 || (s[0] != '+' && s[0] != '-') {
		return 0, fmt.Errorf("%w: %q is not a valid UTC offset", ErrParse, s)
	}
	hours, err1 := strconv.Atoi(s[1:3])
	minutes, err2 := strconv.Atoi(s[3:5])
	if err1 != nil || err2 != nil {
		return 0, fmt.Errorf("%w: %q is not a valid UTC offset", ErrParse, s)
	}
	d := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
	if s[0] == '-' {
		d = -d
	}
	return d, nil
}

var textEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\n", `\n`,
	`;`, `\;`,
	`,`, `\,`,
)

// EscapeText applies backslash escaping to a TEXT value.
func EscapeText(s string) string {
	return textEscaper.Replace(s)
}

var textUnescaper = strings.NewReplacer(
	`\\`, `\`,
	`\n`, "\n",
	`\N`, "\n",
	`\;`, `;`,
	`\,`, `,`,
)

// UnescapeText removes backslash escaping without splitting on commas.
// Parameter values and single-valued helpers use this; property TEXT
// values go through ParseTextValues instead.
func UnescapeText(s string) string {
	return textUnescaper.Replace(s)
}
