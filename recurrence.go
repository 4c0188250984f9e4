package vcal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

var (
	frequencyNames = []string{"YEARLY", "MONTHLY", "WEEKLY", "DAILY", "HOURLY", "MINUTELY", "SECONDLY"}
	weekdayNames   = []string{"MO", "TU", "WE", "TH", "FR", "SA", "SU"}
)

// weekdayIndex maps time.Weekday onto the Monday-based numbering used by
// RRULE weekday lists.
func weekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// recurrenceProperties is the order recurrence properties are consumed in.
// Exclusion rules go first so the merged set is built the same way
// regardless of property order in the component.
var recurrenceProperties = []string{"EXRULE", "RRULE", "RDATE", "EXDATE"}

// RecurrenceSet assembles the component's recurrence properties into a
// RuleSet anchored at its DTSTART.  Components without a DTSTART have no
// recurrence set and return nil.
//
// RRULE expansion never yields an occurrence before the anchor, so a rule
// that does not land on DTSTART silently drops it.  With addRDate set the
// anchor is added back as an explicit date and, when the rule is
// count-bounded, the count is decremented to compensate.
func (c *Component) RecurrenceSet(addRDate bool) (*RuleSet, error) {
	dtstart, _, ok := c.anchor()
	if !ok {
		return nil, nil
	}
	var set *RuleSet
	for _, name := range recurrenceProperties {
		for _, p := range c.GetProperties(name) {
			if set == nil {
				set = &RuleSet{}
			}
			var err error
			switch name {
			case "RRULE", "EXRULE":
				err = addRule(set, name, p.Text(), dtstart, addRDate)
			case "RDATE", "EXDATE":
				err = addDates(set, name, p, dtstart)
			}
			if err != nil {
				return nil, fmt.Errorf("%s in %s: %w", name, c.Name, err)
			}
		}
	}
	return set, nil
}

// anchor returns the native DTSTART as a time.Time.  Date anchors expand
// to midnight; isDate reports which form the property held.
func (c *Component) anchor() (dtstart time.Time, isDate bool, ok bool) {
	p := c.GetProperty("DTSTART")
	if p == nil || !p.IsNative {
		return time.Time{}, false, false
	}
	switch v := p.Value.(type) {
	case time.Time:
		return v, false, true
	case Date:
		return v.Time(nil), true, true
	default:
		return time.Time{}, false, false
	}
}

func addRule(set *RuleSet, name, text string, dtstart time.Time, addRDate bool) error {
	opt, err := rrule.StrToROption(text)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	opt.Dtstart = dtstart
	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	if name == "EXRULE" {
		set.ExRule(rule)
		return nil
	}
	if addRDate {
		first, ok := rule.Iterator()()
		if !ok || !first.Equal(dtstart) {
			set.RDate(dtstart)
			if opt.Count > 0 {
				opt.Count--
				if opt.Count == 0 {
					// the RDATE consumed the rule's only occurrence
					return nil
				}
				rule, err = rrule.NewRRule(*opt)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrParse, err)
				}
			}
		}
	}
	set.RRule(rule)
	return nil
}

func addDates(set *RuleSet, name string, p *Property, dtstart time.Time) error {
	if !p.IsNative {
		if err := transformPropertyToNative(p, DefaultRegistry); err != nil {
			return err
		}
	}
	add := set.RDate
	if name == "EXDATE" {
		add = set.ExDate
	}
	switch v := p.Value.(type) {
	case []time.Time:
		for _, t := range v {
			add(t)
		}
	case []Date:
		for _, d := range v {
			add(d.Time(dtstart.Location()))
		}
	case []Period:
		// period RDATEs carry busy spans, not extra occurrences
	default:
		return fmt.Errorf("%w: %s holds %T", ErrUnsupportedValue, name, p.Value)
	}
	return nil
}

// SetRecurrenceSet replaces the component's recurrence properties with
// ones describing set.  The DTSTART anchor decides whether dates are
// written as DATE or DATE-TIME values and is itself never written as an
// RDATE; expansion always includes it.
func (c *Component) SetRecurrenceSet(set *RuleSet) error {
	dtstart, isDate, ok := c.anchor()
	if !ok {
		return fmt.Errorf("%w: DTSTART", ErrPropertyNotFound)
	}
	for _, name := range recurrenceProperties {
		c.RemoveProperty(name)
	}
	if set == nil {
		return nil
	}
	for _, rule := range set.RRules {
		c.AddProperty(NewProperty("RRULE", serializeRule(rule, dtstart, isDate)))
	}
	for _, rule := range set.ExRules {
		c.AddProperty(NewProperty("EXRULE", serializeRule(rule, dtstart, isDate)))
	}
	rdates := make([]time.Time, 0, len(set.RDates))
	for _, t := range set.RDates {
		if !t.Equal(dtstart) {
			rdates = append(rdates, t)
		}
	}
	if len(rdates) > 0 {
		c.AddProperty(nativeDateList("RDATE", rdates, isDate))
	}
	if len(set.ExDates) > 0 {
		c.AddProperty(nativeDateList("EXDATE", set.ExDates, isDate))
	}
	return nil
}

func nativeDateList(name string, times []time.Time, isDate bool) *Property {
	p := NewProperty(name, "")
	if isDate {
		dates := make([]Date, len(times))
		for i, t := range times {
			dates[i] = DateOf(t)
		}
		p.Value = dates
	} else {
		p.Value = append([]time.Time(nil), times...)
	}
	p.IsNative = true
	return p
}

// serializeRule renders a rule back to RRULE text.  Parts that expansion
// derives from the anchor itself are suppressed so a parse/serialize
// round-trip does not accrete redundant BYDAY, BYMONTHDAY or BYMONTH
// parts.
func serializeRule(rule *rrule.RRule, dtstart time.Time, isDate bool) string {
	opts := rule.OrigOptions
	if anchor := rule.GetDTStart(); !anchor.IsZero() {
		dtstart = anchor
	}

	parts := []string{"FREQ=" + frequencyNames[int(opts.Freq)]}
	add := func(name string, values []string) {
		if len(values) > 0 {
			parts = append(parts, name+"="+strings.Join(values, ","))
		}
	}
	if opts.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(opts.Interval))
	}
	if opts.Wkst.Day() != 0 {
		parts = append(parts, "WKST="+weekdayNames[opts.Wkst.Day()])
	}
	add("BYSETPOS", intStrings(opts.Bysetpos))
	if opts.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(opts.Count))
	} else if !opts.Until.IsZero() {
		until := FormatDateTime(opts.Until, false)
		if isDate {
			until = FormatDate(DateOf(opts.Until))
		}
		parts = append(parts, "UNTIL="+until)
	}
	add("BYDAY", byDayStrings(opts, dtstart))
	add("BYMONTHDAY", byMonthDayStrings(opts, dtstart))
	add("BYMONTH", byMonthStrings(opts, dtstart))
	add("BYYEARDAY", intStrings(opts.Byyearday))
	add("BYWEEKNO", intStrings(opts.Byweekno))
	return strings.Join(parts, ";")
}

func intStrings(values []int) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strconv.Itoa(v)
	}
	return out
}

// byDayStrings renders the weekday list.  A weekly rule on exactly the
// anchor's weekday omits BYDAY; expansion fills that in from the anchor.
// Ordinal weekdays (1SU, -1SU) are always written out.
func byDayStrings(opts rrule.ROption, dtstart time.Time) []string {
	var plain, nth []rrule.Weekday
	for _, wd := range opts.Byweekday {
		if wd.N() == 0 {
			plain = append(plain, wd)
		} else {
			nth = append(nth, wd)
		}
	}
	var out []string
	redundant := opts.Freq == rrule.WEEKLY && len(plain) == 1 && len(nth) == 0 &&
		plain[0].Day() == weekdayIndex(dtstart)
	if !redundant {
		for _, wd := range plain {
			out = append(out, weekdayNames[wd.Day()])
		}
	}
	for _, wd := range nth {
		out = append(out, strconv.Itoa(wd.N())+weekdayNames[wd.Day()])
	}
	return out
}

// byMonthDayStrings suppresses a single positive month day equal to the
// anchor's day for yearly and monthly rules; expansion derives it.
func byMonthDayStrings(opts rrule.ROption, dtstart time.Time) []string {
	var pos, neg []int
	for _, d := range opts.Bymonthday {
		if d > 0 {
			pos = append(pos, d)
		} else {
			neg = append(neg, d)
		}
	}
	if opts.Freq <= rrule.MONTHLY && len(pos) == 1 && pos[0] == dtstart.Day() {
		pos = nil
	}
	return intStrings(append(pos, neg...))
}

// byMonthStrings suppresses a single month equal to the anchor's month for
// yearly rules, unless a weekday list makes the month load-bearing.
func byMonthStrings(opts rrule.ROption, dtstart time.Time) []string {
	if len(opts.Byweekday) == 0 &&
		opts.Freq == rrule.YEARLY && len(opts.Bymonth) == 1 &&
		opts.Bymonth[0] == int(dtstart.Month()) {
		return nil
	}
	return intStrings(opts.Bymonth)
}
