package vcal

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/teambition/rrule-go"
)

// TimeSource answers offset questions about wall-clock instants.  The
// location of the argument is ignored; only its displayed components
// matter.  Instants that could fall in either of two regimes are answered
// for the later one.
type TimeSource interface {
	// Offset is the total UTC offset in effect at the wall instant.
	Offset(t time.Time) time.Duration
	// DST is the daylight-saving component of the offset, zero during
	// standard time.
	DST(t time.Time) time.Duration
	// Name is the abbreviated zone name at the wall instant (CET,
	// CEST, EST, ...).
	Name(t time.Time) string
}

// TzidProvider is implemented by time sources that know their canonical
// zone identifier.
type TzidProvider interface {
	Tzid() string
}

// LocationProvider is implemented by time sources backed by a full
// *time.Location, letting date-time parsing skip the fixed-offset
// approximation.
type LocationProvider interface {
	Location() *time.Location
}

type locationSource struct {
	loc *time.Location
}

// LocationSource adapts a *time.Location into a TimeSource.
func LocationSource(loc *time.Location) TimeSource {
	return &locationSource{loc: loc}
}

func (s *locationSource) wall(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, s.loc)
}

func (s *locationSource) Offset(t time.Time) time.Duration {
	_, off := s.wall(t).Zone()
	return time.Duration(off) * time.Second
}

// DST compares the offset at t against the smaller of the January and
// July offsets of the same year, which is the standard offset in both
// hemispheres.
func (s *locationSource) DST(t time.Time) time.Duration {
	_, jan := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, s.loc).Zone()
	_, jul := time.Date(t.Year(), time.July, 1, 0, 0, 0, 0, s.loc).Zone()
	std := jan
	if jul < jan {
		std = jul
	}
	return s.Offset(t) - time.Duration(std)*time.Second
}

func (s *locationSource) Name(t time.Time) string {
	name, _ := s.wall(t).Zone()
	return name
}

func (s *locationSource) Location() *time.Location {
	return s.loc
}

func (s *locationSource) Tzid() string {
	name := s.loc.String()
	if name == "" || name == "Local" {
		return ""
	}
	return name
}

var tzidRegistry = struct {
	sync.RWMutex
	m map[string]TimeSource
}{m: map[string]TimeSource{}}

// RegisterTzid binds a zone identifier to a time source.  Later
// registrations replace earlier ones.
func RegisterTzid(tzid string, src TimeSource) {
	tzidRegistry.Lock()
	defer tzidRegistry.Unlock()
	tzidRegistry.m[tzid] = src
}

// LookupTzid returns the time source registered for a zone identifier, or
// nil.
func LookupTzid(tzid string) TimeSource {
	tzidRegistry.RLock()
	defer tzidRegistry.RUnlock()
	return tzidRegistry.m[tzid]
}

func init() {
	RegisterTzid("UTC", LocationSource(time.UTC))
}

// PickTzid determines the zone identifier for a time source: an explicit
// identifier when the source provides one, otherwise the abbreviated name
// of any standard-time month of the year 2000.
func PickTzid(src TimeSource) (string, error) {
	if src == nil {
		return "", nil
	}
	if tp, ok := src.(TzidProvider); ok {
		if id := tp.Tzid(); id != "" && id != "UTC" {
			return id, nil
		}
	}
	if lp, ok := src.(LocationProvider); ok && lp.Location() == time.UTC {
		return "", nil
	}
	for month := time.January; month <= time.December; month++ {
		dt := time.Date(2000, month, 1, 0, 0, 0, 0, time.UTC)
		if src.DST(dt) == 0 {
			return src.Name(dt), nil
		}
	}
	return "", fmt.Errorf("%w: no standard time observed during 2000", ErrInference)
}

// TimezoneRule is one derived STANDARD or DAYLIGHT observance.  Plus
// counts the weekday's occurrence from the start of the month, Minus from
// the end; either may be zero when the probed years ruled it out.
// YearRound rules have no weekday or hour and describe an offset in
// effect for whole years.  End is the last year the rule held, zero for
// rules still in effect at the end of the probed window.
type TimezoneRule struct {
	Start      time.Time
	End        int
	Month      time.Month
	Weekday    int
	Hour       int
	Plus       int
	Minus      int
	Name       string
	OffsetTo   time.Duration
	OffsetFrom time.Duration
	YearRound  bool
	Daylight   bool
}

// firstTransition scans candidate instants and returns the last one
// failing the test once a passing instant follows it, or the last failing
// instant when none passes afterwards.  ok is false when every candidate
// passed.
func firstTransition(dates []time.Time, test func(time.Time) bool) (time.Time, bool) {
	var (
		success time.Time
		found   bool
	)
	for _, dt := range dates {
		if !test(dt) {
			success, found = dt, true
		} else if found {
			return success, true
		}
	}
	return success, found
}

func monthStarts(year int) []time.Time {
	out := make([]time.Time, 0, 12)
	for m := time.January; m <= time.December; m++ {
		out = append(out, time.Date(year, m, 1, 0, 0, 0, 0, Floating))
	}
	return out
}

func dayStarts(year int, month time.Month) []time.Time {
	var out []time.Time
	for d := 1; d <= 31; d++ {
		t := time.Date(year, month, d, 0, 0, 0, 0, Floating)
		if t.Month() != month {
			break
		}
		out = append(out, t)
	}
	return out
}

func hourStarts(year int, month time.Month, day int) []time.Time {
	out := make([]time.Time, 0, 24)
	for h := 0; h < 24; h++ {
		out = append(out, time.Date(year, month, day, h, 0, 0, 0, Floating))
	}
	return out
}

// fromLastWeek counts how many weeks from the end of the month dt is,
// starting from 1.
func fromLastWeek(dt time.Time) int {
	n := 1
	for current := dt.AddDate(0, 0, 7); current.Month() == dt.Month(); current = current.AddDate(0, 0, 7) {
		n++
	}
	return n
}

// DeriveTimezoneRules infers the zone identifier and observance rules of
// a time source by probing each year of the window, narrowing month, then
// day, then hour.
//
// The derivation assumes transitions occur on the hour, at most twice a
// year, at least a month apart, never in December, and that daylight time
// moves the offset exactly one hour later.
func DeriveTimezoneRules(src TimeSource, startYear, endYear int) (string, []TimezoneRule, error) {
	if src == nil {
		return "", nil, fmt.Errorf("%w: nil time source", ErrInference)
	}
	tzid, err := PickTzid(src)
	if err != nil {
		return "", nil, err
	}
	tests := map[bool]func(time.Time) bool{
		true:  func(dt time.Time) bool { return src.DST(dt) != 0 },
		false: func(dt time.Time) bool { return src.DST(dt) == 0 },
	}

	completed := map[bool][]*TimezoneRule{}
	working := map[bool]*TimezoneRule{}

	for year := startYear; year <= endYear; year++ {
		for _, daylight := range []bool{true, false} {
			oldrule := working[daylight]
			test := tests[daylight]

			monthDt, found := firstTransition(monthStarts(year), test)
			switch {
			case !found:
				// regime holds for the whole year
				yearStart := time.Date(year, time.January, 1, 0, 0, 0, 0, Floating)
				rule := &TimezoneRule{
					Start:      yearStart,
					Month:      time.January,
					Name:       src.Name(yearStart),
					OffsetTo:   src.Offset(yearStart),
					OffsetFrom: src.Offset(yearStart),
					YearRound:  true,
					Daylight:   daylight,
				}
				if oldrule == nil {
					working[daylight] = rule
				} else if oldrule.OffsetTo != rule.OffsetTo {
					oldrule.End = year - 1
					completed[daylight] = append(completed[daylight], oldrule)
					working[daylight] = rule
				}
				continue
			case monthDt.Month() == time.December:
				// regime is not observed this year
				if oldrule != nil {
					oldrule.End = year - 1
					completed[daylight] = append(completed[daylight], oldrule)
					working[daylight] = nil
				}
				continue
			}
			month := monthDt.Month()

			dayDt, _ := firstTransition(dayStarts(year, month), test)
			uncorrected, _ := firstTransition(hourStarts(year, month, dayDt.Day()), test)

			// firstTransition yields the hour before the change took,
			// and the change itself consumed an hour of wall time when
			// leaving daylight
			corrected := uncorrected.Add(time.Hour)
			if !daylight {
				corrected = corrected.Add(time.Hour)
			}

			rule := &TimezoneRule{
				Start:      corrected,
				Month:      corrected.Month(),
				Weekday:    weekdayIndex(corrected),
				Hour:       corrected.Hour(),
				Name:       src.Name(corrected),
				Plus:       (corrected.Day()-1)/7 + 1,
				Minus:      fromLastWeek(corrected),
				OffsetTo:   src.Offset(corrected),
				OffsetFrom: src.Offset(uncorrected),
				Daylight:   daylight,
			}

			if oldrule == nil {
				working[daylight] = rule
				continue
			}
			plusMatch := rule.Plus == oldrule.Plus
			minusMatch := rule.Minus == oldrule.Minus
			same := (plusMatch || minusMatch) &&
				!oldrule.YearRound &&
				rule.Month == oldrule.Month &&
				rule.Weekday == oldrule.Weekday &&
				rule.Hour == oldrule.Hour &&
				rule.OffsetTo == oldrule.OffsetTo
			if same {
				// narrow to whichever ordinal still holds
				if !plusMatch {
					oldrule.Plus = 0
				}
				if !minusMatch {
					oldrule.Minus = 0
				}
			} else {
				oldrule.End = year - 1
				completed[daylight] = append(completed[daylight], oldrule)
				working[daylight] = rule
			}
		}
	}

	var rules []TimezoneRule
	for _, daylight := range []bool{true, false} {
		if working[daylight] != nil {
			completed[daylight] = append(completed[daylight], working[daylight])
		}
		for _, r := range completed[daylight] {
			rules = append(rules, *r)
		}
	}
	return tzid, rules, nil
}

var weekdayVars = []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

// transitionOccurrence finds the wall instant of a rule's transition in a
// given year.
func transitionOccurrence(r TimezoneRule, year int) (time.Time, error) {
	if r.YearRound {
		return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC), nil
	}
	by := weekdayVars[r.Weekday]
	if num := r.ordinal(); num != 0 {
		by = by.Nth(num)
	}
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.YEARLY,
		Bymonth:   []int{int(r.Month)},
		Byweekday: []rrule.Weekday{by},
		Dtstart:   time.Date(year, time.January, 1, r.Hour, 0, 0, 0, time.UTC),
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInference, err)
	}
	t, ok := rule.Iterator()()
	if !ok {
		return time.Time{}, fmt.Errorf("%w: no transition occurrence in %d", ErrInference, year)
	}
	return t, nil
}

// ordinal collapses Plus and Minus into the single signed ordinal used in
// BYDAY parts, preferring the from-start form.
func (r TimezoneRule) ordinal() int {
	if r.Plus != 0 {
		return r.Plus
	}
	if r.Minus != 0 {
		return -r.Minus
	}
	return 0
}

// ruleText renders the rule's RRULE property value.  Closed rules carry an
// UNTIL clamped to their final transition, expressed in UTC.
func (r TimezoneRule) ruleText() (string, error) {
	s := "FREQ=YEARLY"
	if num := r.ordinal(); num != 0 {
		s += ";BYDAY=" + strconv.Itoa(num) + weekdayNames[r.Weekday]
	}
	s += ";BYMONTH=" + strconv.Itoa(int(r.Month))
	if r.End != 0 {
		occ, err := transitionOccurrence(r, r.End)
		if err != nil {
			return "", err
		}
		s += ";UNTIL=" + FormatDateTime(occ.Add(-r.OffsetFrom), false)
	}
	return s, nil
}

// NewTimezoneComponent derives a VTIMEZONE describing src over the years
// 2000 through 2030.  An empty tzid is inferred with PickTzid.  The
// resulting identifier is registered so later parsing resolves it.
func NewTimezoneComponent(src TimeSource, tzid string) (*Component, error) {
	inferred, rules, err := DeriveTimezoneRules(src, 2000, 2030)
	if err != nil {
		return nil, err
	}
	if tzid == "" {
		tzid = inferred
	}
	if tzid == "" {
		return nil, fmt.Errorf("%w: time source has no identifier", ErrInference)
	}
	c := NewComponent("VTIMEZONE")
	c.IsNative = true
	c.Kind = KindTimezone
	c.tzsource = src
	c.behavior = DefaultRegistry.Lookup("VTIMEZONE", true)
	c.SetProperty("TZID", tzid)
	for _, r := range rules {
		name := "STANDARD"
		if r.Daylight {
			name = "DAYLIGHT"
		}
		sub := NewComponent(name)
		dt := sub.AddProperty(NewProperty("DTSTART", ""))
		dt.Value = r.Start
		dt.IsNative = true
		if r.Name != "" {
			sub.AddProperty(NewProperty("TZNAME", r.Name))
		}
		sub.AddProperty(NewProperty("TZOFFSETTO", FormatUTCOffset(r.OffsetTo)))
		sub.AddProperty(NewProperty("TZOFFSETFROM", FormatUTCOffset(r.OffsetFrom)))
		text, err := r.ruleText()
		if err != nil {
			return nil, err
		}
		sub.AddProperty(NewProperty("RRULE", text))
		c.AddComponent(sub)
	}
	RegisterTzid(tzid, src)
	return c, nil
}

// observance is one parsed STANDARD or DAYLIGHT child of a VTIMEZONE.
type observance struct {
	start      time.Time
	offsetTo   time.Duration
	offsetFrom time.Duration
	name       string
	daylight   bool
	month      time.Month
	day        int
	weekday    int
	nth        int
	hasRule    bool
	untilYear  int
}

// transition computes the observance's wall transition instant in year,
// or false when the observance is not active that year.
func (o *observance) transition(year int) (time.Time, bool) {
	if year < o.start.Year() {
		return time.Time{}, false
	}
	if o.untilYear != 0 && year > o.untilYear {
		return time.Time{}, false
	}
	day := o.day
	if o.hasRule && o.nth != 0 {
		day = nthWeekdayOfMonth(year, o.month, o.weekday, o.nth)
		if day == 0 {
			return time.Time{}, false
		}
	}
	return time.Date(year, o.month, day,
		o.start.Hour(), o.start.Minute(), o.start.Second(), 0, Floating), true
}

// nthWeekdayOfMonth returns the day of month of the nth occurrence of a
// weekday (0 = Monday), counting from the end when n is negative.  Zero
// means the month has no such occurrence.
func nthWeekdayOfMonth(year int, month time.Month, weekday, n int) int {
	if n > 0 {
		first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
		day := 1 + (weekday-weekdayIndex(first)+7)%7 + (n-1)*7
		if time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Month() != month {
			return 0
		}
		return day
	}
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
	day := last.Day() - (weekdayIndex(last)-weekday+7)%7 + (n+1)*7
	if day < 1 {
		return 0
	}
	return day
}

// ruleSource answers offset questions from parsed VTIMEZONE observances.
type ruleSource struct {
	tzid        string
	observances []*observance
}

// RuleSourceFromComponent builds a TimeSource from a VTIMEZONE component's
// STANDARD and DAYLIGHT children.  The children may still hold raw wire
// text; their DTSTART, offsets and optional RRULE are parsed here.
func RuleSourceFromComponent(c *Component) (TimeSource, error) {
	src := &ruleSource{}
	if p := c.GetProperty("TZID"); p != nil {
		src.tzid = p.Text()
	}
	for _, sub := range c.Components {
		var daylight bool
		switch {
		case sub.Name == "DAYLIGHT":
			daylight = true
		case sub.Name == "STANDARD":
		default:
			continue
		}
		o, err := parseObservance(sub, daylight)
		if err != nil {
			return nil, fmt.Errorf("%s in VTIMEZONE %s: %w", sub.Name, src.tzid, err)
		}
		src.observances = append(src.observances, o)
	}
	if len(src.observances) == 0 {
		return nil, fmt.Errorf("%w: VTIMEZONE %s has no observances", ErrValidate, src.tzid)
	}
	return src, nil
}

func parseObservance(c *Component, daylight bool) (*observance, error) {
	o := &observance{daylight: daylight}

	dtp := c.GetProperty("DTSTART")
	if dtp == nil {
		return nil, fmt.Errorf("%w: DTSTART", ErrPropertyNotFound)
	}
	if t, ok := dtp.Value.(time.Time); ok {
		o.start = t
	} else {
		t, err := ParseDateTime(dtp.Text(), nil)
		if err != nil {
			return nil, err
		}
		o.start = t
	}
	o.month = o.start.Month()
	o.day = o.start.Day()

	for _, name := range []string{"TZOFFSETTO", "TZOFFSETFROM"} {
		p := c.GetProperty(name)
		if p == nil {
			return nil, fmt.Errorf("%w: %s", ErrPropertyNotFound, name)
		}
		off, err := ParseUTCOffset(p.Text())
		if err != nil {
			return nil, err
		}
		if name == "TZOFFSETTO" {
			o.offsetTo = off
		} else {
			o.offsetFrom = off
		}
	}
	if p := c.GetProperty("TZNAME"); p != nil {
		o.name = p.Text()
	}
	if p := c.GetProperty("RRULE"); p != nil {
		opt, err := rrule.StrToROption(p.Text())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		o.hasRule = true
		if len(opt.Bymonth) > 0 {
			o.month = time.Month(opt.Bymonth[0])
		}
		if len(opt.Byweekday) > 0 {
			o.weekday = opt.Byweekday[0].Day()
			o.nth = opt.Byweekday[0].N()
		}
		if !opt.Until.IsZero() {
			o.untilYear = opt.Until.Year()
		}
	}
	return o, nil
}

// governing finds the observance in effect at the wall instant t: the one
// whose most recent transition is the latest not after t.  Instants on a
// transition belong to the regime being entered.
func (s *ruleSource) governing(t time.Time) *observance {
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, Floating)
	type entry struct {
		at time.Time
		o  *observance
	}
	var entries []entry
	for _, year := range []int{t.Year() - 1, t.Year()} {
		for _, o := range s.observances {
			if at, ok := o.transition(year); ok {
				entries = append(entries, entry{at, o})
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
	var gov *observance
	for _, e := range entries {
		if e.at.After(wall) {
			break
		}
		gov = e.o
	}
	if gov == nil {
		if len(entries) > 0 {
			return entries[0].o
		}
		return s.observances[0]
	}
	return gov
}

func (s *ruleSource) Offset(t time.Time) time.Duration {
	return s.governing(t).offsetTo
}

func (s *ruleSource) DST(t time.Time) time.Duration {
	o := s.governing(t)
	if !o.daylight {
		return 0
	}
	return o.offsetTo - o.offsetFrom
}

func (s *ruleSource) Name(t time.Time) string {
	return s.governing(t).name
}

func (s *ruleSource) Tzid() string {
	return s.tzid
}
