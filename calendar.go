package vcal

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProdID identifies this library in generated calendars.
const ProdID = "-//ICALKIT//NONSGML vcal//EN"

var (
	one       = Cardinality{Min: 1, Max: 1}
	atMostOne = Cardinality{Min: 0, Max: 1}
	anyNumber = Cardinality{Min: 0, Max: -1}
)

// NewCalendar returns an empty native VCALENDAR.
func NewCalendar() *Component {
	c := NewComponent("VCALENDAR")
	c.IsNative = true
	c.behavior = DefaultRegistry.Lookup("VCALENDAR", true)
	return c
}

// TimeSource returns the time source attached to a native VTIMEZONE, or
// nil for other components.
func (c *Component) TimeSource() TimeSource {
	return c.tzsource
}

func vcalendarGenerateImplicit(c *Component) error {
	if !c.HasProperty("PRODID") {
		c.SetProperty("PRODID", ProdID)
	}
	if !c.HasProperty("VERSION") {
		c.SetProperty("VERSION", "2.0")
	}
	return synthesizeTimezones(c)
}

// synthesizeTimezones appends a VTIMEZONE child for every TZID referenced
// in the tree that no existing VTIMEZONE already covers.
func synthesizeTimezones(c *Component) error {
	have := map[string]bool{}
	for _, tz := range c.GetComponents("VTIMEZONE") {
		if p := tz.GetProperty("TZID"); p != nil {
			have[p.Text()] = true
		}
	}
	used := map[string]bool{}
	collectTzids(c, used)
	for tzid := range used {
		if tzid == "" || tzid == "UTC" || have[tzid] {
			continue
		}
		src := LookupTzid(tzid)
		if src == nil {
			loc, err := time.LoadLocation(tzid)
			if err != nil {
				return fmt.Errorf("%w: no time source for TZID %s", ErrInference, tzid)
			}
			src = LocationSource(loc)
			RegisterTzid(tzid, src)
		}
		tz, err := NewTimezoneComponent(src, tzid)
		if err != nil {
			return err
		}
		c.AddComponent(tz)
		have[tzid] = true
	}
	return nil
}

// collectTzids walks the tree recording every zone identifier in use,
// from TZID parameters on raw properties and from the locations of native
// date-time values.  VTIMEZONE subtrees are skipped; their DTSTARTs
// describe the zone itself.
func collectTzids(c *Component, out map[string]bool) {
	if strings.EqualFold(c.Name, "VTIMEZONE") {
		return
	}
	for _, p := range c.Properties {
		if tzid := p.ParamOne("TZID", ""); tzid != "" {
			out[tzid] = true
		}
		switch v := p.Value.(type) {
		case time.Time:
			noteLocation(v.Location(), out)
		case []time.Time:
			for _, t := range v {
				noteLocation(t.Location(), out)
			}
		case []Period:
			for _, per := range v {
				noteLocation(per.Start.Location(), out)
			}
		}
	}
	for _, sub := range c.Components {
		collectTzids(sub, out)
	}
}

func noteLocation(loc *time.Location, out map[string]bool) {
	tzid := tzidForLocation(loc)
	if tzid == "" {
		return
	}
	if LookupTzid(tzid) == nil {
		RegisterTzid(tzid, LocationSource(loc))
	}
	out[tzid] = true
}

func vtimezoneToNative(c *Component) error {
	tzidProp := c.GetProperty("TZID")
	if tzidProp == nil {
		return fmt.Errorf("%w: VTIMEZONE without TZID", ErrValidate)
	}
	src, err := RuleSourceFromComponent(c)
	if err != nil {
		return err
	}
	RegisterTzid(tzidProp.Text(), src)
	c.Kind = KindTimezone
	c.tzsource = src
	return nil
}

func vtimezoneValidate(c *Component, strict bool) (bool, error) {
	if len(c.GetComponents("STANDARD"))+len(c.GetComponents("DAYLIGHT")) == 0 {
		if strict {
			return false, fmt.Errorf("%w: VTIMEZONE needs at least one STANDARD or DAYLIGHT subcomponent", ErrValidate)
		}
		return false, nil
	}
	return true, nil
}

func recurringToNative(c *Component) error {
	c.Kind = KindRecurring
	return nil
}

func recurringGenerateImplicit(c *Component) error {
	if !c.HasProperty("UID") {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "localhost"
		}
		uid := FormatDateTime(time.Now().UTC(), false) + "-" + uuid.NewString() + "@" + host
		c.SetProperty("UID", uid)
	}
	return nil
}

// exclusiveValidate rejects components carrying both of two mutually
// exclusive children, such as DTEND and DURATION on a VEVENT.
func exclusiveValidate(a, b string) func(*Component, bool) (bool, error) {
	return func(c *Component, strict bool) (bool, error) {
		if c.HasProperty(a) && c.HasProperty(b) {
			if strict {
				return false, fmt.Errorf("%w: %s and %s are mutually exclusive in %s", ErrValidate, a, b, c.Name)
			}
			return false, nil
		}
		return true, nil
	}
}

func valarmGenerateImplicit(c *Component) error {
	if !c.HasProperty("ACTION") {
		c.SetProperty("ACTION", "AUDIO")
	}
	if !c.HasProperty("TRIGGER") {
		p := c.AddProperty(NewProperty("TRIGGER", ""))
		p.Value = time.Duration(0)
		p.IsNative = true
	}
	return nil
}

var (
	// VCalendarBehavior is the root component behavior.
	VCalendarBehavior = &Behavior{
		Name:        "VCALENDAR",
		Description: "iCalendar object",
		IsComponent: true,
		KnownChildren: map[string]Cardinality{
			"CALSCALE":  atMostOne,
			"METHOD":    atMostOne,
			"VERSION":   atMostOne,
			"PRODID":    one,
			"VEVENT":    anyNumber,
			"VTODO":     anyNumber,
			"VJOURNAL":  anyNumber,
			"VFREEBUSY": anyNumber,
			"VTIMEZONE": anyNumber,
		},
		SortFirst:                  []string{"VERSION", "CALSCALE", "METHOD", "PRODID", "VTIMEZONE"},
		GenerateImplicitParameters: vcalendarGenerateImplicit,
	}

	// VTimezoneBehavior registers parsed VTIMEZONEs as usable time
	// sources.
	VTimezoneBehavior = &Behavior{
		Name:        "VTIMEZONE",
		Description: "timezone definition",
		IsComponent: true,
		HasNative:   true,
		KnownChildren: map[string]Cardinality{
			"TZID":          one,
			"LAST-MODIFIED": atMostOne,
			"TZURL":         atMostOne,
			"STANDARD":      anyNumber,
			"DAYLIGHT":      anyNumber,
		},
		ToNativeComponent: vtimezoneToNative,
		Validate:          vtimezoneValidate,
	}

	// TimezoneRuleBehavior covers the STANDARD and DAYLIGHT
	// subcomponents of a VTIMEZONE.
	TimezoneRuleBehavior = &Behavior{
		Name:        "STANDARD",
		Description: "timezone observance rule",
		IsComponent: true,
		KnownChildren: map[string]Cardinality{
			"DTSTART":      one,
			"TZOFFSETTO":   one,
			"TZOFFSETFROM": one,
			"COMMENT":      anyNumber,
			"RDATE":        anyNumber,
			"RRULE":        anyNumber,
			"TZNAME":       anyNumber,
		},
	}

	// VEventBehavior covers VEVENT components.
	VEventBehavior = &Behavior{
		Name:        "VEVENT",
		Description: "calendar event",
		IsComponent: true,
		HasNative:   true,
		KnownChildren: map[string]Cardinality{
			"DTSTAMP":        one,
			"UID":            one,
			"DTSTART":        atMostOne,
			"CLASS":          atMostOne,
			"CREATED":        atMostOne,
			"DESCRIPTION":    atMostOne,
			"GEO":            atMostOne,
			"LAST-MODIFIED":  atMostOne,
			"LOCATION":       atMostOne,
			"ORGANIZER":      atMostOne,
			"PRIORITY":       atMostOne,
			"SEQUENCE":       atMostOne,
			"STATUS":         atMostOne,
			"SUMMARY":        atMostOne,
			"TRANSP":         atMostOne,
			"URL":            atMostOne,
			"RECURRENCE-ID":  atMostOne,
			"DTEND":          atMostOne,
			"DURATION":       atMostOne,
			"ATTACH":         anyNumber,
			"ATTENDEE":       anyNumber,
			"CATEGORIES":     anyNumber,
			"COMMENT":        anyNumber,
			"CONTACT":        anyNumber,
			"EXDATE":         anyNumber,
			"RDATE":          anyNumber,
			"RELATED-TO":     anyNumber,
			"RESOURCES":      anyNumber,
			"RRULE":          anyNumber,
			"EXRULE":         anyNumber,
			"REQUEST-STATUS": anyNumber,
			"VALARM":         anyNumber,
		},
		ToNativeComponent:          recurringToNative,
		GenerateImplicitParameters: recurringGenerateImplicit,
		Validate:                   exclusiveValidate("DTEND", "DURATION"),
	}

	// VTodoBehavior covers VTODO components.
	VTodoBehavior = &Behavior{
		Name:        "VTODO",
		Description: "to-do item",
		IsComponent: true,
		HasNative:   true,
		KnownChildren: map[string]Cardinality{
			"DTSTAMP":          one,
			"UID":              one,
			"DTSTART":          atMostOne,
			"COMPLETED":        atMostOne,
			"CREATED":          atMostOne,
			"DESCRIPTION":      atMostOne,
			"LAST-MODIFIED":    atMostOne,
			"LOCATION":         atMostOne,
			"PERCENT-COMPLETE": atMostOne,
			"PRIORITY":         atMostOne,
			"RECURRENCE-ID":    atMostOne,
			"SEQUENCE":         atMostOne,
			"STATUS":           atMostOne,
			"SUMMARY":          atMostOne,
			"DUE":              atMostOne,
			"DURATION":         atMostOne,
			"CATEGORIES":       anyNumber,
			"COMMENT":          anyNumber,
			"EXDATE":           anyNumber,
			"RDATE":            anyNumber,
			"RRULE":            anyNumber,
			"EXRULE":           anyNumber,
			"VALARM":           anyNumber,
		},
		ToNativeComponent:          recurringToNative,
		GenerateImplicitParameters: recurringGenerateImplicit,
		Validate:                   exclusiveValidate("DUE", "DURATION"),
	}

	// VJournalBehavior covers VJOURNAL components.
	VJournalBehavior = &Behavior{
		Name:        "VJOURNAL",
		Description: "journal entry",
		IsComponent: true,
		HasNative:   true,
		KnownChildren: map[string]Cardinality{
			"DTSTAMP":       one,
			"UID":           one,
			"DTSTART":       atMostOne,
			"CLASS":         atMostOne,
			"CREATED":       atMostOne,
			"LAST-MODIFIED": atMostOne,
			"RECURRENCE-ID": atMostOne,
			"SEQUENCE":      atMostOne,
			"STATUS":        atMostOne,
			"SUMMARY":       atMostOne,
			"CATEGORIES":    anyNumber,
			"COMMENT":       anyNumber,
			"DESCRIPTION":   anyNumber,
			"EXDATE":        anyNumber,
			"RDATE":         anyNumber,
			"RRULE":         anyNumber,
			"EXRULE":        anyNumber,
		},
		ToNativeComponent:          recurringToNative,
		GenerateImplicitParameters: recurringGenerateImplicit,
	}

	// VFreeBusyBehavior covers VFREEBUSY components.
	VFreeBusyBehavior = &Behavior{
		Name:        "VFREEBUSY",
		Description: "free/busy time report",
		IsComponent: true,
		KnownChildren: map[string]Cardinality{
			"DTSTAMP":   one,
			"UID":       one,
			"CONTACT":   atMostOne,
			"DTSTART":   atMostOne,
			"DTEND":     atMostOne,
			"ORGANIZER": atMostOne,
			"URL":       atMostOne,
			"ATTENDEE":  anyNumber,
			"COMMENT":   anyNumber,
			"FREEBUSY":  anyNumber,
		},
	}

	// VAlarmBehavior covers VALARM components.
	VAlarmBehavior = &Behavior{
		Name:        "VALARM",
		Description: "alarm",
		IsComponent: true,
		KnownChildren: map[string]Cardinality{
			"ACTION":   one,
			"TRIGGER":  one,
			"DURATION": atMostOne,
			"REPEAT":   atMostOne,
		},
		GenerateImplicitParameters: valarmGenerateImplicit,
	}
)

func init() {
	reg := DefaultRegistry

	for _, name := range []string{"LAST-MODIFIED", "CREATED", "COMPLETED", "DTSTAMP"} {
		reg.Register(name, UTCDateTimeBehavior)
	}
	for _, name := range []string{"DTEND", "DTSTART", "DUE", "RECURRENCE-ID"} {
		reg.Register(name, DateOrDateTimeBehavior)
	}
	for _, name := range []string{"RDATE", "EXDATE"} {
		reg.Register(name, MultiDateBehavior)
	}
	for _, name := range []string{
		"CALSCALE", "METHOD", "PRODID", "CLASS", "COMMENT", "DESCRIPTION",
		"LOCATION", "STATUS", "SUMMARY", "TRANSP", "CONTACT", "RELATED-TO",
		"UID", "ACTION", "BUSYTYPE", "TZID", "TZNAME", "REQUEST-STATUS",
	} {
		reg.Register(name, TextBehavior)
	}
	for _, name := range []string{"CATEGORIES", "RESOURCES"} {
		reg.Register(name, MultiTextBehavior)
	}
	for _, name := range []string{"DURATION", "REFRESH-INTERVAL"} {
		reg.Register(name, DurationBehavior)
	}
	reg.Register("TRIGGER", TriggerBehavior)
	// RRULE and EXRULE stay raw text; the recurrence translator parses
	// them on demand.

	reg.Register("VCALENDAR", VCalendarBehavior)
	reg.Register("VTIMEZONE", VTimezoneBehavior)
	reg.Register("STANDARD", TimezoneRuleBehavior)
	reg.Register("DAYLIGHT", TimezoneRuleBehavior)
	reg.Register("VEVENT", VEventBehavior)
	reg.Register("VTODO", VTodoBehavior)
	reg.Register("VJOURNAL", VJournalBehavior)
	reg.Register("VFREEBUSY", VFreeBusyBehavior)
	reg.Register("VALARM", VAlarmBehavior)
}
