package vcal

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// floatingAllowedParam marks date-time properties whose parsed value had
// neither a Z suffix nor a TZID.  The marker survives round-trips so that
// consumers can tell a deliberate floating time from a lost zone.
const floatingAllowedParam = "X-VCAL-FLOATINGTIME-ALLOWED"

// tzidForLocation maps a location back to the TZID parameter value it
// should serialize with.  UTC and floating times carry no TZID.
func tzidForLocation(loc *time.Location) string {
	if loc == nil || loc == time.UTC || loc == Floating {
		return ""
	}
	name := loc.String()
	if name == "" || name == "Local" || name == "UTC" {
		return ""
	}
	return name
}

// locationForTzid resolves a TZID against the registry.  Unregistered
// identifiers fall back to the system zone database; identifiers unknown
// there too resolve to a floating interpretation.  wall is the wall-clock
// instant being parsed, used to pin an offset for sources that cannot
// produce a full location.
func locationForTzid(tzid string, wall time.Time) *time.Location {
	if src := LookupTzid(tzid); src != nil {
		if lp, ok := src.(LocationProvider); ok {
			return lp.Location()
		}
		return time.FixedZone(tzid, int(src.Offset(wall)/time.Second))
	}
	if loc, err := time.LoadLocation(tzid); err == nil {
		RegisterTzid(tzid, LocationSource(loc))
		return loc
	}
	return Floating
}

// parseDateTimeText interprets a property's DATE-TIME text honoring its
// TZID parameter.
func parseDateTimeText(p *Property) (time.Time, error) {
	s := p.Text()
	var loc *time.Location
	if tzid := p.ParamOne("TZID", ""); tzid != "" {
		wall, err := ParseDateTime(s, nil)
		if err != nil {
			return time.Time{}, err
		}
		loc = locationForTzid(tzid, wall)
	}
	return ParseDateTime(s, loc)
}

func dateTimeToNative(p *Property) error {
	t, err := parseDateTimeText(p)
	if err != nil {
		return err
	}
	p.Value = t
	p.IsNative = true
	p.DelParam("TZID")
	if t.Location() == Floating {
		p.SetParam(floatingAllowedParam, "TRUE")
	}
	return nil
}

// dateTimeFromNative turns a native time.Time back into wire text.  When
// preserveTZ is set the zone identity survives as a TZID parameter;
// otherwise the value is normalized to UTC.
func dateTimeFromNative(p *Property, preserveTZ bool) error {
	t, ok := p.Value.(time.Time)
	if !ok {
		return fmt.Errorf("%w: %s holds %T, want time.Time", ErrUnsupportedValue, p.Name, p.Value)
	}
	if preserveTZ {
		if tzid := tzidForLocation(t.Location()); tzid != "" {
			RegisterTzid(tzid, LocationSource(t.Location()))
			p.SetParam("TZID", tzid)
		}
	}
	p.Value = FormatDateTime(t, preserveTZ)
	p.IsNative = false
	p.Encoded = true
	return nil
}

func dateOrDateTimeToNative(p *Property) error {
	if strings.EqualFold(p.ParamOne("VALUE", "DATE-TIME"), "DATE") {
		d, err := ParseDate(p.Text())
		if err != nil {
			return err
		}
		p.Value = d
		p.IsNative = true
		return nil
	}
	return dateTimeToNative(p)
}

func dateOrDateTimeFromNative(p *Property) error {
	switch v := p.Value.(type) {
	case Date:
		p.SetParam("VALUE", "DATE")
		p.Value = FormatDate(v)
		p.IsNative = false
		p.Encoded = true
		return nil
	case time.Time:
		return dateTimeFromNative(p, true)
	default:
		return fmt.Errorf("%w: %s holds %T, want Date or time.Time", ErrUnsupportedValue, p.Name, p.Value)
	}
}

func multiDateToNative(p *Property) error {
	texts := strings.Split(p.Text(), ",")
	switch kind := strings.ToUpper(p.ParamOne("VALUE", "DATE-TIME")); kind {
	case "DATE":
		dates := make([]Date, 0, len(texts))
		for _, s := range texts {
			d, err := ParseDate(s)
			if err != nil {
				return err
			}
			dates = append(dates, d)
		}
		p.Value = dates
	case "DATE-TIME":
		loc, err := multiDateLocation(p, texts[0])
		if err != nil {
			return err
		}
		times := make([]time.Time, 0, len(texts))
		for _, s := range texts {
			t, err := ParseDateTime(s, loc)
			if err != nil {
				return err
			}
			times = append(times, t)
		}
		p.Value = times
	case "PERIOD":
		loc, err := multiDateLocation(p, strings.SplitN(texts[0], "/", 2)[0])
		if err != nil {
			return err
		}
		periods := make([]Period, 0, len(texts))
		for _, s := range texts {
			per, err := ParsePeriod(s, loc)
			if err != nil {
				return err
			}
			periods = append(periods, per)
		}
		p.Value = periods
	default:
		return fmt.Errorf("%w: VALUE=%s on %s", ErrUnsupportedValue, kind, p.Name)
	}
	p.IsNative = true
	p.DelParam("TZID")
	return nil
}

// multiDateLocation resolves the shared zone of a date list.  Date lists
// without a TZID are read as UTC.
func multiDateLocation(p *Property, firstText string) (*time.Location, error) {
	tzid := p.ParamOne("TZID", "")
	if tzid == "" {
		return time.UTC, nil
	}
	wall, err := ParseDateTime(firstText, nil)
	if err != nil {
		return nil, err
	}
	return locationForTzid(tzid, wall), nil
}

func multiDateFromNative(p *Property) error {
	var (
		texts []string
		tzid  string
	)
	switch v := p.Value.(type) {
	case []Date:
		p.SetParam("VALUE", "DATE")
		for _, d := range v {
			texts = append(texts, FormatDate(d))
		}
	case []time.Time:
		for _, t := range v {
			texts = append(texts, FormatDateTime(t, true))
			if tzid == "" {
				tzid = tzidForLocation(t.Location())
			}
		}
	case []Period:
		p.SetParam("VALUE", "PERIOD")
		for _, per := range v {
			texts = append(texts, FormatPeriod(per))
			if tzid == "" {
				tzid = tzidForLocation(per.Start.Location())
			}
		}
	default:
		return fmt.Errorf("%w: %s holds %T, want []Date, []time.Time or []Period", ErrUnsupportedValue, p.Name, p.Value)
	}
	if tzid != "" {
		p.SetParam("TZID", tzid)
	}
	p.Value = strings.Join(texts, ",")
	p.IsNative = false
	p.Encoded = true
	return nil
}

func durationToNative(p *Property) error {
	if p.Text() == "" {
		return nil
	}
	durations, err := ParseDurations(p.Text())
	if err != nil {
		return err
	}
	if len(durations) != 1 {
		return fmt.Errorf("%w: DURATION must have a single duration string", ErrParse)
	}
	p.Value = durations[0]
	p.IsNative = true
	return nil
}

func durationFromNative(p *Property) error {
	d, ok := p.Value.(time.Duration)
	if !ok {
		return fmt.Errorf("%w: %s holds %T, want time.Duration", ErrUnsupportedValue, p.Name, p.Value)
	}
	p.Value = FormatDuration(d)
	p.IsNative = false
	p.Encoded = true
	return nil
}

func triggerToNative(p *Property) error {
	kind := strings.ToUpper(p.ParamOne("VALUE", "DURATION"))
	if p.Text() == "" {
		// an empty TRIGGER fires at the start of the event
		p.DelParam("VALUE")
		p.Value = time.Duration(0)
		p.IsNative = true
		return nil
	}
	var err error
	switch kind {
	case "DURATION":
		err = durationToNative(p)
	case "DATE-TIME":
		err = dateTimeToNative(p)
	default:
		return fmt.Errorf("%w: VALUE=%s on TRIGGER", ErrUnsupportedValue, kind)
	}
	if err != nil {
		return err
	}
	p.DelParam("VALUE")
	return nil
}

func triggerFromNative(p *Property) error {
	switch p.Value.(type) {
	case time.Duration:
		return durationFromNative(p)
	case time.Time:
		p.SetParam("VALUE", "DATE-TIME")
		return dateTimeFromNative(p, true)
	default:
		return fmt.Errorf("%w: TRIGGER holds %T, want time.Duration or time.Time", ErrUnsupportedValue, p.Value)
	}
}

func isBase64(p *Property) bool {
	return strings.EqualFold(p.ParamOne("ENCODING", ""), "BASE64")
}

func textDecode(p *Property) error {
	if !p.Encoded {
		return nil
	}
	if isBase64(p) {
		raw, err := base64.StdEncoding.DecodeString(p.Text())
		if err != nil {
			return fmt.Errorf("%w: bad base64 in %s: %v", ErrParse, p.Name, err)
		}
		p.Value = string(raw)
	} else {
		values, err := ParseTextValues(p.Text(), false)
		if err != nil {
			return err
		}
		p.Value = values[0]
	}
	p.Encoded = false
	return nil
}

func textEncode(p *Property) error {
	if p.Encoded {
		return nil
	}
	if isBase64(p) {
		p.Value = base64.StdEncoding.EncodeToString([]byte(p.Text()))
	} else {
		p.Value = EscapeText(p.Text())
	}
	p.Encoded = true
	return nil
}

func multiTextDecode(p *Property) error {
	if !p.Encoded {
		return nil
	}
	values, err := ParseTextValues(p.Text(), false)
	if err != nil {
		return err
	}
	p.Value = values
	p.Encoded = false
	return nil
}

func multiTextEncode(p *Property) error {
	if p.Encoded {
		return nil
	}
	values, ok := p.Value.([]string)
	if !ok {
		values = []string{p.Text()}
	}
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = EscapeText(v)
	}
	p.Value = strings.Join(escaped, ",")
	p.Encoded = true
	return nil
}

var (
	// DateTimeBehavior parses DATE-TIME text into time.Time, resolving
	// TZID parameters against the registry.
	DateTimeBehavior = &Behavior{
		Name:        "DATE-TIME",
		Description: "RFC 5545 DATE-TIME value",
		HasNative:   true,
		ToNative:    dateTimeToNative,
		FromNative: func(p *Property) error {
			return dateTimeFromNative(p, true)
		},
	}

	// UTCDateTimeBehavior is for properties that must serialize in UTC
	// regardless of the zone their native value carries.
	UTCDateTimeBehavior = &Behavior{
		Name:        "DATE-TIME",
		Description: "DATE-TIME value always rendered in UTC",
		HasNative:   true,
		ToNative:    dateTimeToNative,
		FromNative: func(p *Property) error {
			return dateTimeFromNative(p, false)
		},
	}

	// DateOrDateTimeBehavior handles properties whose VALUE parameter
	// selects between DATE and DATE-TIME (DTSTART, DTEND, DUE, ...).
	DateOrDateTimeBehavior = &Behavior{
		Name:        "DATE-OR-DATE-TIME",
		Description: "DATE or DATE-TIME value selected by the VALUE parameter",
		HasNative:   true,
		ToNative:    dateOrDateTimeToNative,
		FromNative:  dateOrDateTimeFromNative,
	}

	// MultiDateBehavior handles comma-separated date lists (RDATE,
	// EXDATE) in all three value variants.
	MultiDateBehavior = &Behavior{
		Name:        "MULTI-DATE",
		Description: "comma separated DATE, DATE-TIME or PERIOD list",
		HasNative:   true,
		ToNative:    multiDateToNative,
		FromNative:  multiDateFromNative,
	}

	// DurationBehavior parses a single RFC 5545 duration.
	DurationBehavior = &Behavior{
		Name:        "DURATION",
		Description: "RFC 5545 DURATION value",
		HasNative:   true,
		ToNative:    durationToNative,
		FromNative:  durationFromNative,
	}

	// TriggerBehavior handles VALARM triggers, which are durations by
	// default but may be absolute date-times.
	TriggerBehavior = &Behavior{
		Name:        "TRIGGER",
		Description: "DURATION or DATE-TIME alarm trigger",
		HasNative:   true,
		ToNative:    triggerToNative,
		FromNative:  triggerFromNative,
	}

	// TextBehavior unescapes single TEXT values, honoring base64
	// encoded payloads.
	TextBehavior = &Behavior{
		Name:        "TEXT",
		Description: "RFC 5545 TEXT value",
		Decode:      textDecode,
		Encode:      textEncode,
	}

	// MultiTextBehavior splits comma separated TEXT lists.
	MultiTextBehavior = &Behavior{
		Name:        "MULTI-TEXT",
		Description: "comma separated TEXT list",
		Decode:      multiTextDecode,
		Encode:      multiTextEncode,
	}
)
