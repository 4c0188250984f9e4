package vcal

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCalendar = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//Example Corp//Scheduler//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"DTSTAMP:20060102T150405Z\r\n" +
	"UID:event-1@example.com\r\n" +
	"DTSTART:20060109T100000Z\r\n" +
	"DTEND:20060109T110000Z\r\n" +
	"SUMMARY:Planning\\, part one\r\n" +
	"CATEGORIES:WORK,PLANNING\r\n" +
	"BEGIN:VALARM\r\n" +
	"ACTION:DISPLAY\r\n" +
	"TRIGGER:-PT10M\r\n" +
	"END:VALARM\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseCalendar(t *testing.T) {
	cal, err := ParseCalendar(strings.NewReader(sampleCalendar))
	require.NoError(t, err)
	assert.Equal(t, "VCALENDAR", cal.Name)
	require.Len(t, cal.Components, 1)

	event := cal.Components[0]
	assert.Equal(t, "VEVENT", event.Name)
	require.Len(t, event.Components, 1)
	assert.Equal(t, "VALARM", event.Components[0].Name)
	assert.Equal(t, "event-1@example.com", event.GetProperty("UID").Text())
}

func TestParseCalendarErrors(t *testing.T) {
	cases := map[string]string{
		"unclosed":       "BEGIN:VCALENDAR\r\nVERSION:2.0\r\n",
		"mismatched end": "BEGIN:VCALENDAR\r\nEND:VEVENT\r\n",
		"orphan end":     "END:VCALENDAR\r\n",
		"empty":          "",
		"property first": "VERSION:2.0\r\nBEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCalendar(strings.NewReader(input))
			assert.Error(t, err)
		})
	}
}

func TestTransformToNative(t *testing.T) {
	cal, err := ParseCalendar(strings.NewReader(sampleCalendar))
	require.NoError(t, err)
	require.NoError(t, cal.TransformToNative(nil))

	event := cal.Components[0]
	assert.True(t, event.IsNative)
	assert.Equal(t, KindRecurring, event.Kind)

	dtstart := event.GetProperty("DTSTART")
	assert.Equal(t, time.Date(2006, 1, 9, 10, 0, 0, 0, time.UTC), dtstart.Value)

	summary := event.GetProperty("SUMMARY")
	assert.Equal(t, "Planning, part one", summary.Text())
	assert.False(t, summary.Encoded)

	categories := event.GetProperty("CATEGORIES")
	assert.Equal(t, []string{"WORK", "PLANNING"}, categories.Value)

	trigger := event.Components[0].GetProperty("TRIGGER")
	assert.Equal(t, -10*time.Minute, trigger.Value)
}

func TestSerializeRoundTrip(t *testing.T) {
	cal, err := ParseCalendar(strings.NewReader(sampleCalendar))
	require.NoError(t, err)
	require.NoError(t, cal.TransformToNative(nil))

	out := cal.Serialize(WithNewLineWindows)
	assert.Contains(t, out, "SUMMARY:Planning\\, part one\r\n")
	assert.Contains(t, out, "DTSTART:20060109T100000Z\r\n")
	assert.Contains(t, out, "TRIGGER:-PT10M\r\n")

	// serialization must not consume the native state
	assert.True(t, cal.Components[0].GetProperty("DTSTART").IsNative)

	reparsed, err := ParseCalendar(strings.NewReader(out))
	require.NoError(t, err)
	require.NoError(t, reparsed.TransformToNative(nil))
	assert.Equal(t, "Planning, part one", reparsed.Components[0].GetProperty("SUMMARY").Text())
}

func TestSortFirstOrdering(t *testing.T) {
	input := "BEGIN:VCALENDAR\r\n" +
		"PRODID:-//Example//EN\r\n" +
		"VERSION:2.0\r\n" +
		"END:VCALENDAR\r\n"
	cal, err := ParseCalendar(strings.NewReader(input))
	require.NoError(t, err)
	require.NoError(t, cal.TransformToNative(nil))

	out := cal.Serialize(WithNewLineUnix)
	versionAt := strings.Index(out, "VERSION:")
	prodidAt := strings.Index(out, "PRODID:")
	require.NotEqual(t, -1, versionAt)
	require.NotEqual(t, -1, prodidAt)
	assert.Less(t, versionAt, prodidAt, "VERSION must serialize before PRODID:\n%s", out)
}

func TestGenerateImplicitParameters(t *testing.T) {
	cal := NewCalendar()
	event := cal.AddComponent(NewComponent("VEVENT"))
	event.SetProperty("SUMMARY", "No UID yet")

	require.NoError(t, cal.GenerateImplicitParameters(nil))

	assert.Equal(t, ProdID, cal.GetProperty("PRODID").Text())
	assert.Equal(t, "2.0", cal.GetProperty("VERSION").Text())
	uid := event.GetProperty("UID")
	require.NotNil(t, uid)
	assert.Contains(t, uid.Text(), "@")

	// a second run must not replace the generated UID
	first := uid.Text()
	require.NoError(t, cal.GenerateImplicitParameters(nil))
	assert.Equal(t, first, event.GetProperty("UID").Text())
}

func TestValarmImplicitDefaults(t *testing.T) {
	alarm := NewComponent("VALARM")
	require.NoError(t, alarm.GenerateImplicitParameters(nil))
	assert.Equal(t, "AUDIO", alarm.GetProperty("ACTION").Text())
	trigger := alarm.GetProperty("TRIGGER")
	require.NotNil(t, trigger)
	assert.Equal(t, time.Duration(0), trigger.Value)

	out := alarm.Serialize(WithNewLineUnix)
	assert.Contains(t, out, "TRIGGER:P0S\n")
}

func TestValidateCardinality(t *testing.T) {
	event := NewComponent("VEVENT")
	event.SetProperty("DTSTAMP", "20060102T150405Z")
	event.SetProperty("UID", "u1")
	event.AddProperty(NewProperty("SUMMARY", "one"))
	event.AddProperty(NewProperty("SUMMARY", "two"))

	ok, err := event.Validate(nil, false)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = event.Validate(nil, true)
	require.ErrorIs(t, err, ErrValidate)
	assert.Contains(t, err.Error(), "SUMMARY")
}

func TestValidateMissingRequired(t *testing.T) {
	event := NewComponent("VEVENT")
	ok, err := event.Validate(nil, false)
	require.NoError(t, err)
	assert.False(t, ok, "VEVENT without UID and DTSTAMP is invalid")
}

func TestValidateExclusiveChildren(t *testing.T) {
	event := NewComponent("VEVENT")
	event.SetProperty("DTSTAMP", "20060102T150405Z")
	event.SetProperty("UID", "u1")
	event.SetProperty("DTEND", "20060102T160000Z")
	event.SetProperty("DURATION", "PT1H")

	ok, err := event.Validate(nil, false)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = event.Validate(nil, true)
	require.ErrorIs(t, err, ErrValidate)
	assert.Contains(t, err.Error(), "DTEND")
	assert.Contains(t, err.Error(), "DURATION")

	todo := NewComponent("VTODO")
	todo.SetProperty("DTSTAMP", "20060102T150405Z")
	todo.SetProperty("UID", "u2")
	todo.SetProperty("DUE", "20060102T160000Z")
	todo.SetProperty("DURATION", "PT1H")
	_, err = todo.Validate(nil, true)
	require.ErrorIs(t, err, ErrValidate)
}

func TestRegistryOverwrite(t *testing.T) {
	reg := NewRegistry()
	a := &Behavior{Name: "A"}
	b := &Behavior{Name: "B"}
	reg.Register("X-CUSTOM", a)
	reg.Register("x-custom", b)
	assert.Same(t, b, reg.Lookup("X-CUSTOM", false))
	assert.Nil(t, reg.Lookup("X-CUSTOM", true), "component namespace is separate")
}

func TestSynthesizeTimezones(t *testing.T) {
	loc := time.FixedZone("Test/SynthZone", 3600)
	RegisterTzid("Test/SynthZone", LocationSource(loc))

	cal := NewCalendar()
	event := cal.AddComponent(NewComponent("VEVENT"))
	event.SetProperty("UID", "tz-test@example.com")
	event.SetProperty("DTSTAMP", "20060102T150405Z")
	dtstart := event.AddProperty(NewProperty("DTSTART", ""))
	dtstart.Value = time.Date(2006, 1, 2, 9, 0, 0, 0, loc)
	dtstart.IsNative = true

	require.NoError(t, cal.GenerateImplicitParameters(nil))

	tzs := cal.GetComponents("VTIMEZONE")
	require.Len(t, tzs, 1)
	assert.Equal(t, "Test/SynthZone", tzs[0].GetProperty("TZID").Text())
	require.Len(t, tzs[0].GetComponents("STANDARD"), 1)
	std := tzs[0].GetComponents("STANDARD")[0]
	assert.Equal(t, "+0100", std.GetProperty("TZOFFSETTO").Text())

	// running again must not duplicate the VTIMEZONE
	require.NoError(t, cal.GenerateImplicitParameters(nil))
	assert.Len(t, cal.GetComponents("VTIMEZONE"), 1)
}
