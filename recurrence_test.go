package vcal

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"
)

func recurringEvent(t *testing.T, dtstart any, lines ...string) *Component {
	t.Helper()
	c := NewComponent("VEVENT")
	p := c.AddProperty(NewProperty("DTSTART", ""))
	p.Value = dtstart
	p.IsNative = true
	for _, l := range lines {
		prop, err := ParseContentLine(ContentLine(l))
		require.NoError(t, err)
		c.AddProperty(prop)
	}
	return c
}

func TestRecurrenceSetExpansion(t *testing.T) {
	dtstart := time.Date(2005, 1, 19, 9, 0, 0, 0, Floating)
	event := recurringEvent(t, dtstart,
		"RRULE:FREQ=WEEKLY;COUNT=2;INTERVAL=2;BYDAY=TU,TH")

	set, err := event.RecurrenceSet(false)
	require.NoError(t, err)
	require.NotNil(t, set)

	want := []time.Time{
		time.Date(2005, 1, 20, 9, 0, 0, 0, Floating),
		time.Date(2005, 2, 1, 9, 0, 0, 0, Floating),
	}
	if diff := cmp.Diff(want, set.All()); diff != "" {
		t.Errorf("occurrences mismatch (-want +got):\n%s", diff)
	}
}

func TestRecurrenceSetAddRDate(t *testing.T) {
	dtstart := time.Date(2005, 1, 19, 9, 0, 0, 0, Floating)
	event := recurringEvent(t, dtstart,
		"RRULE:FREQ=WEEKLY;COUNT=2;INTERVAL=2;BYDAY=TU,TH")

	set, err := event.RecurrenceSet(true)
	require.NoError(t, err)

	// the anchor comes back as an explicit date and the count shrinks
	// so the total stays two
	want := []time.Time{
		time.Date(2005, 1, 19, 9, 0, 0, 0, Floating),
		time.Date(2005, 1, 20, 9, 0, 0, 0, Floating),
	}
	if diff := cmp.Diff(want, set.All()); diff != "" {
		t.Errorf("occurrences mismatch (-want +got):\n%s", diff)
	}
}

func TestRecurrenceSetAddRDateAnchorOnRule(t *testing.T) {
	// the anchor is a Wednesday and BYDAY covers it, so no compensation
	dtstart := time.Date(2005, 1, 19, 9, 0, 0, 0, Floating)
	event := recurringEvent(t, dtstart,
		"RRULE:FREQ=WEEKLY;COUNT=2;BYDAY=WE")

	set, err := event.RecurrenceSet(true)
	require.NoError(t, err)
	assert.Empty(t, set.RDates)

	want := []time.Time{
		dtstart,
		time.Date(2005, 1, 26, 9, 0, 0, 0, Floating),
	}
	assert.Equal(t, want, set.All())
}

func TestRecurrenceSetAddRDateCountOne(t *testing.T) {
	// the anchor replaces the rule's only counted occurrence, so the
	// rule itself contributes nothing further
	dtstart := time.Date(2005, 1, 19, 9, 0, 0, 0, Floating)
	event := recurringEvent(t, dtstart,
		"RRULE:FREQ=WEEKLY;COUNT=1;BYDAY=TU")

	set, err := event.RecurrenceSet(true)
	require.NoError(t, err)
	assert.Empty(t, set.RRules)
	assert.Equal(t, []time.Time{dtstart}, set.All())
}

func TestRecurrenceSetExclusions(t *testing.T) {
	dtstart := time.Date(2005, 1, 19, 9, 0, 0, 0, Floating)
	event := recurringEvent(t, dtstart,
		"RRULE:FREQ=DAILY;COUNT=3",
		"EXDATE:20050120T090000Z")

	set, err := event.RecurrenceSet(false)
	require.NoError(t, err)

	got := set.All()
	require.Len(t, got, 2)
	assert.Equal(t, 19, got[0].Day())
	assert.Equal(t, 21, got[1].Day())
}

func TestRecurrenceSetRDates(t *testing.T) {
	dtstart := time.Date(2005, 1, 19, 9, 0, 0, 0, Floating)
	event := recurringEvent(t, dtstart,
		"RDATE:20050125T090000Z,20050121T090000Z")

	set, err := event.RecurrenceSet(false)
	require.NoError(t, err)

	got := set.All()
	require.Len(t, got, 2)
	assert.True(t, got[0].Before(got[1]), "occurrences must be ascending")
	assert.Equal(t, 21, got[0].Day())
}

func TestRecurrenceSetNoAnchor(t *testing.T) {
	event := NewComponent("VEVENT")
	event.AddProperty(NewProperty("RRULE", "FREQ=DAILY"))
	set, err := event.RecurrenceSet(false)
	require.NoError(t, err)
	assert.Nil(t, set)
}

func TestRecurrenceSetDateAnchor(t *testing.T) {
	event := recurringEvent(t, Date{Year: 2005, Month: time.January, Day: 19},
		"RRULE:FREQ=DAILY;COUNT=2")

	set, err := event.RecurrenceSet(false)
	require.NoError(t, err)
	got := set.All()
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Hour())
	assert.Equal(t, 19, got[0].Day())
	assert.Equal(t, 20, got[1].Day())
}

func TestSetRecurrenceSet(t *testing.T) {
	dtstart := time.Date(2005, 1, 19, 9, 0, 0, 0, Floating)

	tests := []struct {
		name string
		opt  rrule.ROption
		want string
	}{
		{
			name: "weekly with interval and count",
			opt: rrule.ROption{
				Freq:      rrule.WEEKLY,
				Interval:  2,
				Count:     2,
				Byweekday: []rrule.Weekday{rrule.TU, rrule.TH},
			},
			want: "FREQ=WEEKLY;INTERVAL=2;COUNT=2;BYDAY=TU,TH",
		},
		{
			name: "weekly byday matching anchor is omitted",
			opt: rrule.ROption{
				Freq:      rrule.WEEKLY,
				Byweekday: []rrule.Weekday{rrule.WE},
			},
			want: "FREQ=WEEKLY",
		},
		{
			name: "monthly bymonthday matching anchor is omitted",
			opt: rrule.ROption{
				Freq:       rrule.MONTHLY,
				Bymonthday: []int{19},
			},
			want: "FREQ=MONTHLY",
		},
		{
			name: "daily bymonthday kept",
			opt: rrule.ROption{
				Freq:       rrule.DAILY,
				Bymonthday: []int{19},
			},
			want: "FREQ=DAILY;BYMONTHDAY=19",
		},
		{
			name: "yearly bymonth matching anchor is omitted",
			opt: rrule.ROption{
				Freq:    rrule.YEARLY,
				Bymonth: []int{1},
			},
			want: "FREQ=YEARLY",
		},
		{
			name: "yearly bymonth kept when weekdays present",
			opt: rrule.ROption{
				Freq:      rrule.YEARLY,
				Bymonth:   []int{1},
				Byweekday: []rrule.Weekday{rrule.SU.Nth(-1)},
			},
			want: "FREQ=YEARLY;BYDAY=-1SU;BYMONTH=1",
		},
		{
			name: "until in utc",
			opt: rrule.ROption{
				Freq:  rrule.DAILY,
				Until: time.Date(2005, 2, 1, 9, 0, 0, 0, time.UTC),
			},
			want: "FREQ=DAILY;UNTIL=20050201T090000Z",
		},
		{
			name: "wkst and setpos",
			opt: rrule.ROption{
				Freq:     rrule.MONTHLY,
				Wkst:     rrule.SU,
				Bysetpos: []int{-1},
			},
			want: "FREQ=MONTHLY;WKST=SU;BYSETPOS=-1",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			event := recurringEvent(t, dtstart)
			opt := tc.opt
			opt.Dtstart = dtstart
			rule, err := rrule.NewRRule(opt)
			require.NoError(t, err)

			set := &RuleSet{}
			set.RRule(rule)
			require.NoError(t, event.SetRecurrenceSet(set))

			rprop := event.GetProperty("RRULE")
			require.NotNil(t, rprop)
			assert.Equal(t, tc.want, rprop.Text())
		})
	}
}

func TestSetRecurrenceSetDates(t *testing.T) {
	dtstart := time.Date(2005, 1, 19, 9, 0, 0, 0, Floating)
	event := recurringEvent(t, dtstart)

	set := &RuleSet{}
	set.RDate(dtstart) // anchor must not serialize
	set.RDate(time.Date(2005, 1, 25, 9, 0, 0, 0, Floating))
	set.ExDate(time.Date(2005, 1, 26, 9, 0, 0, 0, Floating))
	require.NoError(t, event.SetRecurrenceSet(set))

	rdate := event.GetProperty("RDATE")
	require.NotNil(t, rdate)
	times := rdate.Value.([]time.Time)
	require.Len(t, times, 1)
	assert.Equal(t, 25, times[0].Day())

	exdate := event.GetProperty("EXDATE")
	require.NotNil(t, exdate)
	assert.Len(t, exdate.Value.([]time.Time), 1)
}

func TestSetRecurrenceSetDateAnchor(t *testing.T) {
	event := recurringEvent(t, Date{Year: 2005, Month: time.January, Day: 19})

	until := time.Date(2005, 3, 1, 0, 0, 0, 0, time.UTC)
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.DAILY,
		Until:   until,
		Dtstart: Date{Year: 2005, Month: time.January, Day: 19}.Time(nil),
	})
	require.NoError(t, err)

	set := &RuleSet{}
	set.RRule(rule)
	set.RDate(time.Date(2005, 3, 5, 0, 0, 0, 0, Floating))
	require.NoError(t, event.SetRecurrenceSet(set))

	assert.Equal(t, "FREQ=DAILY;UNTIL=20050301", event.GetProperty("RRULE").Text())

	rdate := event.GetProperty("RDATE")
	require.NotNil(t, rdate)
	dates := rdate.Value.([]Date)
	require.Len(t, dates, 1)
	assert.Equal(t, Date{Year: 2005, Month: time.March, Day: 5}, dates[0])
}

func TestSetRecurrenceSetReplacesExisting(t *testing.T) {
	dtstart := time.Date(2005, 1, 19, 9, 0, 0, 0, Floating)
	event := recurringEvent(t, dtstart,
		"RRULE:FREQ=DAILY;COUNT=5",
		"EXDATE:20050120T090000Z")

	rule, err := rrule.NewRRule(rrule.ROption{Freq: rrule.WEEKLY, Count: 2, Dtstart: dtstart})
	require.NoError(t, err)
	set := &RuleSet{}
	set.RRule(rule)
	require.NoError(t, event.SetRecurrenceSet(set))

	assert.Len(t, event.GetProperties("RRULE"), 1)
	assert.Empty(t, event.GetProperties("EXDATE"))
	assert.Equal(t, "FREQ=WEEKLY;COUNT=2", event.GetProperty("RRULE").Text())
}

func TestSetRecurrenceSetRequiresAnchor(t *testing.T) {
	event := NewComponent("VEVENT")
	err := event.SetRecurrenceSet(&RuleSet{})
	assert.ErrorIs(t, err, ErrPropertyNotFound)
}

func TestRecurrenceRoundTrip(t *testing.T) {
	dtstart := time.Date(2005, 1, 19, 9, 0, 0, 0, Floating)
	event := recurringEvent(t, dtstart,
		"RRULE:FREQ=WEEKLY;COUNT=4;BYDAY=TU,TH")

	set, err := event.RecurrenceSet(false)
	require.NoError(t, err)
	occurrences := set.All()

	require.NoError(t, event.SetRecurrenceSet(set))
	again, err := event.RecurrenceSet(false)
	require.NoError(t, err)

	if diff := cmp.Diff(occurrences, again.All()); diff != "" {
		t.Errorf("round trip changed occurrences (-first +second):\n%s", diff)
	}
}
