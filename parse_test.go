package vcal

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTextValues(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		strict bool
		want   []string
		err    bool
	}{
		{name: "plain", input: "hello", want: []string{"hello"}},
		{name: "empty", input: "", want: []string{""}},
		{name: "list", input: "a,b,c", want: []string{"a", "b", "c"}},
		{
			name:  "escapes",
			input: `a\,b,c\\d,line1\nline2`,
			want:  []string{"a,b", `c\d`, "line1\nline2"},
		},
		{name: "upper newline", input: `x\Ny`, want: []string{"x\ny"}},
		{name: "escaped semicolon", input: `a\;b`, want: []string{"a;b"}},
		{name: "trailing empty element", input: "a,", want: []string{"a"}},
		{name: "bad escape tolerated", input: `x\qy`, want: []string{"xqy"}},
		{name: "bad escape strict", input: `x\qy`, strict: true, err: true},
		{name: "dangling backslash tolerated", input: `x\`, want: []string{"x"}},
		{name: "dangling backslash strict", input: `x\`, strict: true, err: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseTextValues(tc.input, tc.strict)
			if tc.err {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrParse)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ParseTextValues(%q) mismatch (-want +got):\n%s", tc.input, diff)
			}
		})
	}
}

func TestEscapeTextRoundTrip(t *testing.T) {
	for _, s := range []string{"plain", "a,b;c", `back\slash`, "multi\nline", ""} {
		got, err := ParseTextValues(EscapeText(s), true)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, s, got[0])
	}
}

func TestParseDurations(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []time.Duration
		err   bool
	}{
		{name: "full", input: "P1DT2H3M4S", want: []time.Duration{26*time.Hour + 3*time.Minute + 4*time.Second}},
		{name: "minutes", input: "PT15M", want: []time.Duration{15 * time.Minute}},
		{name: "negative minutes", input: "-PT15M", want: []time.Duration{-15 * time.Minute}},
		{name: "weeks", input: "P2W", want: []time.Duration{2 * 7 * 24 * time.Hour}},
		{name: "negative week", input: "-P1W", want: []time.Duration{-7 * 24 * time.Hour}},
		{name: "explicit plus", input: "+P1D", want: []time.Duration{24 * time.Hour}},
		{name: "lowercase", input: "pt30m", want: []time.Duration{30 * time.Minute}},
		{name: "list", input: "P1D,PT1H", want: []time.Duration{24 * time.Hour, time.Hour}},
		{name: "zero", input: "P0S", want: []time.Duration{0}},
		{name: "junk", input: "tomorrow", err: true},
		{name: "empty", input: "", err: true},
		{name: "bad unit", input: "P1X", err: true},
		{name: "bare designator", input: "P", err: true},
		{name: "bare time designator", input: "PT", err: true},
		{name: "number without unit", input: "P1", err: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseDurations(tc.input)
			if tc.err {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrParse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "P0S"},
		{24 * time.Hour, "P1D"},
		{26*time.Hour + 3*time.Minute + 4*time.Second, "P1DT2H3M4S"},
		{15 * time.Minute, "PT15M"},
		{-15 * time.Minute, "-PT15M"},
		{-time.Hour, "-PT1H"},
		{48 * time.Hour, "P2D"},
		{7 * 24 * time.Hour, "P7D"},
		{25 * time.Hour, "P1DT1H"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, FormatDuration(tc.in), "FormatDuration(%v)", tc.in)
	}
}

func TestDurationRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{0, time.Second, -90 * time.Minute, 36 * time.Hour, 14 * 24 * time.Hour} {
		got, err := ParseDurations(FormatDuration(d))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, d, got[0])
	}
}

func TestParseDateTime(t *testing.T) {
	t.Run("utc", func(t *testing.T) {
		got, err := ParseDateTime("20060102T150405Z", nil)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC), got)
		assert.Same(t, time.UTC, got.Location())
	})
	t.Run("floating", func(t *testing.T) {
		got, err := ParseDateTime("20060102T150405", nil)
		require.NoError(t, err)
		assert.Same(t, Floating, got.Location())
		assert.Equal(t, 15, got.Hour())
	})
	t.Run("explicit location", func(t *testing.T) {
		loc := time.FixedZone("X", -5*3600)
		got, err := ParseDateTime("20060102T150405", loc)
		require.NoError(t, err)
		assert.Same(t, loc, got.Location())
	})
	t.Run("malformed", func(t *testing.T) {
		for _, s := range []string{"", "20060102", "20060102T15", "2006010two50405", "20060102X150405"} {
			_, err := ParseDateTime(s, nil)
			assert.ErrorIs(t, err, ErrParse, "input %q", s)
		}
	})
}

func TestFormatDateTime(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	local := time.Date(2006, 1, 2, 15, 4, 5, 0, est)
	assert.Equal(t, "20060102T150405", FormatDateTime(local, true))
	assert.Equal(t, "20060102T200405Z", FormatDateTime(local, false))

	floating := time.Date(2006, 1, 2, 15, 4, 5, 0, Floating)
	assert.Equal(t, "20060102T150405", FormatDateTime(floating, false))

	utc := time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, "20060102T150405Z", FormatDateTime(utc, true))
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("20060102")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2006, Month: time.January, Day: 2}, got)
	assert.Equal(t, "20060102", FormatDate(got))

	for _, s := range []string{"", "2006", "200601023", "2006010x"} {
		_, err := ParseDate(s)
		assert.ErrorIs(t, err, ErrParse, "input %q", s)
	}
}

func TestParsePeriod(t *testing.T) {
	t.Run("duration form", func(t *testing.T) {
		got, err := ParsePeriod("19970101T180000Z/PT5H30M", nil)
		require.NoError(t, err)
		assert.Equal(t, time.Date(1997, 1, 1, 18, 0, 0, 0, time.UTC), got.Start)
		assert.Equal(t, 5*time.Hour+30*time.Minute, got.Duration)
		assert.Equal(t, "19970101T180000Z/PT5H30M", FormatPeriod(got))
	})
	t.Run("explicit end", func(t *testing.T) {
		got, err := ParsePeriod("19970101T180000Z/19970102T070000Z", nil)
		require.NoError(t, err)
		assert.Equal(t, 13*time.Hour, got.Duration)
		assert.Equal(t, time.Date(1997, 1, 2, 7, 0, 0, 0, time.UTC), got.End())
	})
	t.Run("missing separator", func(t *testing.T) {
		_, err := ParsePeriod("19970101T180000Z", nil)
		assert.ErrorIs(t, err, ErrParse)
	})
	t.Run("empty duration side", func(t *testing.T) {
		_, err := ParsePeriod("20060102T000000Z/P", nil)
		assert.ErrorIs(t, err, ErrParse)
	})
}

func TestUTCOffset(t *testing.T) {
	assert.Equal(t, "+0100", FormatUTCOffset(time.Hour))
	assert.Equal(t, "-0500", FormatUTCOffset(-5*time.Hour))
	assert.Equal(t, "+0000", FormatUTCOffset(0))

	got, err := ParseUTCOffset("-0500")
	require.NoError(t, err)
	assert.Equal(t, -5*time.Hour, got)

	got, err = ParseUTCOffset("+0530")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Hour+30*time.Minute, got)

	for _, s := range []string{"", "0500", "+05", "+05xx"} {
		_, err := ParseUTCOffset(s)
		assert.ErrorIs(t, err, ErrParse, "input %q", s)
	}
}

func FuzzParseTextValues(f *testing.F) {
	f.Add("a,b,c")
	f.Add(`a\,b\\c\nd`)
	f.Add(`trailing\`)
	f.Add("")
	f.Fuzz(func(t *testing.T, s string) {
		got, err := ParseTextValues(s, false)
		if err != nil {
			t.Fatalf("non-strict parse of %q returned error: %v", s, err)
		}
		if len(got) == 0 {
			t.Fatalf("non-strict parse of %q returned no values", s)
		}
	})
}
