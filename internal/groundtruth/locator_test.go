package groundtruth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigmap/extract-cli/internal/model"
)

func TestLocateEndTimeTakesSecondRangeToken(t *testing.T) {
	loc := NewLocator()

	tests := []struct {
		name    string
		caption string
		want    string
	}{
		{"hyphen", "Doors at 6PM - 1AM, see you there", "1AM"},
		{"en dash", "6PM – 1AM sa SaGuijo", "1AM"},
		{"to", "sets from 6PM to 1AM", "1AM"},
		{"until", "open 6PM until 1AM", "1AM"},
		{"hanggang", "6PM hanggang 1AM", "1AM"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := loc.Locate(tc.caption, model.FieldEndTime, "01:00:00")
			require.NotNil(t, got)
			assert.Equal(t, tc.want, *got)
			assert.NotEqual(t, "6PM", *got)
		})
	}
}

func TestLocateEndTimeNeverFallsBackToStandalone(t *testing.T) {
	loc := NewLocator()

	// A range exists but its second token does not round-trip to the stored
	// value. A standalone "1AM" elsewhere must not be used.
	got := loc.Locate("6PM - 11PM tonight. afterparty 1AM", model.FieldEndTime, "01:00:00")
	assert.Nil(t, got)
}

func TestLocateEventTimeFirstRoundTrip(t *testing.T) {
	loc := NewLocator()

	got := loc.Locate("Doors 7PM, show 8PM", model.FieldEventTime, "19:00:00")
	require.NotNil(t, got)
	assert.Equal(t, "7PM", *got)

	got = loc.Locate("Doors 7PM, show 8PM", model.FieldEventTime, "20:00:00")
	require.NotNil(t, got)
	assert.Equal(t, "8PM", *got)

	got = loc.Locate("Doors 7PM", model.FieldEventTime, "21:00:00")
	assert.Nil(t, got)
}

func TestLocateTagalogTimes(t *testing.T) {
	loc := NewLocator()

	got := loc.Locate("Simula 7 ng gabi", model.FieldEventTime, "19:00:00")
	require.NotNil(t, got)
	assert.Contains(t, *got, "7")

	got = loc.Locate("9 ng umaga ang call time", model.FieldEventTime, "09:00:00")
	require.NotNil(t, got)
}

func TestLocateEventDate(t *testing.T) {
	loc := NewLocator()

	t.Run("english month", func(t *testing.T) {
		got := loc.Locate("See you August 25!", model.FieldEventDate, "2026-08-25")
		require.NotNil(t, got)
		assert.Equal(t, "August 25", *got)
	})

	t.Run("tagalog month", func(t *testing.T) {
		got := loc.Locate("Sa Oktubre 12 ang gig", model.FieldEventDate, "2026-10-12")
		require.NotNil(t, got)
		assert.Contains(t, *got, "Oktubre 12")
	})

	t.Run("tagalog abbreviated month", func(t *testing.T) {
		got := loc.Locate("Dis 20 na!", model.FieldEventDate, "2026-12-20")
		require.NotNil(t, got)
	})

	t.Run("day first", func(t *testing.T) {
		got := loc.Locate("25 August, doors 8", model.FieldEventDate, "2026-08-25")
		require.NotNil(t, got)
	})

	t.Run("numeric slash", func(t *testing.T) {
		got := loc.Locate("mark your calendars: 8/25", model.FieldEventDate, "2026-08-25")
		require.NotNil(t, got)
		assert.Equal(t, "8/25", *got)
	})

	t.Run("wrong day rejected", func(t *testing.T) {
		got := loc.Locate("See you August 26!", model.FieldEventDate, "2026-08-25")
		assert.Nil(t, got)
	})

	t.Run("explicit year must match", func(t *testing.T) {
		got := loc.Locate("August 25, 2025 throwback", model.FieldEventDate, "2026-08-25")
		assert.Nil(t, got)
	})
}

func TestLocateEndDateRange(t *testing.T) {
	loc := NewLocator()

	got := loc.Locate("Aug 21 - Aug 23 market fair", model.FieldEventEndDate, "2026-08-23")
	require.NotNil(t, got)
	assert.Equal(t, "Aug 23", *got)
}

func TestLocateVenue(t *testing.T) {
	loc := NewLocator()

	t.Run("exact substring", func(t *testing.T) {
		got := loc.Locate("Tonight at SaGuijo, Makati", model.FieldVenueName, "SaGuijo")
		require.NotNil(t, got)
		assert.Equal(t, "SaGuijo", *got)
	})

	t.Run("case-insensitive keeps caption casing", func(t *testing.T) {
		got := loc.Locate("tonight at SAGUIJO!!!", model.FieldVenueName, "SaGuijo")
		require.NotNil(t, got)
		assert.Equal(t, "SAGUIJO", *got)
	})

	t.Run("pin label", func(t *testing.T) {
		got := loc.Locate("📍 Mow's Bar, QC", model.FieldVenueName, "Mow's Bar")
		require.NotNil(t, got)
	})

	t.Run("no free text", func(t *testing.T) {
		got := loc.Locate("big night tomorrow!!!", model.FieldVenueName, "SaGuijo")
		assert.Nil(t, got)
	})

	t.Run("wide-cased rune before match keeps offsets", func(t *testing.T) {
		// U+0130 lowercases to a two-rune sequence; a lowered-copy index
		// would slice the original caption off by a byte.
		got := loc.Locate("GİG NA NAMAN sa SAGUIJO mamaya", model.FieldVenueName, "saguijo")
		require.NotNil(t, got)
		assert.Equal(t, "SAGUIJO", *got)
	})
}

func TestLocatePrice(t *testing.T) {
	loc := NewLocator()

	got := loc.Locate("₱300 door charge w/ 1 drink", model.FieldPrice, "300")
	require.NotNil(t, got)
	assert.Equal(t, "₱300", *got)

	got = loc.Locate("tickets at 350 pesos", model.FieldPrice, "350")
	require.NotNil(t, got)

	got = loc.Locate("₱300 door", model.FieldPrice, "500")
	assert.Nil(t, got)
}

func TestLocateSignupURL(t *testing.T) {
	loc := NewLocator()

	got := loc.Locate("slots: bit.ly/gignight link in bio", model.FieldSignupURL, "bit.ly/gignight")
	require.NotNil(t, got)
	assert.Equal(t, "bit.ly/gignight", *got)
}

func TestValidSnippet(t *testing.T) {
	assert.False(t, validSnippet("#"))
	assert.False(t, validSnippet("@venue"))
	assert.False(t, validSnippet("#gig"))
	assert.False(t, validSnippet("!!! ???"))
	assert.True(t, validSnippet("7PM"))
	assert.True(t, validSnippet("SaGuijo"))
}

func TestNormalizeTimeToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"7PM", "19:00:00", true},
		{"7:30 PM", "19:30:00", true},
		{"12AM", "00:00:00", true},
		{"12PM", "12:00:00", true},
		{"12NN", "12:00:00", true},
		{"12MN", "00:00:00", true},
		{"19:00", "19:00:00", true},
		{"7 ng gabi", "19:00:00", true},
		{"9 ng umaga", "09:00:00", true},
		{"25PM", "", false},
	}
	for _, tc := range tests {
		got, ok := normalizeTimeToken(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.in)
		}
	}
}
