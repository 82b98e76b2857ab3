package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigmap/extract-cli/internal/model"
)

func TestParseExtraction_FullResponse(t *testing.T) {
	text := `{
		"isEvent": true,
		"eventTitle": "Indie Night Vol. 3",
		"eventDate": "2025-12-15",
		"eventEndDate": null,
		"eventTime": "19:00:00",
		"endTime": "01:00:00",
		"locationName": "SaGuijo Cafe + Bar",
		"venueAddress": "7612 Guijo St, Makati",
		"price": 500,
		"priceMin": 500,
		"priceMax": 800,
		"isFree": false,
		"signupUrl": "https://bit.ly/indienight",
		"category": "gig",
		"isRecurring": false,
		"recurrencePattern": null,
		"isUpdate": false,
		"updateType": null,
		"availabilityStatus": null,
		"locationStatus": null,
		"confidence": 0.92,
		"reasoning": "caption lists date, time range, venue, and door price"
	}`

	x, err := ParseExtraction(text)
	require.NoError(t, err)

	assert.True(t, x.IsEvent)
	require.NotNil(t, x.EventTitle)
	assert.Equal(t, "Indie Night Vol. 3", *x.EventTitle)
	assert.Nil(t, x.EventEndDate)
	require.NotNil(t, x.VenueName)
	assert.Equal(t, "SaGuijo Cafe + Bar", *x.VenueName)
	require.NotNil(t, x.Price)
	assert.InDelta(t, 500.0, *x.Price, 1e-9)
	require.NotNil(t, x.IsFree)
	assert.False(t, *x.IsFree)
	assert.InDelta(t, 0.92, x.Confidence, 1e-9)
	assert.NotEmpty(t, x.Reasoning)
}

func TestParseExtraction_MarkdownFences(t *testing.T) {
	text := "```json\n{\"isEvent\": true, \"eventDate\": \"2025-12-15\", \"confidence\": 0.8}\n```"

	x, err := ParseExtraction(text)
	require.NoError(t, err)
	assert.True(t, x.IsEvent)
	require.NotNil(t, x.EventDate)
	assert.Equal(t, "2025-12-15", *x.EventDate)
}

func TestParseExtraction_ProseAroundObject(t *testing.T) {
	text := "Here is the extraction:\n{\"isEvent\": false, \"confidence\": 0.3}\nLet me know if you need more."

	x, err := ParseExtraction(text)
	require.NoError(t, err)
	assert.False(t, x.IsEvent)
}

func TestParseExtraction_VenueNameFallbackKey(t *testing.T) {
	x, err := ParseExtraction(`{"isEvent": true, "venueName": "Route 196"}`)
	require.NoError(t, err)
	require.NotNil(t, x.VenueName)
	assert.Equal(t, "Route 196", *x.VenueName)
}

func TestParseExtraction_UntrustedShapes(t *testing.T) {
	// Wrong-typed and junk values degrade to nil, never to a zero value.
	x, err := ParseExtraction(`{
		"isEvent": "yes",
		"eventDate": 20251215,
		"eventTime": "   ",
		"venueAddress": "null",
		"price": "five hundred",
		"isFree": "false",
		"confidence": 7.5
	}`)
	require.NoError(t, err)

	assert.False(t, x.IsEvent)
	assert.Nil(t, x.EventDate)
	assert.Nil(t, x.EventTime)
	assert.Nil(t, x.VenueAddress)
	assert.Nil(t, x.Price)
	assert.Nil(t, x.IsFree)
	assert.Equal(t, 1.0, x.Confidence)
}

func TestParseExtraction_NegativeConfidenceClamped(t *testing.T) {
	x, err := ParseExtraction(`{"isEvent": true, "confidence": -0.2}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, x.Confidence)
}

func TestParseExtraction_InvalidJSON(t *testing.T) {
	_, err := ParseExtraction("the post is about a gig on friday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse model response")
}

func TestExtractionFieldValue(t *testing.T) {
	x := &Extraction{
		EventDate: model.StrPtr("2025-12-15"),
		VenueName: model.StrPtr("SaGuijo"),
	}

	require.NotNil(t, x.FieldValue(model.FieldEventDate))
	assert.Equal(t, "2025-12-15", *x.FieldValue(model.FieldEventDate))
	assert.Nil(t, x.FieldValue(model.FieldEndTime))
	assert.Nil(t, x.FieldValue(model.FieldPrice))
}
