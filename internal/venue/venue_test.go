package venue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigmap/extract-cli/internal/model"
)

type stubVenueSource struct {
	venues []model.KnownVenue
	calls  int
}

func (s *stubVenueSource) ListKnownVenues(_ context.Context) ([]model.KnownVenue, error) {
	s.calls++
	return s.venues, nil
}

func manilaVenues() []model.KnownVenue {
	return []model.KnownVenue{
		{Name: "SaGuijo", Aliases: []string{"saguijo cafe", "saguijo makati"}, Lat: 14.5588, Lng: 121.0133},
		{Name: "Mow's", Aliases: []string{"mows bar"}, Lat: 14.6399, Lng: 121.0725},
	}
}

func TestResolveMatchesNameAndAliases(t *testing.T) {
	src := &stubVenueSource{venues: manilaVenues()}
	r := NewResolver(src, time.Minute)

	got, err := r.Resolve(context.Background(), "saguijo")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "SaGuijo", got.Name)

	got, err = r.Resolve(context.Background(), "SAGUIJO  CAFE")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "SaGuijo", got.Name)

	got, err = r.Resolve(context.Background(), "some warehouse")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolveCachesVenueList(t *testing.T) {
	src := &stubVenueSource{venues: manilaVenues()}
	r := NewResolver(src, time.Minute)

	for i := 0; i < 5; i++ {
		_, err := r.Resolve(context.Background(), "mows bar")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, src.calls)
}

func TestCanonicalize(t *testing.T) {
	src := &stubVenueSource{venues: manilaVenues()}
	r := NewResolver(src, time.Minute)

	ev := &model.EventCandidate{VenueName: model.StrPtr("mows bar")}
	require.NoError(t, r.Canonicalize(context.Background(), ev))
	require.NotNil(t, ev.VenueName)
	assert.Equal(t, "Mow's", *ev.VenueName)

	ev = &model.EventCandidate{VenueName: model.StrPtr("Underground Spot")}
	require.NoError(t, r.Canonicalize(context.Background(), ev))
	assert.Equal(t, "Underground Spot", *ev.VenueName)
}

func TestGeofence(t *testing.T) {
	// Rough box around Metro Manila, lng,lat order.
	fence := NewGeofence([][2]float64{
		{120.90, 14.35},
		{121.15, 14.35},
		{121.15, 14.80},
		{120.90, 14.80},
	})

	assert.True(t, fence.Contains(14.5588, 121.0133), "SaGuijo is inside")
	assert.False(t, fence.Contains(10.3157, 123.8854), "Cebu is outside")
	assert.False(t, fence.Contains(1.3521, 103.8198), "Singapore is outside")
}

func TestGeofenceUnsetContainsEverything(t *testing.T) {
	fence := NewGeofence(nil)
	assert.True(t, fence.Contains(10.3157, 123.8854))
}

func TestLoadGeofence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service_area.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`service_area:
  polygon:
    - [120.90, 14.35]
    - [121.15, 14.35]
    - [121.15, 14.80]
    - [120.90, 14.80]
`), 0o644))

	fence, err := LoadGeofence(path)
	require.NoError(t, err)
	assert.True(t, fence.Contains(14.5588, 121.0133))
	assert.False(t, fence.Contains(10.3157, 123.8854))
}

func TestLoadGeofenceErrors(t *testing.T) {
	_, err := LoadGeofence(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("service_area: [not: a: map"), 0o644))
	_, err = LoadGeofence(bad)
	require.Error(t, err)
}

func TestCanonicalizeWithGeofence(t *testing.T) {
	// Cebu venue in the reference list, Manila-only fence.
	src := &stubVenueSource{venues: append(manilaVenues(),
		model.KnownVenue{Name: "Handuraw Pizza", Lat: 10.3157, Lng: 123.8854},
	)}
	fence := NewGeofence([][2]float64{
		{120.90, 14.35},
		{121.15, 14.35},
		{121.15, 14.80},
		{120.90, 14.80},
	})
	r := NewResolver(src, time.Minute).WithGeofence(fence)

	ev := &model.EventCandidate{IsEvent: true, VenueName: model.StrPtr("handuraw pizza")}
	require.NoError(t, r.Canonicalize(context.Background(), ev))
	assert.False(t, ev.IsEvent)
	assert.True(t, ev.OutsideServiceArea)

	ev = &model.EventCandidate{IsEvent: true, VenueName: model.StrPtr("saguijo")}
	require.NoError(t, r.Canonicalize(context.Background(), ev))
	assert.True(t, ev.IsEvent)
	assert.False(t, ev.OutsideServiceArea)
}
