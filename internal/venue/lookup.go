package venue

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"

	"github.com/gigmap/extract-cli/internal/extract"
	"github.com/gigmap/extract-cli/internal/model"
)

const venueListKey = "known_venues"

// VenueSource lists the canonical venue reference data.
type VenueSource interface {
	ListKnownVenues(ctx context.Context) ([]model.KnownVenue, error)
}

// Resolver matches extracted venue names against the known-venue list.
// Matching is normalized (case, width, whitespace) and alias-aware. The venue
// list is cached, it changes rarely and is consulted once per post.
type Resolver struct {
	source VenueSource
	cache  *gocache.Cache
	fence  *Geofence
}

func NewResolver(source VenueSource, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Resolver{
		source: source,
		cache:  gocache.New(ttl, 2*ttl),
	}
}

// WithGeofence enables coordinate checks against the service-area polygon for
// venues that resolve to known reference data.
func (r *Resolver) WithGeofence(fence *Geofence) *Resolver {
	r.fence = fence
	return r
}

// Resolve returns the canonical venue for an extracted name, or nil when the
// name matches nothing known.
func (r *Resolver) Resolve(ctx context.Context, name string) (*model.KnownVenue, error) {
	if name == "" {
		return nil, nil
	}
	venues, err := r.venues(ctx)
	if err != nil {
		return nil, err
	}

	want := extract.NormalizeText(name)
	for i := range venues {
		if extract.NormalizeText(venues[i].Name) == want {
			return &venues[i], nil
		}
		for _, alias := range venues[i].Aliases {
			if extract.NormalizeText(alias) == want {
				return &venues[i], nil
			}
		}
	}
	return nil, nil
}

// Canonicalize rewrites the candidate's venue name to its canonical form when
// a known venue matches. Unknown venues are left as extracted.
func (r *Resolver) Canonicalize(ctx context.Context, ev *model.EventCandidate) error {
	if ev.VenueName == nil {
		return nil
	}
	known, err := r.Resolve(ctx, *ev.VenueName)
	if err != nil || known == nil {
		return err
	}
	ev.VenueName = model.StrPtr(known.Name)
	if r.fence != nil && (known.Lat != 0 || known.Lng != 0) && !r.fence.Contains(known.Lat, known.Lng) {
		ev.IsEvent = false
		ev.OutsideServiceArea = true
		ev.Reasoning = "venue " + known.Name + " is outside the service area"
	}
	return nil
}

func (r *Resolver) venues(ctx context.Context) ([]model.KnownVenue, error) {
	if cached, ok := r.cache.Get(venueListKey); ok {
		return cached.([]model.KnownVenue), nil
	}
	venues, err := r.source.ListKnownVenues(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "venue: list known venues")
	}
	r.cache.Set(venueListKey, venues, gocache.DefaultExpiration)
	return venues, nil
}
