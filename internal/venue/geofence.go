package venue

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"gopkg.in/yaml.v3"
)

// Geofence is the service-area polygon. Coordinates are lng,lat (x,y) in
// WGS84, matching the config layout.
type Geofence struct {
	ring *geom.LinearRing
}

// NewGeofence builds a geofence from a lng,lat ring. An empty or degenerate
// ring yields a fence that contains everything, an unset service area must
// not reject venues.
func NewGeofence(ring [][2]float64) *Geofence {
	if len(ring) < 3 {
		return &Geofence{}
	}
	flat := make([]float64, 0, (len(ring)+1)*2)
	for _, pt := range ring {
		flat = append(flat, pt[0], pt[1])
	}
	// Close the ring if the config left it open.
	if ring[0] != ring[len(ring)-1] {
		flat = append(flat, ring[0][0], ring[0][1])
	}
	return &Geofence{ring: geom.NewLinearRingFlat(geom.XY, flat)}
}

// LoadGeofence reads a service-area polygon from a YAML file. The file has a
// top-level "service_area" key with a "polygon" list of [lng, lat] pairs.
func LoadGeofence(path string) (*Geofence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "venue: read geofence %s", path)
	}

	var wrapper struct {
		ServiceArea struct {
			Polygon [][2]float64 `yaml:"polygon"`
		} `yaml:"service_area"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "venue: parse geofence")
	}

	return NewGeofence(wrapper.ServiceArea.Polygon), nil
}

// Contains reports whether a coordinate falls inside the service area.
func (g *Geofence) Contains(lat, lng float64) bool {
	if g.ring == nil {
		return true
	}
	return xy.IsPointInRing(geom.XY, geom.Coord{lng, lat}, g.ring.FlatCoords())
}
