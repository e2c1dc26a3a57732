package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Clinic is a reproductive-health clinic found by a source or generated.
type Clinic struct {
	Name              string   `json:"name" yaml:"name"`
	Address           string   `json:"address" yaml:"address"`
	State             string   `json:"state" yaml:"state"`
	Phone             string   `json:"phone" yaml:"phone"`
	Services          []string `json:"services" yaml:"services"`
	AcceptedInsurance []string `json:"acceptedInsurance" yaml:"accepted_insurance"`
	Latitude          float64  `json:"latitude" yaml:"latitude"`
	Longitude         float64  `json:"longitude" yaml:"longitude"`
	Source            string   `json:"source,omitempty" yaml:"-"`
}

// usBounds covers the contiguous states, Alaska (both sides of the
// antimeridian) and Hawaii.
var usBounds = []*geom.Bounds{
	geom.NewBounds(geom.XY).Set(-125.0, 24.3, -66.9, 49.5),
	geom.NewBounds(geom.XY).Set(-180.0, 51.0, -129.9, 71.5),
	geom.NewBounds(geom.XY).Set(172.0, 51.0, 180.0, 53.5),
	geom.NewBounds(geom.XY).Set(-160.5, 18.9, -154.7, 22.3),
}

// HasCoordinates reports whether the clinic carries a usable location.
func (c Clinic) HasCoordinates() bool {
	if c.Latitude == 0 && c.Longitude == 0 {
		return false
	}
	for _, b := range usBounds {
		if b.OverlapsPoint(geom.XY, geom.Coord{c.Longitude, c.Latitude}) {
			return true
		}
	}
	return false
}

// Point returns the clinic location as a WGS84 point.
func (c Clinic) Point() *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{c.Longitude, c.Latitude}).SetSRID(4326)
}

// Validate rejects a clinic missing any required field. A clinic is stored
// whole or not at all.
func (c Clinic) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(c.Address) == "" {
		missing = append(missing, "address")
	}
	if strings.TrimSpace(c.Phone) == "" {
		missing = append(missing, "phone")
	}
	if !c.HasCoordinates() {
		missing = append(missing, "coordinates")
	}
	if len(missing) > 0 {
		return eris.Errorf("model: clinic %q missing %s", c.Name, strings.Join(missing, ", "))
	}
	return nil
}

// StoredClinic is a persisted clinic row.
type StoredClinic struct {
	ID string `json:"id"`
	Clinic
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
