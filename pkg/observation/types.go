package observation

import (
	"time"
)

// Observation is a single cost sample for one entity and one resource
type Observation struct {
	Entity    string    `json:"entity"`
	Resource  string    `json:"resource"`
	Cost      float64   `json:"cost"`
	Day       int       `json:"day"`
	Timestamp time.Time `json:"timestamp"`
}

// SeriesKey identifies the (entity, resource) pair an observation belongs to.
// The separator cannot appear in validated names.
func (o Observation) SeriesKey() string {
	return SeriesKey(o.Entity, o.Resource)
}

// SeriesKey builds the series key for an entity/resource pair
func SeriesKey(entity, resource string) string {
	return entity + "\x00" + resource
}

// Entities returns the distinct entity names in first-seen order
func Entities(obs []Observation) []string {
	seen := make(map[string]bool)
	var out []string
	for _, o := range obs {
		if !seen[o.Entity] {
			seen[o.Entity] = true
			out = append(out, o.Entity)
		}
	}
	return out
}

// Resources returns the distinct resource names in first-seen order
func Resources(obs []Observation) []string {
	seen := make(map[string]bool)
	var out []string
	for _, o := range obs {
		if !seen[o.Resource] {
			seen[o.Resource] = true
			out = append(out, o.Resource)
		}
	}
	return out
}
