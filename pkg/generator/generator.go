// Package generator produces synthetic daily cost observations.
package generator

import (
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nicktill/costcluster/pkg/observation"
)

// Config describes one synthetic data set.
type Config struct {
	Entities  []string
	Resources []string
	Days      int
	Start     time.Time

	EntityBaseMin   float64
	EntityBaseMax   float64
	ResourceBaseMin float64
	ResourceBaseMax float64
	NoiseStdDev     float64
}

// Generator draws observations from an explicit random source.
type Generator struct {
	cfg    Config
	entity distuv.Uniform
	res    distuv.Uniform
	noise  distuv.Normal
}

// NewSource returns the random source used for a seed.
func NewSource(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// New creates a generator that consumes draws from src.
// Two generators built from equal configs and equally seeded sources
// produce identical output.
func New(cfg Config, src rand.Source) *Generator {
	return &Generator{
		cfg:    cfg,
		entity: distuv.Uniform{Min: cfg.EntityBaseMin, Max: cfg.EntityBaseMax, Src: src},
		res:    distuv.Uniform{Min: cfg.ResourceBaseMin, Max: cfg.ResourceBaseMax, Src: src},
		noise:  distuv.Normal{Mu: 0, Sigma: cfg.NoiseStdDev, Src: src},
	}
}

// Generate returns one observation per (entity, resource, day).
// Draw order is entity base, then for each resource its base followed by
// its daily noise. Costs are not clipped and may be negative.
func (g *Generator) Generate() []observation.Observation {
	cfg := g.cfg
	if cfg.Days < 1 {
		return nil
	}

	out := make([]observation.Observation, 0, len(cfg.Entities)*len(cfg.Resources)*cfg.Days)
	for _, entity := range cfg.Entities {
		entityBase := g.entity.Rand()

		for _, resource := range cfg.Resources {
			resourceBase := g.res.Rand()

			for day := 0; day < cfg.Days; day++ {
				out = append(out, observation.Observation{
					Entity:    entity,
					Resource:  resource,
					Cost:      entityBase + resourceBase + g.noise.Rand(),
					Day:       day,
					Timestamp: cfg.Start.Add(time.Duration(day) * 24 * time.Hour),
				})
			}
		}
	}
	return out
}

// Generate is a convenience wrapper seeding a fresh source.
func Generate(cfg Config, seed uint64) []observation.Observation {
	return New(cfg, NewSource(seed)).Generate()
}
