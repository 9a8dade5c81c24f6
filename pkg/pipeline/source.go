package pipeline

import (
	"context"

	"github.com/nicktill/costcluster/pkg/aggregate"
	"github.com/nicktill/costcluster/pkg/config"
	"github.com/nicktill/costcluster/pkg/generator"
	"github.com/nicktill/costcluster/pkg/storage"
)

// Source supplies the (entity, resource) cost cells of a run.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]aggregate.Cell, error)
}

// GeneratorSource draws a fresh synthetic data set.
type GeneratorSource struct {
	Config generator.Config
	Seed   uint64
}

// SyntheticSource builds a generator source from the file configuration.
func SyntheticSource(cfg config.GeneratorConfig) GeneratorSource {
	return GeneratorSource{
		Config: generator.Config{
			Entities:        cfg.Entities,
			Resources:       cfg.Resources,
			Days:            cfg.Days,
			Start:           cfg.Start,
			EntityBaseMin:   cfg.EntityBaseMin,
			EntityBaseMax:   cfg.EntityBaseMax,
			ResourceBaseMin: cfg.ResourceBaseMin,
			ResourceBaseMax: cfg.ResourceBaseMax,
			NoiseStdDev:     cfg.NoiseStdDev,
		},
		Seed: cfg.Seed,
	}
}

// Name implements Source.
func (GeneratorSource) Name() string { return "synthetic" }

// Load implements Source.
func (s GeneratorSource) Load(ctx context.Context) ([]aggregate.Cell, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return aggregate.Rollup(generator.Generate(s.Config, s.Seed)), nil
}

// StorageSource reads stored observations.
type StorageSource struct {
	Store   storage.Storage
	Request storage.QueryRequest
}

// Name implements Source.
func (StorageSource) Name() string { return "storage" }

// Load implements Source.
func (s StorageSource) Load(ctx context.Context) ([]aggregate.Cell, error) {
	return aggregate.New(s.Store).Load(ctx, s.Request)
}
