// Package sizing computes how many cluster workers an analysis needs from
// the size of its input features.
package sizing

import (
	"context"
	"fmt"
	"math"

	"github.com/kiranshivaraju/datapump/pkg/models"
)

const (
	bytesPerMB = 1_000_000

	tclWeight        = 1.25
	changeOnlyWeight = 0.75
)

// Config holds the heuristic constants. Zero values use defaults.
type Config struct {
	MinWorkers   int     // default: 5
	WorkersPerMB float64 // default: 50
}

func (c Config) withDefaults() Config {
	if c.MinWorkers <= 0 {
		c.MinWorkers = 5
	}
	if c.WorkersPerMB <= 0 {
		c.WorkersPerMB = 50
	}
	return c
}

// ObjectSizer returns the size in bytes of the artifact at uri.
// Implementations return an error matching apperrors.ErrNotFound when the
// artifact is absent.
type ObjectSizer interface {
	Size(ctx context.Context, uri string) (int64, error)
}

// Sizer computes worker counts. It holds no mutable state.
type Sizer struct {
	cfg     Config
	objects ObjectSizer
}

func NewSizer(cfg Config, objects ObjectSizer) *Sizer {
	return &Sizer{cfg: cfg.withDefaults(), objects: objects}
}

// WorkerCount returns round(MB * WorkersPerMB * weight), floored at
// MinWorkers. Halves round to even, so 2.5 becomes 2 and 3.5 becomes 4.
func (s *Sizer) WorkerCount(inputBytes int64, analysis models.Analysis, changeOnly bool) int {
	if inputBytes < 0 {
		inputBytes = 0
	}

	weight := 1.0
	if analysis == models.AnalysisTCL {
		weight *= tclWeight
	}
	if changeOnly {
		weight *= changeOnlyWeight
	}

	raw := (float64(inputBytes) / bytesPerMB) * s.cfg.WorkersPerMB * weight
	workers := int(math.RoundToEven(raw))
	return max(workers, s.cfg.MinWorkers)
}

// WorkerCountFor reads the size of the features file and sizes the job.
func (s *Sizer) WorkerCountFor(ctx context.Context, featuresURI string, analysis models.Analysis, changeOnly bool) (int, error) {
	size, err := s.objects.Size(ctx, featuresURI)
	if err != nil {
		return 0, fmt.Errorf("sizing %s: %w", featuresURI, err)
	}
	return s.WorkerCount(size, analysis, changeOnly), nil
}
