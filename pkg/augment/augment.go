// Package augment generates the randomized spatial perturbations used
// for test-time augmentation. All randomness is drawn here, at
// generation time, from a caller-supplied source; the transforms handed
// to a Subject are fully parameterized records, so the Subject's stack
// stays deterministic and exactly invertible after the fact.
package augment

import (
	"fmt"
	"math/rand"

	"hipposeg/pkg/config"
	"hipposeg/pkg/transform"
)

// Generator produces augmented copies of a Subject. It is not safe for
// concurrent use; callers that parallelize inference should generate all
// augmented subjects up front.
type Generator struct {
	cfg config.AugmentationConfig
	rng *rand.Rand
}

// NewGenerator returns a generator drawing from rng. Reproducibility is
// entirely the caller's choice of source; each Next call consumes fresh
// randomness.
func NewGenerator(cfg config.AugmentationConfig, rng *rand.Rand) (*Generator, error) {
	if cfg.AffineProbability+cfg.ElasticProbability <= 0 {
		return nil, fmt.Errorf("affineProbability (%g) and elasticProbability (%g) must not both be zero",
			cfg.AffineProbability, cfg.ElasticProbability)
	}
	for _, axis := range cfg.Flip.Axes {
		if axis < 0 || axis > 2 {
			return nil, fmt.Errorf("flip axis %d out of range [0,2]", axis)
		}
	}
	return &Generator{cfg: cfg, rng: rng}, nil
}

// Next returns a new Subject derived from subject: possibly flipped per
// axis, then deformed by exactly one of the affine or elastic
// transforms. Both records are appended to the new Subject's stack; the
// input Subject is left untouched.
func (g *Generator) Next(subject *transform.Subject) (*transform.Subject, error) {
	out := subject.Clone()

	var axes [3]bool
	for _, axis := range g.cfg.Flip.Axes {
		if g.rng.Float64() < g.cfg.Flip.Probability {
			axes[axis] = true
		}
	}
	if err := out.Apply(transform.NewFlip(axes)); err != nil {
		return nil, err
	}

	if err := out.Apply(g.drawDeformation()); err != nil {
		return nil, err
	}
	return out, nil
}

// drawDeformation chooses affine or elastic by the configured odds and
// draws its parameters.
func (g *Generator) drawDeformation() transform.Transform {
	pAffine := g.cfg.AffineProbability / (g.cfg.AffineProbability + g.cfg.ElasticProbability)
	if g.rng.Float64() < pAffine {
		return g.drawAffine()
	}
	return g.drawElastic()
}

func (g *Generator) drawAffine() transform.Transform {
	var scales, degrees, translation [3]float64
	for i := 0; i < 3; i++ {
		scales[i] = 1 + g.uniform(g.cfg.Affine.Scales)
		degrees[i] = g.uniform(g.cfg.Affine.Degrees)
		translation[i] = g.uniform(g.cfg.Affine.Translation)
	}
	return transform.NewAffineDeformation(scales, degrees, translation)
}

func (g *Generator) drawElastic() transform.Transform {
	points := g.cfg.Elastic.NumControlPoints
	if points < 2 {
		points = 2
	}
	grid := [3]int{points, points, points}
	disp := make([][3]float64, points*points*points)
	for x := 0; x < points; x++ {
		for y := 0; y < points; y++ {
			for z := 0; z < points; z++ {
				// Border control points stay zero so the
				// volume boundary is fixed.
				if x == 0 || y == 0 || z == 0 || x == points-1 || y == points-1 || z == points-1 {
					continue
				}
				i := (x*points+y)*points + z
				for a := 0; a < 3; a++ {
					disp[i][a] = g.uniform(g.cfg.Elastic.MaxDisplacement)
				}
			}
		}
	}
	return transform.NewElasticDeformation(grid, disp)
}

// uniform draws from [-bound, bound).
func (g *Generator) uniform(bound float64) float64 {
	return (g.rng.Float64()*2 - 1) * bound
}
