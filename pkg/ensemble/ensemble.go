// Package ensemble runs the test-time-augmentation × model inference
// matrix and fuses the runs into one consensus segmentation. Every run
// is mapped back to the original subject's space before any votes are
// combined, because augmented runs live in different processed-space
// geometries.
package ensemble

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"hipposeg/pkg/augment"
	"hipposeg/pkg/remap"
	"hipposeg/pkg/session"
	"hipposeg/pkg/transform"
	"hipposeg/pkg/volume"
)

// Config controls one ensemble invocation. All state is passed in
// explicitly; nothing is shared across scans.
type Config struct {
	// TestTimeAugmentation enables augmented passes. When false only
	// the unaugmented identity pass runs.
	TestTimeAugmentation bool

	// NumAug is the total number of augmentation passes including the
	// identity pass. Ignored when TestTimeAugmentation is false.
	NumAug int

	// CAMode selects the channel grouping applied to every run.
	CAMode string

	// Workers bounds how many (augmentation, model) runs execute
	// concurrently. Values below 2 keep the loop serial. Sessions
	// serialize their own native calls, so any worker count is safe.
	Workers int

	// Progress, if set, is called after each completed
	// (augmentation, model) pair.
	Progress func(aug, model int)

	// Warn, if set, receives tolerance warnings from inverse mapping.
	Warn func(msg string)
}

// Result is the outcome of one ensemble invocation.
type Result struct {
	// Soft holds every run's class-score volume in original-subject
	// space, augmentation-major then model order, for inspection and
	// calibration.
	Soft []*volume.Volume

	// Hard is the consensus label volume (1 channel) in
	// original-subject space.
	Hard *volume.Volume

	// Classes is the number of classes under the active ca_mode.
	Classes int
}

// Segment runs every session over the identity pass plus NumAug-1
// augmented passes, remaps channels, maps each run back to the original
// subject's space and majority-votes the per-voxel class decisions.
func Segment(subject *transform.Subject, gen *augment.Generator, sessions []session.Session, cfg Config) (*Result, error) {
	if len(sessions) == 0 {
		return nil, fmt.Errorf("ensemble: %w", session.ErrNoModels)
	}
	classes, err := remap.Classes(cfg.CAMode)
	if err != nil {
		return nil, err
	}

	numAug := 1
	if cfg.TestTimeAugmentation {
		if cfg.NumAug < 1 {
			return nil, fmt.Errorf("testTimeNumAug must be at least 1, got %d", cfg.NumAug)
		}
		numAug = cfg.NumAug
	}
	if numAug > 1 && gen == nil {
		return nil, errors.New("test-time augmentation requested without an augmentation generator")
	}

	// Augmented subjects are generated up front and sequentially so the
	// inference matrix can fan out without sharing a random source.
	subjects := make([]*transform.Subject, numAug)
	subjects[0] = subject
	for i := 1; i < numAug; i++ {
		augmented, err := gen.Next(subject)
		if err != nil {
			return nil, fmt.Errorf("generating augmentation %d: %w", i, err)
		}
		subjects[i] = augmented
	}

	soft := make([]*volume.Volume, numAug*len(sessions))
	var mu sync.Mutex
	runOne := func(a, m int) error {
		pred, warnings, err := predict(subjects[a], sessions[m], cfg.CAMode)
		if err != nil {
			return fmt.Errorf("augmentation %d, model %s: %w", a, sessions[m].Source(), err)
		}
		soft[a*len(sessions)+m] = pred
		mu.Lock()
		defer mu.Unlock()
		if cfg.Warn != nil {
			for _, w := range warnings {
				cfg.Warn(fmt.Sprintf("augmentation %d, model %s: %s", a, sessions[m].Source(), w))
			}
		}
		if cfg.Progress != nil {
			cfg.Progress(a, m)
		}
		return nil
	}

	if cfg.Workers > 1 {
		var g errgroup.Group
		g.SetLimit(cfg.Workers)
		for a := 0; a < numAug; a++ {
			for m := range sessions {
				a, m := a, m
				g.Go(func() error { return runOne(a, m) })
			}
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for a := 0; a < numAug; a++ {
			for m := range sessions {
				if err := runOne(a, m); err != nil {
					return nil, err
				}
			}
		}
	}

	hard, err := hardVote(soft, classes)
	if err != nil {
		return nil, err
	}
	return &Result{Soft: soft, Hard: hard, Classes: classes}, nil
}

// predict runs one session over one subject and maps the remapped class
// scores back to original-subject space. A placeholder label volume is
// attached to a private clone of the subject so the inversion machinery
// sees a consistent frame, then discarded after mapping.
func predict(subj *transform.Subject, sess session.Session, caMode string) (*volume.Volume, []string, error) {
	local := subj.Clone()
	input := local.Primary()

	logits, err := sess.Run(input)
	if err != nil {
		return nil, nil, err
	}
	if !logits.SameSpatialShape(input) {
		return nil, nil, fmt.Errorf("model output spatial shape (%d,%d,%d) does not match input (%d,%d,%d)",
			logits.Nx, logits.Ny, logits.Nz, input.Nx, input.Ny, input.Nz)
	}

	scores, err := remap.ToCAMode(logits, caMode)
	if err != nil {
		return nil, nil, err
	}

	placeholder := volume.New(scores.Channels, input.Nx, input.Ny, input.Nz, mat.DenseCopyOf(input.Affine))
	copy(placeholder.Data, scores.Data)
	local.AddVolume(transform.LabelVolume, placeholder)

	back, warnings, err := local.Stack.InvertVolume(local.Volume(transform.LabelVolume))
	local.RemoveVolume(transform.LabelVolume)
	if err != nil {
		return nil, warnings, err
	}
	return back, warnings, nil
}

// hardVote fuses the per-run class scores into one label volume: each
// run contributes its per-voxel arg-max class, and the mode across runs
// wins. Ties, in both arg-max and mode, resolve to the lowest class
// index.
func hardVote(soft []*volume.Volume, classes int) (*volume.Volume, error) {
	if len(soft) == 0 {
		return nil, errors.New("no runs to vote over")
	}
	first := soft[0]
	for i, v := range soft {
		if !v.SameSpatialShape(first) {
			return nil, fmt.Errorf("run %d shape (%d,%d,%d) does not match run 0 (%d,%d,%d)",
				i, v.Nx, v.Ny, v.Nz, first.Nx, first.Ny, first.Nz)
		}
		if v.Channels != classes {
			return nil, fmt.Errorf("run %d has %d channels, expected %d classes", i, v.Channels, classes)
		}
	}

	hard := volume.New(1, first.Nx, first.Ny, first.Nz, mat.DenseCopyOf(first.Affine))
	voxels := first.NumVoxels()
	counts := make([]int, classes)
	for i := 0; i < voxels; i++ {
		for c := range counts {
			counts[c] = 0
		}
		for _, run := range soft {
			best := 0
			bestScore := run.Data[i]
			for c := 1; c < classes; c++ {
				if s := run.Data[c*voxels+i]; s > bestScore {
					best, bestScore = c, s
				}
			}
			counts[best]++
		}
		winner := 0
		for c := 1; c < classes; c++ {
			if counts[c] > counts[winner] {
				winner = c
			}
		}
		hard.Data[i] = float32(winner)
	}
	return hard, nil
}
