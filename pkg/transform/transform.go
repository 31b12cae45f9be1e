// Package transform implements the reversible preprocessing and
// augmentation operations applied to a scan before inference, together
// with the Stack that records them and the Subject that owns the volumes
// they act on.
//
// Every operation is a tagged record holding the exact parameters it was
// applied with, exposing a pure Apply/Invert pair. Inverting a Stack
// replays the geometric records in reverse, which is how predictions
// computed in processed space are mapped back onto the original scan grid.
package transform

import (
	"errors"
	"fmt"

	"hipposeg/pkg/volume"
)

// Names of the volumes a Subject conventionally owns.
const (
	PrimaryVolume = "mri"
	LabelVolume   = "label"
)

// ErrEmptyStack is returned when an inverse mapping is requested but no
// transform has been recorded.
var ErrEmptyStack = errors.New("empty transform stack")

// Transform is one reversible operation on a volume. Implementations are
// immutable records of the parameters the operation was applied with;
// Apply and Invert never mutate their input volume.
type Transform interface {
	// Kind returns the record tag ("znorm", "pad", "flip", "affine",
	// "elastic").
	Kind() string

	// Geometric reports whether the operation moves voxels. Only
	// geometric operations participate in inverse mapping; intensity
	// operations are skipped because the final output is a label map.
	Geometric() bool

	// ExactInverse reports whether Invert undoes Apply exactly.
	// Resampling operations only invert up to interpolation tolerance.
	ExactInverse() bool

	// Apply returns the transformed copy of the volume.
	Apply(v *volume.Volume) (*volume.Volume, error)

	// Invert returns the inverse-transformed copy of the volume.
	Invert(v *volume.Volume) (*volume.Volume, error)
}

// Stack is the ordered, append-only history of transforms applied to a
// Subject since its raw scan was loaded.
type Stack []Transform

// Clone returns a copy of the stack sharing the (immutable) records.
func (s Stack) Clone() Stack {
	out := make(Stack, len(s))
	copy(out, s)
	return out
}

// InvertVolume maps a processed-space volume back to the space of the
// original scan by applying the inverse of every geometric record in
// reverse order. It returns one warning per tolerance-limited inverse.
// It fails if the stack is empty or a record rejects the volume's shape.
func (s Stack) InvertVolume(v *volume.Volume) (*volume.Volume, []string, error) {
	if len(s) == 0 {
		return nil, nil, ErrEmptyStack
	}
	var warnings []string
	out := v
	for i := len(s) - 1; i >= 0; i-- {
		t := s[i]
		if !t.Geometric() {
			continue
		}
		if !t.ExactInverse() {
			warnings = append(warnings, fmt.Sprintf("%s: inverse is resampling-limited, mapping is approximate", t.Kind()))
		}
		inv, err := t.Invert(out)
		if err != nil {
			return nil, warnings, fmt.Errorf("inverting %s: %w", t.Kind(), err)
		}
		out = inv
	}
	return out, warnings, nil
}

// Subject owns one or more volumes sharing a coordinate frame, plus the
// transform history needed to map results back to the raw scan.
type Subject struct {
	volumes map[string]*volume.Volume

	// Stack records every transform applied to the primary volume, in
	// application order.
	Stack Stack
}

// NewSubject creates a subject owning v as its primary volume.
func NewSubject(v *volume.Volume) *Subject {
	return &Subject{volumes: map[string]*volume.Volume{PrimaryVolume: v}}
}

// Primary returns the subject's main intensity volume.
func (s *Subject) Primary() *volume.Volume {
	return s.volumes[PrimaryVolume]
}

// Volume returns the named volume, or nil if absent.
func (s *Subject) Volume(name string) *volume.Volume {
	return s.volumes[name]
}

// AddVolume attaches a volume under the given name, replacing any
// previous volume with that name.
func (s *Subject) AddVolume(name string, v *volume.Volume) {
	s.volumes[name] = v
}

// RemoveVolume detaches the named volume.
func (s *Subject) RemoveVolume(name string) {
	delete(s.volumes, name)
}

// Clone returns a subject with a copied volume table and stack. Volumes
// themselves are shared; callers that transform a volume receive fresh
// copies from Apply, so the original subject is never disturbed.
func (s *Subject) Clone() *Subject {
	vols := make(map[string]*volume.Volume, len(s.volumes))
	for name, v := range s.volumes {
		vols[name] = v
	}
	return &Subject{volumes: vols, Stack: s.Stack.Clone()}
}

// Apply transforms the primary volume and appends the record to the
// stack, preserving the invariant that the stack describes exactly the
// operations separating the primary volume from the raw scan.
func (s *Subject) Apply(t Transform) error {
	out, err := t.Apply(s.Primary())
	if err != nil {
		return fmt.Errorf("applying %s: %w", t.Kind(), err)
	}
	s.volumes[PrimaryVolume] = out
	s.Stack = append(s.Stack, t)
	return nil
}
