// Package result folds a single replicate's DATUM stream into an
// immutable ReplicateResult: three target buckets, the attribute names
// seen in each, and a bounding box over any datum carrying a position.
package result

import (
	"github.com/codeready-toolchain/josh/pkg/wire"
)

// Targets recognized by the builder. Any other target is silently
// ignored, per spec.
const (
	TargetSimulation = "simulation"
	TargetPatches    = "patches"
	TargetEntities   = "entities"
)

var validTargets = map[string]bool{
	TargetSimulation: true,
	TargetPatches:    true,
	TargetEntities:   true,
}

// Record is one accumulated datum, attributes kept in the order they
// were observed on the wire so that export sinks can project them
// faithfully.
type Record struct {
	Attrs []wire.Attr
}

// attrSet is an insertion-ordered set of attribute names. It only ever
// grows: names are never removed, matching the builder monotonicity
// invariant.
type attrSet struct {
	names []string
	seen  map[string]struct{}
}

func newAttrSet() *attrSet {
	return &attrSet{seen: make(map[string]struct{})}
}

func (s *attrSet) add(name string) {
	if _, ok := s.seen[name]; ok {
		return
	}
	s.seen[name] = struct{}{}
	s.names = append(s.names, name)
}

// Names returns a snapshot of the names observed so far, in first-seen
// order.
func (s *attrSet) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Bucket holds every Record seen for one target along with the union
// of attribute names across those records.
type Bucket struct {
	Records   []Record
	AttrNames []string
}

type bucketBuilder struct {
	records []Record
	attrs   *attrSet
}

func newBucketBuilder() *bucketBuilder {
	return &bucketBuilder{attrs: newAttrSet()}
}

// Bounds is a spatial bounding box over position.x/position.y pairs.
// It is unset until the first datum carrying both as numbers.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
	Set                    bool
}

// ReplicateResult is the frozen output of one Builder.
type ReplicateResult struct {
	Buckets map[string]Bucket
	Bounds  Bounds
}

// Builder accumulates DATUM records for exactly one replicate. It is
// one-shot: Build freezes it, and any further Add is a programming
// error.
type Builder struct {
	buckets map[string]*bucketBuilder
	bounds  Bounds
	built   bool
}

// NewBuilder returns an empty builder ready to accumulate one
// replicate's DATUM records.
func NewBuilder() *Builder {
	return &Builder{buckets: make(map[string]*bucketBuilder)}
}

// Add folds one DATUM's target and attributes into the builder.
// Unknown targets are silently ignored, per spec. Panics if called
// after Build.
func (b *Builder) Add(target string, attrs []wire.Attr) {
	if b.built {
		panic("result: Add called after Build")
	}
	if !validTargets[target] {
		return
	}

	bk, ok := b.buckets[target]
	if !ok {
		bk = newBucketBuilder()
		b.buckets[target] = bk
	}
	bk.records = append(bk.records, Record{Attrs: attrs})
	for _, a := range attrs {
		bk.attrs.add(a.Key)
	}

	b.foldBounds(attrs)
}

func (b *Builder) foldBounds(attrs []wire.Attr) {
	x, xok := numericAttr(attrs, "position.x")
	y, yok := numericAttr(attrs, "position.y")
	if !xok || !yok {
		return
	}
	if !b.bounds.Set {
		b.bounds = Bounds{MinX: x, MinY: y, MaxX: x, MaxY: y, Set: true}
		return
	}
	if x < b.bounds.MinX {
		b.bounds.MinX = x
	}
	if y < b.bounds.MinY {
		b.bounds.MinY = y
	}
	if x > b.bounds.MaxX {
		b.bounds.MaxX = x
	}
	if y > b.bounds.MaxY {
		b.bounds.MaxY = y
	}
}

func numericAttr(attrs []wire.Attr, name string) (float64, bool) {
	for _, a := range attrs {
		if a.Key != name {
			continue
		}
		if !a.IsNumber() {
			return 0, false
		}
		v, err := a.Float64()
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// Build freezes the builder into an immutable ReplicateResult. Calling
// Build more than once, or calling Add after Build, panics.
func (b *Builder) Build() *ReplicateResult {
	if b.built {
		panic("result: Build called twice")
	}
	b.built = true

	out := &ReplicateResult{Buckets: make(map[string]Bucket, len(b.buckets)), Bounds: b.bounds}
	for target, bk := range b.buckets {
		records := make([]Record, len(bk.records))
		copy(records, bk.records)
		out.Buckets[target] = Bucket{Records: records, AttrNames: bk.attrs.Names()}
	}
	return out
}
