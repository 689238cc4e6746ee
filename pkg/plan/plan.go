// Package plan expands a template, a set of file variations, and a
// replicate count into a deterministic list of jobs for the batch
// driver to run.
package plan

import (
	"github.com/codeready-toolchain/josh/pkg/josherr"
)

// VariationGroup is one logical filename and its ordered candidate
// paths. Order matters: it determines both the index decoding of the
// Cartesian product and the concrete path chosen for a given job.
type VariationGroup struct {
	LogicalName string
	Candidates  []string
}

// VariationSpec is an ordered list of variation groups. The planner
// expands it into the Cartesian product of candidates, varying the
// first group slowest and the last group fastest — matching how the
// index of a job tuple decodes back into per-group indices.
type VariationSpec []VariationGroup

// Job is one concrete unit of work: a resolved file map, a replicate
// count, and the custom tags to attach to every emitted record.
type Job struct {
	Files      map[string]string
	Replicates int
	CustomTags map[string]string
}

// reservedTagNames collide with attribute names the core itself emits
// on every record and so may not be used as custom tags.
var reservedTagNames = map[string]bool{
	"replicate": true,
	"step":      true,
	"variable":  true,
}

// ValidateCustomTags rejects reserved tag names before any network
// I/O, per the Input error kind's "fail before any network I/O"
// contract.
func ValidateCustomTags(tags map[string]string) error {
	for name := range tags {
		if reservedTagNames[name] {
			return josherr.Input("custom tag name %q is reserved", name)
		}
	}
	return nil
}

func cloneTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}

// Plan expands spec into the deterministic Cartesian product of jobs,
// each carrying replicates and a copy of customTags. An empty spec
// produces exactly one job with an empty file map.
//
// Determinism: for a fixed spec, Plan always returns the same jobs in
// the same order — it never ranges over a Go map, only over spec's
// slices, so map-iteration-order variation in the caller cannot leak
// into the result.
func Plan(spec VariationSpec, replicates int, customTags map[string]string) []Job {
	n := len(spec)
	if n == 0 {
		return []Job{{Files: map[string]string{}, Replicates: replicates, CustomTags: cloneTags(customTags)}}
	}

	sizes := make([]int, n)
	for i, g := range spec {
		sizes[i] = len(g.Candidates)
	}

	suffix := make([]int, n)
	suffix[n-1] = 1
	for k := n - 2; k >= 0; k-- {
		suffix[k] = suffix[k+1] * sizes[k+1]
	}
	total := suffix[0] * sizes[0]

	jobs := make([]Job, total)
	for i := 0; i < total; i++ {
		files := make(map[string]string, n)
		for k := 0; k < n; k++ {
			idx := (i / suffix[k]) % sizes[k]
			files[spec[k].LogicalName] = spec[k].Candidates[idx]
		}
		jobs[i] = Job{Files: files, Replicates: replicates, CustomTags: cloneTags(customTags)}
	}
	return jobs
}
