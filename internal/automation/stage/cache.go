// Package stage implements StageCache and StageExecutor: per-stage
// cache-reuse gating and the execute-log-record-persist cycle that drives
// every stage of an attempt (spec.md §4.4, §4.5).
package stage

import (
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/danshapiro/recomp/internal/automation/manifest"
)

// Ordinal is the strict stage ordering StageCache and strategy min-stages
// pivot on.
type Ordinal int

const (
	Intake Ordinal = iota
	Ghidra
	Lift
	Pipeline
	Build
	Run
	Capture
	Hash
	ValidateHash
	ValidatePerceptual
	Triage
)

// Cache tracks the single cache_valid flag described in spec.md §4.4: once
// flipped false (at the first stage where allow_cached is false), it stays
// false for the remainder of the attempt regardless of later strategies'
// min_stage.
type Cache struct {
	valid bool
}

// NewCache starts with caching enabled; callers flip it off on resume from
// a non-cacheable point by calling Invalidate before the first stage.
func NewCache() *Cache { return &Cache{valid: true} }

// Valid reports whether cache reuse is still possible for later stages.
func (c *Cache) Valid() bool { return c.valid }

// Invalidate permanently disables cache reuse for the remainder of the
// attempt.
func (c *Cache) Invalidate() { c.valid = false }

// TryReuse returns the previous step record if the cache is valid, a
// previous step of the same name exists, its status is succeeded, and
// every declared output still exists on disk (literal path or doublestar
// glob pattern — the latter extends, never narrows, the spec's literal
// check). configDir anchors relative output paths.
func (c *Cache) TryReuse(configDir string, previous *manifest.RunStep) (manifest.RunStep, bool) {
	if !c.valid || previous == nil {
		return manifest.RunStep{}, false
	}
	if previous.Status != manifest.StepSucceeded {
		return manifest.RunStep{}, false
	}
	if !outputsExist(configDir, previous.Outputs) {
		return manifest.RunStep{}, false
	}
	return *previous, true
}

func outputsExist(configDir string, outputs []string) bool {
	if len(outputs) == 0 {
		return true
	}
	for _, stored := range outputs {
		if !pathOrGlobExists(configDir, stored) {
			return false
		}
	}
	return true
}

func pathOrGlobExists(configDir, stored string) bool {
	resolved := stored
	if !filepath.IsAbs(stored) {
		resolved = filepath.Join(configDir, stored)
	}
	if !doublestar.ValidatePattern(resolved) {
		_, err := os.Stat(resolved)
		return err == nil
	}
	matches, err := doublestar.FilepathGlob(resolved)
	if err != nil {
		return false
	}
	if len(matches) > 0 {
		return true
	}
	_, err = os.Stat(resolved)
	return err == nil
}

// ManifestOutputsExist checks every artifact path in manifest m still
// exists on disk, for the resume "previous final=passed, all artifacts
// present" check in RunController (spec.md §4.13).
func ManifestOutputsExist(configDir string, m manifest.RunManifest) bool {
	for _, a := range m.Artifacts {
		if !pathOrGlobExists(configDir, a.Path) {
			return false
		}
	}
	return true
}
