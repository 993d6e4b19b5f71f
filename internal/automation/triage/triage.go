// Package triage builds the per-attempt TriageReport explaining why an
// attempt failed and which strategy to try next, grounded on
// automation.rs's build_triage.
package triage

import (
	"fmt"

	"github.com/danshapiro/recomp/internal/automation/manifest"
	"github.com/danshapiro/recomp/internal/automation/strategy"
)

// Build assembles a TriageReport in the same order build_triage does: hash
// gate findings/suggestions first, then perceptual gate findings/
// suggestions, then the "pass" category, then the next-strategy pick from
// the accumulated suggestions, then (only after that pick) the
// "previous strategy was X" note appended to suggested_actions.
func Build(attempt int, status manifest.AttemptStatus, hash manifest.HashGateResult, perceptual *manifest.PerceptualGateResult, previous *strategy.Kind) manifest.TriageReport {
	var categories, findings, suggestions []string

	if !hash.Passed {
		categories = append(categories, "hash_gate_failed")
		findings = append(findings, hash.Failures...)

		if hash.FrameDriftFrames != nil && abs(*hash.FrameDriftFrames) > 0 {
			suggestions = append(suggestions, "input_timing_variant")
		}
		suggestions = append(suggestions, "service_stub_profile_switch", "patch_set_variant")
	}

	if perceptual != nil && !perceptual.Passed {
		categories = append(categories, "perceptual_gate_failed")
		if perceptual.FailingScene != "" {
			findings = append(findings, fmt.Sprintf("highest weighted failing scene: %s", perceptual.FailingScene))
		}
		suggestions = append(suggestions, "capture_alignment_profile", "runtime_mode_variant")
	}

	if status == manifest.AttemptPassed {
		categories = append(categories, "pass")
	}

	var nextStrategy string
	for _, candidate := range suggestions {
		if _, ok := strategy.FromID(candidate); ok {
			nextStrategy = candidate
			break
		}
	}

	suggestedActions := suggestions
	if previous != nil {
		suggestedActions = append(suggestedActions, fmt.Sprintf("previous strategy was %s", previous.ID()))
	}

	if categories == nil {
		categories = []string{}
	}
	if findings == nil {
		findings = []string{}
	}
	if suggestedActions == nil {
		suggestedActions = []string{}
	}

	return manifest.TriageReport{
		SchemaVersion:    manifest.AttemptManifestSchemaVersion,
		Attempt:          attempt,
		Status:           status,
		Categories:       categories,
		Findings:         findings,
		SuggestedActions: suggestedActions,
		NextStrategy:     nextStrategy,
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
