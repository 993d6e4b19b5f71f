package triage

import (
	"testing"

	"github.com/danshapiro/recomp/internal/automation/manifest"
	"github.com/danshapiro/recomp/internal/automation/strategy"
)

func TestBuild_HashGateFailureWithDriftSuggestsInputTimingFirst(t *testing.T) {
	drift := 2.0
	hash := manifest.HashGateResult{Passed: false, Failures: []string{"frame mismatch"}, FrameDriftFrames: &drift}
	report := Build(1, manifest.AttemptFailed, hash, nil, nil)
	if report.NextStrategy != "input_timing_variant" {
		t.Fatalf("next strategy = %q", report.NextStrategy)
	}
	if len(report.Categories) != 1 || report.Categories[0] != "hash_gate_failed" {
		t.Fatalf("categories = %v", report.Categories)
	}
}

func TestBuild_HashGateFailureWithoutDriftSkipsInputTiming(t *testing.T) {
	hash := manifest.HashGateResult{Passed: false, Failures: []string{"boom"}}
	report := Build(1, manifest.AttemptFailed, hash, nil, nil)
	if report.NextStrategy != "service_stub_profile_switch" {
		t.Fatalf("next strategy = %q", report.NextStrategy)
	}
}

func TestBuild_PerceptualFailureRecordsFailingScene(t *testing.T) {
	hash := manifest.HashGateResult{Passed: true}
	perceptual := &manifest.PerceptualGateResult{Passed: false, FailingScene: "boss_fight"}
	report := Build(2, manifest.AttemptNeedsReview, hash, perceptual, nil)
	found := false
	for _, f := range report.Findings {
		if f == "highest weighted failing scene: boss_fight" {
			found = true
		}
	}
	if !found {
		t.Fatalf("findings = %v", report.Findings)
	}
	if report.NextStrategy != "capture_alignment_profile" {
		t.Fatalf("next strategy = %q", report.NextStrategy)
	}
}

func TestBuild_PassRecordsPassCategoryAndNoSuggestions(t *testing.T) {
	report := Build(3, manifest.AttemptPassed, manifest.HashGateResult{Passed: true}, nil, nil)
	if len(report.Categories) != 1 || report.Categories[0] != "pass" {
		t.Fatalf("categories = %v", report.Categories)
	}
	if report.NextStrategy != "" {
		t.Fatalf("expected no next strategy on pass, got %q", report.NextStrategy)
	}
}

func TestBuild_AppendsPreviousStrategyNoteAfterPickingNext(t *testing.T) {
	prev := strategy.LiftModeVariant
	hash := manifest.HashGateResult{Passed: false, Failures: []string{"x"}}
	report := Build(4, manifest.AttemptFailed, hash, nil, &prev)
	last := report.SuggestedActions[len(report.SuggestedActions)-1]
	if last != "previous strategy was lift_mode_variant" {
		t.Fatalf("last suggested action = %q", last)
	}
}
