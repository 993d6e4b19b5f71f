package gate

import (
	"testing"

	"github.com/danshapiro/recomp/internal/automation/config"
	"github.com/danshapiro/recomp/internal/automation/manifest"
)

func TestEvaluateHashGate_MissingVideoForcesFailure(t *testing.T) {
	report := ValidationReport{Failed: 0}
	result := EvaluateHashGate(report, config.HashGate{}, "report.json")
	if result.Passed {
		t.Fatalf("expected failure when video report missing")
	}
	if len(result.Failures) != 1 || result.Failures[0] != "hash validation missing video report" {
		t.Fatalf("failures = %v", result.Failures)
	}
}

func TestEvaluateHashGate_PassesWhenNoFailuresAndNoOverridesTripped(t *testing.T) {
	report := ValidationReport{
		Failed: 0,
		Video: &VideoReport{
			FrameComparison: FrameComparison{MatchRatio: 0.999},
			Drift:           DriftSummary{FrameOffset: 0, FrameOffsetSeconds: 0, LengthDeltaFrames: 0},
		},
	}
	result := EvaluateHashGate(report, config.HashGate{}, "")
	if !result.Passed {
		t.Fatalf("expected pass, failures=%v", result.Failures)
	}
	if result.FrameMatchRatio == nil || *result.FrameMatchRatio != 0.999 {
		t.Fatalf("frame match ratio not recorded")
	}
}

func TestEvaluateHashGate_OverrideTripsFailureEvenWhenReportPassed(t *testing.T) {
	minRatio := 0.999
	report := ValidationReport{
		Failed: 0,
		Video: &VideoReport{
			FrameComparison: FrameComparison{MatchRatio: 0.9},
		},
	}
	result := EvaluateHashGate(report, config.HashGate{FrameMatchRatioMin: &minRatio}, "")
	if result.Passed {
		t.Fatalf("expected override to fail the gate")
	}
	found := false
	for _, f := range result.Failures {
		if f == "hash gate override: frame match 0.9000 below 0.9990" {
			found = true
		}
	}
	if !found {
		t.Fatalf("failures = %v", result.Failures)
	}
}

func TestEvaluateHashGate_ReportFailedPropagatesFailedCases(t *testing.T) {
	report := ValidationReport{
		Failed: 3,
		Video:  &VideoReport{Failures: []string{"case A mismatched"}},
	}
	result := EvaluateHashGate(report, config.HashGate{}, "")
	if result.Passed {
		t.Fatalf("expected failure")
	}
	if result.FailedCases != 3 {
		t.Fatalf("failed_cases = %d", result.FailedCases)
	}
	if len(result.Failures) != 1 || result.Failures[0] != "case A mismatched" {
		t.Fatalf("failures = %v", result.Failures)
	}
}

func TestComposeStatus(t *testing.T) {
	cases := []struct {
		name       string
		hash       manifest.HashGateResult
		perceptual *manifest.PerceptualGateResult
		want       manifest.AttemptStatus
	}{
		{"hash fails", manifest.HashGateResult{Passed: false}, nil, manifest.AttemptFailed},
		{"hash passes no perceptual", manifest.HashGateResult{Passed: true}, nil, manifest.AttemptPassed},
		{"hash passes perceptual passes", manifest.HashGateResult{Passed: true}, &manifest.PerceptualGateResult{Passed: true}, manifest.AttemptPassed},
		{"hash passes perceptual fails", manifest.HashGateResult{Passed: true}, &manifest.PerceptualGateResult{Passed: false}, manifest.AttemptNeedsReview},
		{"hash fails perceptual passes still fails", manifest.HashGateResult{Passed: false}, &manifest.PerceptualGateResult{Passed: true}, manifest.AttemptFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ComposeStatus(tc.hash, tc.perceptual); got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}
