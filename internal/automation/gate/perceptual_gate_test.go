package gate

import (
	"testing"

	"github.com/danshapiro/recomp/internal/automation/config"
	"github.com/danshapiro/recomp/internal/automation/manifest"
)

func TestParseTimecode(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"5", 5},
		{"1:05", 65},
		{"1:00:05", 3605},
	}
	for _, tc := range cases {
		got, err := ParseTimecode(tc.in)
		if err != nil {
			t.Fatalf("ParseTimecode(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseTimecode(%q) = %v want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseTimecode_Invalid(t *testing.T) {
	if _, err := ParseTimecode("1:2:3:4"); err == nil {
		t.Fatalf("expected error for too many segments")
	}
	if _, err := ParseTimecode("abc"); err == nil {
		t.Fatalf("expected error for non-numeric segment")
	}
}

func TestSceneWindows_DefaultsToSingleWindowFromReferenceTimeline(t *testing.T) {
	ref := ReferenceVideo{Start: "0", End: "10"}
	windows, err := sceneWindows(config.AutomationConfig{}, ref)
	if err != nil {
		t.Fatalf("sceneWindows: %v", err)
	}
	if len(windows) != 1 || windows[0].id != "default" || windows[0].durationSeconds != 10 {
		t.Fatalf("windows = %+v", windows)
	}
}

func TestSceneWindows_RejectsEndBeforeStart(t *testing.T) {
	cfg := config.AutomationConfig{Scenes: []config.Scene{{ID: "intro", Start: "10", End: "5", Weight: 1}}}
	if _, err := sceneWindows(cfg, ReferenceVideo{}); err == nil {
		t.Fatalf("expected error for end <= start")
	}
}

func TestSceneWindows_ClampsNegativeWeightToZero(t *testing.T) {
	cfg := config.AutomationConfig{Scenes: []config.Scene{{ID: "intro", Start: "0", End: "5", Weight: -2}}}
	windows, err := sceneWindows(cfg, ReferenceVideo{})
	if err != nil {
		t.Fatalf("sceneWindows: %v", err)
	}
	if windows[0].weight != 0 {
		t.Fatalf("weight = %v", windows[0].weight)
	}
}

func TestAggregate_WeightsFailingSceneByHighestWeight(t *testing.T) {
	scenes := []manifest.PerceptualSceneResult{
		{ID: "intro", Weight: 1, Passed: false, Failures: []string{"ssim low"}},
		{ID: "boss_fight", Weight: 3, Passed: false, Failures: []string{"psnr low"}},
		{ID: "outro", Weight: 1, Passed: true},
	}
	result := aggregate(scenes)
	if result.Passed {
		t.Fatalf("expected overall failure")
	}
	if result.FailingScene != "boss_fight" {
		t.Fatalf("failing scene = %s", result.FailingScene)
	}
	if result.TotalWeight != 5 || result.PassedWeight != 1 {
		t.Fatalf("weights: total=%v passed=%v", result.TotalWeight, result.PassedWeight)
	}
}
