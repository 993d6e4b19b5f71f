package strategy

import (
	"testing"

	"github.com/danshapiro/recomp/internal/automation/config"
	"github.com/danshapiro/recomp/internal/automation/stage"
)

func TestFromID_RoundTripsEveryKind(t *testing.T) {
	for _, k := range All() {
		got, ok := FromID(k.ID())
		if !ok || got != k {
			t.Fatalf("FromID(%q) = %v, %v", k.ID(), got, ok)
		}
	}
}

func TestFromID_RejectsUnknown(t *testing.T) {
	if _, ok := FromID("not_a_strategy"); ok {
		t.Fatalf("expected unknown id to be rejected")
	}
}

func TestMinStage(t *testing.T) {
	if CaptureAlignmentProfile.MinStage() != stage.ValidatePerceptual {
		t.Fatalf("capture_alignment_profile min stage wrong")
	}
	if LiftModeVariant.MinStage() != stage.Lift {
		t.Fatalf("lift_mode_variant min stage wrong")
	}
}

func TestApplicable_LiftModeVariantFalseWhenAlreadyLifted(t *testing.T) {
	cfg := config.AutomationConfig{Inputs: config.Inputs{Mode: config.InputLifted}}
	if Applicable(LiftModeVariant, cfg) {
		t.Fatalf("expected lift_mode_variant inapplicable for lifted inputs")
	}
}

func TestApplicable_CaptureAlignmentProfileRequiresPerceptualEnabled(t *testing.T) {
	cfg := config.AutomationConfig{Gates: config.Gates{Perceptual: config.PerceptualGate{Enabled: false}}}
	if Applicable(CaptureAlignmentProfile, cfg) {
		t.Fatalf("expected inapplicable when perceptual gate disabled")
	}
	cfg.Gates.Perceptual.Enabled = true
	if !Applicable(CaptureAlignmentProfile, cfg) {
		t.Fatalf("expected applicable when perceptual gate enabled")
	}
}
