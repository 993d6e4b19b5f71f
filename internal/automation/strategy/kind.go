// Package strategy implements the closed set of mutation strategies the
// retry loop cycles through between attempts, grounded on automation.rs's
// StrategyKind/resolve_strategy_order/apply_strategy.
package strategy

import (
	"os"

	"github.com/danshapiro/recomp/internal/automation/config"
	"github.com/danshapiro/recomp/internal/automation/stage"
)

// Kind is one of the six fixed mutation strategies, named by the exported
// constants below. FromID maps an on-disk identifier to a Kind and rejects
// anything else.
type Kind int

const (
	CaptureAlignmentProfile Kind = iota
	InputTimingVariant
	ServiceStubProfileSwitch
	PatchSetVariant
	LiftModeVariant
	RuntimeModeVariant
)

// ID returns the strategy's stable on-disk/config identifier.
func (k Kind) ID() string {
	switch k {
	case CaptureAlignmentProfile:
		return "capture_alignment_profile"
	case InputTimingVariant:
		return "input_timing_variant"
	case ServiceStubProfileSwitch:
		return "service_stub_profile_switch"
	case PatchSetVariant:
		return "patch_set_variant"
	case LiftModeVariant:
		return "lift_mode_variant"
	case RuntimeModeVariant:
		return "runtime_mode_variant"
	default:
		return ""
	}
}

// FromID resolves an on-disk identifier to a Kind.
func FromID(id string) (Kind, bool) {
	for _, k := range All() {
		if k.ID() == id {
			return k, true
		}
	}
	return 0, false
}

// All returns every strategy kind in a fixed, stable order.
func All() []Kind {
	return []Kind{
		CaptureAlignmentProfile,
		InputTimingVariant,
		ServiceStubProfileSwitch,
		PatchSetVariant,
		LiftModeVariant,
		RuntimeModeVariant,
	}
}

// MinStage is the earliest stage ordinal this strategy's mutation can
// possibly affect; stages before it remain cache-eligible across attempts
// that chose this strategy.
func (k Kind) MinStage() stage.Ordinal {
	switch k {
	case CaptureAlignmentProfile:
		return stage.ValidatePerceptual
	case InputTimingVariant:
		return stage.Run
	case ServiceStubProfileSwitch:
		return stage.Pipeline
	case PatchSetVariant:
		return stage.Pipeline
	case LiftModeVariant:
		return stage.Lift
	case RuntimeModeVariant:
		return stage.Run
	default:
		return stage.Intake
	}
}

// Applicable reports whether this strategy has anything to mutate given
// the current config — e.g. InputTimingVariant needs a scripted input
// overlay, ServiceStubProfileSwitch/PatchSetVariant/RuntimeModeVariant need
// a title config file to exist.
func Applicable(k Kind, cfg config.AutomationConfig) bool {
	switch k {
	case CaptureAlignmentProfile:
		return cfg.Gates.Perceptual.Enabled
	case InputTimingVariant:
		return cfg.Reference.InputScriptTOML != ""
	case ServiceStubProfileSwitch, PatchSetVariant, RuntimeModeVariant:
		return fileExists(cfg.Inputs.Config)
	case LiftModeVariant:
		return cfg.Inputs.Mode != config.InputLifted
	default:
		return false
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
