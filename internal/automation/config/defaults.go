package config

import "path/filepath"

// Default values, reproduced from original_source/crates/recomp-cli/src/
// automation.rs's default_*() helpers (SPEC_FULL.md's "SUPPLEMENTED
// FEATURES" section).
const (
	DefaultMaxRetries                     = 5
	DefaultMaxRuntimeMinutes               = 120
	DefaultAudioRate                       = 48_000
	DefaultCloudObservePollIntervalSeconds = 2
	DefaultCloudObserveMaxPolls            = 3
	DefaultAgentGatewayReasonMaxLen        = 1024
	DefaultAgentGatewaySchemaPath          = "config/aws/model-gateway/strategy-response.schema.json"
	DefaultRuntimeCargoTOML                = "crates/recomp-runtime/Cargo.toml"
	DefaultSceneWeight                     = 1.0
	DefaultSSIMMin                         = 0.95
	DefaultPSNRMin                         = 35.0
	DefaultVMAFMin                         = 90.0
	DefaultAudioLUFSDeltaMax               = 2.0
	DefaultAudioPeakDeltaMax               = 2.0
)

// ResolveAgentGatewaySchemaPath returns agent's configured gateway schema
// path, resolved against repoRoot when relative, defaulting to
// DefaultAgentGatewaySchemaPath when unset.
func ResolveAgentGatewaySchemaPath(repoRoot string, agent Agent) string {
	path := agent.Gateway.SchemaPath
	if path == "" {
		path = DefaultAgentGatewaySchemaPath
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(repoRoot, path)
}

// DefaultStrategyOrder is the built-in fallback order, all six strategies
// in their spec-declared enumeration order.
func DefaultStrategyOrder() []string {
	return []string{
		"capture_alignment_profile",
		"input_timing_variant",
		"service_stub_profile_switch",
		"patch_set_variant",
		"lift_mode_variant",
		"runtime_mode_variant",
	}
}

func boolPtr(v bool) *bool { return &v }

func applyDefaults(cfg *AutomationConfig) {
	if cfg.Run.LiftMode == "" {
		cfg.Run.LiftMode = LiftDecode
	}
	if cfg.Tools.ComparePythonBin == "" {
		cfg.Tools.ComparePythonBin = "python3"
	}
	if cfg.Run.Resume == nil {
		cfg.Run.Resume = boolPtr(true)
	}

	if cfg.Loop.MaxRuntimeMinutes == 0 {
		cfg.Loop.MaxRuntimeMinutes = DefaultMaxRuntimeMinutes
	}
	if cfg.Loop.MaxRetries == 0 {
		cfg.Loop.MaxRetries = DefaultMaxRetries
	}
	if cfg.Loop.StopOnFirstPass == nil {
		cfg.Loop.StopOnFirstPass = boolPtr(true)
	}

	if cfg.Gates.Perceptual.SSIMMin == 0 {
		cfg.Gates.Perceptual.SSIMMin = DefaultSSIMMin
	}
	if cfg.Gates.Perceptual.PSNRMin == 0 {
		cfg.Gates.Perceptual.PSNRMin = DefaultPSNRMin
	}
	if cfg.Gates.Perceptual.VMAFMin == 0 {
		cfg.Gates.Perceptual.VMAFMin = DefaultVMAFMin
	}
	if cfg.Gates.Perceptual.AudioLUFSDeltaMax == 0 {
		cfg.Gates.Perceptual.AudioLUFSDeltaMax = DefaultAudioLUFSDeltaMax
	}
	if cfg.Gates.Perceptual.AudioPeakDeltaMax == 0 {
		cfg.Gates.Perceptual.AudioPeakDeltaMax = DefaultAudioPeakDeltaMax
	}
	if cfg.Gates.Perceptual.AudioRate == 0 {
		cfg.Gates.Perceptual.AudioRate = DefaultAudioRate
	}

	if cfg.Agent.Gateway.ReasonMaxLen == 0 {
		cfg.Agent.Gateway.ReasonMaxLen = DefaultAgentGatewayReasonMaxLen
	}
	if cfg.Agent.ApprovalMode == "" {
		cfg.Agent.ApprovalMode = "config_patch_only"
	}

	if cfg.Cloud.Mode == "" {
		cfg.Cloud.Mode = CloudLocal
	}
	if cfg.Cloud.ObserveExecution == nil {
		cfg.Cloud.ObserveExecution = boolPtr(true)
	}
	if cfg.Cloud.ObservePollIntervalSeconds == 0 {
		cfg.Cloud.ObservePollIntervalSeconds = DefaultCloudObservePollIntervalSeconds
	}
	if cfg.Cloud.ObserveMaxPolls == 0 {
		cfg.Cloud.ObserveMaxPolls = DefaultCloudObserveMaxPolls
	}

	for i := range cfg.Scenes {
		if cfg.Scenes[i].Weight == 0 {
			cfg.Scenes[i].Weight = DefaultSceneWeight
		}
	}
}
