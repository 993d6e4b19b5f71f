package config

import (
	"fmt"
	"slices"
	"strings"
)

// validate enforces spec.md §6's config-validity rules, returning a
// descriptive error on the first violation found — mirroring
// internal/attractor/engine/config.go's validateConfig style of one
// fmt.Errorf per condition.
func validate(cfg *AutomationConfig) error {
	if !acceptedSchemaVersions[cfg.SchemaVersion] {
		return fmt.Errorf("unsupported schema_version %q", cfg.SchemaVersion)
	}

	switch cfg.Inputs.Mode {
	case InputHomebrew, InputXCI, InputLifted:
	default:
		return fmt.Errorf("inputs.mode must be one of homebrew|xci|lifted, got %q", cfg.Inputs.Mode)
	}
	if cfg.Inputs.Provenance == "" {
		return fmt.Errorf("inputs.provenance is required")
	}
	if cfg.Inputs.Config == "" {
		return fmt.Errorf("inputs.config is required")
	}
	switch cfg.Inputs.Mode {
	case InputHomebrew:
		if cfg.Inputs.NRO == "" {
			return fmt.Errorf("inputs.nro is required when mode=homebrew")
		}
	case InputXCI:
		if cfg.Inputs.XCI == "" {
			return fmt.Errorf("inputs.xci is required when mode=xci")
		}
		if cfg.Inputs.Keys == "" {
			return fmt.Errorf("inputs.keys is required when mode=xci")
		}
		if len(cfg.Commands.Lift) == 0 {
			return fmt.Errorf("commands.lift is required when mode=xci")
		}
	case InputLifted:
		if cfg.Inputs.ModuleJSON == "" {
			return fmt.Errorf("inputs.module_json is required when mode=lifted")
		}
	}

	if cfg.Outputs.WorkRoot == "" {
		return fmt.Errorf("outputs.work_root is required")
	}
	if cfg.Reference.ReferenceVideoTOML == "" {
		return fmt.Errorf("reference.reference_video_toml is required")
	}
	if cfg.Reference.CaptureVideoTOML == "" {
		return fmt.Errorf("reference.capture_video_toml is required")
	}
	if cfg.Capture.VideoPath == "" {
		return fmt.Errorf("capture.video_path is required")
	}
	if cfg.Capture.FramesDir == "" {
		return fmt.Errorf("capture.frames_dir is required")
	}
	if len(cfg.Commands.Build) == 0 {
		return fmt.Errorf("commands.build is required")
	}
	if len(cfg.Commands.Run) == 0 {
		return fmt.Errorf("commands.run is required")
	}
	if len(cfg.Commands.Capture) == 0 {
		return fmt.Errorf("commands.capture is required")
	}
	if len(cfg.Commands.ExtractFrames) == 0 {
		return fmt.Errorf("commands.extract_frames is required")
	}

	if cfg.Loop.StrategyCatalogTOML == "" {
		order := cfg.Loop.StrategyOrder
		if len(order) == 0 {
			order = DefaultStrategyOrder()
		}
		valid := make(map[string]bool)
		for _, id := range DefaultStrategyOrder() {
			valid[id] = true
		}
		for _, id := range order {
			if !valid[id] {
				return fmt.Errorf("loop.strategy_order: unknown strategy id %q", id)
			}
		}
	}

	if cfg.Agent.Enabled {
		if cfg.Agent.Model == "" {
			return fmt.Errorf("agent.model is required when agent.enabled=true")
		}
		if len(cfg.Agent.ModelAllowlist) > 0 && !slices.Contains(cfg.Agent.ModelAllowlist, cfg.Agent.Model) {
			return fmt.Errorf("agent.model %q is not present in non-empty agent.model_allowlist", cfg.Agent.Model)
		}
		if cfg.Agent.MaxCostUSD == nil || *cfg.Agent.MaxCostUSD <= 0 {
			return fmt.Errorf("agent.max_cost_usd must be > 0 when agent.enabled=true")
		}
		if cfg.Loop.Enabled && cfg.Loop.MaxRetries > 0 {
			if len(cfg.Agent.Gateway.Command) == 0 {
				return fmt.Errorf("agent.gateway.command is required when retries are enabled")
			}
			if cfg.Agent.Gateway.ReasonMaxLen < 1 {
				return fmt.Errorf("agent.gateway.reason_max_len must be >= 1")
			}
		}
		// schema_path may be relative to the repository root rather than the
		// process cwd, so its existence is checked by RunController once
		// RepoRoot is known, not here.
	}

	if cfg.Cloud.Mode == CloudAWSHybrid {
		if !strings.HasPrefix(cfg.Cloud.ArtifactURI, "s3://") {
			return fmt.Errorf("cloud.artifact_uri must start with s3:// when cloud.mode=aws_hybrid")
		}
		if cfg.Cloud.QueueName == "" {
			return fmt.Errorf("cloud.queue_name is required when cloud.mode=aws_hybrid")
		}
		if cfg.Cloud.StateMachineARN == "" {
			return fmt.Errorf("cloud.state_machine_arn is required when cloud.mode=aws_hybrid")
		}
		if cfg.Cloud.ObserveMaxPolls < 1 {
			return fmt.Errorf("cloud.observe_max_polls must be >= 1")
		}
		if cfg.Cloud.ObservePollIntervalSeconds < 1 {
			return fmt.Errorf("cloud.observe_poll_interval_seconds must be >= 1")
		}
	}

	return nil
}
