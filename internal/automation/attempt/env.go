package attempt

import (
	"github.com/danshapiro/recomp/internal/automation/config"
	"github.com/danshapiro/recomp/internal/automation/pathresolve"
)

// SubprocessEnv builds the RECOMP_* variables every pipeline subprocess
// (build/run/capture/extraction/lift/ghidra/gateway) receives, mirroring
// the on-disk layout those paths point at.
func SubprocessEnv(rp pathresolve.RunPaths, cfg config.AutomationConfig) []string {
	env := []string{
		"RECOMP_WORK_ROOT=" + rp.WorkRoot,
		"RECOMP_INTAKE_DIR=" + rp.IntakeDir,
		"RECOMP_LIFT_DIR=" + rp.LiftDir,
		"RECOMP_BUILD_DIR=" + rp.BuildDir,
		"RECOMP_ASSETS_DIR=" + rp.AssetsDir,
		"RECOMP_REFERENCE_VIDEO_TOML=" + cfg.Reference.ReferenceVideoTOML,
		"RECOMP_CAPTURE_VIDEO_TOML=" + cfg.Reference.CaptureVideoTOML,
		"RECOMP_CAPTURE_VIDEO=" + cfg.Capture.VideoPath,
		"RECOMP_CAPTURE_FRAMES_DIR=" + cfg.Capture.FramesDir,
		"RECOMP_VALIDATION_DIR=" + rp.ValidationDir,
		"RECOMP_RUN_MANIFEST=" + rp.RunManifest,
		"RECOMP_RUN_SUMMARY=" + rp.RunSummary,
		"RECOMP_LIFTED_MODULE_JSON=" + rp.LiftedModuleJSON,
		"RECOMP_CLOUD_MODE=" + string(cfg.Cloud.Mode),
	}
	if cfg.Capture.AudioFile != "" {
		env = append(env, "RECOMP_CAPTURE_AUDIO_FILE="+cfg.Capture.AudioFile)
	}
	if cfg.Reference.ValidationConfigTOML != "" {
		env = append(env, "RECOMP_VALIDATION_CONFIG_TOML="+cfg.Reference.ValidationConfigTOML)
	}
	if cfg.Reference.InputScriptTOML != "" {
		env = append(env, "RECOMP_INPUT_SCRIPT_TOML="+cfg.Reference.InputScriptTOML)
	}
	if cfg.Cloud.Mode == config.CloudAWSHybrid {
		if cfg.Cloud.ArtifactURI != "" {
			env = append(env, "RECOMP_CLOUD_ARTIFACT_URI="+cfg.Cloud.ArtifactURI)
		}
		if cfg.Cloud.QueueName != "" {
			env = append(env, "RECOMP_CLOUD_QUEUE_NAME="+cfg.Cloud.QueueName)
		}
		if cfg.Cloud.QueueURL != "" {
			env = append(env, "RECOMP_CLOUD_QUEUE_URL="+cfg.Cloud.QueueURL)
		}
		if cfg.Cloud.StateMachineARN != "" {
			env = append(env, "RECOMP_CLOUD_STATE_MACHINE_ARN="+cfg.Cloud.StateMachineARN)
		}
		if cfg.Cloud.AWSCLIPath != "" {
			env = append(env, "RECOMP_CLOUD_AWS_CLI_PATH="+cfg.Cloud.AWSCLIPath)
		}
	}
	if cfg.Agent.Gateway.SchemaPath != "" {
		env = append(env, "RECOMP_AGENT_GATEWAY_SCHEMA_PATH="+cfg.Agent.Gateway.SchemaPath)
	}
	return env
}
