// Package config loads, defaults, and validates the automation config —
// the TOML document describing one recompilation run — following the
// strict-decode-then-default-then-validate pipeline of
// internal/attractor/engine/config.go's RunConfigFile.
package config

import (
	"bytes"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Accepted automation config schema versions (spec.md §6).
var acceptedSchemaVersions = map[string]bool{"1": true, "2": true}

// InputMode selects which family of inputs/stages applies.
type InputMode string

const (
	InputHomebrew InputMode = "homebrew"
	InputXCI      InputMode = "xci"
	InputLifted   InputMode = "lifted"
)

// LiftMode toggles the lift stage's fidelity.
type LiftMode string

const (
	LiftStub   LiftMode = "stub"
	LiftDecode LiftMode = "decode"
)

// CloudMode selects local-only execution vs. AWS-hybrid submission.
type CloudMode string

const (
	CloudLocal     CloudMode = "local"
	CloudAWSHybrid CloudMode = "aws_hybrid"
)

// Inputs lists the binary/config inputs for one run.
type Inputs struct {
	Mode        InputMode `toml:"mode"`
	ModuleJSON  string    `toml:"module_json,omitempty"`
	NRO         string    `toml:"nro,omitempty"`
	NSO         []string  `toml:"nso,omitempty"`
	XCI         string    `toml:"xci,omitempty"`
	Keys        string    `toml:"keys,omitempty"`
	Provenance  string    `toml:"provenance"`
	Config      string    `toml:"config"`
	RuntimePath string    `toml:"runtime_path,omitempty"`
}

// Outputs describes the run's work-tree root.
type Outputs struct {
	WorkRoot string `toml:"work_root"`
}

// Reference describes reference/capture descriptors and optional
// scripted-input/validation-config overlays.
type Reference struct {
	ReferenceVideoTOML  string `toml:"reference_video_toml"`
	CaptureVideoTOML    string `toml:"capture_video_toml"`
	ValidationConfigTOML string `toml:"validation_config_toml,omitempty"`
	InputScriptTOML     string `toml:"input_script_toml,omitempty"`
}

// Capture describes where captured output lands.
type Capture struct {
	VideoPath string `toml:"video_path"`
	FramesDir string `toml:"frames_dir"`
	AudioFile string `toml:"audio_file,omitempty"`
}

// Commands holds the external argv for each pipeline subprocess.
type Commands struct {
	Build         []string `toml:"build"`
	Run           []string `toml:"run"`
	Capture       []string `toml:"capture"`
	ExtractFrames []string `toml:"extract_frames"`
	ExtractAudio  []string `toml:"extract_audio,omitempty"`
	Lift          []string `toml:"lift,omitempty"`
}

// XCITool selects the container-unpack tool for xci inputs.
type XCITool string

const (
	XCIToolAuto       XCITool = "auto"
	XCIToolHactool    XCITool = "hactool"
	XCIToolHactoolnet XCITool = "hactoolnet"
	XCIToolMock       XCITool = "mock"
)

// Tools holds optional external tool paths.
type Tools struct {
	XCITool          XCITool `toml:"xci_tool,omitempty"`
	XCIToolPath      string  `toml:"xci_tool_path,omitempty"`
	FFmpegPath       string  `toml:"ffmpeg_path,omitempty"`
	ComparePythonBin string  `toml:"compare_python_bin,omitempty"`
	CompareScript    string  `toml:"compare_script,omitempty"`
}

// Ghidra configures the optional headless static-analysis pass.
type Ghidra struct {
	Enabled           bool   `toml:"enabled"`
	HeadlessPath      string `toml:"headless_path,omitempty"`
	ProjectRoot       string `toml:"project_root,omitempty"`
	ProjectName       string `toml:"project_name,omitempty"`
	ScriptPath        string `toml:"script_path,omitempty"`
	PreScript         string `toml:"pre_script,omitempty"`
	PostScript        string `toml:"post_script,omitempty"`
	TargetBinary      string `toml:"target_binary,omitempty"`
	LanguageID        string `toml:"language_id,omitempty"`
	AnalysisTimeoutSec int   `toml:"analysis_timeout_sec,omitempty"`
}

// Run holds resume/lift-mode knobs. Resume is a pointer so an absent key
// can default to true while an explicit `resume = false` is honored.
type Run struct {
	Resume    *bool    `toml:"resume,omitempty"`
	LiftEntry string   `toml:"lift_entry,omitempty"`
	LiftMode  LiftMode `toml:"lift_mode,omitempty"`
}

// Loop configures the attempt/retry loop. StopOnFirstPass is a pointer for
// the same absent-vs-false reason as Run.Resume.
type Loop struct {
	Enabled             bool     `toml:"enabled"`
	MaxRetries          int      `toml:"max_retries"`
	MaxRuntimeMinutes   uint64   `toml:"max_runtime_minutes"`
	StrategyOrder       []string `toml:"strategy_order,omitempty"`
	StopOnFirstPass     *bool    `toml:"stop_on_first_pass,omitempty"`
	StrategyCatalogTOML string   `toml:"strategy_catalog_toml,omitempty"`
}

// HashGate holds optional override thresholds for the hash gate.
type HashGate struct {
	FrameMatchRatioMin  *float64 `toml:"frame_match_ratio_min,omitempty"`
	MaxDriftFrames      *float64 `toml:"max_drift_frames,omitempty"`
	MaxDroppedFrames    *float64 `toml:"max_dropped_frames,omitempty"`
	AudioMatchRatioMin  *float64 `toml:"audio_match_ratio_min,omitempty"`
	MaxAudioDriftChunks *float64 `toml:"max_audio_drift_chunks,omitempty"`
}

// PerceptualGate configures the optional metric-based gate.
type PerceptualGate struct {
	Enabled             bool      `toml:"enabled"`
	SSIMMin             float64   `toml:"ssim_min"`
	PSNRMin             float64   `toml:"psnr_min"`
	VMAFMin             float64   `toml:"vmaf_min"`
	AudioLUFSDeltaMax   float64   `toml:"audio_lufs_delta_max"`
	AudioPeakDeltaMax   float64   `toml:"audio_peak_delta_max"`
	RequireVMAF         bool      `toml:"require_vmaf"`
	AudioRate           uint32    `toml:"audio_rate"`
	OffsetSeconds       float64   `toml:"offset_seconds"`
}

// Gates groups both gates.
type Gates struct {
	Hash       HashGate       `toml:"hash"`
	Perceptual PerceptualGate `toml:"perceptual"`
}

// AgentGateway configures the strategy-approval subprocess oracle.
type AgentGateway struct {
	Command      []string `toml:"command,omitempty"`
	ReasonMaxLen int      `toml:"reason_max_len"`
	SchemaPath   string   `toml:"schema_path,omitempty"`
}

// Agent configures the optional agent-gateway policy layer.
type Agent struct {
	Enabled         bool         `toml:"enabled"`
	Model           string       `toml:"model,omitempty"`
	ModelAllowlist  []string     `toml:"model_allowlist,omitempty"`
	ReasoningEffort string       `toml:"reasoning_effort,omitempty"`
	MaxCostUSD      *float64     `toml:"max_cost_usd,omitempty"`
	ApprovalMode    string       `toml:"approval_mode,omitempty"`
	Gateway         AgentGateway `toml:"gateway"`
}

// Cloud configures the optional AWS-hybrid submission path.
type Cloud struct {
	Mode                       CloudMode `toml:"mode"`
	ArtifactURI                string    `toml:"artifact_uri,omitempty"`
	QueueName                  string    `toml:"queue_name,omitempty"`
	QueueURL                   string    `toml:"queue_url,omitempty"`
	StateMachineARN            string    `toml:"state_machine_arn,omitempty"`
	AWSCLIPath                 string    `toml:"aws_cli_path,omitempty"`
	ObserveExecution           *bool     `toml:"observe_execution,omitempty"`
	ObservePollIntervalSeconds uint64    `toml:"observe_poll_interval_seconds"`
	ObserveMaxPolls            int       `toml:"observe_max_polls"`
}

// Scene describes one validation time window.
type Scene struct {
	ID                string  `toml:"id"`
	Start             string  `toml:"start"`
	End               string  `toml:"end"`
	InputMarkerStart  string  `toml:"input_marker_start,omitempty"`
	InputMarkerEnd    string  `toml:"input_marker_end,omitempty"`
	Weight            float64 `toml:"weight"`
}

// AutomationConfig is the full decoded run configuration.
type AutomationConfig struct {
	SchemaVersion string    `toml:"schema_version"`
	Inputs        Inputs    `toml:"inputs"`
	Outputs       Outputs   `toml:"outputs"`
	Reference     Reference `toml:"reference"`
	Capture       Capture   `toml:"capture"`
	Commands      Commands  `toml:"commands"`
	Tools         Tools     `toml:"tools"`
	Ghidra        Ghidra    `toml:"ghidra"`
	Run           Run       `toml:"run"`
	Loop          Loop      `toml:"loop"`
	Gates         Gates     `toml:"gates"`
	Agent         Agent     `toml:"agent"`
	Cloud         Cloud     `toml:"cloud"`
	Scenes        []Scene   `toml:"scenes,omitempty"`
}

// Load reads path, strict-decodes it, applies defaults, and validates the
// result, returning a ready-to-use AutomationConfig.
func Load(path string) (AutomationConfig, error) {
	var cfg AutomationConfig

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read automation config %s: %w", path, err)
	}

	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse automation config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid automation config %s: %w", path, err)
	}
	return cfg, nil
}
