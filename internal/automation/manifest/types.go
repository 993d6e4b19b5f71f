// Package manifest defines the recompilation run's data model and the
// on-disk JSON/JSONL store that persists it.
package manifest

import "strconv"

// Schema version constants. Accepted automation config versions are
// handled by the config package; these govern the manifest/event family.
const (
	RunManifestSchemaVersion            = "2"
	AttemptManifestSchemaVersion        = "1"
	RunSummarySchemaVersion             = "1"
	StrategyCatalogSchemaVersion        = "1"
	CloudRunRequestSchemaVersion        = "1"
	CloudStatusEventSchemaVersion       = "1"
	CloudSubmissionReceiptSchemaVersion = "1"
	AgentAuditSchemaVersion             = "1"
	AgentGatewayRequestSchemaVersion    = "1"
	AgentGatewayResponseSchemaVersion   = "1"
)

// AttemptStatus is the tri-state outcome of one attempt.
type AttemptStatus string

const (
	AttemptPassed      AttemptStatus = "passed"
	AttemptFailed      AttemptStatus = "failed"
	AttemptNeedsReview AttemptStatus = "needs_review"
)

// RunFinalStatus is the terminal status of a whole run.
type RunFinalStatus string

const (
	RunPassed      RunFinalStatus = "passed"
	RunFailed      RunFinalStatus = "failed"
	RunNeedsReview RunFinalStatus = "needs_review"
	RunExhausted   RunFinalStatus = "exhausted"
)

// StepStatus is the outcome of a single stage execution.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// RunInput describes one distinct, hashed input file.
type RunInput struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// FingerprintName, FingerprintSHA256, and FingerprintSize satisfy
// hashutil.Named so the input fingerprint can be computed without the
// hashutil package importing manifest.
func (in RunInput) FingerprintName() string   { return in.Name }
func (in RunInput) FingerprintSHA256() string { return in.SHA256 }
func (in RunInput) FingerprintSize() int64    { return in.Size }

// RunArtifact is one content-hashed, role-tagged output file.
type RunArtifact struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Role   string `json:"role"`
}

// RunStep records one stage execution (cached or freshly run).
type RunStep struct {
	Name       string     `json:"name"`
	Status     StepStatus `json:"status"`
	DurationMS int64      `json:"duration_ms"`
	Command    []string   `json:"command,omitempty"`
	StdoutPath string     `json:"stdout_path,omitempty"`
	StderrPath string     `json:"stderr_path,omitempty"`
	Outputs    []string   `json:"outputs"`
	Notes      string     `json:"notes,omitempty"`
}

// HashGateResult is the outcome of the hash gate for one attempt.
type HashGateResult struct {
	Passed             bool     `json:"passed"`
	FailedCases        int      `json:"failed_cases"`
	FrameMatchRatio    *float64 `json:"frame_match_ratio,omitempty"`
	FrameDriftFrames   *float64 `json:"frame_drift_frames,omitempty"`
	FrameLengthDelta   *float64 `json:"frame_length_delta,omitempty"`
	AudioMatchRatio    *float64 `json:"audio_match_ratio,omitempty"`
	AudioDriftChunks   *float64 `json:"audio_drift_chunks,omitempty"`
	Failures           []string `json:"failures"`
	ReportPath         string   `json:"report_path,omitempty"`
	DriftSecondsHint   *float64 `json:"drift_seconds_hint,omitempty"`
}

// PerceptualSceneResult is one scene window's perceptual-gate measurement.
type PerceptualSceneResult struct {
	ID            string   `json:"id"`
	Weight        float64  `json:"weight"`
	Passed        bool     `json:"passed"`
	SummaryPath   string   `json:"summary_path"`
	SSIMAvg       *float64 `json:"ssim_avg,omitempty"`
	PSNRAvg       *float64 `json:"psnr_avg,omitempty"`
	VMAFAvg       *float64 `json:"vmaf_avg,omitempty"`
	AudioLUFSDiff *float64 `json:"audio_lufs_delta,omitempty"`
	AudioPeakDiff *float64 `json:"audio_peak_delta,omitempty"`
	Failures      []string `json:"failures"`
}

// PerceptualGateResult aggregates all scene results for one attempt.
type PerceptualGateResult struct {
	Enabled       bool                    `json:"enabled"`
	Passed        bool                    `json:"passed"`
	WeightedScore float64                 `json:"weighted_score"`
	TotalWeight   float64                 `json:"total_weight"`
	PassedWeight  float64                 `json:"passed_weight"`
	FailingScene  string                  `json:"failing_scene,omitempty"`
	Scenes        []PerceptualSceneResult `json:"scenes"`
}

// GateResults composes the hash and (optional) perceptual gate into an
// attempt status.
type GateResults struct {
	SchemaVersion string                `json:"schema_version"`
	Hash          HashGateResult        `json:"hash"`
	Perceptual    *PerceptualGateResult `json:"perceptual,omitempty"`
	Status        AttemptStatus         `json:"status"`
}

// TriageReport explains why an attempt failed and what to try next.
type TriageReport struct {
	SchemaVersion    string        `json:"schema_version"`
	Attempt          int           `json:"attempt"`
	Status           AttemptStatus `json:"status"`
	Categories       []string      `json:"categories"`
	Findings         []string      `json:"findings"`
	SuggestedActions []string      `json:"suggested_actions"`
	NextStrategy     string        `json:"next_strategy,omitempty"`
}

// AttemptRecord is the run-manifest's summary of one attempt.
type AttemptRecord struct {
	Attempt         int           `json:"attempt"`
	Strategy        string        `json:"strategy,omitempty"`
	Status          AttemptStatus `json:"status"`
	AttemptManifest string        `json:"attempt_manifest"`
	GateResults     string        `json:"gate_results"`
	Triage          string        `json:"triage"`
}

// AttemptManifest is the full per-attempt snapshot, embedding the run
// manifest as it stood at the end of this attempt.
type AttemptManifest struct {
	SchemaVersion  string        `json:"schema_version"`
	Attempt        int           `json:"attempt"`
	Strategy       string        `json:"strategy,omitempty"`
	Status         AttemptStatus `json:"status"`
	StartedAt      string        `json:"started_at"`
	DurationMS     int64         `json:"duration_ms"`
	RunManifest    RunManifest   `json:"run_manifest"`
	GateResults    GateResults   `json:"gate_results"`
	Triage         TriageReport  `json:"triage"`
	GhidraEvidence string        `json:"ghidra_evidence,omitempty"`
}

// RunManifest is the append-only aggregate for an entire run.
type RunManifest struct {
	SchemaVersion     string            `json:"schema_version"`
	InputFingerprint  string            `json:"input_fingerprint"`
	Inputs            []RunInput        `json:"inputs"`
	Steps             []RunStep         `json:"steps"`
	Artifacts         []RunArtifact     `json:"artifacts"`
	ValidationReport  string            `json:"validation_report,omitempty"`
	Attempts          []AttemptRecord   `json:"attempts"`
	WinningAttempt    *int              `json:"winning_attempt,omitempty"`
	FinalStatus       *RunFinalStatus   `json:"final_status,omitempty"`
	RunSummary        *RunSummary       `json:"run_summary,omitempty"`
	StrategyCatalog   []string          `json:"strategy_catalog,omitempty"`
}

// RunSummary is an audit-facing summary of a completed (or halted) run.
type RunSummary struct {
	SchemaVersion      string          `json:"schema_version"`
	RunID              string          `json:"run_id"`
	InputFingerprint   string          `json:"input_fingerprint"`
	Status             RunFinalStatus  `json:"status"`
	Attempts           int             `json:"attempts"`
	WinningAttempt     *int            `json:"winning_attempt,omitempty"`
	DurationMS         int64           `json:"duration_ms"`
	CloudMode          string          `json:"cloud_mode"`
	AgentEnabled       bool            `json:"agent_enabled"`
	HaltedReason       string          `json:"halted_reason,omitempty"`
	CloudRunRequest    string          `json:"cloud_run_request,omitempty"`
	CloudStatusLog     string          `json:"cloud_status_log,omitempty"`
	AgentAuditLog      string          `json:"agent_audit_log,omitempty"`
}

// CloudRunRequest is the payload sent to SQS when submitting a run.
type CloudRunRequest struct {
	SchemaVersion      string `json:"schema_version"`
	RunID              string `json:"run_id"`
	QueueName          string `json:"queue_name"`
	ArtifactURI        string `json:"artifact_uri"`
	StateMachineARN    string `json:"state_machine_arn,omitempty"`
	InputFingerprint   string `json:"input_fingerprint"`
	MaxAttempts        int    `json:"max_attempts"`
	MaxRuntimeMinutes  uint64 `json:"max_runtime_minutes"`
	SubmittedUnix      int64  `json:"submitted_unix"`
}

// CloudStateMachineInput is the payload passed to start-execution.
type CloudStateMachineInput struct {
	RunID            string `json:"run_id"`
	RunRequestPath   string `json:"run_request_path"`
	InputFingerprint string `json:"input_fingerprint"`
	MaxAttempts      int    `json:"max_attempts"`
}

// CloudStatusEvent is one append-only, deduplicated cloud-progress line.
type CloudStatusEvent struct {
	SchemaVersion string          `json:"schema_version"`
	RunID         string          `json:"run_id"`
	Event         string          `json:"event"`
	Unix          int64           `json:"unix"`
	Attempt       *int            `json:"attempt,omitempty"`
	Status        *AttemptStatus  `json:"status,omitempty"`
	FinalStatus   *RunFinalStatus `json:"final_status,omitempty"`
	Detail        string          `json:"detail,omitempty"`
}

// IdempotencyKey returns this event's dedup tuple per manifest.Store's
// append-if-not-present contract (spec.md §4.3).
func (e CloudStatusEvent) IdempotencyKey() [7]string {
	attempt, status, final := "", "", ""
	if e.Attempt != nil {
		attempt = strconv.Itoa(*e.Attempt)
	}
	if e.Status != nil {
		status = string(*e.Status)
	}
	if e.FinalStatus != nil {
		final = string(*e.FinalStatus)
	}
	return [7]string{e.SchemaVersion, e.RunID, e.Event, attempt, status, final, e.Detail}
}

// CloudSubmissionReceipt is the write-once proof a cloud execution started.
type CloudSubmissionReceipt struct {
	SchemaVersion    string `json:"schema_version"`
	RunID            string `json:"run_id"`
	InputFingerprint string `json:"input_fingerprint,omitempty"`
	QueueURL         string `json:"queue_url"`
	SQSMessageID     string `json:"sqs_message_id"`
	ExecutionARN     string `json:"execution_arn"`
	ExecutionName    string `json:"execution_name"`
	SubmittedUnix    int64  `json:"submitted_unix"`
}

// AgentAuditEvent is one append-only, redacted audit line.
type AgentAuditEvent struct {
	SchemaVersion string `json:"schema_version"`
	RunID         string `json:"run_id"`
	Event         string `json:"event"`
	Unix          int64  `json:"unix"`
	Attempt       *int   `json:"attempt,omitempty"`
	Strategy      string `json:"strategy,omitempty"`
	Model         string `json:"model,omitempty"`
	ApprovalMode  string `json:"approval_mode"`
	Allowed       bool   `json:"allowed"`
	Reason        string `json:"reason"`
	Redacted      bool   `json:"redacted"`
}

// AgentGatewayRequest is sent to the gateway subprocess via env var.
type AgentGatewayRequest struct {
	SchemaVersion      string   `json:"schema_version"`
	RequestID          string   `json:"request_id"`
	RunID              string   `json:"run_id"`
	Attempt            int      `json:"attempt"`
	Strategy           string   `json:"strategy"`
	PreviousCategories []string `json:"previous_categories"`
	PreviousFindings   []string `json:"previous_findings"`
}

// AgentGatewayResponse is the gateway subprocess's decision.
type AgentGatewayResponse struct {
	SchemaVersion string  `json:"schema_version"`
	Strategy      string  `json:"strategy"`
	Confidence    float64 `json:"confidence"`
	Reason        string  `json:"reason"`
	CostUSD       float64 `json:"cost_usd"`
}
