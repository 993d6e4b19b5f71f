// Package pathresolve implements PathResolver: canonicalizing
// config-relative paths and deriving the work-tree layout (spec.md §4.1).
package pathresolve

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Resolve returns p unchanged if absolute, else base joined with p.
func Resolve(base, p string) string {
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// RunPaths is the resolved, absolute on-disk layout for one run.
type RunPaths struct {
	RepoRoot   string
	ConfigDir  string
	// ConfigPath is the automation config file's own path, hashed as the
	// synthetic "automation_config" input; callers set it after
	// DeriveRunPaths once the config file's location is known.
	ConfigPath string
	WorkRoot   string
	IntakeDir  string
	LiftDir    string
	BuildDir   string
	AssetsDir  string
	ValidationDir string
	LogDir     string
	RunManifest string
	RunSummary  string
	LiftedModuleJSON string
	AttemptsRoot string

	CloudDir               string
	CloudRunRequest        string
	CloudStateMachineInput string
	CloudStatusLog         string
	CloudSubmissionReceipt string

	AgentDir      string
	AgentAuditLog string
}

// DeriveRunPaths fills in the work-tree layout relative to workRoot
// (already resolved absolute), per spec.md §4.1 and §6.
func DeriveRunPaths(repoRoot, configDir, workRoot string) RunPaths {
	cloudDir := filepath.Join(workRoot, "cloud")
	agentDir := filepath.Join(workRoot, "agent")
	return RunPaths{
		RepoRoot:         repoRoot,
		ConfigDir:        configDir,
		WorkRoot:         workRoot,
		IntakeDir:        filepath.Join(workRoot, "intake"),
		LiftDir:          filepath.Join(workRoot, "lift"),
		BuildDir:         filepath.Join(workRoot, "build"),
		AssetsDir:        filepath.Join(workRoot, "assets"),
		ValidationDir:    filepath.Join(workRoot, "validation"),
		LogDir:           filepath.Join(workRoot, "logs"),
		RunManifest:      filepath.Join(workRoot, "run-manifest.json"),
		RunSummary:       filepath.Join(workRoot, "run-summary.json"),
		LiftedModuleJSON: filepath.Join(workRoot, "lift", "module.json"),
		AttemptsRoot:     filepath.Join(workRoot, "attempts"),

		CloudDir:               cloudDir,
		CloudRunRequest:        filepath.Join(cloudDir, "run-request.json"),
		CloudStateMachineInput: filepath.Join(cloudDir, "state-machine-input.json"),
		CloudStatusLog:         filepath.Join(cloudDir, "status-events.jsonl"),
		CloudSubmissionReceipt: filepath.Join(cloudDir, "submission-receipt.json"),

		AgentDir:      agentDir,
		AgentAuditLog: filepath.Join(agentDir, "audit-events.jsonl"),
	}
}

// AttemptPaths is the per-attempt layout nested under AttemptsRoot/NNN.
type AttemptPaths struct {
	Dir             string
	LogDir          string
	ValidationDir   string
	MutationsDir    string
	RunManifest     string
	AttemptManifest string
	GateResults     string
	Triage          string
}

// DeriveAttemptPaths builds the zero-padded-to-3 per-attempt directory
// layout, spec.md §4.1.
func DeriveAttemptPaths(rp RunPaths, attempt int) AttemptPaths {
	dir := filepath.Join(rp.AttemptsRoot, fmt.Sprintf("%03d", attempt))
	return AttemptPaths{
		Dir:             dir,
		LogDir:          filepath.Join(dir, "logs"),
		ValidationDir:   filepath.Join(dir, "validation"),
		MutationsDir:    filepath.Join(dir, "mutations"),
		RunManifest:     filepath.Join(dir, "run-manifest.json"),
		AttemptManifest: filepath.Join(dir, "attempt-manifest.json"),
		GateResults:     filepath.Join(dir, "gate-results.json"),
		Triage:          filepath.Join(dir, "triage.json"),
	}
}

// FormatPath renders an absolute path relative to configDir for storage in
// a manifest, falling back to the absolute path when it isn't beneath
// configDir — mirrors automation.rs's format_path.
func FormatPath(configDir, path string) string {
	rel, err := filepath.Rel(configDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

// ValidateWorkRootOutsideRepo enforces spec.md §4.1: work_root must not be
// inside repoRoot when cloud mode is aws_hybrid.
func ValidateWorkRootOutsideRepo(repoRoot, workRoot string) error {
	rel, err := filepath.Rel(repoRoot, workRoot)
	if err != nil {
		return nil
	}
	if rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)) {
		return fmt.Errorf("outputs.work_root must not be inside the repository root when cloud.mode=aws_hybrid")
	}
	return nil
}
