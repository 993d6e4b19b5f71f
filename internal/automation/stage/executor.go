package stage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/danshapiro/recomp/internal/automation/hashutil"
	"github.com/danshapiro/recomp/internal/automation/manifest"
	"github.com/danshapiro/recomp/internal/automation/pathresolve"
)

// Outcome is what an action returns: either a successful step with
// recorded outputs, or a failure detail.
type Outcome struct {
	Status  manifest.StepStatus
	Command []string
	Outputs []string
	Stdout  string
	Stderr  string
}

// Action performs one stage's work and returns its outcome or an error.
// A returned error means the action itself could not run (spec.md §7
// "Stage action error"); a returned Outcome with Status=failed means the
// subprocess ran but reported failure.
type Action func() (Outcome, error)

// State threads the mutable pieces an attempt's StageExecutor needs across
// calls: the running manifest, the artifact set, and the previous
// attempt's steps (for cache lookups).
type State struct {
	Manifest      manifest.RunManifest
	Artifacts     map[string]manifest.RunArtifact
	PreviousSteps map[string]manifest.RunStep
	Cache         *Cache
}

// NewState seeds a fresh per-attempt state; previous carries forward
// failed-and-succeeded steps from the prior attempt as historical cache
// context (spec.md §9 Open Question: only succeeded steps are cache-hit
// eligible, but both are carried forward).
func NewState(base manifest.RunManifest, previous map[string]manifest.RunStep) *State {
	artifacts := make(map[string]manifest.RunArtifact, len(base.Artifacts))
	for _, a := range base.Artifacts {
		artifacts[a.Path] = a
	}
	if previous == nil {
		previous = map[string]manifest.RunStep{}
	}
	return &State{
		Manifest:      base,
		Artifacts:     artifacts,
		PreviousSteps: previous,
		Cache:         NewCache(),
	}
}

// Executor runs one named stage under StageCache gating, persisting logs,
// artifacts, and the run manifest after every step (spec.md §4.5).
type Executor struct {
	Store     manifest.Store
	Paths     pathresolve.RunPaths
	ConfigDir string
	// ManifestPath is where the run manifest is (re)written after every
	// step — the attempt's own run-manifest.json, not the top-level one.
	ManifestPath string
}

// RunCachedStep implements run_cached_step: consult the cache, execute (or
// reuse), record outputs/logs/artifacts, persist the manifest, and
// propagate a failure as an error when fail_on_failed is true.
func (ex Executor) RunCachedStep(st *State, name string, allowCached, failOnFailed bool, action Action) error {
	if !allowCached {
		st.Cache.Invalidate()
	}

	if prev, ok := st.PreviousSteps[name]; ok {
		if reused, ok := st.Cache.TryReuse(ex.ConfigDir, &prev); ok {
			st.Manifest.Steps = append(st.Manifest.Steps, reused)
			return ex.flush(st)
		}
	}
	st.Cache.Invalidate()

	start := time.Now()
	outcome, err := action()
	duration := time.Since(start).Milliseconds()

	if err != nil {
		stdoutPath, stderrPath, logErr := ex.writeStepLogs(name, "", err.Error())
		if logErr != nil {
			return logErr
		}
		storedStdout := ex.recordLogArtifact(st, stdoutPath, "log_stdout")
		storedStderr := ex.recordLogArtifact(st, stderrPath, "log_stderr")
		step := manifest.RunStep{
			Name:       name,
			Status:     manifest.StepFailed,
			DurationMS: duration,
			StdoutPath: stdoutPath,
			StderrPath: stderrPath,
			Outputs:    []string{storedStdout, storedStderr},
			Notes:      err.Error(),
		}
		st.Manifest.Steps = append(st.Manifest.Steps, step)
		if flushErr := ex.flush(st); flushErr != nil {
			return flushErr
		}
		return err
	}

	stdoutPath, stderrPath, logErr := ex.writeStepLogs(name, outcome.Stdout, outcome.Stderr)
	if logErr != nil {
		return logErr
	}
	ex.recordLogArtifact(st, stdoutPath, "log_stdout")
	ex.recordLogArtifact(st, stderrPath, "log_stderr")

	step := manifest.RunStep{
		Name:       name,
		Status:     outcome.Status,
		DurationMS: duration,
		Command:    outcome.Command,
		StdoutPath: stdoutPath,
		StderrPath: stderrPath,
		Outputs:    outcome.Outputs,
	}
	if outcome.Status == manifest.StepFailed {
		step.Notes = outcome.Stderr
	}
	st.Manifest.Steps = append(st.Manifest.Steps, step)
	if err := ex.flush(st); err != nil {
		return err
	}

	if outcome.Status == manifest.StepFailed && failOnFailed {
		return fmt.Errorf("stage %s failed: %s", name, outcome.Stderr)
	}
	return nil
}

func (ex Executor) writeStepLogs(name, stdout, stderr string) (stdoutPath, stderrPath string, err error) {
	if err := os.MkdirAll(ex.Paths.LogDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create log dir %s: %w", ex.Paths.LogDir, err)
	}
	stdoutPath = filepath.Join(ex.Paths.LogDir, name+".stdout.log")
	stderrPath = filepath.Join(ex.Paths.LogDir, name+".stderr.log")
	if err := os.WriteFile(stdoutPath, []byte(stdout), 0o644); err != nil {
		return "", "", fmt.Errorf("write stdout log %s: %w", stdoutPath, err)
	}
	if err := os.WriteFile(stderrPath, []byte(stderr), 0o644); err != nil {
		return "", "", fmt.Errorf("write stderr log %s: %w", stderrPath, err)
	}
	return stdoutPath, stderrPath, nil
}

// recordLogArtifact hashes path and records it under role, returning the
// config-dir-relative path it was stored under even if hashing failed.
func (ex Executor) recordLogArtifact(st *State, path, role string) string {
	storedPath := pathresolve.FormatPath(ex.ConfigDir, path)
	digest, size, err := hashutil.HashFile(path)
	if err != nil {
		return storedPath
	}
	st.Artifacts[storedPath] = manifest.RunArtifact{Path: storedPath, SHA256: digest, Size: size, Role: role}
	return storedPath
}

// RecordArtifact hashes path and records it under role, keyed by its
// config-dir-relative path — used by AttemptRunner for non-log artifacts
// (capture video, frame/audio hash lists, validation report, ghidra
// evidence).
func (ex Executor) RecordArtifact(st *State, path, role string) (string, error) {
	digest, size, err := hashutil.HashFile(path)
	if err != nil {
		return "", fmt.Errorf("record artifact %s: %w", path, err)
	}
	storedPath := pathresolve.FormatPath(ex.ConfigDir, path)
	st.Artifacts[storedPath] = manifest.RunArtifact{Path: storedPath, SHA256: digest, Size: size, Role: role}
	return storedPath, nil
}

func (ex Executor) flush(st *State) error {
	st.Manifest.Artifacts = finalizeArtifacts(st.Artifacts)
	return ex.Store.WriteJSON(ex.ManifestPath, st.Manifest)
}

func finalizeArtifacts(artifacts map[string]manifest.RunArtifact) []manifest.RunArtifact {
	out := make([]manifest.RunArtifact, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
