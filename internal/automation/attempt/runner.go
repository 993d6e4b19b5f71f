// Package attempt implements AttemptRunner: drives one traversal of the
// pipeline stages — intake, ghidra analysis, lift, pipeline, build, run,
// capture, frame/audio extraction and hashing, the hash and perceptual
// gates, and triage — under StageExecutor's caching, producing a complete
// AttemptManifest. Grounded on automation.rs's run_single_attempt.
package attempt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/danshapiro/recomp/internal/automation/config"
	"github.com/danshapiro/recomp/internal/automation/gate"
	"github.com/danshapiro/recomp/internal/automation/hashutil"
	"github.com/danshapiro/recomp/internal/automation/manifest"
	"github.com/danshapiro/recomp/internal/automation/pathresolve"
	"github.com/danshapiro/recomp/internal/automation/procexec"
	"github.com/danshapiro/recomp/internal/automation/stage"
	"github.com/danshapiro/recomp/internal/automation/strategy"
	"github.com/danshapiro/recomp/internal/automation/triage"
)

// Execution is everything one attempt produced, returned to RunController
// for appending to the run manifest and deciding what to do next.
type Execution struct {
	Manifest            manifest.RunManifest
	Status              manifest.AttemptStatus
	HashGate            manifest.HashGateResult
	Triage              manifest.TriageReport
	AttemptManifestPath string
	GateResultsPath     string
	TriagePath          string
}

// Runner drives a single attempt through every stage.
type Runner struct {
	Store    manifest.Store
	RunPaths pathresolve.RunPaths
}

func (r Runner) allowCache(reuseBeforeStage *stage.Ordinal, ordinal stage.Ordinal) bool {
	if reuseBeforeStage == nil {
		return false
	}
	return ordinal < *reuseBeforeStage
}

// RunAttempt executes attempt number attempt (0-indexed) under cfg,
// optionally applying strategyKind's minimum cacheable stage, resuming
// step/artifact history from previousManifest when set. perceptualOffsetSeconds
// is the capture_alignment_profile strategy's accumulated timeline shift,
// carried by RunController's strategy.MutationState across attempts.
func (r Runner) RunAttempt(
	ctx context.Context,
	cfg config.AutomationConfig,
	attempt int,
	strategyKind *strategy.Kind,
	previousManifest *manifest.RunManifest,
	perceptualOffsetSeconds float64,
) (Execution, error) {
	started := time.Now()
	startedAt := started.UTC().Format(time.RFC3339)

	attemptPaths := pathresolve.DeriveAttemptPaths(r.RunPaths, attempt)
	if err := os.MkdirAll(attemptPaths.LogDir, 0o755); err != nil {
		return Execution{}, fmt.Errorf("create attempt log dir %s: %w", attemptPaths.LogDir, err)
	}
	if err := os.MkdirAll(attemptPaths.ValidationDir, 0o755); err != nil {
		return Execution{}, fmt.Errorf("create attempt validation dir %s: %w", attemptPaths.ValidationDir, err)
	}
	if err := os.MkdirAll(attemptPaths.MutationsDir, 0o755); err != nil {
		return Execution{}, fmt.Errorf("create attempt mutations dir %s: %w", attemptPaths.MutationsDir, err)
	}

	inputs, err := GatherInputsFromConfig(cfg, r.RunPaths)
	if err != nil {
		return Execution{}, err
	}

	var previousSteps map[string]manifest.RunStep
	base := manifest.RunManifest{
		SchemaVersion:    manifest.RunManifestSchemaVersion,
		InputFingerprint: hashutil.Fingerprint(inputs),
		Inputs:           inputs,
	}
	if previousManifest != nil {
		base.Artifacts = previousManifest.Artifacts
		previousSteps = make(map[string]manifest.RunStep, len(previousManifest.Steps))
		for _, step := range previousManifest.Steps {
			previousSteps[step.Name] = step
		}
	}

	st := stage.NewState(base, previousSteps)

	attemptRunPaths := r.RunPaths
	attemptRunPaths.LogDir = attemptPaths.LogDir
	attemptRunPaths.ValidationDir = attemptPaths.ValidationDir
	executor := stage.Executor{
		Store:        r.Store,
		Paths:        attemptRunPaths,
		ConfigDir:    r.RunPaths.ConfigDir,
		ManifestPath: attemptPaths.RunManifest,
	}

	var reuseBeforeStage *stage.Ordinal
	if strategyKind != nil {
		ord := strategyKind.MinStage()
		reuseBeforeStage = &ord
	}

	env := SubprocessEnv(r.RunPaths, cfg)

	intakeDir := r.RunPaths.IntakeDir
	moduleJSONPath := cfg.Inputs.ModuleJSON
	if cfg.Inputs.Mode != config.InputLifted {
		moduleJSONPath = r.RunPaths.LiftedModuleJSON
	}

	if cfg.Inputs.Mode == config.InputHomebrew || cfg.Inputs.Mode == config.InputXCI {
		if err := executor.RunCachedStep(st, "intake", r.allowCache(reuseBeforeStage, stage.Intake), true, func() (stage.Outcome, error) {
			return runIntake(cfg, intakeDir, r.RunPaths.ConfigDir, st, executor)
		}); err != nil {
			return Execution{}, err
		}
	}

	var ghidraEvidencePath string
	if err := executor.RunCachedStep(st, "ghidra_analysis", r.allowCache(reuseBeforeStage, stage.Ghidra), true, func() (stage.Outcome, error) {
		evidencePath, stdout, stderr, err := runGhidraStage(ctx, cfg, attemptPaths.ValidationDir, r.RunPaths.WorkRoot, attempt, env)
		if err != nil {
			return stage.Outcome{}, err
		}
		var outputs []string
		if evidencePath != "" {
			stored, recErr := executor.RecordArtifact(st, evidencePath, "ghidra_evidence")
			if recErr != nil {
				return stage.Outcome{}, recErr
			}
			outputs = []string{stored}
			ghidraEvidencePath = stored
		}
		return stage.Outcome{Status: manifest.StepSucceeded, Stdout: stdout, Stderr: stderr, Outputs: outputs}, nil
	}); err != nil {
		return Execution{}, err
	}

	if cfg.Inputs.Mode == config.InputHomebrew || cfg.Inputs.Mode == config.InputXCI {
		if err := executor.RunCachedStep(st, "lift", r.allowCache(reuseBeforeStage, stage.Lift), true, func() (stage.Outcome, error) {
			return runLift(ctx, cfg, moduleJSONPath, r.RunPaths, attemptPaths, st, executor, env)
		}); err != nil {
			return Execution{}, err
		}
	}

	if err := executor.RunCachedStep(st, "pipeline", r.allowCache(reuseBeforeStage, stage.Pipeline), true, func() (stage.Outcome, error) {
		return runPipelineStage(moduleJSONPath, r.RunPaths.BuildDir, st, executor)
	}); err != nil {
		return Execution{}, err
	}

	if err := executor.RunCachedStep(st, "build", r.allowCache(reuseBeforeStage, stage.Build), true, func() (stage.Outcome, error) {
		return runCommandStage(ctx, "build", cfg.Commands.Build, r.RunPaths.ConfigDir, env)
	}); err != nil {
		return Execution{}, err
	}

	if err := executor.RunCachedStep(st, "run", r.allowCache(reuseBeforeStage, stage.Run), true, func() (stage.Outcome, error) {
		return runCommandStage(ctx, "run", cfg.Commands.Run, r.RunPaths.ConfigDir, env)
	}); err != nil {
		return Execution{}, err
	}

	if err := executor.RunCachedStep(st, "capture", r.allowCache(reuseBeforeStage, stage.Capture), true, func() (stage.Outcome, error) {
		outcome, err := runCommandStage(ctx, "capture", cfg.Commands.Capture, r.RunPaths.ConfigDir, env)
		if err != nil {
			return outcome, err
		}
		if _, statErr := os.Stat(cfg.Capture.VideoPath); statErr == nil {
			stored, recErr := executor.RecordArtifact(st, cfg.Capture.VideoPath, "capture_video")
			if recErr != nil {
				return stage.Outcome{}, recErr
			}
			outcome.Outputs = append(outcome.Outputs, stored)
		}
		return outcome, nil
	}); err != nil {
		return Execution{}, err
	}

	if err := executor.RunCachedStep(st, "extract_frames", r.allowCache(reuseBeforeStage, stage.Hash), true, func() (stage.Outcome, error) {
		return runCommandStage(ctx, "extract_frames", cfg.Commands.ExtractFrames, r.RunPaths.ConfigDir, env)
	}); err != nil {
		return Execution{}, err
	}

	if cfg.Capture.AudioFile != "" {
		if len(cfg.Commands.ExtractAudio) == 0 {
			return Execution{}, fmt.Errorf("commands.extract_audio is required when capture.audio_file is set")
		}
		if err := executor.RunCachedStep(st, "extract_audio", r.allowCache(reuseBeforeStage, stage.Hash), true, func() (stage.Outcome, error) {
			outcome, err := runCommandStage(ctx, "extract_audio", cfg.Commands.ExtractAudio, r.RunPaths.ConfigDir, env)
			if err != nil {
				return outcome, err
			}
			if _, statErr := os.Stat(cfg.Capture.AudioFile); statErr == nil {
				stored, recErr := executor.RecordArtifact(st, cfg.Capture.AudioFile, "capture_audio")
				if recErr != nil {
					return stage.Outcome{}, recErr
				}
				outcome.Outputs = append(outcome.Outputs, stored)
			}
			return outcome, nil
		}); err != nil {
			return Execution{}, err
		}
	}

	captureDesc, captureDescDir, err := loadVideoDescriptor(cfg.Reference.CaptureVideoTOML)
	if err != nil {
		return Execution{}, err
	}
	if captureDesc.Hashes.Frames.Format != "list" {
		return Execution{}, fmt.Errorf("capture hashes.frames must use format=list")
	}
	framesHashPath := pathresolve.Resolve(captureDescDir, captureDesc.Hashes.Frames.Path)

	if err := executor.RunCachedStep(st, "hash_frames", r.allowCache(reuseBeforeStage, stage.Hash), true, func() (stage.Outcome, error) {
		hashes, err := hashFramesDir(cfg.Capture.FramesDir)
		if err != nil {
			return stage.Outcome{}, fmt.Errorf("hash frames failed: %w", err)
		}
		if err := writeHashList(framesHashPath, hashes); err != nil {
			return stage.Outcome{}, err
		}
		stored, err := executor.RecordArtifact(st, framesHashPath, "frame_hashes")
		if err != nil {
			return stage.Outcome{}, err
		}
		return stage.Outcome{
			Status:  manifest.StepSucceeded,
			Stdout:  fmt.Sprintf("frame hashes written (%d)", len(hashes)),
			Outputs: []string{stored},
		}, nil
	}); err != nil {
		return Execution{}, err
	}

	var audioHashPath string
	if captureDesc.Hashes.Audio != nil {
		if captureDesc.Hashes.Audio.Format != "list" {
			return Execution{}, fmt.Errorf("capture hashes.audio must use format=list")
		}
		if cfg.Capture.AudioFile == "" {
			return Execution{}, fmt.Errorf("capture.audio_file is required for audio hashing")
		}
		audioHashPath = pathresolve.Resolve(captureDescDir, captureDesc.Hashes.Audio.Path)
		if err := executor.RunCachedStep(st, "hash_audio", r.allowCache(reuseBeforeStage, stage.Hash), true, func() (stage.Outcome, error) {
			hashes, err := hashAudioFile(cfg.Capture.AudioFile)
			if err != nil {
				return stage.Outcome{}, fmt.Errorf("hash audio failed: %w", err)
			}
			if err := writeHashList(audioHashPath, hashes); err != nil {
				return stage.Outcome{}, err
			}
			stored, err := executor.RecordArtifact(st, audioHashPath, "audio_hashes")
			if err != nil {
				return stage.Outcome{}, err
			}
			return stage.Outcome{
				Status:  manifest.StepSucceeded,
				Stdout:  fmt.Sprintf("audio hashes written (%d)", len(hashes)),
				Outputs: []string{stored},
			}, nil
		}); err != nil {
			return Execution{}, err
		}
	}

	referenceDesc, referenceDescDir, err := loadVideoDescriptor(cfg.Reference.ReferenceVideoTOML)
	if err != nil {
		return Execution{}, err
	}
	referenceFramesHashPath := pathresolve.Resolve(referenceDescDir, referenceDesc.Hashes.Frames.Path)
	var referenceAudioHashPath string
	if referenceDesc.Hashes.Audio != nil {
		referenceAudioHashPath = pathresolve.Resolve(referenceDescDir, referenceDesc.Hashes.Audio.Path)
	}

	var hashGate manifest.HashGateResult
	if err := executor.RunCachedStep(st, "validate_hash", r.allowCache(reuseBeforeStage, stage.ValidateHash), false, func() (stage.Outcome, error) {
		referenceFrames, err := readHashList(referenceFramesHashPath)
		if err != nil {
			return stage.Outcome{}, err
		}
		captureFrames, err := readHashList(framesHashPath)
		if err != nil {
			return stage.Outcome{}, err
		}
		var referenceAudio, captureAudioHashes []hashEntry
		if referenceAudioHashPath != "" && audioHashPath != "" {
			referenceAudio, err = readHashList(referenceAudioHashPath)
			if err != nil {
				return stage.Outcome{}, err
			}
			captureAudioHashes, err = readHashList(audioHashPath)
			if err != nil {
				return stage.Outcome{}, err
			}
		}

		report := buildValidationReport(referenceFrames, captureFrames, referenceAudio, captureAudioHashes, referenceDesc.Video.FPS)
		reportPath := filepath.Join(attemptPaths.ValidationDir, "validation-report.json")
		if err := r.Store.WriteJSON(reportPath, report); err != nil {
			return stage.Outcome{}, err
		}
		stored, err := executor.RecordArtifact(st, reportPath, "validation_report")
		if err != nil {
			return stage.Outcome{}, err
		}
		st.Manifest.ValidationReport = stored

		hashGate = gate.EvaluateHashGate(report, cfg.Gates.Hash, stored)
		status := manifest.StepSucceeded
		stdout := "hash validation passed"
		stderr := ""
		if !hashGate.Passed {
			status = manifest.StepFailed
			stdout = "hash validation failed"
			stderr = joinFailures(hashGate.Failures)
		}
		return stage.Outcome{Status: status, Stdout: stdout, Stderr: stderr, Outputs: []string{stored}}, nil
	}); err != nil {
		return Execution{}, err
	}

	var perceptualGate *manifest.PerceptualGateResult
	if err := executor.RunCachedStep(st, "validate_perceptual", r.allowCache(reuseBeforeStage, stage.ValidatePerceptual), false, func() (stage.Outcome, error) {
		if !cfg.Gates.Perceptual.Enabled {
			return stage.Outcome{Status: manifest.StepSucceeded, Stdout: "perceptual gate disabled"}, nil
		}

		compareScript := cfg.Tools.CompareScript
		if compareScript == "" {
			compareScript = filepath.Join(r.RunPaths.RepoRoot, "skills/static-recomp-av-compare/scripts/compare_av.py")
		}
		runner := gate.PerceptualGateRunner{
			ComparePythonBin: cfg.Tools.ComparePythonBin,
			CompareScript:    compareScript,
			ValidationDir:    attemptPaths.ValidationDir,
		}
		reference := gate.ReferenceVideo{
			Path:   pathresolve.Resolve(referenceDescDir, referenceDesc.Video.Path),
			Width:  referenceDesc.Video.Width,
			Height: referenceDesc.Video.Height,
			FPS:    referenceDesc.Video.FPS,
			Start:  referenceDesc.Timeline.Start,
			End:    referenceDesc.Timeline.End,
		}
		captureVideoPath := pathresolve.Resolve(captureDescDir, captureDesc.Video.Path)

		result, err := runner.Run(ctx, cfg, reference, reference.Path, captureVideoPath, perceptualOffsetSeconds)
		if err != nil {
			return stage.Outcome{}, err
		}
		summaryPath := filepath.Join(attemptPaths.ValidationDir, "perceptual-summary.json")
		if err := r.Store.WriteJSON(summaryPath, result); err != nil {
			return stage.Outcome{}, err
		}
		stored, err := executor.RecordArtifact(st, summaryPath, "perceptual_summary")
		if err != nil {
			return stage.Outcome{}, err
		}
		perceptualGate = &result
		status := manifest.StepSucceeded
		if !result.Passed {
			status = manifest.StepFailed
		}
		return stage.Outcome{Status: status, Stdout: "perceptual gate completed", Outputs: []string{stored}}, nil
	}); err != nil {
		return Execution{}, err
	}

	status := gate.ComposeStatus(hashGate, perceptualGate)
	triageReport := triage.Build(attempt, status, hashGate, perceptualGate, strategyKind)

	if err := executor.RunCachedStep(st, "triage", r.allowCache(reuseBeforeStage, stage.Triage), false, func() (stage.Outcome, error) {
		triageStatus := manifest.StepSucceeded
		if status == manifest.AttemptFailed {
			triageStatus = manifest.StepFailed
		}
		return stage.Outcome{Status: triageStatus, Stdout: "triage generated"}, nil
	}); err != nil {
		return Execution{}, err
	}

	gateResults := manifest.GateResults{
		SchemaVersion: manifest.AttemptManifestSchemaVersion,
		Hash:          hashGate,
		Perceptual:    perceptualGate,
		Status:        status,
	}
	if err := r.Store.WriteJSON(attemptPaths.GateResults, gateResults); err != nil {
		return Execution{}, err
	}
	if err := r.Store.WriteJSON(attemptPaths.Triage, triageReport); err != nil {
		return Execution{}, err
	}

	var strategyID string
	if strategyKind != nil {
		strategyID = strategyKind.ID()
	}
	attemptManifest := manifest.AttemptManifest{
		SchemaVersion:  manifest.AttemptManifestSchemaVersion,
		Attempt:        attempt,
		Strategy:       strategyID,
		Status:         status,
		StartedAt:      startedAt,
		DurationMS:     time.Since(started).Milliseconds(),
		RunManifest:    st.Manifest,
		GateResults:    gateResults,
		Triage:         triageReport,
		GhidraEvidence: ghidraEvidencePath,
	}
	if err := r.Store.WriteJSON(attemptPaths.AttemptManifest, attemptManifest); err != nil {
		return Execution{}, err
	}

	return Execution{
		Manifest:            st.Manifest,
		Status:              status,
		HashGate:            hashGate,
		Triage:              triageReport,
		AttemptManifestPath: attemptPaths.AttemptManifest,
		GateResultsPath:     attemptPaths.GateResults,
		TriagePath:          attemptPaths.Triage,
	}, nil
}

func joinFailures(failures []string) string {
	out := ""
	for i, f := range failures {
		if i > 0 {
			out += "; "
		}
		out += f
	}
	return out
}

// gatherer accumulates name-ordered run inputs in the literal sequence
// gather_inputs_from_config declares them in, then hashes and name-sorts
// them once at the end.
type gatherer struct {
	rp    pathresolve.RunPaths
	items []manifest.RunInput
	err   error
}

// add resolves raw against configDir and hashes it under name, skipping
// silently when raw is empty (an unset optional input).
func (g *gatherer) add(name, raw string) {
	if g.err != nil || raw == "" {
		return
	}
	g.addResolved(name, pathresolve.Resolve(g.rp.ConfigDir, raw))
}

// addIfExists is for inputs resolved independently of raw config text
// (runtime_cargo's default path, the agent gateway schema) whose presence
// on disk, not an empty config string, decides whether they're included.
func (g *gatherer) addIfExists(name, resolved string) {
	if g.err != nil {
		return
	}
	if _, statErr := os.Stat(resolved); statErr != nil {
		return
	}
	g.addResolved(name, resolved)
}

func (g *gatherer) addResolved(name, resolved string) {
	digest, size, err := hashutil.HashFile(resolved)
	if err != nil {
		g.err = fmt.Errorf("hash input %s (%s): %w", name, resolved, err)
		return
	}
	g.items = append(g.items, manifest.RunInput{
		Name:   name,
		Path:   pathresolve.FormatPath(g.rp.ConfigDir, resolved),
		SHA256: digest,
		Size:   size,
	})
}

func (g *gatherer) sorted() ([]manifest.RunInput, error) {
	if g.err != nil {
		return nil, g.err
	}
	sort.Slice(g.items, func(i, j int) bool { return g.items[i].Name < g.items[j].Name })
	return g.items, nil
}

// GatherInputsFromConfig hashes every input declared by cfg, in the literal
// sequence gather_inputs_from_config enumerates them, then returns them
// name-sorted. AttemptRunner calls this once per attempt so a strategy
// mutation's rewritten config/scripted-input/title files are reflected in
// that attempt's input_fingerprint.
func GatherInputsFromConfig(cfg config.AutomationConfig, rp pathresolve.RunPaths) ([]manifest.RunInput, error) {
	g := &gatherer{rp: rp}

	g.add("provenance", cfg.Inputs.Provenance)
	g.add("title_config", cfg.Inputs.Config)
	g.add("reference_video", cfg.Reference.ReferenceVideoTOML)
	g.add("capture_video", cfg.Reference.CaptureVideoTOML)
	g.add("validation_config", cfg.Reference.ValidationConfigTOML)
	g.add("input_script", cfg.Reference.InputScriptTOML)
	g.add("module_json", cfg.Inputs.ModuleJSON)
	g.add("homebrew_nro", cfg.Inputs.NRO)
	g.add("xci", cfg.Inputs.XCI)
	g.add("keyset", cfg.Inputs.Keys)
	for i, nso := range cfg.Inputs.NSO {
		g.add(fmt.Sprintf("homebrew_nso_%d", i), nso)
	}

	if cfg.Inputs.RuntimePath != "" {
		g.addIfExists("runtime_cargo", filepath.Join(pathresolve.Resolve(rp.ConfigDir, cfg.Inputs.RuntimePath), "Cargo.toml"))
	} else {
		g.addIfExists("runtime_cargo", filepath.Join(rp.RepoRoot, config.DefaultRuntimeCargoTOML))
	}

	g.add("strategy_catalog", cfg.Loop.StrategyCatalogTOML)

	if cfg.Agent.Enabled && cfg.Loop.Enabled && cfg.Loop.MaxRetries > 0 {
		g.addIfExists("agent_gateway_schema", config.ResolveAgentGatewaySchemaPath(rp.RepoRoot, cfg.Agent))
	}

	return g.sorted()
}

// GatherInputs is GatherInputsFromConfig plus the synthetic
// "automation_config" entry for the config file itself, mirroring
// gather_inputs's composition of gather_inputs_from_config. RunController
// calls this once ahead of the attempt loop to compute input_fingerprint
// for resume/cache-receipt purposes.
func GatherInputs(cfg config.AutomationConfig, rp pathresolve.RunPaths) ([]manifest.RunInput, error) {
	inputs, err := GatherInputsFromConfig(cfg, rp)
	if err != nil {
		return nil, err
	}
	g := &gatherer{rp: rp, items: inputs}
	g.add("automation_config", rp.ConfigPath)
	return g.sorted()
}

func runCommandStage(ctx context.Context, label string, argv []string, dir string, env []string) (stage.Outcome, error) {
	if len(argv) == 0 {
		return stage.Outcome{}, fmt.Errorf("command argv is empty")
	}
	result, err := procexec.Run(ctx, label, dir, env, argv)
	if err != nil {
		return stage.Outcome{}, err
	}
	return stage.Outcome{Status: manifest.StepSucceeded, Command: argv, Stdout: result.Stdout, Stderr: result.Stderr}, nil
}
