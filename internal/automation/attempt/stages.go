package attempt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danshapiro/recomp/internal/automation/config"
	"github.com/danshapiro/recomp/internal/automation/manifest"
	"github.com/danshapiro/recomp/internal/automation/pathresolve"
	"github.com/danshapiro/recomp/internal/automation/procexec"
	"github.com/danshapiro/recomp/internal/automation/stage"
)

// moduleStub is the minimal lifted-module descriptor synthesized for
// homebrew inputs, where there is no disassembly-to-IR pipeline to run —
// intake and lift for this input mode only need to establish that the
// binary inputs exist and are content-addressed, not decode them.
type moduleStub struct {
	SchemaVersion string `json:"schema_version"`
	Entry         string `json:"entry,omitempty"`
	SourceMode    config.InputMode `json:"source_mode"`
	Note          string `json:"note"`
}

// runIntake copies the configured binary inputs into the run's intake
// directory (shared by every attempt) and records them as artifacts. For lifted-mode inputs this
// stage never runs (module.json is already the declared module); for
// homebrew/xci it establishes the on-disk inputs the lift stage consumes.
func runIntake(cfg config.AutomationConfig, intakeDir, configDir string, st *stage.State, executor stage.Executor) (stage.Outcome, error) {
	if err := os.MkdirAll(intakeDir, 0o755); err != nil {
		return stage.Outcome{}, fmt.Errorf("create intake dir %s: %w", intakeDir, err)
	}

	var sourcePaths []string
	switch cfg.Inputs.Mode {
	case config.InputHomebrew:
		sourcePaths = append(sourcePaths, cfg.Inputs.NRO)
		sourcePaths = append(sourcePaths, cfg.Inputs.NSO...)
	case config.InputXCI:
		sourcePaths = append(sourcePaths, cfg.Inputs.XCI)
	}

	var outputs []string
	for _, src := range sourcePaths {
		if src == "" {
			continue
		}
		resolved := pathresolve.Resolve(configDir, src)
		dest := filepath.Join(intakeDir, filepath.Base(resolved))
		if err := copyFile(resolved, dest); err != nil {
			return stage.Outcome{}, fmt.Errorf("intake copy %s: %w", resolved, err)
		}
		stored, err := executor.RecordArtifact(st, dest, "intake_input")
		if err != nil {
			return stage.Outcome{}, err
		}
		outputs = append(outputs, stored)
	}

	return stage.Outcome{
		Status:  manifest.StepSucceeded,
		Stdout:  fmt.Sprintf("staged %d input(s) into %s", len(outputs), intakeDir),
		Outputs: outputs,
	}, nil
}

// runLift produces module.json for the build/run stages to consume. A
// homebrew NRO has no disassembly target — the lift stage just records a
// placeholder module descriptor (schema version, configured lift entry,
// source mode and a note); it does not reference the staged binary. An xci input
// runs the configured external lift command, which is expected to leave its
// own module.json at moduleJSONPath.
func runLift(ctx context.Context, cfg config.AutomationConfig, moduleJSONPath string, runPaths pathresolve.RunPaths, attemptPaths pathresolve.AttemptPaths, st *stage.State, executor stage.Executor, env []string) (stage.Outcome, error) {
	switch cfg.Inputs.Mode {
	case config.InputHomebrew:
		if err := os.MkdirAll(filepath.Dir(moduleJSONPath), 0o755); err != nil {
			return stage.Outcome{}, fmt.Errorf("create lift dir: %w", err)
		}
		stub := moduleStub{
			SchemaVersion: "1",
			Entry:         cfg.Run.LiftEntry,
			SourceMode:    cfg.Inputs.Mode,
			Note:          "homebrew input lifted as a placeholder module descriptor; no disassembly performed",
		}
		b, err := json.MarshalIndent(stub, "", "  ")
		if err != nil {
			return stage.Outcome{}, fmt.Errorf("encode module stub: %w", err)
		}
		if err := os.WriteFile(moduleJSONPath, b, 0o644); err != nil {
			return stage.Outcome{}, fmt.Errorf("write module stub %s: %w", moduleJSONPath, err)
		}
		stored, err := executor.RecordArtifact(st, moduleJSONPath, "lifted_module")
		if err != nil {
			return stage.Outcome{}, err
		}
		return stage.Outcome{Status: manifest.StepSucceeded, Stdout: "homebrew module stub written", Outputs: []string{stored}}, nil

	case config.InputXCI:
		if len(cfg.Commands.Lift) == 0 {
			return stage.Outcome{}, fmt.Errorf("commands.lift is required for inputs.mode=xci")
		}
		result, err := procexec.Run(ctx, "lift", runPaths.ConfigDir, env, cfg.Commands.Lift)
		if err != nil {
			return stage.Outcome{}, err
		}
		if _, statErr := os.Stat(moduleJSONPath); statErr != nil {
			return stage.Outcome{}, fmt.Errorf("lift command did not produce %s: %w", moduleJSONPath, statErr)
		}
		stored, err := executor.RecordArtifact(st, moduleJSONPath, "lifted_module")
		if err != nil {
			return stage.Outcome{}, err
		}
		return stage.Outcome{Status: manifest.StepSucceeded, Command: cfg.Commands.Lift, Stdout: result.Stdout, Stderr: result.Stderr, Outputs: []string{stored}}, nil
	}

	return stage.Outcome{Status: manifest.StepSucceeded, Stdout: "lift skipped"}, nil
}

// runPipelineStage validates that the module descriptor the build stage
// will consume actually exists, records it again as a pipeline_module
// artifact, and creates the build directory; the file itself is not copied. The
// translator itself runs as part of commands.build; this stage only closes
// the gap between lift's output location and build's expected input.
func runPipelineStage(moduleJSONPath, buildDir string, st *stage.State, executor stage.Executor) (stage.Outcome, error) {
	if _, err := os.Stat(moduleJSONPath); err != nil {
		return stage.Outcome{}, fmt.Errorf("pipeline input module descriptor missing: %s: %w", moduleJSONPath, err)
	}
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return stage.Outcome{}, fmt.Errorf("create build dir %s: %w", buildDir, err)
	}
	stored, err := executor.RecordArtifact(st, moduleJSONPath, "pipeline_module")
	if err != nil {
		return stage.Outcome{}, err
	}
	return stage.Outcome{Status: manifest.StepSucceeded, Stdout: "module descriptor validated for build", Outputs: []string{stored}}, nil
}

func copyFile(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}
