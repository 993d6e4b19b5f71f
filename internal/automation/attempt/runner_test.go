package attempt

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/danshapiro/recomp/internal/automation/config"
	"github.com/danshapiro/recomp/internal/automation/manifest"
	"github.com/danshapiro/recomp/internal/automation/pathresolve"
)

func sha256Hex(content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", sum)
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nset -e\n"+body), 0o755); err != nil {
		t.Fatalf("write script %s: %v", name, err)
	}
	return path
}

// testHarness builds the fixed config+descriptor layout every case in this
// file starts from: a homebrew NRO input, frame/audio extraction faked by
// shell scripts, and a reference frame hash list computed from known-good
// fixture content so validate_hash can be made to pass or fail on demand.
type testHarness struct {
	cfg      config.AutomationConfig
	runPaths pathresolve.RunPaths
}

func newTestHarness(t *testing.T, frameContents []string) testHarness {
	t.Helper()
	configDir := t.TempDir()
	workRoot := t.TempDir()
	scriptDir := t.TempDir()

	nroPath := filepath.Join(configDir, "game.nro")
	if err := os.WriteFile(nroPath, []byte("fake-nro-bytes"), 0o644); err != nil {
		t.Fatalf("write nro: %v", err)
	}

	framesDir := filepath.Join(workRoot, "capture", "frames")
	videoPath := filepath.Join(workRoot, "capture", "video.bin")

	extractScript := "mkdir -p " + framesDir + "\n"
	for i, content := range frameContents {
		framePath := filepath.Join(framesDir, frameName(i))
		extractScript += "printf '%s' '" + content + "' > " + framePath + "\n"
	}
	extractFrames := writeScript(t, scriptDir, "extract_frames.sh", extractScript)
	captureScript := "mkdir -p " + filepath.Dir(videoPath) + "\nprintf 'video-bytes' > " + videoPath + "\n"
	capture := writeScript(t, scriptDir, "capture.sh", captureScript)
	build := writeScript(t, scriptDir, "build.sh", "exit 0\n")
	run := writeScript(t, scriptDir, "run.sh", "exit 0\n")

	referenceFrames := make([]hashEntry, len(frameContents))
	for i, content := range frameContents {
		referenceFrames[i] = hashEntry{Name: frameName(i), SHA256: sha256Hex(content), Size: int64(len(content))}
	}

	referenceDir := filepath.Join(configDir, "reference")
	if err := os.MkdirAll(referenceDir, 0o755); err != nil {
		t.Fatalf("mkdir reference dir: %v", err)
	}
	referenceFramesPath := filepath.Join(referenceDir, "frames.json")
	if err := writeHashList(referenceFramesPath, referenceFrames); err != nil {
		t.Fatalf("write reference frame hashes: %v", err)
	}

	referenceVideoTOML := filepath.Join(referenceDir, "reference_video.toml")
	writeVideoDescriptor(t, referenceVideoTOML, "reference.bin", "frames.json")
	// capture_video.toml's hash list path is independent of the reference's
	// — RunAttempt hashes the captured frames dir itself and writes the
	// result there, so it need not exist before the attempt runs.
	captureVideoTOML := filepath.Join(referenceDir, "capture_video.toml")
	writeVideoDescriptor(t, captureVideoTOML, "capture.bin", "capture-frames.json")

	cfg := config.AutomationConfig{
		SchemaVersion: "2",
		Inputs: config.Inputs{
			Mode: config.InputHomebrew,
			NRO:  nroPath,
		},
		Outputs: config.Outputs{WorkRoot: workRoot},
		Reference: config.Reference{
			ReferenceVideoTOML: referenceVideoTOML,
			CaptureVideoTOML:   captureVideoTOML,
		},
		Capture: config.Capture{
			VideoPath: videoPath,
			FramesDir: framesDir,
		},
		Commands: config.Commands{
			Build:         []string{build},
			Run:           []string{run},
			Capture:       []string{capture},
			ExtractFrames: []string{extractFrames},
		},
		Ghidra: config.Ghidra{Enabled: false},
		Gates: config.Gates{
			Perceptual: config.PerceptualGate{Enabled: false},
		},
	}

	rp := pathresolve.DeriveRunPaths(t.TempDir(), configDir, workRoot)
	return testHarness{cfg: cfg, runPaths: rp}
}

func frameName(i int) string {
	return "frame-" + string(rune('0'+i)) + ".bin"
}

func writeVideoDescriptor(t *testing.T, path, videoPath, framesHashFile string) {
	t.Helper()
	doc := `[video]
path = "` + videoPath + `"
width = 1280
height = 720
fps = 30.0

[timeline]
start = "0"
end = "1"

[hashes.frames]
format = "list"
path = "` + framesHashFile + `"
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write video descriptor %s: %v", path, err)
	}
}

func TestRunAttempt_PassesWhenCapturedFramesMatchReference(t *testing.T) {
	h := newTestHarness(t, []string{"frame-zero", "frame-one"})
	runner := Runner{Store: manifest.Store{}, RunPaths: h.runPaths}

	exec, err := runner.RunAttempt(context.Background(), h.cfg, 0, nil, nil, 0)
	if err != nil {
		t.Fatalf("RunAttempt: %v", err)
	}
	if exec.Status != manifest.AttemptPassed {
		t.Fatalf("status = %s, want passed (failures: %v)", exec.Status, exec.HashGate.Failures)
	}
	if !exec.HashGate.Passed {
		t.Fatalf("expected hash gate to pass: %+v", exec.HashGate)
	}
	if _, err := os.Stat(exec.AttemptManifestPath); err != nil {
		t.Fatalf("expected attempt manifest written: %v", err)
	}
}

func TestRunAttempt_FailsWhenCapturedFramesDiverge(t *testing.T) {
	h := newTestHarness(t, []string{"frame-zero", "frame-one"})
	// Overwrite the capture's frame hash list source by mutating the
	// extract_frames script so the captured bytes no longer match the
	// reference list built in newTestHarness.
	mismatchScript := "mkdir -p " + h.cfg.Capture.FramesDir + "\n" +
		"printf '%s' 'corrupted' > " + filepath.Join(h.cfg.Capture.FramesDir, frameName(0)) + "\n" +
		"printf '%s' 'frame-one' > " + filepath.Join(h.cfg.Capture.FramesDir, frameName(1)) + "\n"
	h.cfg.Commands.ExtractFrames = []string{writeScript(t, t.TempDir(), "extract_frames_bad.sh", mismatchScript)}

	runner := Runner{Store: manifest.Store{}, RunPaths: h.runPaths}
	exec, err := runner.RunAttempt(context.Background(), h.cfg, 0, nil, nil, 0)
	if err != nil {
		t.Fatalf("RunAttempt: %v", err)
	}
	if exec.Status != manifest.AttemptFailed {
		t.Fatalf("status = %s, want failed", exec.Status)
	}
	if exec.HashGate.Passed {
		t.Fatalf("expected hash gate to fail")
	}
}

func TestGatherInputsFromConfig_EnumeratesOptionalInputsAndSortsByName(t *testing.T) {
	configDir := t.TempDir()
	repoRoot := t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(configDir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return path
	}

	cfg := config.AutomationConfig{
		Inputs: config.Inputs{
			Mode:       config.InputHomebrew,
			Provenance: write("provenance.json", "provenance"),
			Config:     write("title.toml", "title"),
			NRO:        write("game.nro", "nro-bytes"),
			NSO:        []string{write("first.nso", "nso-0"), write("second.nso", "nso-1")},
		},
		Reference: config.Reference{
			ReferenceVideoTOML:   write("reference_video.toml", "reference"),
			CaptureVideoTOML:     write("capture_video.toml", "capture"),
			ValidationConfigTOML: write("validation.toml", "validation"),
			InputScriptTOML:      write("input_script.toml", "script"),
		},
		Loop: config.Loop{StrategyCatalogTOML: write("strategies.toml", "catalog")},
	}

	rp := pathresolve.RunPaths{RepoRoot: repoRoot, ConfigDir: configDir}
	inputs, err := GatherInputsFromConfig(cfg, rp)
	if err != nil {
		t.Fatalf("GatherInputsFromConfig: %v", err)
	}

	wantNames := []string{
		"capture_video", "homebrew_nro", "homebrew_nso_0", "homebrew_nso_1",
		"input_script", "provenance", "reference_video", "strategy_catalog",
		"title_config", "validation_config",
	}
	if len(inputs) != len(wantNames) {
		t.Fatalf("inputs = %v, want %d entries matching %v", inputs, len(wantNames), wantNames)
	}
	for i, want := range wantNames {
		if inputs[i].Name != want {
			t.Fatalf("inputs[%d].Name = %q, want %q (full set: %+v)", i, inputs[i].Name, want, inputs)
		}
	}
	for _, in := range inputs {
		if in.SHA256 == "" || in.Size == 0 {
			t.Fatalf("input %q missing hash/size: %+v", in.Name, in)
		}
	}
}

func TestGatherInputs_AppendsAutomationConfigEntryAndKeepsSortOrder(t *testing.T) {
	configDir := t.TempDir()
	repoRoot := t.TempDir()

	provenancePath := filepath.Join(configDir, "provenance.json")
	if err := os.WriteFile(provenancePath, []byte("provenance"), 0o644); err != nil {
		t.Fatalf("write provenance: %v", err)
	}
	titlePath := filepath.Join(configDir, "title.toml")
	if err := os.WriteFile(titlePath, []byte("title"), 0o644); err != nil {
		t.Fatalf("write title config: %v", err)
	}
	referenceVideoPath := filepath.Join(configDir, "reference_video.toml")
	if err := os.WriteFile(referenceVideoPath, []byte("reference"), 0o644); err != nil {
		t.Fatalf("write reference video: %v", err)
	}
	captureVideoPath := filepath.Join(configDir, "capture_video.toml")
	if err := os.WriteFile(captureVideoPath, []byte("capture"), 0o644); err != nil {
		t.Fatalf("write capture video: %v", err)
	}
	runTOMLPath := filepath.Join(configDir, "run.toml")
	if err := os.WriteFile(runTOMLPath, []byte("schema_version = \"2\"\n"), 0o644); err != nil {
		t.Fatalf("write run.toml: %v", err)
	}

	cfg := config.AutomationConfig{
		Inputs: config.Inputs{
			Provenance: provenancePath,
			Config:     titlePath,
		},
		Reference: config.Reference{
			ReferenceVideoTOML: referenceVideoPath,
			CaptureVideoTOML:   captureVideoPath,
		},
	}

	rp := pathresolve.RunPaths{RepoRoot: repoRoot, ConfigDir: configDir, ConfigPath: runTOMLPath}
	inputs, err := GatherInputs(cfg, rp)
	if err != nil {
		t.Fatalf("GatherInputs: %v", err)
	}

	var names []string
	for _, in := range inputs {
		names = append(names, in.Name)
	}
	wantNames := []string{"automation_config", "capture_video", "provenance", "reference_video", "title_config"}
	if len(names) != len(wantNames) {
		t.Fatalf("names = %v, want %v", names, wantNames)
	}
	for i, want := range wantNames {
		if names[i] != want {
			t.Fatalf("names[%d] = %q, want %q (full: %v)", i, names[i], want, names)
		}
	}
}
