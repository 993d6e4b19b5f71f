package controller

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

// buildConfig assembles a homebrew-mode run whose captured frames either
// match or diverge from the reference hash list, mirroring the attempt
// package's own fixture setup one layer up (work_root/repo_root resolution
// plus RunPaths), since the controller owns that layer.
func buildConfig(t *testing.T, frameContents, capturedContents []string) (config.AutomationConfig, pathresolve.RunPaths) {
	t.Helper()
	repoRoot := t.TempDir()
	configDir := t.TempDir()
	workRoot := filepath.Join(repoRoot, "work")

	nroPath := filepath.Join(configDir, "game.nro")
	if err := os.WriteFile(nroPath, []byte("fake-nro-bytes"), 0o644); err != nil {
		t.Fatalf("write nro: %v", err)
	}

	provenancePath := filepath.Join(configDir, "provenance.json")
	if err := os.WriteFile(provenancePath, []byte(`{"source":"test-fixture"}`), 0o644); err != nil {
		t.Fatalf("write provenance: %v", err)
	}

	runTOMLPath := filepath.Join(configDir, "run.toml")
	if err := os.WriteFile(runTOMLPath, []byte("schema_version = \"2\"\n"), 0o644); err != nil {
		t.Fatalf("write run.toml: %v", err)
	}

	framesDir := filepath.Join(workRoot, "capture", "frames")
	videoPath := filepath.Join(workRoot, "capture", "video.bin")

	extractScript := "mkdir -p " + framesDir + "\n"
	for i, content := range capturedContents {
		framePath := filepath.Join(framesDir, frameName(i))
		extractScript += "printf '%s' '" + content + "' > " + framePath + "\n"
	}
	extractFrames := writeScript(t, configDir, "extract_frames.sh", extractScript)
	captureScript := "mkdir -p " + filepath.Dir(videoPath) + "\nprintf 'video-bytes' > " + videoPath + "\n"
	capture := writeScript(t, configDir, "capture.sh", captureScript)
	build := writeScript(t, configDir, "build.sh", "exit 0\n")
	run := writeScript(t, configDir, "run.sh", "exit 0\n")

	type hashEntry struct {
		Name   string `json:"name"`
		SHA256 string `json:"sha256"`
		Size   int64  `json:"size"`
	}
	entries := make([]hashEntry, len(frameContents))
	for i, content := range frameContents {
		entries[i] = hashEntry{Name: frameName(i), SHA256: sha256Hex(content), Size: int64(len(content))}
	}

	referenceDir := filepath.Join(configDir, "reference")
	if err := os.MkdirAll(referenceDir, 0o755); err != nil {
		t.Fatalf("mkdir reference dir: %v", err)
	}
	referenceFramesPath := filepath.Join(referenceDir, "frames.json")
	referenceList := struct {
		SchemaVersion string      `json:"schema_version"`
		Entries       []hashEntry `json:"entries"`
	}{SchemaVersion: "1", Entries: entries}
	if err := (manifest.Store{}).WriteJSON(referenceFramesPath, referenceList); err != nil {
		t.Fatalf("write reference frame hashes: %v", err)
	}

	referenceVideoTOML := filepath.Join(referenceDir, "reference_video.toml")
	writeVideoDescriptor(t, referenceVideoTOML, "reference.bin", "frames.json")
	captureVideoTOML := filepath.Join(referenceDir, "capture_video.toml")
	writeVideoDescriptor(t, captureVideoTOML, "capture.bin", "capture-frames.json")

	cfg := config.AutomationConfig{
		SchemaVersion: "2",
		Inputs: config.Inputs{
			Mode:       config.InputHomebrew,
			NRO:        nroPath,
			Provenance: provenancePath,
			Config:     "",
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

	rp := pathresolve.DeriveRunPaths(repoRoot, configDir, workRoot)
	rp.ConfigPath = runTOMLPath
	return cfg, rp
}

func frameName(i int) string {
	return "frame-" + string(rune('0'+i)) + ".bin"
}

func TestRun_PassesOnFirstAttempt(t *testing.T) {
	cfg, rp := buildConfig(t, []string{"frame-zero", "frame-one"}, []string{"frame-zero", "frame-one"})

	outcome, err := New(rp).Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Manifest.FinalStatus == nil || *outcome.Manifest.FinalStatus != manifest.RunPassed {
		t.Fatalf("final status = %v, want passed", outcome.Manifest.FinalStatus)
	}
	if outcome.Manifest.WinningAttempt == nil || *outcome.Manifest.WinningAttempt != 0 {
		t.Fatalf("winning attempt = %v, want 0", outcome.Manifest.WinningAttempt)
	}
	if len(outcome.Manifest.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(outcome.Manifest.Attempts))
	}
	if _, err := os.Stat(rp.RunManifest); err != nil {
		t.Fatalf("expected run manifest written: %v", err)
	}
	if _, err := os.Stat(rp.RunSummary); err != nil {
		t.Fatalf("expected run summary written: %v", err)
	}
}

func TestRun_HaltsWithStrategyExhaustedWhenNoApplicableStrategyRemains(t *testing.T) {
	cfg, rp := buildConfig(t, []string{"frame-zero", "frame-one"}, []string{"corrupted", "frame-one"})
	cfg.Loop = config.Loop{
		Enabled:       true,
		MaxRetries:    2,
		StrategyOrder: []string{"input_timing_variant"},
	}

	outcome, err := New(rp).Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Summary.HaltedReason != "strategy_exhausted" {
		t.Fatalf("halted_reason = %q, want strategy_exhausted", outcome.Summary.HaltedReason)
	}
	if outcome.Manifest.FinalStatus == nil || *outcome.Manifest.FinalStatus != manifest.RunNeedsReview {
		t.Fatalf("final status = %v, want needs_review", outcome.Manifest.FinalStatus)
	}
	if outcome.Manifest.WinningAttempt != nil {
		t.Fatalf("winning attempt = %v, want nil", outcome.Manifest.WinningAttempt)
	}
	if len(outcome.Manifest.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1 (halted before attempt 2 ran)", len(outcome.Manifest.Attempts))
	}
}

func TestRun_ExhaustedWhenAllRetriesFailWithoutHalt(t *testing.T) {
	cfg, rp := buildConfig(t, []string{"frame-zero", "frame-one"}, []string{"corrupted", "frame-one"})
	cfg.Inputs.Config = filepath.Join(rp.ConfigDir, "title.toml")
	if err := os.WriteFile(cfg.Inputs.Config, []byte("[title]\nid = \"0100000000000000\"\n"), 0o644); err != nil {
		t.Fatalf("write title config: %v", err)
	}
	cfg.Loop = config.Loop{
		Enabled:       true,
		MaxRetries:    1,
		StrategyOrder: []string{"service_stub_profile_switch"},
	}

	outcome, err := New(rp).Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Manifest.FinalStatus == nil || *outcome.Manifest.FinalStatus != manifest.RunExhausted {
		t.Fatalf("final status = %v, want exhausted", outcome.Manifest.FinalStatus)
	}
	if outcome.Summary.HaltedReason != "" {
		t.Fatalf("halted_reason = %q, want empty", outcome.Summary.HaltedReason)
	}
	if len(outcome.Manifest.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(outcome.Manifest.Attempts))
	}
	if outcome.Manifest.WinningAttempt != nil {
		t.Fatalf("winning attempt = %v, want nil", outcome.Manifest.WinningAttempt)
	}
}
