package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStore_AppendCloudStatusEvent_DedupesOnTuple(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status-events.jsonl")
	s := Store{}

	attempt := 1
	status := AttemptPassed
	event := CloudStatusEvent{
		SchemaVersion: CloudStatusEventSchemaVersion,
		RunID:         "run-1",
		Event:         "attempt_completed",
		Unix:          100,
		Attempt:       &attempt,
		Status:        &status,
		Detail:        "ok",
	}

	for i := 0; i < 3; i++ {
		if err := s.AppendCloudStatusEvent(path, event); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	b, err := readLines(path)
	if err != nil {
		t.Fatalf("read lines: %v", err)
	}
	if len(b) != 1 {
		t.Fatalf("expected exactly one line, got %d", len(b))
	}

	event2 := event
	event2.Unix = 200 // differs outside the idempotency tuple; still a dup
	if err := s.AppendCloudStatusEvent(path, event2); err != nil {
		t.Fatalf("append event2: %v", err)
	}
	b, err = readLines(path)
	if err != nil {
		t.Fatalf("read lines: %v", err)
	}
	if len(b) != 1 {
		t.Fatalf("expected still one line after unix-only variant, got %d", len(b))
	}

	event3 := event
	event3.Detail = "different"
	if err := s.AppendCloudStatusEvent(path, event3); err != nil {
		t.Fatalf("append event3: %v", err)
	}
	b, err = readLines(path)
	if err != nil {
		t.Fatalf("read lines: %v", err)
	}
	if len(b) != 2 {
		t.Fatalf("expected two lines after detail change, got %d", len(b))
	}
}

func TestStore_WriteJSON_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "run-manifest.json")
	s := Store{}

	want := RunManifest{
		SchemaVersion:    RunManifestSchemaVersion,
		InputFingerprint: "abc123",
		Inputs:           []RunInput{{Name: "a", Path: "a.bin", SHA256: "deadbeef", Size: 4}},
	}
	if err := s.WriteJSON(path, want); err != nil {
		t.Fatalf("write json: %v", err)
	}
	got, err := s.LoadRunManifest(path)
	if err != nil {
		t.Fatalf("load run manifest: %v", err)
	}
	if got.InputFingerprint != want.InputFingerprint {
		t.Fatalf("fingerprint mismatch: got %q want %q", got.InputFingerprint, want.InputFingerprint)
	}
	if len(got.Inputs) != 1 || got.Inputs[0].SHA256 != "deadbeef" {
		t.Fatalf("inputs mismatch: %+v", got.Inputs)
	}
}

func readLines(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	start := 0
	for i, c := range b {
		if c == '\n' {
			if i > start {
				lines = append(lines, string(b[start:i]))
			}
			start = i + 1
		}
	}
	return lines, nil
}
