package manifest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store implements ManifestStore: create-parents-then-write JSON,
// append-only JSONL, and idempotent cloud status-event append.
type Store struct{}

// WriteJSON creates path's parent directories and writes pretty-printed
// JSON, mirroring internal/attractor/runtime/final.go's Save.
func (Store) WriteJSON(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create json dir %s: %w", filepath.Dir(path), err)
	}
	b, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json for %s: %w", path, err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write json %s: %w", path, err)
	}
	return nil
}

// AppendJSONL creates path's parent directories and appends one
// newline-terminated JSON record.
func (Store) AppendJSONL(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create jsonl dir %s: %w", filepath.Dir(path), err)
	}
	line, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode jsonl for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open jsonl %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append jsonl %s: %w", path, err)
	}
	return nil
}

// AppendCloudStatusEvent appends event to path unless an existing line is
// byte-equivalent on the idempotency tuple (schema_version, run_id, event,
// attempt, status, final_status, detail) — spec.md §4.3, invariant 5.
func (s Store) AppendCloudStatusEvent(path string, event CloudStatusEvent) error {
	exists, err := s.cloudStatusEventExists(path, event)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.AppendJSONL(path, event)
}

func (Store) cloudStatusEventExists(path string, candidate CloudStatusEvent) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read cloud status log %s: %w", path, err)
	}
	defer f.Close()

	key := candidate.IdempotencyKey()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var existing CloudStatusEvent
		if err := json.Unmarshal(line, &existing); err != nil {
			return false, fmt.Errorf("invalid cloud status event in %s: %w", path, err)
		}
		if existing.IdempotencyKey() == key {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("scan cloud status log %s: %w", path, err)
	}
	return false, nil
}

// LoadRunManifest reads and decodes a run manifest, failing on schema
// version mismatch.
func (Store) LoadRunManifest(path string) (RunManifest, error) {
	var m RunManifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read run manifest %s: %w", path, err)
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("invalid run manifest %s: %w", path, err)
	}
	if m.SchemaVersion != RunManifestSchemaVersion {
		return m, fmt.Errorf("unsupported run manifest schema version: %s", m.SchemaVersion)
	}
	return m, nil
}

// LoadCloudSubmissionReceipt reads a previously written receipt, if any.
func (Store) LoadCloudSubmissionReceipt(path string) (*CloudSubmissionReceipt, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cloud submission receipt %s: %w", path, err)
	}
	var receipt CloudSubmissionReceipt
	if err := json.Unmarshal(b, &receipt); err != nil {
		return nil, fmt.Errorf("parse cloud submission receipt %s: %w", path, err)
	}
	if receipt.SchemaVersion != CloudSubmissionReceiptSchemaVersion {
		return nil, fmt.Errorf("unsupported cloud submission receipt schema version: %s", receipt.SchemaVersion)
	}
	return &receipt, nil
}
