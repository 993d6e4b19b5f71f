package attempt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/danshapiro/recomp/internal/automation/hashutil"
)

// videoDescriptor is the shared shape of reference_video.toml and
// capture_video.toml: geometry, a default comparison window, and the
// content-hash lists a capture descriptor declares for the hash gate.
type videoDescriptor struct {
	Video struct {
		Path   string  `toml:"path"`
		Width  int     `toml:"width"`
		Height int     `toml:"height"`
		FPS    float64 `toml:"fps"`
	} `toml:"video"`
	Timeline struct {
		Start string `toml:"start"`
		End   string `toml:"end"`
	} `toml:"timeline"`
	Hashes struct {
		Frames hashList  `toml:"frames"`
		Audio  *hashList `toml:"audio,omitempty"`
	} `toml:"hashes"`
}

type hashList struct {
	Format string `toml:"format"`
	Path   string `toml:"path"`
}

func loadVideoDescriptor(path string) (videoDescriptor, string, error) {
	var desc videoDescriptor
	raw, err := os.ReadFile(path)
	if err != nil {
		return desc, "", fmt.Errorf("read video descriptor %s: %w", path, err)
	}
	if err := toml.Unmarshal(raw, &desc); err != nil {
		return desc, "", fmt.Errorf("parse video descriptor %s: %w", path, err)
	}
	return desc, filepath.Dir(path), nil
}

// hashEntry is one file's content hash within a hash list.
type hashEntry struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

type hashListFile struct {
	SchemaVersion string      `json:"schema_version"`
	Entries       []hashEntry `json:"entries"`
}

const hashListSchemaVersion = "1"

// hashFramesDir hashes every regular file directly under dir, sorted by
// name, mirroring hash_frames_dir's per-frame content addressing.
func hashFramesDir(dir string) ([]hashEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frames dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]hashEntry, 0, len(names))
	for _, name := range names {
		digest, size, err := hashutil.HashFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, hashEntry{Name: name, SHA256: digest, Size: size})
	}
	return out, nil
}

// hashAudioFile hashes a single audio file as a one-entry list.
func hashAudioFile(path string) ([]hashEntry, error) {
	digest, size, err := hashutil.HashFile(path)
	if err != nil {
		return nil, err
	}
	return []hashEntry{{Name: filepath.Base(path), SHA256: digest, Size: size}}, nil
}

func writeHashList(path string, entries []hashEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create hash list dir %s: %w", filepath.Dir(path), err)
	}
	b, err := json.MarshalIndent(hashListFile{SchemaVersion: hashListSchemaVersion, Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode hash list %s: %w", path, err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write hash list %s: %w", path, err)
	}
	return nil
}

func readHashList(path string) ([]hashEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hash list %s: %w", path, err)
	}
	var parsed hashListFile
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse hash list %s: %w", path, err)
	}
	return parsed.Entries, nil
}
