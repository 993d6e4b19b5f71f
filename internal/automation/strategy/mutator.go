package strategy

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/danshapiro/recomp/internal/automation/config"
	"github.com/danshapiro/recomp/internal/automation/manifest"
)

// MutationState tracks the per-run, per-strategy variant counter and the
// perceptual-gate offset a capture_alignment_profile application carries
// forward to the next attempt.
type MutationState struct {
	StrategyCounts          map[Kind]int
	PerceptualOffsetSeconds float64
}

// NewMutationState starts with every strategy unused and a zero offset.
func NewMutationState() *MutationState {
	return &MutationState{StrategyCounts: map[Kind]int{}}
}

// Apply mutates cfg in place (and writes the resulting TOML documents under
// mutationDir) for strategy k, mirroring apply_strategy's per-kind
// behavior. lastHashGate supplies the drift hint CaptureAlignmentProfile
// needs; it may be nil on the first attempt.
func (m *MutationState) Apply(k Kind, cfg *config.AutomationConfig, mutationDir string, lastHashGate *manifest.HashGateResult) error {
	variant := m.StrategyCounts[k]
	m.StrategyCounts[k] = variant + 1

	if err := os.MkdirAll(mutationDir, 0o755); err != nil {
		return fmt.Errorf("create mutation dir %s: %w", mutationDir, err)
	}

	switch k {
	case CaptureAlignmentProfile:
		if lastHashGate != nil && lastHashGate.DriftSecondsHint != nil {
			m.PerceptualOffsetSeconds = *lastHashGate.DriftSecondsHint
		}
		return nil

	case InputTimingVariant:
		if cfg.Reference.InputScriptTOML == "" {
			return nil
		}
		value, err := readTOMLMap(cfg.Reference.InputScriptTOML)
		if err != nil {
			return err
		}
		shiftFrames := []int64{1, -1, 2, -2}[variant%4]
		if err := applyInputShift(value, shiftFrames); err != nil {
			return err
		}
		outPath := filepath.Join(mutationDir, "input_script.toml")
		if err := writeTOMLPretty(outPath, value); err != nil {
			return err
		}
		cfg.Reference.InputScriptTOML = outPath
		return nil

	case ServiceStubProfileSwitch:
		return mutateTitleConfig(cfg, mutationDir, func(title map[string]any) error {
			profile := []string{"strict", "log-heavy", "noop-safe"}[variant%3]
			stubs := ensureTable(title, "stubs")
			for key := range stubs {
				value := "log"
				if profile == "noop-safe" && (strings.Contains(key, "nifm") || strings.Contains(key, "bsd") || strings.Contains(key, "socket")) {
					value = "noop"
				}
				stubs[key] = value
			}
			return nil
		})

	case PatchSetVariant:
		return mutateTitleAndPatchSet(cfg, mutationDir, variant)

	case LiftModeVariant:
		if cfg.Run.LiftMode == config.LiftStub {
			cfg.Run.LiftMode = config.LiftDecode
		} else {
			cfg.Run.LiftMode = config.LiftStub
		}
		return nil

	case RuntimeModeVariant:
		return mutateTitleConfig(cfg, mutationDir, func(title map[string]any) error {
			runtime := ensureTable(title, "runtime")
			current, _ := runtime["performance_mode"].(string)
			if current == "" {
				current = "handheld"
			}
			next := "docked"
			if current != "handheld" {
				next = "handheld"
			}
			runtime["performance_mode"] = next
			return nil
		})

	default:
		return fmt.Errorf("unknown strategy kind %v", k)
	}
}

func applyInputShift(script map[string]any, shiftFrames int64) error {
	timingMode := "ms"
	if metadata, ok := script["metadata"].(map[string]any); ok {
		if mode, ok := metadata["timing_mode"].(string); ok && mode != "" {
			timingMode = mode
		}
	}
	shiftMS := int64(math.Round((1000.0 / 60.0) * float64(shiftFrames)))

	field := "time_ms"
	delta := shiftMS
	if timingMode == "frames" {
		field = "frame"
		delta = shiftFrames
	}

	if events, ok := script["events"].([]any); ok {
		for _, event := range events {
			table, ok := event.(map[string]any)
			if !ok {
				return fmt.Errorf("input event must be a table")
			}
			if err := shiftIntegerField(table, field, delta); err != nil {
				return err
			}
		}
	}
	if markers, ok := script["markers"].([]any); ok {
		for _, marker := range markers {
			table, ok := marker.(map[string]any)
			if !ok {
				return fmt.Errorf("input marker must be a table")
			}
			if err := shiftIntegerField(table, field, delta); err != nil {
				return err
			}
		}
	}
	return nil
}

func shiftIntegerField(table map[string]any, key string, delta int64) error {
	raw, ok := table[key]
	if !ok {
		return nil
	}
	current, ok := toInt64(raw)
	if !ok {
		return fmt.Errorf("input field %s must be integer", key)
	}
	next := current + delta
	if next < 0 {
		next = 0
	}
	table[key] = next
	return nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func mutateTitleConfig(cfg *config.AutomationConfig, mutationDir string, mutate func(map[string]any) error) error {
	titlePath := cfg.Inputs.Config
	value, err := readTOMLMap(titlePath)
	if err != nil {
		return fmt.Errorf("read title config %s: %w", titlePath, err)
	}
	if err := mutate(value); err != nil {
		return err
	}
	outPath := filepath.Join(mutationDir, "title.toml")
	if err := writeTOMLPretty(outPath, value); err != nil {
		return fmt.Errorf("write mutated title config %s: %w", outPath, err)
	}
	cfg.Inputs.Config = outPath
	return nil
}

func mutateTitleAndPatchSet(cfg *config.AutomationConfig, mutationDir string, variant int) error {
	titlePath := cfg.Inputs.Config
	titleValue, err := readTOMLMap(titlePath)
	if err != nil {
		return fmt.Errorf("read title config %s: %w", titlePath, err)
	}

	patches, _ := titleValue["patches"].(map[string]any)
	patchSetRel, _ := patches["patch_set"].(string)
	if patchSetRel == "" {
		return nil
	}
	patchPath := patchSetRel
	if !filepath.IsAbs(patchPath) {
		patchPath = filepath.Join(filepath.Dir(titlePath), patchPath)
	}

	patchValue, err := readTOMLMap(patchPath)
	if err != nil {
		return fmt.Errorf("read patch set %s: %w", patchPath, err)
	}
	entries, ok := patchValue["patches"].([]any)
	if !ok {
		return fmt.Errorf("patch set missing [[patches]] array")
	}
	for index, entry := range entries {
		table, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		var enabled bool
		switch variant % 3 {
		case 0:
			enabled = index%2 == 0
		case 1:
			kind, _ := table["kind"].(string)
			enabled = !strings.Contains(kind, "branch")
		default:
			enabled = true
		}
		table["enabled"] = enabled
	}

	outPatchPath := filepath.Join(mutationDir, "patches.toml")
	if err := writeTOMLPretty(outPatchPath, patchValue); err != nil {
		return fmt.Errorf("write patch set %s: %w", outPatchPath, err)
	}

	patchesTable := ensureTable(titleValue, "patches")
	patchesTable["patch_set"] = outPatchPath

	outTitlePath := filepath.Join(mutationDir, "title.toml")
	if err := writeTOMLPretty(outTitlePath, titleValue); err != nil {
		return fmt.Errorf("write title config %s: %w", outTitlePath, err)
	}
	cfg.Inputs.Config = outTitlePath
	return nil
}

func ensureTable(root map[string]any, key string) map[string]any {
	if table, ok := root[key].(map[string]any); ok {
		return table
	}
	table := map[string]any{}
	root[key] = table
	return table
}

func readTOMLMap(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	value := map[string]any{}
	if err := toml.Unmarshal(b, &value); err != nil {
		return nil, err
	}
	return value, nil
}

func writeTOMLPretty(path string, value map[string]any) error {
	b, err := toml.Marshal(value)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
