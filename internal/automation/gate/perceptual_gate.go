package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/danshapiro/recomp/internal/automation/config"
	"github.com/danshapiro/recomp/internal/automation/manifest"
	"github.com/danshapiro/recomp/internal/automation/procexec"
)

// ReferenceVideo carries the reference clip's geometry and default
// timeline window, read from reference_video_toml.
type ReferenceVideo struct {
	Path   string
	Width  int
	Height int
	FPS    float64
	Start  string
	End    string
}

// sceneWindow is one resolved, weighted comparison window.
type sceneWindow struct {
	id              string
	startSeconds    float64
	durationSeconds float64
	weight          float64
}

// ParseTimecode accepts "SS", "MM:SS", or "HH:MM:SS" and returns total
// seconds, mirroring recomp-validation's parse_timecode_to_seconds.
func ParseTimecode(value string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) == 0 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid timecode %q", value)
	}
	seconds := 0.0
	multiplier := 1.0
	for i := len(parts) - 1; i >= 0; i-- {
		component, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid timecode segment %q: %w", parts[i], err)
		}
		seconds += component * multiplier
		multiplier *= 60
	}
	return seconds, nil
}

func sceneWindows(cfg config.AutomationConfig, reference ReferenceVideo) ([]sceneWindow, error) {
	if len(cfg.Scenes) == 0 {
		start, err := ParseTimecode(reference.Start)
		if err != nil {
			return nil, err
		}
		end, err := ParseTimecode(reference.End)
		if err != nil {
			return nil, err
		}
		duration := end - start
		if duration < 0.001 {
			duration = 0.001
		}
		return []sceneWindow{{id: "default", startSeconds: start, durationSeconds: duration, weight: 1.0}}, nil
	}

	windows := make([]sceneWindow, 0, len(cfg.Scenes))
	for _, scene := range cfg.Scenes {
		start, err := ParseTimecode(scene.Start)
		if err != nil {
			return nil, err
		}
		end, err := ParseTimecode(scene.End)
		if err != nil {
			return nil, err
		}
		if end <= start {
			return nil, fmt.Errorf("scene %s has end <= start (%v <= %v)", scene.ID, end, start)
		}
		weight := scene.Weight
		if weight < 0 {
			weight = 0
		}
		windows = append(windows, sceneWindow{id: scene.ID, startSeconds: start, durationSeconds: end - start, weight: weight})
	}
	return windows, nil
}

// sceneSummary is the subset of compare_av.py's summary.json this gate
// reads out.
type sceneSummary struct {
	Video struct {
		SSIM struct {
			Average *float64 `json:"average"`
		} `json:"ssim"`
		PSNR struct {
			Average *float64 `json:"average"`
		} `json:"psnr"`
		VMAF struct {
			Average *float64 `json:"average"`
		} `json:"vmaf"`
	} `json:"video"`
	Audio struct {
		Reference struct {
			IntegratedLUFS *float64 `json:"integrated_lufs"`
			TruePeakDBTP   *float64 `json:"true_peak_dbtp"`
		} `json:"reference"`
		Test struct {
			IntegratedLUFS *float64 `json:"integrated_lufs"`
			TruePeakDBTP   *float64 `json:"true_peak_dbtp"`
		} `json:"test"`
	} `json:"audio"`
}

// PerceptualGateRunner invokes the scene-by-scene compare script and scores
// the result against the configured thresholds.
type PerceptualGateRunner struct {
	ComparePythonBin string
	CompareScript    string
	ValidationDir    string
}

// Run mirrors run_perceptual_gate: for every configured (or default) scene
// window, invoke the compare script, read its summary.json, and score the
// metrics against gate thresholds, then weight the per-scene pass/fail into
// an overall result.
func (r PerceptualGateRunner) Run(ctx context.Context, cfg config.AutomationConfig, reference ReferenceVideo, referenceVideoPath, captureVideoPath string, offsetSeconds float64) (manifest.PerceptualGateResult, error) {
	if _, err := os.Stat(r.CompareScript); err != nil {
		return manifest.PerceptualGateResult{}, fmt.Errorf("perceptual compare script not found: %s", r.CompareScript)
	}

	windows, err := sceneWindows(cfg, reference)
	if err != nil {
		return manifest.PerceptualGateResult{}, err
	}

	results := make([]manifest.PerceptualSceneResult, 0, len(windows))
	for _, scene := range windows {
		sceneDir := filepath.Join(r.ValidationDir, "perceptual", scene.id)
		if err := os.MkdirAll(sceneDir, 0o755); err != nil {
			return manifest.PerceptualGateResult{}, fmt.Errorf("create scene output dir %s: %w", sceneDir, err)
		}

		argv := []string{
			r.ComparePythonBin, r.CompareScript,
			"--ref", referenceVideoPath,
			"--test", captureVideoPath,
			"--out-dir", sceneDir,
			"--label", scene.id,
			"--width", strconv.Itoa(reference.Width),
			"--height", strconv.Itoa(reference.Height),
			"--fps", fmt.Sprintf("%.3f", reference.FPS),
			"--audio-rate", strconv.FormatUint(uint64(cfg.Gates.Perceptual.AudioRate), 10),
			"--offset", fmt.Sprintf("%.6f", offsetSeconds),
			"--trim-start", fmt.Sprintf("%.6f", scene.startSeconds),
			"--duration", fmt.Sprintf("%.6f", scene.durationSeconds),
		}
		if !cfg.Gates.Perceptual.RequireVMAF {
			argv = append(argv, "--no-vmaf")
		}

		if _, err := procexec.Run(ctx, "perceptual_compare:"+scene.id, r.ValidationDir, nil, argv); err != nil {
			return manifest.PerceptualGateResult{}, err
		}

		summaryPath := filepath.Join(sceneDir, "summary.json")
		raw, err := os.ReadFile(summaryPath)
		if err != nil {
			return manifest.PerceptualGateResult{}, fmt.Errorf("read summary %s: %w", summaryPath, err)
		}
		var summary sceneSummary
		if err := json.Unmarshal(raw, &summary); err != nil {
			return manifest.PerceptualGateResult{}, fmt.Errorf("invalid summary %s: %w", summaryPath, err)
		}

		results = append(results, scoreScene(scene, summaryPath, summary, cfg.Gates.Perceptual))
	}

	return aggregate(results), nil
}

func scoreScene(scene sceneWindow, summaryPath string, summary sceneSummary, gate config.PerceptualGate) manifest.PerceptualSceneResult {
	var failures []string

	ssim := summary.Video.SSIM.Average
	if ssim != nil {
		if *ssim < gate.SSIMMin {
			failures = append(failures, fmt.Sprintf("ssim %.4f below %.4f", *ssim, gate.SSIMMin))
		}
	} else {
		failures = append(failures, "missing ssim metric")
	}

	psnr := summary.Video.PSNR.Average
	if psnr != nil {
		if *psnr < gate.PSNRMin {
			failures = append(failures, fmt.Sprintf("psnr %.4f below %.4f", *psnr, gate.PSNRMin))
		}
	} else {
		failures = append(failures, "missing psnr metric")
	}

	var vmaf *float64
	if gate.RequireVMAF {
		vmaf = summary.Video.VMAF.Average
		if vmaf != nil {
			if *vmaf < gate.VMAFMin {
				failures = append(failures, fmt.Sprintf("vmaf %.4f below %.4f", *vmaf, gate.VMAFMin))
			}
		} else {
			failures = append(failures, "missing vmaf metric")
		}
	}

	var audioLUFSDelta, audioPeakDelta *float64
	if refLUFS, testLUFS := summary.Audio.Reference.IntegratedLUFS, summary.Audio.Test.IntegratedLUFS; refLUFS != nil && testLUFS != nil {
		audioLUFSDelta = ptr(abs(*refLUFS - *testLUFS))
		if *audioLUFSDelta > gate.AudioLUFSDeltaMax {
			failures = append(failures, fmt.Sprintf("audio lufs delta %.4f above %.4f", *audioLUFSDelta, gate.AudioLUFSDeltaMax))
		}
	}
	if refPeak, testPeak := summary.Audio.Reference.TruePeakDBTP, summary.Audio.Test.TruePeakDBTP; refPeak != nil && testPeak != nil {
		audioPeakDelta = ptr(abs(*refPeak - *testPeak))
		if *audioPeakDelta > gate.AudioPeakDeltaMax {
			failures = append(failures, fmt.Sprintf("audio peak delta %.4f above %.4f", *audioPeakDelta, gate.AudioPeakDeltaMax))
		}
	}

	if failures == nil {
		failures = []string{}
	}

	return manifest.PerceptualSceneResult{
		ID:            scene.id,
		Weight:        scene.weight,
		Passed:        len(failures) == 0,
		SummaryPath:   summaryPath,
		SSIMAvg:       ssim,
		PSNRAvg:       psnr,
		VMAFAvg:       vmaf,
		AudioLUFSDiff: audioLUFSDelta,
		AudioPeakDiff: audioPeakDelta,
		Failures:      failures,
	}
}

func aggregate(scenes []manifest.PerceptualSceneResult) manifest.PerceptualGateResult {
	totalWeight := 0.0
	passedWeight := 0.0
	passed := true
	var failing []manifest.PerceptualSceneResult
	for _, scene := range scenes {
		totalWeight += scene.Weight
		if scene.Passed {
			passedWeight += scene.Weight
		} else {
			passed = false
			failing = append(failing, scene)
		}
	}
	if totalWeight < 1.0 {
		totalWeight = 1.0
	}

	var failingScene string
	if len(failing) > 0 {
		sort.Slice(failing, func(i, j int) bool { return failing[i].Weight > failing[j].Weight })
		failingScene = failing[0].ID
	}

	return manifest.PerceptualGateResult{
		Enabled:       true,
		Passed:        passed,
		WeightedScore: passedWeight / totalWeight,
		TotalWeight:   totalWeight,
		PassedWeight:  passedWeight,
		FailingScene:  failingScene,
		Scenes:        scenes,
	}
}
