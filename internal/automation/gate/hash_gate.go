// Package gate evaluates the hash and perceptual gates that determine an
// attempt's tri-state status, grounded on automation.rs's
// evaluate_hash_gate and run_perceptual_gate.
package gate

import (
	"fmt"

	"github.com/danshapiro/recomp/internal/automation/config"
	"github.com/danshapiro/recomp/internal/automation/manifest"
)

// ValidationReport is the deserialized frame/audio comparison report the
// hash-validation subprocess writes to disk.
type ValidationReport struct {
	Failed int
	Video  *VideoReport
}

// VideoReport carries the frame and (optional) audio comparison along with
// a drift summary, when the hash-validation subprocess produced one.
type VideoReport struct {
	FrameComparison FrameComparison
	Drift           DriftSummary
	AudioComparison *AudioComparison
	Failures        []string
}

// FrameComparison is the match ratio between reference and captured frames.
type FrameComparison struct {
	MatchRatio float64
}

// DriftSummary reports frame-count and timing drift between reference and
// capture.
type DriftSummary struct {
	FrameOffset          float64
	FrameOffsetSeconds   float64
	LengthDeltaFrames    float64
}

// AudioComparison is the match ratio and drift offset for the audio track.
type AudioComparison struct {
	MatchRatio float64
	Offset     float64
}

// EvaluateHashGate mirrors evaluate_hash_gate exactly: passed starts as
// report.Failed==0, then the video block (if present) both supplies the
// reported metrics and lets each configured override push an additional
// failure and force passed=false. A missing video block is itself a
// failure and forces passed=false regardless of report.Failed.
func EvaluateHashGate(report ValidationReport, gate config.HashGate, reportPath string) manifest.HashGateResult {
	var failures []string
	passed := report.Failed == 0

	var frameMatchRatio, frameDriftFrames, frameLengthDelta *float64
	var audioMatchRatio, audioDriftChunks, driftSecondsHint *float64

	if report.Video != nil {
		video := report.Video
		frameMatchRatio = ptr(video.FrameComparison.MatchRatio)
		frameDriftFrames = ptr(video.Drift.FrameOffset)
		frameLengthDelta = ptr(video.Drift.LengthDeltaFrames)
		driftSecondsHint = ptr(video.Drift.FrameOffsetSeconds)
		if video.AudioComparison != nil {
			audioMatchRatio = ptr(video.AudioComparison.MatchRatio)
			audioDriftChunks = ptr(video.AudioComparison.Offset)
		}
		failures = append(failures, video.Failures...)

		if gate.FrameMatchRatioMin != nil && video.FrameComparison.MatchRatio < *gate.FrameMatchRatioMin {
			failures = append(failures, fmt.Sprintf("hash gate override: frame match %.4f below %.4f",
				video.FrameComparison.MatchRatio, *gate.FrameMatchRatioMin))
			passed = false
		}
		if gate.MaxDriftFrames != nil && abs(video.Drift.FrameOffset) > *gate.MaxDriftFrames {
			failures = append(failures, fmt.Sprintf("hash gate override: frame drift %.0f exceeds %.0f",
				video.Drift.FrameOffset, *gate.MaxDriftFrames))
			passed = false
		}
		if gate.MaxDroppedFrames != nil && abs(video.Drift.LengthDeltaFrames) > *gate.MaxDroppedFrames {
			failures = append(failures, fmt.Sprintf("hash gate override: frame delta %.0f exceeds %.0f",
				video.Drift.LengthDeltaFrames, *gate.MaxDroppedFrames))
			passed = false
		}
		if video.AudioComparison != nil {
			if gate.AudioMatchRatioMin != nil && video.AudioComparison.MatchRatio < *gate.AudioMatchRatioMin {
				failures = append(failures, fmt.Sprintf("hash gate override: audio match %.4f below %.4f",
					video.AudioComparison.MatchRatio, *gate.AudioMatchRatioMin))
				passed = false
			}
			if gate.MaxAudioDriftChunks != nil && abs(video.AudioComparison.Offset) > *gate.MaxAudioDriftChunks {
				failures = append(failures, fmt.Sprintf("hash gate override: audio drift %.0f exceeds %.0f",
					video.AudioComparison.Offset, *gate.MaxAudioDriftChunks))
				passed = false
			}
		}
	} else {
		failures = append(failures, "hash validation missing video report")
		passed = false
	}

	if failures == nil {
		failures = []string{}
	}

	return manifest.HashGateResult{
		Passed:           passed,
		FailedCases:      report.Failed,
		FrameMatchRatio:  frameMatchRatio,
		FrameDriftFrames: frameDriftFrames,
		FrameLengthDelta: frameLengthDelta,
		AudioMatchRatio:  audioMatchRatio,
		AudioDriftChunks: audioDriftChunks,
		Failures:         failures,
		ReportPath:       reportPath,
		DriftSecondsHint: driftSecondsHint,
	}
}

func ptr(v float64) *float64 { return &v }

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// ComposeStatus derives an attempt's tri-state status: a failed hash gate
// always fails the attempt; a passed hash gate with no perceptual gate (or
// a passing one) passes; a passed hash gate with a failing perceptual gate
// needs review.
func ComposeStatus(hash manifest.HashGateResult, perceptual *manifest.PerceptualGateResult) manifest.AttemptStatus {
	if !hash.Passed {
		return manifest.AttemptFailed
	}
	if perceptual != nil && !perceptual.Passed {
		return manifest.AttemptNeedsReview
	}
	return manifest.AttemptPassed
}
