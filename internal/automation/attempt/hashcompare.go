package attempt

import (
	"github.com/danshapiro/recomp/internal/automation/gate"
)

// maxFrameOffsetSearch bounds the brute-force alignment search below: real
// captures drift by at most a handful of frames, so this keeps the search
// cheap without needing a smarter alignment algorithm.
const maxFrameOffsetSearch = 8

// compareFrameHashes finds the integer frame offset (capture index minus
// reference index) that maximizes exact SHA-256 matches between the two
// lists, and reports the match ratio at that offset.
func compareFrameHashes(reference, capture []hashEntry) (matchRatio float64, offset int) {
	bestRatio := -1.0
	bestOffset := 0
	for shift := -maxFrameOffsetSearch; shift <= maxFrameOffsetSearch; shift++ {
		compared, matched := 0, 0
		for i, ref := range reference {
			j := i + shift
			if j < 0 || j >= len(capture) {
				continue
			}
			compared++
			if capture[j].SHA256 == ref.SHA256 {
				matched++
			}
		}
		if compared == 0 {
			continue
		}
		ratio := float64(matched) / float64(compared)
		if ratio > bestRatio {
			bestRatio = ratio
			bestOffset = shift
		}
	}
	if bestRatio < 0 {
		return 0, 0
	}
	return bestRatio, bestOffset
}

// compareAudioHashes applies the same alignment search over audio chunks.
func compareAudioHashes(reference, capture []hashEntry) (matchRatio float64, offset int) {
	return compareFrameHashes(reference, capture)
}

// buildValidationReport compares reference and capture hash lists (frames,
// and audio when both sides declare it) into the shape gate.EvaluateHashGate
// consumes, mirroring recomp-validation's per-frame/per-chunk hash
// comparison without re-deriving its perceptual-metric machinery.
func buildValidationReport(referenceFrames, captureFrames []hashEntry, referenceAudio, captureAudio []hashEntry, fps float64) gate.ValidationReport {
	frameRatio, frameOffset := compareFrameHashes(referenceFrames, captureFrames)
	lengthDelta := float64(len(captureFrames) - len(referenceFrames))

	offsetSeconds := 0.0
	if fps > 0 {
		offsetSeconds = float64(frameOffset) / fps
	}

	var failures []string
	if frameRatio < 1 {
		failures = append(failures, "captured frames do not exactly match the reference hash list")
	}

	video := &gate.VideoReport{
		FrameComparison: gate.FrameComparison{MatchRatio: frameRatio},
		Drift: gate.DriftSummary{
			FrameOffset:        float64(frameOffset),
			FrameOffsetSeconds: offsetSeconds,
			LengthDeltaFrames:  lengthDelta,
		},
		Failures: failures,
	}

	if referenceAudio != nil && captureAudio != nil {
		audioRatio, audioOffset := compareAudioHashes(referenceAudio, captureAudio)
		video.AudioComparison = &gate.AudioComparison{MatchRatio: audioRatio, Offset: float64(audioOffset)}
		if audioRatio < 1 {
			video.Failures = append(video.Failures, "captured audio does not exactly match the reference hash list")
		}
	}

	failed := 0
	if frameRatio < 1 || (video.AudioComparison != nil && video.AudioComparison.MatchRatio < 1) {
		failed = 1
	}

	return gate.ValidationReport{Failed: failed, Video: video}
}
