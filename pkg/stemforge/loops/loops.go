// Package loops derives bar-aligned loop segments from a stem, snapping
// segment boundaries to onsets found via short-time spectral flux.
package loops

import (
	"errors"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

const (
	// WindowSize and HopSize parameterize the onset-detection STFT.
	WindowSize = 1024
	HopSize    = 256

	// DefaultBarsPerLoop is the loop length in bars when the caller does
	// not specify one.
	DefaultBarsPerLoop = 4

	beatsPerBar = 4 // 4/4 assumed
)

// Segment is a bounded time range within a stem intended for looped
// playback, typically aligned to musical bars.
type Segment struct {
	Index    int
	StartSec float64
	EndSec   float64
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.EndSec - s.StartSec
}

func hamming(n int) []float64 {
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// onsetEnvelope computes per-frame spectral flux: the summed positive
// magnitude change between consecutive STFT frames. Peaks mark onsets.
func onsetEnvelope(samples []float64, windowSize, hopSize int) []float64 {
	if len(samples) < windowSize {
		return nil
	}

	window := hamming(windowSize)
	var prev []float64
	var flux []float64

	frame := make([]float64, windowSize)
	for start := 0; start+windowSize <= len(samples); start += hopSize {
		copy(frame, samples[start:start+windowSize])
		for i := range frame {
			frame[i] *= window[i]
		}

		spectrum := fft.FFTReal(frame)
		half := len(spectrum) / 2
		mag := make([]float64, half)
		for i := 0; i < half; i++ {
			mag[i] = cmplx.Abs(spectrum[i])
		}

		if prev != nil {
			var sum float64
			for i := range mag {
				if d := mag[i] - prev[i]; d > 0 {
					sum += d
				}
			}
			flux = append(flux, sum)
		} else {
			flux = append(flux, 0)
		}
		prev = mag
	}
	return flux
}

// snapToOnset moves a boundary (seconds) to the strongest onset within
// +/- windowSec. With no usable envelope the boundary is returned as is.
func snapToOnset(flux []float64, sampleRate int, boundarySec, windowSec float64) float64 {
	if len(flux) == 0 {
		return boundarySec
	}

	frameSec := float64(HopSize) / float64(sampleRate)
	center := int(boundarySec / frameSec)
	radius := int(windowSec / frameSec)

	lo := center - radius
	if lo < 0 {
		lo = 0
	}
	hi := center + radius
	if hi >= len(flux) {
		hi = len(flux) - 1
	}
	if lo > hi {
		return boundarySec
	}

	best := lo
	for i := lo + 1; i <= hi; i++ {
		if flux[i] > flux[best] {
			best = i
		}
	}
	if flux[best] <= 0 {
		return boundarySec
	}
	return float64(best) * frameSec
}

// Detect splits a stem into bar-aligned loop segments of barsPerLoop bars
// at the given tempo. Boundaries between segments are snapped to the
// nearest strong onset within a tenth of a bar, so loops start on a hit
// rather than mid-transient. Audio shorter than one loop yields a single
// segment covering the whole signal.
func Detect(samples []float64, sampleRate int, bpm float64, barsPerLoop int) ([]Segment, error) {
	if len(samples) == 0 {
		return nil, errors.New("no samples")
	}
	if sampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	if bpm <= 0 {
		return nil, errors.New("bpm must be positive")
	}
	if barsPerLoop <= 0 {
		barsPerLoop = DefaultBarsPerLoop
	}

	duration := float64(len(samples)) / float64(sampleRate)
	barSec := beatsPerBar * 60.0 / bpm
	loopSec := barSec * float64(barsPerLoop)

	numLoops := int(duration / loopSec)
	if numLoops < 1 {
		return []Segment{{Index: 0, StartSec: 0, EndSec: duration}}, nil
	}

	flux := onsetEnvelope(samples, WindowSize, HopSize)
	snapWindow := barSec / 10

	boundaries := make([]float64, numLoops+1)
	boundaries[0] = 0
	for k := 1; k < numLoops; k++ {
		boundaries[k] = snapToOnset(flux, sampleRate, float64(k)*loopSec, snapWindow)
	}
	boundaries[numLoops] = float64(numLoops) * loopSec

	segments := make([]Segment, 0, numLoops)
	for k := 0; k < numLoops; k++ {
		if boundaries[k+1] <= boundaries[k] {
			continue
		}
		segments = append(segments, Segment{
			Index:    len(segments),
			StartSec: boundaries[k],
			EndSec:   boundaries[k+1],
		})
	}
	if len(segments) == 0 {
		return []Segment{{Index: 0, StartSec: 0, EndSec: duration}}, nil
	}
	return segments, nil
}
