package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

// Helper to build a two-channel test signal
func makeStereo(n int) [][]float64 {
	left := make([]float64, n)
	right := make([]float64, n)
	for i := 0; i < n; i++ {
		left[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/8000)
		right[i] = 0.25 * math.Sin(2*math.Pi*220*float64(i)/8000)
	}
	return [][]float64{left, right}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roundtrip.wav")
	original := makeStereo(8000)

	if err := WriteWav(path, original, 8000); err != nil {
		t.Fatalf("WriteWav failed: %v", err)
	}

	channels, rate, err := ReadWav(path)
	if err != nil {
		t.Fatalf("ReadWav failed: %v", err)
	}
	if rate != 8000 {
		t.Errorf("Sample rate %d, want 8000", rate)
	}
	if len(channels) != 2 {
		t.Fatalf("Got %d channels, want 2", len(channels))
	}
	for c := range channels {
		if len(channels[c]) != 8000 {
			t.Fatalf("Channel %d has %d samples, want 8000", c, len(channels[c]))
		}
		// 16-bit quantization allows a small error.
		for i := range channels[c] {
			if math.Abs(channels[c][i]-original[c][i]) > 1e-3 {
				t.Fatalf("Channel %d sample %d: got %v, want %v", c, i, channels[c][i], original[c][i])
			}
		}
	}
}

func TestWriteWavClampsOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clamp.wav")
	data := [][]float64{{2.0, -3.0, 0.0}}

	if err := WriteWav(path, data, 8000); err != nil {
		t.Fatalf("WriteWav failed: %v", err)
	}

	channels, _, err := ReadWav(path)
	if err != nil {
		t.Fatalf("ReadWav failed: %v", err)
	}
	if channels[0][0] < 0.99 || channels[0][0] > 1.0 {
		t.Errorf("Over-range sample read back as %v, want ~1", channels[0][0])
	}
	if channels[0][1] > -0.99 {
		t.Errorf("Under-range sample read back as %v, want ~-1", channels[0][1])
	}
}

func TestWriteWavValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")

	if err := WriteWav(path, nil, 8000); err == nil {
		t.Error("Expected error for empty channel set")
	}
	if err := WriteWav(path, [][]float64{{1, 2}, {1}}, 8000); err == nil {
		t.Error("Expected error for mismatched channel lengths")
	}
}

func TestReadWavMonoDownmix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	// Opposite-phase channels cancel to silence when downmixed.
	n := 1000
	left := make([]float64, n)
	right := make([]float64, n)
	for i := 0; i < n; i++ {
		left[i] = 0.5
		right[i] = -0.5
	}
	if err := WriteWav(path, [][]float64{left, right}, 8000); err != nil {
		t.Fatalf("WriteWav failed: %v", err)
	}

	mono, rate, err := ReadWavMono(path)
	if err != nil {
		t.Fatalf("ReadWavMono failed: %v", err)
	}
	if rate != 8000 {
		t.Errorf("Sample rate %d, want 8000", rate)
	}
	if len(mono) != n {
		t.Fatalf("Got %d samples, want %d", len(mono), n)
	}
	for i, v := range mono {
		if math.Abs(v) > 1e-3 {
			t.Fatalf("Sample %d = %v, want ~0 after downmix", i, v)
		}
	}
}

func TestReadWavInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid.wav")
	if err := os.WriteFile(path, []byte("INVALID HEADER DATA"), 0644); err != nil {
		t.Fatalf("Failed to write bogus file: %v", err)
	}

	if _, _, err := ReadWav(path); err == nil {
		t.Error("Expected error for invalid WAV data")
	}
}

func TestReadWavMissingFile(t *testing.T) {
	if _, _, err := ReadWav(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("Expected error for missing file")
	}
}

// TestReadWavMetadataFallback exercises the header-only probe used when
// ffprobe is unavailable.
func TestReadWavMetadataFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.wav")
	if err := WriteWav(path, makeStereo(16000), 8000); err != nil {
		t.Fatalf("WriteWav failed: %v", err)
	}

	meta, err := readWavMetadata(path)
	if err != nil {
		t.Fatalf("readWavMetadata failed: %v", err)
	}
	if meta.SampleRate != 8000 {
		t.Errorf("SampleRate = %d, want 8000", meta.SampleRate)
	}
	if meta.Channels != 2 {
		t.Errorf("Channels = %d, want 2", meta.Channels)
	}
	if math.Abs(meta.DurationSec-2) > 0.01 {
		t.Errorf("DurationSec = %v, want 2", meta.DurationSec)
	}
	if meta.BitDepth != 16 {
		t.Errorf("BitDepth = %d, want 16", meta.BitDepth)
	}
}
