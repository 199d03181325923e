package audio

import (
	"errors"
	"fmt"
	"math"
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ReadWav reads a PCM WAV file and returns per-channel normalized samples
// in the range [-1,1], shaped [channels][samples], plus the sample rate.
func ReadWav(path string) ([][]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, 0, fmt.Errorf("not a valid WAV file: %s", path)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("reading PCM data: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, 0, errors.New("empty WAV data")
	}

	numChans := buf.Format.NumChannels
	if numChans <= 0 {
		return nil, 0, errors.New("invalid channel count")
	}

	bitDepth := int(decoder.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}
	maxVal := float64(int64(1) << (uint(bitDepth) - 1))

	frames := len(buf.Data) / numChans
	channels := make([][]float64, numChans)
	for c := range channels {
		channels[c] = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < numChans; c++ {
			channels[c][i] = float64(buf.Data[i*numChans+c]) / maxVal
		}
	}

	return channels, int(decoder.SampleRate), nil
}

// ReadWavMono reads a WAV file and downmixes all channels to mono.
func ReadWavMono(path string) ([]float64, int, error) {
	channels, rate, err := ReadWav(path)
	if err != nil {
		return nil, 0, err
	}
	if len(channels) == 1 {
		return channels[0], rate, nil
	}

	frames := len(channels[0])
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := range channels {
			sum += channels[c][i]
		}
		mono[i] = sum / float64(len(channels))
	}
	return mono, rate, nil
}

// WriteWav writes per-channel normalized samples as a 16-bit PCM WAV file.
// All channels must have the same length.
func WriteWav(path string, channels [][]float64, sampleRate int) error {
	if len(channels) == 0 || len(channels[0]) == 0 {
		return errors.New("no samples to write")
	}
	for c := 1; c < len(channels); c++ {
		if len(channels[c]) != len(channels[0]) {
			return errors.New("channel length mismatch")
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	numChans := len(channels)
	frames := len(channels[0])

	buf := &gaudio.IntBuffer{
		Format: &gaudio.Format{
			NumChannels: numChans,
			SampleRate:  sampleRate,
		},
		Data:           make([]int, frames*numChans),
		SourceBitDepth: 16,
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < numChans; c++ {
			v := channels[c][i]
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			buf.Data[i*numChans+c] = int(math.Round(v * 32767))
		}
	}

	enc := wav.NewEncoder(f, sampleRate, 16, numChans, 1)
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return fmt.Errorf("writing PCM data: %w", err)
	}
	return enc.Close()
}
