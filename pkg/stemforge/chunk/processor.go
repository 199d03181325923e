// Package chunk splits long audio signals into overlapping chunks and
// reassembles processed chunks into one continuous buffer using linear
// crossfades at chunk seams.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/stemforge/stemforge/pkg/stemforge/audio"
	"github.com/stemforge/stemforge/pkg/utils"
)

var (
	// ErrNoChunks is returned by MergeChunks when given an empty input.
	ErrNoChunks = errors.New("no chunks to merge")
	// ErrInvalidOverlap is returned when overlap is not shorter than the chunk length.
	ErrInvalidOverlap = errors.New("overlap must be non-negative and shorter than chunk length")
)

// Logger is the minimal logging surface the processor needs.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

// ProgressFunc reports per-unit progress. current runs 1..total and the
// final call has current == total. It may be invoked from any goroutine.
type ProgressFunc func(current, total int)

// AudioChunk describes one slice of a larger signal. Chunks are created in
// bulk by ChunkAudio and never mutated afterwards.
type AudioChunk struct {
	Index       int
	StartSample int // inclusive, in the original signal's timeline
	EndSample   int // exclusive
	SampleRate  int
	Data        [][]float64 // [channels][samples]
	HasOverlap  bool        // false only for chunk 0
}

// Samples returns the chunk's actual per-channel sample count.
func (c *AudioChunk) Samples() int {
	if len(c.Data) == 0 {
		return 0
	}
	return len(c.Data[0])
}

// Processor chunks and merges audio. A single call is synchronous and
// single-threaded; callers may run separate calls on separate Processors
// in parallel.
type Processor struct {
	chunkSeconds   float64
	overlapSeconds float64
	scratchDir     string
	log            Logger
}

// NewProcessor builds a Processor and creates its scratch directory under
// the OS temp root. overlapSeconds must be >= 0 and < chunkSeconds.
func NewProcessor(chunkSeconds, overlapSeconds float64, log Logger) (*Processor, error) {
	if chunkSeconds <= 0 || overlapSeconds < 0 || overlapSeconds >= chunkSeconds {
		return nil, ErrInvalidOverlap
	}

	scratch := filepath.Join(os.TempDir(), "stemforge-chunks-"+uuid.NewString()[:8])
	if err := utils.MakeDir(scratch); err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}

	return &Processor{
		chunkSeconds:   chunkSeconds,
		overlapSeconds: overlapSeconds,
		scratchDir:     scratch,
		log:            log,
	}, nil
}

// ScratchDir returns the processor's scratch directory for chunk files.
func (p *Processor) ScratchDir() string {
	return p.scratchDir
}

// chunkSamples converts the configured chunk length to samples, rounding
// half-up. The same rule is used everywhere so chunk counts agree.
func (p *Processor) chunkSamples(rate int) int {
	return int(math.Round(p.chunkSeconds * float64(rate)))
}

func (p *Processor) overlapSamples(rate int) int {
	return int(math.Round(p.overlapSeconds * float64(rate)))
}

// ShouldChunk reports whether a file is long enough to need chunking.
// Any probe error yields false so a bad file never halts a batch scan.
func (p *Processor) ShouldChunk(ctx context.Context, path string) bool {
	meta, err := audio.ReadMetadata(ctx, path)
	if err != nil {
		p.log.Debugf("probe failed for %s, not chunking: %v", path, err)
		return false
	}
	return meta.DurationSec > p.chunkSeconds+p.overlapSeconds
}

// EstimateNumChunks predicts the chunk count from file metadata alone.
// Returns 1 on any probe error.
func (p *Processor) EstimateNumChunks(ctx context.Context, path string) int {
	meta, err := audio.ReadMetadata(ctx, path)
	if err != nil || meta.DurationSec <= 0 {
		return 1
	}
	effective := p.chunkSeconds - p.overlapSeconds
	n := int(math.Ceil(meta.DurationSec / effective))
	if n < 1 {
		n = 1
	}
	return n
}

// ChunkAudio reads a WAV file and splits it into overlapping chunks.
// Chunk i covers samples [i*effective, min(i*effective+chunkSamples, total)),
// where effective = chunkSamples - overlapSamples. The last chunk may be
// shorter than a full chunk, even shorter than the overlap itself.
// progress, if non-nil, is called once per created chunk.
func (p *Processor) ChunkAudio(ctx context.Context, path string, progress ProgressFunc) ([]AudioChunk, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	channels, rate, err := audio.ReadWav(path)
	if err != nil {
		return nil, fmt.Errorf("reading source audio %s: %w", path, err)
	}

	total := len(channels[0])
	if total == 0 {
		return nil, fmt.Errorf("source audio %s has no samples", path)
	}

	cs := p.chunkSamples(rate)
	ov := p.overlapSamples(rate)
	effective := cs - ov
	if effective <= 0 {
		return nil, ErrInvalidOverlap
	}

	numChunks := (total + effective - 1) / effective

	chunks := make([]AudioChunk, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		start := i * effective
		end := start + cs
		if end > total {
			end = total
		}

		data := make([][]float64, len(channels))
		for c := range channels {
			data[c] = make([]float64, end-start)
			copy(data[c], channels[c][start:end])
		}

		chunks = append(chunks, AudioChunk{
			Index:       i,
			StartSample: start,
			EndSample:   end,
			SampleRate:  rate,
			Data:        data,
			HasOverlap:  i > 0,
		})

		if progress != nil {
			progress(i+1, numChunks)
		}
	}

	p.log.Infof("split %s into %d chunks (%d samples, %d overlap)", filepath.Base(path), numChunks, cs, ov)
	return chunks, nil
}

// ChunkPair couples a chunk descriptor with a processed sample buffer of
// the same shape, e.g. one stem produced from that chunk.
type ChunkPair struct {
	Chunk AudioChunk
	Data  [][]float64
}

// MergeChunks reassembles processed chunks into one continuous buffer.
// Input order is irrelevant; pairs are sorted by chunk index first. The
// first chunk is copied verbatim; each subsequent chunk is linearly
// crossfaded against the already-written tail over the overlap region,
// clipped to the chunk's actual length when the chunk is short. If
// outputPath is non-empty the merged buffer is also written as WAV.
func (p *Processor) MergeChunks(pairs []ChunkPair, outputPath string, progress ProgressFunc) ([][]float64, error) {
	if len(pairs) == 0 {
		return nil, ErrNoChunks
	}

	sorted := make([]ChunkPair, len(pairs))
	copy(sorted, pairs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Chunk.Index < sorted[j].Chunk.Index
	})

	rate := sorted[0].Chunk.SampleRate
	ov := p.overlapSamples(rate)
	numChans := len(sorted[0].Data)
	if numChans == 0 || len(sorted[0].Data[0]) == 0 {
		return nil, errors.New("first chunk has no sample data")
	}

	// Total length from actual buffer lengths, never the nominal chunk size.
	totalLen := len(sorted[0].Data[0])
	for i := 1; i < len(sorted); i++ {
		n := len(sorted[i].Data[0])
		fade := ov
		if fade > n {
			fade = n
		}
		totalLen += n - fade
	}

	merged := make([][]float64, numChans)
	for c := range merged {
		merged[c] = make([]float64, totalLen)
	}

	writePos := 0
	for i, pair := range sorted {
		n := len(pair.Data[0])
		if len(pair.Data) != numChans {
			return nil, fmt.Errorf("chunk %d has %d channels, want %d", pair.Chunk.Index, len(pair.Data), numChans)
		}

		if i == 0 || !pair.Chunk.HasOverlap {
			for c := 0; c < numChans; c++ {
				copy(merged[c][writePos:], pair.Data[c][:n])
			}
			writePos += n
		} else {
			fade := ov
			if fade > n {
				fade = n
			}
			fadeStart := writePos - fade
			for c := 0; c < numChans; c++ {
				for j := 0; j < fade; j++ {
					w := float64(j) / float64(fade)
					merged[c][fadeStart+j] = merged[c][fadeStart+j]*(1-w) + pair.Data[c][j]*w
				}
				copy(merged[c][writePos:], pair.Data[c][fade:])
			}
			writePos += n - fade
		}

		if progress != nil {
			progress(i+1, len(sorted))
		}
	}

	if outputPath != "" {
		if err := audio.WriteWav(outputPath, merged, rate); err != nil {
			return nil, fmt.Errorf("writing merged audio: %w", err)
		}
	}

	return merged, nil
}

// TotalDuration returns the duration in seconds the given chunks merge to,
// using actual buffer lengths and the configured overlap.
func (p *Processor) TotalDuration(chunks []AudioChunk) float64 {
	if len(chunks) == 0 {
		return 0
	}

	sorted := make([]AudioChunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	rate := sorted[0].SampleRate
	ov := p.overlapSamples(rate)

	total := sorted[0].Samples()
	for i := 1; i < len(sorted); i++ {
		n := sorted[i].Samples()
		fade := ov
		if fade > n {
			fade = n
		}
		total += n - fade
	}
	return float64(total) / float64(rate)
}

// WriteChunkFile writes one chunk into the scratch directory as WAV and
// returns the file path. Used to hand chunks to external per-chunk tools.
func (p *Processor) WriteChunkFile(chunk AudioChunk) (string, error) {
	path := filepath.Join(p.scratchDir, fmt.Sprintf("chunk_%03d.wav", chunk.Index))
	if err := audio.WriteWav(path, chunk.Data, chunk.SampleRate); err != nil {
		return "", fmt.Errorf("writing chunk %d: %w", chunk.Index, err)
	}
	return path, nil
}

// CleanupChunkFiles removes the scratch directory. Failures are logged,
// never returned: cleanup is best-effort housekeeping.
func (p *Processor) CleanupChunkFiles() {
	if err := utils.DeleteDir(p.scratchDir); err != nil {
		p.log.Warnf("failed to clean chunk scratch dir %s: %v", p.scratchDir, err)
		return
	}
	p.log.Debugf("removed chunk scratch dir %s", p.scratchDir)
}
