package stemforge

import (
	"context"

	"github.com/stemforge/stemforge/pkg/stemforge/audio"
	"github.com/stemforge/stemforge/pkg/stemforge/loops"
)

type Service interface {
	Separate(ctx context.Context, audioPath string, opts SeparateOptions) (*SeparationResult, error)
	ImportURL(ctx context.Context, url string) (string, *audio.SourceInfo, error)
	GetTrack(trackID string) (*Track, error)
	ListTracks() ([]Track, error)
	StemsForTrack(trackID string) (map[string]string, error)
	LoopsForTrack(trackID string) ([]loops.Segment, error)
	DeleteTrack(trackID string) error
	Close() error
}

type Storage interface {
	RegisterTrack(title, artist, sourcePath string, durationMs int, bpm float64) (string, error)
	ReplaceStems(trackID string, stems map[string]string) error
	ReplaceLoops(trackID string, segments []loops.Segment) error
	GetTrackByID(trackID string) (*Track, error)
	ListTracks() ([]Track, error)
	StemsForTrack(trackID string) (map[string]string, error)
	LoopsForTrack(trackID string) ([]loops.Segment, error)
	DeleteTrackByID(trackID string) error
	Close() error
}

// SeparationEngine is the external stem-separation model, consumed as an
// opaque audio-in, stem-files-out call. Implementations must run each
// call in an isolated process scope.
type SeparationEngine interface {
	Separate(ctx context.Context, audioPath, outputDir string) (map[string]string, error)
	IsAvailable() bool
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
