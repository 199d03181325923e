package stemforge

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stemforge/stemforge/pkg/logger"
	"github.com/stemforge/stemforge/pkg/stemforge/audio"
	"github.com/stemforge/stemforge/pkg/stemforge/chunk"
	"github.com/stemforge/stemforge/pkg/stemforge/loops"
	"github.com/stemforge/stemforge/pkg/stemforge/separate"
	"github.com/stemforge/stemforge/pkg/utils"
)

// stemService is the default implementation of the Service interface.
type stemService struct {
	storage Storage
	engine  SeparationEngine
	log     Logger
	config  *Config
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	// Set default logger if none provided
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	// Create or use provided storage
	var stor Storage
	var err error
	if cfg.Storage != nil {
		stor = cfg.Storage
	} else {
		stor, err = NewSQLiteStorage(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
	}

	engine := cfg.Engine
	if engine == nil {
		engine = separate.NewDemucsEngine("", "", cfg.Logger)
	}

	return &stemService{
		storage: stor,
		engine:  engine,
		log:     cfg.Logger,
		config:  cfg,
	}, nil
}

// SeparateOptions tunes one separation run.
type SeparateOptions struct {
	BPM         float64 // source tempo; enables loop detection when > 0
	BarsPerLoop int     // 0 selects loops.DefaultBarsPerLoop
	Progress    ProgressFunc
}

// Separate splits an audio file into stems. Long inputs are chunked,
// separated chunk by chunk and crossfade-merged back into continuous
// per-stem files; short inputs go through the model in one call.
func (s *stemService) Separate(ctx context.Context, audioPath string, opts SeparateOptions) (*SeparationResult, error) {
	s.log.Infof("separating %s", audioPath)

	absPath, err := filepath.Abs(audioPath)
	if err != nil {
		return nil, fmt.Errorf("resolving source path: %w", err)
	}

	// 1. Normalize to PCM WAV unless the input already is one.
	wavPath := audioPath
	if !strings.EqualFold(filepath.Ext(audioPath), ".wav") {
		wavPath, err = audio.ConvertToWAV(ctx, audioPath, filepath.Join(s.config.TempDir, "stemforge-convert"), audio.ConvertWAVConfig{
			SampleRate: s.config.SampleRate,
			Channels:   2,
		})
		if err != nil {
			return nil, fmt.Errorf("audio conversion failed: %w", err)
		}
	}

	proc, err := chunk.NewProcessor(s.config.ChunkSeconds, s.config.OverlapSeconds, s.log)
	if err != nil {
		return nil, err
	}
	defer proc.CleanupChunkFiles()

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	outDir := filepath.Join(s.config.OutputDir, base)
	if err := utils.MakeDir(outDir); err != nil {
		return nil, fmt.Errorf("creating stem output dir: %w", err)
	}

	result := &SeparationResult{
		OutputDir: outDir,
		Stems:     make(map[string]string),
	}

	// 2. Run the model, chunked or whole.
	if proc.ShouldChunk(ctx, wavPath) {
		if err := s.separateChunked(ctx, proc, wavPath, outDir, opts.Progress, result); err != nil {
			return nil, err
		}
	} else {
		if err := s.separateWhole(ctx, proc, wavPath, outDir, opts.Progress, result); err != nil {
			return nil, err
		}
	}

	// 3. Register the track. Metadata probing is best-effort.
	title, artist, durationMs := base, "", 0
	if meta, err := audio.ReadMetadata(ctx, wavPath); err == nil {
		durationMs = int(meta.DurationSec * 1000)
		if meta.Title != "" {
			title = meta.Title
		}
		artist = meta.Artist
	} else {
		s.log.Debugf("metadata probe failed for %s: %v", wavPath, err)
	}

	trackID, err := s.storage.RegisterTrack(title, artist, absPath, durationMs, opts.BPM)
	if err != nil {
		return nil, fmt.Errorf("failed to register track: %w", err)
	}
	result.TrackID = trackID

	if err := s.storage.ReplaceStems(trackID, result.Stems); err != nil {
		return nil, fmt.Errorf("failed to store stems: %w", err)
	}

	// 4. Detect bar-aligned loops when the tempo is known. A detection
	// failure costs only the loops, not the separation.
	if opts.BPM > 0 {
		if n, err := s.detectLoops(trackID, result.Stems, opts.BPM, opts.BarsPerLoop); err != nil {
			s.log.Warnf("loop detection failed for track %s: %v", trackID, err)
		} else {
			result.LoopCount = n
		}
	}

	if size, err := utils.DirSize(outDir); err == nil {
		s.log.Debugf("stem output %s totals %.1f MB", outDir, float64(size)/(1<<20))
	}
	s.log.Infof("separated %s into %d stems (chunked=%v)", base, len(result.Stems), result.Chunked)
	return result, nil
}

func (s *stemService) separateChunked(ctx context.Context, proc *chunk.Processor, wavPath, outDir string, progress ProgressFunc, result *SeparationResult) error {
	chunks, err := proc.ChunkAudio(ctx, wavPath, nil)
	if err != nil {
		return err
	}
	result.Chunked = true
	result.NumChunks = len(chunks)

	pairs := make(map[string][]chunk.ChunkPair)
	for i, ch := range chunks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		chunkFile, err := proc.WriteChunkFile(ch)
		if err != nil {
			return err
		}

		sepDir := filepath.Join(proc.ScratchDir(), fmt.Sprintf("sep_%03d", ch.Index))
		stemMap, err := s.engine.Separate(ctx, chunkFile, sepDir)
		if err != nil {
			return fmt.Errorf("separating chunk %d: %w", ch.Index, err)
		}

		for name, p := range stemMap {
			data, _, err := audio.ReadWav(p)
			if err != nil {
				return fmt.Errorf("reading stem %s of chunk %d: %w", name, ch.Index, err)
			}
			pairs[name] = append(pairs[name], chunk.ChunkPair{Chunk: ch, Data: data})
		}

		if progress != nil {
			progress(i+1, len(chunks))
		}
	}

	for name, pr := range pairs {
		stemPath := filepath.Join(outDir, name+".wav")
		if _, err := proc.MergeChunks(pr, stemPath, nil); err != nil {
			return fmt.Errorf("merging stem %s: %w", name, err)
		}
		result.Stems[name] = stemPath
	}
	return nil
}

func (s *stemService) separateWhole(ctx context.Context, proc *chunk.Processor, wavPath, outDir string, progress ProgressFunc, result *SeparationResult) error {
	sepDir := filepath.Join(proc.ScratchDir(), "sep_full")
	stemMap, err := s.engine.Separate(ctx, wavPath, sepDir)
	if err != nil {
		return fmt.Errorf("separation failed: %w", err)
	}

	names := make([]string, 0, len(stemMap))
	for name := range stemMap {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		data, rate, err := audio.ReadWav(stemMap[name])
		if err != nil {
			return fmt.Errorf("reading stem %s: %w", name, err)
		}
		stemPath := filepath.Join(outDir, name+".wav")
		if err := audio.WriteWav(stemPath, data, rate); err != nil {
			return fmt.Errorf("writing stem %s: %w", name, err)
		}
		result.Stems[name] = stemPath

		if progress != nil {
			progress(i+1, len(names))
		}
	}
	return nil
}

// detectLoops runs loop segmentation on the rhythm-critical stem and
// stores the result. Returns the number of loops found.
func (s *stemService) detectLoops(trackID string, stems map[string]string, bpm float64, barsPerLoop int) (int, error) {
	stemPath, ok := stems["drums"]
	if !ok {
		names := make([]string, 0, len(stems))
		for name := range stems {
			names = append(names, name)
		}
		if len(names) == 0 {
			return 0, fmt.Errorf("no stems to detect loops on")
		}
		sort.Strings(names)
		stemPath = stems[names[0]]
	}

	mono, rate, err := audio.ReadWavMono(stemPath)
	if err != nil {
		return 0, fmt.Errorf("reading stem for loop detection: %w", err)
	}

	segments, err := loops.Detect(mono, rate, bpm, barsPerLoop)
	if err != nil {
		return 0, err
	}

	if err := s.storage.ReplaceLoops(trackID, segments); err != nil {
		return 0, fmt.Errorf("storing loops: %w", err)
	}
	return len(segments), nil
}

// ImportURL downloads source audio from a URL into the temp dir and
// returns its path plus source metadata.
func (s *stemService) ImportURL(ctx context.Context, url string) (string, *audio.SourceInfo, error) {
	return audio.ImportFromURL(ctx, url, filepath.Join(s.config.TempDir, "stemforge-imports"))
}

func (s *stemService) GetTrack(trackID string) (*Track, error) {
	return s.storage.GetTrackByID(trackID)
}

func (s *stemService) ListTracks() ([]Track, error) {
	return s.storage.ListTracks()
}

func (s *stemService) StemsForTrack(trackID string) (map[string]string, error) {
	return s.storage.StemsForTrack(trackID)
}

func (s *stemService) LoopsForTrack(trackID string) ([]loops.Segment, error) {
	return s.storage.LoopsForTrack(trackID)
}

func (s *stemService) DeleteTrack(trackID string) error {
	return s.storage.DeleteTrackByID(trackID)
}

func (s *stemService) Close() error {
	return s.storage.Close()
}
