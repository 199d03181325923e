package stemforge

import (
	"github.com/stemforge/stemforge/pkg/stemforge/loops"
	"github.com/stemforge/stemforge/pkg/stemforge/storage"
)

// storageAdapter adapts the storage.DBClient to implement the Storage interface.
type storageAdapter struct {
	db *storage.DBClient
}

// NewSQLiteStorage creates a new SQLite storage backend.
func NewSQLiteStorage(dbPath string) (Storage, error) {
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		return nil, err
	}
	return &storageAdapter{db: db}, nil
}

func (s *storageAdapter) RegisterTrack(title, artist, sourcePath string, durationMs int, bpm float64) (string, error) {
	return s.db.RegisterTrack(title, artist, sourcePath, durationMs, bpm)
}

func (s *storageAdapter) ReplaceStems(trackID string, stems map[string]string) error {
	return s.db.ReplaceStems(trackID, stems)
}

func (s *storageAdapter) ReplaceLoops(trackID string, segments []loops.Segment) error {
	return s.db.ReplaceLoops(trackID, segments)
}

func (s *storageAdapter) GetTrackByID(trackID string) (*Track, error) {
	dbTrack, err := s.db.GetTrackByID(trackID)
	if err != nil {
		return nil, err
	}
	return toDomainTrack(dbTrack), nil
}

func (s *storageAdapter) ListTracks() ([]Track, error) {
	dbTracks, err := s.db.ListTracks()
	if err != nil {
		return nil, err
	}
	tracks := make([]Track, len(dbTracks))
	for i := range dbTracks {
		tracks[i] = *toDomainTrack(&dbTracks[i])
	}
	return tracks, nil
}

func (s *storageAdapter) StemsForTrack(trackID string) (map[string]string, error) {
	return s.db.StemsForTrack(trackID)
}

func (s *storageAdapter) LoopsForTrack(trackID string) ([]loops.Segment, error) {
	return s.db.LoopsForTrack(trackID)
}

func (s *storageAdapter) DeleteTrackByID(trackID string) error {
	return s.db.DeleteTrackByID(trackID)
}

func (s *storageAdapter) Close() error {
	return s.db.Close()
}

func toDomainTrack(t *storage.Track) *Track {
	return &Track{
		ID:         t.ID,
		Title:      t.Title,
		Artist:     t.Artist,
		SourcePath: t.SourcePath,
		DurationMs: t.DurationMs,
		BPM:        t.BPM,
	}
}
