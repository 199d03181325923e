package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/stemforge/stemforge/pkg/stemforge/loops"
)

const DefaultDBFile = "stemforge.sqlite3"
const errDBClientNil = "db client is nil"

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

// Track is one separated source file.
type Track struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	Title      string `gorm:"index:idx_track_meta,priority:1" json:"title"`
	Artist     string `gorm:"index:idx_track_meta,priority:2" json:"artist"`
	SourcePath string `gorm:"uniqueIndex:idx_source_path" json:"source_path"`
	DurationMs int    `json:"duration_ms"`
	BPM        float64 `json:"bpm"`
	CreatedAt  time.Time
}

// Stem is one separated instrument track belonging to a Track.
type Stem struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	TrackID  string `gorm:"type:varchar(36);index:idx_stem_track" json:"track_id"`
	Name     string `gorm:"index:idx_stem_name" json:"name"`
	FilePath string `json:"file_path"`
}

// Loop is one detected loop segment belonging to a Track.
type Loop struct {
	ID        uint    `gorm:"primaryKey;autoIncrement"`
	TrackID   string  `gorm:"type:varchar(36);index:idx_loop_track" json:"track_id"`
	LoopIndex int     `json:"loop_index"`
	StartSec  float64 `json:"start_sec"`
	EndSec    float64 `json:"end_sec"`
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("STEMFORGE_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && !os.IsExist(err) {
		if filepath.Dir(dbPath) != "." {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_foreign_keys=on"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Track{}, &Stem{}, &Loop{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// RegisterTrack stores a track, reusing the existing row when the same
// source path was separated before.
func (c *DBClient) RegisterTrack(title, artist, sourcePath string, durationMs int, bpm float64) (string, error) {
	if c == nil || c.DB == nil {
		return "", errors.New(errDBClientNil)
	}

	var track Track

	err := c.DB.Where("source_path = ?", sourcePath).First(&track).Error
	if err == nil {
		if bpm > 0 && track.BPM != bpm {
			if err := c.DB.Model(&track).Update("BPM", bpm).Error; err != nil {
				return "", fmt.Errorf("updating bpm: %w", err)
			}
		}
		return track.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("querying existing track: %w", err)
	}

	track = Track{
		ID:         uuid.NewString(),
		Title:      title,
		Artist:     artist,
		SourcePath: sourcePath,
		DurationMs: durationMs,
		BPM:        bpm,
	}
	if err := c.DB.Create(&track).Error; err != nil {
		return "", fmt.Errorf("creating track: %w", err)
	}
	return track.ID, nil
}

// ReplaceStems stores the stem set for a track, removing any previous set.
func (c *DBClient) ReplaceStems(trackID string, stems map[string]string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("track_id = ?", trackID).Delete(&Stem{}).Error; err != nil {
			return err
		}
		for name, path := range stems {
			if err := tx.Create(&Stem{TrackID: trackID, Name: name, FilePath: path}).Error; err != nil {
				return fmt.Errorf("creating stem %s: %w", name, err)
			}
		}
		return nil
	})
}

// ReplaceLoops stores the loop segments for a track, removing any previous set.
func (c *DBClient) ReplaceLoops(trackID string, segments []loops.Segment) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("track_id = ?", trackID).Delete(&Loop{}).Error; err != nil {
			return err
		}
		rows := make([]Loop, 0, len(segments))
		for _, seg := range segments {
			rows = append(rows, Loop{
				TrackID:   trackID,
				LoopIndex: seg.Index,
				StartSec:  seg.StartSec,
				EndSec:    seg.EndSec,
			})
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 500).Error
	})
}

func (c *DBClient) GetTrackByID(trackID string) (*Track, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var track Track
	if err := c.DB.Where("id = ?", trackID).First(&track).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("track %s not found", trackID)
		}
		return nil, fmt.Errorf("querying track: %w", err)
	}
	return &track, nil
}

func (c *DBClient) GetTrackBySource(sourcePath string) (*Track, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var track Track
	if err := c.DB.Where("source_path = ?", sourcePath).First(&track).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("no track for source %s", sourcePath)
		}
		return nil, fmt.Errorf("querying track: %w", err)
	}
	return &track, nil
}

func (c *DBClient) ListTracks() ([]Track, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var tracks []Track
	if err := c.DB.Order("created_at desc").Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("listing tracks: %w", err)
	}
	return tracks, nil
}

// StemsForTrack returns stem name to file path for one track.
func (c *DBClient) StemsForTrack(trackID string) (map[string]string, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var rows []Stem
	if err := c.DB.Where("track_id = ?", trackID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying stems: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Name] = r.FilePath
	}
	return out, nil
}

// LoopsForTrack returns the stored loop segments of one track in order.
func (c *DBClient) LoopsForTrack(trackID string) ([]loops.Segment, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var rows []Loop
	if err := c.DB.Where("track_id = ?", trackID).Order("loop_index asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying loops: %w", err)
	}
	out := make([]loops.Segment, 0, len(rows))
	for _, r := range rows {
		out = append(out, loops.Segment{Index: r.LoopIndex, StartSec: r.StartSec, EndSec: r.EndSec})
	}
	return out, nil
}

// DeleteTrackByID removes a track and its stems and loops.
func (c *DBClient) DeleteTrackByID(trackID string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("track_id = ?", trackID).Delete(&Stem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("track_id = ?", trackID).Delete(&Loop{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", trackID).Delete(&Track{}).Error
	})
}
