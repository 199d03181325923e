package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stemforge/stemforge/pkg/stemforge/loops"
)

// Helper function to create a temporary test database
func setupTestDB(t *testing.T) (*DBClient, string) {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test_stemforge.sqlite3")

	client, err := NewDBClientWithPath(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test DB client: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
	})

	return client, dbPath
}

// TestNewDBClient tests database initialization via the env variable
func TestNewDBClient(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "env_stemforge.sqlite3")

	oldPath := os.Getenv("STEMFORGE_DB_PATH")
	os.Setenv("STEMFORGE_DB_PATH", dbPath)
	t.Cleanup(func() {
		if oldPath == "" {
			os.Unsetenv("STEMFORGE_DB_PATH")
		} else {
			os.Setenv("STEMFORGE_DB_PATH", oldPath)
		}
	})

	client, err := NewDBClient()
	if err != nil {
		t.Fatalf("Failed to create DB client: %v", err)
	}
	defer client.Close()

	if client.DB == nil {
		t.Fatal("Expected non-nil GORM DB handle")
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("Database file was not created at %s", dbPath)
	}
}

// TestNewDBClientCreatesParentDir tests db creation inside a missing directory
func TestNewDBClientCreatesParentDir(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "custom.db")

	client, err := NewDBClientWithPath(dbPath)
	if err != nil {
		t.Fatalf("Failed to create DB with nested path: %v", err)
	}
	defer client.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("Database file was not created at %s", dbPath)
	}
}

// TestRegisterTrack tests track registration
func TestRegisterTrack(t *testing.T) {
	client, _ := setupTestDB(t)

	trackID, err := client.RegisterTrack("Test Track", "Test Artist", "/audio/test.wav", 180000, 120)
	if err != nil {
		t.Fatalf("Failed to register track: %v", err)
	}
	if trackID == "" {
		t.Fatal("Expected non-empty track ID")
	}

	track, err := client.GetTrackByID(trackID)
	if err != nil {
		t.Fatalf("Failed to retrieve registered track: %v", err)
	}

	if track.Title != "Test Track" {
		t.Errorf("Expected title 'Test Track', got '%s'", track.Title)
	}
	if track.Artist != "Test Artist" {
		t.Errorf("Expected artist 'Test Artist', got '%s'", track.Artist)
	}
	if track.SourcePath != "/audio/test.wav" {
		t.Errorf("Expected source '/audio/test.wav', got '%s'", track.SourcePath)
	}
	if track.DurationMs != 180000 {
		t.Errorf("Expected duration 180000, got %d", track.DurationMs)
	}
	if track.BPM != 120 {
		t.Errorf("Expected BPM 120, got %v", track.BPM)
	}
}

// TestRegisterTrackDeduplicates tests same-source re-registration
func TestRegisterTrackDeduplicates(t *testing.T) {
	client, _ := setupTestDB(t)

	first, err := client.RegisterTrack("Track", "Artist", "/audio/same.wav", 60000, 0)
	if err != nil {
		t.Fatalf("Failed to register track: %v", err)
	}

	// Re-registering the same source must reuse the row and pick up a
	// newly supplied tempo.
	second, err := client.RegisterTrack("Track", "Artist", "/audio/same.wav", 60000, 128)
	if err != nil {
		t.Fatalf("Failed to re-register track: %v", err)
	}
	if first != second {
		t.Errorf("Expected same track ID for same source, got %s and %s", first, second)
	}

	track, err := client.GetTrackByID(first)
	if err != nil {
		t.Fatalf("Failed to retrieve track: %v", err)
	}
	if track.BPM != 128 {
		t.Errorf("Expected updated BPM 128, got %v", track.BPM)
	}

	tracks, err := client.ListTracks()
	if err != nil {
		t.Fatalf("Failed to list tracks: %v", err)
	}
	if len(tracks) != 1 {
		t.Errorf("Expected 1 track, got %d", len(tracks))
	}
}

// TestReplaceStems tests stem storage and replacement
func TestReplaceStems(t *testing.T) {
	client, _ := setupTestDB(t)

	trackID, err := client.RegisterTrack("Track", "", "/audio/a.wav", 0, 0)
	if err != nil {
		t.Fatalf("Failed to register track: %v", err)
	}

	stems := map[string]string{
		"drums":  "/stems/a/drums.wav",
		"bass":   "/stems/a/bass.wav",
		"vocals": "/stems/a/vocals.wav",
		"other":  "/stems/a/other.wav",
	}
	if err := client.ReplaceStems(trackID, stems); err != nil {
		t.Fatalf("Failed to store stems: %v", err)
	}

	got, err := client.StemsForTrack(trackID)
	if err != nil {
		t.Fatalf("Failed to load stems: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("Expected 4 stems, got %d", len(got))
	}
	for name, path := range stems {
		if got[name] != path {
			t.Errorf("Stem %s = %s, want %s", name, got[name], path)
		}
	}

	// Replacing drops the old set entirely.
	if err := client.ReplaceStems(trackID, map[string]string{"drums": "/stems/b/drums.wav"}); err != nil {
		t.Fatalf("Failed to replace stems: %v", err)
	}
	got, err = client.StemsForTrack(trackID)
	if err != nil {
		t.Fatalf("Failed to load stems: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Expected 1 stem after replacement, got %d", len(got))
	}
	if got["drums"] != "/stems/b/drums.wav" {
		t.Errorf("Stem drums = %s, want /stems/b/drums.wav", got["drums"])
	}
}

// TestReplaceLoops tests loop storage, ordering and replacement
func TestReplaceLoops(t *testing.T) {
	client, _ := setupTestDB(t)

	trackID, err := client.RegisterTrack("Track", "", "/audio/a.wav", 0, 120)
	if err != nil {
		t.Fatalf("Failed to register track: %v", err)
	}

	segments := []loops.Segment{
		{Index: 2, StartSec: 16, EndSec: 24},
		{Index: 0, StartSec: 0, EndSec: 8},
		{Index: 1, StartSec: 8, EndSec: 16},
	}
	if err := client.ReplaceLoops(trackID, segments); err != nil {
		t.Fatalf("Failed to store loops: %v", err)
	}

	got, err := client.LoopsForTrack(trackID)
	if err != nil {
		t.Fatalf("Failed to load loops: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 loops, got %d", len(got))
	}
	// Returned in loop index order regardless of insertion order.
	for i, seg := range got {
		if seg.Index != i {
			t.Errorf("Loop %d has index %d", i, seg.Index)
		}
		if seg.StartSec != float64(i*8) || seg.EndSec != float64((i+1)*8) {
			t.Errorf("Loop %d covers [%v, %v), want [%v, %v)", i, seg.StartSec, seg.EndSec, float64(i*8), float64((i+1)*8))
		}
	}

	// Replacing with an empty set clears the loops.
	if err := client.ReplaceLoops(trackID, nil); err != nil {
		t.Fatalf("Failed to clear loops: %v", err)
	}
	got, err = client.LoopsForTrack(trackID)
	if err != nil {
		t.Fatalf("Failed to load loops: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected 0 loops after clearing, got %d", len(got))
	}
}

// TestGetTrackBySource tests lookup by source path
func TestGetTrackBySource(t *testing.T) {
	client, _ := setupTestDB(t)

	trackID, err := client.RegisterTrack("Track", "", "/audio/findme.wav", 0, 0)
	if err != nil {
		t.Fatalf("Failed to register track: %v", err)
	}

	track, err := client.GetTrackBySource("/audio/findme.wav")
	if err != nil {
		t.Fatalf("Failed to find track by source: %v", err)
	}
	if track.ID != trackID {
		t.Errorf("Expected track %s, got %s", trackID, track.ID)
	}

	if _, err := client.GetTrackBySource("/audio/missing.wav"); err == nil {
		t.Error("Expected error for unknown source path")
	}
}

// TestGetTrackByIDNotFound tests lookup of a missing track
func TestGetTrackByIDNotFound(t *testing.T) {
	client, _ := setupTestDB(t)

	if _, err := client.GetTrackByID("no-such-id"); err == nil {
		t.Error("Expected error for unknown track ID")
	}
}

// TestDeleteTrackByID tests cascading deletion of a track
func TestDeleteTrackByID(t *testing.T) {
	client, _ := setupTestDB(t)

	trackID, err := client.RegisterTrack("Track", "", "/audio/a.wav", 0, 120)
	if err != nil {
		t.Fatalf("Failed to register track: %v", err)
	}
	if err := client.ReplaceStems(trackID, map[string]string{"drums": "/stems/drums.wav"}); err != nil {
		t.Fatalf("Failed to store stems: %v", err)
	}
	if err := client.ReplaceLoops(trackID, []loops.Segment{{Index: 0, StartSec: 0, EndSec: 8}}); err != nil {
		t.Fatalf("Failed to store loops: %v", err)
	}

	if err := client.DeleteTrackByID(trackID); err != nil {
		t.Fatalf("Failed to delete track: %v", err)
	}

	if _, err := client.GetTrackByID(trackID); err == nil {
		t.Error("Track still present after deletion")
	}
	stems, err := client.StemsForTrack(trackID)
	if err != nil {
		t.Fatalf("Failed to query stems: %v", err)
	}
	if len(stems) != 0 {
		t.Errorf("Expected 0 stems after deletion, got %d", len(stems))
	}
	segments, err := client.LoopsForTrack(trackID)
	if err != nil {
		t.Fatalf("Failed to query loops: %v", err)
	}
	if len(segments) != 0 {
		t.Errorf("Expected 0 loops after deletion, got %d", len(segments))
	}
}

// TestNilClient tests that a nil client fails loudly instead of panicking
func TestNilClient(t *testing.T) {
	var client *DBClient

	if _, err := client.RegisterTrack("t", "a", "/p", 0, 0); err == nil {
		t.Error("Expected error from nil client RegisterTrack")
	}
	if err := client.ReplaceStems("id", nil); err == nil {
		t.Error("Expected error from nil client ReplaceStems")
	}
	if _, err := client.ListTracks(); err == nil {
		t.Error("Expected error from nil client ListTracks")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close on nil client should be a no-op, got %v", err)
	}
}
