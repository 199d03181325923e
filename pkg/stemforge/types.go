package stemforge

// Track represents a separated source file in the catalog.
type Track struct {
	ID         string  // Database ID (UUID)
	Title      string  // Track title
	Artist     string  // Artist name
	SourcePath string  // Original source file
	DurationMs int     // Duration in milliseconds
	BPM        float64 // Detected or supplied tempo
}

// SeparationResult describes the outcome of one separation run.
type SeparationResult struct {
	TrackID   string
	Stems     map[string]string // stem name -> WAV path
	OutputDir string
	Chunked   bool
	NumChunks int
	LoopCount int
}

// ProgressFunc reports per-unit progress. current runs 1..total and the
// final call has current == total. Callbacks may arrive from any
// goroutine; consumers must treat them as thread-crossing notifications.
type ProgressFunc func(current, total int)
