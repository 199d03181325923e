package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stemforge/stemforge/pkg/logger"
	"github.com/stemforge/stemforge/pkg/stemforge"
	"github.com/stemforge/stemforge/pkg/stemforge/audio"
	"github.com/stemforge/stemforge/pkg/stemforge/loops"
	"github.com/stemforge/stemforge/pkg/stemforge/stretch"
	"github.com/stemforge/stemforge/pkg/utils"
)

// Global flags
var (
	dbPath         string
	tempDir        string
	outputDir      string
	chunkSeconds   float64
	overlapSeconds float64
)

func init() {
	// Global flags that can be used with any command
	flag.StringVar(&dbPath, "db", getEnvOrDefault("STEMFORGE_DB_PATH", "stemforge.sqlite3"), "Path to the SQLite database file")
	flag.StringVar(&tempDir, "temp", getEnvOrDefault("STEMFORGE_TEMP_DIR", "/tmp"), "Directory for temporary audio files")
	flag.StringVar(&outputDir, "out", getEnvOrDefault("STEMFORGE_OUT_DIR", "stems"), "Directory for separated stem files")
	flag.Float64Var(&chunkSeconds, "chunk", 180, "Chunk length in seconds for long inputs")
	flag.Float64Var(&overlapSeconds, "overlap", 5, "Chunk overlap in seconds")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// createService creates a new StemForge service with configured options
func createService() (stemforge.Service, error) {
	return stemforge.NewService(
		stemforge.WithDBPath(dbPath),
		stemforge.WithTempDir(tempDir),
		stemforge.WithOutputDir(outputDir),
		stemforge.WithChunking(chunkSeconds, overlapSeconds),
	)
}

func main() {
	// Initialize logger
	log := logger.GetLogger()

	// Print banner
	printBanner()

	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	log.Infof("Executing command: %s", command)

	switch command {
	case "separate":
		handleSeparate()
	case "stretch":
		handleStretch()
	case "loops":
		handleLoops()
	case "import":
		handleImport()
	case "list":
		handleList()
	case "delete":
		handleDelete()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printBanner() {
	banner := `
 ____  _                 _____
/ ___|| |_ ___ _ __ ___ |  ___|__  _ __ __ _  ___
\___ \| __/ _ \ '_ ' _ \| |_ / _ \| '__/ _' |/ _ \
 ___) | ||  __/ | | | | |  _| (_) | | | (_| |  __/
|____/ \__\___|_| |_| |_|_|  \___/|_|  \__, |\___|
                                       |___/
           Stem Separation & Looping CLI
`
	fmt.Println(banner)
}

func handleSeparate() {
	log := logger.GetLogger()

	// Manually extract audio file and flags
	args := flag.Args()[1:]
	var audioPath string
	var flagArgs []string

	for i, arg := range args {
		if len(arg) > 0 && arg[0] != '-' && audioPath == "" {
			audioPath = arg
		} else {
			flagArgs = append(flagArgs, args[i:]...)
			break
		}
	}

	sepCmd := flag.NewFlagSet("separate", flag.ExitOnError)
	bpm := sepCmd.Float64("bpm", 0, "Source tempo; enables loop detection (optional)")
	bars := sepCmd.Int("bars", 0, "Bars per loop (default 4)")
	sepCmd.Parse(flagArgs)

	if audioPath == "" {
		fmt.Println("Error: audio file path required")
		fmt.Println("Usage: stemforge separate <audio_file> [--bpm <bpm>] [--bars <n>]")
		os.Exit(1)
	}

	fmt.Println("\n🔧 Initializing service...")
	svc, err := createService()
	if err != nil {
		fmt.Printf("❌ Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	fmt.Println("🎛  Separating stems...")
	fmt.Println("   Long files are processed in chunks; this can take a while")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
	defer cancel()

	result, err := svc.Separate(ctx, audioPath, stemforge.SeparateOptions{
		BPM:         *bpm,
		BarsPerLoop: *bars,
		Progress: func(current, total int) {
			fmt.Printf("   chunk %d/%d done\n", current, total)
		},
	})
	if err != nil {
		fmt.Printf("\n❌ Separation failed: %v\n", err)
		log.Errorf("Separate failed: %v", err)
		os.Exit(1)
	}

	fmt.Println("\n✅ Separation complete!")
	fmt.Printf("   Track ID: %s\n", result.TrackID)
	fmt.Printf("   Output:   %s\n", result.OutputDir)
	if result.Chunked {
		fmt.Printf("   Chunks:   %d\n", result.NumChunks)
	}
	for name, path := range result.Stems {
		fmt.Printf("   %-8s %s\n", name+":", path)
	}
	if result.LoopCount > 0 {
		fmt.Printf("   Loops:    %d\n", result.LoopCount)
	}
	log.Infof("Separated track %s into %d stems", result.TrackID, len(result.Stems))
}

func handleStretch() {
	log := logger.GetLogger()

	args := flag.Args()[1:]
	var trackID string
	var flagArgs []string

	for i, arg := range args {
		if len(arg) > 0 && arg[0] != '-' && trackID == "" {
			trackID = arg
		} else {
			flagArgs = append(flagArgs, args[i:]...)
			break
		}
	}

	stretchCmd := flag.NewFlagSet("stretch", flag.ExitOnError)
	targetBPM := stretchCmd.Float64("target-bpm", 0, "Target tempo (required)")
	workers := stretchCmd.Int("workers", 0, "Worker count (default: CPU-based)")
	exportDir := stretchCmd.String("export", "", "Write stretched loops as WAV files to this directory")
	stretchCmd.Parse(flagArgs)

	if trackID == "" || *targetBPM <= 0 {
		fmt.Println("Usage: stemforge stretch <track_id> --target-bpm <bpm> [--workers <n>] [--export <dir>]")
		os.Exit(1)
	}

	fmt.Println("\n🔧 Initializing service...")
	svc, err := createService()
	if err != nil {
		fmt.Printf("❌ Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	track, err := svc.GetTrack(trackID)
	if err != nil {
		fmt.Printf("❌ Track not found (ID: %s)\n", trackID)
		log.Warnf("Track %s not found: %v", trackID, err)
		os.Exit(1)
	}
	if track.BPM <= 0 {
		fmt.Println("❌ Track has no tempo on record; re-run separate with --bpm")
		os.Exit(1)
	}

	stems, err := svc.StemsForTrack(trackID)
	if err != nil || len(stems) == 0 {
		fmt.Printf("❌ No stems found for track %s\n", trackID)
		os.Exit(1)
	}

	segments, err := svc.LoopsForTrack(trackID)
	if err != nil || len(segments) == 0 {
		fmt.Printf("❌ No loops found for track %s; re-run separate with --bpm\n", trackID)
		os.Exit(1)
	}

	engine := stretch.NewRubberbandEngine("", log)
	if !engine.IsAvailable() {
		fmt.Println("❌ rubberband binary not found in PATH")
		log.Errorf("rubberband not available")
		os.Exit(1)
	}

	mgr := stretch.NewManager(engine, stretch.ManagerConfig{
		MaxWorkers: *workers,
		Logger:     log,
	})
	mgr.OnProgress(func(completed, total int) {
		fmt.Printf("   stretched %d/%d loops\n", completed, total)
	})

	fmt.Printf("🎚  Stretching %d loops x %d stems: %.1f -> %.1f BPM\n",
		len(segments), len(stems), track.BPM, *targetBPM)

	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	if err := mgr.StartBatch(ctx, stems, segments, track.BPM, *targetBPM); err != nil {
		fmt.Printf("❌ Failed to start batch: %v\n", err)
		log.Errorf("StartBatch failed: %v", err)
		os.Exit(1)
	}
	mgr.Wait()

	completed, total := mgr.Progress()
	fmt.Printf("\n✅ Batch %s: %d/%d loops stretched", mgr.State(), completed, total)
	if failed := mgr.Failed(); failed > 0 {
		fmt.Printf(" (%d failed)", failed)
	}
	fmt.Println()

	if *exportDir != "" {
		exportLoops(mgr, stems, segments, *targetBPM, *exportDir)
	}
}

// exportLoops writes every cached stretched loop out as a WAV file.
func exportLoops(mgr *stretch.Manager, stems map[string]string, segments []loops.Segment, targetBPM float64, dir string) {
	log := logger.GetLogger()

	if err := utils.MakeDir(dir); err != nil {
		fmt.Printf("❌ Failed to create export dir: %v\n", err)
		os.Exit(1)
	}

	// All stems share the batch's sample rate; probe one.
	rate := 44100
	for _, path := range stems {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		meta, err := audio.ReadMetadata(ctx, path)
		cancel()
		if err == nil && meta.SampleRate > 0 {
			rate = meta.SampleRate
		}
		break
	}

	exported := 0
	for name := range stems {
		for _, seg := range segments {
			data, ok := mgr.GetStretchedLoop(name, seg.Index, targetBPM)
			if !ok {
				continue
			}
			out := filepath.Join(dir, fmt.Sprintf("%s_loop%03d_%.0fbpm.wav", name, seg.Index, targetBPM))
			if err := audio.WriteWav(out, data, rate); err != nil {
				log.Warnf("Failed to export %s: %v", out, err)
				continue
			}
			exported++
		}
	}
	fmt.Printf("💾 Exported %d loop file(s) to %s\n", exported, dir)
}

func handleLoops() {
	log := logger.GetLogger()

	if flag.NArg() < 2 {
		fmt.Println("Usage: stemforge loops <track_id>")
		os.Exit(1)
	}

	trackID := flag.Arg(1)

	svc, err := createService()
	if err != nil {
		fmt.Printf("❌ Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	segments, err := svc.LoopsForTrack(trackID)
	if err != nil {
		fmt.Printf("❌ Failed to load loops: %v\n", err)
		log.Errorf("LoopsForTrack failed: %v", err)
		os.Exit(1)
	}

	if len(segments) == 0 {
		fmt.Println("\n📭 No loops recorded for this track")
		return
	}

	fmt.Printf("\n🔁 %d loop(s):\n\n", len(segments))
	for _, seg := range segments {
		fmt.Printf("%3d. %8.2fs – %8.2fs  (%.2fs)\n", seg.Index, seg.StartSec, seg.EndSec, seg.Duration())
	}
}

func handleImport() {
	log := logger.GetLogger()

	if flag.NArg() < 2 {
		fmt.Println("Usage: stemforge import <url>")
		os.Exit(1)
	}

	url := flag.Arg(1)

	fmt.Println("\n🔧 Initializing service...")
	svc, err := createService()
	if err != nil {
		fmt.Printf("❌ Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	fmt.Println("📥 Downloading audio...")
	fmt.Println("   This may take a few moments depending on source length")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	path, info, err := svc.ImportURL(ctx, url)
	if err != nil {
		fmt.Printf("\n❌ Import failed: %v\n", err)
		log.Errorf("ImportURL failed: %v", err)
		os.Exit(1)
	}

	fmt.Println("\n✅ Imported!")
	fmt.Printf("   Title:  %s\n", info.Title)
	if info.Artist != "" {
		fmt.Printf("   Artist: %s\n", info.Artist)
	}
	fmt.Printf("   File:   %s\n", path)
	fmt.Println("\nNext: stemforge separate", path)
}

func handleList() {
	log := logger.GetLogger()

	svc, err := createService()
	if err != nil {
		fmt.Printf("❌ Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	tracks, err := svc.ListTracks()
	if err != nil {
		fmt.Printf("❌ Failed to list tracks: %v\n", err)
		log.Errorf("ListTracks failed: %v", err)
		os.Exit(1)
	}

	if len(tracks) == 0 {
		fmt.Println("\n📭 No tracks in catalog")
		log.Infof("No tracks in catalog")
		return
	}

	fmt.Printf("\n📚 Found %d track(s):\n\n", len(tracks))
	for i, track := range tracks {
		fmt.Printf("%d. \"%s\"", i+1, track.Title)
		if track.Artist != "" {
			fmt.Printf(" by %s", track.Artist)
		}
		fmt.Printf(" (ID: %s)\n", track.ID)
		if track.DurationMs > 0 {
			duration := track.DurationMs / 1000
			fmt.Printf("   Duration: %d:%02d\n", duration/60, duration%60)
		}
		if track.BPM > 0 {
			fmt.Printf("   BPM: %.1f\n", track.BPM)
		}
		fmt.Println()
	}
	log.Infof("Listed %d tracks", len(tracks))
}

func handleDelete() {
	log := logger.GetLogger()

	if flag.NArg() < 2 {
		fmt.Println("Usage: stemforge delete <track_id>")
		os.Exit(1)
	}

	trackID := flag.Arg(1)

	svc, err := createService()
	if err != nil {
		fmt.Printf("❌ Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	// Get track info before deletion
	track, err := svc.GetTrack(trackID)
	if err != nil {
		fmt.Printf("❌ Track not found (ID: %s)\n", trackID)
		log.Warnf("Track %s not found: %v", trackID, err)
		os.Exit(1)
	}

	if err := svc.DeleteTrack(trackID); err != nil {
		fmt.Printf("❌ Failed to delete track: %v\n", err)
		log.Errorf("DeleteTrack failed: %v", err)
		os.Exit(1)
	}

	fmt.Printf("\n✅ Successfully deleted track:\n")
	fmt.Printf("   ID:    %s\n", track.ID)
	fmt.Printf("   Title: %s\n", track.Title)
	log.Infof("Deleted track %s ('%s')", track.ID, track.Title)
}

func printUsage() {
	fmt.Println("StemForge - Stem Separation & Looping CLI")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  --db <path>        Path to SQLite database (env: STEMFORGE_DB_PATH, default: stemforge.sqlite3)")
	fmt.Println("  --temp <dir>       Temporary directory (env: STEMFORGE_TEMP_DIR, default: /tmp)")
	fmt.Println("  --out <dir>        Stem output directory (env: STEMFORGE_OUT_DIR, default: stems)")
	fmt.Println("  --chunk <sec>      Chunk length for long inputs (default: 180)")
	fmt.Println("  --overlap <sec>    Chunk overlap (default: 5)")
	fmt.Println("\nUsage:")
	fmt.Println("  stemforge [global-options] separate <audio_file> [--bpm <bpm>] [--bars <n>]")
	fmt.Println("  stemforge [global-options] stretch <track_id> --target-bpm <bpm> [--workers <n>] [--export <dir>]")
	fmt.Println("  stemforge [global-options] loops <track_id>")
	fmt.Println("  stemforge [global-options] import <url>")
	fmt.Println("  stemforge [global-options] list")
	fmt.Println("  stemforge [global-options] delete <track_id>")
	fmt.Println("\nExamples:")
	fmt.Println("  # Separate a local file and detect 4-bar loops at 120 BPM")
	fmt.Println("  stemforge separate song.mp3 --bpm 120")
	fmt.Println()
	fmt.Println("  # Pre-render all loops of a track at a new tempo")
	fmt.Println("  stemforge stretch 3f1c... --target-bpm 96 --export ./render")
	fmt.Println()
	fmt.Println("  # Import source audio from a URL")
	fmt.Println("  stemforge import \"https://youtube.com/watch?v=dQw4w9WgXcQ\"")
}
