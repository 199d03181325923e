package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/stemforge/stemforge/pkg/utils"
)

// SourceInfo holds metadata for a track imported from a URL.
type SourceInfo struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Uploader string  `json:"uploader"`
	Channel  string  `json:"channel"`
	Duration float64 `json:"duration"`
}

var (
	installMu   sync.Mutex
	installDone bool

	installYtdlp = func(ctx context.Context) error {
		_, err := ytdlp.Install(ctx, nil)
		return err
	}
)

// ensureYtdlp resolves or downloads the yt-dlp binary. A successful
// install is remembered; failures are retried on the next import so a
// transient network error does not wedge the process.
func ensureYtdlp(ctx context.Context) error {
	installMu.Lock()
	defer installMu.Unlock()
	if installDone {
		return nil
	}
	if err := installYtdlp(ctx); err != nil {
		return fmt.Errorf("failed to install yt-dlp: %w", err)
	}
	installDone = true
	return nil
}

func pickArtist(info SourceInfo) string {
	if strings.TrimSpace(info.Artist) != "" {
		return info.Artist
	}
	if strings.TrimSpace(info.Channel) != "" {
		return info.Channel
	}
	if strings.TrimSpace(info.Uploader) != "" {
		return info.Uploader
	}
	return "Unknown Artist"
}

// ImportFromURL downloads the best audio stream for a URL as WAV into
// outputDir and returns the file path plus source metadata.
func ImportFromURL(ctx context.Context, url, outputDir string) (string, *SourceInfo, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 3*time.Minute)
		defer cancel()
	}

	if err := utils.MakeDir(outputDir); err != nil {
		return "", nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := ensureYtdlp(ctx); err != nil {
		return "", nil, err
	}

	dl := ytdlp.New().
		NoWarnings().
		NoPlaylist().
		Format("ba").
		ExtractAudio().
		AudioFormat("wav").
		Output(filepath.Join(outputDir, "%(id)s.%(ext)s")).
		PrintJSON()

	result, err := dl.Run(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		return "", nil, fmt.Errorf("yt-dlp download failed: %w", err)
	}

	var info SourceInfo
	if err := json.Unmarshal([]byte(result.Stdout), &info); err != nil {
		return "", nil, fmt.Errorf("failed to parse yt-dlp JSON: %w", err)
	}
	if strings.TrimSpace(info.ID) == "" {
		return "", nil, fmt.Errorf("missing video ID in yt-dlp output")
	}
	if info.Artist == "" {
		info.Artist = pickArtist(info)
	}

	audioPath := filepath.Join(outputDir, info.ID+".wav")
	if _, err := os.Stat(audioPath); err != nil {
		return "", nil, fmt.Errorf("downloaded audio file not found for %s: %w", info.ID, err)
	}

	return audioPath, &info, nil
}
