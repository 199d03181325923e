// Package separate wraps the external stem-separation model. Each call
// runs one isolated child process so no native state (GPU memory,
// semaphores) survives between invocations.
package separate

import (
	"context"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/stemforge/stemforge/pkg/utils"
)

// Logger is the minimal logging surface the engine needs.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

// DefaultModel is the demucs model used when none is configured.
const DefaultModel = "htdemucs"

// DemucsEngine invokes the demucs CLI to split a mixed audio file into
// stems (vocals, drums, bass, other).
type DemucsEngine struct {
	Binary  string // defaults to "demucs"
	Model   string // defaults to DefaultModel
	CPUOnly bool   // force -d cpu, e.g. as a fallback after a GPU failure
	log     Logger
}

// NewDemucsEngine builds an engine around the demucs binary.
func NewDemucsEngine(binary, model string, log Logger) *DemucsEngine {
	if binary == "" {
		binary = "demucs"
	}
	if model == "" {
		model = DefaultModel
	}
	return &DemucsEngine{Binary: binary, Model: model, log: log}
}

// IsAvailable reports whether the demucs binary can be executed.
func (e *DemucsEngine) IsAvailable() bool {
	return exec.Command(e.Binary, "--help").Run() == nil
}

// Separate runs the model on one audio file and returns a map from stem
// name to output WAV path. The call is synchronous and idempotent; the
// child process owns all model resources for its lifetime.
func (e *DemucsEngine) Separate(ctx context.Context, audioPath, outputDir string) (map[string]string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 15*time.Minute)
		defer cancel()
	}

	if err := utils.MakeDir(outputDir); err != nil {
		return nil, fmt.Errorf("creating separation output dir: %w", err)
	}

	args := []string{"-n", e.Model, "--out", outputDir}
	if e.CPUOnly {
		args = append(args, "-d", "cpu")
	}
	args = append(args, audioPath)

	cmd := exec.CommandContext(ctx, e.Binary, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("demucs failed: %v (%s)", err, out)
	}

	// demucs writes <outputDir>/<model>/<basename>/<stem>.wav
	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	stemDir := filepath.Join(outputDir, e.Model, base)

	stems := make(map[string]string)
	err := filepath.WalkDir(stemDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(p), ".wav") {
			return nil
		}
		name := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		stems[name] = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning separation output: %w", err)
	}
	if len(stems) == 0 {
		return nil, fmt.Errorf("no stems produced for %s", base)
	}

	if e.log != nil {
		e.log.Debugf("demucs produced %d stems for %s", len(stems), base)
	}
	return stems, nil
}
