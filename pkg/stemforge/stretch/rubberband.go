package stretch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/stemforge/stemforge/pkg/stemforge/audio"
)

// RubberbandEngine shells out to the rubberband CLI for pitch-preserving
// time stretching. Each call runs a fresh process with its own scratch
// files, so no native state is shared between invocations.
type RubberbandEngine struct {
	Binary  string // defaults to "rubberband"
	WorkDir string // defaults to the OS temp dir
	log     Logger
}

// NewRubberbandEngine builds an engine around the rubberband binary.
func NewRubberbandEngine(binary string, log Logger) *RubberbandEngine {
	if binary == "" {
		binary = "rubberband"
	}
	if log == nil {
		log = nopLogger{}
	}
	return &RubberbandEngine{Binary: binary, WorkDir: os.TempDir(), log: log}
}

// IsAvailable reports whether the rubberband binary can be executed.
func (e *RubberbandEngine) IsAvailable() bool {
	return exec.Command(e.Binary, "--version").Run() == nil
}

// Stretch time-stretches data by ratio = targetBPM / originalBPM.
// rubberband's --time flag takes a duration ratio, which is the inverse:
// a higher target tempo yields a shorter signal.
func (e *RubberbandEngine) Stretch(ctx context.Context, data [][]float64, sampleRate int, ratio float64) ([][]float64, error) {
	if ratio <= 0 {
		return nil, fmt.Errorf("invalid stretch ratio %f", ratio)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
	}

	tag := uuid.NewString()[:8]
	inPath := filepath.Join(e.WorkDir, "stretch_in_"+tag+".wav")
	outPath := filepath.Join(e.WorkDir, "stretch_out_"+tag+".wav")
	defer os.Remove(inPath)
	defer os.Remove(outPath)

	if err := audio.WriteWav(inPath, data, sampleRate); err != nil {
		return nil, fmt.Errorf("writing stretch input: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.Binary, rubberbandArgs(ratio, inPath, outPath)...)

	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("rubberband failed: %v (%s)", err, out)
	}

	stretched, _, err := audio.ReadWav(outPath)
	if err != nil {
		return nil, fmt.Errorf("reading stretch output: %w", err)
	}
	return stretched, nil
}

// rubberbandArgs builds the CLI arguments for one stretch run. Only the
// duration is changed; no --pitch flag is passed since rubberband would
// interpret it as a transposition in semitones.
func rubberbandArgs(ratio float64, inPath, outPath string) []string {
	timeRatio := 1.0 / ratio
	return []string{
		"--time", strconv.FormatFloat(timeRatio, 'f', 6, 64),
		"-q",
		inPath,
		outPath,
	}
}
