// Command spectrogram renders PNG spectrograms for every stem WAV in a
// directory. Useful for eyeballing separation quality and chunk seams.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/draw"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/eligwz/spectrogram"

	"github.com/stemforge/stemforge/pkg/stemforge/audio"
)

func main() {
	inputDir := flag.String("in", "stems", "Directory with stem WAV files")
	outputDir := flag.String("out", "spectrograms", "Directory for PNG output")
	width := flag.Int("width", 2048, "Image width in pixels")
	height := flag.Int("height", 512, "Image height in pixels (FFT bins)")
	flag.Parse()

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatal(err)
	}

	err := filepath.WalkDir(*inputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".wav" {
			return nil
		}

		fmt.Printf("Processing %s...\n", path)

		samples, rate, err := audio.ReadWavMono(path)
		if err != nil {
			log.Printf("Error reading %s: %v", path, err)
			return nil
		}
		if len(samples) == 0 {
			log.Printf("No samples in %s", path)
			return nil
		}

		img := spectrogram.NewImage128(image.Rect(0, 0, *width, *height))

		black := spectrogram.ParseColor("000000")
		draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

		// Hamming window, FFT, magnitude, linear scale.
		spectrogram.Drawfft(
			img,
			samples,
			uint32(rate),
			uint32(*height),
			false,
			false,
			true,
			false,
		)

		outputPath := filepath.Join(*outputDir, filepath.Base(path)+".png")
		if err := spectrogram.SavePng(img, outputPath); err != nil {
			log.Printf("Error saving PNG for %s: %v", outputPath, err)
			return nil
		}

		fmt.Printf("Saved spectrogram to %s\n", outputPath)
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("Done!")
}
