package stretch

import "testing"

func TestRubberbandArgsInvertRatio(t *testing.T) {
	args := rubberbandArgs(2.0, "in.wav", "out.wav")

	if len(args) < 2 || args[0] != "--time" {
		t.Fatalf("Expected --time as first argument, got %v", args)
	}
	if args[1] != "0.500000" {
		t.Errorf("Expected time ratio 0.500000 for doubled tempo, got %s", args[1])
	}

	args = rubberbandArgs(0.5, "in.wav", "out.wav")
	if args[1] != "2.000000" {
		t.Errorf("Expected time ratio 2.000000 for halved tempo, got %s", args[1])
	}
}

func TestRubberbandArgsKeepPitch(t *testing.T) {
	// --pitch transposes by semitones, so stretching must never pass it.
	for _, ratio := range []float64{0.5, 1.0, 1.25, 2.0} {
		for _, arg := range rubberbandArgs(ratio, "in.wav", "out.wav") {
			if arg == "--pitch" || arg == "-p" {
				t.Fatalf("Pitch flag %q passed for ratio %f", arg, ratio)
			}
		}
	}
}
