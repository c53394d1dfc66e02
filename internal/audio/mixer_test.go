package audio

import "testing"

func TestDownmixStereo(t *testing.T) {
	in := NewBuffer([]float32{0.2, 0.4, -1, 1, 0.5, 0}, TargetSampleRate, 2, Depth16)
	out := Downmix(in)
	want := []float32{0.3, 0, 0.25}
	if out.Format.NumChannels != 1 {
		t.Fatalf("expected mono output, got %d channels", out.Format.NumChannels)
	}
	if len(out.Data) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(out.Data))
	}
	for i := range want {
		if diff := out.Data[i] - want[i]; diff > 1e-6 || diff < -1e-6 {
			t.Fatalf("sample %d: got %v want %v", i, out.Data[i], want[i])
		}
	}
}

func TestDownmixMonoPassthrough(t *testing.T) {
	in := NewBuffer([]float32{0.1, 0.2}, TargetSampleRate, 1, Depth16)
	if out := Downmix(in); out != in {
		t.Fatal("expected mono input to pass through")
	}
}

func TestDownmixFourChannels(t *testing.T) {
	in := NewBuffer([]float32{1, 0, 0, 0, 0.4, 0.4, 0.4, 0.4}, TargetSampleRate, 4, Depth16)
	out := Downmix(in)
	if out.Data[0] != 0.25 || out.Data[1] != 0.4 {
		t.Fatalf("unexpected downmix %v", out.Data)
	}
}
