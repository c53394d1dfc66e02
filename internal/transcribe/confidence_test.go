package transcribe

import (
	"math"
	"testing"
)

func TestScoreNoTokens(t *testing.T) {
	if got := Score(nil); got != 0 {
		t.Fatalf("expected 0 for empty segment, got %v", got)
	}
}

func TestScoreCertainTokens(t *testing.T) {
	if got := Score([]float32{0, 0, 0}); got != 1 {
		t.Fatalf("expected 1 for zero logprobs, got %v", got)
	}
}

func TestScoreGeometricMean(t *testing.T) {
	probs := []float64{0.9, 0.5, 0.8}
	logprobs := make([]float32, len(probs))
	product := 1.0
	for i, p := range probs {
		logprobs[i] = float32(math.Log(p))
		product *= p
	}
	want := math.Cbrt(product)
	if got := Score(logprobs); math.Abs(float64(got)-want) > 1e-5 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestScoreVeryUnlikelyTokens(t *testing.T) {
	got := Score([]float32{-200, -300})
	if got < 0 || got > 1e-30 {
		t.Fatalf("expected near-zero confidence, got %v", got)
	}
}
