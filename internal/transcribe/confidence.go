package transcribe

import "math"

// Score returns exp(mean(logprobs)), the geometric mean of the token
// probabilities. A segment without tokens scores 0.
func Score(logprobs []float32) float32 {
	if len(logprobs) == 0 {
		return 0
	}
	var sum float64
	for _, lp := range logprobs {
		sum += float64(lp)
	}
	return float32(math.Exp(sum / float64(len(logprobs))))
}
