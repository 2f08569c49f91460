package nn

import "github.com/chewxy/math32"

// SparseCrossEntropy returns -log softmax(logits)[label] and its gradient
// with respect to the logits.
func SparseCrossEntropy(logits []float32, label int) (float32, []float32) {
	probs := append([]float32(nil), logits...)
	softmax(probs)
	loss := -math32.Log(math32.Max(probs[label], 1e-7))
	probs[label] -= 1
	return loss, probs
}

// Argmax returns the index of the first maximum.
func Argmax(v []float32) int {
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best
}

// InTopK reports whether label is among the k largest logits. Ties at the
// boundary count as in, matching in_top_k.
func InTopK(logits []float32, label, k int) bool {
	target := logits[label]
	above := 0
	for _, v := range logits {
		if v > target {
			above++
		}
	}
	return above < k
}
