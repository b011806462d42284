package service

import "math"

// cosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either vector is empty, zero, or the dimensions differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// normalize scales v to unit length in place and returns it. Zero vectors are
// returned unchanged.
func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

// meanVector returns the arithmetic mean of the given vectors, re-normalised
// to unit length. All vectors must share a dimension; nil when vecs is empty.
func meanVector(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	out := make([]float32, len(vecs[0]))
	for _, v := range vecs {
		for i := range out {
			out[i] += v[i]
		}
	}
	inv := float32(1) / float32(len(vecs))
	for i := range out {
		out[i] *= inv
	}
	return normalize(out)
}
