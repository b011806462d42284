package service

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	v := normalize([]float32{3, 4})

	length := math.Sqrt(float64(v[0]*v[0] + v[1]*v[1]))
	if math.Abs(length-1) > 1e-6 {
		t.Errorf("normalized length = %v, want 1", length)
	}
}

func TestMeanVector(t *testing.T) {
	// Mean of [1,2] and [3,4] is [2,3], returned unit-length.
	mean := meanVector([][]float32{{1, 2}, {3, 4}})

	length := math.Sqrt(float64(mean[0]*mean[0] + mean[1]*mean[1]))
	if math.Abs(length-1) > 1e-6 {
		t.Errorf("mean length = %v, want 1", length)
	}
	if math.Abs(float64(mean[1]/mean[0])-1.5) > 1e-6 {
		t.Errorf("mean direction = %v, want ratio 1.5", mean)
	}

	if got := meanVector(nil); got != nil {
		t.Errorf("mean of nothing = %v, want nil", got)
	}
}
