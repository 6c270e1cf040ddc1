package kernels_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sbl8/easyguide/kernels"
)

func TestMapKernels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		fn   func([]float64)
		in   []float64
		want []float64
	}{
		{"exp", kernels.Exp, []float64{0, 1, -1}, []float64{1, math.E, 1 / math.E}},
		{"log", kernels.Log, []float64{1, math.E}, []float64{0, 1}},
		{"log1p", kernels.Log1p, []float64{0, math.E - 1}, []float64{0, 1}},
		{"neg", kernels.Neg, []float64{1, -2, 0}, []float64{-1, 2, 0}},
		{"sigmoid", kernels.Sigmoid, []float64{0}, []float64{0.5}},
		{"logit", kernels.Logit, []float64{0.5}, []float64{0}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := append([]float64(nil), tc.in...)
			tc.fn(got)
			require.Len(t, got, len(tc.want))
			for i := range got {
				require.InDelta(t, tc.want[i], got[i], 1e-12)
			}
		})
	}
}

func TestSigmoidLogitRoundTrip(t *testing.T) {
	t.Parallel()
	x := []float64{-30, -3, 0, 3, 30}
	y := append([]float64(nil), x...)
	kernels.Sigmoid(y)
	for _, v := range y {
		require.Greater(t, v, 0.0)
		require.Less(t, v, 1.0)
	}
	kernels.Logit(y)
	for i := range x {
		require.InDelta(t, x[i], y[i], 1e-9)
	}
}

func TestSigmoidExtremeInputsStayFinite(t *testing.T) {
	t.Parallel()
	x := []float64{-750, 750}
	kernels.Sigmoid(x)
	require.False(t, math.IsNaN(x[0]))
	require.False(t, math.IsNaN(x[1]))
	require.InDelta(t, 0, x[0], 1e-300)
	require.InDelta(t, 1, x[1], 1e-12)
}

func TestAdd(t *testing.T) {
	t.Parallel()
	dst := []float64{1, 2, 3}
	kernels.Add(dst, []float64{10, 20, 30})
	require.Equal(t, []float64{11, 22, 33}, dst)
}

func TestSum(t *testing.T) {
	t.Parallel()
	require.Equal(t, 0.0, kernels.Sum(nil))
	require.InDelta(t, 6.0, kernels.Sum([]float64{1, 2, 3}), 1e-12)
}

func BenchmarkExp(b *testing.B) {
	x := make([]float64, 4096)
	for i := range x {
		x[i] = float64(i%7) - 3
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf := append([]float64(nil), x...)
		kernels.Exp(buf)
	}
}

func BenchmarkSum(b *testing.B) {
	x := make([]float64, 4096)
	for i := range x {
		x[i] = float64(i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = kernels.Sum(x)
	}
}
