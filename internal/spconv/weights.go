package spconv

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// ErrWeightShape is returned when kernel weights do not match a layer spec.
var ErrWeightShape = errors.New("spconv: weight shape mismatch")

// KernelWeights holds a dense (Cout, Cin, kd, kh, kw) kernel and a Cout bias.
type KernelWeights struct {
	Weight []float32
	Bias   []float32
}

// WeightShape returns the dense kernel shape expected for s.
func (s ConvSpec) WeightShape() []int {
	return []int{s.OutChannels, s.InChannels, s.Kernel[0], s.Kernel[1], s.Kernel[2]}
}

// Check verifies that w has the sizes s requires.
func (w KernelWeights) Check(s ConvSpec) error {
	want := s.OutChannels * s.InChannels * s.KernelVolume()
	if len(w.Weight) != want {
		return fmt.Errorf("%s: weight has %d values, want %d: %w", s.Name, len(w.Weight), want, ErrWeightShape)
	}
	if len(w.Bias) != s.OutChannels {
		return fmt.Errorf("%s: bias has %d values, want %d: %w", s.Name, len(w.Bias), s.OutChannels, ErrWeightShape)
	}
	return nil
}

// InitWeights draws He-normal kernel weights (sigma = gain*sqrt(2/fanIn))
// and normal biases with standard deviation biasStd from src. The same
// source and call order always produce the same weights.
func InitWeights(s ConvSpec, src rand.Source, gain, biasStd float64) KernelWeights {
	fanIn := float64(s.InChannels * s.KernelVolume())
	w := KernelWeights{
		Weight: make([]float32, s.OutChannels*s.InChannels*s.KernelVolume()),
		Bias:   make([]float32, s.OutChannels),
	}
	kernel := distuv.Normal{Mu: 0, Sigma: gain * math.Sqrt(2/fanIn), Src: src}
	for i := range w.Weight {
		w.Weight[i] = float32(kernel.Rand())
	}
	if biasStd > 0 {
		bias := distuv.Normal{Mu: 0, Sigma: biasStd, Src: src}
		for i := range w.Bias {
			w.Bias[i] = float32(bias.Rand())
		}
	}
	return w
}
