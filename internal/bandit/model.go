package bandit

import (
	"fmt"
	"math"
)

const (
	// DefaultLearningRate is the constant SGD step size.
	DefaultLearningRate = 0.01
	// DefaultAlpha is the L2 regularisation strength.
	DefaultAlpha = 0.0001
)

// Model is a linear reward regressor for one action, trained one example
// at a time with squared-loss SGD.
type Model struct {
	learningRate float64
	alpha        float64

	weights   []float64
	intercept float64
	steps     int
}

// ModelState is the serialisable form of a Model. Weights is nil for a
// model that was never fitted.
type ModelState struct {
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
	Steps     int       `json:"steps"`
}

// NewModel returns an unfitted model.
func NewModel(learningRate, alpha float64) *Model {
	if learningRate <= 0 {
		learningRate = DefaultLearningRate
	}
	if alpha < 0 {
		alpha = 0
	}
	return &Model{learningRate: learningRate, alpha: alpha}
}

// Fitted reports whether PartialFit has succeeded at least once.
func (m *Model) Fitted() bool { return m.weights != nil }

// Dim is the input dimension the model was trained on, or -1 when unfitted.
func (m *Model) Dim() int {
	if m.weights == nil {
		return -1
	}
	return len(m.weights)
}

// Predict returns the expected reward for x.
func (m *Model) Predict(x SparseVector) (float64, error) {
	if m.weights == nil {
		return 0, ErrNotFitted
	}
	if x.Dim != len(m.weights) {
		return 0, fmt.Errorf("%w: model expects %d features, got %d", ErrDimensionMismatch, len(m.weights), x.Dim)
	}
	return m.dot(x) + m.intercept, nil
}

// PartialFit performs one gradient step on (x, y). The first call sizes
// the weights to x.Dim.
func (m *Model) PartialFit(x SparseVector, y float64) error {
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return ErrInvalidReward
	}
	if m.weights == nil {
		m.weights = make([]float64, x.Dim)
	}
	if x.Dim != len(m.weights) {
		return fmt.Errorf("%w: model expects %d features, got %d", ErrDimensionMismatch, len(m.weights), x.Dim)
	}
	grad := m.dot(x) + m.intercept - y
	eta := m.learningRate
	if m.alpha > 0 {
		shrink := 1 - eta*m.alpha
		for i := range m.weights {
			m.weights[i] *= shrink
		}
	}
	for i, idx := range x.Indices {
		m.weights[idx] -= eta * grad * x.Values[i]
	}
	m.intercept -= eta * grad
	m.steps++
	return nil
}

func (m *Model) dot(x SparseVector) float64 {
	var sum float64
	for i, idx := range x.Indices {
		sum += m.weights[idx] * x.Values[i]
	}
	return sum
}

// Weight returns the coefficient of feature i.
func (m *Model) Weight(i int) float64 {
	if i < 0 || i >= len(m.weights) {
		return 0
	}
	return m.weights[i]
}

// State exports a deep copy of the model.
func (m *Model) State() ModelState {
	st := ModelState{Intercept: m.intercept, Steps: m.steps}
	if m.weights != nil {
		st.Weights = append([]float64{}, m.weights...)
	}
	return st
}

func modelFromState(st ModelState, learningRate, alpha float64) *Model {
	m := NewModel(learningRate, alpha)
	if st.Weights != nil {
		m.weights = append([]float64{}, st.Weights...)
	}
	m.intercept = st.Intercept
	m.steps = st.Steps
	return m
}
