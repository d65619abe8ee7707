package topology

import (
	"math"

	apperrors "github.com/fepforge/fepforge/pkg/errors"
)

// LambdaSchedule is the sequence of coupling values the simulation engine
// samples between the two physical endpoints.  λ=0 is pure state A, λ=1 pure
// state B.  Values are strictly monotone and span the full interval in
// either direction, so both endpoints are always simulated; window order is
// preserved as given for engines that walk the path from the B side.
type LambdaSchedule struct {
	values []float64
}

// NewLambdaSchedule validates raw λ values: at least two windows, strictly
// monotone, spanning 0 → 1 or 1 → 0.
func NewLambdaSchedule(values []float64) (*LambdaSchedule, error) {
	if len(values) < 2 {
		return nil, apperrors.New(apperrors.CodeMergeInvalidSchedule,
			"schedule needs at least two lambda windows")
	}
	first, last := values[0], values[len(values)-1]
	descending := first == 1 && last == 0
	if !descending && (first != 0 || last != 1) {
		return nil, apperrors.Newf(apperrors.CodeMergeInvalidSchedule,
			"schedule must run 0 → 1 or 1 → 0, got [%g,%g]", first, last)
	}
	for i := 1; i < len(values); i++ {
		if descending {
			if values[i] >= values[i-1] {
				return nil, apperrors.Newf(apperrors.CodeMergeInvalidSchedule,
					"lambda values must be strictly decreasing, window %d (%g) >= window %d (%g)",
					i, values[i], i-1, values[i-1])
			}
		} else if values[i] <= values[i-1] {
			return nil, apperrors.Newf(apperrors.CodeMergeInvalidSchedule,
				"lambda values must be strictly increasing, window %d (%g) <= window %d (%g)",
				i, values[i], i-1, values[i-1])
		}
		if values[i] < 0 || values[i] > 1 {
			return nil, apperrors.Newf(apperrors.CodeMergeInvalidSchedule,
				"lambda %g outside [0,1]", values[i])
		}
	}
	return &LambdaSchedule{values: append([]float64(nil), values...)}, nil
}

// UniformSchedule builds an evenly spaced schedule with the given number of
// windows.
func UniformSchedule(windows int) (*LambdaSchedule, error) {
	if windows < 2 {
		return nil, apperrors.New(apperrors.CodeMergeInvalidSchedule,
			"schedule needs at least two lambda windows")
	}
	values := make([]float64, windows)
	for i := range values {
		values[i] = float64(i) / float64(windows-1)
	}
	values[windows-1] = 1
	return &LambdaSchedule{values: values}, nil
}

// NumWindows returns the window count.
func (s *LambdaSchedule) NumWindows() int { return len(s.values) }

// Values returns a copy of the raw λ values.
func (s *LambdaSchedule) Values() []float64 { return append([]float64(nil), s.values...) }

// Descending reports whether the schedule walks the path from the B
// endpoint.
func (s *LambdaSchedule) Descending() bool { return s.values[0] == 1 }

// Reversed returns the same windows sampled from the opposite endpoint.
func (s *LambdaSchedule) Reversed() *LambdaSchedule {
	n := len(s.values)
	out := make([]float64, n)
	for i, v := range s.values {
		out[n-1-i] = v
	}
	return &LambdaSchedule{values: out}
}

// Window carries the per-state scaling factors at one λ value.  Coupling is
// staged the conventional way: disappearing atoms lose their charges over
// the first half of the path and their vdW spheres over the second half,
// appearing atoms mirror that, so a charged site never exists without a
// repulsive core under it.
type Window struct {
	Lambda float64 `json:"lambda"`

	ElecScaleA float64 `json:"elec_scale_a"` // disappearing charges
	VDWScaleA  float64 `json:"vdw_scale_a"`  // disappearing vdW
	VDWScaleB  float64 `json:"vdw_scale_b"`  // appearing vdW
	ElecScaleB float64 `json:"elec_scale_b"` // appearing charges
}

// Windows expands the schedule into per-window scaling factors.
func (s *LambdaSchedule) Windows() []Window {
	out := make([]Window, len(s.values))
	for i, l := range s.values {
		out[i] = Window{
			Lambda:     l,
			ElecScaleA: clamp01(1 - 2*l),
			VDWScaleA:  clamp01(2 * (1 - l)),
			VDWScaleB:  clamp01(2 * l),
			ElecScaleB: clamp01(2*l - 1),
		}
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
