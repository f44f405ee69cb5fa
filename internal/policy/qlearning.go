package policy

import "math"

// #region td-update

// tdUpdate is the pure one-step Q-learning correction:
// Q + alpha * (reward + gamma * maxNext - Q).
func tdUpdate(current, reward, maxNext float64, p Params) float64 {
	return current + p.Alpha*(reward+p.Gamma*maxNext-current)
}

// #endregion td-update

// #region helpers

// maxValue returns the largest non-NaN element of a non-empty row, or 0
// when every element is NaN.
func maxValue(row []float64) float64 {
	best, seen := 0.0, false
	for _, v := range row {
		if math.IsNaN(v) {
			continue
		}
		if !seen || v > best {
			best, seen = v, true
		}
	}
	return best
}

// maxIndices returns every index holding the row maximum. A row with no
// comparable value ties every index.
func maxIndices(row []float64) []int {
	best := maxValue(row)
	var idx []int
	for i, v := range row {
		if v == best {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		idx = make([]int, len(row))
		for i := range idx {
			idx[i] = i
		}
	}
	return idx
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// #endregion helpers
