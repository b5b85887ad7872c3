package optimizer

import (
	"fmt"
	"math"

	"tradelab/internal/domain"
)

// Values returns steps evenly spaced points from r.Min to r.Max inclusive.
// A single step yields Min.
func Values(r domain.ParameterRange, steps int) []float64 {
	if steps <= 1 {
		return []float64{r.Min}
	}
	out := make([]float64, steps)
	width := (r.Max - r.Min) / float64(steps-1)
	for i := range out {
		out[i] = r.Min + float64(i)*width
	}
	out[steps-1] = r.Max
	return out
}

// Grid is the Cartesian product of sampled parameter ranges.
type Grid struct {
	names  []string
	values [][]float64
}

// NewGrid samples each range at its own Steps, or defaultSteps when unset.
// A grid with more than maxCombinations points is rejected before any
// range is sampled; maxCombinations <= 0 only guards against overflow.
func NewGrid(ranges []domain.ParameterRange, defaultSteps, maxCombinations int) (*Grid, error) {
	if len(ranges) == 0 {
		return nil, &domain.ConfigurationError{Field: "ranges", Reason: "at least one parameter range is required"}
	}
	if maxCombinations <= 0 {
		maxCombinations = math.MaxInt
	}
	g := &Grid{}
	total := 1
	seen := make(map[string]bool, len(ranges))
	for _, r := range ranges {
		if r.Name == "" {
			return nil, &domain.ConfigurationError{Field: "ranges", Reason: "parameter name is empty"}
		}
		if seen[r.Name] {
			return nil, &domain.ConfigurationError{Field: r.Name, Reason: "duplicate parameter"}
		}
		seen[r.Name] = true
		if r.Max < r.Min {
			return nil, &domain.ConfigurationError{Field: r.Name, Reason: fmt.Sprintf("max %g below min %g", r.Max, r.Min)}
		}
		steps := r.Steps
		if steps <= 0 {
			steps = defaultSteps
		}
		if steps <= 0 {
			steps = 1
		}
		if steps > maxCombinations/total {
			return nil, &domain.ConfigurationError{
				Field:  "ranges",
				Reason: fmt.Sprintf("grid exceeds %d combinations at parameter %s (%d steps)", maxCombinations, r.Name, steps),
			}
		}
		total *= steps
		g.names = append(g.names, r.Name)
		g.values = append(g.values, Values(r, steps))
	}
	return g, nil
}

// Size returns the number of combinations.
func (g *Grid) Size() int {
	n := 1
	for _, v := range g.values {
		n *= len(v)
	}
	return n
}

// At returns the i-th combination. The first range varies slowest.
func (g *Grid) At(i int) domain.ParameterSet {
	set := make(domain.ParameterSet, len(g.names))
	for d := len(g.names) - 1; d >= 0; d-- {
		n := len(g.values[d])
		set[g.names[d]] = g.values[d][i%n]
		i /= n
	}
	return set
}
