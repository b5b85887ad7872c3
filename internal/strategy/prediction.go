package strategy

import (
	"math"

	"tradelab/internal/domain"
)

// fallbackStrength keeps rule-based predictions in the weak band so the
// risk manager sizes them down.
const fallbackStrength = 0.5

// SignalStrength maps a prediction to a signal strength in [0, 1].
func SignalStrength(p domain.Prediction) float64 {
	switch p := p.(type) {
	case domain.MLPrediction:
		if math.IsNaN(p.Confidence) {
			return 0
		}
		return math.Min(math.Max(p.Confidence, 0), 1)
	case domain.FallbackPrediction:
		return fallbackStrength
	default:
		return 0
	}
}
