package domain

// Prediction is the output of a signal model. It is either an MLPrediction
// or a FallbackPrediction; the unexported method seals the set.
type Prediction interface {
	isPrediction()
	// PredictedSide is the direction the prediction favours.
	PredictedSide() Side
}

// MLPrediction comes from a trained model.
type MLPrediction struct {
	Side       Side    `json:"side"`
	Confidence float64 `json:"confidence"` // [0, 1]
	Model      string  `json:"model"`
}

// FallbackPrediction comes from a rule when no model output is available.
type FallbackPrediction struct {
	Side Side   `json:"side"`
	Rule string `json:"rule"`
}

func (MLPrediction) isPrediction()       {}
func (FallbackPrediction) isPrediction() {}

func (p MLPrediction) PredictedSide() Side       { return p.Side }
func (p FallbackPrediction) PredictedSide() Side { return p.Side }
