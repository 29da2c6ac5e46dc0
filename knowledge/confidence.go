package knowledge

import "math"

const (
	// FloorConfidence is the confidence of a single observation.
	FloorConfidence = 0.1
	// MaxConfidence caps the curve; votes alone never reach certainty.
	MaxConfidence = 0.99
)

// Confidence maps an observation count to a score in [FloorConfidence,
// MaxConfidence]. It is non-decreasing in frequency and saturates at about 300
// observations.
func Confidence(frequency int64) float64 {
	if frequency <= 1 {
		return FloorConfidence
	}
	score := math.Log10(float64(frequency)) / 2.5
	return math.Min(MaxConfidence, math.Max(FloorConfidence, score))
}
