package scoring

import (
	"github.com/kioku-ai/kioku/internal/checklist"
	"github.com/kioku-ai/kioku/internal/model"
)

// Readiness computes the session's weighted aggregate confidence (0-100)
// across all applicable topics.
//
// Weights come from the checklist; topics marked not_applicable are excluded
// and the denominator renormalized over the remaining weights, so marking a
// topic inapplicable never drags readiness down. Topics not on the checklist
// carry zero weight. A session with no applicable weighted topics scores 0.
func Readiness(cl *checklist.Checklist, topics []model.Topic) float64 {
	var weighted, totalWeight float64
	for _, t := range topics {
		if t.Status == model.TopicNotApplicable {
			continue
		}
		spec, ok := cl.Spec(t.Name)
		if !ok || spec.Weight == 0 {
			continue
		}
		weighted += spec.Weight * t.Confidence
		totalWeight += spec.Weight
	}
	if totalWeight == 0 {
		return 0
	}
	return weighted / totalWeight
}

// ReadyForGeneration reports whether readiness has reached the bar for
// spec generation. The engine never completes a session on its own — this
// only gates the operator-triggered transition.
func ReadyForGeneration(cfg Config, readiness float64) bool {
	return readiness >= cfg.ReadinessThreshold
}
