package main

import (
	"context"
	"math"
	"time"

	"github.com/matchkit/matchkit/pkg/scoring"
	"github.com/matchkit/matchkit/pkg/types"
)

// The built-in heuristic scorer lets the gateway run without an external
// model. It scores aspect-by-aspect from a handful of well-known payload
// fields; production deployments swap in a trained model through the
// library API.

// Normalization scales for embedding components.
const (
	priceScale    = 2_000_000.0
	bedroomScale  = 8.0
	bathroomScale = 6.0
	sqftScale     = 10_000.0
	ratingScale   = 10.0
)

func heuristicExtractor() scoring.FeatureExtractor {
	return scoring.FeatureExtractorFunc(func(_ context.Context, payload types.Payload, kind types.EntityKind) (*types.Embedding, error) {
		var financial float64
		if kind == types.EntitySubject {
			financial = payloadFloat(payload, "price", "list_price") / priceScale
		} else {
			financial = payloadFloat(payload, "budget_max", "budget") / priceScale
		}

		size := []float64{
			payloadFloat(payload, "bedrooms", "preferred_bedrooms") / bedroomScale,
			payloadFloat(payload, "bathrooms", "preferred_bathrooms") / bathroomScale,
			payloadFloat(payload, "sqft", "preferred_sqft") / sqftScale,
		}
		lifestyle := []float64{
			payloadFloat(payload, "school_rating") / ratingScale,
			payloadFloat(payload, "walkability") / ratingScale,
		}

		vector := append([]float64{financial}, size...)
		vector = append(vector, lifestyle...)

		id, _ := payload["id"].(string)
		return &types.Embedding{
			EntityID: id,
			Kind:     kind,
			Vector:   vector,
			Components: map[string][]float64{
				"financial": {financial},
				"size":      size,
				"lifestyle": lifestyle,
			},
			CreatedAt: time.Now().UTC(),
		}, nil
	})
}

func payloadFloat(p types.Payload, keys ...string) float64 {
	for _, k := range keys {
		switch v := p[k].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case int64:
			return float64(v)
		}
	}
	return 0
}

type heuristicModel struct{}

func newHeuristicModel() scoring.Model { return heuristicModel{} }

func (heuristicModel) Name() string    { return "heuristic-matcher" }
func (heuristicModel) Version() string { return "h1" }

func (heuristicModel) Score(_ context.Context, subject, counterpart *types.Embedding) (*scoring.Result, error) {
	aspects := map[string]float64{
		types.AspectSimilarity:             vectorCloseness(subject.Vector, counterpart.Vector),
		types.AspectPreferenceAlignment:    componentCloseness(subject, counterpart, "size"),
		types.AspectFinancialCompatibility: componentCloseness(subject, counterpart, "financial"),
		types.AspectLifestyleFit:           componentCloseness(subject, counterpart, "lifestyle"),
		types.AspectMarketOpportunity:      0.5,
		types.AspectInvestmentPotential:    0.5,
	}

	score := 0.30*aspects[types.AspectFinancialCompatibility] +
		0.25*aspects[types.AspectPreferenceAlignment] +
		0.20*aspects[types.AspectSimilarity] +
		0.15*aspects[types.AspectLifestyleFit] +
		0.05*aspects[types.AspectMarketOpportunity] +
		0.05*aspects[types.AspectInvestmentPotential]

	var explanation []string
	if aspects[types.AspectFinancialCompatibility] > 0.8 {
		explanation = append(explanation, "price fits the stated budget")
	}
	if aspects[types.AspectPreferenceAlignment] > 0.8 {
		explanation = append(explanation, "size matches stated preferences")
	}

	return &scoring.Result{
		Score:              score,
		Uncertainty:        0.12, // fixed band; a heuristic reports no learned variance
		AspectScores:       aspects,
		ConversionEstimate: score * 0.4,
		Explanation:        explanation,
	}, nil
}

// vectorCloseness maps mean absolute difference onto [0,1].
func vectorCloseness(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var total float64
	for i := 0; i < n; i++ {
		total += math.Abs(a[i] - b[i])
	}
	return clamp01(1 - total/float64(n))
}

func componentCloseness(subject, counterpart *types.Embedding, name string) float64 {
	return vectorCloseness(subject.Components[name], counterpart.Components[name])
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
