package services

import (
	"math"

	"bench2drive-leaderboard/models"
)

// ScoringPolicyV1 identifies the formula below. Stored with every scored submission so a
// historical score can be reproduced after the formula changes.
//
//	route_completion   = mean(route completion ratios) * 100
//	infraction_penalty = clamp(sum(weight(type) * severity) / total_distance_km, 0, 1)
//	driving_score      = route_completion * (1 - infraction_penalty)
//	score              = 0.7 * driving_score + 0.3 * route_completion
//
// Zero routes score 0 across the board. With zero distance the penalty is 0 when there
// are no weighted infractions and 1 otherwise. A weighted sum or ratio that is not a
// finite number also yields penalty 1. Every metric is rounded to 4 decimals.
const ScoringPolicyV1 = "v1"

const (
	drivingWeight    = 0.7
	completionWeight = 0.3
	scoreDecimals    = 4
)

// InfractionWeights are the v1 per-type weights.
var InfractionWeights = map[string]float64{
	models.InfractionCollisionPedestrian: 1.0,
	models.InfractionCollisionVehicle:    0.8,
	models.InfractionRouteDeviation:      0.7,
	models.InfractionCollisionStatic:     0.6,
	models.InfractionRedLight:            0.5,
	models.InfractionStopSign:            0.4,
	models.InfractionOffRoad:             0.3,
	models.InfractionAgentBlocked:        0.2,
	models.InfractionMinSpeed:            0.1,
}

type Scorer struct {
	Policy string
}

func NewScorer() *Scorer {
	return &Scorer{Policy: ScoringPolicyV1}
}

// Score derives the four metrics from a validated record. Deterministic: routes and
// infractions are summed in record order.
func (s *Scorer) Score(record *models.RunRecord) models.Scores {
	if record == nil || len(record.Routes) == 0 {
		return models.Scores{}
	}

	var completionSum, distance, weighted float64
	for _, route := range record.Routes {
		completionSum += clamp(route.CompletionRatio(), 0, 1)
		distance += math.Max(route.DistanceKM, 0)
		for _, inf := range route.Infractions {
			weighted += InfractionWeights[inf.Type] * math.Max(inf.Severity, 0)
		}
	}

	routeCompletion := round(completionSum/float64(len(record.Routes))*100, scoreDecimals)
	penalty := round(infractionPenalty(weighted, distance), scoreDecimals)
	driving := round(drivingScore(routeCompletion, penalty), scoreDecimals)

	return models.Scores{
		DrivingScore:      driving,
		RouteCompletion:   routeCompletion,
		InfractionPenalty: penalty,
		Score:             round(compositeScore(driving, routeCompletion), scoreDecimals),
	}
}

func infractionPenalty(weighted, distanceKM float64) float64 {
	if math.IsNaN(weighted) || math.IsInf(weighted, 0) {
		return 1
	}
	if distanceKM <= 0 {
		if weighted > 0 {
			return 1
		}
		return 0
	}
	ratio := weighted / distanceKM
	if math.IsNaN(ratio) {
		return 1
	}
	return clamp(ratio, 0, 1)
}

func drivingScore(routeCompletion, penalty float64) float64 {
	return routeCompletion * (1 - penalty)
}

func compositeScore(driving, routeCompletion float64) float64 {
	return drivingWeight*driving + completionWeight*routeCompletion
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}

func round(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
