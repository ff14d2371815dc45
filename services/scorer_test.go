package services

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"bench2drive-leaderboard/models"
)

func ratio(v float64) *float64 { return &v }

func TestDrivingScore_CompletionTimesPenalty(t *testing.T) {
	if got := round(drivingScore(90.0, 0.20), scoreDecimals); got != 72.0 {
		t.Fatalf("expected 72.0, got %v", got)
	}
}

func TestScore_FullRecord(t *testing.T) {
	record := &models.RunRecord{
		Routes: []models.RouteResult{
			{
				RouteID:    "route_0",
				Completion: ratio(1.0),
				DistanceKM: 2,
				Infractions: []models.Infraction{
					{Type: models.InfractionCollisionVehicle, Severity: 1.0, Timestamp: 10},
				},
			},
			{
				RouteID:    "route_1",
				Completion: ratio(0.8),
				DistanceKM: 2,
				Infractions: []models.Infraction{
					{Type: models.InfractionRedLight, Severity: 0, Timestamp: 4},
				},
			},
		},
	}

	got := NewScorer().Score(record)
	want := models.Scores{
		RouteCompletion:   90,
		InfractionPenalty: 0.2,
		DrivingScore:      72,
		Score:             77.4,
	}
	if got != want {
		t.Fatalf("unexpected scores: got %+v want %+v", got, want)
	}
}

func TestScore_Sentinels(t *testing.T) {
	scorer := NewScorer()

	if got := scorer.Score(&models.RunRecord{}); got != (models.Scores{}) {
		t.Fatalf("zero routes should score zero, got %+v", got)
	}
	if got := scorer.Score(nil); got != (models.Scores{}) {
		t.Fatalf("nil record should score zero, got %+v", got)
	}

	clean := &models.RunRecord{Routes: []models.RouteResult{{RouteID: "r", Completion: ratio(0.5)}}}
	got := scorer.Score(clean)
	if got.InfractionPenalty != 0 || got.DrivingScore != 50 {
		t.Fatalf("zero distance without infractions: %+v", got)
	}

	dirty := &models.RunRecord{Routes: []models.RouteResult{{
		RouteID:     "r",
		Completion:  ratio(0.5),
		Infractions: []models.Infraction{{Type: models.InfractionOffRoad, Severity: 1}},
	}}}
	got = scorer.Score(dirty)
	if got.InfractionPenalty != 1 || got.DrivingScore != 0 {
		t.Fatalf("zero distance with infractions: %+v", got)
	}
	if got.Score != 15 {
		t.Fatalf("expected composite 15 (completion only), got %v", got.Score)
	}
}

func TestScore_PenaltyClamped(t *testing.T) {
	record := &models.RunRecord{Routes: []models.RouteResult{{
		RouteID:    "r",
		Completion: ratio(1),
		DistanceKM: 0.1,
		Infractions: []models.Infraction{
			{Type: models.InfractionCollisionPedestrian, Severity: 5},
		},
	}}}
	got := NewScorer().Score(record)
	if got.InfractionPenalty != 1 {
		t.Fatalf("expected clamped penalty 1, got %v", got.InfractionPenalty)
	}
}

func TestScore_OverflowingValuesArePenalised(t *testing.T) {
	huge := func(id string) models.RouteResult {
		return models.RouteResult{
			RouteID:    id,
			Completion: ratio(1),
			DistanceKM: 1e308,
			Infractions: []models.Infraction{
				{Type: models.InfractionCollisionPedestrian, Severity: 1e308},
			},
		}
	}
	record := &models.RunRecord{Routes: []models.RouteResult{huge("route_0"), huge("route_1")}}

	got := NewScorer().Score(record)
	if got.InfractionPenalty != 1 {
		t.Fatalf("expected penalty 1 for non-finite sums, got %+v", got)
	}
	if got.DrivingScore != 0 || got.Score != 30 {
		t.Fatalf("expected driving 0 and composite 30, got %+v", got)
	}
}

func TestInfractionPenalty_NonFinite(t *testing.T) {
	tests := []struct {
		name     string
		weighted float64
		distance float64
	}{
		{"infinite weighted", math.Inf(1), 10},
		{"infinite over infinite", math.Inf(1), math.Inf(1)},
		{"nan weighted", math.NaN(), 10},
		{"infinite weighted zero distance", math.Inf(1), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := infractionPenalty(tt.weighted, tt.distance); got != 1 {
				t.Fatalf("expected 1, got %v", got)
			}
		})
	}
}

func randomRecord(rng *rand.Rand) *models.RunRecord {
	types := make([]string, 0, len(InfractionWeights))
	for k := range InfractionWeights {
		types = append(types, k)
	}
	sort.Strings(types)
	record := &models.RunRecord{}
	for i := 0; i < 1+rng.Intn(8); i++ {
		route := models.RouteResult{
			RouteID:    "route",
			Completion: ratio(rng.Float64()),
			DistanceKM: rng.Float64() * 5,
		}
		for j := 0; j < rng.Intn(6); j++ {
			route.Infractions = append(route.Infractions, models.Infraction{
				Type:      types[rng.Intn(len(types))],
				Severity:  rng.Float64() * 3,
				Timestamp: rng.Float64() * 600,
			})
		}
		record.Routes = append(record.Routes, route)
	}
	return record
}

func TestScore_RangesAndDeterminism(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	scorer := NewScorer()

	for i := 0; i < 500; i++ {
		record := randomRecord(rng)
		first := scorer.Score(record)
		second := scorer.Score(record)
		if first != second {
			t.Fatalf("scoring is not deterministic: %+v vs %+v", first, second)
		}
		if first.DrivingScore < 0 || first.DrivingScore > 100 {
			t.Fatalf("driving score out of range: %v", first.DrivingScore)
		}
		if first.InfractionPenalty < 0 || first.InfractionPenalty > 1 {
			t.Fatalf("penalty out of range: %v", first.InfractionPenalty)
		}
		if first.RouteCompletion < 0 || first.RouteCompletion > 100 {
			t.Fatalf("route completion out of range: %v", first.RouteCompletion)
		}
		if first.Score < 0 || first.Score > 100 {
			t.Fatalf("composite out of range: %v", first.Score)
		}
	}
}

func TestCompositeScore_Monotonic(t *testing.T) {
	base := compositeScore(60, 80)
	if compositeScore(61, 80) <= base {
		t.Fatalf("composite must increase with driving score")
	}
	if compositeScore(60, 81) <= base {
		t.Fatalf("composite must increase with route completion")
	}
}
