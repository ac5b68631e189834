package analytics

import (
	"math"
	"testing"

	"github.com/example/rider-api/internal/models"
)

func TestSummarizeTotalsAndModes(t *testing.T) {
	rides := []models.PastRide{
		{Mode: models.ModeAuto, Fare: 130, DistanceKm: 10},
		{Mode: models.ModeCab, Fare: 264.5, DistanceKm: 12.3},
		{Mode: models.ModeAuto, Fare: 80, DistanceKm: 5},
	}
	s := Summarize(rides)
	if s.TotalRides != 3 {
		t.Fatalf("total rides = %d", s.TotalRides)
	}
	if math.Abs(s.TotalSpent-474.5) > 1e-9 {
		t.Fatalf("total spent = %f", s.TotalSpent)
	}
	if math.Abs(s.TotalDistance-27.3) > 1e-9 {
		t.Fatalf("total distance = %f", s.TotalDistance)
	}
	if len(s.ByMode) != 2 {
		t.Fatalf("expected 2 modes, got %d", len(s.ByMode))
	}
	for _, m := range s.ByMode {
		switch m.Mode {
		case models.ModeAuto:
			if m.Rides != 2 || math.Abs(m.TotalFare-210) > 1e-9 {
				t.Fatalf("auto stats wrong: %+v", m)
			}
		case models.ModeCab:
			if m.Rides != 1 || math.Abs(m.TotalKm-12.3) > 1e-9 {
				t.Fatalf("cab stats wrong: %+v", m)
			}
		}
	}
	if math.Abs(s.FarePerKm-474.5/27.3) > 1e-9 {
		t.Fatalf("fare per km = %f", s.FarePerKm)
	}
}

func TestSummarizeEmptyHistory(t *testing.T) {
	s := Summarize(nil)
	if s.TotalRides != 0 || s.FarePerKm != 0 || s.AvgFare != 0 {
		t.Fatalf("empty history must zero out: %+v", s)
	}
	if len(s.Recent) != 0 {
		t.Fatalf("expected no recent rides")
	}
}

func TestSummarizeRecentKeepsLastThree(t *testing.T) {
	rides := make([]models.PastRide, 5)
	for i := range rides {
		rides[i] = models.PastRide{ID: string(rune('a' + i)), Mode: models.ModeAuto, Fare: 10}
	}
	s := Summarize(rides)
	if len(s.Recent) != 3 {
		t.Fatalf("expected 3 recent rides, got %d", len(s.Recent))
	}
	if s.Recent[0].ID != "c" || s.Recent[2].ID != "e" {
		t.Fatalf("wrong recent window: %+v", s.Recent)
	}
}
