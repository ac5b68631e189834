package analytics

import "github.com/example/rider-api/internal/models"

// Summary aggregates a rider's ride history for the stats view.
type Summary struct {
	TotalRides    int            `json:"total_rides"`
	TotalSpent    float64        `json:"total_spent"`
	TotalDistance float64        `json:"total_distance_km"`
	FarePerKm     float64        `json:"fare_per_km"`
	AvgFare       float64        `json:"avg_fare"`
	ByMode        []ModeStats    `json:"mode_distribution"`
	Recent        []models.PastRide `json:"recent_rides"`
}

type ModeStats struct {
	Mode       models.Mode `json:"mode"`
	Rides      int         `json:"rides"`
	TotalFare  float64     `json:"total_fare"`
	TotalKm    float64     `json:"total_distance_km"`
}

const recentLimit = 3

// Summarize is a pure reduction over the rider's past rides.
func Summarize(rides []models.PastRide) Summary {
	s := Summary{ByMode: []ModeStats{}}
	for _, ride := range rides {
		s.TotalRides++
		s.TotalSpent += ride.Fare
		s.TotalDistance += ride.DistanceKm

		found := false
		for i := range s.ByMode {
			if s.ByMode[i].Mode == ride.Mode {
				s.ByMode[i].Rides++
				s.ByMode[i].TotalFare += ride.Fare
				s.ByMode[i].TotalKm += ride.DistanceKm
				found = true
				break
			}
		}
		if !found {
			s.ByMode = append(s.ByMode, ModeStats{
				Mode: ride.Mode, Rides: 1,
				TotalFare: ride.Fare, TotalKm: ride.DistanceKm,
			})
		}
	}
	if s.TotalDistance > 0 {
		s.FarePerKm = s.TotalSpent / s.TotalDistance
	}
	if s.TotalRides > 0 {
		s.AvgFare = s.TotalSpent / float64(s.TotalRides)
	}
	// most recent last in storage order
	start := len(rides) - recentLimit
	if start < 0 {
		start = 0
	}
	s.Recent = append([]models.PastRide{}, rides[start:]...)
	return s
}
