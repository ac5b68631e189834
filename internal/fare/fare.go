package fare

import "github.com/example/rider-api/internal/models"

// Rate holds the pricing for one vehicle mode in currency-agnostic units.
type Rate struct {
	Base  float64
	PerKm float64
}

var rates = map[models.Mode]Rate{
	models.ModeAuto: {Base: 30, PerKm: 10},
	models.ModeCab:  {Base: 80, PerKm: 15},
}

// Estimate computes base(mode) + perKm(mode) * distanceKm.
// Unknown modes price as auto so a quote is always produced.
func Estimate(mode models.Mode, distanceKm float64) float64 {
	r, ok := rates[mode]
	if !ok {
		r = rates[models.ModeAuto]
	}
	if distanceKm < 0 {
		distanceKm = 0
	}
	return r.Base + r.PerKm*distanceKm
}
