// Package util holds the price-grid helpers shared by the execution path.
// NSE options quote on a 0.05 tick; every limit price sent to the broker
// must land exactly on that grid or the order is rejected.
package util

import "math"

// tickEps absorbs float drift so exact multiples of the tick stay put
// instead of snapping to the neighbouring level.
const tickEps = 1e-9

// RoundToTick rounds x to the nearest multiple of tick. A non-positive tick
// leaves x untouched.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// FloorToTick rounds x down to the tick grid. Aggressive sell limits use it
// so the price never rounds above the intended band.
func FloorToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Floor(x/tick+tickEps) * tick
}

// CeilToTick rounds x up to the tick grid. Aggressive buy limits use it so
// the price never rounds below the intended band.
func CeilToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Ceil(x/tick-tickEps) * tick
}
