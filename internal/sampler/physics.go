package sampler

import (
	"errors"
	"math"
)

// Magnus coefficients for dewpoint over water.
const (
	MagnusA = 17.625
	MagnusB = 243.04
)

// StandardPressureHPa is the ISA sea-level pressure.
const StandardPressureHPa = 1013.25

var ErrNoReference = errors.New("no pressure reference")

// Dewpoint derives the dewpoint in °C, corrected by altitude in metres. It
// returns nil when any input is missing or the humidity is not positive.
func Dewpoint(temperature, humidity, pressure, altitude *float64) *float64 {
	if temperature == nil || humidity == nil || pressure == nil || altitude == nil {
		return nil
	}
	if *humidity <= 0 {
		return nil
	}
	t := *temperature
	alpha := (MagnusA*t)/(MagnusB+t) + math.Log(*humidity/100.0)
	dp := (MagnusB * alpha) / (MagnusA - alpha)
	dp -= *altitude / 1000.0
	if math.IsNaN(dp) || math.IsInf(dp, 0) {
		return nil
	}
	return &dp
}

// Altitude in metres from station pressure and a sea-level reference, both in hPa.
func Altitude(pressureHPa, referenceHPa float64) (float64, error) {
	if referenceHPa <= 0 || math.IsNaN(referenceHPa) {
		return math.NaN(), ErrNoReference
	}
	return 44330.0 * (1.0 - math.Pow(pressureHPa/referenceHPa, 0.1903)), nil
}
