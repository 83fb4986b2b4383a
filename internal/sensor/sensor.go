// Package sensor adapts the station's I2C environmental sensors to the
// read interfaces the sampler consumes.
package sensor

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
)

var ErrNoHumidity = errors.New("sensor has no humidity channel")

// HumidityTemp reads relative humidity in % and temperature in °C.
type HumidityTemp interface {
	ReadHumidityTemp() (humidity, temperature float64, err error)
}

// Pressure reads station pressure in hPa and temperature in °C.
type Pressure interface {
	ReadPressureTemp() (pressure, temperature float64, err error)
}

var hostInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

// HostInit loads the periph host drivers once per process.
func HostInit() error {
	if err := hostInit(); err != nil {
		return fmt.Errorf("periph host init: %w", err)
	}
	return nil
}

// BMXX80 is a Bosch BMP280 or BME280 on the default I2C bus. Only the BME280
// reports humidity.
type BMXX80 struct {
	bus      i2c.BusCloser
	dev      *bmxx80.Dev
	humidity bool
	model    string
}

func OpenBMXX80(addr uint16) (*BMXX80, error) {
	if err := HostInit(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open("")
	if err != nil {
		return nil, fmt.Errorf("i2creg.Open: %w", err)
	}
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("bmxx80.NewI2C(0x%02x): %w", addr, err)
	}
	model := dev.String()
	return &BMXX80{
		bus:      bus,
		dev:      dev,
		humidity: strings.HasPrefix(model, "BME280"),
		model:    model,
	}, nil
}

func (b *BMXX80) Model() string { return b.model }

func (b *BMXX80) HasHumidity() bool { return b.humidity }

func (b *BMXX80) ReadPressureTemp() (float64, float64, error) {
	var env physic.Env
	if err := b.dev.Sense(&env); err != nil {
		return 0, 0, fmt.Errorf("sense: %w", err)
	}
	return PressureHPa(env.Pressure), env.Temperature.Celsius(), nil
}

func (b *BMXX80) ReadHumidityTemp() (float64, float64, error) {
	if !b.humidity {
		return 0, 0, ErrNoHumidity
	}
	var env physic.Env
	if err := b.dev.Sense(&env); err != nil {
		return 0, 0, fmt.Errorf("sense: %w", err)
	}
	return HumidityPercent(env.Humidity), env.Temperature.Celsius(), nil
}

func (b *BMXX80) Close() error {
	err := b.dev.Halt()
	if cerr := b.bus.Close(); err == nil {
		err = cerr
	}
	return err
}

func PressureHPa(p physic.Pressure) float64 {
	return float64(p) / float64(physic.Pascal) / 100
}

func HumidityPercent(h physic.RelativeHumidity) float64 {
	return float64(h) / float64(physic.PercentRH)
}
