// Package display renders the station summary on a 128x64 SSD1306 OLED.
package display

import (
	"fmt"
	"image"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"cloudpico-station/internal/sensor"
)

const (
	Width      = 128
	Height     = 64
	lineHeight = 13
	MaxLines   = Height / lineHeight
)

type Display interface {
	Show(lines []string) error
}

type SSD1306 struct {
	bus i2c.BusCloser
	dev *ssd1306.Dev
}

func OpenSSD1306(addr uint16) (*SSD1306, error) {
	if err := sensor.HostInit(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open("")
	if err != nil {
		return nil, fmt.Errorf("i2creg.Open: %w", err)
	}
	dev, err := ssd1306.NewI2C(&addressedBus{Bus: bus, addr: addr}, &ssd1306.DefaultOpts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("ssd1306.NewI2C(0x%02x): %w", addr, err)
	}
	return &SSD1306{bus: bus, dev: dev}, nil
}

// driverAddr is the address the ssd1306 driver always talks to.
const driverAddr = 0x3c

// addressedBus sends the driver's transfers to the configured address, so
// panels strapped to 0x3d work too.
type addressedBus struct {
	i2c.Bus
	addr uint16
}

func (b *addressedBus) Tx(addr uint16, w, r []byte) error {
	if addr == driverAddr && b.addr != 0 {
		addr = b.addr
	}
	return b.Bus.Tx(addr, w, r)
}

func (d *SSD1306) Show(lines []string) error {
	img := Render(lines)
	return d.dev.Draw(d.dev.Bounds(), img, image.Point{})
}

func (d *SSD1306) Close() error {
	err := d.dev.Halt()
	if cerr := d.bus.Close(); err == nil {
		err = cerr
	}
	return err
}

// Render draws up to MaxLines lines of 7x13 text. Extra lines are dropped.
func Render(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, Width, Height))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		if i >= MaxLines {
			break
		}
		drawer.Dot = fixed.P(0, (i+1)*lineHeight-2)
		drawer.DrawString(line)
	}
	return img
}
