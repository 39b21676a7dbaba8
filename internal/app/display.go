// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/step_computer/internal/config"
	"github.com/relabs-tech/step_computer/internal/step"
)

// DisplayData holds the latest step event for the display.
type DisplayData struct {
	mu       sync.RWMutex
	last     step.Event
	haveStep bool
	received time.Time
}

func (d *DisplayData) handleStepMessage(payload []byte, now time.Time) error {
	var ev step.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("step unmarshal: %w", err)
	}
	d.mu.Lock()
	d.last = ev
	d.haveStep = true
	d.received = now
	d.mu.Unlock()
	return nil
}

func (d *DisplayData) snapshot() (step.Event, time.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last, d.received, d.haveStep
}

// formatAge renders the time since the last step in a width that fits one
// display line.
func formatAge(age time.Duration) string {
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	}
}

func newScreen() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func renderStepScreen(data *DisplayData, now time.Time) *image1bit.VerticalLSB {
	img, drawer := newScreen()

	ev, received, ok := data.snapshot()
	if !ok {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("Pedometer"))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))
		return img
	}

	drawer.Dot = fixed.P(0, 13)
	drawer.DrawBytes([]byte("Steps"))

	drawer.Dot = fixed.P(0, 30)
	drawer.DrawBytes([]byte(fmt.Sprintf("%d", ev.Count)))

	drawer.Dot = fixed.P(0, 47)
	drawer.DrawBytes([]byte("Last: " + formatAge(now.Sub(received))))

	drawer.Dot = fixed.P(0, 62)
	drawer.DrawBytes([]byte(fmt.Sprintf("Sens: %.1f", ev.Sensitivity)))

	return img
}

func showSplash(dev *ssd1306.Dev) error {
	img, drawer := newScreen()

	drawer.Dot = fixed.P(10, 26)
	drawer.DrawBytes([]byte("Step Pi"))

	drawer.Dot = fixed.P(5, 43)
	drawer.DrawBytes([]byte("Connecting..."))

	return dev.Draw(dev.Bounds(), img, image.Point{})
}

// RunDisplay shows the running step count on an SSD1306.
func RunDisplay() error {
	cfg := config.Get()

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: initialized at 0x%02X", cfg.DisplayI2CAddr)

	if err := showSplash(dev); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	data := &DisplayData{}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDDisplay)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicStep, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if err := data.handleStepMessage(msg.Payload(), time.Now()); err != nil {
			log.Printf("display: %v", err)
		}
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicStep)

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for now := range ticker.C {
		img := renderStepScreen(data, now)
		if err := dev.Draw(dev.Bounds(), img, image.Point{}); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}

	return nil
}
