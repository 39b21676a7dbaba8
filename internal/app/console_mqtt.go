// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/step_computer/internal/config"
	"github.com/relabs-tech/step_computer/internal/imu"
	"github.com/relabs-tech/step_computer/internal/step"
)

func formatStepEvent(ev step.Event, prev *step.Event) string {
	cadence := "   --"
	if prev != nil && prev.Session == ev.Session && ev.TimestampMS > prev.TimestampMS {
		gap := time.Duration(ev.TimestampMS-prev.TimestampMS) * time.Millisecond
		cadence = fmt.Sprintf("%5.0f", float64(time.Minute)/float64(gap))
	}
	return fmt.Sprintf("[STEP]  #%-6d %s  cadence=%s/min  sens=%5.1f  session=%.8s",
		ev.Count, ev.Time, cadence, ev.Sensitivity, ev.Session)
}

// RunConsoleMQTT prints step events, and raw accelerometer readings when
// verbose, until interrupted.
func RunConsoleMQTT(verbose bool) error {
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	// Callbacks for one subscription are delivered in order.
	var prev *step.Event
	stepToken := client.Subscribe(cfg.TopicStep, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var ev step.Event
		if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
			log.Printf("console: step unmarshal error: %v", err)
			return
		}
		fmt.Println(formatStepEvent(ev, prev))
		prev = &ev
	})
	stepToken.Wait()
	if stepToken.Error() != nil {
		return stepToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicStep)

	if verbose {
		imuToken := client.Subscribe(cfg.TopicIMU, 0, func(_ mqtt.Client, msg mqtt.Message) {
			var s imu.IMURaw
			if err := json.Unmarshal(msg.Payload(), &s); err != nil {
				log.Printf("console: imu unmarshal error: %v", err)
				return
			}
			fmt.Printf("[IMU]   %-6s ax=%6d ay=%6d az=%6d\n", s.Source, s.Ax, s.Ay, s.Az)
		})
		imuToken.Wait()
		if imuToken.Error() != nil {
			return imuToken.Error()
		}
		log.Printf("console: subscribed to %s", cfg.TopicIMU)
	}

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
