// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/relabs-tech/step_computer/internal/config"
	"github.com/relabs-tech/step_computer/internal/detector"
	"github.com/relabs-tech/step_computer/internal/imu"
	"github.com/relabs-tech/step_computer/internal/sensors"
	"github.com/relabs-tech/step_computer/internal/step"
	"github.com/relabs-tech/step_computer/internal/stepdb"
	"github.com/relabs-tech/step_computer/internal/steplog"
)

const (
	// recorderQueueSize bounds how many steps may wait for disk.
	recorderQueueSize = 256
	// eventQueueSize bounds how many step events may wait for the broker.
	eventQueueSize = 64
)

// rawReader is implemented by sources that can hand out sensor counts, so
// the raw payload is published without a second read.
type rawReader interface {
	ReadRaw() (imu.IMURaw, error)
}

// stepProducer turns detector callbacks into MQTT traffic.
type stepProducer struct {
	cfg     *config.Config
	det     *detector.Detector
	counter *detector.Counter
	session string
	now     func() time.Time
	publish func(topic string, retained bool, payload []byte) error

	// Step events wait here so the detector never blocks on the broker.
	events chan step.Event
	quit   chan struct{}
	done   chan struct{}
}

func newStepProducer(cfg *config.Config, det *detector.Detector, session string,
	publish func(topic string, retained bool, payload []byte) error) *stepProducer {
	p := &stepProducer{
		cfg:     cfg,
		det:     det,
		counter: &detector.Counter{},
		session: session,
		now:     time.Now,
		publish: publish,
		events:  make(chan step.Event, eventQueueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	// The counter must see the step before the event reads the total.
	det.AddListener(p.counter)
	det.AddListenerFunc(p.onStep)
	return p
}

func (p *stepProducer) event() step.Event {
	return step.NewEvent(p.session, p.counter.Steps(), p.now().UnixMilli(), p.det.Sensitivity())
}

// onStep runs under the detector lock; it only queues the event.
func (p *stepProducer) onStep() {
	ev := p.event()
	select {
	case p.events <- ev:
	default:
		log.Printf("step producer: event queue full, dropping step %d", ev.Count)
	}
}

// start launches the goroutine that publishes queued step events.
func (p *stepProducer) start() {
	go func() {
		defer close(p.done)
		for {
			select {
			case ev := <-p.events:
				p.publishEvent(ev)
			case <-p.quit:
				for {
					select {
					case ev := <-p.events:
						p.publishEvent(ev)
					default:
						return
					}
				}
			}
		}
	}()
}

// stop publishes the events still queued and waits for the publisher to
// exit. Call it once, after start and after the sample loop has returned.
func (p *stepProducer) stop() {
	close(p.quit)
	<-p.done
}

func (p *stepProducer) publishEvent(ev step.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("step producer: marshal error (step): %v", err)
		return
	}
	if err := p.publish(p.cfg.TopicStep, true, payload); err != nil {
		log.Printf("step producer: MQTT publish error (step): %v", err)
	}
}

// handleSensitivity applies a SensitivityCommand payload.
func (p *stepProducer) handleSensitivity(payload []byte) error {
	var cmd step.SensitivityCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("sensitivity unmarshal: %w", err)
	}
	if err := validSensitivity(cmd.Sensitivity); err != nil {
		return err
	}
	old := p.det.Sensitivity()
	p.det.SetSensitivity(cmd.Sensitivity)
	log.Printf("step producer: sensitivity %.2f -> %.2f", old, cmd.Sensitivity)
	return nil
}

func validSensitivity(s float64) error {
	if math.IsNaN(s) || math.IsInf(s, 0) || s <= 0 {
		return fmt.Errorf("sensitivity must be a positive number, got %v", s)
	}
	return nil
}

// process feeds one sample and mirrors it to the raw topic and sample log.
func (p *stepProducer) process(s imu.Sample, raw *imu.IMURaw, samples *steplog.SampleWriter) {
	p.det.Process(s)

	if samples != nil {
		if err := samples.RecordSample(s); err != nil {
			log.Printf("step producer: sample log error: %v", err)
		}
	}

	if raw == nil {
		return
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		log.Printf("step producer: marshal error (imu): %v", err)
		return
	}
	if err := p.publish(p.cfg.TopicIMU, false, payload); err != nil {
		log.Printf("step producer: MQTT publish error (imu): %v", err)
	}
}

// mqttSource replays IMURaw payloads received on the IMU topic.
type mqttSource struct {
	accelRange byte
	samples    chan imu.Sample
	closeOnce  sync.Once
	done       chan struct{}
}

func newMQTTSource(accelRange byte, buffer int) *mqttSource {
	return &mqttSource{
		accelRange: accelRange,
		samples:    make(chan imu.Sample, buffer),
		done:       make(chan struct{}),
	}
}

// handle decodes a raw payload and queues it, dropping it when the detector
// falls behind.
func (m *mqttSource) handle(payload []byte) error {
	var raw imu.IMURaw
	if err := json.Unmarshal(payload, &raw); err != nil {
		return fmt.Errorf("imu unmarshal: %w", err)
	}
	s := imu.FromRaw(raw, m.accelRange, time.Now())
	select {
	case m.samples <- s:
		return nil
	case <-m.done:
		return io.EOF
	default:
		return errors.New("sample buffer full, dropping sample")
	}
}

func (m *mqttSource) Next() (imu.Sample, error) {
	select {
	case s := <-m.samples:
		return s, nil
	case <-m.done:
		return imu.Sample{}, io.EOF
	}
}

func (m *mqttSource) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

// openSource builds the SampleSource named by SAMPLE_SOURCE. The returned
// interval is zero for sources that block until data arrives.
func openSource(cfg *config.Config, client mqtt.Client) (imu.SampleSource, time.Duration, error) {
	interval := time.Duration(cfg.IMUSampleInterval) * time.Millisecond

	switch cfg.SampleSource {
	case config.SourceIMU:
		src, err := sensors.NewIMUSource(cfg)
		if err != nil {
			return nil, 0, err
		}
		return src, interval, nil

	case config.SourceMock:
		log.Println("step producer: using mock walking source")
		return sensors.NewMockSource(sensors.MockAmplitude, sensors.MockStrideHz), interval, nil

	case config.SourceSerial:
		src, err := sensors.NewSerialSource(cfg.SerialPort, cfg.SerialBaudRate)
		if err != nil {
			return nil, 0, err
		}
		return src, 0, nil

	case config.SourceMQTT:
		src := newMQTTSource(cfg.IMUAccelRange, 64)
		token := client.Subscribe(cfg.TopicIMU, 0, func(_ mqtt.Client, msg mqtt.Message) {
			if err := src.handle(msg.Payload()); err != nil && !errors.Is(err, io.EOF) {
				log.Printf("step producer: %v", err)
			}
		})
		token.Wait()
		if token.Error() != nil {
			return nil, 0, token.Error()
		}
		log.Printf("step producer: consuming samples from %s", cfg.TopicIMU)
		return src, 0, nil

	default:
		return nil, 0, fmt.Errorf("unknown sample source %q", cfg.SampleSource)
	}
}

// openRecorders opens the step log and the SQLite store. The returned
// session id identifies this run in events and in the database.
func openRecorders(cfg *config.Config, sensitivity float64) (steplog.Multi, []io.Closer, string, error) {
	var (
		recs    steplog.Multi
		closers []io.Closer
	)
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	w, err := steplog.Create(cfg.StepLogDir, cfg.StepLogFlushEvery)
	if err != nil {
		return nil, nil, "", err
	}
	recs = append(recs, w)
	closers = append(closers, w)

	session := uuid.NewString()
	if cfg.StepDBPath != "" {
		db, err := stepdb.Open(cfg.StepDBPath)
		if err != nil {
			closeAll()
			return nil, nil, "", err
		}
		closers = append(closers, db)
		id, err := db.StartSession(sensitivity)
		if err != nil {
			closeAll()
			return nil, nil, "", err
		}
		session = id
		recs = append(recs, db)
	}
	return recs, closers, session, nil
}

// RunStepProducer reads samples, detects steps and publishes them until
// SIGINT or SIGTERM.
func RunStepProducer() error {
	cfg := config.Get()
	log.Printf("step producer: starting (source=%s, sensitivity=%.2f)", cfg.SampleSource, cfg.StepSensitivity)

	recs, closers, session, err := openRecorders(cfg, cfg.StepSensitivity)
	if err != nil {
		return fmt.Errorf("open step recorders: %w", err)
	}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				log.Printf("step producer: close error: %v", err)
			}
		}
	}()

	queue := steplog.NewQueue(recs, recorderQueueSize)
	go func() {
		for err := range queue.Errors() {
			log.Printf("step producer: step recorder error: %v", err)
		}
	}()
	defer queue.Close()

	var samples *steplog.SampleWriter
	if cfg.SampleLogEnabled {
		samples, err = steplog.CreateSamples(cfg.StepLogDir, cfg.StepLogFlushEvery)
		if err != nil {
			return fmt.Errorf("open sample log: %w", err)
		}
		defer samples.Close()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDProducer)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect: %w", token.Error())
	}
	defer client.Disconnect(250)
	log.Printf("step producer: connected to MQTT broker at %s", cfg.MQTTBroker)

	det := detector.New(
		detector.WithSensitivity(cfg.StepSensitivity),
		detector.WithResetOnSensitivityChange(cfg.StepResetOnSensitivity),
		detector.WithRecorder(queue),
	)

	publish := func(topic string, retained bool, payload []byte) error {
		token := client.Publish(topic, 0, retained, payload)
		if token.Wait() && token.Error() != nil {
			return token.Error()
		}
		return nil
	}
	producer := newStepProducer(cfg, det, session, publish)
	producer.start()
	defer producer.stop()
	producer.counter.AddChangeListener(func(steps int) {
		log.Printf("step producer: step %d", steps)
	})

	token := client.Subscribe(cfg.TopicSensitivity, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if err := producer.handleSensitivity(msg.Payload()); err != nil {
			log.Printf("step producer: %v", err)
		}
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("step producer: listening for sensitivity on %s", cfg.TopicSensitivity)

	src, interval, err := openSource(cfg, client)
	if err != nil {
		return fmt.Errorf("open sample source: %w", err)
	}
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}

	publishRaw := cfg.SampleSource != config.SourceMQTT
	stop := make(chan struct{})
	loopDone := make(chan error, 1)
	go func() {
		loopDone <- producer.loop(src, interval, publishRaw, samples, stop)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Println("step producer: shutting down")
		close(stop)
		if c, ok := src.(io.Closer); ok {
			c.Close()
		}
		// Recorders and the sample log close only after the last sample.
		if err := <-loopDone; err != nil {
			log.Printf("step producer: sample loop stopped: %v", err)
		}
	case err := <-loopDone:
		if err != nil {
			log.Printf("step producer: sample loop stopped: %v", err)
		}
	}

	st := det.Stats()
	log.Printf("step producer: %d steps from %d samples (%d skipped, %d reversals)",
		st.Steps, st.Samples, st.Skipped, st.Reversals)
	return nil
}

// loop pulls samples from src until stop is closed or the source ends. A
// non-zero interval paces polled sources.
func (p *stepProducer) loop(src imu.SampleSource, interval time.Duration, publishRaw bool,
	samples *steplog.SampleWriter, stop <-chan struct{}) error {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-stop:
				return nil
			case <-tick:
			}
		} else {
			select {
			case <-stop:
				return nil
			default:
			}
		}

		s, raw, err := p.read(src, publishRaw)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			log.Printf("step producer: sample read error: %v", err)
			if tick == nil {
				// Blocking sources fail fast; back off instead of spinning.
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}
		p.process(s, raw, samples)
	}
}

func (p *stepProducer) read(src imu.SampleSource, publishRaw bool) (imu.Sample, *imu.IMURaw, error) {
	if rr, ok := src.(rawReader); ok {
		raw, err := rr.ReadRaw()
		if err != nil {
			return imu.Sample{}, nil, err
		}
		s := imu.FromRaw(raw, p.cfg.IMUAccelRange, time.Now())
		if !publishRaw {
			return s, nil, nil
		}
		return s, &raw, nil
	}

	s, err := src.Next()
	if err != nil || !publishRaw {
		return s, nil, err
	}
	raw := imu.ToRaw(s, p.cfg.SampleSource, p.cfg.IMUAccelRange)
	return s, &raw, nil
}
