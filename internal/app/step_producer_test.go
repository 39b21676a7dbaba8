// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/step_computer/internal/config"
	"github.com/relabs-tech/step_computer/internal/detector"
	"github.com/relabs-tech/step_computer/internal/imu"
	"github.com/relabs-tech/step_computer/internal/step"
	"github.com/relabs-tech/step_computer/internal/stepdb"
	"github.com/relabs-tech/step_computer/internal/steplog"
)

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) publish(topic string, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic, retained, payload})
	return f.err
}

func (f *fakePublisher) on(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, m := range f.msgs {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// walk samples a 1 Hz, 20 unit swing at 100 Hz for five seconds.
func walk() []imu.Sample {
	n := detector.DefaultNormalizer()
	start := time.UnixMilli(1_700_000_000_000)
	out := make([]imu.Sample, 0, 500)
	for i := 0; i < 500; i++ {
		v := detector.DefaultOffset + 20*math.Sin(2*math.Pi*float64(i)/100)
		a := n.Invert(v)
		out = append(out, imu.Sample{
			Type: imu.Accelerometer, X: a, Y: a, Z: a,
			Time: start.Add(time.Duration(i) * 10 * time.Millisecond),
		})
	}
	return out
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.MQTTBroker = "tcp://localhost:1883"
	cfg.SampleSource = config.SourceMock
	return cfg
}

func TestStepProducerPublishesEvents(t *testing.T) {
	cfg := testConfig()
	pub := &fakePublisher{}
	p := newStepProducer(cfg, detector.New(), "session-1", pub.publish)
	p.now = func() time.Time { return time.UnixMilli(1_700_000_000_123) }
	p.start()

	for _, s := range walk() {
		p.process(s, nil, nil)
	}
	p.stop()

	steps := pub.on(cfg.TopicStep)
	require.Len(t, steps, 4)
	for i, m := range steps {
		assert.True(t, m.retained)
		var ev step.Event
		require.NoError(t, json.Unmarshal(m.payload, &ev))
		assert.Equal(t, "session-1", ev.Session)
		assert.Equal(t, i+1, ev.Count)
		assert.Equal(t, int64(1_700_000_000_123), ev.TimestampMS)
		assert.Equal(t, detector.DefaultSensitivity, ev.Sensitivity)
	}
	assert.Equal(t, 4, p.counter.Steps())
	assert.Empty(t, pub.on(cfg.TopicIMU))
}

func TestStepProducerPublishErrorIsNotFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker gone")}
	p := newStepProducer(testConfig(), detector.New(), "s", pub.publish)
	p.start()

	for _, s := range walk() {
		p.process(s, nil, nil)
	}
	p.stop()
	assert.Equal(t, 4, p.counter.Steps())
	assert.Len(t, pub.on(testConfig().TopicStep), 4)
}

func TestSlowBrokerDoesNotBlockDetector(t *testing.T) {
	release := make(chan struct{})
	var sent atomic.Int32
	publish := func(string, bool, []byte) error {
		<-release
		sent.Add(1)
		return nil
	}
	det := detector.New()
	p := newStepProducer(testConfig(), det, "s", publish)
	p.start()

	processed := make(chan struct{})
	go func() {
		defer close(processed)
		for _, s := range walk() {
			p.process(s, nil, nil)
		}
	}()
	select {
	case <-processed:
	case <-time.After(2 * time.Second):
		t.Fatal("sample processing stalled behind a step publish")
	}

	statsDone := make(chan detector.Stats, 1)
	go func() {
		det.State()
		statsDone <- det.Stats()
	}()
	select {
	case st := <-statsDone:
		assert.Equal(t, uint64(4), st.Steps)
	case <-time.After(time.Second):
		t.Fatal("detector stats blocked while a step publish is in flight")
	}

	close(release)
	p.stop()
	assert.Equal(t, int32(4), sent.Load())
}

func TestFullEventQueueDropsSteps(t *testing.T) {
	release := make(chan struct{})
	var sent atomic.Int32
	publish := func(string, bool, []byte) error {
		<-release
		sent.Add(1)
		return nil
	}
	p := newStepProducer(testConfig(), detector.New(), "s", publish)
	p.events = make(chan step.Event, 1)
	p.start()

	for _, s := range walk() {
		p.process(s, nil, nil)
	}
	assert.Equal(t, 4, p.counter.Steps())

	close(release)
	p.stop()
	// One event may be in flight and one queued; the rest are dropped.
	assert.GreaterOrEqual(t, sent.Load(), int32(1))
	assert.LessOrEqual(t, sent.Load(), int32(2))
}

func TestStepProducerMirrorsRawAndSamples(t *testing.T) {
	cfg := testConfig()
	pub := &fakePublisher{}
	p := newStepProducer(cfg, detector.New(), "s", pub.publish)

	dir := t.TempDir()
	sw, err := steplog.CreateSamples(dir, 1)
	require.NoError(t, err)

	src := &sliceSource{samples: walk()[:3]}
	for i := 0; i < 3; i++ {
		s, raw, err := p.read(src, true)
		require.NoError(t, err)
		require.NotNil(t, raw)
		assert.Equal(t, config.SourceMock, raw.Source)
		p.process(s, raw, sw)
	}
	require.NoError(t, sw.Close())

	assert.Len(t, pub.on(cfg.TopicIMU), 3)
	f, err := os.Open(filepath.Join(dir, steplog.SamplesFile))
	require.NoError(t, err)
	defer f.Close()
	logged, err := steplog.ReadSamples(f)
	require.NoError(t, err)
	assert.Len(t, logged, 3)
}

func TestHandleSensitivity(t *testing.T) {
	det := detector.New()
	p := newStepProducer(testConfig(), det, "s", (&fakePublisher{}).publish)

	require.NoError(t, p.handleSensitivity([]byte(`{"sensitivity": 25}`)))
	assert.Equal(t, 25.0, det.Sensitivity())

	for _, payload := range []string{`{"sensitivity": 0}`, `{"sensitivity": -3}`, `{}`, `not json`} {
		assert.Error(t, p.handleSensitivity([]byte(payload)), payload)
	}
	assert.Equal(t, 25.0, det.Sensitivity())
}

type sliceSource struct {
	samples []imu.Sample
}

func (s *sliceSource) Next() (imu.Sample, error) {
	if len(s.samples) == 0 {
		return imu.Sample{}, io.EOF
	}
	next := s.samples[0]
	s.samples = s.samples[1:]
	return next, nil
}

func TestLoopDrainsSource(t *testing.T) {
	pub := &fakePublisher{}
	p := newStepProducer(testConfig(), detector.New(), "s", pub.publish)

	err := p.loop(&sliceSource{samples: walk()}, 0, false, nil, make(chan struct{}))
	require.NoError(t, err)
	assert.Equal(t, 4, p.counter.Steps())
	assert.Equal(t, uint64(500), p.det.Stats().Samples)
}

func TestMQTTSource(t *testing.T) {
	src := newMQTTSource(0, 1)

	raw := imu.IMURaw{Source: "left", Ax: 16384, Az: -16384, TimestampMS: 42}
	payload, err := json.Marshal(raw)
	require.NoError(t, err)

	require.NoError(t, src.handle(payload))
	assert.Error(t, src.handle(payload), "buffer of one is full")
	assert.Error(t, src.handle([]byte("{")))

	s, err := src.Next()
	require.NoError(t, err)
	assert.InDelta(t, imu.StandardGravity, s.X, 1e-9)
	assert.InDelta(t, -imu.StandardGravity, s.Z, 1e-9)
	assert.Equal(t, int64(42), s.Time.UnixMilli())

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpenRecorders(t *testing.T) {
	cfg := testConfig()
	cfg.StepLogDir = t.TempDir()
	cfg.StepDBPath = filepath.Join(cfg.StepLogDir, "steps.db")

	recs, closers, session, err := openRecorders(cfg, 12)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.NotEmpty(t, session)

	require.NoError(t, recs.RecordStep(1_000))
	require.NoError(t, recs.RecordStep(2_000))
	for _, c := range closers {
		require.NoError(t, c.Close())
	}

	f, err := os.Open(filepath.Join(cfg.StepLogDir, steplog.StepsFile))
	require.NoError(t, err)
	defer f.Close()
	steps, err := steplog.ReadSteps(f)
	require.NoError(t, err)
	assert.Equal(t, []int64{1_000, 2_000}, steps)

	db, err := stepdb.Open(cfg.StepDBPath)
	require.NoError(t, err)
	defer db.Close()
	n, err := db.SessionCount(session)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOpenRecordersWithoutDatabase(t *testing.T) {
	cfg := testConfig()
	cfg.StepLogDir = t.TempDir()
	cfg.StepDBPath = ""

	recs, closers, session, err := openRecorders(cfg, 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Len(t, closers, 1)
	assert.Len(t, session, 36)
	for _, c := range closers {
		require.NoError(t, c.Close())
	}
}

func TestLoopReturnsAfterStopAndClose(t *testing.T) {
	p := newStepProducer(testConfig(), detector.New(), "s", (&fakePublisher{}).publish)
	src := newMQTTSource(0, 4)
	payload, err := json.Marshal(imu.IMURaw{Source: "left", Az: 16384})
	require.NoError(t, err)
	require.NoError(t, src.handle(payload))

	stop := make(chan struct{})
	loopDone := make(chan error, 1)
	go func() {
		loopDone <- p.loop(src, 0, false, nil, stop)
	}()

	require.Eventually(t, func() bool { return p.det.Stats().Samples == 1 }, 2*time.Second, 5*time.Millisecond)

	close(stop)
	require.NoError(t, src.Close())
	select {
	case err := <-loopDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sample loop did not return after stop")
	}
	assert.Equal(t, uint64(1), p.det.Stats().Samples)
}
