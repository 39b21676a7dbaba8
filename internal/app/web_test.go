// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/step_computer/internal/step"
	"github.com/relabs-tech/step_computer/internal/stepdb"
)

func stepPayload(t *testing.T, count int) []byte {
	t.Helper()
	payload, err := json.Marshal(step.NewEvent("s1", count, 1_700_000_000_000+int64(count), 10))
	require.NoError(t, err)
	return payload
}

func TestLatestStep(t *testing.T) {
	srv := newWebServer(nil, "pedometer/sensitivity", nil)
	h := srv.routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/steps", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, srv.handleStepMessage(stepPayload(t, 1)))
	require.NoError(t, srv.handleStepMessage(stepPayload(t, 2)))
	assert.Error(t, srv.handleStepMessage([]byte("nope")))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/steps", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var ev step.Event
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ev))
	assert.Equal(t, 2, ev.Count)
	assert.Equal(t, "s1", ev.Session)
}

func TestStepHistory(t *testing.T) {
	db, err := stepdb.Open(filepath.Join(t.TempDir(), "steps.db"))
	require.NoError(t, err)
	defer db.Close()
	_, err = db.StartSession(10)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	require.NoError(t, db.RecordStep(yesterday.UnixMilli()))
	for i := 0; i < 3; i++ {
		require.NoError(t, db.RecordStep(now.Add(time.Duration(i)*time.Second).UnixMilli()))
	}

	srv := newWebServer(db, "pedometer/sensitivity", nil)
	srv.now = func() time.Time { return now }
	h := srv.routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/steps/history?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HistoryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 3, resp.Today)
	require.Len(t, resp.Steps, 2)
	assert.True(t, resp.Steps[0].Time.After(resp.Steps[1].Time))

	for _, q := range []string{"limit=0", "limit=-1", "limit=x"} {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/steps/history?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestStepHistoryDisabled(t *testing.T) {
	h := newWebServer(nil, "pedometer/sensitivity", nil).routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/steps/history", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostSensitivity(t *testing.T) {
	var (
		gotTopic   string
		gotPayload []byte
		failNext   bool
	)
	publish := func(topic string, payload []byte) error {
		if failNext {
			return errors.New("not connected")
		}
		gotTopic, gotPayload = topic, payload
		return nil
	}
	h := newWebServer(nil, "pedometer/sensitivity", publish).routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sensitivity", strings.NewReader(`{"sensitivity": 15.5}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "pedometer/sensitivity", gotTopic)

	var cmd step.SensitivityCommand
	require.NoError(t, json.Unmarshal(gotPayload, &cmd))
	assert.Equal(t, 15.5, cmd.Sensitivity)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"zero", `{"sensitivity": 0}`, http.StatusBadRequest},
		{"negative", `{"sensitivity": -1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sensitivity", strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	failNext = true
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sensitivity", strings.NewReader(`{"sensitivity": 5}`)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestStepsWebSocket(t *testing.T) {
	srv := newWebServer(nil, "pedometer/sensitivity", nil)
	require.NoError(t, srv.handleStepMessage(stepPayload(t, 1)))

	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/steps"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev step.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, 1, ev.Count)

	// Wait until the client is registered before broadcasting.
	require.Eventually(t, func() bool {
		srv.clientsMu.Lock()
		defer srv.clientsMu.Unlock()
		return len(srv.clients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.handleStepMessage(stepPayload(t, 2)))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, 2, ev.Count)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool {
		srv.clientsMu.Lock()
		defer srv.clientsMu.Unlock()
		return len(srv.clients) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
