// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/step_computer/internal/config"
	"github.com/relabs-tech/step_computer/internal/step"
	"github.com/relabs-tech/step_computer/internal/stepdb"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// stepHistory is the part of stepdb.Store the web server reads.
type stepHistory interface {
	Recent(limit int) ([]stepdb.Step, error)
	CountSince(t time.Time) (int, error)
}

// HistoryResponse is returned by /api/steps/history.
type HistoryResponse struct {
	Today int           `json:"today"`
	Steps []stepdb.Step `json:"steps"`
}

type webServer struct {
	mu       sync.RWMutex
	last     step.Event
	haveLast bool

	history          stepHistory
	topicSensitivity string
	publish          func(topic string, payload []byte) error
	now              func() time.Time

	clientsMu sync.Mutex
	clients   map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newWebServer(history stepHistory, topicSensitivity string, publish func(string, []byte) error) *webServer {
	return &webServer{
		history:          history,
		topicSensitivity: topicSensitivity,
		publish:          publish,
		now:              time.Now,
		clients:          make(map[*wsClient]struct{}),
	}
}

// handleStepMessage stores the latest event and forwards it to websocket
// clients.
func (s *webServer) handleStepMessage(payload []byte) error {
	var ev step.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("step unmarshal: %w", err)
	}
	s.mu.Lock()
	s.last = ev
	s.haveLast = true
	s.mu.Unlock()

	s.broadcast(payload)
	return nil
}

func (s *webServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/steps", s.handleLatest)
	mux.HandleFunc("GET /api/steps/history", s.handleHistory)
	mux.HandleFunc("POST /api/sensitivity", s.handleSensitivity)
	mux.HandleFunc("GET /ws/steps", s.handleStepsWS)
	mux.Handle("/", http.FileServer(http.Dir("web")))
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func (s *webServer) handleLatest(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ev, ok := s.last, s.haveLast
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *webServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "step history disabled", http.StatusNotFound)
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	steps, err := s.history.Recent(limit)
	if err != nil {
		log.Printf("web: history query error: %v", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}

	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	today, err := s.history.CountSince(midnight)
	if err != nil {
		log.Printf("web: count query error: %v", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}

	if steps == nil {
		steps = []stepdb.Step{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Today: today, Steps: steps})
}

func (s *webServer) handleSensitivity(w http.ResponseWriter, r *http.Request) {
	var cmd step.SensitivityCommand
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&cmd); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := validSensitivity(cmd.Sensitivity); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.publish(s.topicSensitivity, payload); err != nil {
		log.Printf("web: MQTT publish error (sensitivity): %v", err)
		http.Error(w, "could not reach producer", http.StatusBadGateway)
		return
	}
	log.Printf("web: requested sensitivity %.2f", cmd.Sensitivity)
	writeJSON(w, http.StatusAccepted, cmd)
}

// handleStepsWS streams every step event to the client as a JSON text
// message, starting with the latest known one.
func (s *webServer) handleStepsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, 16)}

	s.mu.RLock()
	if s.haveLast {
		if payload, err := json.Marshal(s.last); err == nil {
			c.send <- payload
		}
	}
	s.mu.RUnlock()

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()

	go c.writeLoop()

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.clientsMu.Lock()
	delete(s.clients, c)
	close(c.send)
	s.clientsMu.Unlock()
}

func (c *wsClient) writeLoop() {
	defer c.conn.Close()
	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("web: websocket write error: %v", err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// broadcast drops the message for clients whose buffer is full.
func (s *webServer) broadcast(payload []byte) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- payload:
		default:
			log.Printf("web: websocket client %s too slow, dropping step", c.conn.RemoteAddr())
		}
	}
}

// RunWeb serves the step API and the static UI.
func RunWeb() error {
	cfg := config.Get()

	var history stepHistory
	if cfg.StepDBPath != "" {
		db, err := stepdb.Open(cfg.StepDBPath)
		if err != nil {
			return fmt.Errorf("open step database: %w", err)
		}
		defer db.Close()
		history = db
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	publish := func(topic string, payload []byte) error {
		token := client.Publish(topic, 1, false, payload)
		if token.Wait() && token.Error() != nil {
			return token.Error()
		}
		return nil
	}
	srv := newWebServer(history, cfg.TopicSensitivity, publish)

	token := client.Subscribe(cfg.TopicStep, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if err := srv.handleStepMessage(msg.Payload()); err != nil {
			log.Printf("web: %v", err)
		}
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: subscribed to MQTT topic %s", cfg.TopicStep)

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	if cfg.UseTLS() {
		log.Printf("web: server listening on https://%s", addr)
		return http.ListenAndServeTLS(addr, cfg.WebTLSCert, cfg.WebTLSKey, srv.routes())
	}
	log.Printf("web: server listening on %s", addr)
	return http.ListenAndServe(addr, srv.routes())
}
