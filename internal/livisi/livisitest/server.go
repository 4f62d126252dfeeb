// Package livisitest provides an in-memory SmartHome Controller for tests.
package livisitest

import (
	"encoding/json"
	"github.com/clambin/livisi-climate/internal/livisi"
	"github.com/gorilla/websocket"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
)

const Token = "access-token"

// Action is a SetState action received by the Server.
type Action struct {
	Capability string
	Field      string
	Value      any
}

// Server emulates a SmartHome Controller. Create one with New.
type Server struct {
	*httptest.Server
	v2          bool
	lock        sync.Mutex
	devices     []livisi.Device
	states      map[string]map[string]any
	actions     []Action
	result      string
	fail        bool
	events      chan livisi.Event
	connections atomic.Int32
	calls       atomic.Int32
	upgrader    websocket.Upgrader
}

// New starts a Server. v2 determines the controller type reported by /status.
func New(v2 bool, devices ...livisi.Device) *Server {
	s := Server{
		v2:      v2,
		devices: devices,
		states:  make(map[string]map[string]any),
		events:  make(chan livisi.Event),
	}
	m := http.NewServeMux()
	m.HandleFunc("POST /auth/token", s.token)
	m.Handle("GET /status", s.authorized(s.status))
	m.Handle("GET /device", s.authorized(s.device))
	m.Handle("GET /capability", s.authorized(s.capability))
	m.Handle("GET /location", s.authorized(s.location))
	m.Handle("GET /capability/{id}/state", s.authorized(s.capabilityState))
	m.Handle("POST /action", s.authorized(s.action))
	m.HandleFunc("GET /events", s.stream)
	s.Server = httptest.NewServer(m)
	return &s
}

// EventsURL returns the websocket URL of the Server's event stream.
func (s *Server) EventsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/events"
}

// SetState sets the value of a capability's state field.
func (s *Server) SetState(capability, field string, value any) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.states[capability] == nil {
		s.states[capability] = make(map[string]any)
	}
	s.states[capability][field] = value
}

// State returns the current value of a capability's state field.
func (s *Server) State(capability, field string) (any, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	value, ok := s.states[capability][field]
	return value, ok
}

// SetDevices replaces the Server's devices.
func (s *Server) SetDevices(devices ...livisi.Device) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.devices = devices
}

// SetActionResult sets the resultCode returned by /action. An empty string means success.
func (s *Server) SetActionResult(result string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.result = result
}

// Fail makes all API calls (except authentication) return an internal server error.
func (s *Server) Fail(fail bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.fail = fail
}

// Actions returns all actions received so far.
func (s *Server) Actions() []Action {
	s.lock.Lock()
	defer s.lock.Unlock()
	actions := make([]Action, len(s.actions))
	copy(actions, s.actions)
	return actions
}

// Connections returns the number of connected event stream clients.
func (s *Server) Connections() int {
	return int(s.connections.Load())
}

// Calls returns the number of API calls received.
func (s *Server) Calls() int {
	return int(s.calls.Load())
}

// Publish sends an event to the connected event stream client. It blocks until a client reads the event.
func (s *Server) Publish(event livisi.Event) {
	s.events <- event
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	if user, password, ok := r.BasicAuth(); !ok || user != "clientId" || password != "clientPass" {
		http.Error(w, "invalid client", http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]any{
		"access_token":  Token,
		"token_type":    "Bearer",
		"refresh_token": "refresh-token",
		"expires_in":    172800,
	})
}

func (s *Server) authorized(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+Token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		s.lock.Lock()
		fail := s.fail
		s.lock.Unlock()
		if fail {
			http.Error(w, "controller failure", http.StatusInternalServerError)
			return
		}
		next(w, r)
	})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	if s.v2 {
		writeJSON(w, map[string]any{
			"gateway": map[string]any{"serialNumber": "1234", "controllerType": livisi.ControllerTypeV2, "appVersion": "1.2.3"},
		})
		return
	}
	writeJSON(w, map[string]any{"serialNumber": "1234", "controllerType": "Classic", "appVersion": "1.0.0"})
}

func (s *Server) device(w http.ResponseWriter, _ *http.Request) {
	s.lock.Lock()
	defer s.lock.Unlock()
	devices := make([]map[string]any, 0, len(s.devices))
	for _, d := range s.devices {
		capabilities := make([]string, 0, len(d.Capabilities))
		for _, id := range d.Capabilities {
			capabilities = append(capabilities, "/capability/"+id)
		}
		entry := map[string]any{
			"id":           d.ID,
			"type":         d.Type,
			"config":       map[string]any{"name": d.Name},
			"capabilities": capabilities,
		}
		if d.Room != "" {
			entry["location"] = "/location/" + d.Room
		}
		devices = append(devices, entry)
	}
	writeJSON(w, devices)
}

func (s *Server) capability(w http.ResponseWriter, _ *http.Request) {
	s.lock.Lock()
	defer s.lock.Unlock()
	var capabilities []map[string]any
	for _, d := range s.devices {
		for capabilityType, id := range d.Capabilities {
			capabilities = append(capabilities, map[string]any{
				"id":     id,
				"type":   capabilityType,
				"device": "/device/" + d.ID,
				"config": d.CapabilityConfig[capabilityType],
			})
		}
	}
	writeJSON(w, capabilities)
}

func (s *Server) location(w http.ResponseWriter, _ *http.Request) {
	s.lock.Lock()
	defer s.lock.Unlock()
	var locations []map[string]any
	for _, d := range s.devices {
		if d.Room != "" {
			locations = append(locations, map[string]any{"id": d.Room, "config": map[string]any{"name": d.Room}})
		}
	}
	writeJSON(w, locations)
}

func (s *Server) capabilityState(w http.ResponseWriter, r *http.Request) {
	s.lock.Lock()
	defer s.lock.Unlock()
	state := make(map[string]any)
	for field, value := range s.states[r.PathValue("id")] {
		state[field] = map[string]any{"value": value, "lastChanged": "2024-01-01T00:00:00.000Z"}
	}
	writeJSON(w, state)
}

func (s *Server) action(w http.ResponseWriter, r *http.Request) {
	var request struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Target string `json:"target"`
		Params map[string]struct {
			Type  string `json:"type"`
			Value any    `json:"value"`
		} `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.ID == "" || request.Type != "SetState" {
		http.Error(w, "invalid action", http.StatusBadRequest)
		return
	}
	capability := strings.TrimPrefix(request.Target, "/capability/")

	s.lock.Lock()
	result := s.result
	for field, param := range request.Params {
		s.actions = append(s.actions, Action{Capability: capability, Field: field, Value: param.Value})
		if result == "" {
			if s.states[capability] == nil {
				s.states[capability] = make(map[string]any)
			}
			s.states[capability][field] = param.Value
		}
	}
	s.lock.Unlock()

	if result == "" {
		result = "Success"
	}
	writeJSON(w, map[string]any{"resultCode": result})
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") != Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	// detect the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.connections.Add(1)
	defer s.connections.Add(-1)

	for {
		select {
		case <-closed:
			return
		case event := <-s.events:
			if err = conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
