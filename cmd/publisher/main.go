package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Sekolah Islam Amelia, the default seeded POI
const (
	poiLat = -6.2786615
	poiLon = 106.6919076
)

var devicePool = []string{"device-001", "device-002", "device-003"}

type location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

type frame struct {
	Type      string          `json:"type"`
	DeviceID  string          `json:"device_id,omitempty"`
	Location  *location       `json:"location,omitempty"`
	Alert     json.RawMessage `json:"alert,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// session is one connected tracking client.
type session struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *session) send(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func randomPoint() (float64, float64) {
	// 30% chance to land within ~1km of the POI
	if rand.Float64() < 0.3 {
		return poiLat + (rand.Float64()-0.5)*0.018, poiLon + (rand.Float64()-0.5)*0.018
	}
	// anywhere around greater Jakarta
	return -6.4 + rand.Float64()*0.4, 106.6 + rand.Float64()*0.4
}

func nextFrame() frame {
	// occasional upstream alert that the server forwards unchanged
	if rand.Float64() < 0.05 {
		alert, _ := json.Marshal(map[string]any{
			"id":         uuid.NewString(),
			"alert_type": "tamper",
			"severity":   "high",
			"message":    "Strap tamper detected",
			"timestamp":  time.Now().Format(time.RFC3339),
		})
		return frame{Type: "alert", Alert: alert}
	}

	lat, lon := randomPoint()
	return frame{
		Type:      "location_update",
		DeviceID:  devicePool[rand.Intn(len(devicePool))],
		Location:  &location{Lat: lat, Lon: lon},
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

func serveTracking(interval time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := r.PathValue("client_id")
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("upgrade failed", "error", err)
			return
		}
		s := &session{conn: c}
		log := logger.With("client_id", clientID)
		log.Info("client connected")

		done := make(chan struct{})
		go func() {
			defer close(done)
			readCommands(s, log)
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer func() { _ = c.Close() }()

		for {
			select {
			case <-done:
				log.Info("client disconnected")
				return
			case <-ticker.C:
				f := nextFrame()
				if err := s.send(f); err != nil {
					log.Warn("send failed", "error", err)
					return
				}
				log.Debug("sent", "type", f.Type, "device_id", f.DeviceID)
			}
		}
	}
}

func readCommands(s *session, log *slog.Logger) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd struct {
			Type     string `json:"type"`
			DeviceID string `json:"device_id"`
			CaseID   string `json:"case_id"`
		}
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.Type != "register_device" {
			_ = s.send(frame{Type: "error", Message: "unsupported command"})
			continue
		}
		log.Info("register_device", "device_id", cmd.DeviceID, "case_id", cmd.CaseID)
		_ = s.send(frame{
			Type:     "registration_success",
			DeviceID: cmd.DeviceID,
			Message:  fmt.Sprintf("Device %s registered for case %s", cmd.DeviceID, cmd.CaseID),
		})
	}
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <interval_seconds>\n", os.Args[0])
		os.Exit(1)
	}

	intervalSec, err := strconv.Atoi(os.Args[1])
	if err != nil || intervalSec <= 0 {
		fmt.Fprintf(os.Stderr, "error: interval must be a positive integer\n")
		os.Exit(1)
	}

	addr := ":18021"
	if v := os.Getenv("FEED_ADDR"); v != "" {
		addr = v
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/tracking/{client_id}", serveTracking(time.Duration(intervalSec)*time.Second, logger))

	logger.Info("mock tracking feed listening", "addr", addr, "interval_s", intervalSec, "devices", devicePool)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server", "error", err)
		os.Exit(1)
	}
}
