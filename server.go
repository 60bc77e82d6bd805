package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

// Dashboard → agent messages
type ClientMessage struct {
	Type  string `json:"type"`
	Limit int    `json:"limit,omitempty"`
}

// Agent → dashboard messages
type ServerMessage struct {
	Type      string           `json:"type"`
	Snapshot  *MemorySnapshot  `json:"snapshot,omitempty"`
	Resources *ResourceSummary `json:"resources,omitempty"`
	Alert     *Alert           `json:"alert,omitempty"`
	Alerts    []Alert          `json:"alerts,omitempty"`
	Hostname  string           `json:"hostname,omitempty"`
	OS        string           `json:"os,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// wsClient serializes writes to one connection: the per-connection handler
// and the tick-driven broadcast path both write to the same socket, and
// gorilla/websocket allows only one concurrent writer.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

type Server struct {
	config   *Config
	monitor  *Monitor
	registry *HandleRegistry
	history  *HistoryStore
	alertLog *AlertLogWriter
	upgrader websocket.Upgrader

	mu          sync.Mutex
	subscribers map[*wsClient]bool
}

func newServer(config *Config, monitor *Monitor, registry *HandleRegistry, history *HistoryStore, alertLog *AlertLogWriter) *Server {
	s := &Server{
		config:      config,
		monitor:     monitor,
		registry:    registry,
		history:     history,
		alertLog:    alertLog,
		subscribers: make(map[*wsClient]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	monitor.setCallbacks(func(snap MemorySnapshot, res ResourceSummary) {
		if s.history != nil {
			if err := s.history.Insert(snap, res); err != nil {
				log.Printf("history insert: %v", err)
			}
		}
		s.broadcastTelemetry(snap, res)
	}, func(a Alert) {
		s.broadcastAlert(a)
	})

	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/telemetry", s.handleTelemetry)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/alerts/log", s.handleAlertLog)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return mux
}

// handleTelemetry serves the detailed view: the full snapshot with raw byte
// counts, live handle counts and the retained alert ring.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if !checkAuth(r, s.config.Token) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	snap := s.monitor.LastSnapshot()
	res := s.monitor.ResourceCounts()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Snapshot  MemorySnapshot  `json:"snapshot"`
		Resources ResourceSummary `json:"resources"`
		Alerts    []Alert         `json:"alerts"`
	}{snap, res, s.monitor.RecentAlerts(0)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !checkAuth(r, s.config.Token) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	var snapshots []StoredSnapshot
	if s.history != nil {
		var err error
		snapshots, err = s.history.Recent(limit)
		if err != nil {
			log.Printf("history query: %v", err)
			http.Error(w, "history unavailable", http.StatusInternalServerError)
			return
		}
	}
	if snapshots == nil {
		snapshots = []StoredSnapshot{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshots)
}

// handleAlertLog serves the persisted alert tail so the dashboard can still
// show alerts fired before an agent restart.
func (s *Server) handleAlertLog(w http.ResponseWriter, r *http.Request) {
	if !checkAuth(r, s.config.Token) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.alertLog == nil {
		return
	}
	tail, err := s.alertLog.Tail()
	if err != nil {
		if os.IsNotExist(err) {
			return // nothing dumped yet
		}
		log.Printf("alert log read: %v", err)
		http.Error(w, "alert log unavailable", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, tail)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !checkAuth(r, s.config.Token) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	client := &wsClient{conn: conn}
	s.addSubscriber(client)
	defer s.removeSubscriber(client)

	// Each dashboard connection is itself a tracked subscription handle.
	release := s.registry.Register(HandleSubscription)
	defer release()

	// Send initial state
	snap := s.monitor.LastSnapshot()
	res := s.monitor.ResourceCounts()
	s.sendMessage(client, ServerMessage{Type: "telemetry", Snapshot: &snap, Resources: &res})
	s.sendMessage(client, ServerMessage{Type: "alerts", Alerts: s.monitor.RecentAlerts(0)})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(client, "invalid message")
			continue
		}

		switch msg.Type {
		case "get_telemetry":
			snap := s.monitor.LastSnapshot()
			res := s.monitor.ResourceCounts()
			s.sendMessage(client, ServerMessage{Type: "telemetry", Snapshot: &snap, Resources: &res})

		case "get_alerts":
			s.sendMessage(client, ServerMessage{Type: "alerts", Alerts: s.monitor.RecentAlerts(msg.Limit)})

		case "machine_info":
			hostname, _ := os.Hostname()
			s.sendMessage(client, ServerMessage{
				Type:     "machine_info",
				Hostname: hostname,
				OS:       runtime.GOOS + "/" + runtime.GOARCH,
			})

		default:
			s.sendError(client, "unknown message type: "+msg.Type)
		}
	}
}

func (s *Server) sendMessage(client *wsClient, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	client.write(data)
}

func (s *Server) sendError(client *wsClient, message string) {
	s.sendMessage(client, ServerMessage{Type: "error", Message: message})
}

func (s *Server) addSubscriber(client *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[client] = true
}

func (s *Server) removeSubscriber(client *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, client)
}

func (s *Server) broadcastTelemetry(snap MemorySnapshot, res ResourceSummary) {
	s.broadcast(ServerMessage{Type: "telemetry", Snapshot: &snap, Resources: &res})
}

func (s *Server) broadcastAlert(a Alert) {
	s.broadcast(ServerMessage{Type: "alert", Alert: &a})
}

func (s *Server) broadcast(msg ServerMessage) {
	s.mu.Lock()
	subs := make([]*wsClient, 0, len(s.subscribers))
	for client := range s.subscribers {
		subs = append(subs, client)
	}
	s.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for _, client := range subs {
		client.write(data)
	}
}
