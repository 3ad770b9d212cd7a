package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/talenthub/internal/auth"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	clientEventJoin  = "join"
	clientEventLeave = "leave"

	errorCodeUnauthorized     = "realtime.unauthorized"
	errorCodeMalformed        = "realtime.malformed_event"
	errorCodeUnknownEvent     = "realtime.unknown_event"
	errorCodeMissingRecipient = "realtime.missing_recipient"
	errorCodeForeignRecipient = "realtime.forbidden_recipient"

	defaultSendBuffer   = 32
	defaultPingInterval = 25 * time.Second
	defaultWriteTimeout = 10 * time.Second
	maxInboundFrame     = 4096
)

var (
	errConnectionClosed = errors.New("realtime: connection closed")
	errSendQueueFull    = errors.New("realtime: send queue full")
)

// SessionValidator authenticates the upgrade request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// HandlerConfig describes the dependencies of Handler.
type HandlerConfig struct {
	Registry       *Registry
	Sessions       SessionValidator
	AllowedOrigins []string
	SendBuffer     int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	Logger         *zap.Logger
}

// Handler upgrades authenticated requests to websocket connections attached
// to the registry.
type Handler struct {
	registry     *Registry
	sessions     SessionValidator
	upgrader     websocket.Upgrader
	sendBuffer   int
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *zap.Logger
}

// NewHandler validates dependencies and applies defaults.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("realtime: registry required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("realtime: session validator required")
	}
	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins[trimmed] = struct{}{}
		}
	}
	return &Handler{
		registry: cfg.Registry,
		sessions: cfg.Sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
		sendBuffer:   sendBuffer,
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		logger:       logger,
	}, nil
}

func originChecker(allowed map[string]struct{}) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		if _, ok := allowed["*"]; ok {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// ServeHTTP runs the connection until the client disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := h.sessions.ValidateRequest(r)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": errorCodeUnauthorized})
		return
	}
	subjectID := claims.Principal().UserID

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	connection := &client{
		id:    uuid.NewString(),
		queue: make(chan Event, h.sendBuffer),
		done:  make(chan struct{}),
	}
	h.logger.Debug("realtime connection opened",
		zap.String("connection_id", connection.id),
		zap.String("subject_id", subjectID))

	var writers sync.WaitGroup
	writers.Add(1)
	go func() {
		defer writers.Done()
		h.writeLoop(socket, connection)
	}()

	h.readLoop(socket, connection, subjectID)

	h.registry.Leave(connection)
	connection.close()
	writers.Wait()
	_ = socket.Close()
	h.logger.Debug("realtime connection closed", zap.String("connection_id", connection.id))
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinRequest struct {
	RecipientID string `json:"recipient_id"`
}

func (h *Handler) readLoop(socket *websocket.Conn, connection *client, subjectID string) {
	socket.SetReadLimit(maxInboundFrame)
	pongWait := 2 * h.pingInterval
	_ = socket.SetReadDeadline(time.Now().Add(pongWait))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := socket.ReadMessage()
		if err != nil {
			return
		}
		_ = socket.SetReadDeadline(time.Now().Add(pongWait))

		var frame inboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			_ = connection.Send(errorEvent(errorCodeMalformed))
			continue
		}
		switch frame.Event {
		case clientEventJoin:
			h.join(connection, subjectID, frame.Data)
		case clientEventLeave:
			h.registry.Leave(connection)
		default:
			_ = connection.Send(errorEvent(errorCodeUnknownEvent))
		}
	}
}

func (h *Handler) join(connection *client, subjectID string, data json.RawMessage) {
	var request joinRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &request); err != nil {
			_ = connection.Send(errorEvent(errorCodeMalformed))
			return
		}
	}
	recipientID := strings.TrimSpace(request.RecipientID)
	if recipientID == "" {
		_ = connection.Send(errorEvent(errorCodeMissingRecipient))
		return
	}
	if recipientID != subjectID {
		h.logger.Warn("realtime join rejected",
			zap.String("connection_id", connection.id),
			zap.String("subject_id", subjectID),
			zap.String("recipient_id", recipientID))
		_ = connection.Send(errorEvent(errorCodeForeignRecipient))
		return
	}
	if err := h.registry.Join(connection, recipientID); err != nil {
		_ = connection.Send(errorEvent(errorCodeMissingRecipient))
		return
	}
	_ = connection.Send(Event{Name: EventJoined, Data: joinRequest{RecipientID: recipientID}})
}

func (h *Handler) writeLoop(socket *websocket.Conn, connection *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-connection.done:
			_ = socket.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			_ = socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case event := <-connection.queue:
			_ = socket.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := socket.WriteJSON(event); err != nil {
				connection.close()
				_ = socket.Close()
				return
			}
		case <-ticker.C:
			if err := socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				connection.close()
				_ = socket.Close()
				return
			}
		}
	}
}

func errorEvent(code string) Event {
	return Event{Name: EventError, Data: map[string]string{"code": code}}
}

type client struct {
	id        string
	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) ID() string {
	return c.id
}

func (c *client) Send(event Event) error {
	select {
	case <-c.done:
		return errConnectionClosed
	default:
	}
	select {
	case c.queue <- event:
		return nil
	default:
		return errSendQueueFull
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
