// Package server exposes the request pipeline over WebSocket.
//
// Clients send JSON messages on /ws:
//
//	{"type": "document", "data": "<base64 file content>"}  -> record
//	{"type": "text", "content": "<raw OCR text>"}          -> record
//	{"type": "respond", "data": {"origen": ..., "mensaje": ...}} -> answer
//
// Every message may carry an "id" that is echoed on the replies; one is
// generated when absent. Failures are reported as {"type": "error"}.
package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xhad/normativa/internal/models"
	"github.com/xhad/normativa/pkg/faults"
	"github.com/xhad/normativa/pkg/pipeline"
)

const (
	TypeDocument = "document"
	TypeText     = "text"
	TypeRespond  = "respond"

	TypeStatus = "status"
	TypeRecord = "record"
	TypeAnswer = "answer"
	TypeError  = "error"
)

// maxMessageSize bounds a single inbound message, base64 uploads included.
const maxMessageSize = 32 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

type Message struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// inbound is a Message whose data is decoded according to its type.
type inbound struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Content string          `json:"content"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Pipeline is implemented by *pipeline.App.
type Pipeline interface {
	ProcessDocument(ctx context.Context, document any) (models.RequestRecord, error)
	BuildRequest(ctx context.Context, raw string) (models.RequestRecord, error)
	Respond(ctx context.Context, record models.RequestRecord) (models.Answer, error)
}

type Config struct {
	Port int
	// RequestTimeout bounds the handling of one message; zero means no
	// limit beyond the connection's lifetime.
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

type WSServer struct {
	config Config
	app    Pipeline
}

func NewWSServer(app Pipeline, config Config) *WSServer {
	if config.Port == 0 {
		config.Port = 8080
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &WSServer{config: config, app: app}
}

// Handler serves /ws and /health.
func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	// Add a simple health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// ListenAndServe blocks until ctx is cancelled or the listener fails.
func (s *WSServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.config.Logger.Info("starting WebSocket server", "port", s.config.Port)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	}
}

// conn serializes writes; gorilla connections allow one concurrent writer.
type conn struct {
	ws  *websocket.Conn
	mu  sync.Mutex
	log *slog.Logger
}

func (c *conn) send(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(msg); err != nil {
		c.log.Warn("error sending message", "type", msg.Type, "error", err)
	}
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.config.Logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(maxMessageSize)

	c := &conn{ws: ws, log: s.config.Logger.With("remote", r.RemoteAddr)}
	// Hijacked connections outlive Shutdown, so the server context closes
	// them here.
	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	var wg sync.WaitGroup
	defer func() {
		stop()
		cancel()
		wg.Wait()
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("connection closed", "error", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(Message{Type: TypeError, Content: "malformed message: " + err.Error()})
			continue
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleMessage(ctx, c, msg)
		}()
	}
}

func (s *WSServer) handleMessage(ctx context.Context, c *conn, msg inbound) {
	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}
	log := c.log.With("id", msg.ID, "type", msg.Type)

	reply, err := s.dispatch(ctx, c, msg)
	if err != nil {
		if pipeline.IsUserError(err) {
			log.Warn("request rejected", "error", err)
		} else {
			log.Error("request failed", "error", err)
		}
		c.send(Message{ID: msg.ID, Type: TypeError, Content: err.Error()})
		return
	}
	reply.ID = msg.ID
	c.send(reply)
}

func (s *WSServer) dispatch(ctx context.Context, c *conn, msg inbound) (Message, error) {
	switch msg.Type {
	case TypeDocument:
		content, err := decodeUpload(msg.Data)
		if err != nil {
			return Message{}, err
		}
		c.send(Message{ID: msg.ID, Type: TypeStatus, Content: fmt.Sprintf("Processing document (%d bytes)", len(content))})
		record, err := s.app.ProcessDocument(ctx, content)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: TypeRecord, Data: record}, nil

	case TypeText:
		record, err := s.app.BuildRequest(ctx, msg.Content)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: TypeRecord, Data: record}, nil

	case TypeRespond:
		record, err := pipeline.LoadRecord(bytes.NewReader(msg.Data))
		if err != nil {
			return Message{}, &faults.ValidationError{Field: "data", Message: err.Error()}
		}
		c.send(Message{ID: msg.ID, Type: TypeStatus, Content: "Generating answer"})
		answer, err := s.app.Respond(ctx, record)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: TypeAnswer, Content: answer.Text, Data: map[string]any{"sources": answer.Sources}}, nil
	}

	return Message{}, &faults.ValidationError{Field: "type", Message: fmt.Sprintf("unknown message type %q", msg.Type)}
}

func decodeUpload(raw json.RawMessage) ([]byte, error) {
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil || encoded == "" {
		return nil, &faults.ValidationError{Field: "data", Message: "document data must be a non-empty base64 string"}
	}
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &faults.ValidationError{Field: "data", Message: "invalid base64: " + err.Error()}
	}
	return content, nil
}
