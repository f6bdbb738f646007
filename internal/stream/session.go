// Package stream adapts a websocket connection onto the dispatcher.
//
// Each session runs one reader and one writer goroutine. Inference requests
// are computed concurrently but their replies are queued in read order, so
// responses leave the connection in the order requests arrived. Heartbeats,
// update acks and envelope errors travel on a separate control queue that
// the writer drains while it waits for the next ordered reply, which keeps
// them from queuing behind a slow inference.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"ml-server/internal/dispatch"
	"ml-server/internal/metrics"
	"ml-server/internal/models"
	"ml-server/internal/shared"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Dispatcher is the business logic both transports share
type Dispatcher interface {
	Dispatch(tag string, payload json.RawMessage) (*dispatch.Result, error)
	Update(ctx context.Context, tag string, params json.RawMessage) (*models.ModelUpdateAck, error)
}

type Config struct {
	// MaxInflight bounds the inference requests computed at once on this
	// connection. The reader stops reading while the limit is reached.
	MaxInflight int
	ReadLimit   int64
	// Admin allows model_update messages on this connection
	Admin bool
}

func (c Config) withDefaults() Config {
	if c.MaxInflight <= 0 {
		c.MaxInflight = shared.StreamMaxInflight
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = shared.StreamReadLimit
	}
	return c
}

type Session struct {
	ID   string
	conn *websocket.Conn
	d    Dispatcher
	log  *zap.SugaredLogger
	cfg  Config

	control chan models.StreamMessage
	pending chan chan models.StreamMessage

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewSession(id string, conn *websocket.Conn, d Dispatcher, log *zap.SugaredLogger, cfg Config) *Session {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:      id,
		conn:    conn,
		d:       d,
		log:     log.With("connection_id", id),
		cfg:     cfg,
		control: make(chan models.StreamMessage, shared.StreamControlBuffer),
		// the writer holds one reply while it waits on it
		pending: make(chan chan models.StreamMessage, cfg.MaxInflight-1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Close stops the session. In flight computations finish and their results
// are dropped.
func (s *Session) Close() {
	s.cancel()
}

// Run blocks until the peer disconnects, the framing breaks, parent is
// canceled or Close is called.
func (s *Session) Run(parent context.Context) error {
	stop := context.AfterFunc(parent, s.cancel)
	defer stop()
	defer s.cancel()

	s.conn.SetReadLimit(s.cfg.ReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(shared.StreamPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(shared.StreamPongWait))
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	err := s.readLoop()
	s.cancel()
	<-writerDone
	s.closeConn()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
		errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Session) closeConn() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}

func (s *Session) readLoop() error {
	for {
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				return s.ctx.Err()
			}
			return err
		}
		s.handle(data)
	}
}

func (s *Session) handle(data []byte) {
	var msg models.StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warnw("Failed decoding stream message", "error", err)
		s.sendControl(errorMessage("invalid_message", "malformed message: "+err.Error(), ""))
		return
	}
	label := string(msg.MessageType)
	if !msg.MessageType.Known() {
		label = "unknown"
	}
	metrics.StreamMessages.WithLabelValues("in", label).Inc()

	switch msg.MessageType {
	case models.MessageInferenceRequest:
		reply := make(chan models.StreamMessage, 1)
		select {
		case s.pending <- reply:
		case <-s.ctx.Done():
			return
		}
		go func() {
			reply <- s.infer(msg.Payload)
		}()
	case models.MessageHeartbeat:
		s.sendControl(encode(models.MessageHeartbeat, models.Heartbeat{Timestamp: time.Now().UTC()}))
	case models.MessageModelUpdate:
		s.update(msg.Payload)
	default:
		if !msg.MessageType.Known() {
			s.log.Warnw("Unknown stream message type", "message_type", msg.MessageType)
			s.sendControl(errorMessage("invalid_message", "unknown message type: "+string(msg.MessageType), ""))
			return
		}
		s.log.Debugw("Ignoring stream message", "message_type", msg.MessageType)
	}
}

// infer always yields exactly one inference_response or error message
func (s *Session) infer(payload json.RawMessage) models.StreamMessage {
	var req models.InferenceRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.log.Warnw("Failed decoding inference request", "error", err)
		return errorMessage("invalid_input", "malformed inference request: "+err.Error(), "")
	}

	res, err := s.d.Dispatch(req.ModelType, req.Data)
	if err != nil {
		return s.dispatchError(err, req.ModelType)
	}
	return encode(models.MessageInferenceResponse, res.Response())
}

func (s *Session) update(payload json.RawMessage) {
	if !s.cfg.Admin {
		s.log.Debugw("Ignoring model update on non admin connection")
		return
	}
	var req models.ModelUpdateRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendControl(errorMessage("invalid_input", "malformed model update: "+err.Error(), ""))
		return
	}
	ack, err := s.d.Update(s.ctx, req.ModelType, req.Params)
	if err != nil {
		s.sendControl(s.dispatchError(err, req.ModelType))
		return
	}
	s.sendControl(encode(models.MessageModelUpdate, ack))
}

func (s *Session) dispatchError(err error, tag string) models.StreamMessage {
	if shared.StatusCode(err) >= 500 {
		s.log.Errorw("Stream dispatch failed", "model_type", tag, "error", err)
	} else {
		s.log.Warnw("Stream dispatch rejected", "model_type", tag, "error", err)
	}
	var kind models.ModelKind
	if k, ok := models.ParseModelKind(tag); ok {
		kind = k
	}
	return errorMessage(shared.ErrorCode(err), shared.PublicMessage(err), kind)
}

func (s *Session) sendControl(m models.StreamMessage) {
	select {
	case s.control <- m:
	case <-s.ctx.Done():
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(shared.StreamPingPeriod)
	defer ticker.Stop()
	defer s.farewell()

	for {
		select {
		case <-s.ctx.Done():
			return
		case m := <-s.control:
			if !s.write(m) {
				return
			}
		case <-ticker.C:
			if !s.ping() {
				return
			}
		case reply := <-s.pending:
			if !s.await(reply, ticker) {
				return
			}
		}
	}
}

// await blocks on the next ordered reply while still serving control
// messages and keepalive pings.
func (s *Session) await(reply <-chan models.StreamMessage, ticker *time.Ticker) bool {
	for {
		select {
		case <-s.ctx.Done():
			return false
		case m := <-reply:
			return s.write(m)
		case m := <-s.control:
			if !s.write(m) {
				return false
			}
		case <-ticker.C:
			if !s.ping() {
				return false
			}
		}
	}
}

func (s *Session) write(m models.StreamMessage) bool {
	data, err := json.Marshal(m)
	if err != nil {
		s.log.Errorw("Failed encoding stream message", "message_type", m.MessageType, "error", err)
		return true
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(shared.StreamWriteWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log.Warnw("Failed writing stream message", "error", err)
		s.cancel()
		return false
	}
	metrics.StreamMessages.WithLabelValues("out", string(m.MessageType)).Inc()
	return true
}

func (s *Session) ping() bool {
	if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(shared.StreamWriteWait)); err != nil {
		s.log.Warnw("Failed writing ping", "error", err)
		s.cancel()
		return false
	}
	return true
}

// farewell sends a close frame and closes the socket, which unblocks the
// reader.
func (s *Session) farewell() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(shared.StreamWriteWait))
	s.closeConn()
}

func encode(t models.MessageType, payload any) models.StreamMessage {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw, _ = json.Marshal(models.ErrorPayload{Code: "internal", Message: shared.ErrInternalServerError.Message()})
		t = models.MessageError
	}
	return models.StreamMessage{MessageType: t, Payload: raw}
}

func errorMessage(code, message string, kind models.ModelKind) models.StreamMessage {
	return encode(models.MessageError, models.ErrorPayload{Code: code, Message: message, ModelType: kind})
}
