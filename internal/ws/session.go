package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chat-realtime/internal/models"
)

// Close codes sent to clients.
const (
	CloseNormal          = websocket.CloseNormalClosure
	CloseInternalError   = 4000
	CloseUnauthenticated = 4001
	CloseForbidden       = 4003
)

// Transport is the subset of *websocket.Conn a session drives.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Options tunes keep-alive, buffering and inbound flood control.
type Options struct {
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageBytes int64
	SendBuffer      int
	RatePerSec      float64
	RateBurst       int
}

func (o Options) withDefaults() Options {
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 << 10
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = 10
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 20
	}
	return o
}

// Session owns one websocket. Reads happen on the caller's goroutine,
// writes on a dedicated write pump fed by a bounded queue.
type Session struct {
	conn    Transport
	opts    Options
	log     *zap.Logger
	limiter *rate.Limiter

	send      chan []byte
	done      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	closeCode int
	closeText string
}

func newSession(conn Transport, opts Options, log *zap.Logger) *Session {
	return &Session{
		conn:    conn,
		opts:    opts,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RateBurst),
		send:    make(chan []byte, opts.SendBuffer),
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

// Deliver enqueues a frame without blocking. Frames are dropped when the
// queue is full or the session is closing.
func (s *Session) Deliver(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// SendJSON encodes and enqueues a local frame.
func (s *Session) SendJSON(event models.Envelope) {
	frame, err := json.Marshal(event)
	if err != nil {
		s.log.Error("encode local frame", zap.String("type", event.Type), zap.Error(err))
		return
	}
	s.Deliver(frame)
}

func (s *Session) sendError(msg string) {
	s.SendJSON(models.ErrorEnvelope(msg))
}

// Close starts an orderly shutdown with code. Only the first call counts.
func (s *Session) Close(code int, text string) {
	s.closeOnce.Do(func() {
		s.closeCode = code
		s.closeText = text
		close(s.done)
	})
}

func (s *Session) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Closed is closed once the write pump has released the connection.
func (s *Session) Closed() <-chan struct{} {
	return s.closed
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		close(s.closed)
	}()

	for {
		select {
		case frame := <-s.send:
			if err := s.write(websocket.TextMessage, frame); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-s.done:
			s.flush()
			return
		}
	}
}

// flush drains queued frames and then writes the close frame.
func (s *Session) flush() {
	for {
		select {
		case frame := <-s.send:
			if err := s.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			if s.closeCode == websocket.CloseAbnormalClosure {
				return
			}
			msg := websocket.FormatCloseMessage(s.closeCode, s.closeText)
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.opts.WriteWait))
			return
		}
	}
}

func (s *Session) write(messageType int, data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
	return s.conn.WriteMessage(messageType, data)
}

// readPump blocks until the connection fails or is closed. handle runs
// for every accepted frame in arrival order; onPong runs on keep-alive.
func (s *Session) readPump(handle func(frame []byte), onPong func()) error {
	s.conn.SetReadLimit(s.opts.MaxMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	s.conn.SetPongHandler(func(string) error {
		if onPong != nil {
			onPong()
		}
		return s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		if s.closing() {
			continue
		}
		if !s.limiter.Allow() {
			s.sendError("Rate limit exceeded")
			continue
		}
		handle(frame)
	}
}

// closeWith rejects a connection before a session exists.
func closeWith(conn Transport, code int, text string, wait time.Duration) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wait))
	_ = conn.Close()
}
