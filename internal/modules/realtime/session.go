// README: Session: one websocket peer with a bounded outbound queue, plus its read/write pumps.
package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"quickassist/internal/types"
)

type Session struct {
	ID     string
	UserID types.ID
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func NewSession(uid types.ID, buffer int) *Session {
	if buffer <= 0 {
		buffer = 1
	}
	return &Session{
		ID:     uuid.NewString(),
		UserID: uid,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

func (s *Session) enqueue(msg []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops the session. The send channel is never closed, so a concurrent
// enqueue cannot panic.
func (s *Session) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Session) Done() <-chan struct{} { return s.done }

// Outbound exposes queued frames, mainly for tests and non-websocket consumers.
func (s *Session) Outbound() <-chan []byte { return s.send }

type PumpOptions struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
}

func (o PumpOptions) withDefaults() PumpOptions {
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 8 << 10
	}
	return o
}

// Serve pumps frames between conn and s until either side goes away. Inbound
// text frames are passed to handle on the reading goroutine, one at a time.
func Serve(conn *websocket.Conn, s *Session, opts PumpOptions, log logrus.FieldLogger, handle func([]byte)) {
	opts = opts.withDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	logger := log.WithFields(logrus.Fields{"session_id": s.ID, "user_id": s.UserID})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writePump(conn, s, opts, logger)
	}()

	conn.SetReadLimit(opts.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Info("websocket closed unexpectedly")
			}
			break
		}
		if kind != websocket.TextMessage {
			continue
		}
		handle(data)
	}
	s.Close()
	<-writerDone
}

func writePump(conn *websocket.Conn, s *Session, opts PumpOptions, log logrus.FieldLogger) {
	ticker := time.NewTicker(opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.WithError(err).Debug("websocket write failed")
				s.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			_ = conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
