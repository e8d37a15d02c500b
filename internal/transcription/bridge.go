package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/medicare-plus/frontdesk/internal/apperr"
	"github.com/medicare-plus/frontdesk/internal/intake"
	"github.com/medicare-plus/frontdesk/internal/observability/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	stopWait       = 5 * time.Second
	maxMessageSize = 1 << 20
)

// Bridge upgrades browser connections and runs one transcription session per
// socket
type Bridge struct {
	dialer   Dialer
	matcher  *intake.Matcher
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewBridge creates a bridge. With no origins every origin is accepted.
func NewBridge(dialer Dialer, matcher *intake.Matcher, m *metrics.Metrics, logger *zap.Logger, origins ...string) *Bridge {
	if matcher == nil {
		matcher = intake.DefaultMatcher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &Bridge{
		dialer:  dialer,
		matcher: matcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return len(allowed) == 0 || allowed[r.Header.Get("Origin")]
			},
		},
		metrics:  m,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// ServeHTTP handles GET /transcription/stream
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "expected websocket connection"})
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s := &session{
		id:     uuid.New().String(),
		bridge: b,
		conn:   conn,
		out:    make(chan serverMessage, 16),
		done:   make(chan struct{}),
	}
	b.add(s)
	b.logger.Info("transcription session opened", zap.String("session_id", s.id))

	go s.writePump()
	s.readPump(context.WithoutCancel(r.Context()))
	s.stop()
	s.shutdown()

	b.remove(s)
	b.logger.Info("transcription session closed", zap.String("session_id", s.id))
}

// ActiveSessions returns the number of open sockets
func (b *Bridge) ActiveSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Close ends every session
func (b *Bridge) Close() {
	b.mu.Lock()
	open := make([]*session, 0, len(b.sessions))
	for _, s := range b.sessions {
		open = append(open, s)
	}
	b.mu.Unlock()
	for _, s := range open {
		s.shutdown()
	}
}

func (b *Bridge) add(s *session) {
	b.mu.Lock()
	b.sessions[s.id] = s
	b.mu.Unlock()
	b.metrics.SessionOpened()
}

func (b *Bridge) remove(s *session) {
	b.mu.Lock()
	delete(b.sessions, s.id)
	b.mu.Unlock()
	b.metrics.SessionClosed()
}

func (b *Bridge) transcript(t Turn) serverMessage {
	confidence := t.Confidence
	msg := serverMessage{Type: TypeTranscript, Text: t.Text, Confidence: &confidence, Final: t.Final}
	if t.Final {
		extraction := intake.Extract(t.Text)
		match := b.matcher.Match(t.Text)
		msg.Extraction = &extraction
		msg.Department = &match
	}
	return msg
}

// session state other than the outbound queue is owned by the read loop
type session struct {
	id     string
	bridge *Bridge
	conn   *websocket.Conn
	out    chan serverMessage

	done      chan struct{}
	closeOnce sync.Once

	stream   Stream
	pumpDone chan struct{}
}

func (s *session) shutdown() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *session) emit(msg serverMessage) {
	select {
	case s.out <- msg:
	case <-s.done:
	}
}

func (s *session) emitError(message string) {
	s.emit(serverMessage{Type: TypeError, Error: message})
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.shutdown()
		s.conn.Close()
	}()
	for {
		select {
		case msg := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-s.done:
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (s *session) readPump(ctx context.Context) {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.bridge.logger.Debug("websocket read ended", zap.String("session_id", s.id), zap.Error(err))
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		if kind == websocket.BinaryMessage {
			s.audio(data)
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.emitError("invalid message")
			continue
		}
		switch msg.Type {
		case TypeStart:
			s.start(ctx)
		case TypeAudio:
			audio, err := decodeAudio(msg.Audio)
			if err != nil {
				s.emitError("invalid audio chunk")
				continue
			}
			s.audio(audio)
		case TypeStop:
			s.stop()
			s.emit(serverMessage{Type: TypeStopped})
		default:
			s.emitError("unknown message type " + msg.Type)
		}
	}
}

func (s *session) start(ctx context.Context) {
	if s.stream != nil {
		select {
		case <-s.pumpDone:
			s.stream.Close()
			s.stream = nil
		default:
			s.emitError("transcription already started")
			return
		}
	}

	stream, err := s.bridge.dialer.Dial(ctx)
	if err != nil {
		s.bridge.logger.Error("transcription dial failed", zap.String("session_id", s.id), zap.Error(err))
		s.emitError(apperr.PublicMessage(err))
		return
	}
	s.stream = stream
	s.pumpDone = make(chan struct{})

	s.emit(serverMessage{Type: TypeConnected, SessionID: s.id})
	s.emit(serverMessage{Type: TypeStarted})
	go s.upstreamPump(stream, s.pumpDone)
}

func (s *session) audio(chunk []byte) {
	if s.stream == nil {
		s.emitError("transcription not started")
		return
	}
	if err := s.stream.Send(chunk); err != nil {
		s.bridge.logger.Warn("audio forward failed", zap.String("session_id", s.id), zap.Error(err))
		s.emitError("failed to process audio chunk")
	}
}

// stop closes the upstream stream and waits for its final messages
func (s *session) stop() {
	if s.stream == nil {
		return
	}
	if err := s.stream.Close(); err != nil {
		s.bridge.logger.Warn("transcription close failed", zap.String("session_id", s.id), zap.Error(err))
	}
	select {
	case <-s.pumpDone:
	case <-time.After(stopWait):
	}
	s.stream = nil
}

func (s *session) upstreamPump(stream Stream, done chan struct{}) {
	defer close(done)
	for {
		turn, err := stream.Recv()
		if err != nil {
			var ce *websocket.CloseError
			switch {
			case errors.Is(err, io.EOF):
				s.emit(serverMessage{Type: TypeClosed, Code: websocket.CloseNormalClosure, Reason: "session ended"})
			case errors.As(err, &ce):
				s.emit(serverMessage{Type: TypeClosed, Code: ce.Code, Reason: ce.Text})
			default:
				s.bridge.logger.Error("transcription stream failed", zap.String("session_id", s.id), zap.Error(err))
				s.emitError("transcription stream failed")
				s.emit(serverMessage{Type: TypeClosed, Code: websocket.CloseInternalServerErr, Reason: "stream failed"})
			}
			return
		}
		s.emit(s.bridge.transcript(turn))
	}
}
