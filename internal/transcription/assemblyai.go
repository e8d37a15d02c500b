package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/medicare-plus/frontdesk/internal/apperr"
)

// DefaultAssemblyAIURL is the v3 streaming endpoint
const DefaultAssemblyAIURL = "wss://streaming.assemblyai.com/v3/ws"

// AssemblyAIConfig configures the streaming client
type AssemblyAIConfig struct {
	APIKey      string
	URL         string
	SampleRate  int
	FormatTurns bool
	DialTimeout time.Duration
}

// DefaultAssemblyAIConfig returns 16 kHz formatted turns
func DefaultAssemblyAIConfig(apiKey string) AssemblyAIConfig {
	return AssemblyAIConfig{
		APIKey:      apiKey,
		URL:         DefaultAssemblyAIURL,
		SampleRate:  16000,
		FormatTurns: true,
		DialTimeout: 10 * time.Second,
	}
}

// AssemblyAI dials AssemblyAI streaming sessions
type AssemblyAI struct {
	cfg    AssemblyAIConfig
	dialer *websocket.Dialer
}

// NewAssemblyAI validates cfg
func NewAssemblyAI(cfg AssemblyAIConfig) (*AssemblyAI, error) {
	if cfg.APIKey == "" {
		return nil, apperr.Configuration("missing configuration: ASSEMBLYAI_API_KEY")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultAssemblyAIURL
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &AssemblyAI{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
	}, nil
}

type upstreamMessage struct {
	Type                string  `json:"type"`
	ID                  string  `json:"id"`
	Transcript          string  `json:"transcript"`
	EndOfTurn           bool    `json:"end_of_turn"`
	TurnIsFormatted     bool    `json:"turn_is_formatted"`
	EndOfTurnConfidence float64 `json:"end_of_turn_confidence"`
	Error               string  `json:"error"`
}

// Dial opens a session and waits for its Begin message
func (a *AssemblyAI) Dial(ctx context.Context) (Stream, error) {
	u, err := url.Parse(a.cfg.URL)
	if err != nil {
		return nil, apperr.Configuration("invalid transcription url: %v", err)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(a.cfg.SampleRate))
	q.Set("encoding", "pcm_s16le")
	q.Set("format_turns", strconv.FormatBool(a.cfg.FormatTurns))
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", a.cfg.APIKey)

	ctx, cancel := context.WithTimeout(ctx, a.cfg.DialTimeout)
	defer cancel()

	conn, _, err := a.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, apperr.Upstream("transcription service unavailable", err)
	}

	deadline, _ := ctx.Deadline()
	conn.SetReadDeadline(deadline)
	var begin upstreamMessage
	if err := conn.ReadJSON(&begin); err != nil {
		conn.Close()
		return nil, apperr.Upstream("transcription service unavailable", fmt.Errorf("read begin: %w", err))
	}
	if begin.Type != "Begin" {
		conn.Close()
		return nil, apperr.Upstream("transcription service unavailable", fmt.Errorf("unexpected first message %q", begin.Type))
	}
	conn.SetReadDeadline(time.Time{})

	return &assemblyStream{conn: conn, id: begin.ID, formatted: a.cfg.FormatTurns}, nil
}

type assemblyStream struct {
	conn      *websocket.Conn
	id        string
	formatted bool

	wmu    sync.Mutex
	closed atomic.Bool
}

func (s *assemblyStream) ID() string { return s.id }

func (s *assemblyStream) Send(audio []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed.Load() {
		return io.ErrClosedPipe
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, audio)
}

func (s *assemblyStream) Recv() (Turn, error) {
	for {
		var msg upstreamMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if s.closed.Load() {
				return Turn{}, io.EOF
			}
			return Turn{}, err
		}
		switch msg.Type {
		case "Turn":
			if msg.Transcript == "" {
				continue
			}
			return Turn{
				Text:       msg.Transcript,
				Confidence: msg.EndOfTurnConfidence,
				Final:      msg.EndOfTurn && (msg.TurnIsFormatted || !s.formatted),
			}, nil
		case "Termination":
			return Turn{}, io.EOF
		case "Error":
			return Turn{}, errors.New(msg.Error)
		}
	}
}

// Close asks the service to terminate the session and closes the socket
func (s *assemblyStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.wmu.Lock()
	s.conn.WriteJSON(map[string]string{"type": "Terminate"})
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.wmu.Unlock()
	return s.conn.Close()
}
