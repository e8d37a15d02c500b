// Package transcription bridges browser microphones to a streaming
// speech-to-text service and annotates final transcripts with the intake
// extraction and department suggestion.
package transcription

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/medicare-plus/frontdesk/internal/intake"
)

// Client message types
const (
	TypeStart = "start"
	TypeAudio = "audio"
	TypeStop  = "stop"
)

// Server message types
const (
	TypeConnected  = "connected"
	TypeStarted    = "started"
	TypeTranscript = "transcript"
	TypeStopped    = "stopped"
	TypeError      = "error"
	TypeClosed     = "closed"
)

// Turn is one transcript update from the speech service
type Turn struct {
	Text       string
	Confidence float64
	Final      bool
}

// Stream is an open speech-to-text session. Recv returns io.EOF once the
// session ended normally.
type Stream interface {
	ID() string
	Send(audio []byte) error
	Recv() (Turn, error)
	Close() error
}

// Dialer opens speech-to-text sessions
type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}

type clientMessage struct {
	Type  string          `json:"type"`
	Audio json.RawMessage `json:"audio,omitempty"`
}

// decodeAudio accepts the browser's array of byte values or a base64 string
func decodeAudio(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errors.New("audio is empty")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return base64.StdEncoding.DecodeString(s)
	}
	var ints []int
	if err := json.Unmarshal(raw, &ints); err != nil {
		return nil, err
	}
	values := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, errors.New("audio value out of range")
		}
		values[i] = byte(v)
	}
	return values, nil
}

type serverMessage struct {
	Type       string             `json:"type"`
	SessionID  string             `json:"sessionId,omitempty"`
	Text       string             `json:"text,omitempty"`
	Confidence *float64           `json:"confidence,omitempty"`
	Final      bool               `json:"final,omitempty"`
	Extraction *intake.Extraction `json:"extraction,omitempty"`
	Department *intake.Match      `json:"department,omitempty"`
	Error      string             `json:"error,omitempty"`
	Code       int                `json:"code,omitempty"`
	Reason     string             `json:"reason,omitempty"`
}
