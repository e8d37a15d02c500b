package transcription

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeStream struct {
	mu     sync.Mutex
	audio  [][]byte
	turns  chan Turn
	closed chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{turns: make(chan Turn, 4), closed: make(chan struct{})}
}

func (f *fakeStream) ID() string { return "upstream-1" }

func (f *fakeStream) Send(audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, audio)
	return nil
}

func (f *fakeStream) Recv() (Turn, error) {
	select {
	case t := <-f.turns:
		return t, nil
	case <-f.closed:
		return Turn{}, io.EOF
	}
}

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) chunks() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.audio...)
}

type fakeDialer struct {
	stream *fakeStream
	err    error
}

func (d *fakeDialer) Dial(context.Context) (Stream, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

func connect(t *testing.T, b *Bridge) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func expect(t *testing.T, conn *websocket.Conn, typ string) serverMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg serverMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("waiting for %s: %v", typ, err)
	}
	if msg.Type != typ {
		t.Fatalf("got %+v, want type %s", msg, typ)
	}
	return msg
}

func TestBridgeSession(t *testing.T) {
	stream := newFakeStream()
	b := NewBridge(&fakeDialer{stream: stream}, nil, nil, nil)
	conn := connect(t, b)

	conn.WriteJSON(map[string]string{"type": TypeStart})
	connected := expect(t, conn, TypeConnected)
	if connected.SessionID == "" {
		t.Error("connected without session id")
	}
	expect(t, conn, TypeStarted)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"audio","audio":[1,2,255]}`))
	conn.WriteMessage(websocket.BinaryMessage, []byte{9, 9})

	stream.turns <- Turn{Text: "my name is", Confidence: 0.2}
	partial := expect(t, conn, TypeTranscript)
	if partial.Final || partial.Extraction != nil {
		t.Errorf("partial turn carried an extraction: %+v", partial)
	}

	stream.turns <- Turn{Text: "My name is Jane Doe, I am 32 years old and I have a headache", Confidence: 0.9, Final: true}
	final := expect(t, conn, TypeTranscript)
	if final.Extraction == nil || final.Extraction.Name != "Jane Doe" || final.Extraction.Age != "32" {
		t.Errorf("extraction = %+v", final.Extraction)
	}
	if final.Department == nil || final.Department.Department != "Neurology" {
		t.Errorf("department = %+v", final.Department)
	}
	if final.Confidence == nil || *final.Confidence != 0.9 {
		t.Errorf("confidence = %v", final.Confidence)
	}

	chunks := stream.chunks()
	if len(chunks) != 2 || string(chunks[0]) != string([]byte{1, 2, 255}) || len(chunks[1]) != 2 {
		t.Errorf("forwarded audio = %v", chunks)
	}

	conn.WriteJSON(map[string]string{"type": TypeStop})
	closed := expect(t, conn, TypeClosed)
	if closed.Code != websocket.CloseNormalClosure {
		t.Errorf("close code = %d", closed.Code)
	}
	expect(t, conn, TypeStopped)
}

func TestBridgeAudioBeforeStart(t *testing.T) {
	b := NewBridge(&fakeDialer{stream: newFakeStream()}, nil, nil, nil)
	conn := connect(t, b)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"audio","audio":[1]}`))
	msg := expect(t, conn, TypeError)
	if msg.Error != "transcription not started" {
		t.Errorf("error = %q", msg.Error)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
	expect(t, conn, TypeError)
}

func TestBridgeDialFailure(t *testing.T) {
	b := NewBridge(&fakeDialer{err: errors.New("refused")}, nil, nil, nil)
	conn := connect(t, b)

	conn.WriteJSON(map[string]string{"type": TypeStart})
	msg := expect(t, conn, TypeError)
	if strings.Contains(msg.Error, "refused") {
		t.Errorf("cause leaked: %q", msg.Error)
	}
}

func TestBridgeTearsDownOnDisconnect(t *testing.T) {
	stream := newFakeStream()
	b := NewBridge(&fakeDialer{stream: stream}, nil, nil, nil)
	conn := connect(t, b)

	conn.WriteJSON(map[string]string{"type": TypeStart})
	expect(t, conn, TypeConnected)
	expect(t, conn, TypeStarted)
	if n := b.ActiveSessions(); n != 1 {
		t.Fatalf("active sessions = %d", n)
	}

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for b.ActiveSessions() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := b.ActiveSessions(); n != 0 {
		t.Errorf("active sessions after disconnect = %d", n)
	}
	select {
	case <-stream.closed:
	default:
		t.Error("upstream stream left open")
	}
}

func TestBridgeRejectsPlainHTTP(t *testing.T) {
	b := NewBridge(&fakeDialer{}, nil, nil, nil)
	rec := httptest.NewRecorder()
	b.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/transcription/stream", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestDecodeAudio(t *testing.T) {
	got, err := decodeAudio([]byte(`"AQL/"`))
	if err != nil || string(got) != string([]byte{1, 2, 255}) {
		t.Errorf("base64 = %v, %v", got, err)
	}
	if _, err := decodeAudio([]byte(`[256]`)); err == nil {
		t.Error("expected out of range error")
	}
	if _, err := decodeAudio(nil); err == nil {
		t.Error("expected empty error")
	}
}
