// Package testhelpers provides common utilities and helper functions for
// testing the chat server.
//
// It contains reusable test utilities shared across package tests: HTTP
// request and response assertions, a WebSocket client that speaks the
// event protocol, and a recording sink for driving the engine without a
// network.
package testhelpers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// Frame is an event as read off the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Data, v)
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, expected) {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// WebSocketURL turns an httptest server URL into its /ws endpoint.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// ConnectWebSocket creates a WebSocket connection to the specified URL
// using TestOrigin.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	return ConnectWebSocketWithOrigin(url, TestOrigin)
}

// ConnectWebSocketWithOrigin is ConnectWebSocket with an explicit Origin
// header. An empty origin sends none.
func ConnectWebSocketWithOrigin(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// Emit sends an event frame. A nil data omits the payload.
func Emit(conn *websocket.Conn, event string, data any) error {
	frame := map[string]any{"event": event}
	if data != nil {
		frame["data"] = data
	}
	return conn.WriteJSON(frame)
}

// ReadFrame reads one event frame, waiting at most timeout.
func ReadFrame(conn *websocket.Conn, timeout time.Duration) (Frame, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Frame{}, err
	}
	var f Frame
	err := conn.ReadJSON(&f)
	return f, err
}

// WaitForEvent reads frames until one named event arrives, failing the test
// after timeout. Frames with other names are discarded.
func WaitForEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) Frame {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("timed out waiting for %q", event)
		}
		f, err := ReadFrame(conn, remaining)
		if err != nil {
			t.Fatalf("waiting for %q: %v", event, err)
		}
		if f.Event == event {
			return f
		}
	}
}

// ExpectNoEvent fails the test if event arrives within timeout. Other
// frames are discarded.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		f, err := ReadFrame(conn, remaining)
		if err != nil {
			return
		}
		if f.Event == event {
			t.Fatalf("unexpected %q event: %s", event, f.Data)
		}
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// RecordingSink is an in-memory connection sink. It records every payload
// it accepts and can be told to refuse sends to simulate a full buffer.
type RecordingSink struct {
	mu     sync.Mutex
	frames []Frame
	refuse bool
	closed bool
}

// NewRecordingSink returns an accepting sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

// Send records payload unless the sink refuses or is closed.
func (s *RecordingSink) Send(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuse || s.closed {
		return false
	}
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		panic(fmt.Sprintf("sink received invalid JSON: %v", err))
	}
	s.frames = append(s.frames, f)
	return true
}

// Close marks the sink closed.
func (s *RecordingSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Refuse makes subsequent sends fail.
func (s *RecordingSink) Refuse() {
	s.mu.Lock()
	s.refuse = true
	s.mu.Unlock()
}

// Closed reports whether Close was called.
func (s *RecordingSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Frames returns a copy of every recorded frame.
func (s *RecordingSink) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

// Events returns the names of the recorded frames in order.
func (s *RecordingSink) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.frames))
	for i, f := range s.frames {
		names[i] = f.Event
	}
	return names
}

// Named returns the recorded frames with the given event name.
func (s *RecordingSink) Named(event string) []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Frame
	for _, f := range s.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// Last returns the most recent frame with the given name.
func (s *RecordingSink) Last(event string) (Frame, error) {
	frames := s.Named(event)
	if len(frames) == 0 {
		return Frame{}, errors.New("no " + event + " frame recorded")
	}
	return frames[len(frames)-1], nil
}

// Reset forgets the recorded frames.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	s.frames = nil
	s.mu.Unlock()
}
