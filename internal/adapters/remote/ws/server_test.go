package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const waitTimeout = 5 * time.Second

var (
	t0900 = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	t0901 = time.Date(2026, 10, 1, 9, 1, 0, 0, time.UTC)
)

type inbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

type fakeServer struct {
	server *httptest.Server
	conns  chan *websocket.Conn
	reject atomic.Int32

	mu       sync.Mutex
	requests []inbound
	auth     []string
	errors   map[string]*RemoteError
	silent   map[string]bool
	seen     chan string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	s := &fakeServer{
		conns:  make(chan *websocket.Conn, 8),
		errors: map[string]*RemoteError{},
		silent: map[string]bool{},
		seen:   make(chan string, 64),
	}
	s.server = httptest.NewServer(s)
	t.Cleanup(s.server.Close)
	return s
}

func (s *fakeServer) config() Config {
	return Config{
		URL:                "ws" + strings.TrimPrefix(s.server.URL, "http") + "/chat",
		UploadURL:          s.server.URL + "/upload",
		HTTPClient:         s.server.Client(),
		ReconnectBaseDelay: 5 * time.Millisecond,
		ReconnectMaxDelay:  20 * time.Millisecond,
	}
}

func (s *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if code := s.reject.Load(); code != 0 {
		http.Error(w, "rejected", int(code))
		return
	}

	s.mu.Lock()
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	s.mu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	s.conns <- conn

	ctx := r.Context()
	for {
		var msg inbound
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}

		s.mu.Lock()
		s.requests = append(s.requests, msg)
		rerr := s.errors[msg.Type]
		silent := s.silent[msg.Type]
		s.mu.Unlock()
		select {
		case s.seen <- msg.Type:
		default:
		}

		if silent {
			continue
		}
		reply := map[string]any{"type": typeResponse, "id": msg.ID}
		if rerr != nil {
			reply["error"] = rerr
		} else if payload := replyPayload(msg.Type); payload != nil {
			reply["payload"] = payload
		}
		if err := wsjson.Write(ctx, conn, reply); err != nil {
			return
		}
	}
}

func replyPayload(kind string) any {
	switch kind {
	case typeSync:
		return syncReply{
			SelfID: "u-1",
			Users: []userPayload{
				{ID: "u-1", FullName: "Alice Example", Emails: []string{"alice@example.com"}},
				{ID: "u-2", FullName: "Bob Example"},
			},
			Conversations: []conversationPayload{
				{
					ID:           "c-1",
					Name:         "Team",
					Participants: []string{"u-1", "u-2"},
					LastModified: t0901,
					LatestRead:   t0900,
					Events: []eventPayload{
						{ID: "e-2", ConversationID: "c-1", SenderID: "u-2", Timestamp: t0901, Kind: "chat_message", Segments: []segmentPayload{{Text: "are you there"}}},
						{ID: "e-1", ConversationID: "c-1", SenderID: "u-2", Timestamp: t0900, Kind: "chat_message", Segments: []segmentPayload{{Text: "hi"}}},
					},
				},
				{
					ID:           "c-2",
					Name:         "Archive",
					Participants: []string{"u-1"},
					LastModified: t0900.Add(-time.Hour),
					Archived:     true,
				},
			},
		}
	case typeGetEvents:
		return getEventsReply{Events: []eventPayload{
			{ID: "e-0", ConversationID: "c-1", SenderID: "u-1", Timestamp: t0900.Add(-time.Minute), Segments: []segmentPayload{{Text: "morning"}}},
		}}
	default:
		return nil
	}
}

func (s *fakeServer) fail(kind string, err *RemoteError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[kind] = err
}

func (s *fakeServer) ignore(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent[kind] = true
}

func (s *fakeServer) lastRequest(t *testing.T, kind string) inbound {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.requests) - 1; i >= 0; i-- {
		if s.requests[i].Type == kind {
			return s.requests[i]
		}
	}
	t.Fatalf("no %s request recorded", kind)
	return inbound{}
}

func (s *fakeServer) authHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auth...)
}

func (s *fakeServer) awaitRequest(t *testing.T, kind string) {
	t.Helper()

	deadline := time.After(waitTimeout)
	for {
		select {
		case seen := <-s.seen:
			if seen == kind {
				return
			}
		case <-deadline:
			t.Fatalf("server never saw %s", kind)
		}
	}
}

func (s *fakeServer) awaitConn(t *testing.T) *websocket.Conn {
	t.Helper()

	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(waitTimeout):
		t.Fatal("server never accepted a connection")
		return nil
	}
}

func push(t *testing.T, conn *websocket.Conn, kind string, payload any) {
	t.Helper()
	require.NoError(t, wsjson.Write(context.Background(), conn, map[string]any{"type": kind, "payload": payload}))
}

type session struct {
	client *Client
	conn   *websocket.Conn
	done   chan error
}

func startSession(t *testing.T, srv *fakeServer, cfg Config) session {
	t.Helper()

	client := New(cfg, domain.Grant{AccessToken: "access-1"})
	connected := make(chan struct{}, 1)
	client.OnConnect().Add(func(struct{}) { connected <- struct{}{} })

	done := make(chan error, 1)
	go func() { done <- client.Connect(context.Background()) }()

	select {
	case <-connected:
	case err := <-done:
		t.Fatalf("connect returned early: %v", err)
	case <-time.After(waitTimeout):
		t.Fatal("client never connected")
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	return session{client: client, conn: srv.awaitConn(t), done: done}
}

func awaitResult(t *testing.T, done chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("connect never returned")
		return nil
	}
}

func awaitValue[T any](t *testing.T, ch chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for value")
		var zero T
		return zero
	}
}
