// Package ws talks to the chat server over a single websocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/bnema/chatshell/internal/observer"
	"github.com/bnema/chatshell/internal/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	userAgent             = "chatshell"
	readLimit             = 4 << 20
	defaultRequestTimeout = 30 * time.Second
	defaultReconnectBase  = time.Second
	defaultReconnectMax   = 30 * time.Second
	defaultReconnectTries = 5
)

var (
	ErrNotConnected   = errors.New("chat service not connected")
	ErrConnectionLost = errors.New("chat connection lost")

	errStopped = errors.New("client stopped")
)

type Config struct {
	URL                  string
	UploadURL            string
	HTTPClient           *http.Client
	RequestTimeout       time.Duration
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	Log                  zerolog.Logger
}

func (c *Config) defaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaultReconnectTries
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = defaultReconnectBase
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = defaultReconnectMax
	}
}

type Client struct {
	cfg   Config
	token string
	log   zerolog.Logger

	onConnect    observer.Signal
	onReconnect  observer.Signal
	onDisconnect observer.Signal
	onState      observer.Event[domain.StateUpdate]

	mu      sync.Mutex
	conn    *websocket.Conn
	stopped bool
	stop    chan struct{}
	pending map[string]chan envelope
	convs   *conversationList
}

var _ ports.ChatService = (*Client)(nil)

func New(cfg Config, grant domain.Grant) *Client {
	cfg.defaults()
	return &Client{
		cfg:     cfg,
		token:   grant.AccessToken,
		log:     cfg.Log.With().Str("component", "chat").Logger(),
		stop:    make(chan struct{}),
		pending: map[string]chan envelope{},
	}
}

func (c *Client) OnConnect() *observer.Signal    { return &c.onConnect }
func (c *Client) OnReconnect() *observer.Signal  { return &c.onReconnect }
func (c *Client) OnDisconnect() *observer.Signal { return &c.onDisconnect }

func (c *Client) OnStateUpdate() *observer.Event[domain.StateUpdate] { return &c.onState }

// Connect dials, then reads until Disconnect or ctx ends. An unexpected drop fires
// OnDisconnect and redials with exponential backoff; OnReconnect fires once a new
// connection is up. Connect gives up with domain.ErrNetwork when the attempts run out.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	if !c.attach(conn) {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return nil
	}
	c.log.Debug().Str("url", c.cfg.URL).Msg("chat connected")
	c.onConnect.Fire(struct{}{})

	for {
		readErr := c.readLoop(ctx, conn)
		c.detach(conn)
		if c.isStopped() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.log.Warn().Err(readErr).Msg("chat connection lost")
		c.onDisconnect.Fire(struct{}{})

		conn, err = c.reconnect(ctx)
		if err != nil {
			if errors.Is(err, errStopped) {
				return nil
			}
			return err
		}
		if !c.attach(conn) {
			_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
			return nil
		}
		c.log.Info().Msg("chat reconnected")
		c.onReconnect.Fire(struct{}{})
	}
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stop)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
		c.log.Debug().Err(err).Msg("close chat connection")
	}
	return nil
}

func (c *Client) SetActive(ctx context.Context) error {
	return c.call(ctx, typeSetActive, struct{}{}, nil)
}

func (c *Client) Sync(ctx context.Context) (ports.UserList, ports.ConversationList, error) {
	var reply syncReply
	if err := c.call(ctx, typeSync, struct{}{}, &reply); err != nil {
		return nil, nil, err
	}

	users := newUserList(reply.SelfID, reply.Users)
	convs := newConversationList(c, users, reply.Conversations)

	c.mu.Lock()
	c.convs = convs
	c.mu.Unlock()

	return users, convs, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := c.requestContext(ctx)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	header.Set("User-Agent", userAgent)

	conn, resp, err := websocket.Dial(dialCtx, c.cfg.URL, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body
		HTTPClient: c.cfg.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("dial chat service: %w: status %d", domain.ErrAuth, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial chat service: %w: %w", domain.ErrNetwork, err)
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

func (c *Client) reconnect(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxReconnectAttempts; attempt++ {
		delay := backoff(c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay, attempt)
		c.log.Debug().Int("attempt", attempt+1).Dur("delay", delay).Msg("redialing chat")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-c.stop:
			timer.Stop()
			return nil, errStopped
		}

		conn, err := c.dial(ctx)
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, domain.ErrAuth) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("reconnect after %d attempts: %w", c.cfg.MaxReconnectAttempts, lastErr)
}

func backoff(base, limit time.Duration, attempt int) time.Duration {
	delay := limit
	if attempt < 32 {
		if d := base << attempt; d > 0 && d < limit {
			delay = d
		}
	}
	if half := int64(base / 2); half > 0 {
		delay += time.Duration(rand.Int64N(half))
	}
	return delay
}

func (c *Client) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return false
	}
	c.conn = conn
	return true
}

// detach fails every request still waiting on conn.
func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == conn {
		c.conn = nil
	}
	for id, replies := range c.pending {
		close(replies)
		delete(c.pending, id)
	}
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed chat frame")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env envelope) {
	if env.Type == typeResponse {
		c.resolve(env)
		return
	}

	c.mu.Lock()
	convs := c.convs
	c.mu.Unlock()

	switch env.Type {
	case typeStateUpdate:
		var p stateUpdatePayload
		if c.decode(env, &p) {
			c.onState.Fire(domain.StateUpdate{
				ConversationID:    domain.ConversationID(p.ConversationID),
				ActiveClientState: p.ActiveClientState,
				Timestamp:         p.Timestamp,
			})
		}
	case typeEvent, typeTyping, typeWatermark, typeConversation:
		if convs == nil {
			c.log.Debug().Str("type", env.Type).Msg("push before sync dropped")
			return
		}
		c.applyPush(convs, env)
	default:
		c.log.Debug().Str("type", env.Type).Msg("ignoring unknown chat frame")
	}
}

func (c *Client) applyPush(convs *conversationList, env envelope) {
	switch env.Type {
	case typeEvent:
		var p eventPayload
		if c.decode(env, &p) {
			convs.applyEvent(p.toDomain())
		}
	case typeTyping:
		var p typingPayload
		if c.decode(env, &p) {
			convs.applyTyping(domain.Typing{
				ConversationID: domain.ConversationID(p.ConversationID),
				UserID:         domain.UserID(p.UserID),
				Status:         domain.TypingStatus(p.Status),
			})
		}
	case typeWatermark:
		var p watermarkPayload
		if c.decode(env, &p) {
			convs.applyWatermark(p.toDomain())
		}
	case typeConversation:
		var p conversationPayload
		if c.decode(env, &p) {
			convs.upsert(p)
		}
	}
}

func (c *Client) decode(env envelope, out any) bool {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		c.log.Warn().Err(err).Str("type", env.Type).Msg("dropping undecodable chat payload")
		return false
	}
	return true
}

func (c *Client) resolve(env envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	replies, ok := c.pending[env.ID]
	if !ok {
		c.log.Debug().Str("id", env.ID).Msg("response for unknown request")
		return
	}
	delete(c.pending, env.ID)
	replies <- env
}

func (c *Client) call(ctx context.Context, kind string, payload any, out any) error {
	id := uuid.NewString()
	replies := make(chan envelope, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w: %w", kind, domain.ErrNetwork, ErrNotConnected)
	}
	c.pending[id] = replies
	c.mu.Unlock()
	defer c.forget(id)

	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	if err := wsjson.Write(ctx, conn, request{Type: kind, ID: id, Payload: payload}); err != nil {
		return fmt.Errorf("%s: %w: %w", kind, domain.ErrNetwork, err)
	}

	select {
	case reply, ok := <-replies:
		if !ok {
			return fmt.Errorf("%s: %w: %w", kind, domain.ErrNetwork, ErrConnectionLost)
		}
		if reply.Error != nil {
			return fmt.Errorf("%s: %w", kind, reply.Error)
		}
		if out == nil || len(reply.Payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(reply.Payload, out); err != nil {
			return fmt.Errorf("decode %s response: %w", kind, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w: %w", kind, domain.ErrNetwork, ctx.Err())
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.RequestTimeout)
}
