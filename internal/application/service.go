package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/bnema/chatshell/internal/netloop"
	"github.com/bnema/chatshell/internal/ports"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Dialer func(grant domain.Grant) (ports.ChatService, error)

type Handlers struct {
	OnAuthError      func(error)
	OnNetworkError   func(error)
	OnUnhandledError func(error)
	OnPhase          func(domain.Phase)
	OnNotification   func(domain.Notification)
}

type Options struct {
	Authenticator  ports.Authenticator
	Dial           Dialer
	Credentials    *Credentials
	UI             ports.UILoop
	Profiles       ports.ProfileRepository
	Clock          ports.Clock
	Logger         zerolog.Logger
	Handlers       Handlers
	TypingInterval time.Duration
}

type Service struct {
	auth     ports.Authenticator
	dial     Dialer
	creds    *Credentials
	ui       ports.UILoop
	profiles ports.ProfileRepository
	clock    ports.Clock
	log      zerolog.Logger
	handlers Handlers
	typing   time.Duration

	phase   atomic.Int32
	focused atomic.Bool

	mu            sync.Mutex
	active        bool
	signedOut     bool
	client        *Client
	conversation  *ConversationList
	users         ports.UserList
	pendingConvs  []func(*ConversationList)
	pendingUsers  []func(ports.UserList)
	quitRequested bool
	done          chan struct{}
	lastErr       error
}

func NewService(opts Options) *Service {
	clock := opts.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return &Service{
		auth:     opts.Authenticator,
		dial:     opts.Dial,
		creds:    opts.Credentials,
		ui:       opts.UI,
		profiles: opts.Profiles,
		clock:    clock,
		log:      opts.Logger.With().Str("component", "session").Logger(),
		handlers: opts.Handlers,
		typing:   opts.TypingInterval,
	}
}

func (s *Service) Phase() domain.Phase {
	return domain.Phase(s.phase.Load())
}

func (s *Service) SetFocused(focused bool) {
	s.focused.Store(focused)
}

func (s *Service) Start() {
	s.creds.GetCached(func(token string, err error) {
		if err != nil {
			s.log.Warn().Err(err).Msg("refresh token lookup failed")
		}
		if token == "" {
			s.markSignedOut()
			return
		}
		if err := s.boot(domain.Credential{RefreshToken: token}); err != nil {
			s.log.Warn().Err(err).Msg("session not started")
		}
	})
}

func (s *Service) LoginWithCode(code domain.AuthorizationCode) error {
	if code.Code == "" {
		return errors.New("authorization code is required")
	}
	return s.boot(domain.Credential{Code: &code})
}

func (s *Service) ConversationListAsync(cb func(*ConversationList)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.conversation != nil:
		list := s.conversation
		s.ui.Post(func() { cb(list) })
	case s.signedOut:
		s.ui.Post(func() { cb(nil) })
	default:
		s.pendingConvs = append(s.pendingConvs, cb)
	}
}

func (s *Service) UserListAsync(cb func(ports.UserList)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.users != nil:
		users := s.users
		s.ui.Post(func() { cb(users) })
	case s.signedOut:
		s.ui.Post(func() { cb(nil) })
	default:
		s.pendingUsers = append(s.pendingUsers, cb)
	}
}

func (s *Service) Client() (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil, domain.ErrNotRunning
	}
	return s.client, nil
}

func (s *Service) SetActive() error {
	client, err := s.Client()
	if err != nil {
		return err
	}
	return client.SetActive()
}

// Quit before Running takes effect once the session gets there.
func (s *Service) Quit() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return domain.ErrNotRunning
	}
	client := s.client
	if client == nil || s.Phase() != domain.PhaseRunning {
		s.quitRequested = true
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return client.Disconnect()
}

func (s *Service) Logout() error {
	s.creds.Clear(func(err error) {
		if err != nil {
			s.log.Warn().Err(err).Msg("logout left a refresh token behind")
		}
	})

	if s.profiles != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.profiles.Delete(ctx); err != nil && !errors.Is(err, domain.ErrProfileNotFound) {
			s.log.Warn().Err(err).Msg("delete profile")
		}
	}

	if err := s.Quit(); err != nil && !errors.Is(err, domain.ErrNotRunning) {
		return err
	}
	return nil
}

func (s *Service) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Service) boot(credential domain.Credential) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return domain.ErrSessionActive
	}
	s.active = true
	s.signedOut = false
	s.quitRequested = false
	s.lastErr = nil
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.phase.Store(int32(domain.PhaseIdle))
	s.ui.Hold()

	go func() {
		defer close(done)
		defer s.ui.Release()

		err := s.run(context.Background(), credential)
		s.finish(err)
	}()

	return nil
}

func (s *Service) run(ctx context.Context, credential domain.Credential) error {
	s.transition(domain.PhaseAuthenticating)

	grant, err := s.auth.Authenticate(ctx, credential)
	if err != nil {
		return withKind(err, domain.ErrAuth, "authenticate")
	}
	if grant.RefreshToken != "" && grant.RefreshToken != credential.RefreshToken {
		// The hold keeps a draining UI loop alive until the renewed token is written.
		s.ui.Hold()
		s.creds.Store(grant.RefreshToken, func(error) { s.ui.Release() })
	}

	chat, err := s.dial(grant)
	if err != nil {
		return withKind(err, domain.ErrNetwork, "dial chat service")
	}

	s.transition(domain.PhaseConnecting)
	loop := netloop.New(netloop.WithLogger(s.log))

	connected := make(chan struct{})
	var connectedOnce sync.Once
	connectTok := chat.OnConnect().Add(func(struct{}) {
		connectedOnce.Do(func() { close(connected) })
	})
	defer chat.OnConnect().Remove(connectTok)
	disconnectTok := chat.OnDisconnect().Add(func(struct{}) {
		s.log.Debug().Msg("chat service disconnected")
	})
	defer chat.OnDisconnect().Remove(disconnectTok)

	group, groupCtx := errgroup.WithContext(ctx)
	connectDone := make(chan struct{})
	var connectErr error
	group.Go(func() error {
		defer close(connectDone)
		if err := chat.Connect(groupCtx); err != nil {
			connectErr = withKind(err, domain.ErrNetwork, "connect")
			return connectErr
		}
		// A connection that ended cleanly takes no more commands.
		loop.Close()
		return nil
	})

	abort := func(cause error) error {
		loop.Close()
		if err := chat.Disconnect(context.WithoutCancel(ctx)); err != nil {
			s.log.Debug().Err(err).Msg("disconnect after failed start")
		}
		_ = group.Wait()
		return cause
	}

	select {
	case <-connected:
	case <-connectDone:
		if connectErr != nil {
			loop.Close()
			_ = group.Wait()
			return connectErr
		}
	}
	s.transition(domain.PhaseReady)

	users, convs, err := chat.Sync(groupCtx)
	if err != nil {
		return abort(withKind(err, domain.ErrNetwork, "sync conversations"))
	}

	client := newClient(chat, loop, s.ui, func() { s.transition(domain.PhaseDisconnecting) })
	list := newConversationList(convs, loop, s.ui, s.typing)

	notifyTok := convs.OnEvent().Add(s.notifier(users))
	defer convs.OnEvent().Remove(notifyTok)

	s.mu.Lock()
	s.client = client
	s.conversation = list
	s.users = users
	pendingConvs, pendingUsers := s.pendingConvs, s.pendingUsers
	s.pendingConvs, s.pendingUsers = nil, nil
	s.mu.Unlock()

	s.transition(domain.PhaseRunning)
	for _, cb := range pendingConvs {
		s.ui.Post(func() { cb(list) })
	}
	for _, cb := range pendingUsers {
		s.ui.Post(func() { cb(users) })
	}
	s.saveProfile(ctx, users.Self())

	s.mu.Lock()
	quit := s.quitRequested
	s.mu.Unlock()
	if quit {
		if err := client.Disconnect(); err != nil {
			s.log.Debug().Err(err).Msg("disconnect requested during startup")
		}
	}

	group.Go(func() error {
		return loop.Run(groupCtx)
	})

	if err := group.Wait(); err != nil {
		return withKind(err, domain.ErrUnhandled, "session")
	}
	return nil
}

func (s *Service) finish(err error) {
	s.mu.Lock()
	s.active = false
	s.client = nil
	s.conversation = nil
	s.users = nil
	s.lastErr = err
	s.signedOut = true
	pendingConvs, pendingUsers := s.pendingConvs, s.pendingUsers
	s.pendingConvs, s.pendingUsers = nil, nil
	s.mu.Unlock()

	if err == nil {
		if s.Phase() == domain.PhaseRunning {
			s.transition(domain.PhaseDisconnecting)
		}
		s.transition(domain.PhaseClosed)
		s.postNil(pendingConvs, pendingUsers)
		return
	}

	s.transition(domain.PhaseFailed)
	s.log.Error().Err(err).Str("kind", domain.KindOf(err).String()).Msg("session failed")
	s.postNil(pendingConvs, pendingUsers)

	handler := s.handlers.OnUnhandledError
	switch domain.KindOf(err) {
	case domain.KindAuth:
		handler = s.handlers.OnAuthError
	case domain.KindNetwork:
		handler = s.handlers.OnNetworkError
	}
	if handler != nil {
		s.ui.Post(func() { handler(err) })
	}
}

func (s *Service) markSignedOut() {
	s.mu.Lock()
	s.signedOut = true
	pendingConvs, pendingUsers := s.pendingConvs, s.pendingUsers
	s.pendingConvs, s.pendingUsers = nil, nil
	s.mu.Unlock()

	s.postNil(pendingConvs, pendingUsers)
}

func (s *Service) postNil(convs []func(*ConversationList), users []func(ports.UserList)) {
	for _, cb := range convs {
		s.ui.Post(func() { cb(nil) })
	}
	for _, cb := range users {
		s.ui.Post(func() { cb(nil) })
	}
}

func (s *Service) transition(next domain.Phase) {
	current := s.Phase()
	if !current.CanTransition(next) {
		s.log.Warn().Stringer("from", current).Stringer("to", next).Msg("ignored phase transition")
		return
	}

	s.phase.Store(int32(next))
	s.log.Debug().Stringer("from", current).Stringer("to", next).Msg("session phase")
	if s.handlers.OnPhase != nil {
		onPhase := s.handlers.OnPhase
		s.ui.Post(func() { onPhase(next) })
	}
}

func (s *Service) notifier(users ports.UserList) func(domain.Event) {
	return func(event domain.Event) {
		if event.Kind != domain.EventChatMessage || s.handlers.OnNotification == nil {
			return
		}
		sender, ok := users.User(event.UserID)
		if !ok || sender.IsSelf || s.focused.Load() {
			return
		}

		notification := domain.Notification{
			Title:          sender.DisplayName(),
			Body:           event.Text(),
			ConversationID: event.ConversationID,
		}
		onNotification := s.handlers.OnNotification
		s.ui.Post(func() { onNotification(notification) })
	}
}

func (s *Service) saveProfile(ctx context.Context, self domain.User) {
	if s.profiles == nil || self.ID == "" {
		return
	}

	if err := s.profiles.Save(ctx, domain.ProfileFromUser(self, s.clock.Now())); err != nil {
		s.log.Warn().Err(err).Msg("save profile")
	}
}

func withKind(err error, fallback error, op string) error {
	if domain.KindOf(err) != domain.KindUnhandled {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, fallback, err)
}
