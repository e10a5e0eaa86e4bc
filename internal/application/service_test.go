package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/bnema/chatshell/internal/netloop"
	"github.com/bnema/chatshell/internal/ports"
	"github.com/bnema/chatshell/internal/ports/mocks"
	"github.com/bnema/chatshell/internal/uiloop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type sessionHarness struct {
	svc   *Service
	chat  *fakeChat
	ui    *uiloop.Loop
	store *mocks.MockSecretStore
	auth  *mocks.MockAuthenticator

	mu     sync.Mutex
	phases []domain.Phase

	authErrs      chan error
	networkErrs   chan error
	unhandledErrs chan error
	notifications chan domain.Notification
}

func newSessionHarness(t *testing.T, chat *fakeChat, configure ...func(*Options)) *sessionHarness {
	t.Helper()

	ui := runUILoop(t)
	h := &sessionHarness{
		chat:          chat,
		ui:            ui,
		store:         mocks.NewMockSecretStore(t),
		auth:          mocks.NewMockAuthenticator(t),
		authErrs:      make(chan error, 4),
		networkErrs:   make(chan error, 4),
		unhandledErrs: make(chan error, 4),
		notifications: make(chan domain.Notification, 4),
	}

	opts := Options{
		Authenticator: h.auth,
		Dial: func(grant domain.Grant) (ports.ChatService, error) {
			if grant.AccessToken == "" {
				return nil, errors.New("missing access token")
			}
			return chat, nil
		},
		Credentials: NewCredentials(h.store, ui, zerolog.Nop()),
		UI:          ui,
		Logger:      zerolog.Nop(),
		Handlers: Handlers{
			OnAuthError:      func(err error) { h.authErrs <- err },
			OnNetworkError:   func(err error) { h.networkErrs <- err },
			OnUnhandledError: func(err error) { h.unhandledErrs <- err },
			OnPhase: func(phase domain.Phase) {
				h.mu.Lock()
				h.phases = append(h.phases, phase)
				h.mu.Unlock()
			},
			OnNotification: func(n domain.Notification) { h.notifications <- n },
		},
	}
	for _, fn := range configure {
		fn(&opts)
	}
	h.svc = NewService(opts)

	t.Cleanup(func() {
		if h.svc.Phase() == domain.PhaseRunning {
			_ = h.svc.Quit()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.svc.Wait(ctx)
	})
	return h
}

func (h *sessionHarness) expectRefreshToken(token string) {
	h.store.EXPECT().Get(mock.Anything, RefreshTokenKey).Return(token, nil).Once()
	h.auth.EXPECT().Authenticate(mock.Anything, domain.Credential{RefreshToken: token}).
		Return(domain.Grant{AccessToken: "at-1", RefreshToken: token}, nil).Once()
}

func (h *sessionHarness) seenPhases(t *testing.T) []domain.Phase {
	t.Helper()

	flushUI(t, h.ui)
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Phase(nil), h.phases...)
}

func (h *sessionHarness) startRunning(t *testing.T) *ConversationList {
	t.Helper()

	lists := make(chan *ConversationList, 1)
	h.svc.ConversationListAsync(func(list *ConversationList) { lists <- list })
	h.svc.Start()

	list := await(t, lists)
	require.NotNil(t, list)
	return list
}

func (h *sessionHarness) wait(t *testing.T) error {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.svc.Wait(ctx)
}

func await[T any](t *testing.T, ch chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callback")
		var zero T
		return zero
	}
}

func TestServiceSessionLifecycle(t *testing.T) {
	h := newSessionHarness(t, newFakeChat())
	h.expectRefreshToken("rt-1")

	users := make(chan ports.UserList, 1)
	h.svc.UserListAsync(func(list ports.UserList) { users <- list })

	list := h.startRunning(t)
	assert.Equal(t, domain.PhaseRunning, h.svc.Phase())
	assert.Equal(t, domain.UserID("u-1"), await(t, users).Self().ID)
	assert.Len(t, list.All(false), 1)
	assert.Len(t, list.All(true), 2)

	again := make(chan *ConversationList, 1)
	h.svc.ConversationListAsync(func(l *ConversationList) { again <- l })
	assert.Same(t, list, await(t, again))

	require.NoError(t, h.svc.Quit())
	require.NoError(t, h.wait(t))

	assert.Equal(t, []domain.Phase{
		domain.PhaseAuthenticating,
		domain.PhaseConnecting,
		domain.PhaseReady,
		domain.PhaseRunning,
		domain.PhaseDisconnecting,
		domain.PhaseClosed,
	}, h.seenPhases(t))
	assert.Equal(t, []string{"disconnect"}, h.chat.log.snapshot())

	_, err := h.svc.Client()
	require.ErrorIs(t, err, domain.ErrNotRunning)
}

func TestServicePendingCallbackRunsOnce(t *testing.T) {
	h := newSessionHarness(t, newFakeChat())
	h.expectRefreshToken("rt-1")

	var calls int
	h.svc.ConversationListAsync(func(*ConversationList) { calls++ })
	h.startRunning(t)

	require.NoError(t, h.svc.Quit())
	require.NoError(t, h.wait(t))
	flushUI(t, h.ui)
	assert.Equal(t, 1, calls)
}

func TestServiceCommandsRunInSubmitOrderBeforeDisconnect(t *testing.T) {
	h := newSessionHarness(t, newFakeChat())
	h.expectRefreshToken("rt-1")

	list := h.startRunning(t)
	conv, err := list.Get("c-1")
	require.NoError(t, err)

	require.NoError(t, conv.Rename("Ops"))
	require.NoError(t, conv.SendMessage(domain.TextSegments("deploy done"), nil))
	require.NoError(t, h.svc.Quit())
	require.NoError(t, h.wait(t))

	assert.Equal(t, []string{
		"rename c-1 Ops",
		"send c-1 deploy done",
		"disconnect",
	}, h.chat.log.snapshot())

	require.ErrorIs(t, conv.Rename("late"), netloop.ErrClosed)
}

func TestServiceQuitBeforeRunning(t *testing.T) {
	h := newSessionHarness(t, newFakeChat())

	require.ErrorIs(t, h.svc.Quit(), domain.ErrNotRunning)
	require.ErrorIs(t, h.svc.SetActive(), domain.ErrNotRunning)
}

func TestServiceQuitDuringStartupClosesOnceRunning(t *testing.T) {
	h := newSessionHarness(t, newFakeChat())
	entered := make(chan struct{})
	release := make(chan struct{})
	h.store.EXPECT().Get(mock.Anything, RefreshTokenKey).Return("rt-1", nil).Once()
	h.auth.EXPECT().Authenticate(mock.Anything, domain.Credential{RefreshToken: "rt-1"}).
		RunAndReturn(func(context.Context, domain.Credential) (domain.Grant, error) {
			close(entered)
			<-release
			return domain.Grant{AccessToken: "at-1", RefreshToken: "rt-1"}, nil
		}).Once()

	h.svc.Start()
	await(t, entered)
	require.NoError(t, h.svc.Quit())
	close(release)

	require.NoError(t, h.wait(t))
	assert.Equal(t, domain.PhaseClosed, h.svc.Phase())
	assert.Equal(t, []domain.Phase{
		domain.PhaseAuthenticating,
		domain.PhaseConnecting,
		domain.PhaseReady,
		domain.PhaseRunning,
		domain.PhaseDisconnecting,
		domain.PhaseClosed,
	}, h.seenPhases(t))
	assert.Equal(t, []string{"disconnect"}, h.chat.log.snapshot())
}

func TestServiceListsAfterCloseDeliverNil(t *testing.T) {
	h := newSessionHarness(t, newFakeChat())
	h.expectRefreshToken("rt-1")
	h.startRunning(t)

	require.NoError(t, h.svc.Quit())
	require.NoError(t, h.wait(t))

	lists := make(chan *ConversationList, 1)
	h.svc.ConversationListAsync(func(list *ConversationList) { lists <- list })
	assert.Nil(t, await(t, lists))

	users := make(chan ports.UserList, 1)
	h.svc.UserListAsync(func(list ports.UserList) { users <- list })
	assert.Nil(t, await(t, users))
}

func TestServiceWithoutRefreshTokenSignsOut(t *testing.T) {
	h := newSessionHarness(t, newFakeChat())
	h.store.EXPECT().Get(mock.Anything, RefreshTokenKey).
		Return("", fmt.Errorf("pass show: %w", domain.ErrSecretNotFound)).Once()

	lists := make(chan *ConversationList, 1)
	h.svc.ConversationListAsync(func(list *ConversationList) { lists <- list })
	h.svc.Start()

	assert.Nil(t, await(t, lists))
	assert.Equal(t, domain.PhaseIdle, h.svc.Phase())

	users := make(chan ports.UserList, 1)
	h.svc.UserListAsync(func(list ports.UserList) { users <- list })
	assert.Nil(t, await(t, users))
}

func TestServiceAuthFailureReportsAuthError(t *testing.T) {
	h := newSessionHarness(t, newFakeChat())
	h.store.EXPECT().Get(mock.Anything, RefreshTokenKey).Return("rt-revoked", nil).Once()
	h.auth.EXPECT().Authenticate(mock.Anything, mock.Anything).
		Return(domain.Grant{}, fmt.Errorf("%w: invalid_grant", domain.ErrAuth)).Once()

	lists := make(chan *ConversationList, 1)
	h.svc.ConversationListAsync(func(list *ConversationList) { lists <- list })
	h.svc.Start()

	assert.Nil(t, await(t, lists))
	err := await(t, h.authErrs)
	require.ErrorIs(t, err, domain.ErrAuth)
	require.ErrorIs(t, h.wait(t), domain.ErrAuth)
	assert.Equal(t, domain.PhaseFailed, h.svc.Phase())
	assert.Empty(t, h.networkErrs)
}

func TestServiceConnectFailureReportsNetworkError(t *testing.T) {
	chat := newFakeChat()
	chat.connectErr = errors.New("dial tcp 127.0.0.1:443: connection refused")
	h := newSessionHarness(t, chat)
	h.expectRefreshToken("rt-1")

	h.svc.Start()

	err := await(t, h.networkErrs)
	assert.Equal(t, domain.KindNetwork, domain.KindOf(err))
	assert.Contains(t, err.Error(), "connection refused")
	require.Error(t, h.wait(t))
	assert.Equal(t, []domain.Phase{
		domain.PhaseAuthenticating,
		domain.PhaseConnecting,
		domain.PhaseFailed,
	}, h.seenPhases(t))
}

func TestServiceSyncFailureDisconnects(t *testing.T) {
	chat := newFakeChat()
	chat.syncErr = errors.New("sync all new events: 503")
	h := newSessionHarness(t, chat)
	h.expectRefreshToken("rt-1")

	h.svc.Start()

	err := await(t, h.networkErrs)
	assert.Contains(t, err.Error(), "sync conversations")
	require.Error(t, h.wait(t))
	assert.Equal(t, []string{"disconnect"}, chat.log.snapshot())
	assert.Equal(t, domain.PhaseFailed, h.svc.Phase())
}

func TestServiceCommandFailureEndsSession(t *testing.T) {
	chat := newFakeChat()
	chat.setActiveErr = fmt.Errorf("%w: connection reset by peer", domain.ErrNetwork)
	h := newSessionHarness(t, chat)
	h.expectRefreshToken("rt-1")
	h.startRunning(t)

	require.NoError(t, h.svc.SetActive())

	err := await(t, h.networkErrs)
	assert.Contains(t, err.Error(), "set active")
	require.ErrorIs(t, h.wait(t), domain.ErrNetwork)
	assert.Equal(t, domain.PhaseFailed, h.svc.Phase())
}

func TestServiceLoginWithCodeStoresRenewedToken(t *testing.T) {
	h := newSessionHarness(t, newFakeChat())
	stored := make(chan string, 1)
	h.auth.EXPECT().Authenticate(mock.Anything, mock.MatchedBy(func(c domain.Credential) bool {
		return c.Code != nil && c.Code.Code == "code-1" && c.RefreshToken == ""
	})).Return(domain.Grant{AccessToken: "at-1", RefreshToken: "rt-new"}, nil).Once()
	h.store.EXPECT().Put(mock.Anything, RefreshTokenKey, "rt-new").
		Run(func(_ context.Context, _ string, value string) { stored <- value }).
		Return(nil).Once()

	lists := make(chan *ConversationList, 1)
	h.svc.ConversationListAsync(func(list *ConversationList) { lists <- list })
	require.NoError(t, h.svc.LoginWithCode(domain.AuthorizationCode{Code: "code-1", CodeVerifier: "verifier"}))

	require.NotNil(t, await(t, lists))
	assert.Equal(t, "rt-new", await(t, stored))
	require.ErrorIs(t, h.svc.LoginWithCode(domain.AuthorizationCode{Code: "code-2"}), domain.ErrSessionActive)
}

func TestServiceLoginWithCodeRequiresCode(t *testing.T) {
	h := newSessionHarness(t, newFakeChat())

	require.Error(t, h.svc.LoginWithCode(domain.AuthorizationCode{}))
	assert.Equal(t, domain.PhaseIdle, h.svc.Phase())
}

func TestServiceNotifiesMessagesWhileUnfocused(t *testing.T) {
	chat := newFakeChat()
	h := newSessionHarness(t, chat)
	h.expectRefreshToken("rt-1")
	h.startRunning(t)

	incoming := domain.Event{
		ID:             "e-9",
		ConversationID: "c-1",
		UserID:         "u-2",
		Kind:           domain.EventChatMessage,
		Segments:       domain.TextSegments("are you there?"),
	}
	chat.convs.onEvent.Fire(incoming)

	assert.Equal(t, domain.Notification{
		Title:          "Bob Example",
		Body:           "are you there?",
		ConversationID: "c-1",
	}, await(t, h.notifications))

	own := incoming
	own.UserID = "u-1"
	chat.convs.onEvent.Fire(own)

	h.svc.SetFocused(true)
	chat.convs.onEvent.Fire(incoming)

	flushUI(t, h.ui)
	assert.Empty(t, h.notifications)
}

func TestServiceSavesProfileOnceRunning(t *testing.T) {
	now := time.Date(2026, 10, 17, 8, 30, 0, 0, time.UTC)
	profiles := mocks.NewMockProfileRepository(t)
	saved := make(chan domain.Profile, 1)
	profiles.EXPECT().Save(mock.Anything, mock.Anything).
		Run(func(_ context.Context, profile domain.Profile) { saved <- profile }).
		Return(nil).Once()

	h := newSessionHarness(t, newFakeChat(), func(opts *Options) {
		opts.Profiles = profiles
		opts.Clock = fixedClock{now: now}
	})
	h.expectRefreshToken("rt-1")
	h.startRunning(t)

	profile := await(t, saved)
	assert.Equal(t, domain.UserID("u-1"), profile.UserID)
	assert.Equal(t, "Alice Example", profile.FullName)
	assert.Equal(t, now, profile.SignedInAt)
}

func TestServiceLogoutClearsCredentialsAndQuits(t *testing.T) {
	profiles := mocks.NewMockProfileRepository(t)
	profiles.EXPECT().Save(mock.Anything, mock.Anything).Return(nil).Once()
	profiles.EXPECT().Delete(mock.Anything).Return(nil).Once()

	h := newSessionHarness(t, newFakeChat(), func(opts *Options) { opts.Profiles = profiles })
	h.expectRefreshToken("rt-1")
	h.startRunning(t)

	cleared := make(chan struct{})
	h.store.EXPECT().Delete(mock.Anything, RefreshTokenKey).
		Run(func(context.Context, string) { close(cleared) }).
		Return(nil).Once()

	require.NoError(t, h.svc.Logout())
	require.NoError(t, h.wait(t))
	await(t, cleared)
	assert.Equal(t, domain.PhaseClosed, h.svc.Phase())
}

func TestServiceLogoutWhenSignedOut(t *testing.T) {
	h := newSessionHarness(t, newFakeChat())
	cleared := make(chan struct{})
	h.store.EXPECT().Delete(mock.Anything, RefreshTokenKey).
		Run(func(context.Context, string) { close(cleared) }).
		Return(domain.ErrSecretNotFound).Once()

	require.NoError(t, h.svc.Logout())
	await(t, cleared)
}
