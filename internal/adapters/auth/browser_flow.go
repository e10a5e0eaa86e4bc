package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/rs/zerolog"
)

const (
	callbackPath      = "/auth/callback"
	defaultOriginator = "chatshell"
	defaultLoginWait  = 5 * time.Minute
)

var (
	ErrStateMismatch   = errors.New("oauth callback state mismatch")
	ErrCallbackTimeout = errors.New("timed out waiting for oauth callback")
	ErrMissingState    = errors.New("expected state is required")
)

type AuthorizationRequest struct {
	AuthURL       string
	ClientID      string
	RedirectURI   string
	Scopes        []string
	State         string
	CodeChallenge string
	Originator    string
}

func BuildAuthorizationURL(req AuthorizationRequest) (string, error) {
	switch {
	case req.AuthURL == "":
		return "", errors.New("auth url is required")
	case req.ClientID == "":
		return "", errors.New("client id is required")
	case req.RedirectURI == "":
		return "", errors.New("redirect uri is required")
	case req.State == "":
		return "", errors.New("state is required")
	case req.CodeChallenge == "":
		return "", errors.New("code challenge is required")
	}

	parsed, err := url.Parse(req.AuthURL)
	if err != nil {
		return "", fmt.Errorf("parse auth url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("auth url must use http or https")
	}
	if parsed.Host == "" {
		return "", errors.New("auth url host is required")
	}

	q := parsed.Query()
	q.Set("response_type", "code")
	q.Set("client_id", req.ClientID)
	q.Set("redirect_uri", req.RedirectURI)
	if len(req.Scopes) > 0 {
		q.Set("scope", strings.Join(req.Scopes, " "))
	}
	q.Set("state", req.State)
	q.Set("code_challenge", req.CodeChallenge)
	q.Set("code_challenge_method", PKCEChallengeMethodS256)
	q.Set("access_type", "offline")
	originator := req.Originator
	if originator == "" {
		originator = defaultOriginator
	}
	q.Set("originator", originator)
	parsed.RawQuery = q.Encode()

	return parsed.String(), nil
}

// BrowserFlow obtains an authorization code through the user's browser and a loopback
// callback server. The code is exchanged later by the session's Authenticator.
type BrowserFlow struct {
	AuthURL    string
	ClientID   string
	Scopes     []string
	ListenAddr string
	Timeout    time.Duration
	Log        zerolog.Logger
}

// Run starts the callback server, hands the authorization URL to announce and waits for the
// browser to come back with a code.
func (f BrowserFlow) Run(ctx context.Context, announce func(authURL string) error) (domain.AuthorizationCode, error) {
	pkce, err := NewPKCEPair()
	if err != nil {
		return domain.AuthorizationCode{}, err
	}
	state, err := NewState()
	if err != nil {
		return domain.AuthorizationCode{}, err
	}

	server, err := StartCallbackServer(f.ListenAddr, state)
	if err != nil {
		return domain.AuthorizationCode{}, fmt.Errorf("start callback server: %w", err)
	}
	defer func() { _ = server.Close() }()

	authURL, err := BuildAuthorizationURL(AuthorizationRequest{
		AuthURL:       f.AuthURL,
		ClientID:      f.ClientID,
		RedirectURI:   server.RedirectURI(),
		Scopes:        f.Scopes,
		State:         state,
		CodeChallenge: pkce.Challenge,
	})
	if err != nil {
		return domain.AuthorizationCode{}, fmt.Errorf("build authorization url: %w", err)
	}
	if err := announce(authURL); err != nil {
		return domain.AuthorizationCode{}, err
	}
	f.Log.Debug().Str("redirect_uri", server.RedirectURI()).Msg("waiting for oauth callback")

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = defaultLoginWait
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	code, err := server.WaitForCode(waitCtx)
	if err != nil {
		return domain.AuthorizationCode{}, fmt.Errorf("wait for oauth callback: %w", err)
	}
	return pkce.Code(code, server.RedirectURI()), nil
}

type CallbackServer struct {
	expectedState string
	listener      net.Listener
	server        *http.Server
	resultCh      chan callbackResult
	resultOnce    sync.Once
	closeOnce     sync.Once
}

type callbackResult struct {
	code string
	err  error
}

func StartCallbackServer(listenAddr string, expectedState string) (*CallbackServer, error) {
	if expectedState == "" {
		return nil, ErrMissingState
	}
	if listenAddr == "" {
		listenAddr = "127.0.0.1:0"
	}

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen callback server: %w", err)
	}

	cb := &CallbackServer{
		expectedState: expectedState,
		listener:      listener,
		resultCh:      make(chan callbackResult, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, cb.handleCallback)
	cb.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if serveErr := cb.server.Serve(cb.listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			cb.trySendResult(callbackResult{err: serveErr})
		}
	}()

	return cb, nil
}

func (c *CallbackServer) RedirectURI() string {
	if tcpAddr, ok := c.listener.Addr().(*net.TCPAddr); ok {
		return fmt.Sprintf("http://localhost:%d%s", tcpAddr.Port, callbackPath)
	}
	return "http://localhost" + callbackPath
}

// WaitForCode blocks until the browser delivers a code or ctx ends; either way the server is
// closed afterwards.
func (c *CallbackServer) WaitForCode(ctx context.Context) (string, error) {
	defer func() { _ = c.Close() }()

	select {
	case result := <-c.resultCh:
		return result.code, result.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrCallbackTimeout
		}
		return "", ctx.Err()
	}
}

func (c *CallbackServer) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		closeErr = c.server.Close()
	})
	return closeErr
}

func (c *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if query.Get("state") != c.expectedState {
		c.trySendResult(callbackResult{err: ErrStateMismatch})
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	}
	if oauthError := query.Get("error"); oauthError != "" {
		if description := query.Get("error_description"); description != "" {
			oauthError += ": " + description
		}
		c.trySendResult(callbackResult{err: fmt.Errorf("%w: %s", domain.ErrAuth, oauthError)})
		http.Error(w, "oauth error", http.StatusBadRequest)
		return
	}
	code := query.Get("code")
	if code == "" {
		c.trySendResult(callbackResult{err: errors.New("missing authorization code")})
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	c.trySendResult(callbackResult{code: code})
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Signed in to chatshell. You can close this window."))
}

func (c *CallbackServer) trySendResult(result callbackResult) {
	c.resultOnce.Do(func() {
		c.resultCh <- result
	})
}
