package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAuthorizationURLIncludesStateAndPKCEChallenge(t *testing.T) {
	t.Parallel()

	u, err := BuildAuthorizationURL(AuthorizationRequest{
		AuthURL:       "https://auth.example.com/o/oauth2/auth",
		ClientID:      "client-123",
		RedirectURI:   "http://localhost:3000/auth/callback",
		Scopes:        []string{"openid", "profile"},
		State:         "state-xyz",
		CodeChallenge: "challenge-abc",
	})
	require.NoError(t, err)

	parsed, err := url.Parse(u)
	require.NoError(t, err)

	q := parsed.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client-123", q.Get("client_id"))
	assert.Equal(t, "http://localhost:3000/auth/callback", q.Get("redirect_uri"))
	assert.Equal(t, "openid profile", q.Get("scope"))
	assert.Equal(t, "state-xyz", q.Get("state"))
	assert.Equal(t, "challenge-abc", q.Get("code_challenge"))
	assert.Equal(t, PKCEChallengeMethodS256, q.Get("code_challenge_method"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "chatshell", q.Get("originator"))
}

func TestBuildAuthorizationURLRejectsNonHTTPScheme(t *testing.T) {
	t.Parallel()

	_, err := BuildAuthorizationURL(AuthorizationRequest{
		AuthURL:       "ftp://auth.example.com/oauth/authorize",
		ClientID:      "client-123",
		RedirectURI:   "http://localhost:3000/auth/callback",
		State:         "state-xyz",
		CodeChallenge: "challenge-abc",
	})
	require.ErrorContains(t, err, "http or https")
}

func TestPKCEPairChallengeMatchesVerifier(t *testing.T) {
	t.Parallel()

	pair, err := NewPKCEPair()
	require.NoError(t, err)

	hash := sha256.Sum256([]byte(pair.Verifier))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(hash[:]), pair.Challenge)
	assert.Equal(t, domain.AuthorizationCode{
		Code:         "c",
		CodeVerifier: pair.Verifier,
		RedirectURI:  "http://localhost/auth/callback",
	}, pair.Code("c", "http://localhost/auth/callback"))
}

func TestCallbackServerReturnsCodeOnSuccess(t *testing.T) {
	t.Parallel()

	server, err := StartCallbackServer("127.0.0.1:0", "expected-state")
	require.NoError(t, err)
	defer func() { _ = server.Close() }()

	resp, err := http.Get(server.RedirectURI() + "?code=auth-code&state=expected-state")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Signed in to chatshell")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, err := server.WaitForCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "auth-code", code)
}

func TestCallbackServerReturnsErrorOnStateMismatch(t *testing.T) {
	t.Parallel()

	server, err := StartCallbackServer("127.0.0.1:0", "expected-state")
	require.NoError(t, err)
	defer func() { _ = server.Close() }()

	resp, err := http.Get(server.RedirectURI() + "?code=auth-code&state=wrong-state")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = server.WaitForCode(ctx)
	require.ErrorIs(t, err, ErrStateMismatch)
}

func TestCallbackServerReportsDeniedConsentAsAuthError(t *testing.T) {
	t.Parallel()

	server, err := StartCallbackServer("127.0.0.1:0", "expected-state")
	require.NoError(t, err)
	defer func() { _ = server.Close() }()

	resp, err := http.Get(server.RedirectURI() + "?error=access_denied&state=expected-state")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = server.WaitForCode(ctx)
	require.ErrorIs(t, err, domain.ErrAuth)
	assert.ErrorContains(t, err, "access_denied")
}

func TestCallbackServerTimesOutWaitingForCallback(t *testing.T) {
	t.Parallel()

	server, err := StartCallbackServer("127.0.0.1:0", "expected-state")
	require.NoError(t, err)
	defer func() { _ = server.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = server.WaitForCode(ctx)
	require.ErrorIs(t, err, ErrCallbackTimeout)
}

func TestStartCallbackServerRequiresExpectedState(t *testing.T) {
	t.Parallel()

	_, err := StartCallbackServer("127.0.0.1:0", "")
	require.ErrorIs(t, err, ErrMissingState)
}

func TestBrowserFlowReturnsAuthorizationCode(t *testing.T) {
	t.Parallel()

	flow := BrowserFlow{
		AuthURL:    "https://auth.example.com/o/oauth2/auth",
		ClientID:   "client-123",
		Scopes:     []string{"openid"},
		ListenAddr: "127.0.0.1:0",
		Timeout:    5 * time.Second,
		Log:        zerolog.Nop(),
	}

	code, err := flow.Run(context.Background(), func(authURL string) error {
		parsed, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := parsed.Query()
		go func() {
			resp, err := http.Get(q.Get("redirect_uri") + "?code=browser-code&state=" + url.QueryEscape(q.Get("state")))
			if err == nil {
				_ = resp.Body.Close()
			}
		}()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "browser-code", code.Code)
	assert.NotEmpty(t, code.CodeVerifier)
	assert.Contains(t, code.RedirectURI, "/auth/callback")
}
