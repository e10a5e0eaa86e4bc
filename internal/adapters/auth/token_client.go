package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/bnema/chatshell/internal/ports"
)

const maxOAuthResponseBytes = 1 << 20

type API struct {
	BaseURL   string
	TokenPath string
}

// TokenClient redeems authorization codes and refresh tokens at the token endpoint.
type TokenClient struct {
	API            API
	ClientID       string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Clock          ports.Clock
}

var _ ports.Authenticator = TokenClient{}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type oauthErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Authenticate prefers an authorization code over a refresh token. Rejections by the token
// endpoint carry domain.ErrAuth, transport and server failures domain.ErrNetwork.
func (c TokenClient) Authenticate(ctx context.Context, credential domain.Credential) (domain.Grant, error) {
	if c.ClientID == "" {
		return domain.Grant{}, errors.New("client id is required")
	}

	values := url.Values{}
	values.Set("client_id", c.ClientID)
	switch {
	case credential.Code != nil && credential.Code.Code != "":
		values.Set("grant_type", "authorization_code")
		values.Set("code", credential.Code.Code)
		values.Set("redirect_uri", credential.Code.RedirectURI)
		values.Set("code_verifier", credential.Code.CodeVerifier)
	case credential.RefreshToken != "":
		values.Set("grant_type", "refresh_token")
		values.Set("refresh_token", credential.RefreshToken)
	default:
		return domain.Grant{}, fmt.Errorf("%w: no credential to redeem", domain.ErrAuth)
	}

	token, err := c.requestToken(ctx, values)
	if err != nil {
		return domain.Grant{}, err
	}

	grant := domain.Grant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
	}
	if grant.RefreshToken == "" {
		grant.RefreshToken = credential.RefreshToken
	}
	if token.ExpiresIn > 0 {
		grant.ExpiresAt = c.now().Add(time.Duration(token.ExpiresIn) * time.Second)
	}
	return grant, nil
}

func (c TokenClient) requestToken(ctx context.Context, values url.Values) (tokenResponse, error) {
	endpoint, err := buildAPIURL(c.API.BaseURL, c.API.TokenPath)
	if err != nil {
		return tokenResponse{}, err
	}

	requestCtx, cancel := c.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("request token: %w: %w", domain.ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return tokenResponse{}, fmt.Errorf("request token: %w: %s", domain.ErrAuth, decodeOAuthError(resp))
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return tokenResponse{}, fmt.Errorf("request token: %w: %s", domain.ErrNetwork, decodeOAuthError(resp))
	}

	var token tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxOAuthResponseBytes)).Decode(&token); err != nil {
		return tokenResponse{}, fmt.Errorf("decode token response: %w: %w", domain.ErrNetwork, err)
	}
	if token.AccessToken == "" {
		return tokenResponse{}, errors.New("token response missing access token")
	}
	return token, nil
}

func (c TokenClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c TokenClient) now() time.Time {
	if c.Clock != nil {
		return c.Clock.Now()
	}
	return time.Now()
}

func (c TokenClient) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	requestTimeout := c.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	return context.WithTimeout(ctx, requestTimeout)
}

func decodeOAuthError(resp *http.Response) string {
	var oauthErr oauthErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxOAuthResponseBytes)).Decode(&oauthErr); err != nil {
		return fmt.Sprintf("status %d", resp.StatusCode)
	}
	return formatOAuthError(resp.StatusCode, oauthErr)
}

func formatOAuthError(statusCode int, oauthErr oauthErrorResponse) string {
	if oauthErr.Error == "" {
		return fmt.Sprintf("status %d", statusCode)
	}
	if oauthErr.ErrorDescription != "" {
		return oauthErr.Error + ": " + oauthErr.ErrorDescription
	}
	return oauthErr.Error
}

func buildAPIURL(baseURL string, path string) (string, error) {
	if baseURL == "" {
		return "", errors.New("api base url is required")
	}
	if path == "" {
		return "", errors.New("api path is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse api base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("api base url must use http or https")
	}
	if parsed.Host == "" {
		return "", errors.New("api base url host is required")
	}

	endpoint, err := parsed.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse api path: %w", err)
	}
	return endpoint.String(), nil
}
