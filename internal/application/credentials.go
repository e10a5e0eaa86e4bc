package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/bnema/chatshell/internal/ports"
	"github.com/rs/zerolog"
)

const (
	RefreshTokenKey        = "chatshell/refresh_token"
	defaultCredentialsWait = 30 * time.Second
)

type cacheState int

const (
	cacheUnknown cacheState = iota
	cacheLoading
	cacheResident
)

type Credentials struct {
	store   ports.SecretStore
	ui      ports.UILoop
	log     zerolog.Logger
	timeout time.Duration

	mu         sync.Mutex
	state      cacheState
	token      string
	generation uint64
	waiters    []func(string, error)
}

func NewCredentials(store ports.SecretStore, ui ports.UILoop, log zerolog.Logger) *Credentials {
	return &Credentials{
		store:   store,
		ui:      ui,
		log:     log.With().Str("component", "credentials").Logger(),
		timeout: defaultCredentialsWait,
	}
}

// Get always reads the secret store. A missing token is "" with a nil error.
func (c *Credentials) Get(cb func(token string, err error)) {
	go func() {
		generation := c.currentGeneration()
		token, err := c.lookup()
		if err == nil {
			c.remember(generation, token)
		}
		c.post(cb, token, err)
	}()
}

func (c *Credentials) GetCached(cb func(token string, err error)) {
	c.mu.Lock()
	switch c.state {
	case cacheResident:
		token := c.token
		c.mu.Unlock()
		c.post(cb, token, nil)
		return
	case cacheLoading:
		c.waiters = append(c.waiters, cb)
		c.mu.Unlock()
		return
	}

	c.state = cacheLoading
	c.waiters = append(c.waiters, cb)
	generation := c.generation
	c.mu.Unlock()

	go func() {
		token, err := c.lookup()

		c.mu.Lock()
		waiters := c.waiters
		c.waiters = nil
		switch {
		case err != nil:
			c.state = cacheUnknown
		case generation == c.generation:
			c.state = cacheResident
			c.token = token
		default:
			// Store or Clear landed while the lookup was running; its value wins.
			token = c.token
			c.state = cacheResident
		}
		c.mu.Unlock()

		for _, waiter := range waiters {
			c.post(waiter, token, err)
		}
	}()
}

func (c *Credentials) Store(token string, cb func(error)) {
	token = strings.TrimSpace(token)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		err := c.store.Put(ctx, RefreshTokenKey, token)
		if err != nil {
			err = fmt.Errorf("store refresh token: %w", err)
			c.log.Warn().Err(err).Msg("refresh token not stored")
		} else {
			c.overwrite(token)
		}
		c.postErr(cb, err)
	}()
}

func (c *Credentials) Clear(cb func(error)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		err := c.store.Delete(ctx, RefreshTokenKey)
		if err != nil && !errors.Is(err, domain.ErrSecretNotFound) {
			err = fmt.Errorf("clear refresh token: %w", err)
			c.log.Warn().Err(err).Msg("refresh token not cleared")
		} else {
			err = nil
			c.overwrite("")
		}
		c.postErr(cb, err)
	}()
}

func (c *Credentials) lookup() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	token, err := c.store.Get(ctx, RefreshTokenKey)
	if err != nil {
		if errors.Is(err, domain.ErrSecretNotFound) {
			c.log.Debug().Msg("no refresh token stored")
			return "", nil
		}
		return "", fmt.Errorf("lookup refresh token: %w", err)
	}

	return strings.TrimSpace(token), nil
}

func (c *Credentials) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *Credentials) remember(generation uint64, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation || c.state == cacheLoading {
		return
	}
	c.state = cacheResident
	c.token = token
}

func (c *Credentials) overwrite(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	if c.state == cacheLoading {
		// The in-flight lookup sees the generation change and adopts this token.
		c.token = token
		return
	}
	c.state = cacheResident
	c.token = token
}

func (c *Credentials) post(cb func(string, error), token string, err error) {
	if cb == nil {
		return
	}
	c.ui.Post(func() { cb(token, err) })
}

func (c *Credentials) postErr(cb func(error), err error) {
	if cb == nil {
		return
	}
	c.ui.Post(func() { cb(err) })
}
