// Package resourcecache fetches remote images once per key and hands them to any number of waiters.
package resourcecache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/bnema/chatshell/internal/ports"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultFreshFor   = 24 * time.Hour
	DefaultMaxFetches = 4
	defaultTimeout    = 30 * time.Second
)

var ErrInvalidKey = errors.New("invalid resource key")

type Request struct {
	Size    domain.ImageSize
	Persist bool
}

type entryState int

const (
	stateInFlight entryState = iota + 1
	stateResident
)

type waiter struct {
	size domain.ImageSize
	cb   func(image.Image, error)
}

type entry struct {
	state      entryState
	img        image.Image
	fetchedAt  time.Time
	refreshing bool
	persist    bool
	waiters    []waiter
}

type Cache struct {
	fetcher  ports.ResourceFetcher
	ui       ports.UILoop
	disk     *Disk
	clock    ports.Clock
	freshFor time.Duration
	timeout  time.Duration
	fetches  *semaphore.Weighted
	log      zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type Option func(*Cache)

func WithDisk(disk *Disk) Option {
	return func(c *Cache) {
		c.disk = disk
	}
}

func WithClock(clock ports.Clock) Option {
	return func(c *Cache) {
		c.clock = clock
	}
}

func WithFreshFor(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.freshFor = d
		}
	}
}

func WithMaxFetches(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.fetches = semaphore.NewWeighted(int64(n))
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Cache) {
		c.log = log
	}
}

func New(fetcher ports.ResourceFetcher, ui ports.UILoop, opts ...Option) *Cache {
	c := &Cache{
		fetcher:  fetcher,
		ui:       ui,
		clock:    ports.SystemClock{},
		freshFor: DefaultFreshFor,
		timeout:  defaultTimeout,
		fetches:  semaphore.NewWeighted(DefaultMaxFetches),
		log:      zerolog.Nop(),
		entries:  map[string]*entry{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "resource_cache").Logger()
	return c
}

func NormalizeKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	switch {
	case key == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	case strings.HasPrefix(key, "//"):
		key = "https:" + key
	case !strings.Contains(key, "://"):
		key = "https://" + key
	}

	u, err := url.Parse(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrInvalidKey, raw)
	}
	return u.String(), nil
}

func (c *Cache) Fetch(key string, req Request, cb func(image.Image, error)) {
	key, err := NormalizeKey(key)
	if err != nil {
		c.post(cb, nil, fmt.Errorf("%w: %w", domain.ErrResourceFetch, err))
		return
	}

	c.mu.Lock()
	e, ok := c.entries[key]
	switch {
	case !ok:
		c.entries[key] = &entry{
			state:   stateInFlight,
			persist: req.Persist,
			waiters: []waiter{{size: req.Size, cb: cb}},
		}
		c.mu.Unlock()
		c.spawn(func() { c.load(key) })

	case e.state == stateInFlight:
		e.waiters = append(e.waiters, waiter{size: req.Size, cb: cb})
		e.persist = e.persist || req.Persist
		c.mu.Unlock()

	default:
		e.persist = e.persist || req.Persist
		img := e.img
		refresh := c.claimRefresh(e)
		c.mu.Unlock()

		c.deliver(waiter{size: req.Size, cb: cb}, img, nil)
		if refresh {
			c.spawn(func() { c.refresh(key) })
		}
	}
}

// spawn runs fn on its own goroutine while holding the UI loop, so a draining loop outlives
// pending disk writes.
func (c *Cache) spawn(fn func()) {
	c.ui.Hold()
	go func() {
		defer c.ui.Release()
		fn()
	}()
}

func (c *Cache) Prune(olderThan time.Duration) (int, error) {
	if c.disk == nil {
		return 0, nil
	}
	return c.disk.Prune(c.clock.Now().Add(-olderThan))
}

func (c *Cache) load(key string) {
	if c.disk != nil {
		img, modTime, err := c.disk.Load(key)
		if err == nil {
			c.log.Debug().Str("key", key).Msg("resource loaded from disk")
			if _, refresh := c.resolve(key, img, modTime, true); refresh {
				c.refresh(key)
			}
			return
		}
		if !errors.Is(err, ErrNotCached) {
			c.log.Warn().Err(err).Str("key", key).Msg("disk cache entry unreadable")
		}
	}

	data, img, err := c.download(key)
	if err != nil {
		c.fail(key, err)
		return
	}

	if persist, _ := c.resolve(key, img, c.clock.Now(), false); persist {
		c.persist(key, data)
	}
}

func (c *Cache) refresh(key string) {
	data, img, err := c.download(key)

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.refreshing = false
	if err != nil {
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("key", key).Msg("refresh failed, keeping stale resource")
		return
	}
	e.img = img
	e.fetchedAt = c.clock.Now()
	persist := e.persist
	c.mu.Unlock()

	if persist {
		c.persist(key, data)
	}
}

func (c *Cache) resolve(key string, img image.Image, fetchedAt time.Time, fromDisk bool) (persist, refresh bool) {
	c.mu.Lock()
	e := c.entries[key]
	waiters := e.waiters
	e.waiters = nil
	e.state = stateResident
	e.img = img
	e.fetchedAt = fetchedAt
	if fromDisk {
		e.persist = true
		refresh = c.claimRefresh(e)
	}
	persist = e.persist
	c.mu.Unlock()

	for _, w := range waiters {
		c.deliver(w, img, nil)
	}
	return persist, refresh
}

func (c *Cache) fail(key string, err error) {
	c.mu.Lock()
	e := c.entries[key]
	waiters := e.waiters
	delete(c.entries, key)
	c.mu.Unlock()

	c.log.Warn().Err(err).Str("key", key).Int("waiters", len(waiters)).Msg("resource fetch failed")
	for _, w := range waiters {
		c.deliver(w, nil, err)
	}
}

// claimRefresh must be called with c.mu held.
func (c *Cache) claimRefresh(e *entry) bool {
	if e.refreshing || c.clock.Now().Sub(e.fetchedAt) < c.freshFor {
		return false
	}
	e.refreshing = true
	return true
}

func (c *Cache) download(key string) ([]byte, image.Image, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.fetches.Acquire(ctx, 1); err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w: %w", key, domain.ErrResourceFetch, err)
	}
	defer c.fetches.Release(1)

	c.log.Debug().Str("key", key).Msg("fetching resource")
	data, err := c.fetcher.Fetch(ctx, key)
	if err != nil {
		if domain.KindOf(err) == domain.KindResourceFetch {
			return nil, nil, fmt.Errorf("fetch %s: %w", key, err)
		}
		return nil, nil, fmt.Errorf("fetch %s: %w: %w", key, domain.ErrResourceFetch, err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w: %w", key, domain.ErrResourceFetch, err)
	}
	return data, img, nil
}

func (c *Cache) persist(key string, data []byte) {
	if c.disk == nil {
		return
	}
	if err := c.disk.Store(key, data); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("write disk cache entry")
	}
}

func (c *Cache) deliver(w waiter, img image.Image, err error) {
	if err != nil {
		c.post(w.cb, nil, err)
		return
	}
	c.post(w.cb, Resize(img, w.size), nil)
}

func (c *Cache) post(cb func(image.Image, error), img image.Image, err error) {
	if cb == nil {
		return
	}
	c.ui.Post(func() { cb(img, err) })
}
