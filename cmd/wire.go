package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	authadapter "github.com/bnema/chatshell/internal/adapters/auth"
	"github.com/bnema/chatshell/internal/adapters/fetch/httpfetch"
	"github.com/bnema/chatshell/internal/adapters/remote/ws"
	tomlrepo "github.com/bnema/chatshell/internal/adapters/repo/toml"
	chainstore "github.com/bnema/chatshell/internal/adapters/secrets/chain"
	"github.com/bnema/chatshell/internal/application"
	"github.com/bnema/chatshell/internal/config"
	"github.com/bnema/chatshell/internal/domain"
	"github.com/bnema/chatshell/internal/logging"
	"github.com/bnema/chatshell/internal/ports"
	"github.com/bnema/chatshell/internal/resourcecache"
	"github.com/bnema/chatshell/internal/uiloop"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const drainTimeout = 10 * time.Second

type wireOptions struct {
	Verbose bool
	Stderr  io.Writer
}

type app struct {
	cfg        config.Config
	viper      *viper.Viper
	log        zerolog.Logger
	logCloser  io.Closer
	fs         afero.Fs
	ui         *uiloop.Loop
	creds      *application.Credentials
	profiles   *tomlrepo.Repository
	httpClient *http.Client
	clock      ports.Clock
}

func wireApp(opts wireOptions) (*app, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	v := config.New(homeDir)
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	fs := afero.NewOsFs()
	log, logCloser, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Path:    cfg.Log.Path,
		Verbose: opts.Verbose,
		Console: opts.Stderr,
		Fs:      fs,
	})
	if err != nil {
		return nil, fmt.Errorf("wire logger: %w", err)
	}

	secretStore, err := chainstore.NewPassFirstWithFileFallback(fs, cfg.SecretsDir, log)
	if err != nil {
		_ = logCloser.Close()
		return nil, fmt.Errorf("wire secret store chain: %w", err)
	}

	repo, err := tomlrepo.NewRepository(v)
	if err != nil {
		_ = logCloser.Close()
		return nil, fmt.Errorf("wire profile repository: %w", err)
	}

	ui := uiloop.New(uiloop.WithLogger(log))
	return &app{
		cfg:        cfg,
		viper:      v,
		log:        log,
		logCloser:  logCloser,
		fs:         fs,
		ui:         ui,
		creds:      application.NewCredentials(secretStore, ui, log),
		profiles:   repo,
		httpClient: http.DefaultClient,
		clock:      ports.SystemClock{},
	}, nil
}

func (a *app) Close() error {
	return a.logCloser.Close()
}

func (a *app) newService(handlers application.Handlers) *application.Service {
	return application.NewService(application.Options{
		Authenticator: authadapter.TokenClient{
			API:        authadapter.API{BaseURL: a.cfg.Auth.Issuer, TokenPath: "/oauth/token"},
			ClientID:   a.cfg.Auth.ClientID,
			HTTPClient: a.httpClient,
			Clock:      a.clock,
		},
		Dial:           a.dial,
		Credentials:    a.creds,
		UI:             a.ui,
		Profiles:       a.profiles,
		Clock:          a.clock,
		Logger:         a.log,
		Handlers:       handlers,
		TypingInterval: a.cfg.TypingInterval,
	})
}

func (a *app) dial(grant domain.Grant) (ports.ChatService, error) {
	if a.cfg.Server.URL == "" {
		return nil, fmt.Errorf("%w: server url is not configured", domain.ErrNetwork)
	}
	return ws.New(ws.Config{
		URL:        a.cfg.Server.URL,
		UploadURL:  strings.TrimRight(a.cfg.Server.APIURL, "/") + "/upload",
		HTTPClient: a.httpClient,
		Log:        a.log,
	}, grant), nil
}

func (a *app) browserFlow() authadapter.BrowserFlow {
	return authadapter.BrowserFlow{
		AuthURL:    strings.TrimRight(a.cfg.Auth.Issuer, "/") + "/oauth/authorize",
		ClientID:   a.cfg.Auth.ClientID,
		Scopes:     []string{"openid", "profile", "email", "offline_access"},
		ListenAddr: a.cfg.Auth.Listen,
		Timeout:    a.cfg.Auth.Timeout,
		Log:        a.log,
	}
}

func (a *app) newCache() *resourcecache.Cache {
	return resourcecache.New(
		httpfetch.Fetcher{HTTPClient: a.httpClient},
		a.ui,
		resourcecache.WithDisk(resourcecache.NewDisk(a.fs, a.cfg.Cache.Dir)),
		resourcecache.WithClock(a.clock),
		resourcecache.WithFreshFor(a.cfg.Cache.FreshFor),
		resourcecache.WithMaxFetches(a.cfg.Cache.MaxFetches),
		resourcecache.WithLogger(a.log),
	)
}

// await holds the UI loop, starts op and runs posted callbacks until op calls done.
func (a *app) await(ctx context.Context, op func(done func())) error {
	a.ui.Hold()
	op(a.ui.Release)
	return a.ui.Drain(ctx)
}

// drain runs the callbacks left behind by a session that outlived its front end.
func (a *app) drain(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	return a.ui.Drain(ctx)
}

// signedIn reports whether a refresh token is stored. The lookup also warms the credential
// cache for the session.
func (a *app) signedIn(ctx context.Context) (bool, error) {
	var (
		token     string
		lookupErr error
	)
	err := a.await(ctx, func(done func()) {
		a.creds.GetCached(func(value string, err error) {
			defer done()
			token, lookupErr = value, err
		})
	})
	if err != nil {
		return false, err
	}
	if lookupErr != nil {
		return false, lookupErr
	}
	return token != "", nil
}
