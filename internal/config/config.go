// Package config resolves chatshell settings from ~/.chatshell/config.toml and CHATSHELL_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvPrefix = "CHATSHELL"
	Dir       = ".chatshell"
	File      = "config.toml"
)

const (
	KeyServerURL      = "server.url"
	KeyServerAPIURL   = "server.api_url"
	KeyAuthIssuer     = "auth.issuer"
	KeyAuthClientID   = "auth.client_id"
	KeyAuthListen     = "auth.listen"
	KeyAuthTimeout    = "auth.timeout"
	KeyCacheDir       = "cache.dir"
	KeyCacheFreshFor  = "cache.fresh_for"
	KeyCacheMaxFetch  = "cache.max_fetches"
	KeyLogLevel       = "log.level"
	KeyLogPath        = "log.path"
	KeyProfilePath    = "profile.path"
	KeySecretsDir     = "secrets.dir"
	KeyTypingInterval = "typing.interval"
)

type Server struct {
	URL    string
	APIURL string
}

type Auth struct {
	Issuer   string
	ClientID string
	Listen   string
	Timeout  time.Duration
}

type Cache struct {
	Dir        string
	FreshFor   time.Duration
	MaxFetches int
}

type Log struct {
	Level string
	Path  string
}

type Config struct {
	Server         Server
	Auth           Auth
	Cache          Cache
	Log            Log
	ProfilePath    string
	SecretsDir     string
	TypingInterval time.Duration
	// File is the config file that was read, empty when none exists.
	File string
}

func New(home string) *viper.Viper {
	v := viper.New()
	root := filepath.Join(home, Dir)

	v.SetDefault(KeyServerURL, "wss://chat.chatshell.dev/v1/channel")
	v.SetDefault(KeyServerAPIURL, "https://chat.chatshell.dev/v1")
	v.SetDefault(KeyAuthIssuer, "https://auth.chatshell.dev")
	v.SetDefault(KeyAuthClientID, "chatshell-terminal")
	v.SetDefault(KeyAuthListen, "127.0.0.1:1455")
	v.SetDefault(KeyAuthTimeout, 5*time.Minute)
	v.SetDefault(KeyCacheDir, filepath.Join(root, "cache"))
	v.SetDefault(KeyCacheFreshFor, 24*time.Hour)
	v.SetDefault(KeyCacheMaxFetch, 4)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogPath, filepath.Join(root, "chatshell.log"))
	v.SetDefault(KeyProfilePath, filepath.Join(root, "profile.toml"))
	v.SetDefault(KeySecretsDir, filepath.Join(root, "secrets"))
	v.SetDefault(KeyTypingInterval, time.Second)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(filepath.Join(root, File))
	v.SetConfigType("toml")
	return v
}

func Load(v *viper.Viper) (Config, error) {
	file := v.ConfigFileUsed()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
		file = ""
	}

	cfg := Config{
		Server: Server{
			URL:    v.GetString(KeyServerURL),
			APIURL: v.GetString(KeyServerAPIURL),
		},
		Auth: Auth{
			Issuer:   v.GetString(KeyAuthIssuer),
			ClientID: v.GetString(KeyAuthClientID),
			Listen:   v.GetString(KeyAuthListen),
			Timeout:  v.GetDuration(KeyAuthTimeout),
		},
		Cache: Cache{
			Dir:        v.GetString(KeyCacheDir),
			FreshFor:   v.GetDuration(KeyCacheFreshFor),
			MaxFetches: v.GetInt(KeyCacheMaxFetch),
		},
		Log: Log{
			Level: v.GetString(KeyLogLevel),
			Path:  v.GetString(KeyLogPath),
		},
		ProfilePath:    v.GetString(KeyProfilePath),
		SecretsDir:     v.GetString(KeySecretsDir),
		TypingInterval: v.GetDuration(KeyTypingInterval),
		File:           file,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Server.URL == "" {
		errs = append(errs, errors.New(KeyServerURL+" is empty"))
	}
	if c.Auth.ClientID == "" {
		errs = append(errs, errors.New(KeyAuthClientID+" is empty"))
	}
	if c.Cache.MaxFetches < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %d", KeyCacheMaxFetch, c.Cache.MaxFetches))
	}
	if c.Auth.Timeout < 0 || c.Cache.FreshFor < 0 || c.TypingInterval < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
