package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Provider ProviderConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

// ProviderConfig holds the DataForSEO account and query parameters.
// Either Login+Password or a pre-encoded Basic token must be set before a
// tick can talk to the provider.
type ProviderConfig struct {
	BaseURL      string
	Login        string
	Password     string
	Basic        string
	TargetDomain string
	LanguageCode string
	Device       string
	OS           string
	Depth        int
}

type LogConfig struct {
	Level string
}

// HasCredentials reports whether some form of provider auth is configured.
func (p ProviderConfig) HasCredentials() bool {
	return (p.Login != "" && p.Password != "") || p.Basic != ""
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Provider: ProviderConfig{
			BaseURL:      "https://api.dataforseo.com",
			LanguageCode: "en",
			Device:       "desktop",
			OS:           "windows",
			Depth:        30,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at $RANKWATCH_CONFIG or
// $XDG_CONFIG_HOME/rankwatch/config.json, then applies RANKWATCH_*
// environment overrides, then fills provider secrets from the secrets file.
//
// Missing provider credentials are not an error here; ticks report them as
// configuration errors when they need the provider.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// Keychain abstracts secret storage for testing.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

const secretService = "rankwatch"

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg) != "" {
			continue
		}
		if v, err := kc.Get(secretService, s.account); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	return cfg, nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "rankwatch-data"
		}
	}
	return filepath.Join(dir, "rankwatch")
}
