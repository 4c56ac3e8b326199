package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string // secrets file account for secret keys
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "RANKWATCH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "RANKWATCH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "provider.base_url", typ: kString, env: "RANKWATCH_PROVIDER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Provider.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.BaseURL },
	},
	{
		key: "provider.login", typ: kString, env: "RANKWATCH_DATAFORSEO_LOGIN",
		apply:   func(cfg *Config, v any) { cfg.Provider.Login = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Login },
	},
	{
		key: "provider.password", typ: kString, env: "RANKWATCH_DATAFORSEO_PASSWORD",
		secret: true, account: "dataforseo_password",
		apply:   func(cfg *Config, v any) { cfg.Provider.Password = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Password },
	},
	{
		key: "provider.basic", typ: kString, env: "RANKWATCH_DATAFORSEO_BASIC",
		secret: true, account: "dataforseo_basic",
		apply:   func(cfg *Config, v any) { cfg.Provider.Basic = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Basic },
	},
	{
		key: "provider.target_domain", typ: kString, env: "RANKWATCH_TARGET_DOMAIN",
		apply:   func(cfg *Config, v any) { cfg.Provider.TargetDomain = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.TargetDomain },
	},
	{
		key: "provider.language_code", typ: kString, env: "RANKWATCH_PROVIDER_LANGUAGE_CODE",
		apply:   func(cfg *Config, v any) { cfg.Provider.LanguageCode = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.LanguageCode },
	},
	{
		key: "provider.device", typ: kString, env: "RANKWATCH_PROVIDER_DEVICE",
		apply:   func(cfg *Config, v any) { cfg.Provider.Device = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Device },
	},
	{
		key: "provider.os", typ: kString, env: "RANKWATCH_PROVIDER_OS",
		apply:   func(cfg *Config, v any) { cfg.Provider.OS = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.OS },
	},
	{
		key: "provider.depth", typ: kInt, env: "RANKWATCH_PROVIDER_DEPTH",
		apply:   func(cfg *Config, v any) { cfg.Provider.Depth = v.(int) },
		extract: func(cfg Config) any { return cfg.Provider.Depth },
	},
	{
		key: "log.level", typ: kString, env: "RANKWATCH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
