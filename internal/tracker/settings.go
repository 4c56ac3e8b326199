package tracker

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/kalambet/rankwatch/internal/storage"
)

// Setting keys in the settings table.
const (
	SettingBatchSize      = "batch_size"
	SettingSubmitInterval = "submit_interval_minutes"
	SettingFetchInterval  = "fetch_interval_minutes"
	SettingMaxPollRounds  = "max_poll_rounds"
)

// Settings are the tick parameters, read fresh at the start of every tick.
type Settings struct {
	BatchSize             int `json:"batch_size"`
	SubmitIntervalMinutes int `json:"submit_interval_minutes"`
	FetchIntervalMinutes  int `json:"fetch_interval_minutes"`
	MaxPollRounds         int `json:"max_poll_rounds"`
}

// DefaultSettings returns the values used for missing or out-of-range keys.
func DefaultSettings() Settings {
	return Settings{
		BatchSize:             50,
		SubmitIntervalMinutes: 5,
		FetchIntervalMinutes:  5,
		MaxPollRounds:         8,
	}
}

// SettingsReader looks up a single setting.
type SettingsReader interface {
	GetSetting(key string) (string, error)
}

type settingSpec struct {
	min, max int // max 0 means unbounded
	field    func(*Settings) *int
}

var settingSpecs = map[string]settingSpec{
	SettingBatchSize:      {min: 1, field: func(s *Settings) *int { return &s.BatchSize }},
	SettingSubmitInterval: {min: 1, max: 60, field: func(s *Settings) *int { return &s.SubmitIntervalMinutes }},
	SettingFetchInterval:  {min: 1, max: 60, field: func(s *Settings) *int { return &s.FetchIntervalMinutes }},
	SettingMaxPollRounds:  {min: 1, field: func(s *Settings) *int { return &s.MaxPollRounds }},
}

func (sp settingSpec) parse(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, value)
	}
	if n < sp.min || (sp.max > 0 && n > sp.max) {
		if sp.max > 0 {
			return 0, fmt.Errorf("%s: %d outside [%d,%d]", key, n, sp.min, sp.max)
		}
		return 0, fmt.Errorf("%s: %d must be at least %d", key, n, sp.min)
	}
	return n, nil
}

// LoadSettings reads every key, falling back to the default for keys that
// are missing, unparseable or out of range. A read error other than
// storage.ErrNotFound is returned along with the defaults.
func LoadSettings(r SettingsReader) (Settings, error) {
	s := DefaultSettings()
	for key, sp := range settingSpecs {
		v, err := r.GetSetting(key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return DefaultSettings(), fmt.Errorf("reading setting %s: %w", key, err)
		}
		n, err := sp.parse(key, v)
		if err != nil {
			continue
		}
		*sp.field(&s) = n
	}
	return s, nil
}

// ValidateSetting checks that key is known and value is within its range.
func ValidateSetting(key, value string) error {
	sp, ok := settingSpecs[key]
	if !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	_, err := sp.parse(key, value)
	return err
}

// SettingKeys returns the known setting keys in sorted order.
func SettingKeys() []string {
	keys := make([]string, 0, len(settingSpecs))
	for k := range settingSpecs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map renders s keyed by setting name.
func (s Settings) Map() map[string]int {
	out := make(map[string]int, len(settingSpecs))
	for key, sp := range settingSpecs {
		out[key] = *sp.field(&s)
	}
	return out
}
