package tracker

import (
	"errors"
	"testing"

	"github.com/kalambet/rankwatch/internal/storage"
)

type mapSettings map[string]string

func (m mapSettings) GetSetting(key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

type failingSettings struct{}

func (failingSettings) GetSetting(string) (string, error) { return "", errors.New("disk gone") }

func TestLoadSettings(t *testing.T) {
	tests := []struct {
		name string
		in   mapSettings
		want Settings
	}{
		{"defaults", mapSettings{}, Settings{50, 5, 5, 8}},
		{"overrides", mapSettings{
			SettingBatchSize:      "20",
			SettingSubmitInterval: "1",
			SettingFetchInterval:  "60",
			SettingMaxPollRounds:  "3",
		}, Settings{20, 1, 60, 3}},
		{"out of range", mapSettings{
			SettingBatchSize:      "0",
			SettingSubmitInterval: "61",
			SettingFetchInterval:  "0",
			SettingMaxPollRounds:  "-1",
		}, Settings{50, 5, 5, 8}},
		{"not a number", mapSettings{SettingBatchSize: "lots"}, Settings{50, 5, 5, 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadSettings(tt.in)
			if err != nil {
				t.Fatalf("LoadSettings: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoadSettings_ReadError(t *testing.T) {
	got, err := LoadSettings(failingSettings{})
	if err == nil {
		t.Fatal("expected error")
	}
	if got != DefaultSettings() {
		t.Errorf("got %+v, want defaults", got)
	}
}

func TestValidateSetting(t *testing.T) {
	tests := []struct {
		key, value string
		ok         bool
	}{
		{SettingBatchSize, "100", true},
		{SettingBatchSize, "0", false},
		{SettingSubmitInterval, "60", true},
		{SettingSubmitInterval, "61", false},
		{SettingFetchInterval, "x", false},
		{"unknown", "1", false},
	}
	for _, tt := range tests {
		err := ValidateSetting(tt.key, tt.value)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateSetting(%q, %q) = %v, want ok=%v", tt.key, tt.value, err, tt.ok)
		}
	}
}

func TestSettingKeysAndMap(t *testing.T) {
	keys := SettingKeys()
	if len(keys) != 4 || keys[0] != SettingBatchSize {
		t.Errorf("keys = %v", keys)
	}
	m := DefaultSettings().Map()
	if m[SettingMaxPollRounds] != 8 || m[SettingFetchInterval] != 5 {
		t.Errorf("map = %v", m)
	}
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{storage.StatusSubmitted, storage.StatusPending, true},
		{storage.StatusSubmitted, storage.StatusFetched, true},
		{storage.StatusPending, storage.StatusPending, true},
		{storage.StatusPending, storage.StatusFetched, true},
		{storage.StatusPending, storage.StatusError, true},
		{storage.StatusPending, storage.StatusSubmitted, false},
		{storage.StatusFetched, storage.StatusPending, false},
		{storage.StatusError, storage.StatusFetched, false},
	}
	for _, tt := range tests {
		if got := IsValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("IsValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
