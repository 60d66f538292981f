package main

import (
	"os"
	"path/filepath"
	"testing"

	"anonpay/internal/params"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "anonpayd.json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.NumParticipants != DefaultConfig().NumParticipants {
		t.Errorf("NumParticipants = %d, want default", cfg.NumParticipants)
	}
}

func TestLoadConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anonpayd.json")
	if err := os.WriteFile(path, []byte(`{"num_participants": 7, "privacy_level": "enhanced"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.NumParticipants != 7 {
		t.Errorf("NumParticipants = %d, want 7", cfg.NumParticipants)
	}
	if cfg.PrivacyLevel != params.Enhanced {
		t.Errorf("PrivacyLevel = %s, want enhanced", cfg.PrivacyLevel)
	}
	if cfg.Protocol != params.Default() {
		t.Errorf("Protocol = %+v, want defaults", cfg.Protocol)
	}
	if cfg.NoteAmount != DefaultConfig().NoteAmount {
		t.Errorf("NoteAmount = %d, want default", cfg.NoteAmount)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anonpayd.json")
	want := DefaultConfig()
	want.Seed = "fixed"
	want.PrivacyLevel = params.Maximum
	want.NotesPerWallet = 32

	if err := SaveConfig(want, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if *got != *want {
		t.Errorf("got %+v\nwant %+v", got, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"one participant", func(c *Config) { c.NumParticipants = 1 }},
		{"no notes", func(c *Config) { c.NotesPerWallet = 0 }},
		{"anonymity set too large", func(c *Config) { c.PrivacyLevel = params.Maximum }},
		{"unknown level", func(c *Config) { c.PrivacyLevel = 9 }},
		{"fee eats note", func(c *Config) { c.Fee = c.NoteAmount }},
		{"no ledger", func(c *Config) { c.LedgerPath = "" }},
		{"no timeout", func(c *Config) { c.TimeoutSeconds = 0 }},
		{"bad protocol", func(c *Config) { c.Protocol.MaxInputs = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}
}
