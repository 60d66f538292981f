// config.go - Configuration management for the anonpay daemon
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"anonpay/internal/params"
)

// Config represents the daemon configuration
type Config struct {
	// Protocol settings
	Protocol     params.Params       `json:"protocol"`
	PrivacyLevel params.PrivacyLevel `json:"privacy_level"`

	// Simulation settings
	NumParticipants int    `json:"num_participants"`
	NotesPerWallet  int    `json:"notes_per_wallet"`
	NoteAmount      uint64 `json:"note_amount"`
	Fee             uint64 `json:"fee"`
	Seed            string `json:"seed,omitempty"`

	// File paths
	LedgerPath string `json:"ledger_path"`
	WalletDir  string `json:"wallet_dir"`
	ExportDir  string `json:"export_dir,omitempty"`

	// Logging
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`

	// Performance
	TimeoutSeconds int `json:"timeout_seconds"`

	// Security
	EnableAudit  bool   `json:"enable_audit"`
	AuditLogPath string `json:"audit_log_path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Protocol:        params.Default(),
		PrivacyLevel:    params.Standard,
		NumParticipants: 4,
		NotesPerWallet:  8,
		NoteAmount:      100,
		Fee:             1,
		LedgerPath:      "ledger",
		WalletDir:       "wallets",
		LogLevel:        "info",
		LogFile:         "anonpayd.log",
		TimeoutSeconds:  120,
		EnableAudit:     true,
		AuditLogPath:    "audit.log",
	}
}

// LoadConfig loads configuration from file or creates default
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		// Missing keys keep their defaults.
		config := DefaultConfig()
		if err := json.NewDecoder(file).Decode(config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		return config, nil
	}

	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}
	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Protocol.Validate(); err != nil {
		return err
	}
	if !c.PrivacyLevel.Valid() {
		return fmt.Errorf("privacy_level %d is not a known level", c.PrivacyLevel)
	}
	if c.NumParticipants < 2 {
		return fmt.Errorf("num_participants must be at least 2")
	}
	if c.NotesPerWallet <= 0 {
		return fmt.Errorf("notes_per_wallet must be positive")
	}
	if n := c.NumParticipants * c.NotesPerWallet; n < c.PrivacyLevel.DecoyCount() {
		return fmt.Errorf("%d issued notes cannot fill a %s anonymity set of %d", n, c.PrivacyLevel, c.PrivacyLevel.DecoyCount())
	}
	if c.NoteAmount <= c.Fee {
		return fmt.Errorf("note_amount must exceed fee")
	}
	if c.LedgerPath == "" {
		return fmt.Errorf("ledger_path must be set")
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	return nil
}
