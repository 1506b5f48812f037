package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name in the OS keychain
	KeyringService = "gitpulse"

	// KeyringNeo4jPasswordItem holds the password for the graph export target
	KeyringNeo4jPasswordItem = "neo4j-password"
)

// KeyringManager handles secure credential storage in OS keychain
type KeyringManager struct {
	logger *slog.Logger
}

// NewKeyringManager creates a new keyring manager
func NewKeyringManager() *KeyringManager {
	return &KeyringManager{
		logger: slog.Default().With("component", "keyring"),
	}
}

// SaveNeo4jPassword stores the export password in the OS keychain
// (Keychain on macOS, Credential Manager on Windows, Secret Service on Linux).
func (km *KeyringManager) SaveNeo4jPassword(password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if err := keyring.Set(KeyringService, KeyringNeo4jPasswordItem, password); err != nil {
		km.logger.Error("failed to save neo4j password to keychain", "error", err)
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}
	km.logger.Info("neo4j password saved to keychain", "service", KeyringService)
	return nil
}

// GetNeo4jPassword returns "" without error when nothing is stored
func (km *KeyringManager) GetNeo4jPassword() (string, error) {
	password, err := keyring.Get(KeyringService, KeyringNeo4jPasswordItem)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		km.logger.Debug("failed to read neo4j password from keychain", "error", err)
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}
	return password, nil
}

// DeleteNeo4jPassword removes the stored password. Missing is not an error.
func (km *KeyringManager) DeleteNeo4jPassword() error {
	err := keyring.Delete(KeyringService, KeyringNeo4jPasswordItem)
	if err == keyring.ErrNotFound {
		return nil
	}
	if err != nil {
		km.logger.Error("failed to delete neo4j password from keychain", "error", err)
		return fmt.Errorf("failed to delete from OS keychain: %w", err)
	}
	km.logger.Info("neo4j password deleted from keychain")
	return nil
}

// IsAvailable returns false on headless systems (CI) without a keychain
func (km *KeyringManager) IsAvailable() bool {
	_, err := keyring.Get(KeyringService, "test-availability")
	if err == nil || err == keyring.ErrNotFound {
		return true
	}
	km.logger.Debug("keychain not available", "error", err)
	return false
}

// PasswordSource reports where the Neo4j password comes from
type PasswordSource struct {
	Source      string // "env", "keychain", "config", "none"
	Secure      bool
	Recommended string
}

// ResolveNeo4jPassword fills cfg.Neo4j.Password from the keychain when the
// environment and config file left it empty, and reports the source.
func (km *KeyringManager) ResolveNeo4jPassword(cfg *Config) PasswordSource {
	if os.Getenv("NEO4J_PASSWORD") != "" {
		return PasswordSource{Source: "env", Secure: true, Recommended: "Using environment variable (good for CI)"}
	}
	if cfg.Neo4j.Password != "" {
		return PasswordSource{
			Source:      "config",
			Recommended: "Plaintext storage detected. Run: gitpulse config set-password",
		}
	}
	if password, _ := km.GetNeo4jPassword(); password != "" {
		cfg.Neo4j.Password = password
		return PasswordSource{Source: "keychain", Secure: true, Recommended: "Stored securely in OS keychain"}
	}
	return PasswordSource{Source: "none", Recommended: "No password configured. Set NEO4J_PASSWORD or run: gitpulse config set-password"}
}

// MaskSecret shows only the first and last two characters
func MaskSecret(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) < 8 {
		return "***"
	}
	return fmt.Sprintf("%s...%s", secret[:2], secret[len(secret)-2:])
}
