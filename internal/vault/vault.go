// Package vault resolves which API key to use for a provider call.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"llm_fanout/internal/apperr"
	"llm_fanout/internal/models"
	"llm_fanout/internal/storage"
	"llm_fanout/internal/utils"
)

// Credential is a resolved, plaintext API key. It lives only for one call.
type Credential struct {
	APIKey  string
	KeyType models.KeyType
}

// SettingsStore is the part of the settings repository the vault needs.
type SettingsStore interface {
	Get(ctx context.Context, userID string) (*models.UserSettings, error)
	SetEncryptedKey(ctx context.Context, userID string, provider models.ProviderType, blob string) error
	RemoveEncryptedKey(ctx context.Context, userID string, provider models.ProviderType) error
}

// Cipher encrypts and decrypts credential blobs.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

// Vault resolves credentials from user settings or the platform keys.
type Vault struct {
	settings     SettingsStore
	cipher       Cipher
	platformKeys map[models.ProviderType]string
	logger       *utils.Logger
}

// New creates a vault. platformKeys holds the operator's key per provider; a
// missing entry means that provider cannot be used on platform credits.
func New(settings SettingsStore, cipher Cipher, platformKeys map[models.ProviderType]string) *Vault {
	keys := make(map[models.ProviderType]string, len(platformKeys))
	for p, k := range platformKeys {
		if k != "" {
			keys[p] = k
		}
	}
	return &Vault{
		settings:     settings,
		cipher:       cipher,
		platformKeys: keys,
		logger:       utils.NewLogger("vault"),
	}
}

// Settings returns the user's settings, or the defaults when none were saved.
func (v *Vault) Settings(ctx context.Context, userID string) (*models.UserSettings, error) {
	s, err := v.settings.Get(ctx, userID)
	if errors.Is(err, storage.ErrSettingsNotFound) {
		return models.DefaultUserSettings(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load settings: %v", apperr.ErrPersistence, err)
	}
	return s, nil
}

// Resolve picks the credential for one call. Platform credentials are used
// when the user opted into them; otherwise the user's stored key is decrypted.
func (v *Vault) Resolve(ctx context.Context, userID string, provider models.ProviderType) (Credential, error) {
	settings, err := v.Settings(ctx, userID)
	if err != nil {
		return Credential{}, err
	}

	if settings.UseProvidedKeys {
		key, ok := v.platformKeys[provider]
		if !ok {
			return Credential{}, fmt.Errorf("%w: no platform key for %s", apperr.ErrNotConfigured, provider)
		}
		return Credential{APIKey: key, KeyType: models.KeyTypeProvided}, nil
	}

	if !settings.HasKey(provider) {
		return Credential{}, fmt.Errorf("%w: no stored key for %s", apperr.ErrNotConfigured, provider)
	}

	key, err := v.cipher.Decrypt(settings.EncryptedKeys[string(provider)])
	if err != nil {
		v.logger.Warn("Stored credential failed to decrypt", "user_id", userID, "provider", provider)
		return Credential{}, fmt.Errorf("%w: %s", apperr.ErrDecryptionFailed, provider)
	}

	return Credential{APIKey: key, KeyType: models.KeyTypeUser}, nil
}

// StoreCredential encrypts and saves a user's key for a provider.
func (v *Vault) StoreCredential(ctx context.Context, userID string, provider models.ProviderType, apiKey string) error {
	if !provider.Valid() {
		return fmt.Errorf("%w: unknown provider %q", apperr.ErrInvalidRequest, provider)
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return fmt.Errorf("%w: api key is empty", apperr.ErrInvalidRequest)
	}

	blob, err := v.cipher.Encrypt(apiKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	if err := v.settings.SetEncryptedKey(ctx, userID, provider, blob); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}

	v.logger.Info("Stored provider credential", "user_id", userID, "provider", provider)
	return nil
}

// RemoveCredential deletes a user's stored key for a provider.
func (v *Vault) RemoveCredential(ctx context.Context, userID string, provider models.ProviderType) error {
	if !provider.Valid() {
		return fmt.Errorf("%w: unknown provider %q", apperr.ErrInvalidRequest, provider)
	}
	if err := v.settings.RemoveEncryptedKey(ctx, userID, provider); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}
	return nil
}
