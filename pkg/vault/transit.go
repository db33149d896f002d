package vault

import (
	"context"
	"encoding/base64"
	"fmt"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/errors"
)

// TransitVault encrypts credentials through a HashiCorp Vault transit
// engine, so key material never enters this process.
type TransitVault struct {
	client *vaultapi.Client
	mount  string
	key    string
}

// TransitConfig configures the Vault transit adapter.
type TransitConfig struct {
	Address string `yaml:"address"`
	Token   string `yaml:"token"`
	Mount   string `yaml:"mount"` // transit mount path, default "transit"
	Key     string `yaml:"key"`   // named encryption key
}

// NewTransitVault creates a transit-engine credential vault.
func NewTransitVault(cfg TransitConfig) (*TransitVault, error) {
	if cfg.Key == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "transit vault requires a key name")
	}
	if cfg.Mount == "" {
		cfg.Mount = "transit"
	}

	apiCfg := vaultapi.DefaultConfig()
	apiCfg.Address = cfg.Address

	client, err := vaultapi.NewClient(apiCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create vault client")
	}
	client.SetToken(cfg.Token)

	return &TransitVault{client: client, mount: cfg.Mount, key: cfg.Key}, nil
}

// Encrypt seals the plaintext via the transit engine.
func (v *TransitVault) Encrypt(ctx context.Context, plaintext string) (string, error) {
	path := fmt.Sprintf("%s/encrypt/%s", v.mount, v.key)
	secret, err := v.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString([]byte(plaintext)),
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConnection, "transit encrypt failed")
	}

	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok {
		return "", errors.New(errors.ErrorTypeInternal, "transit encrypt returned no ciphertext")
	}
	return ciphertext, nil
}

// Decrypt opens a transit ciphertext.
func (v *TransitVault) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	path := fmt.Sprintf("%s/decrypt/%s", v.mount, v.key)
	secret, err := v.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"ciphertext": ciphertext,
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConnection, "transit decrypt failed")
	}

	encoded, ok := secret.Data["plaintext"].(string)
	if !ok {
		return "", errors.New(errors.ErrorTypeInternal, "transit decrypt returned no plaintext")
	}

	plaintext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "transit plaintext is not valid base64")
	}
	return string(plaintext), nil
}
