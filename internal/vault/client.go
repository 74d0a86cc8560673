package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/vault/api"
)

// Client wraps the HashiCorp Vault API for KV secret access.
// The registry uses it as an optional source for the JWT signing key.
type Client struct {
	client *api.Client
}

// Config holds Vault configuration
type Config struct {
	Address string
	Token   string
}

// NewClient creates a new Vault client
func NewClient(cfg *Config) (*Client, error) {
	config := api.DefaultConfig()
	config.Address = cfg.Address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{client: client}, nil
}

// StoreSecret stores a secret in Vault KV v2
func (c *Client) StoreSecret(ctx context.Context, path string, data map[string]interface{}) error {
	secretPath := fmt.Sprintf("secret/data/%s", path)

	payload := map[string]interface{}{
		"data": data,
	}

	_, err := c.client.Logical().WriteWithContext(ctx, secretPath, payload)
	if err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}

	return nil
}

// GetSecret retrieves a secret from Vault KV v2
func (c *Client) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	secretPath := fmt.Sprintf("secret/data/%s", path)

	secret, err := c.client.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret not found")
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret data format")
	}

	return data, nil
}

// GetSigningKey reads the JWT signing key (a PEM string under the "key"
// field) from the configured KV path
func (c *Client) GetSigningKey(ctx context.Context, path string) (string, error) {
	data, err := c.GetSecret(ctx, path)
	if err != nil {
		return "", err
	}

	key, ok := data["key"].(string)
	if !ok || key == "" {
		return "", fmt.Errorf("signing key missing at %s", path)
	}

	return key, nil
}

// Health checks Vault health status
func (c *Client) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}

	if !health.Initialized {
		return fmt.Errorf("vault is not initialized")
	}

	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}

	return nil
}
