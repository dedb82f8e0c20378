// Package storage persists the small key/value items an identity backend
// keeps between runs, such as the current session and a PKCE verifier.
package storage

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TypeMemory = "memory"
	TypeFile   = "file"
	TypeRedis  = "redis"
)

// Store is a string key/value store.
type Store interface {
	// GetItem returns ok=false when key is not set.
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

// Config selects and configures a Store.
type Config struct {
	Type      string `yaml:"type"`
	Path      string `yaml:"path"`
	RedisURL  string `yaml:"redis_url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// DefaultConfig returns an in-memory configuration.
func DefaultConfig() Config {
	return Config{
		Type:      TypeMemory,
		KeyPrefix: "sb",
	}
}

// Validate checks the settings required by the selected type.
func (c Config) Validate() error {
	switch c.Type {
	case "", TypeMemory:
	case TypeFile:
		if c.Path == "" {
			return goerrors.New("storage path is required for file storage", goerrors.CategoryBadInput).
				WithCode(goerrors.CodeBadRequest)
		}
	case TypeRedis:
		if c.RedisURL == "" {
			return goerrors.New("redis url is required for redis storage", goerrors.CategoryBadInput).
				WithCode(goerrors.CodeBadRequest)
		}
	default:
		return goerrors.New("invalid storage type", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"type": c.Type})
	}
	return nil
}

// Open builds the Store described by cfg.
func Open(cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case TypeFile:
		return NewFileStore(cfg.Path)
	case TypeRedis:
		return NewRedisStoreFromURL(cfg.RedisURL, cfg.KeyPrefix)
	default:
		return NewMemoryStore(), nil
	}
}
