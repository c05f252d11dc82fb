// Package secret fetches credentials once and hands out the cached value.
package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

var ErrEmpty = errors.New("secret is empty")

// Fetcher loads a secret from its source.
type Fetcher func(ctx context.Context) (string, error)

// Static always returns value.
func Static(value string) Fetcher {
	return func(context.Context) (string, error) {
		if value == "" {
			return "", ErrEmpty
		}
		return value, nil
	}
}

// FromFile reads a secret from path, trimming surrounding whitespace.
func FromFile(path string) Fetcher {
	return func(context.Context) (string, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read secret file: %w", err)
		}
		v := strings.TrimSpace(string(b))
		if v == "" {
			return "", fmt.Errorf("%s: %w", path, ErrEmpty)
		}
		return v, nil
	}
}

// FileOrValue prefers the file when path is set.
func FileOrValue(path, value string) Fetcher {
	if path != "" {
		return FromFile(path)
	}
	return Static(value)
}

// Cache calls its Fetcher on first use and returns the same value until Reset.
// Failed fetches are not cached.
type Cache struct {
	fetch Fetcher

	mu     sync.Mutex
	value  string
	loaded bool
}

func NewCache(fetch Fetcher) *Cache {
	return &Cache{fetch: fetch}
}

func (c *Cache) Get(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return c.value, nil
	}
	v, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.value = v
	c.loaded = true
	return v, nil
}

// Reset drops the cached value so the next Get fetches again.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.value = ""
	c.loaded = false
	c.mu.Unlock()
}
