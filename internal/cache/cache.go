// Package cache memoizes signal decisions by a fingerprint of their input.
// One Cache belongs to one run; it is never shared between parallel runs.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"

	"trader/internal/model"
	"trader/internal/signal"
	"trader/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

type fingerprintInput struct {
	Context model.MarketContext `json:"context"`
	Config  any                 `json:"config"`
}

// Fingerprint is the hex SHA-256 of the canonical JSON encoding of mc and
// cfg. Map keys are sorted so equal inputs always hash equally.
func Fingerprint(mc model.MarketContext, cfg any) (string, error) {
	data, err := sonic.ConfigStd.Marshal(fingerprintInput{Context: mc, Config: cfg})
	if err != nil {
		return "", errors.Wrap(err, "encode fingerprint input")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Cache is a fingerprint -> signal map.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]model.Signal
	hits    uint64
	misses  uint64
}

func New() *Cache {
	return &Cache{entries: make(map[string]model.Signal)}
}

// Get returns the cached signal and counts the hit or miss.
func (c *Cache) Get(key string) (model.Signal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sig, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return sig, ok
}

func (c *Cache) Put(key string, sig model.Signal) {
	c.mu.Lock()
	c.entries[key] = sig
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) Hits() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits
}

func (c *Cache) Misses() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.misses
}

type cacheFile struct {
	Entries map[string]model.Signal `json:"entries"`
}

// Save writes every entry to path.
func (c *Cache) Save(path string) error {
	c.mu.RLock()
	data, err := sonic.ConfigStd.Marshal(cacheFile{Entries: c.entries})
	c.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Load merges the entries stored at path. A missing file is not an error.
func (c *Cache) Load(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var file cacheFile
	if err := sonic.Unmarshal(data, &file); err != nil {
		return errors.Wrap(exception.ErrDataIntegrity, "decision cache "+path+": "+err.Error())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range file.Entries {
		c.entries[k] = v
	}
	return nil
}

// Cached serves repeated contexts from cache and asks the provider on a
// miss. Provider errors are returned and never cached.
func Cached(provider signal.Provider, c *Cache, cfg any) signal.Provider {
	return signal.ProviderFunc(func(ctx context.Context, mc model.MarketContext) (model.Signal, error) {
		key, err := Fingerprint(mc, cfg)
		if err != nil {
			return model.Signal{}, err
		}
		if sig, ok := c.Get(key); ok {
			return sig, nil
		}
		sig, err := provider.Signal(ctx, mc)
		if err != nil {
			return model.Signal{}, err
		}
		sig = sig.Normalize()
		c.Put(key, sig)
		return sig, nil
	})
}
