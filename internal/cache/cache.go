// Package cache stores finished transcripts keyed by the content hash and
// extension of the uploaded audio.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const keyPrefix = "asr:transcript:"

type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Key returns the cache key for an upload. ext picks the decoder, so it is
// part of the key; the rest of the filename is not.
func Key(ext string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(ext)))
	h.Write([]byte{0})
	h.Write(data)
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// NopCache never hits and never stores
type NopCache struct{}

func (NopCache) GetJSON(ctx context.Context, key string, dst any) (bool, error) { return false, nil }

func (NopCache) SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error {
	return nil
}

func (NopCache) Del(ctx context.Context, keys ...string) error { return nil }
