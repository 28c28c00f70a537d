// Package tiering moves collection segments and manifests between
// storage tiers of different cost and latency as they age, and serves
// reads from whichever tier currently holds an object.
package tiering

import (
	"fmt"
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/barqdb/barq/internal/objectstore"
)

// StorageTier identifies where an object currently lives.
type StorageTier int

const (
	TierHot StorageTier = iota
	TierWarm
	TierCold
)

func (t StorageTier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierWarm:
		return "warm"
	case TierCold:
		return "cold"
	default:
		return "unknown"
	}
}

// TierConfig bounds how long and how much an individual tier holds
// before the policy moves or deletes an object.
type TierConfig struct {
	MaxAge       time.Duration
	MaxSizeBytes int64 // 0 means unbounded
	Enabled      bool
}

// TieringPolicy governs age-based promotion between tiers. Objects
// older than Hot.MaxAge move to Warm, older than Warm.MaxAge move to
// Cold, and older than Cold.MaxAge are deleted outright.
type TieringPolicy struct {
	Hot           TierConfig
	Warm          TierConfig
	Cold          TierConfig
	CheckInterval time.Duration
}

// DefaultPolicy mirrors common lifecycle defaults: a day of hot
// retention capped at 10GB, a month of warm retention, and a year in
// cold storage before deletion.
func DefaultPolicy() TieringPolicy {
	return TieringPolicy{
		Hot: TierConfig{
			MaxAge:       24 * time.Hour,
			MaxSizeBytes: 10 * 1024 * 1024 * 1024,
			Enabled:      true,
		},
		Warm: TierConfig{
			MaxAge:  30 * 24 * time.Hour,
			Enabled: true,
		},
		Cold: TierConfig{
			MaxAge:  365 * 24 * time.Hour,
			Enabled: true,
		},
		CheckInterval: time.Hour,
	}
}

// ObjectInfo tracks the lifecycle metadata the policy needs for a
// single tiered object.
type ObjectInfo struct {
	Key          string
	Tier         StorageTier
	SizeBytes    int64
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int64
}

// Stats summarizes one EnforcePolicy pass.
type Stats struct {
	MovedToWarm  int
	MovedToCold  int
	Deleted      int
	BytesMoved   int64
	BytesDeleted int64
}

// TierStats summarizes current occupancy per tier.
type TierStats struct {
	HotObjects, WarmObjects, ColdObjects int
	HotBytes, WarmBytes, ColdBytes       int64
}

// Manager routes uploads/downloads across Hot/Warm/Cold stores and
// enforces a TieringPolicy on demand. Warm and Cold are optional: a
// Manager constructed with only a Hot store behaves like a plain
// object store with lifecycle metadata tracked but never enforced
// across tiers it does not have.
type Manager struct {
	hot, warm, cold objectstore.Store
	policy          TieringPolicy

	mu       sync.RWMutex
	metadata map[string]ObjectInfo

	cache *lru.Cache[string, []byte]
}

// New creates a Manager with only a hot tier, wrapped for retry.
func New(hot objectstore.Store) *Manager {
	return WithTiers(hot, nil, nil, DefaultPolicy())
}

// WithTiers creates a Manager across up to three tiers. warm and cold
// may be nil if those tiers are not provisioned. Every non-nil store
// is wrapped in a RetryingStore.
func WithTiers(hot, warm, cold objectstore.Store, policy TieringPolicy) *Manager {
	m := &Manager{
		hot:      wrapRetrying(hot),
		warm:     wrapRetrying(warm),
		cold:     wrapRetrying(cold),
		policy:   policy,
		metadata: make(map[string]ObjectInfo),
	}
	if cache, err := lru.New[string, []byte](256); err == nil {
		m.cache = cache
	}
	return m
}

func wrapRetrying(s objectstore.Store) objectstore.Store {
	if s == nil {
		return nil
	}
	return objectstore.NewRetryingStore(s)
}

func (m *Manager) storeFor(tier StorageTier) objectstore.Store {
	switch tier {
	case TierHot:
		return m.hot
	case TierWarm:
		return m.warm
	case TierCold:
		return m.cold
	default:
		return nil
	}
}

// Upload writes localPath to key in the hot tier and records its
// lifecycle metadata.
func (m *Manager) Upload(key, localPath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("tiering: stat %s: %w", localPath, err)
	}
	if err := m.hot.UploadFile(localPath, key); err != nil {
		return fmt.Errorf("tiering: upload %s: %w", key, err)
	}

	now := m.now()
	m.mu.Lock()
	m.metadata[key] = ObjectInfo{
		Key:          key,
		Tier:         TierHot,
		SizeBytes:    info.Size(),
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  0,
	}
	m.mu.Unlock()

	if m.cache != nil {
		m.cache.Remove(key)
	}
	return nil
}

// Download fetches key to localPath from whichever tier currently
// holds it, returning that tier and bumping access metadata.
func (m *Manager) Download(key, localPath string) (StorageTier, error) {
	m.mu.RLock()
	info, ok := m.metadata[key]
	m.mu.RUnlock()
	if !ok {
		return TierHot, objectstore.ErrNotFound
	}

	store := m.storeFor(info.Tier)
	if store == nil {
		return info.Tier, fmt.Errorf("tiering: tier %s not provisioned for key %s", info.Tier, key)
	}
	if err := store.DownloadFile(key, localPath); err != nil {
		return info.Tier, fmt.Errorf("tiering: download %s from %s: %w", key, info.Tier, err)
	}

	m.mu.Lock()
	info.LastAccessed = m.now()
	info.AccessCount++
	m.metadata[key] = info
	m.mu.Unlock()

	return info.Tier, nil
}

// MoveToTier relocates key from its current tier to target: download
// to a temp file, upload to target, delete from the source, then
// update metadata. The object is left in its original tier if any
// step fails, so a failed move is always recoverable by retrying.
func (m *Manager) MoveToTier(key string, target StorageTier) error {
	m.mu.RLock()
	info, ok := m.metadata[key]
	m.mu.RUnlock()
	if !ok {
		return objectstore.ErrNotFound
	}
	if info.Tier == target {
		return nil
	}

	srcStore := m.storeFor(info.Tier)
	dstStore := m.storeFor(target)
	if srcStore == nil || dstStore == nil {
		return fmt.Errorf("tiering: move %s: tier %s or %s not provisioned", key, info.Tier, target)
	}

	tmp, err := os.CreateTemp("", "barq-tiering-*")
	if err != nil {
		return fmt.Errorf("tiering: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := srcStore.DownloadFile(key, tmpPath); err != nil {
		return fmt.Errorf("tiering: download %s from %s: %w", key, info.Tier, err)
	}
	if err := dstStore.UploadFile(tmpPath, key); err != nil {
		return fmt.Errorf("tiering: upload %s to %s: %w", key, target, err)
	}
	if err := srcStore.Delete(key); err != nil {
		return fmt.Errorf("tiering: delete %s from %s after move: %w", key, info.Tier, err)
	}

	m.mu.Lock()
	info.Tier = target
	m.metadata[key] = info
	m.mu.Unlock()

	if m.cache != nil {
		m.cache.Remove(key)
	}
	return nil
}

// EnforcePolicy walks every tracked object and promotes or deletes it
// according to age thresholds: Hot past Hot.MaxAge moves to Warm (if
// provisioned), Warm past Warm.MaxAge moves to Cold (if provisioned),
// and Cold past Cold.MaxAge is deleted.
func (m *Manager) EnforcePolicy() (Stats, error) {
	var stats Stats
	now := m.now()

	m.mu.RLock()
	keys := make([]string, 0, len(m.metadata))
	for k := range m.metadata {
		keys = append(keys, k)
	}
	m.mu.RUnlock()

	for _, key := range keys {
		m.mu.RLock()
		info, ok := m.metadata[key]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		age := now.Sub(info.CreatedAt)

		switch info.Tier {
		case TierHot:
			if m.policy.Hot.Enabled && age > m.policy.Hot.MaxAge && m.warm != nil {
				if err := m.MoveToTier(key, TierWarm); err != nil {
					return stats, err
				}
				stats.MovedToWarm++
				stats.BytesMoved += info.SizeBytes
			}
		case TierWarm:
			if m.policy.Warm.Enabled && age > m.policy.Warm.MaxAge && m.cold != nil {
				if err := m.MoveToTier(key, TierCold); err != nil {
					return stats, err
				}
				stats.MovedToCold++
				stats.BytesMoved += info.SizeBytes
			}
		case TierCold:
			if m.policy.Cold.Enabled && age > m.policy.Cold.MaxAge {
				if err := m.Delete(key); err != nil {
					return stats, err
				}
				stats.Deleted++
				stats.BytesDeleted += info.SizeBytes
			}
		}
	}

	return stats, nil
}

// GetStats summarizes current per-tier occupancy.
func (m *Manager) GetStats() TierStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats TierStats
	for _, info := range m.metadata {
		switch info.Tier {
		case TierHot:
			stats.HotObjects++
			stats.HotBytes += info.SizeBytes
		case TierWarm:
			stats.WarmObjects++
			stats.WarmBytes += info.SizeBytes
		case TierCold:
			stats.ColdObjects++
			stats.ColdBytes += info.SizeBytes
		}
	}
	return stats
}

// Delete removes key from whichever tier holds it and drops its
// metadata.
func (m *Manager) Delete(key string) error {
	m.mu.RLock()
	info, ok := m.metadata[key]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	store := m.storeFor(info.Tier)
	if store != nil {
		if err := store.Delete(key); err != nil {
			return fmt.Errorf("tiering: delete %s: %w", key, err)
		}
	}

	m.mu.Lock()
	delete(m.metadata, key)
	m.mu.Unlock()

	if m.cache != nil {
		m.cache.Remove(key)
	}
	return nil
}

// ObjectInfo returns the tracked metadata for key, if any.
func (m *Manager) ObjectInfo(key string) (ObjectInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.metadata[key]
	return info, ok
}

func (m *Manager) now() time.Time { return time.Now() }
