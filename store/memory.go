package store

import (
	"context"
	"math"
	"path"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type MemoryState int32

const (
	MemoryStateStopped MemoryState = iota
	MemoryStateStarting
	MemoryStateRunning
	MemoryStateStopping
)

type MemoryConfig struct {
	MaxEntries      int    `yaml:"max_entries" json:"max_entries"`
	CleanupInterval string `yaml:"cleanup_interval" json:"cleanup_interval"`
}

type entryKind int

const (
	kindString entryKind = iota
	kindSet
	kindZSet
)

type memoryEntry struct {
	kind      entryKind
	value     []byte
	set       map[string]struct{}
	zset      map[string]float64
	createdAt time.Time
	expiresAt time.Time
}

// MemoryStore keeps strings, sets and sorted sets in process with Redis-like
// semantics. It backs single-node deployments and tests.
type MemoryStore struct {
	parent          context.Context
	cancel          context.CancelFunc
	config          *MemoryConfig
	logger          types.Logger
	data            map[string]*memoryEntry
	evictions       uint64
	mu              sync.RWMutex
	state           atomic.Value
	cleanupDone     chan struct{}
	shutdownTimeout time.Duration
	now             func() time.Time
}

func NewMemoryStore(ctx context.Context, logger types.Logger, config *types.StoreConfig) (*MemoryStore, error) {
	var memConfig = &MemoryConfig{
		MaxEntries:      100000,
		CleanupInterval: "1m",
	}

	if config != nil && config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, memConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory store config")
		}
	}

	store := &MemoryStore{
		parent:          ctx,
		logger:          logger,
		config:          memConfig,
		data:            make(map[string]*memoryEntry),
		shutdownTimeout: 10 * time.Second,
		now:             time.Now,
	}

	store.state.Store(MemoryStateStopped)

	return store, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.lookupUnsafe(key, kindString)
	if err != nil {
		return nil, false, types.NewStoreError("get", key, err)
	}
	if entry == nil {
		return nil, false, nil
	}

	return cloneBytes(entry.value), true, nil
}

func (m *MemoryStore) MGet(_ context.Context, keys ...string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([][]byte, len(keys))
	for i, key := range keys {
		entry, err := m.lookupUnsafe(key, kindString)
		if err != nil || entry == nil {
			continue
		}
		result[i] = cloneBytes(entry.value)
	}

	return result, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.NewStoreError("set", key, types.ErrStoreKeyEmpty)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.putUnsafe(key, &memoryEntry{kind: kindString, value: cloneBytes(value)}, ttl)
	return nil
}

func (m *MemoryStore) MSet(_ context.Context, values map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, value := range values {
		m.putUnsafe(key, &memoryEntry{kind: kindString, value: cloneBytes(value)}, 0)
	}
	return nil
}

func (m *MemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.liveUnsafe(key) != nil {
		return false, nil
	}

	m.putUnsafe(key, &memoryEntry{kind: kindString, value: cloneBytes(value)}, ttl)
	return true, nil
}

func (m *MemoryStore) CompareAndDelete(_ context.Context, key string, expected []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.liveUnsafe(key)
	if entry == nil || entry.kind != kindString || string(entry.value) != string(expected) {
		return false, nil
	}

	delete(m.data, key)
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for _, key := range keys {
		if m.liveUnsafe(key) != nil {
			delete(m.data, key)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.liveUnsafe(key) != nil, nil
}

func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.liveUnsafe(key)
	if entry == nil {
		return false, nil
	}

	if ttl <= 0 {
		delete(m.data, key)
		return true, nil
	}

	entry.expiresAt = m.now().Add(ttl)
	return true, nil
}

func (m *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.liveUnsafe(key)
	if entry == nil {
		return types.TTLKeyMissing, nil
	}
	if entry.expiresAt.IsZero() {
		return types.TTLNoExpiry, nil
	}

	return entry.expiresAt.Sub(m.now()).Truncate(time.Second), nil
}

func (m *MemoryStore) Increment(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, err := m.incrementUnsafe(key, delta)
	if err != nil {
		return 0, types.NewStoreError("increment", key, err)
	}
	return value, nil
}

func (m *MemoryStore) SetAdd(_ context.Context, key string, members ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.lookupOrCreateUnsafe(key, kindSet)
	if err != nil {
		return 0, types.NewStoreError("sadd", key, err)
	}

	var added int64
	for _, member := range members {
		if _, exists := entry.set[member]; !exists {
			entry.set[member] = struct{}{}
			added++
		}
	}
	return added, nil
}

func (m *MemoryStore) SetRemove(_ context.Context, key string, members ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.lookupUnsafe(key, kindSet)
	if err != nil {
		return 0, types.NewStoreError("srem", key, err)
	}
	if entry == nil {
		return 0, nil
	}

	var removed int64
	for _, member := range members {
		if _, exists := entry.set[member]; exists {
			delete(entry.set, member)
			removed++
		}
	}

	if len(entry.set) == 0 {
		delete(m.data, key)
	}
	return removed, nil
}

func (m *MemoryStore) SetIsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.lookupUnsafe(key, kindSet)
	if err != nil {
		return false, types.NewStoreError("sismember", key, err)
	}
	if entry == nil {
		return false, nil
	}

	_, exists := entry.set[member]
	return exists, nil
}

func (m *MemoryStore) SetMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.lookupUnsafe(key, kindSet)
	if err != nil {
		return nil, types.NewStoreError("smembers", key, err)
	}
	if entry == nil {
		return []string{}, nil
	}

	members := make([]string, 0, len(entry.set))
	for member := range entry.set {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

func (m *MemoryStore) SetSize(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.lookupUnsafe(key, kindSet)
	if err != nil {
		return 0, types.NewStoreError("scard", key, err)
	}
	if entry == nil {
		return 0, nil
	}
	return int64(len(entry.set)), nil
}

func (m *MemoryStore) ZAdd(_ context.Context, key, member string, score float64) error {
	if math.IsNaN(score) {
		return types.NewStoreError("zadd", key, types.ErrRankingScoreInvalid)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.lookupOrCreateUnsafe(key, kindZSet)
	if err != nil {
		return types.NewStoreError("zadd", key, err)
	}

	entry.zset[member] = score
	return nil
}

func (m *MemoryStore) ZRemove(_ context.Context, key string, members ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.lookupUnsafe(key, kindZSet)
	if err != nil {
		return 0, types.NewStoreError("zrem", key, err)
	}
	if entry == nil {
		return 0, nil
	}

	var removed int64
	for _, member := range members {
		if _, exists := entry.zset[member]; exists {
			delete(entry.zset, member)
			removed++
		}
	}

	if len(entry.zset) == 0 {
		delete(m.data, key)
	}
	return removed, nil
}

func (m *MemoryStore) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	entries, err := m.ZRevRangeWithScores(ctx, key, start, stop)
	if err != nil {
		return nil, err
	}

	members := make([]string, len(entries))
	for i, entry := range entries {
		members[i] = entry.Member
	}
	return members, nil
}

func (m *MemoryStore) ZRevRangeWithScores(_ context.Context, key string, start, stop int64) ([]types.RankEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted, err := m.sortedUnsafe(key, true)
	if err != nil {
		return nil, types.NewStoreError("zrevrange", key, err)
	}
	return sliceRange(sorted, start, stop), nil
}

func (m *MemoryStore) ZRangeWithScores(_ context.Context, key string, start, stop int64) ([]types.RankEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted, err := m.sortedUnsafe(key, false)
	if err != nil {
		return nil, types.NewStoreError("zrange", key, err)
	}
	return sliceRange(sorted, start, stop), nil
}

func (m *MemoryStore) ZScore(_ context.Context, key, member string) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.lookupUnsafe(key, kindZSet)
	if err != nil {
		return 0, false, types.NewStoreError("zscore", key, err)
	}
	if entry == nil {
		return 0, false, nil
	}

	score, exists := entry.zset[member]
	return score, exists, nil
}

func (m *MemoryStore) ZRevRank(_ context.Context, key, member string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted, err := m.sortedUnsafe(key, true)
	if err != nil {
		return 0, false, types.NewStoreError("zrevrank", key, err)
	}

	for i, entry := range sorted {
		if entry.Member == member {
			return int64(i), true, nil
		}
	}
	return 0, false, nil
}

func (m *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.lookupUnsafe(key, kindZSet)
	if err != nil {
		return 0, types.NewStoreError("zcard", key, err)
	}
	if entry == nil {
		return 0, nil
	}
	return int64(len(entry.zset)), nil
}

func (m *MemoryStore) ZRemRangeByRank(_ context.Context, key string, start, stop int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted, err := m.sortedUnsafe(key, false)
	if err != nil {
		return 0, types.NewStoreError("zremrangebyrank", key, err)
	}

	victims := sliceRange(sorted, start, stop)
	if len(victims) == 0 {
		return 0, nil
	}

	entry := m.data[key]
	for _, victim := range victims {
		delete(entry.zset, victim.Member)
	}
	if len(entry.zset) == 0 {
		delete(m.data, key)
	}
	return int64(len(victims)), nil
}

func (m *MemoryStore) IncrementAndTag(_ context.Context, counterKey, setKey, member string, delta int64, ttl time.Duration) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, err := m.lookupOrCreateUnsafe(setKey, kindSet)
	if err != nil {
		return 0, false, types.NewStoreError("increment_and_tag", setKey, err)
	}
	if _, err := m.lookupUnsafe(counterKey, kindString); err != nil {
		return 0, false, types.NewStoreError("increment_and_tag", counterKey, err)
	}

	_, isMember := set.set[member]

	changed := false
	switch {
	case delta >= 0 && !isMember:
		set.set[member] = struct{}{}
		changed = true
	case delta < 0 && isMember:
		delete(set.set, member)
		changed = true
	}

	var count int64
	if changed {
		count, err = m.incrementUnsafe(counterKey, delta)
		if err != nil {
			return 0, false, types.NewStoreError("increment_and_tag", counterKey, err)
		}
		if count < 0 {
			m.data[counterKey].value = []byte("0")
			count = 0
		}
	} else if counter := m.liveUnsafe(counterKey); counter != nil {
		count, _ = strconv.ParseInt(string(counter.value), 10, 64)
	}

	if len(set.set) == 0 {
		delete(m.data, setKey)
	}

	if ttl > 0 {
		expiresAt := m.now().Add(ttl)
		if counter := m.liveUnsafe(counterKey); counter != nil {
			counter.expiresAt = expiresAt
		}
		if set := m.liveUnsafe(setKey); set != nil {
			set.expiresAt = expiresAt
		}
	}

	return count, changed, nil
}

func (m *MemoryStore) Scan(_ context.Context, pattern string, _ int64) types.KeyIterator {
	keys, err := m.Keys(context.Background(), pattern)
	return &sliceKeyIterator{keys: keys, pos: -1, err: err}
}

func (m *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for key := range m.data {
		if m.liveUnsafe(key) == nil {
			continue
		}
		matched, err := path.Match(pattern, key)
		if err != nil {
			return nil, types.NewStoreError("keys", pattern, err)
		}
		if matched {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func (m *MemoryStore) Start() error {
	if !m.transitionState(MemoryStateStopped, MemoryStateStarting) {
		m.logger.Warn("Memory store is already running")
		return types.ErrAlreadyRunning
	}

	defer func() {
		if m.getState() == MemoryStateStarting {
			m.setState(MemoryStateRunning)
		}
	}()

	// Per-run state; a stopped store can start again.
	ctx, cancel := context.WithCancel(m.parent)
	m.cancel = cancel
	m.cleanupDone = make(chan struct{})

	if m.config.CleanupInterval != "" {
		go m.startCleanupRoutine(ctx, m.cleanupDone)
	} else {
		close(m.cleanupDone)
	}

	m.logger.Info("Memory store started")
	return nil
}

func (m *MemoryStore) Stop() error {
	if !m.transitionState(MemoryStateRunning, MemoryStateStopping) {
		m.logger.Warn("Memory store is not running")
		return types.ErrNotRunning
	}

	defer func() {
		m.setState(MemoryStateStopped)
	}()

	m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	cleanupDone := m.cleanupDone

	g.Go(func() error {
		select {
		case <-cleanupDone:
			m.logger.Debug("Cleanup routine stopped")
		case <-gCtx.Done():
			m.logger.Warn("Cleanup routine stop timeout")
		}
		return nil
	})

	g.Go(func() error {
		m.mu.Lock()
		entriesCount := len(m.data)
		m.data = make(map[string]*memoryEntry)
		m.mu.Unlock()

		m.logger.Info("Memory store cleared", zap.Int("cleared_entries", entriesCount))
		return nil
	})

	if err := g.Wait(); err != nil {
		m.logger.Error("Error during memory store shutdown", zap.Error(err))
	} else {
		m.logger.Info("Memory store stopped gracefully")
	}

	return nil
}

// Close stops a running store. An idle store holds nothing to release.
func (m *MemoryStore) Close() error {
	if !m.IsRunning() {
		return nil
	}
	return m.Stop()
}

func (m *MemoryStore) IsRunning() bool {
	return m.getState() == MemoryStateRunning
}

func (m *MemoryStore) getState() MemoryState {
	return m.state.Load().(MemoryState)
}

func (m *MemoryStore) setState(newState MemoryState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryStore) transitionState(from, to MemoryState) bool {
	return m.state.CompareAndSwap(from, to)
}

// liveUnsafe returns the entry for key, dropping it when expired.
func (m *MemoryStore) liveUnsafe(key string) *memoryEntry {
	entry, exists := m.data[key]
	if !exists {
		return nil
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.data, key)
		return nil
	}
	return entry
}

func (m *MemoryStore) lookupUnsafe(key string, kind entryKind) (*memoryEntry, error) {
	entry := m.liveUnsafe(key)
	if entry == nil {
		return nil, nil
	}
	if entry.kind != kind {
		return nil, types.ErrStoreWrongType
	}
	return entry, nil
}

func (m *MemoryStore) lookupOrCreateUnsafe(key string, kind entryKind) (*memoryEntry, error) {
	entry, err := m.lookupUnsafe(key, kind)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		return entry, nil
	}

	entry = &memoryEntry{kind: kind}
	switch kind {
	case kindSet:
		entry.set = make(map[string]struct{})
	case kindZSet:
		entry.zset = make(map[string]float64)
	}

	m.putUnsafe(key, entry, 0)
	return entry, nil
}

func (m *MemoryStore) putUnsafe(key string, entry *memoryEntry, ttl time.Duration) {
	if m.config.MaxEntries > 0 {
		if _, exists := m.data[key]; !exists && len(m.data) >= m.config.MaxEntries {
			m.evictOneUnsafe()
		}
	}

	now := m.now()
	entry.createdAt = now
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	m.data[key] = entry
}

func (m *MemoryStore) incrementUnsafe(key string, delta int64) (int64, error) {
	entry, err := m.lookupUnsafe(key, kindString)
	if err != nil {
		return 0, err
	}

	var current int64
	if entry != nil {
		current, err = strconv.ParseInt(string(entry.value), 10, 64)
		if err != nil {
			return 0, types.Errorf(types.ErrStoreWrongType, "value is not an integer")
		}
	} else {
		entry = &memoryEntry{kind: kindString}
		m.putUnsafe(key, entry, 0)
	}

	current += delta
	entry.value = []byte(strconv.FormatInt(current, 10))
	return current, nil
}

func (m *MemoryStore) sortedUnsafe(key string, descending bool) ([]types.RankEntry, error) {
	entry, err := m.lookupUnsafe(key, kindZSet)
	if err != nil || entry == nil {
		return nil, err
	}

	sorted := make([]types.RankEntry, 0, len(entry.zset))
	for member, score := range entry.zset {
		sorted = append(sorted, types.RankEntry{Member: member, Score: score})
	}

	// Equal scores order by member bytes, reversed for descending ranges.
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Score != b.Score {
			if descending {
				return a.Score > b.Score
			}
			return a.Score < b.Score
		}
		if descending {
			return a.Member > b.Member
		}
		return a.Member < b.Member
	})

	return sorted, nil
}

func (m *MemoryStore) evictOneUnsafe() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range m.data {
		if oldestKey == "" || entry.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.createdAt
		}
	}

	if oldestKey != "" {
		delete(m.data, oldestKey)
		atomic.AddUint64(&m.evictions, 1)
	}
}

func (m *MemoryStore) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := 0
	for key := range m.data {
		if m.liveUnsafe(key) == nil {
			expired++
		}
	}

	if expired > 0 {
		m.logger.Debug("Cleanup completed", zap.Int("expired_entries", expired))
	}
}

func (m *MemoryStore) startCleanupRoutine(ctx context.Context, done chan struct{}) {
	defer close(done)

	cleanupInterval, err := time.ParseDuration(m.config.CleanupInterval)
	if err != nil {
		m.logger.Error("Invalid cleanup interval, using default 1m",
			zap.String("interval", m.config.CleanupInterval),
			zap.Error(err))
		cleanupInterval = time.Minute
	}

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("Cleanup routine stopped by context")
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// sliceRange applies Redis rank semantics, including negative indexes.
func sliceRange(sorted []types.RankEntry, start, stop int64) []types.RankEntry {
	n := int64(len(sorted))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return []types.RankEntry{}
	}

	result := make([]types.RankEntry, stop-start+1)
	copy(result, sorted[start:stop+1])
	return result
}

type sliceKeyIterator struct {
	keys []string
	pos  int
	err  error
}

func (it *sliceKeyIterator) Next(ctx context.Context) bool {
	if it.err != nil || ctx.Err() != nil {
		return false
	}
	it.pos++
	return it.pos < len(it.keys)
}

func (it *sliceKeyIterator) Val() string {
	if it.pos < 0 || it.pos >= len(it.keys) {
		return ""
	}
	return it.keys[it.pos]
}

func (it *sliceKeyIterator) Err() error {
	return it.err
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
