package local

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// ErrWrongType is returned when a key holds a value of another kind.
var ErrWrongType = errors.New("cache: wrong value type for key")

// Config holds LocalCache settings.
type Config struct {
	GCInterval time.Duration
}

// Z is a sorted-set member with its score.
type Z struct {
	Member string
	Score  float64
}

type kind uint8

const (
	kindString kind = iota
	kindSet
	kindZSet
	kindList
)

// item is one key in the keyspace. Exactly one of the value fields is used,
// selected by kind.
type item struct {
	kind     kind
	str      string
	set      map[string]struct{}
	zset     map[string]float64
	list     []string
	expireAt time.Time // zero = no expiry
}

func (it *item) expired(now time.Time) bool {
	return !it.expireAt.IsZero() && now.After(it.expireAt)
}

// LocalCache is an in-process cache implementing the Cache interface.
// All value kinds share one keyspace, so Del, Exists and Expire work on any key.
type LocalCache struct {
	mu         sync.RWMutex
	items      map[string]*item
	gcInterval time.Duration
	stopGC     chan struct{}
	closeOnce  sync.Once
}

// NewCache creates a LocalCache and starts the background GC goroutine.
func NewCache(cfg Config) (*LocalCache, error) {
	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	c := &LocalCache{
		items:      make(map[string]*item),
		gcInterval: interval,
		stopGC:     make(chan struct{}),
	}
	go c.runGC()
	return c, nil
}

// Close stops the background GC goroutine.
func (c *LocalCache) Close() {
	c.closeOnce.Do(func() { close(c.stopGC) })
}

func (c *LocalCache) runGC() {
	ticker := time.NewTicker(c.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopGC:
			return
		}
	}
}

func (c *LocalCache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, it := range c.items {
		if it.expired(now) {
			delete(c.items, k)
		}
	}
}

// lookup returns the live item for key. Callers must hold c.mu.
func (c *LocalCache) lookup(key string) (*item, bool) {
	it, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if it.expired(time.Now()) {
		delete(c.items, key)
		return nil, false
	}
	return it, true
}

// lookupKind returns the item for key, creating it when create is set.
// Callers must hold c.mu for writing when create is true.
func (c *LocalCache) lookupKind(key string, k kind, create bool) (*item, error) {
	it, ok := c.lookup(key)
	if ok {
		if it.kind != k {
			return nil, ErrWrongType
		}
		return it, nil
	}
	if !create {
		return nil, nil
	}
	it = &item{kind: k}
	switch k {
	case kindSet:
		it.set = make(map[string]struct{})
	case kindZSet:
		it.zset = make(map[string]float64)
	}
	c.items[key] = it
	return it, nil
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

// ---- Keys ----

func (c *LocalCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.items, k)
	}
	return nil
}

func (c *LocalCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lookup(key)
	return ok, nil
}

func (c *LocalCache) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.lookup(key)
	if !ok {
		return ErrNotFound
	}
	it.expireAt = expiry(ttl)
	return nil
}

// ---- Strings ----

func (c *LocalCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.lookupKind(key, kindString, false)
	if err != nil {
		return "", err
	}
	if it == nil {
		return "", ErrNotFound
	}
	return it.str, nil
}

func (c *LocalCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = &item{kind: kindString, str: value, expireAt: expiry(ttl)}
	return nil
}

func (c *LocalCache) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lookup(key); ok {
		return false, nil
	}
	c.items[key] = &item{kind: kindString, str: value, expireAt: expiry(ttl)}
	return true, nil
}

func (c *LocalCache) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.lookupKind(key, kindString, true)
	if err != nil {
		return 0, err
	}
	var n int64
	if it.str != "" {
		if n, err = strconv.ParseInt(it.str, 10, 64); err != nil {
			return 0, ErrWrongType
		}
	}
	n++
	it.str = strconv.FormatInt(n, 10)
	return n, nil
}

// ---- Sets ----

func (c *LocalCache) SAdd(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.lookupKind(key, kindSet, true)
	if err != nil {
		return err
	}
	for _, m := range members {
		it.set[m] = struct{}{}
	}
	return nil
}

func (c *LocalCache) SRem(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.lookupKind(key, kindSet, false)
	if err != nil || it == nil {
		return err
	}
	for _, m := range members {
		delete(it.set, m)
	}
	if len(it.set) == 0 {
		delete(c.items, key)
	}
	return nil
}

func (c *LocalCache) SMembers(_ context.Context, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.lookupKind(key, kindSet, false)
	if err != nil || it == nil {
		return nil, err
	}
	out := make([]string, 0, len(it.set))
	for m := range it.set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (c *LocalCache) SIsMember(_ context.Context, key, member string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.lookupKind(key, kindSet, false)
	if err != nil || it == nil {
		return false, err
	}
	_, ok := it.set[member]
	return ok, nil
}

// ---- Sorted sets ----

func (c *LocalCache) ZAdd(_ context.Context, key string, score float64, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.lookupKind(key, kindZSet, true)
	if err != nil {
		return err
	}
	it.zset[member] = score
	return nil
}

func (c *LocalCache) ZIncrBy(_ context.Context, key string, delta float64, member string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.lookupKind(key, kindZSet, true)
	if err != nil {
		return 0, err
	}
	it.zset[member] += delta
	return it.zset[member], nil
}

func (c *LocalCache) ZRem(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.lookupKind(key, kindZSet, false)
	if err != nil || it == nil {
		return err
	}
	for _, m := range members {
		delete(it.zset, m)
	}
	return nil
}

func (c *LocalCache) ZScore(_ context.Context, key, member string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.lookupKind(key, kindZSet, false)
	if err != nil {
		return 0, err
	}
	if it == nil {
		return 0, ErrNotFound
	}
	s, ok := it.zset[member]
	if !ok {
		return 0, ErrNotFound
	}
	return s, nil
}

// ZRevRangeWithScores returns members ordered by score descending; ties are
// broken by member name so results are stable. stop < 0 means "to the end".
func (c *LocalCache) ZRevRangeWithScores(_ context.Context, key string, start, stop int64) ([]Z, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.lookupKind(key, kindZSet, false)
	if err != nil || it == nil {
		return nil, err
	}
	all := make([]Z, 0, len(it.zset))
	for m, s := range it.zset {
		all = append(all, Z{Member: m, Score: s})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].Member < all[j].Member
	})
	lo, hi, ok := clampRange(int64(len(all)), start, stop)
	if !ok {
		return nil, nil
	}
	return all[lo : hi+1], nil
}

// ---- Lists ----

func (c *LocalCache) LPush(_ context.Context, key string, values ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.lookupKind(key, kindList, true)
	if err != nil {
		return err
	}
	// Each value is pushed to the head in turn, so the last ends up first.
	head := make([]string, 0, len(values)+len(it.list))
	for i := len(values) - 1; i >= 0; i-- {
		head = append(head, values[i])
	}
	it.list = append(head, it.list...)
	return nil
}

func (c *LocalCache) RPush(_ context.Context, key string, values ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.lookupKind(key, kindList, true)
	if err != nil {
		return err
	}
	it.list = append(it.list, values...)
	return nil
}

func (c *LocalCache) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.lookupKind(key, kindList, false)
	if err != nil || it == nil {
		return nil, err
	}
	lo, hi, ok := clampRange(int64(len(it.list)), start, stop)
	if !ok {
		return nil, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, it.list[lo:hi+1])
	return out, nil
}

func (c *LocalCache) LTrim(_ context.Context, key string, start, stop int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.lookupKind(key, kindList, false)
	if err != nil || it == nil {
		return err
	}
	lo, hi, ok := clampRange(int64(len(it.list)), start, stop)
	if !ok {
		delete(c.items, key)
		return nil
	}
	it.list = append([]string(nil), it.list[lo:hi+1]...)
	return nil
}

func (c *LocalCache) LDrain(_ context.Context, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.lookupKind(key, kindList, false)
	if err != nil || it == nil {
		return nil, err
	}
	out := it.list
	delete(c.items, key)
	return out, nil
}

// clampRange resolves Redis-style inclusive indexes (negative = from the end)
// against a collection of length n.
func clampRange(n, start, stop int64) (int64, int64, bool) {
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
		return 0, 0, false
	}
	return start, stop, true
}
