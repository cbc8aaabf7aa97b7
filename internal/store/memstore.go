package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// 文档注释：进程内 KV 实现
// 背景：未配置 Redis 时回退到进程内存储，保持服务可用（单实例语义）；测试同样使用此实现。
// 约束：互斥锁保护全部读写；过期键在读取与遍历时惰性清除。

type memItem struct {
	value    string
	expireAt time.Time
}

type MemKV struct {
	mu   sync.Mutex
	data map[string]memItem
	now  func() time.Time
}

func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string]memItem), now: time.Now}
}

// SetClock：测试注入时钟
func (s *MemKV) SetClock(now func() time.Time) { s.now = now }

func (s *MemKV) live(k string) (memItem, bool) {
	it, ok := s.data[k]
	if !ok {
		return memItem{}, false
	}
	if !it.expireAt.IsZero() && !s.now().Before(it.expireAt) {
		delete(s.data, k)
		return memItem{}, false
	}
	return it, true
}

func (s *MemKV) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.live(key)
	if !ok {
		return "", false, nil
	}
	return it.value, true, nil
}

func (s *MemKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = s.now().Add(ttl)
	}
	s.data[key] = memItem{value: value, expireAt: exp}
	return nil
}

func (s *MemKV) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemKV) List(_ context.Context, prefix string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for k := range s.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if it, ok := s.live(k); ok {
			out = append(out, Entry{Key: k, Value: it.value})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemKV) ConditionalWrite(_ context.Context, key, expect, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.live(key)
	if expect == "" {
		if ok {
			return false, nil
		}
	} else if !ok || it.value != expect {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = s.now().Add(ttl)
	}
	s.data[key] = memItem{value: value, expireAt: exp}
	return true, nil
}
