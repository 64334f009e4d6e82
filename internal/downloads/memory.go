package downloads

import (
	"context"
	"strings"
	"sync"

	"github.com/git-pkgs/feed/internal/core"
)

// Memory is an in-process download counter. Counts are lost on restart.
type Memory struct {
	mu     sync.Mutex
	counts map[string]int64
}

var _ core.DownloadCounter = (*Memory)(nil)

// NewMemory returns an empty in-memory counter.
func NewMemory() *Memory {
	return &Memory{counts: make(map[string]int64)}
}

func memKey(id core.Identity) string {
	pkg, ver := key(id)
	return core.Identity{ID: pkg, Version: ver}.Key()
}

func (m *Memory) Increment(ctx context.Context, id core.Identity) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	k := memKey(id)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[k]++
	return m.counts[k], nil
}

func (m *Memory) Get(ctx context.Context, id core.Identity) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[memKey(id)], nil
}

func (m *Memory) Snapshot(ctx context.Context) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Purge(ctx context.Context, packageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix := strings.ToLower(packageID) + "/"
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.counts {
		if strings.HasPrefix(k, prefix) {
			delete(m.counts, k)
		}
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}
