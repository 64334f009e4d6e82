package service

import (
	"context"
	"os"

	"github.com/git-pkgs/feed/fetch"
	"github.com/git-pkgs/feed/internal/core"
)

// Health summarises the state of the feed's dependencies.
type Health struct {
	Status    string        `json:"status"`
	Problems  []string      `json:"problems,omitempty"`
	Upstreams []fetch.State `json:"upstreams,omitempty"`
}

// Healthy reports whether no dependency is failing.
func (h Health) Healthy() bool {
	return len(h.Problems) == 0
}

// Health checks that the package root and the download counter respond.
func (s *Service) Health(ctx context.Context) Health {
	var h Health
	if info, err := os.Stat(s.store.Root()); err != nil || !info.IsDir() {
		h.Problems = append(h.Problems, "packages path unavailable")
	}
	if _, err := s.counter.Get(ctx, core.Identity{ID: "health", Version: "0.0.0"}); err != nil {
		h.Problems = append(h.Problems, "download counter unavailable: "+err.Error())
	}
	if st, ok := s.fetcher.(interface{ States() []fetch.State }); ok {
		h.Upstreams = st.States()
	}

	h.Status = "healthy"
	if !h.Healthy() {
		h.Status = "degraded"
	}
	return h
}
