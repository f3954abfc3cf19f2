package neo4jdb

import (
	"context"
	"sync"

	"github.com/yungbote/graphmesh-backend/internal/platform/logger"
)

// Registry hands out one shared driver per (uri,user). Acquiring with a
// changed config for the same key closes the stale client before dialing
// the new endpoint. Safe for concurrent use.
type Registry struct {
	log *logger.Logger

	mu      sync.Mutex
	clients map[string]*held
}

type held struct {
	cfg    Config
	client *Client
}

func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{log: log, clients: map[string]*held{}}
}

func (r *Registry) Acquire(ctx context.Context, cfg Config) (*Client, error) {
	if r == nil {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := cfg.Key()
	if h, ok := r.clients[key]; ok {
		if h.cfg == cfg {
			return h.client, nil
		}
		// Same endpoint, different settings: drop the stale client first.
		if h.client != nil {
			_ = h.client.Close(ctx)
		}
		delete(r.clients, key)
	}

	client, err := New(cfg, r.log)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, nil
	}
	r.clients[key] = &held{cfg: cfg, client: client}
	return client, nil
}

func (r *Registry) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for key, h := range r.clients {
		if h.client != nil {
			if err := h.client.Close(ctx); err != nil && first == nil {
				first = err
			}
		}
		delete(r.clients, key)
	}
	return first
}
