package adapters

import (
	"context"
	"fmt"
	"sync"

	"cadence/internal/core"
)

// PlatformSender delivers one payload to a channel of a single platform.
type PlatformSender interface {
	Send(ctx context.Context, channel, payload string) error
}

// Registry routes sends to the adapter registered for the platform. It is
// the pipeline's core.Sender.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]PlatformSender
}

var _ core.Sender = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{senders: make(map[string]PlatformSender)}
}

func (r *Registry) Register(platform string, s PlatformSender) {
	r.mu.Lock()
	r.senders[platform] = s
	r.mu.Unlock()
}

func (r *Registry) Send(ctx context.Context, platform, channel, payload string) error {
	r.mu.RLock()
	s := r.senders[platform]
	r.mu.RUnlock()
	if s == nil {
		return &core.SendError{
			Kind: core.ErrKindClientError,
			Err:  fmt.Errorf("no adapter for platform %q", platform),
		}
	}
	return s.Send(ctx, channel, payload)
}
