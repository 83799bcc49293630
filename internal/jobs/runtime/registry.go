package runtime

import (
	"fmt"
	"sync"

	types "github.com/artemmail/scriptor-sub002/internal/domain"
)

// Handler drives one job kind through its pipeline. Run receives a Context
// already bound to a claimed job and must leave the job in a terminal state
// via Succeed or Fail.
type Handler interface {
	Kind() types.JobKind
	Run(c *Context) error
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[types.JobKind]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[types.JobKind]Handler)}
}

func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	k := h.Kind()
	if k == "" {
		return fmt.Errorf("handler Kind() is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[k]; exists {
		return fmt.Errorf("handler already registered for kind=%s", k)
	}
	r.handlers[k] = h
	return nil
}

func (r *Registry) Get(kind types.JobKind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}
