// Package cards manages the set of attached FCP devices and the
// lifetime of their protocol engines.
package cards

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/fcptools/fcpd/control"
	"github.com/fcptools/fcpd/engine"
	"github.com/fcptools/fcpd/internal/log"
	"github.com/fcptools/fcpd/transport"
)

// Card is one attached device: its engine, its control registry, and a
// context cancelled when the card detaches.
type Card struct {
	id       string
	eng      *engine.Engine
	controls *control.MemoryRegistry
	ctx      context.Context
	cancel   context.CancelFunc
}

func (c *Card) ID() string                        { return c.id }
func (c *Card) Engine() *engine.Engine            { return c.eng }
func (c *Card) Controls() *control.MemoryRegistry { return c.controls }
func (c *Card) Context() context.Context          { return c.ctx }

// Registry tracks attached cards and auto-assigns card ids.
type Registry struct {
	logger *slog.Logger
	raw    log.RawLogger

	mu     sync.Mutex
	nextID uint32
	cards  map[string]*Card
}

// NewRegistry creates an empty card registry.
func NewRegistry(logger *slog.Logger, raw log.RawLogger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		raw:    raw,
		cards:  make(map[string]*Card),
	}
}

// Attach creates an engine for the given transport and registers the
// card under an auto-assigned id ("card0", "card1", ...).
func (r *Registry) Attach(tr transport.ControlTransport) (*Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := fmt.Sprintf("card%d", r.nextID)
	r.nextID++

	controls := control.NewMemoryRegistry()
	eng := engine.New(tr, engine.Config{
		Logger:   r.logger.With("card", id),
		Raw:      r.raw,
		Controls: controls,
	})

	ctx, cancel := context.WithCancel(context.Background())
	c := &Card{id: id, eng: eng, controls: controls, ctx: ctx, cancel: cancel}
	r.cards[id] = c
	r.logger.Info("card attached", "card", id)
	return c, nil
}

// Get returns the card registered under id, or nil.
func (r *Registry) Get(id string) *Card {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cards[id]
}

// List returns the attached card ids, sorted.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.cards))
	for id := range r.cards {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Detach tears down a card: its engine is closed (cancelling the
// outstanding notification transfer and unblocking any waiter) and its
// context cancelled.
func (r *Registry) Detach(id string) error {
	r.mu.Lock()
	c, ok := r.cards[id]
	if ok {
		delete(r.cards, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("card %s not found", id)
	}
	_ = c.eng.Close()
	c.cancel()
	r.logger.Info("card detached", "card", id)
	return nil
}

// Close detaches every card.
func (r *Registry) Close() error {
	for _, id := range r.List() {
		_ = r.Detach(id)
	}
	return nil
}
