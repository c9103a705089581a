// Package control defines the audio-control-framework boundary the
// engine publishes its readout control through: named multi-channel
// integer controls with an optional opaque byte-blob property. The real
// framework lives outside this module; MemoryRegistry is the in-process
// implementation used by the daemon and tests.
package control

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Control describes one registered control. The engine registers a
// read-only, volatile integer control in the range [Min, Max] with one
// value per channel, plus a blob property for client-side annotations.
type Control struct {
	Name     string
	Channels int
	Min, Max int32
	ReadOnly bool

	// Volatile marks values that change without control-framework
	// writes; readers must not cache them.
	Volatile bool

	// Read fetches the current per-channel values.
	Read func(ctx context.Context) ([]int32, error)

	// ReadBlob and WriteBlob access the attached opaque byte blob.
	// Either may be nil when the control carries no blob property.
	ReadBlob  func() []byte
	WriteBlob func([]byte) error
}

// Registry is the control-registration boundary consumed by the engine.
type Registry interface {
	Add(ctl *Control) error
	Remove(ctl *Control) error
}

// MemoryRegistry is a mutex-guarded in-process Registry keyed by
// control name.
type MemoryRegistry struct {
	mu       sync.Mutex
	controls map[string]*Control
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{controls: make(map[string]*Control)}
}

func (r *MemoryRegistry) Add(ctl *Control) error {
	if ctl == nil || ctl.Name == "" {
		return fmt.Errorf("control: missing name")
	}
	if ctl.Channels <= 0 {
		return fmt.Errorf("control: %q has no channels", ctl.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.controls[ctl.Name]; ok {
		return fmt.Errorf("control: %q already registered", ctl.Name)
	}
	r.controls[ctl.Name] = ctl
	return nil
}

func (r *MemoryRegistry) Remove(ctl *Control) error {
	if ctl == nil {
		return fmt.Errorf("control: nil control")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.controls[ctl.Name]
	if !ok || cur != ctl {
		return fmt.Errorf("control: %q not registered", ctl.Name)
	}
	delete(r.controls, ctl.Name)
	return nil
}

// Lookup returns the control registered under name, or nil.
func (r *MemoryRegistry) Lookup(name string) *Control {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controls[name]
}

// Names returns the registered control names, sorted.
func (r *MemoryRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.controls))
	for name := range r.controls {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
