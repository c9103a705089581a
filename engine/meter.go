package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/fcptools/fcpd/control"
	"github.com/fcptools/fcpd/fcp"
)

// MeterChannels returns the channel count of the installed meter map,
// or 0 when none is installed.
func (e *Engine) MeterChannels() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.meterMap)
}

// ReadMeters issues a meter-read command and remaps the flat hardware
// slot array into logical channel order: channel i reads raw slot
// meterMap[i], and a map entry of -1 reads as 0. Values are meaningful
// in the range 0-4095.
func (e *Engine) ReadMeters(ctx context.Context, channels int) ([]int32, error) {
	if channels < 0 || channels > MaxMeterMapEntries {
		return nil, validationErrorf("channel count %d out of range [0, %d]", channels, MaxMeterMapEntries)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.meterMap == nil {
		return nil, ErrNoMeterMap
	}

	slots := e.meterSlots
	payload, err := e.exchange(ctx, fcp.OpGetMeter, fcp.MeterRequest(slots), int(slots)*4)
	if err != nil {
		return nil, err
	}
	raw, err := fcp.MeterLevels(payload)
	if err != nil {
		return nil, err
	}

	out := make([]int32, channels)
	for i := range out {
		if i >= len(e.meterMap) {
			break
		}
		idx := e.meterMap[i]
		if idx < 0 {
			continue
		}
		out[i] = raw[idx]
	}
	return out, nil
}

// SetMeterMap validates and installs a new channel-to-slot map as a
// unit: every entry must be -1 or within [0, slots), and a single
// out-of-range entry rejects the whole update, leaving the previous
// map and readout control untouched. When the channel count changes,
// the existing readout control is retired and a new one registered
// before the map is installed, keeping map and control consistent.
func (e *Engine) SetMeterMap(m []int16, slots uint16) error {
	if len(m) > MaxMeterMapEntries {
		return validationErrorf("meter map has %d entries, max %d", len(m), MaxMeterMapEntries)
	}
	for i, v := range m {
		if v < -1 || int(v) >= int(slots) {
			return validationErrorf("meter map entry %d (%d) out of range [-1, %d)", i, v, slots)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	if e.registry != nil && (e.meterMap == nil || e.meterCtl == nil || e.meterCtl.Channels != len(m)) {
		if e.meterCtl != nil {
			_ = e.registry.Remove(e.meterCtl)
			e.meterCtl = nil
		}
		ctl := e.newMeterControl(len(m))
		if err := e.registry.Add(ctl); err != nil {
			e.meterMap = nil
			e.meterSlots = 0
			e.labels = nil
			return fmt.Errorf("register meter control: %w", err)
		}
		e.meterCtl = ctl
	}

	e.meterMap = slices.Clone(m)
	e.meterSlots = slots
	return nil
}

// newMeterControl builds the read-only volatile readout control backed
// by ReadMeters, with the label blob attached as its TLV property.
func (e *Engine) newMeterControl(channels int) *control.Control {
	return &control.Control{
		Name:     e.ctlName,
		Channels: channels,
		Min:      0,
		Max:      4095,
		ReadOnly: true,
		Volatile: true,
		Read: func(ctx context.Context) ([]int32, error) {
			return e.ReadMeters(ctx, channels)
		},
		ReadBlob:  e.Labels,
		WriteBlob: e.SetLabels,
	}
}

// Labels returns a copy of the opaque meter label blob.
func (e *Engine) Labels() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.labels)
}

// SetLabels replaces the label blob wholesale. The blob is opaque to
// the engine; an empty replacement clears it. Oversized blobs are
// rejected without touching the previous value.
func (e *Engine) SetLabels(b []byte) error {
	if len(b) > MaxLabelsSize {
		return validationErrorf("labels blob %d exceeds %d bytes", len(b), MaxLabelsSize)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(b) == 0 {
		e.labels = nil
		return nil
	}
	e.labels = slices.Clone(b)
	return nil
}
