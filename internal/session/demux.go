// Package session drives one realtime session: event routing, result accumulation
// and the drain/finalize protocol.
package session

import (
	"fmt"

	"github.com/loqalabs/loqa-bridge/internal/realtime"
)

// Handler processes one event. Errors and panics are contained by the Demux.
type Handler func(realtime.Event) error

// HandlerError describes a handler failure that was suppressed.
type HandlerError struct {
	Type  string
	Err   error
	Panic any
}

func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("handler for %s panicked: %v", e.Type, e.Panic)
	}
	return fmt.Sprintf("handler for %s failed: %v", e.Type, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Demux routes events to handlers by type. The handler table is fixed at
// construction; unknown types are ignored. It implements realtime.Callback.
type Demux struct {
	handlers map[string]Handler
	observe  func(realtime.Event)
	onError  func(*HandlerError)
	onOpen   func()
	onClose  func(code int, reason string)
}

// DemuxOption customises a Demux.
type DemuxOption func(*Demux)

// WithObserver sees every event before routing, including unknown types.
func WithObserver(fn func(realtime.Event)) DemuxOption {
	return func(d *Demux) { d.observe = fn }
}

// WithErrorHook receives suppressed handler failures.
func WithErrorHook(fn func(*HandlerError)) DemuxOption {
	return func(d *Demux) { d.onError = fn }
}

// WithOpenHook runs when the connection opens.
func WithOpenHook(fn func()) DemuxOption {
	return func(d *Demux) { d.onOpen = fn }
}

// WithCloseHook runs when the connection closes.
func WithCloseHook(fn func(code int, reason string)) DemuxOption {
	return func(d *Demux) { d.onClose = fn }
}

func NewDemux(handlers map[string]Handler, opts ...DemuxOption) *Demux {
	table := make(map[string]Handler, len(handlers))
	for typ, h := range handlers {
		if h != nil {
			table[typ] = h
		}
	}
	d := &Demux{handlers: table}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch routes evt. It never panics and never returns an error.
func (d *Demux) Dispatch(evt realtime.Event) {
	if d.observe != nil {
		d.guard(evt.Type, func() error {
			d.observe(evt)
			return nil
		})
	}
	h, ok := d.handlers[evt.Type]
	if !ok {
		return
	}
	d.guard(evt.Type, func() error { return h(evt) })
}

func (d *Demux) OnOpen() {
	if d.onOpen != nil {
		d.guard("open", func() error {
			d.onOpen()
			return nil
		})
	}
}

func (d *Demux) OnEvent(evt realtime.Event) { d.Dispatch(evt) }

func (d *Demux) OnClose(code int, reason string) {
	if d.onClose != nil {
		d.guard("close", func() error {
			d.onClose(code, reason)
			return nil
		})
	}
}

func (d *Demux) guard(typ string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			d.report(&HandlerError{Type: typ, Panic: r})
		}
	}()
	if err := fn(); err != nil {
		d.report(&HandlerError{Type: typ, Err: err})
	}
}

func (d *Demux) report(herr *HandlerError) {
	if d.onError == nil {
		return
	}
	defer func() { _ = recover() }()
	d.onError(herr)
}
