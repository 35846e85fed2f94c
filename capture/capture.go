// Package capture defines the screenshot provider contract the comparison
// pipeline consumes. Browser automation lives behind it (see package browser).
package capture

import (
	"context"
	"errors"
)

// ErrNoTarget is returned when a Target addresses nothing.
var ErrNoTarget = errors.New("capture: target needs a selector or an element handle")

// ElementHandle is an already-resolved UI element that can render itself.
type ElementHandle interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Target addresses the UI element to render.
type Target struct {
	// Selector is a CSS-like selector for the element.
	Selector string `json:"selector,omitempty" yaml:"selector"`

	// Frame optionally selects an iframe; Selector is then resolved inside it.
	Frame string `json:"frame,omitempty" yaml:"frame"`

	// Element bypasses selector lookup when set.
	Element ElementHandle `json:"-" yaml:"-"`
}

// Validate reports ErrNoTarget when neither a selector nor a handle is set.
func (t Target) Validate() error {
	if t.Element == nil && t.Selector == "" {
		return ErrNoTarget
	}
	return nil
}

// String identifies the target in logs.
func (t Target) String() string {
	switch {
	case t.Element != nil:
		return "<element>"
	case t.Frame != "":
		return t.Frame + " >> " + t.Selector
	default:
		return t.Selector
	}
}

// Provider renders a target to encoded image bytes (PNG).
type Provider interface {
	Screenshot(ctx context.Context, target Target) ([]byte, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, target Target) ([]byte, error)

// Screenshot calls f.
func (f ProviderFunc) Screenshot(ctx context.Context, target Target) ([]byte, error) {
	return f(ctx, target)
}
