package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/shotdiff/capture"
)

// Provider renders page elements addressed by selector, optionally inside
// an iframe. It implements capture.Provider.
type Provider struct {
	page    *rod.Page
	timeout time.Duration
	logger  *slog.Logger
}

// NewProvider creates a Provider over page. timeout bounds element lookup
// (zero means no bound beyond the caller's context).
func NewProvider(page *rod.Page, timeout time.Duration, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{page: page, timeout: timeout, logger: logger}
}

// Screenshot finds target and returns it as PNG.
func (p *Provider) Screenshot(ctx context.Context, target capture.Target) ([]byte, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if target.Element != nil {
		return target.Element.Screenshot(ctx)
	}
	if p.page == nil {
		return nil, errors.New("browser: provider has no page")
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	scope := p.page.Context(ctx)
	if target.Frame != "" {
		frameEl, err := scope.Element(target.Frame)
		if err != nil {
			return nil, fmt.Errorf("browser: frame %q: %w", target.Frame, err)
		}
		fp, err := frameEl.Frame()
		if err != nil {
			return nil, fmt.Errorf("browser: enter frame %q: %w", target.Frame, err)
		}
		scope = fp.Context(ctx)
	}

	el, err := scope.Element(target.Selector)
	if err != nil {
		return nil, fmt.Errorf("browser: element %q: %w", target.Selector, err)
	}
	data, err := screenshot(el)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("browser: element captured", "target", target.String(), "bytes", len(data))
	return data, nil
}

// Element adapts a resolved Rod element to capture.ElementHandle.
func Element(el *rod.Element) capture.ElementHandle {
	return elementHandle{el: el}
}

type elementHandle struct {
	el *rod.Element
}

func (h elementHandle) Screenshot(ctx context.Context) ([]byte, error) {
	if h.el == nil {
		return nil, capture.ErrNoTarget
	}
	return screenshot(h.el.Context(ctx))
}

func screenshot(el *rod.Element) ([]byte, error) {
	if err := el.WaitVisible(); err != nil {
		return nil, fmt.Errorf("browser: wait visible: %w", err)
	}
	if err := el.ScrollIntoView(); err != nil {
		return nil, fmt.Errorf("browser: scroll into view: %w", err)
	}
	data, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return data, nil
}
