package browser

import (
	"context"
	"errors"

	"github.com/sitescope/scanner/internal/scan"
)

// ErrUnavailable is returned by the noop browser for every page request.
var ErrUnavailable = errors.New("browser not configured")

// Noop implements scan.Browser but always fails, for builds and environments
// without a Chrome binary.
type Noop struct{}

// NewNoop creates a new Noop browser.
func NewNoop() *Noop {
	return &Noop{}
}

// NewPage always returns ErrUnavailable.
func (Noop) NewPage(context.Context) (scan.Page, error) {
	return nil, ErrUnavailable
}

// Close is a no-op.
func (Noop) Close() error { return nil }
