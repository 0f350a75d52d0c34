// File: internal/engine/driver.go
package engine

import (
	"context"

	"github.com/Hawhaz/marketstage/internal/locator"
)

// Driver is the page surface the state machine drives. The browser
// session implements it against CDP; engine tests implement it in
// memory. It embeds the locator prober so one value serves both the
// machine and its locator.
type Driver interface {
	locator.Prober

	// Navigate loads the URL and waits for the document to become ready.
	Navigate(ctx context.Context, url string) error
	// Click performs a humanized click on the selector.
	Click(ctx context.Context, selector string) error
	// TypeText focuses the selector and replaces its content with a
	// humanized keystroke stream.
	TypeText(ctx context.Context, selector, text string) error
	// SelectOption commits an option value on the control.
	SelectOption(ctx context.Context, selector, value string) error
	// Upload attaches local files to the file input.
	Upload(ctx context.Context, selector string, paths []string) error
	// ReadValue returns the element's current value for verification.
	ReadValue(ctx context.Context, selector string) (string, error)
	// Screenshot captures the viewport and returns the artifact path.
	Screenshot(ctx context.Context, label string) (string, error)
	// Pause sleeps a profile-scaled think time around meanMs.
	Pause(ctx context.Context, meanMs float64) error
}
