// File: internal/browser/session_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitContextCarriesTabTarget(t *testing.T) {
	tabCtx, tabCancel := chromedp.NewContext(context.Background())
	defer tabCancel()

	ctx, cancel := initContext(tabCtx, context.Background(), time.Minute)
	defer cancel()

	// chromedp.Run refuses contexts without a chromedp target attached, so
	// init tasks built from the caller's context alone can never execute.
	require.NotNil(t, chromedp.FromContext(ctx), "init context lost the tab target")

	_, hasDeadline := ctx.Deadline()
	assert.True(t, hasDeadline, "init context must carry the navigation timeout")
}

func TestInitContextHonorsCallerCancellation(t *testing.T) {
	tabCtx, tabCancel := chromedp.NewContext(context.Background())
	defer tabCancel()

	callerCtx, callerCancel := context.WithCancel(context.Background())
	ctx, cancel := initContext(tabCtx, callerCtx, time.Minute)
	defer cancel()

	callerCancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("caller cancellation did not reach the init context")
	}
}

func TestCombineContextCancelsOnEitherParent(t *testing.T) {
	a, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	b, cancelB := context.WithCancel(context.Background())
	defer cancelB()

	ctx, cancel := combineContext(a, b)
	defer cancel()

	require.NoError(t, ctx.Err())
	cancelB()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("second parent's cancellation did not propagate")
	}
}
