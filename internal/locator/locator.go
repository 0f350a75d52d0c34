// File: internal/locator/locator.go
package locator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Hawhaz/marketstage/internal/errs"
)

// Prober is the minimal page surface the locator needs. The browser
// session implements it against CDP; tests implement it in memory.
type Prober interface {
	// ProbeCSS reports whether the selector currently matches a visible,
	// attached element.
	ProbeCSS(ctx context.Context, selector string) (bool, error)
	// Snapshot returns the current document HTML, used by snapshot-based
	// strategies such as label-text association.
	Snapshot(ctx context.Context) (string, error)
	// NavigationEpoch increments on every committed navigation. Handles
	// resolved under an older epoch are never reused.
	NavigationEpoch() uint64
}

// Resolved is a usable handle to a located element. It is only valid
// within the navigation epoch it was resolved under.
type Resolved struct {
	Key      string
	Selector string
	Strategy StrategyKind
	Epoch    uint64
}

// Config bounds the resolution work per field.
type Config struct {
	// ProbeTimeout bounds one candidate strategy attempt.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	// ProbeBudget bounds the whole candidate list for one resolution.
	ProbeBudget time.Duration `mapstructure:"probe_budget" yaml:"probe_budget"`
}

// DefaultConfig returns probe bounds suitable for a loaded form page.
func DefaultConfig() Config {
	return Config{
		ProbeTimeout: 2 * time.Second,
		ProbeBudget:  10 * time.Second,
	}
}

// Locator resolves FieldDescriptors against a live page.
type Locator struct {
	prober Prober
	cfg    Config
	logger *zap.Logger
}

// New creates a Locator bound to one page prober.
func New(prober Prober, cfg Config, logger *zap.Logger) *Locator {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = DefaultConfig().ProbeBudget
	}
	return &Locator{prober: prober, cfg: cfg, logger: logger.Named("locator")}
}

// Resolve tries the descriptor's strategies strictly in priority order
// and returns the first selector that probes successfully. It fails with
// a NotFound taxonomy error only after every candidate is exhausted or
// the total probe budget runs out.
func (l *Locator) Resolve(ctx context.Context, desc FieldDescriptor) (*Resolved, error) {
	deadline := time.Now().Add(l.cfg.ProbeBudget)
	epoch := l.prober.NavigationEpoch()

	var lastErr error
	for _, strat := range desc.Strategies {
		if ctx.Err() != nil {
			return nil, errs.Timeout("locator.resolve", ctx.Err())
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		probeWindow := l.cfg.ProbeTimeout
		if remaining < probeWindow {
			probeWindow = remaining
		}

		selector, err := l.selectorFor(ctx, strat, probeWindow)
		if err != nil {
			lastErr = err
			continue
		}
		if selector == "" {
			continue
		}

		found, err := l.probe(ctx, selector, probeWindow)
		if err != nil {
			lastErr = err
			continue
		}
		if found {
			l.logger.Debug("Field resolved",
				zap.String("field", desc.Key),
				zap.String("strategy", string(strat.Kind)),
				zap.String("selector", selector),
			)
			return &Resolved{
				Key:      desc.Key,
				Selector: selector,
				Strategy: strat.Kind,
				Epoch:    epoch,
			}, nil
		}
	}

	return nil, errs.NotFound("locator.resolve", desc.Key, lastErr)
}

// EnsureFresh verifies that a previously resolved handle is still usable.
// If the page navigated since resolution, or the element detached, the
// locator transparently re-resolves from the descriptor. The returned
// flag reports whether a re-resolution happened so the caller can tell a
// silent recovery apart from a handle that was fresh all along.
func (l *Locator) EnsureFresh(ctx context.Context, res *Resolved, desc FieldDescriptor) (*Resolved, bool, error) {
	if res != nil && res.Epoch == l.prober.NavigationEpoch() {
		found, err := l.probe(ctx, res.Selector, l.cfg.ProbeTimeout)
		if err == nil && found {
			return res, false, nil
		}
		l.logger.Debug("Handle went stale, re-resolving",
			zap.String("field", desc.Key),
			zap.String("selector", res.Selector),
			zap.Error(err),
		)
	}

	fresh, err := l.Resolve(ctx, desc)
	if err != nil {
		return nil, true, errs.Stale("locator.refresh", desc.Key, err)
	}
	return fresh, true, nil
}

// selectorFor derives the CSS selector a strategy stands for. Snapshot
// strategies may need a page read, which is bounded by the probe window.
func (l *Locator) selectorFor(ctx context.Context, strat Strategy, window time.Duration) (string, error) {
	switch strat.Kind {
	case StableAttribute:
		return strat.Selector, nil

	case LabelText:
		probeCtx, cancel := context.WithTimeout(ctx, window)
		defer cancel()
		html, err := l.prober.Snapshot(probeCtx)
		if err != nil {
			return "", fmt.Errorf("snapshot for label %q: %w", strat.Label, err)
		}
		selector, ok := SelectorForLabel(html, strat.Label)
		if !ok {
			return "", nil
		}
		return selector, nil

	case AriaRole:
		if strat.Name == "" {
			return fmt.Sprintf("[role=%q]", strat.Role), nil
		}
		return fmt.Sprintf("[role=%q][aria-label=%q]", strat.Role, strat.Name), nil

	case Landmark:
		return strat.Anchor + " " + strat.Relative, nil

	default:
		return "", fmt.Errorf("unknown strategy kind %q", strat.Kind)
	}
}

// probe runs one bounded existence check.
func (l *Locator) probe(ctx context.Context, selector string, window time.Duration) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	found, err := l.prober.ProbeCSS(probeCtx, selector)
	if err != nil {
		if probeCtx.Err() != nil && ctx.Err() == nil {
			// A single probe timing out is a candidate miss, not a field
			// failure; the next strategy still gets its turn.
			return false, errs.Timeout("locator.probe", probeCtx.Err())
		}
		return false, err
	}
	return found, nil
}
