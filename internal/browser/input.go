// File: internal/browser/input.go
package browser

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/Hawhaz/marketstage/internal/humanize"
)

// dispatcher abstracts the low-level CDP input calls so the humanized
// click and typing sequences can be tested without a browser.
type dispatcher interface {
	MouseEvent(ctx context.Context, p *input.DispatchMouseEventParams) error
	KeyTap(ctx context.Context, key string) error
	Sleep(ctx context.Context, d time.Duration) error
}

// cdpDispatcher is the production dispatcher backed by chromedp.
type cdpDispatcher struct{}

func (cdpDispatcher) MouseEvent(ctx context.Context, p *input.DispatchMouseEventParams) error {
	return p.Do(ctx)
}

func (cdpDispatcher) KeyTap(ctx context.Context, key string) error {
	return chromedp.KeyEvent(key).Do(ctx)
}

func (cdpDispatcher) Sleep(ctx context.Context, d time.Duration) error {
	return chromedp.Sleep(d).Do(ctx)
}

// moveTo walks the cursor along a synthesized path to the target,
// dispatching one MouseMoved event per path point.
func (s *Session) moveTo(ctx context.Context, target humanize.Vec2) error {
	s.mu.Lock()
	start := s.cursor
	s.mu.Unlock()

	path := s.syn.PointerPath(start, target)
	for _, pt := range path {
		if pt.Delay > 0 {
			if err := s.disp.Sleep(ctx, pt.Delay); err != nil {
				return err
			}
		}
		ev := input.DispatchMouseEvent(input.MouseMoved, pt.Pos.X, pt.Pos.Y)
		if err := s.disp.MouseEvent(ctx, ev); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.cursor = target
	s.mu.Unlock()
	return nil
}

// clickAt moves to the target and performs a left click with a sampled
// press-hold duration.
func (s *Session) clickAt(ctx context.Context, target humanize.Vec2) error {
	if err := s.moveTo(ctx, target); err != nil {
		return err
	}

	press := input.DispatchMouseEvent(input.MousePressed, target.X, target.Y).
		WithButton(input.Left).
		WithClickCount(1)
	if err := s.disp.MouseEvent(ctx, press); err != nil {
		return err
	}

	if err := s.disp.Sleep(ctx, s.syn.PressHold()); err != nil {
		return err
	}

	release := input.DispatchMouseEvent(input.MouseReleased, target.X, target.Y).
		WithButton(input.Left).
		WithClickCount(1)
	return s.disp.MouseEvent(ctx, release)
}

// typeKeys replays a synthesized keystroke stream into the focused
// element. Slips arrive as their own press followed by a backspace, so
// the net text always matches the requested input.
func (s *Session) typeKeys(ctx context.Context, events []humanize.KeyEvent) error {
	for _, ev := range events {
		if ev.Delay > 0 {
			if err := s.disp.Sleep(ctx, ev.Delay); err != nil {
				return err
			}
		}

		switch ev.Action {
		case humanize.KeyBackspace:
			if err := s.disp.KeyTap(ctx, kb.Backspace); err != nil {
				return err
			}
		default:
			if err := s.disp.KeyTap(ctx, string(ev.Rune)); err != nil {
				return err
			}
		}
	}
	return nil
}
