// File: internal/browser/session.go
// Package browser owns the Chrome process lifecycle and exposes
// per-listing sessions: isolated tabs with a stealth persona applied,
// humanized input dispatch, and cookie capture for the session store.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Hawhaz/marketstage/internal/browser/stealth"
	"github.com/Hawhaz/marketstage/internal/config"
	"github.com/Hawhaz/marketstage/internal/errs"
	"github.com/Hawhaz/marketstage/internal/humanize"
	"github.com/Hawhaz/marketstage/internal/store"
)

const (
	interactTimeout     = 10 * time.Second
	shutdownGracePeriod = 15 * time.Second
)

// Manager handles the Chrome process lifecycle and session creation.
// The allocator is started lazily on the first session request.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup

	initOnce sync.Once
}

// NewManager creates a browser manager. Initialization is deferred until
// the first session is requested.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		logger:   logger.Named("browser_manager"),
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) initialize() {
	m.initOnce.Do(func() {
		opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		opts = append(opts,
			chromedp.Flag("headless", m.cfg.Headless),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
		)
		if m.cfg.ChromePath != "" {
			opts = append(opts, chromedp.ExecPath(m.cfg.ChromePath))
		}
		for _, arg := range m.cfg.Args {
			name, value, found := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
			if found {
				opts = append(opts, chromedp.Flag(name, value))
			} else {
				opts = append(opts, chromedp.Flag(name, true))
			}
		}

		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
		m.logger.Info("Browser allocator initialized.", zap.Bool("headless", m.cfg.Headless))
	})
}

// NewSession creates an isolated tab with the persona applied and a
// session-scoped input synthesizer.
func (m *Manager) NewSession(ctx context.Context, persona stealth.Persona, behavior humanize.Config) (*Session, error) {
	m.initialize()

	tabCtx, tabCancel := chromedp.NewContext(m.allocCtx)

	// Realize the target and apply the persona before any navigation. The
	// init tasks must run on the tab's own context; the caller's context
	// only bounds how long that may take.
	initCtx, cancel := initContext(tabCtx, ctx, m.cfg.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(initCtx, stealth.Apply(persona, m.logger)); err != nil {
		tabCancel()
		return nil, fmt.Errorf("browser: initializing session target: %w", err)
	}

	sessionID := uuid.New().String()
	s := &Session{
		id:      sessionID,
		ctx:     tabCtx,
		cancel:  tabCancel,
		cfg:     m.cfg,
		logger:  m.logger.With(zap.String("session_id", sessionID)),
		persona: persona,
		syn:     humanize.New(behavior),
		disp:    cdpDispatcher{},
		cursor: humanize.Vec2{
			X: float64(persona.Width) / 2.0,
			Y: float64(persona.Height) / 2.0,
		},
	}

	m.wg.Add(1)
	s.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, s.id)
		m.mu.Unlock()
		m.wg.Done()
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.logger.Info("New session created.", zap.String("session_id", s.id))
	return s, nil
}

// Shutdown closes all sessions and then the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.allocCancel == nil {
		return nil
	}
	m.logger.Info("Shutting down browser manager.")

	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		s.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for sessions to close.", zap.Error(ctx.Err()))
	case <-time.After(shutdownGracePeriod):
		m.logger.Warn("Grace period elapsed waiting for sessions to close.")
	}

	m.allocCancel()
	m.logger.Info("Browser manager shutdown complete.")
	return nil
}

// Session is one isolated browser tab working on one listing. It
// implements both the locator prober and the engine driver.
type Session struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	cfg     config.BrowserConfig
	logger  *zap.Logger
	persona stealth.Persona
	syn     *humanize.Synthesizer
	disp    dispatcher

	epoch atomic.Uint64

	mu     sync.Mutex
	cursor humanize.Vec2

	closeOnce sync.Once
	onClose   func()
}

// ID returns the unique session identifier.
func (s *Session) ID() string { return s.id }

// Close releases the tab. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing browser session.")
		s.cancel()
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// run executes chromedp actions, respecting both the session lifetime
// and the caller's context.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// initContext derives the context session init tasks run on: the tab's
// own context, canceled with the caller's and bounded by the navigation
// timeout. Deriving from the tab context keeps the chromedp target
// attached; a context derived from the caller alone cannot run actions.
func initContext(tabCtx, callerCtx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	joined, joinedCancel := combineContext(tabCtx, callerCtx)
	ctx, cancel := context.WithTimeout(joined, timeout)
	return ctx, func() {
		cancel()
		joinedCancel()
	}
}

// combineContext derives a context canceled when either parent is done.
func combineContext(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// NavigationEpoch reports how many navigations this session has
// performed; the locator uses it to detect cross-navigation staleness.
func (s *Session) NavigationEpoch() uint64 { return s.epoch.Load() }

// Navigate loads the URL, waits for the document to become ready, and
// bumps the navigation epoch. A redirect onto a login page means the
// session lost authentication.
func (s *Session) Navigate(ctx context.Context, url string) error {
	const op = "browser.navigate"

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	err := s.run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return errs.Timeout(op, err)
		}
		return errs.Fatal(op, err)
	}
	s.epoch.Add(1)

	location, err := s.CurrentURL(ctx)
	if err == nil && looksLikeLogin(location) {
		return errs.AuthenticationLost(op, fmt.Errorf("redirected to %s", location))
	}

	s.logger.Debug("Navigation complete.", zap.String("url", url), zap.Uint64("epoch", s.epoch.Load()))
	return nil
}

func looksLikeLogin(url string) bool {
	lower := strings.ToLower(url)
	return strings.Contains(lower, "/login") || strings.Contains(lower, "login.php") ||
		strings.Contains(lower, "/checkpoint/")
}

const probeJS = `(() => {
	const el = document.querySelector(%q);
	return !!el && !!(el.offsetParent || el.getClientRects().length);
})()`

// ProbeCSS reports whether the selector matches a visible element.
func (s *Session) ProbeCSS(ctx context.Context, selector string) (bool, error) {
	var present bool
	err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(probeJS, selector), &present))
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return false, errs.Timeout("browser.probe", err)
		}
		return false, err
	}
	return present, nil
}

// Snapshot returns the serialized current document.
func (s *Session) Snapshot(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("browser: capturing snapshot: %w", err)
	}
	return html, nil
}

// CurrentURL returns the tab's current location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("browser: reading location: %w", err)
	}
	return url, nil
}

// elementTarget resolves the selector's box and samples a click point
// inside it.
func (s *Session) elementTarget(ctx context.Context, selector string) (humanize.Vec2, error) {
	var nodes []*cdp.Node
	var box *dom.BoxModel

	err := s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Nodes(selector, &nodes, chromedp.ByQuery),
		chromedp.ActionFunc(func(c context.Context) error {
			if len(nodes) == 0 {
				return fmt.Errorf("no nodes for selector %q", selector)
			}
			var err error
			box, err = dom.GetBoxModel().WithNodeID(nodes[0].NodeID).Do(c)
			return err
		}),
	)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return humanize.Vec2{}, errs.Timeout("browser.locate", err)
		}
		return humanize.Vec2{}, errs.Stale("browser.locate", selector, err)
	}

	x, y, w, h := boxFromQuad(box.Content)
	return s.syn.TargetPoint(x, y, w, h), nil
}

// boxFromQuad reduces a CDP content quad (4 corner points) to an
// axis-aligned rectangle.
func boxFromQuad(quad []float64) (x, y, w, h float64) {
	if len(quad) < 8 {
		return 0, 0, 0, 0
	}
	minX, maxX := quad[0], quad[0]
	minY, maxY := quad[1], quad[1]
	for i := 2; i < 8; i += 2 {
		if quad[i] < minX {
			minX = quad[i]
		}
		if quad[i] > maxX {
			maxX = quad[i]
		}
		if quad[i+1] < minY {
			minY = quad[i+1]
		}
		if quad[i+1] > maxY {
			maxY = quad[i+1]
		}
	}
	return minX, minY, maxX - minX, maxY - minY
}

// Click moves the cursor to the element along a humanized path and
// clicks it.
func (s *Session) Click(ctx context.Context, selector string) error {
	opCtx, cancel := context.WithTimeout(ctx, interactTimeout)
	defer cancel()

	target, err := s.elementTarget(opCtx, selector)
	if err != nil {
		return err
	}
	if err := s.clickAt(opCtx, target); err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return errs.Timeout("browser.click", err)
		}
		return errs.Stale("browser.click", selector, err)
	}
	return nil
}

const selectExistingJS = `(() => {
	const el = document.querySelector(%q);
	if (!el) return false;
	el.focus();
	if (typeof el.select === 'function') el.select();
	return true;
})()`

// TypeText clicks the element to focus it, selects any existing content
// so the keystrokes replace it, and replays a synthesized stream.
func (s *Session) TypeText(ctx context.Context, selector, text string) error {
	const op = "browser.type"

	opCtx, cancel := context.WithTimeout(ctx, interactTimeout+time.Duration(len(text))*120*time.Millisecond)
	defer cancel()

	target, err := s.elementTarget(opCtx, selector)
	if err != nil {
		return err
	}
	if err := s.clickAt(opCtx, target); err != nil {
		return errs.Stale(op, selector, err)
	}

	var focused bool
	if err := s.run(opCtx, chromedp.Evaluate(fmt.Sprintf(selectExistingJS, selector), &focused)); err != nil || !focused {
		return errs.Stale(op, selector, err)
	}

	if err := s.typeKeys(opCtx, s.syn.Keystrokes(text)); err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return errs.Timeout(op, err)
		}
		return errs.Stale(op, selector, err)
	}
	return nil
}

const setValueJS = `(() => {
	const el = document.querySelector(%q);
	if (!el) return false;
	el.value = %q;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
})()`

// SelectOption clicks the control and then commits the option value,
// firing the input and change events the page listens for.
func (s *Session) SelectOption(ctx context.Context, selector, value string) error {
	const op = "browser.select"

	opCtx, cancel := context.WithTimeout(ctx, interactTimeout)
	defer cancel()

	target, err := s.elementTarget(opCtx, selector)
	if err != nil {
		return err
	}
	if err := s.clickAt(opCtx, target); err != nil {
		return errs.Stale(op, selector, err)
	}

	var ok bool
	if err := s.run(opCtx, chromedp.Evaluate(fmt.Sprintf(setValueJS, selector, value), &ok)); err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return errs.Timeout(op, err)
		}
		return errs.Stale(op, selector, err)
	}
	if !ok {
		return errs.Stale(op, selector, fmt.Errorf("element vanished before option commit"))
	}
	return nil
}

// Upload attaches local files to the file input behind the selector.
func (s *Session) Upload(ctx context.Context, selector string, paths []string) error {
	const op = "browser.upload"

	// Uploads get a generous window: the page may thumbnail each image.
	opCtx, cancel := context.WithTimeout(ctx, interactTimeout+time.Duration(len(paths))*2*time.Second)
	defer cancel()

	err := s.run(opCtx, chromedp.SetUploadFiles(selector, paths, chromedp.ByQuery))
	if err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return errs.Timeout(op, err)
		}
		return errs.Stale(op, selector, err)
	}
	return nil
}

const readValueJS = `(() => {
	const el = document.querySelector(%q);
	if (!el) return null;
	return ('value' in el) ? String(el.value) : (el.textContent || '');
})()`

// ReadValue returns the element's current value, for post-write
// verification.
func (s *Session) ReadValue(ctx context.Context, selector string) (string, error) {
	const op = "browser.read"

	opCtx, cancel := context.WithTimeout(ctx, interactTimeout)
	defer cancel()

	var value *string
	if err := s.run(opCtx, chromedp.Evaluate(fmt.Sprintf(readValueJS, selector), &value)); err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return "", errs.Timeout(op, err)
		}
		return "", errs.Stale(op, selector, err)
	}
	if value == nil {
		return "", errs.Stale(op, selector, fmt.Errorf("element vanished before readback"))
	}
	return *value, nil
}

// Screenshot captures the viewport into the screenshot directory and
// returns the file path.
func (s *Session) Screenshot(ctx context.Context, label string) (string, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return "", fmt.Errorf("browser: capturing screenshot: %w", err)
	}

	if err := os.MkdirAll(s.cfg.ScreenshotDir, 0o755); err != nil {
		return "", fmt.Errorf("browser: creating screenshot dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s-%d.png", s.id[:8], label, time.Now().UnixMilli())
	path := filepath.Join(s.cfg.ScreenshotDir, name)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("browser: writing screenshot: %w", err)
	}
	return path, nil
}

// Pause sleeps for a profile-scaled think-time around meanMs.
func (s *Session) Pause(ctx context.Context, meanMs float64) error {
	return s.disp.Sleep(ctx, s.syn.Pause(meanMs))
}

// ExportCookies captures the tab's cookies for the session store.
func (s *Session) ExportCookies(ctx context.Context) ([]store.Cookie, error) {
	var cookies []*network.Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("browser: exporting cookies: %w", err)
	}

	out := make([]store.Cookie, 0, len(cookies))
	for _, c := range cookies {
		sc := store.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		}
		if c.Expires > 0 {
			sc.Expires = time.Unix(int64(c.Expires), 0).UTC()
		}
		out = append(out, sc)
	}
	return out, nil
}

// ImportCookies restores cookies from a stored snapshot into the tab.
func (s *Session) ImportCookies(ctx context.Context, cookies []store.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}

	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != "" {
			p.SameSite = network.CookieSameSite(c.SameSite)
		}
		if !c.Expires.IsZero() {
			exp := cdp.TimeSinceEpoch(c.Expires)
			p.Expires = &exp
		}
		params = append(params, p)
	}

	err := s.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return network.SetCookies(params).Do(c)
	}))
	if err != nil {
		return fmt.Errorf("browser: importing cookies: %w", err)
	}
	s.logger.Debug("Cookies restored.", zap.Int("count", len(params)))
	return nil
}
