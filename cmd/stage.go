// File: cmd/stage.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Hawhaz/marketstage/internal/browser"
	"github.com/Hawhaz/marketstage/internal/browser/stealth"
	"github.com/Hawhaz/marketstage/internal/engine"
	"github.com/Hawhaz/marketstage/internal/listing"
	"github.com/Hawhaz/marketstage/internal/locator"
	"github.com/Hawhaz/marketstage/internal/observability"
	"github.com/Hawhaz/marketstage/internal/recovery"
	"github.com/Hawhaz/marketstage/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// newStageCmd creates the `stage` command.
func newStageCmd() *cobra.Command {
	var (
		stageDraft bool
		sessionID  string
		outDir     string
	)

	stageCmd := &cobra.Command{
		Use:   "stage [request.json...]",
		Short: "Stages listing drafts from request files, up to the review screen",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			requests, err := loadRequests(args)
			if err != nil {
				return err
			}

			sessionStore, cleanup, err := openStore(ctx, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			manager := browser.NewManager(cfg.Browser, logger)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
				defer cancel()
				if err := manager.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Browser shutdown reported an error", zap.Error(err))
				}
			}()

			state, err := sessionStore.Load(ctx, sessionID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("loading session %q: %w", sessionID, err)
			}

			logger.Info("Staging listings",
				zap.Int("count", len(requests)),
				zap.Int("concurrency", cfg.Submission.Concurrency),
				zap.Bool("stage_draft", stageDraft),
			)

			// Session starts are paced so a burst of listings does not
			// open tabs faster than a person plausibly would.
			perMinute := cfg.Submission.StartRatePerMinute
			if perMinute <= 0 {
				perMinute = 1
			}
			limiter := rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1)

			rng := rand.New(rand.NewSource(time.Now().UnixNano()))
			var failures atomic.Int64
			var stateMu sync.Mutex

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(cfg.Submission.Concurrency)

			for _, req := range requests {
				persona := stealth.SamplePersona(rng)
				g.Go(func() error {
					if err := limiter.Wait(gctx); err != nil {
						return err
					}

					result, cookies, runErr := stageOne(gctx, manager, persona, state, req.request, stageDraft, logger)
					if result != nil {
						if werr := writeResult(outDir, req.name, result); werr != nil {
							logger.Warn("Could not write result artifact", zap.String("request", req.name), zap.Error(werr))
						}
					}
					if len(cookies) > 0 {
						stateMu.Lock()
						next := &store.SessionState{Authenticated: true, Cookies: cookies}
						if state != nil {
							next.History = state.History
							next.LastURL = state.LastURL
						}
						if serr := sessionStore.Save(gctx, sessionID, next); serr != nil {
							logger.Warn("Could not persist session state", zap.Error(serr))
						}
						stateMu.Unlock()
					}
					if runErr != nil {
						failures.Add(1)
						logger.Error("Listing failed to stage",
							zap.String("request", req.name),
							zap.Error(runErr),
						)
						// Other listings keep going; failures are aggregated.
						return nil
					}

					logger.Info("Listing staged to review",
						zap.String("request", req.name),
						zap.String("final_state", result.FinalStateName),
						zap.Int("dropped_images", result.DroppedImages),
					)
					return nil
				})
			}

			if err := g.Wait(); err != nil {
				return err
			}
			if n := failures.Load(); n > 0 {
				return fmt.Errorf("%d of %d listings failed to stage", n, len(requests))
			}
			return nil
		},
	}

	stageCmd.Flags().BoolVar(&stageDraft, "stage-draft", false, "save the draft after review instead of pausing at the review screen")
	stageCmd.Flags().StringVar(&sessionID, "session", "default", "session identifier for cookie persistence")
	stageCmd.Flags().StringVar(&outDir, "out", "results", "directory for per-listing result artifacts")
	return stageCmd
}

type namedRequest struct {
	name    string
	request listing.ListingRequest
}

func loadRequests(paths []string) ([]namedRequest, error) {
	out := make([]namedRequest, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading request %s: %w", path, err)
		}
		var req listing.ListingRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("decoding request %s: %w", path, err)
		}
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("request %s: %w", path, err)
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		out = append(out, namedRequest{name: name, request: req})
	}
	return out, nil
}

// openStore builds the configured session store backend.
func openStore(ctx context.Context, logger *zap.Logger) (store.Store, func(), error) {
	switch cfg.Session.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Session.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting session database: %w", err)
		}
		pg, err := store.NewPGStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pg, pool.Close, nil

	default:
		fs, err := store.NewFileStore(cfg.Session.Dir, logger)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}
}

// stageOne runs the full pipeline for one listing in its own tab and
// returns the tab's cookies for session write-back.
func stageOne(
	ctx context.Context,
	manager *browser.Manager,
	persona stealth.Persona,
	state *store.SessionState,
	req listing.ListingRequest,
	stageDraft bool,
	logger *zap.Logger,
) (*engine.Result, []store.Cookie, error) {
	session, err := manager.NewSession(ctx, persona, cfg.Behavior)
	if err != nil {
		return nil, nil, err
	}
	defer session.Close()

	if state != nil && len(state.Cookies) > 0 {
		if err := session.ImportCookies(ctx, state.Cookies); err != nil {
			logger.Warn("Could not restore session cookies", zap.Error(err))
		}
	}

	plan, err := listing.BuildPlan(req, nil, cfg.Listing)
	if err != nil {
		return nil, nil, err
	}

	loc := locator.New(session, cfg.Locator, logger)
	rec := recovery.New(cfg.Recovery, logger, nil)
	machine := engine.New(session, loc, rec, engine.Options{
		Deadline:   cfg.Submission.Deadline,
		StageDraft: stageDraft,
	}, logger)

	result, runErr := machine.Run(ctx, plan, nil)

	cookies, cerr := session.ExportCookies(ctx)
	if cerr != nil {
		logger.Debug("Could not export session cookies", zap.Error(cerr))
	}
	return result, cookies, runErr
}

func writeResult(dir, name string, result *engine.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name+"-result.json"), data, 0o644)
}
