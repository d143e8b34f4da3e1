// -- cmd/snapshot.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/domlens/api/schemas"
	"github.com/xkilldash9x/domlens/internal/browser/session"
	"github.com/xkilldash9x/domlens/internal/dom"
	"github.com/xkilldash9x/domlens/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	snapshotJSON  bool
	watchInterval time.Duration
)

// snapshotCmd navigates to a URL and prints the extracted page state, either
// once or repeatedly with --watch.
var snapshotCmd = &cobra.Command{
	Use:   "snapshot <url>",
	Short: "Navigate to a URL and print the indexed element view.",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshot,
}

func init() {
	snapshotCmd.Flags().BoolVar(&snapshotJSON, "json", false, "emit the raw state snapshot as JSON")
	snapshotCmd.Flags().DurationVar(&watchInterval, "watch", 0, "re-extract on this interval until interrupted")
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()
	url := args[0]

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	browser, err := session.Launch(ctx, &cfg.Browser, logger)
	if err != nil {
		return fmt.Errorf("launching browser: %w", err)
	}
	defer func() {
		// Teardown must run even after an interrupt cancelled ctx; Detach
		// keeps the context values but sheds the cancellation.
		shutdownCtx, cancel := context.WithTimeout(session.Detach(ctx), 15*time.Second)
		defer cancel()
		if err := browser.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Browser shutdown incomplete", zap.Error(err))
		}
	}()

	page, err := browser.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("opening page: %w", err)
	}
	defer page.Close()

	navCtx, cancelNav := context.WithTimeout(ctx, cfg.Browser.NavigationTimeout)
	defer cancelNav()
	if err := page.Navigate(navCtx, url); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}

	svc := dom.NewService(&cfg.Extraction, logger, browser.Cache(), browser)

	if watchInterval <= 0 {
		snapshot, _, err := captureWithRetry(ctx, svc, page, nil)
		if err != nil {
			return err
		}
		return printSnapshot(snapshot)
	}

	limiter := rate.NewLimiter(rate.Every(watchInterval), 1)
	var previous *dom.SerializedState
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil // interrupted
		}
		snapshot, state, err := captureWithRetry(ctx, svc, page, previous)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := printSnapshot(snapshot); err != nil {
			return err
		}
		previous = state
	}
}

// captureWithRetry absorbs mid-extraction navigations: one stale result is
// retried against the fresh document.
func captureWithRetry(ctx context.Context, svc *dom.Service, page *session.Page, previous *dom.SerializedState) (*schemas.BrowserStateSnapshot, *dom.SerializedState, error) {
	for attempt := 0; ; attempt++ {
		snapshot, state, err := svc.CapturePageState(ctx, page, previous)
		if err == nil {
			return snapshot, state, nil
		}
		if errors.Is(err, schemas.ErrStaleExtraction) && attempt < 2 {
			continue
		}
		return nil, nil, err
	}
}

func printSnapshot(snapshot *schemas.BrowserStateSnapshot) error {
	if snapshotJSON {
		out, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	newCount := 0
	for _, el := range snapshot.Elements {
		if el.IsNew {
			newCount++
		}
	}

	fmt.Printf("%s - %s\n", snapshot.URL, snapshot.Title)
	fmt.Printf("elements: %d (%d new), ax nodes kept: %d/%d\n",
		len(snapshot.Elements), newCount,
		snapshot.Stats.NodesKept, snapshot.Stats.NodesVisited)
	if len(snapshot.OpenTabs) > 1 {
		fmt.Printf("open tabs: %d\n", len(snapshot.OpenTabs))
	}
	fmt.Println(snapshot.ElementTree)
	return nil
}
