package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"warimas-pos/internal/auth"
	"warimas-pos/internal/logger"

	"go.uber.org/zap"
)

var ErrSnapshotUnavailable = errors.New("stock snapshot unavailable")

// Client reads the authoritative stock snapshot from the backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *auth.Signer
}

func NewClient(baseURL string, timeout time.Duration, signer *auth.Signer) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		signer:     signer,
	}
}

func (c *Client) FetchStock(ctx context.Context) ([]StockLevel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/catalog/stock", nil)
	if err != nil {
		return nil, err
	}
	if err := c.signer.Authorize(req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshotUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrSnapshotUnavailable, resp.StatusCode)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode stock snapshot: %w", err)
	}
	return snap.Stock, nil
}

// StockSeeder receives fresh snapshots; the reservation tracker implements it.
type StockSeeder interface {
	InitializeStock(levels []StockLevel) bool
}

type StockFetcher interface {
	FetchStock(ctx context.Context) ([]StockLevel, error)
}

// Refresher periodically re-seeds the tracker from the backend.
type Refresher struct {
	fetcher  StockFetcher
	seeder   StockSeeder
	interval time.Duration
	applied  []func(context.Context)
}

func NewRefresher(fetcher StockFetcher, seeder StockSeeder, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Refresher{fetcher: fetcher, seeder: seeder, interval: interval}
}

// OnApplied registers fn to run after every snapshot that reached the seeder.
// Not safe to call once Run has started.
func (r *Refresher) OnApplied(fn func(context.Context)) {
	r.applied = append(r.applied, fn)
}

// RefreshOnce fetches a snapshot and seeds the tracker. Offline is not an error
// worth surfacing; the tracker keeps its last known values.
func (r *Refresher) RefreshOnce(ctx context.Context) bool {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "catalog"),
		zap.String("method", "RefreshOnce"),
	)

	levels, err := r.fetcher.FetchStock(ctx)
	if err != nil {
		log.Warn("stock snapshot fetch failed", zap.Error(err))
		return false
	}

	changed := r.seeder.InitializeStock(levels)
	log.Debug("stock snapshot applied", zap.Int("products", len(levels)), zap.Bool("changed", changed))

	for _, fn := range r.applied {
		fn(ctx)
	}
	return changed
}

func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.RefreshOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RefreshOnce(ctx)
		}
	}
}
