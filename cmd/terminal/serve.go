package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"warimas-pos/internal/auth"
	"warimas-pos/internal/broadcast"
	"warimas-pos/internal/cart"
	"warimas-pos/internal/catalog"
	"warimas-pos/internal/config"
	"warimas-pos/internal/db"
	"warimas-pos/internal/logger"
	"warimas-pos/internal/order"
	"warimas-pos/internal/outbox"
	"warimas-pos/internal/stock"
	"warimas-pos/internal/transport"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the terminal: local API, display websocket, outbox and stock refresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts.cfg)
		},
	}
}

// terminal holds everything serve wires together.
type terminal struct {
	conn      *db.Lazy
	tracker   *stock.Tracker
	bus       *broadcast.Bus
	queue     *outbox.Queue
	cart      *cart.Service
	refresher *catalog.Refresher
	handler   *transport.Handler
}

func build(cfg *config.Config) *terminal {
	conn := db.NewLazy(cfg)
	signer := auth.NewSigner(cfg.BackendSecret, cfg.TerminalID, cfg.CashierID)

	backend := outbox.NewBackend(cfg.BackendURL, cfg.BackendTimeout, signer)
	watcher := outbox.NewConnectivity(backend, cfg.ConnectivityInterval)
	queue := outbox.NewQueue(outbox.NewRepository(conn), backend, watcher, outbox.OptionsFromConfig(cfg))

	tracker := stock.NewTracker()
	bus := broadcast.NewBus()

	svc := cart.NewService(cart.Deps{
		Store:      order.NewRepository(conn),
		Stock:      tracker,
		Bus:        bus,
		Outbox:     queue,
		Calculator: order.Calculator{TaxRate: cfg.TaxRate},
		CashierID:  cfg.CashierID,
		StaffID:    cfg.CashierID,
	})

	client := catalog.NewClient(cfg.BackendURL, cfg.BackendTimeout, signer)
	refresher := catalog.NewRefresher(client, tracker, cfg.CatalogRefreshInterval)
	// a cart restored while offline holds its lines back until stock is known
	refresher.OnApplied(svc.ApplyPendingHolds)

	return &terminal{
		conn:      conn,
		tracker:   tracker,
		bus:       bus,
		queue:     queue,
		cart:      svc,
		refresher: refresher,
		handler:   transport.NewHandler(svc, queue, tracker, broadcast.NewWSHandler(bus)),
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.FromCtx(ctx).With(zap.String("terminal_id", cfg.TerminalID))

	t := build(cfg)
	defer t.conn.Close()
	defer t.bus.Close()

	t.queue.Initialize(ctx)
	defer t.queue.Destroy()

	unsubscribe := t.queue.Subscribe(func(s outbox.SyncStatus) {
		log.Debug("sync status",
			zap.Bool("online", s.Online),
			zap.Int("pending", s.PendingCount),
			zap.Int("failed", s.FailedCount),
		)
	})
	defer unsubscribe()

	// stock first, so restored reservations land on current values
	t.refresher.RefreshOnce(ctx)
	restored := t.cart.LoadExistingCart(ctx)
	if restored.Order != nil {
		log.Info("resumed staged cart", zap.String("order_id", restored.Order.ID), zap.Int("items", len(restored.Items)))
	}

	if cfg.AMQPURL != "" {
		relay, err := broadcast.DialAMQPRelay(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Warn("display relay disabled", zap.Error(err))
		} else {
			defer relay.Close()
			go relay.Run(ctx, t.bus.SubscribeAll())
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t.refresher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return transport.NewServer(cfg.HTTPAddr, t.handler.Router()).Run(gctx)
	})

	log.Info("terminal started", zap.String("addr", cfg.HTTPAddr), zap.String("cashier_id", cfg.CashierID))
	err := g.Wait()
	log.Info("terminal stopped")
	return err
}
