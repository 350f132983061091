package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"warimas-pos/internal/cart"
	"warimas-pos/internal/catalog"
	"warimas-pos/internal/logger"
	"warimas-pos/internal/order"
	"warimas-pos/internal/outbox"
	"warimas-pos/internal/stock"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartService is the cart surface the local UI drives.
type CartService interface {
	Cart() cart.Cart
	AddItem(ctx context.Context, p catalog.Product, qty int) (*order.LocalOrderItem, error)
	AddPackage(ctx context.Context, pkg catalog.Package, qty int) (*order.LocalOrderItem, error)
	RemoveItem(ctx context.Context, itemID string) error
	UpdateQuantity(ctx context.Context, itemID string, qty int) error
	UpdateItem(ctx context.Context, itemID string, patch cart.ItemPatch) error
	SetDiscount(ctx context.Context, amount decimal.Decimal) error
	SetCustomer(ctx context.Context, c cart.Customer) error
	SetTable(ctx context.Context, tableID *string) error
	ClearCart(ctx context.Context) error
	Confirm(ctx context.Context) error
	Finalize(ctx context.Context) (string, error)
	AbortCheckout(ctx context.Context) error
}

type SyncService interface {
	GetSyncStatus() outbox.SyncStatus
	RetryFailedMutations(ctx context.Context) (int64, error)
	Trigger()
}

type StockReader interface {
	Snapshot() map[string]stock.Entry
	Version() uint64
}

type Handler struct {
	cart    CartService
	sync    SyncService
	stock   StockReader
	display http.Handler
}

// NewHandler wires the services; display serves the customer display websocket.
func NewHandler(c CartService, s SyncService, st StockReader, display http.Handler) *Handler {
	return &Handler{cart: c, sync: s, stock: st, display: display}
}

// Router builds the terminal-local API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestIDMiddleware)
	r.Use(logger.LoggingMiddleware)

	r.Get("/health", h.health)
	if h.display != nil {
		r.Method(http.MethodGet, "/ws/display", h.display)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.getCart)
			r.Delete("/", h.clearCart)
			r.Post("/items", h.addItem)
			r.Post("/packages", h.addPackage)
			r.Patch("/items/{itemID}", h.updateItem)
			r.Delete("/items/{itemID}", h.removeItem)
			r.Put("/table", h.setTable)
			r.Put("/customer", h.setCustomer)
			r.Put("/discount", h.setDiscount)
			r.Post("/confirm", h.confirm)
			r.Post("/finalize", h.finalize)
			r.Post("/abort", h.abortCheckout)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", h.syncStatus)
			r.Post("/retry", h.retryFailed)
			r.Post("/drain", h.drain)
		})

		r.Get("/stock", h.getStock)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Server runs the router until its context ends.
type Server struct {
	srv *http.Server
}

func NewServer(addr string, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("http server listening", zap.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
