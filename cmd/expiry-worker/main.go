package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/payment-orders/internal/adapters/postgres"
	"github.com/robertarktes/payment-orders/internal/config"
	"github.com/robertarktes/payment-orders/internal/domain"
	"github.com/robertarktes/payment-orders/internal/observability"
	"golang.org/x/sync/errgroup"
)

const sweepBatch = 100

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := postgres.NewRepository(pool)

	worker := NewExpiryWorker(repo, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(ctx, time.Minute)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown expiry worker")
}

// ExpiryWorker is the durable complement to lazy expiry on read: it marks
// stale created/pending orders EXPIRED and returns their held seats, and
// releases reservations that never got an order at all.
type ExpiryWorker struct {
	repo   *postgres.Repository
	logger observability.Logger
}

func NewExpiryWorker(repo *postgres.Repository, logger observability.Logger) *ExpiryWorker {
	return &ExpiryWorker{repo: repo, logger: logger}
}

func (w *ExpiryWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := w.sweepOrders(ctx, now); err != nil {
				w.logger.WithError(err).Error("order sweep failed")
			}
			if err := w.sweepReservations(ctx, now); err != nil {
				w.logger.WithError(err).Error("reservation sweep failed")
			}
		}
	}
}

// sweepOrders expires stale orders and releases their reservations in one
// transaction per batch. The status CAS makes this safe to race with a late
// gateway signal; whoever commits first wins.
func (w *ExpiryWorker) sweepOrders(ctx context.Context, now time.Time) error {
	return withRetry(ctx, 3, func() error {
		return w.repo.WithTx(ctx, func(tx pgx.Tx) error {
			expired, err := w.repo.ExpireStaleOrders(ctx, tx, now, sweepBatch)
			if err != nil {
				return err
			}
			for _, o := range expired {
				if _, err := w.repo.ReleaseReservation(ctx, tx, o.ReservationKey); err != nil {
					return err
				}
				payload, _ := json.Marshal(map[string]interface{}{
					"order_ref": o.Ref,
					"amount":    o.Amount.StringFixed(2),
				})
				if err := w.repo.InsertNotification(ctx, tx, o.ID, "payment.expired", payload); err != nil {
					return err
				}
				w.logger.WithField("order_ref", o.Ref).Info("order expired")
			}
			return nil
		})
	})
}

// sweepReservations returns seats from reservations that expired without an
// order ever consuming them. Each release is its own transaction; the batch
// runs in parallel.
func (w *ExpiryWorker) sweepReservations(ctx context.Context, now time.Time) error {
	stale, err := w.repo.ExpiredReservations(ctx, now, sweepBatch)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, res := range stale {
		res := res
		g.Go(func() error {
			return withRetry(gctx, 3, func() error {
				return w.repo.WithTx(gctx, func(tx pgx.Tx) error {
					_, err := w.repo.ReleaseReservation(gctx, tx, res.Key)
					return err
				})
			})
		})
	}
	return g.Wait()
}

func withRetry(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !domain.IsRetryable(err) {
			return err
		}
		backoff := time.Duration(1<<i) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}
