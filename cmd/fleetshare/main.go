package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/example/fleetshare/internal/access"
	"github.com/example/fleetshare/internal/booking"
	"github.com/example/fleetshare/internal/config"
	httptransport "github.com/example/fleetshare/internal/http"
	"github.com/example/fleetshare/internal/latefee"
	"github.com/example/fleetshare/internal/locks"
	"github.com/example/fleetshare/internal/persistence/sqlite"
	"github.com/example/fleetshare/internal/recurrence"
	"github.com/example/fleetshare/internal/trip"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	storage, err := sqlite.Open(cfg.SQLiteDSN)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := storage.Migrate(context.Background()); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	idGenerator := uuid.NewString
	now := time.Now

	masterKey, err := cfg.AccessTokenKey()
	if err != nil {
		logger.Error("failed to decode access token key", "error", err)
		os.Exit(1)
	}

	// One lock arena guards each vehicle across admission, trips, and token
	// issuance; separate arenas would let a bump race a concurrent checkout.
	vehicleLocks := locks.NewKeyedMutex()

	guard := booking.NewConflictGuard(storage.Intervals, vehicleLocks, idGenerator, now, logger)
	expander := recurrence.NewExpander(storage.Recurrences, guard, now, logger)
	ruleService := recurrence.NewService(storage.Recurrences, expander, idGenerator, now, logger)
	sweeper := recurrence.NewSweeper(storage.Recurrences, expander, cfg.ExpandHorizonDays, cfg.SweepInterval.Duration(), now, logger)

	feePolicy := latefee.Policy{
		GraceMinutes:      cfg.LateFee.GraceMinutes,
		BlockMinutes:      cfg.LateFee.BlockMinutes,
		RatePerBlockMinor: cfg.LateFee.RatePerBlockMinor,
		CapMinor:          cfg.LateFee.CapMinor,
		Currency:          cfg.LateFee.Currency,
	}
	feeService := latefee.NewService(storage.Fees, staticAdminList(cfg.FeeAdmins), feePolicy, idGenerator, now, logger)
	tripService := trip.NewService(storage.Intervals, feeService, vehicleLocks, now, logger)

	tokenService, err := access.NewTokenService(masterKey, storage.Intervals, vehicleLocks, cfg.AccessTokenTTL.Duration(), access.Windows{
		CheckoutLead:  cfg.CheckoutLead.Duration(),
		CheckoutGrace: cfg.CheckoutGrace.Duration(),
	}, now, logger)
	if err != nil {
		logger.Error("failed to initialise access tokens", "error", err)
		os.Exit(1)
	}

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Reservations: httptransport.NewReservationHandler(guard, tripService, feeService, logger),
		Recurrences:  httptransport.NewRecurrenceHandler(ruleService, logger),
		Access:       httptransport.NewAccessHandler(tokenService, logger),
		Trips:        httptransport.NewTripHandler(tokenService, tripService, logger),
		Fees:         httptransport.NewFeeHandler(feeService, logger),
		Logger:       logger,
		Healthcheck: func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return storage.Ping(pingCtx)
		},
	})

	go sweeper.Run(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("fleetshare API listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

// staticAdminList authorizes fee waivers against the configured admin ids.
type staticAdminList []string

func (l staticAdminList) CanWaiveFees(_ context.Context, userID string) (bool, error) {
	for _, admin := range l {
		if admin == userID {
			return true, nil
		}
	}
	return false, nil
}
