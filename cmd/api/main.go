package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"turn.careers/internal/httpapi"
	"turn.careers/internal/identity"
	"turn.careers/internal/obs"
	"turn.careers/internal/otp"
	"turn.careers/internal/store"
	"turn.careers/internal/store/pg"
	"turn.careers/internal/token"
	"turn.careers/internal/verify"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger := obs.Logger()

	secret := os.Getenv("TURN_AUTH_SECRET")
	if secret == "" {
		log.Fatal("TURN_AUTH_SECRET is required")
	}

	// The shared store backs every identity artifact. Without a DSN the
	// process runs on the in-memory store, which is fine for a single
	// instance and for local development.
	var (
		st    store.Store
		db    *sql.DB
		ready httpapi.ReadyProbe
	)
	if dsn := os.Getenv("TURN_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		st = pgStore
		db = pgStore.DB()
		ready = httpapi.ReadyProbe{DB: db}
	} else {
		logger.Warn("TURN_PG_DSN not set, using in-memory store")
		st = store.NewMemory()
	}

	tokens, err := token.NewService([]byte(secret), st)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}
	codes, err := otp.NewService(st)
	if err != nil {
		log.Fatalf("otp service: %v", err)
	}
	verifications, err := verify.NewService(st)
	if err != nil {
		log.Fatalf("verification service: %v", err)
	}

	directory := newDirectory(db)
	guard, err := identity.NewGuard(tokens, directory)
	if err != nil {
		log.Fatalf("identity guard: %v", err)
	}

	api := httpapi.New(httpapi.Deps{
		Guard:         guard,
		Tokens:        tokens,
		Codes:         codes,
		Verifications: verifications,
		Directory:     directory,
		Messenger:     logMessenger{},
		Ready:         ready,
		Version:       version,
	})

	rootCtx, stopSweeper := context.WithCancel(context.Background())
	go store.NewSweeper(st, 5*time.Minute).Run(rootCtx)

	addr := os.Getenv("TURN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting turn-identity", "version", version, "addr", srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	stopSweeper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	logger.Info("stopped")
}
