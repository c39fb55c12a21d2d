package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"askbase.org/internal/auth"
	"askbase.org/internal/httpapi"
	"askbase.org/internal/obs"
	"askbase.org/internal/session"
	"askbase.org/internal/store/pg"
	"askbase.org/internal/token"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	accessSecret := os.Getenv("ASKBASE_ACCESS_SECRET")
	refreshSecret := os.Getenv("ASKBASE_REFRESH_SECRET")
	if accessSecret == "" || refreshSecret == "" {
		log.Fatal("ASKBASE_ACCESS_SECRET and ASKBASE_REFRESH_SECRET are required")
	}

	var tokenOpts []token.Option
	if v := os.Getenv("ASKBASE_ISSUER"); v != "" {
		tokenOpts = append(tokenOpts, token.WithIssuer(v))
	}
	if v := os.Getenv("ASKBASE_AUDIENCE"); v != "" {
		tokenOpts = append(tokenOpts, token.WithAudience(v))
	}
	if v := os.Getenv("ASKBASE_ACCESS_TTL"); v != "" {
		tokenOpts = append(tokenOpts, token.WithAccessTTL(v))
	}
	if v := os.Getenv("ASKBASE_REFRESH_TTL"); v != "" {
		tokenOpts = append(tokenOpts, token.WithRefreshTTL(v))
	}
	tokens, err := token.New(accessSecret, refreshSecret, tokenOpts...)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	// Postgres when a DSN is set; otherwise an in-memory stack for local
	// development and smoke tests.
	var (
		sessions  session.Store
		users     auth.UserStore
		rbacStore auth.RBACStore
		ready     httpapi.ReadyProbe
		closeFn   func()
	)
	if dsn := os.Getenv("ASKBASE_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		sessions = store.Sessions()
		users = store.Users()
		rbacStore = store.RBAC()
		ready = httpapi.ReadyProbe{DB: store.DB()}
		closeFn = func() { _ = store.Close() }
	} else {
		log.Println("ASKBASE_PG_DSN not set, using in-memory stores")
		sessions = session.NewInMemory()
		users = auth.NewInMemoryUsers()
		rbacStore = auth.NewInMemoryRBAC()
		closeFn = func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := auth.Seed(ctx, rbacStore); err != nil {
		cancel()
		log.Fatalf("seed rbac catalog: %v", err)
	}
	cancel()

	lifecycle, err := auth.NewService(tokens, sessions, users)
	if err != nil {
		log.Fatalf("lifecycle service: %v", err)
	}
	rbacSvc, err := auth.NewRBACService(rbacStore)
	if err != nil {
		log.Fatalf("rbac service: %v", err)
	}
	resolver, err := auth.NewResolver(rbacStore)
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}

	api := httpapi.New(httpapi.Config{
		Ready:     ready,
		Version:   version,
		Lifecycle: lifecycle,
		RBAC:      rbacSvc,
		Resolver:  resolver,
		Limiter:   httpapi.NewRateLimiter(envInt("ASKBASE_RATE_PER_SEC", 20), envInt("ASKBASE_RATE_BURST", 40)),
	})

	addr := os.Getenv("ASKBASE_ADDR")
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

	log.Printf("Starting askbase-auth %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	closeFn()
	log.Println("Stopped")
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Fatalf("%s: invalid value %q", name, v)
	}
	return n
}
