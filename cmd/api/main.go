package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"skyvault.org/internal/access"
	"skyvault.org/internal/httpapi"
	"skyvault.org/internal/items"
	"skyvault.org/internal/obs"
	"skyvault.org/internal/session"
	"skyvault.org/internal/users"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := obs.Logger()

	addr := envOr("SKYVAULT_HTTP_ADDR", ":8080")
	dsn := os.Getenv("SKYVAULT_PG_DSN")
	secret := os.Getenv("SKYVAULT_SESSION_SECRET")
	if secret == "" {
		logger.Fatal("SKYVAULT_SESSION_SECRET is required")
	}
	keyID := os.Getenv("SKYVAULT_SESSION_KID")
	cookieSecure := envBool("SKYVAULT_COOKIE_SECURE", true)
	accessTTL := envDuration("SKYVAULT_ACCESS_TTL", 15*time.Minute)

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		db         *sql.DB
		userStore  users.Store
		itemStore  items.Store
		grantStore access.GrantStore
		tokenStore session.TokenStore
	)
	if dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			logger.Fatalf("open database: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := db.PingContext(pingCtx); err != nil {
			cancel()
			logger.Fatalf("ping database: %v", err)
		}
		cancel()

		userStore = users.NewPGStore(db)
		itemStore = items.NewPGStore(db)
		grantStore = access.NewPGStore(db)
		tokenStore = session.NewPGStore(db)
	} else {
		logger.Println("SKYVAULT_PG_DSN not set, using in-memory stores")
		userStore = users.NewMemoryStore()
		itemStore = items.NewMemoryStore()
		grantStore = access.NewMemoryStore()
		tokenStore = session.NewMemoryStore()
	}

	sessionOpts := []session.Option{session.WithAccessTTL(accessTTL)}
	if keyID != "" {
		sessionOpts = append(sessionOpts, session.WithKeyID(keyID))
	}
	sessions, err := session.NewService(tokenStore, []byte(secret), sessionOpts...)
	if err != nil {
		logger.Fatalf("session service: %v", err)
	}

	itemService := items.NewService(itemStore)
	resolver := access.NewResolver(itemStore, grantStore)
	sharing := access.NewSharing(resolver, grantStore, userStore)

	api := httpapi.New(httpapi.Config{
		Ready:        httpapi.ReadyProbe{DB: db},
		Version:      version,
		Sessions:     sessions,
		Users:        userStore,
		Items:        itemService,
		Resolver:     resolver,
		Sharing:      sharing,
		CookieSecure: cookieSecure,
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", addr)
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	case sig := <-stop:
		logger.Printf("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Printf("shutdown: %v", err)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}
