package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/typio/virtualoffice/backend-go/internal/auth"
	"github.com/typio/virtualoffice/backend-go/internal/collab"
	"github.com/typio/virtualoffice/backend-go/internal/config"
	"github.com/typio/virtualoffice/backend-go/internal/metrics"
	mw "github.com/typio/virtualoffice/backend-go/internal/middleware"
	"github.com/typio/virtualoffice/backend-go/internal/office"
	"github.com/typio/virtualoffice/backend-go/internal/presence"
	"github.com/typio/virtualoffice/backend-go/internal/store"
)

func main() {
	hashKey := flag.String("hash-admin-key", "", "print the ADMIN_KEY_HASH value for the given admin key and exit")
	flag.Parse()
	if *hashKey != "" {
		if err := printAdminKeyHash(os.Stdout, *hashKey); err != nil {
			slog.Error("hash admin key", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(config.NewLogger(cfg.Env, cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	presenceStore, err := store.Open(ctx, store.Config{
		Backend:      cfg.StoreBackend,
		DatabaseURL:  cfg.DatabaseURL,
		RedisAddr:    cfg.RedisAddr,
		RedisDB:      cfg.RedisDB,
		BadgerPath:   cfg.BadgerPath,
		ProbeTimeout: cfg.StoreProbeTimeout,
	})
	if err != nil {
		slog.Error("open presence store", "error", err)
		os.Exit(1)
	}
	defer presenceStore.Close()

	manager := presence.NewManager(presenceStore, presence.WithStoreTimeout(cfg.StoreOpTimeout))
	if err := metrics.RegisterStats(prometheus.DefaultRegisterer, manager); err != nil {
		slog.Error("register metrics", "error", err)
		os.Exit(1)
	}

	hub := collab.NewHub(manager, collab.Options{
		OriginPatterns: cfg.OriginHosts(),
		MaxMessageSize: cfg.MaxMessageSize,
		SendBuffer:     cfg.SendBuffer,
	})
	officeHandler := office.NewHandler(manager)
	authHandler := auth.NewHandler(auth.NewInvitations(cfg.InviteSecret, cfg.InviteTTL, cfg.PublicURL))

	r := mux.NewRouter()

	// Global middleware
	r.Use(mw.Recovery)
	r.Use(mw.Logger)

	r.HandleFunc("/health", officeHandler.Health).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")
	r.HandleFunc("/api/invitations/{token}", authHandler.GetInvitation).Methods("GET")

	// WebSocket endpoint
	r.HandleFunc("/ws/{roomId}", hub.ServeWS)

	// Admin API
	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth.AdminKey(cfg.AdminKeyHash))

	api.HandleFunc("/stats", officeHandler.Stats).Methods("GET")
	api.HandleFunc("/rooms", officeHandler.ListRooms).Methods("GET")
	api.HandleFunc("/rooms/{roomId}/participants", officeHandler.RoomParticipants).Methods("GET")
	api.HandleFunc("/offices/{officeId}/participants", officeHandler.OfficeParticipants).Methods("GET")
	api.HandleFunc("/offices/{officeId}/presence", officeHandler.OfficePresence).Methods("GET")
	api.HandleFunc("/offices/{officeId}/invitations", authHandler.CreateInvitation).Methods("POST")
	api.HandleFunc("/users/{userId}/move", officeHandler.MoveUser).Methods("POST")

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr: addr,
		// CORS wraps the router so preflight requests never reach route matching
		Handler:     mw.CORS(cfg.Origins())(r),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)

		// Hijacked websocket connections are not covered by Shutdown
		cancel()
	}()

	slog.Info("server starting", "addr", addr, "store", presenceStore.Name())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	// Let sessions disconnect and detached presence writes land before the
	// store closes
	hub.Wait()
	slog.Info("flushing presence store")
	manager.Wait()
}

func printAdminKeyHash(w io.Writer, key string) error {
	hash, err := auth.HashAdminKey(key)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}
