package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/coshell/coshell/internal/auth"
	"github.com/coshell/coshell/internal/broadcast"
	"github.com/coshell/coshell/internal/config"
	"github.com/coshell/coshell/internal/credcache"
	"github.com/coshell/coshell/internal/database"
	"github.com/coshell/coshell/internal/handlers"
	"github.com/coshell/coshell/internal/logging"
	"github.com/coshell/coshell/internal/middleware"
	"github.com/coshell/coshell/internal/relay"
	"github.com/coshell/coshell/internal/sharing"
	"github.com/coshell/coshell/internal/shellio"
	"github.com/coshell/coshell/internal/viewport"
)

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--create-admin":
			runCLICommand("create-admin")
			return
		case "--reset-password":
			runCLICommand("reset-password")
			return
		}
	}

	config.Load()
	logging.Init()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	log.Printf("Config: ListenAddr=%s AuthDisabled=%v FlushThreshold=%d",
		config.Cfg.ListenAddr, config.Cfg.AuthDisabled, config.Cfg.FlushThreshold)

	// Relay wiring: one shell module, one credential cache, one bus and one
	// registry shared by every connection.
	shellModule := shellio.NewSSHModule()
	creds := credcache.New(parseDuration(config.Cfg.CredentialTTL, credcache.DefaultTTL))
	bus := broadcast.New()
	registry := relay.NewRegistry(relay.NewStore(database.DB), shellModule, creds, bus, relay.Config{
		FlushThreshold: config.Cfg.FlushThreshold,
		PollInterval:   parseDuration(config.Cfg.PumpPollInterval, relay.DefaultPollInterval),
		IdleTimeout:    parseDuration(config.Cfg.PumpIdleTimeout, relay.DefaultIdleTimeout),
		ViewportFloor:  viewport.Size{Cols: config.Cfg.MinViewportCols, Rows: config.Cfg.MinViewportRows},
	})

	sessionStore := auth.NewSessionStore()
	shareSvc := sharing.New(database.DB)

	handlers.SessionStore = sessionStore
	handlers.Reg = registry
	handlers.Bus = bus
	handlers.Creds = creds
	handlers.Share = shareSvc

	// Periodic maintenance: expired login sessions, expired credentials,
	// and shell channels nobody is viewing anymore.
	jobs := cron.New()
	jobs.AddFunc("@every 10m", func() {
		if n := sessionStore.Cleanup(); n > 0 {
			log.Printf("Login sessions: swept %d expired entries", n)
		}
	})
	jobs.AddFunc("@every 1m", func() {
		if n := creds.Sweep(); n > 0 {
			log.Printf("Credential cache: swept %d expired entries", n)
		}
	})
	jobs.AddFunc("@every 5m", func() {
		if n := registry.SweepDetachedShells(); n > 0 {
			log.Printf("Suspended %d shell channels with no viewers", n)
		}
	})
	jobs.Start()
	defer jobs.Stop()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", handlers.HealthCheck)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Auth endpoints (no auth required)
		r.Post("/auth/login", handlers.Login)
		r.Get("/auth/setup-required", handlers.SetupRequired)
		r.Post("/auth/setup", handlers.SetupCreateAdmin)

		// Protected routes (require auth)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sessionStore))

			r.Post("/auth/logout", handlers.Logout)
			r.Get("/auth/me", handlers.GetCurrentUser)

			// Sessions
			r.Get("/sessions", handlers.ListSessions)
			r.Post("/sessions/shell", handlers.CreateShellSession)
			r.Post("/sessions/document", handlers.CreateDocumentSession)
			r.Post("/sessions/join", handlers.JoinByKey)
			r.Patch("/sessions/{id}", handlers.RenameSession)
			r.Delete("/sessions/{id}", handlers.CloseSession)
			r.Post("/sessions/{id}/share", handlers.EnableSharing)
			r.Delete("/sessions/{id}/share", handlers.DisableSharing)
			r.Get("/sessions/{id}/logs", handlers.GetSessionLogs)

			// Relay WebSocket
			r.Get("/sessions/{id}/ws", handlers.SessionWS)

			// Saved hosts
			r.Get("/hosts", handlers.ListSavedHosts)
			r.Post("/hosts", handlers.CreateSavedHost)
			r.Delete("/hosts/{id}", handlers.DeleteSavedHost)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)

				r.Get("/users", handlers.ListUsers)
				r.Post("/users", handlers.CreateUser)
				r.Delete("/users/{userId}", handlers.DeleteUser)
				r.Put("/users/{userId}", handlers.UpdateUserCapabilities)
				r.Post("/users/{userId}/reset-password", handlers.ResetUserPassword)

				r.Get("/logs", handlers.GetServerLogs)
				r.Delete("/logs", handlers.ClearServerLogs)
			})
		})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	shellModule.DisconnectAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func runCLICommand(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	username := fs.String("username", "", "Username")
	password := fs.String("password", "", "Password")
	fs.Parse(os.Args[2:])

	if *username == "" || *password == "" {
		fmt.Fprintf(os.Stderr, "Usage: coshell --%s --username <user> --password <pass>\n", command)
		os.Exit(1)
	}

	config.Load()
	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	switch command {
	case "create-admin":
		user := &database.User{
			Username:        *username,
			PasswordHash:    hash,
			Role:            "admin",
			CanUseShell:     true,
			CanUseDocuments: true,
		}
		if err := database.CreateUser(user); err != nil {
			log.Fatalf("Failed to create admin: %v", err)
		}
		fmt.Printf("Admin user '%s' created successfully.\n", *username)

	case "reset-password":
		user, err := database.GetUserByUsername(*username)
		if err != nil {
			log.Fatalf("User '%s' not found", *username)
		}
		if err := database.UpdateUserPassword(user.ID, hash); err != nil {
			log.Fatalf("Failed to update password: %v", err)
		}
		fmt.Printf("Password reset for '%s'.\n", *username)
	}
}
