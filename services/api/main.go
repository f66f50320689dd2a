package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/fileserver"
	"github.com/chatsync/internal/handler"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/push"
	"github.com/chatsync/internal/repository"
	"github.com/chatsync/internal/service"
	"github.com/chatsync/internal/startup"
	"github.com/chatsync/internal/storage"
	"github.com/chatsync/internal/storage/memory"
	"github.com/chatsync/internal/ws"
	"github.com/chatsync/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and in-memory session store")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	if err := startup.Migrate(context.Background(), pool, migrations.Files); err != nil {
		logger.Errorf("migrations: %v", err)
		os.Exit(1)
	}
	if *migrate && !*dev {
		return
	}

	// Whatever crashed last time, nobody is online at startup.
	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if _, err := pool.Exec(resetCtx, "UPDATE users SET online = false"); err != nil {
		logger.Errorf("reset online status: %v", err)
	}
	resetCancel()
	logger.Info("database connected, migrations applied")

	var secretStore storage.SecretStore
	if *dev {
		secretStore = memory.New()
	} else {
		secretStore = startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
	}
	defer secretStore.Close()

	userRepo := repository.NewUserRepository(pool)
	convRepo := repository.NewConversationRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)

	fileSvc := fileserver.New(cfg.UploadDir, cfg.MaxUploadSize, "/api/files")
	pushClient := push.NewClient(cfg.PushServiceURL)

	svc := service.New(userRepo, convRepo, msgRepo)
	svc.SetBlobResolver(fileSvc)
	notifier := push.NewMessageNotifier(pushClient)
	svc.SetNotifier(notifier)
	svc.SetAdminPolicy(cfg.IsAdminHandle)

	hub := ws.NewHub(svc, svc, cfg.MaxWSConnections)
	svc.SetInvalidator(hub)
	// Push only reaches participants without a live socket.
	notifier.SetSocketTracker(hub, userRepo)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	userH := handler.NewUserHandler(svc)
	convH := handler.NewConversationHandler(svc)
	msgH := handler.NewMessageHandler(svc)
	fileH := handler.NewFileHandler(cfg, fileSvc)
	adminH := handler.NewAdminHandler(svc)
	pushH := handler.NewPushHandler(svc, pushClient, cfg.PushVAPIDPublicKey)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Never compress WebSocket upgrades: a wrapped ResponseWriter loses
	// http.Hijacker and the upgrade fails with a 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id", "X-Timestamp", "X-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/files/{blobId}", fileH.Serve)
	r.Get("/api/push/vapid-public-key", pushH.VAPIDPublicKey)

	// Session provisioning for the identity provider (internal network only).
	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalOnly)
		r.Post("/internal/sessions", provisionSession(sessionRepo, secretStore))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(sessionRepo, secretStore))

		r.Post("/api/users/sync", userH.Sync)
		r.Get("/api/users/me", userH.Me)
		r.Get("/api/users", userH.GetUsers)
		r.Post("/api/users/heartbeat", userH.Heartbeat)
		r.Post("/api/users/online", userH.SetOnline)
		r.Post("/api/users/me/avatar", userH.UpdateAvatar)

		r.Get("/api/conversations", convH.List)
		r.Post("/api/conversations", convH.GetOrCreate)
		r.Post("/api/conversations/group", convH.CreateGroup)
		r.Put("/api/conversations/{id}/name", convH.RenameGroup)
		r.Delete("/api/conversations/{id}", convH.DeleteGroup)
		r.Post("/api/conversations/{id}/read", convH.MarkAsRead)
		r.Post("/api/conversations/{id}/seen", convH.MarkSeen)
		r.Post("/api/conversations/{id}/typing", convH.SetTyping)
		r.Post("/api/conversations/backfill", convH.BackfillForUser)

		r.Get("/api/conversations/{id}/messages", msgH.List)
		r.Post("/api/conversations/{id}/messages", msgH.Send)
		r.Put("/api/messages/{messageId}", msgH.Edit)
		r.Delete("/api/messages/{messageId}", msgH.DeleteForEveryone)
		r.Post("/api/messages/{messageId}/delete-for-me", msgH.DeleteForMe)
		r.Post("/api/messages/{messageId}/reactions", msgH.ToggleReaction)
		r.Post("/api/messages/{messageId}/pin", msgH.TogglePin)
		r.Post("/api/messages/{messageId}/star", msgH.ToggleStar)
		r.Post("/api/messages/{messageId}/forward", msgH.Forward)

		r.Post("/api/files/upload-url", fileH.GenerateUploadURL)
		r.Post("/api/files/upload", fileH.Upload)

		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)

		r.Post("/api/admin/cleanup", adminH.Cleanup)
		r.Post("/api/admin/clear", adminH.Clear)
		r.Post("/api/admin/backfill/conversation-keys", adminH.BackfillConversationKeys)

		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

type provisionSessionRequest struct {
	UserHandle string `json:"user_handle"`
	DeviceName string `json:"device_name"`
}

type provisionSessionResponse struct {
	SessionID string `json:"session_id"`
	Secret    string `json:"secret"`
}

// provisionSession mints a session plus its signing secret. Called by the
// identity provider after it has verified the user; never exposed publicly.
func provisionSession(sessions *repository.SessionRepository, store storage.SecretStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req provisionSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserHandle == "" {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"user_handle required"}`))
			return
		}

		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			logger.Errorf("provision session: rand: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		secret := base64.StdEncoding.EncodeToString(raw)

		now := time.Now().UTC()
		session := &model.Session{
			ID:         uuid.NewString(),
			UserHandle: req.UserHandle,
			DeviceName: req.DeviceName,
			CreatedAt:  now,
			LastSeenAt: now,
		}
		if err := sessions.Create(r.Context(), session); err != nil {
			logger.Errorf("provision session: create: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if err := store.SetSessionSecret(r.Context(), session.ID, secret); err != nil {
			logger.Errorf("provision session: secret: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(provisionSessionResponse{SessionID: session.ID, Secret: secret})
	}
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chatsync"
		password = "chatsync_secret"
		database = "chatsync"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
