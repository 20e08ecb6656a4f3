package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"designboard/docstore"
	"designboard/events"
	"designboard/handlers/api/billing"
	"designboard/handlers/api/media"
	"designboard/handlers/api/projects"
	"designboard/handlers/api/versions"
	"designboard/handlers/auth"
	"designboard/handlers/realtime"
	authMiddleware "designboard/middleware"
	"designboard/presence"
	"designboard/registry"
	"designboard/stores"
	"designboard/stores/aws"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// envMillis reads a millisecond duration from the environment.
func envMillis(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		logrus.WithFields(logrus.Fields{"var": name, "value": v}).Warn("Invalid duration value, using default")
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// envSeconds reads a second duration from the environment.
func envSeconds(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	s, err := strconv.Atoi(v)
	if err != nil || s <= 0 {
		logrus.WithFields(logrus.Fields{"var": name, "value": v}).Warn("Invalid duration value, using default")
		return fallback
	}
	return time.Duration(s) * time.Second
}

// unconfiguredDeleter backs the media endpoint when no media bucket is set.
type unconfiguredDeleter struct{}

func (unconfiguredDeleter) DeleteMedia(ctx context.Context, publicID string) error {
	return http.ErrNotSupported
}

func mediaDeleter() media.Deleter {
	bucket := os.Getenv("MEDIA_BUCKET_NAME")
	if bucket == "" {
		logrus.Warn("MEDIA_BUCKET_NAME is not set. Media deletion will not work.")
		return unconfiguredDeleter{}
	}
	return aws.NewMediaDeleter(bucket)
}

func setupRouter(store stores.Store, adapter *docstore.Adapter, reg *registry.Registry) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "X-CSRF-Token", "Token", "session", "Origin", "Host", "Connection", "Accept-Encoding", "Accept-Language", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Route("/api/v2", func(r chi.Router) {
		// Project and version routes, protected by JWT auth
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.AuthJWT)
			r.Route("/projects/{projectID}", func(r chi.Router) {
				r.Get("/", projects.HandleGetProject(adapter))
				r.Post("/layers", projects.HandleAddLayer(reg))
				r.Post("/layers/{layerID}/visibility", projects.HandleToggleVisibility(reg))
				r.Post("/layers/{layerID}/lock", projects.HandleToggleLock(reg))
				r.Get("/layers/{layerID}/raster", projects.HandleRenderLayer(adapter))
				r.Post("/comments", projects.HandleAddComment(reg))
				r.Post("/drawings", projects.HandleAddDrawing(reg))
				r.Route("/versions", func(r chi.Router) {
					r.Post("/", versions.HandleCreateVersion(store, adapter))
					r.Get("/", versions.HandleListVersions(store))
					r.Get("/{versionID}", versions.HandleGetVersion(store))
					r.Post("/diff", versions.HandleDiffVersions(store))
					r.Post("/merge", versions.HandleMergeVersions(store, adapter))
				})
			})
			r.Get("/subscription", billing.HandleGetSubscription(store))
		})

		// Provider callbacks carry no bearer token.
		r.Post("/billing/webhook", billing.HandleWebhook(store))
		r.Post("/media/delete", media.HandleDelete(mediaDeleter()))
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", auth.HandleLogin)
		r.Get("/callback", auth.HandleCallback)
	})

	return r
}

// evictLoop periodically drops presence records of collaborators that stopped
// sending activity without reaching the leave transition.
func evictLoop(ctx context.Context, adapter *docstore.Adapter, tracker *presence.Tracker, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, projectID := range adapter.SubscribedProjects() {
				if _, err := tracker.EvictStale(ctx, projectID); err != nil {
					logrus.WithFields(logrus.Fields{
						"projectId": projectID,
						"error":     err,
					}).Warn("Stale presence eviction failed")
				}
			}
		}
	}
}

func waitForShutdown(ioo *socketio.Server, publisher events.Publisher, cancel context.CancelFunc) {
	exit := make(chan struct{})
	signalC := make(chan os.Signal, 1)

	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range signalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	cancel()
	ioo.Close(nil)
	if err := publisher.Close(); err != nil {
		logrus.WithField("error", err).Warn("Failed to close event publisher")
	}
	logrus.Info("Shutting down...")
	os.Exit(0)
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	auth.InitAuth()
	store := stores.GetStore()
	publisher := events.FromEnv()

	adapter := docstore.New(store, publisher, docstore.DefaultOptions())
	reg := registry.New(adapter)

	trackerOpts := presence.DefaultOptions()
	trackerOpts.CursorBroadcastInterval = envMillis("CURSOR_BROADCAST_INTERVAL_MS", trackerOpts.CursorBroadcastInterval)
	trackerOpts.StaleAfter = envSeconds("PRESENCE_STALE_SECONDS", trackerOpts.StaleAfter)
	tracker := presence.NewTracker(adapter, trackerOpts)

	ctx, cancel := context.WithCancel(context.Background())
	go evictLoop(ctx, adapter, tracker, trackerOpts.StaleAfter/2)

	r := setupRouter(store, adapter, reg)

	ioo := realtime.NewServer(adapter, tracker)
	r.Mount("/socket.io/", ioo.ServeHandler(nil))

	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddress, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(ioo, publisher, cancel)
}
