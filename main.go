package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"quicksign-server/core"
	"quicksign-server/delivery"
	"quicksign-server/handlers/api/artifacts"
	"quicksign-server/handlers/api/handles"
	"quicksign-server/handlers/api/sessions"
	"quicksign-server/handlers/websocket"
	authMiddleware "quicksign-server/middleware"
	"quicksign-server/stores"
	"quicksign-server/widgets"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

func setupRouter(registry *widgets.Registry, store core.ArtifactStore) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Origin", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v2", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.AuthJWT)
			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessions.HandleList(registry))
				r.Post("/", sessions.HandleCreate(registry))
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", sessions.HandleGet(registry))
					r.Delete("/", sessions.HandleDelete(registry))
					r.Post("/reset", sessions.HandleReset(registry))
					r.Put("/document", sessions.HandleUploadDocument(registry))
					r.Put("/signature", sessions.HandleSetSignature(registry))
					r.Put("/initials", sessions.HandleSetInitials(registry))
					r.Route("/gesture", func(r chi.Router) {
						r.Post("/begin", sessions.HandleBegin(registry))
						r.Post("/extend", sessions.HandleExtend(registry))
						r.Post("/end", sessions.HandleEnd(registry))
					})
					r.Get("/preview.png", sessions.HandlePreview(registry))
					r.Route("/templates", func(r chi.Router) {
						r.Get("/", sessions.HandleListTemplates(registry))
						r.Post("/", sessions.HandleSaveTemplate(registry))
						r.Put("/selected", sessions.HandleSelectTemplate(registry))
					})
					r.Route("/delivery", func(r chi.Router) {
						r.Get("/", sessions.HandleDeliveryStatus(registry))
						r.Post("/open", sessions.HandleOpenDelivery(registry))
						r.Post("/close", sessions.HandleCloseDelivery(registry))
						r.Post("/send", sessions.HandleSend(registry))
					})
				})
			})
			r.Get("/artifacts/{id}", artifacts.HandleGet(store))
		})

		// Handles are unguessable and short-lived, like browser blob URLs.
		r.Get("/handles/{handle}", handles.HandleResolve(registry.Handles()))
	})

	return r
}

func newSender(store core.ArtifactStore) delivery.Sender {
	var next delivery.Sender = delivery.LogSender{}
	if url := os.Getenv("DELIVERY_RELAY_URL"); url != "" {
		logrus.WithField("url", url).Info("Use delivery relay")
		next = delivery.NewRelaySender(url, os.Getenv("DELIVERY_RELAY_TOKEN"))
	} else {
		logrus.Warn("DELIVERY_RELAY_URL not set, signed documents are only logged and archived")
	}
	return &delivery.ArchivingSender{Next: next, Store: store}
}

func waitForShutdown(server *http.Server, ioo *socketio.Server, registry *widgets.Registry) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-signals
	logrus.WithField("signal", s).Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ioo.Close(nil)
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("HTTP server shutdown")
	}
	registry.CloseAll()
}

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	canvasWidth := flag.Int("canvas-width", 800, "Width of the signing canvas in pixels.")
	canvasHeight := flag.Int("canvas-height", 600, "Height of the signing canvas in pixels.")
	deliveryTimeout := flag.Duration("delivery-timeout", delivery.DefaultTimeout, "Timeout for a single delivery attempt.")
	issueToken := flag.String("issue-token", "", "Print a bearer token for the given subject and exit.")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	authMiddleware.InitAuth()
	if *issueToken != "" {
		token, err := authMiddleware.IssueJWT(*issueToken, 24*time.Hour)
		if err != nil {
			logrus.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	store := stores.GetStore()
	registry := widgets.NewRegistry(widgets.Config{
		Width:           *canvasWidth,
		Height:          *canvasHeight,
		Sender:          newSender(store),
		DeliveryTimeout: *deliveryTimeout,
	})

	r := setupRouter(registry, store)

	ioo := websocket.SetupSocketIO(registry)
	r.Mount("/socket.io/", ioo.ServeHandler(nil))

	server := &http.Server{Addr: *listenAddress, Handler: r}
	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(server, ioo, registry)
}
