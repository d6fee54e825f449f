package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/chatrelay/internal/config"
	"github.com/chatrelay/internal/filter"
	"github.com/chatrelay/internal/handler"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/relay"
	"github.com/chatrelay/internal/startup"
	"github.com/chatrelay/internal/storage"
	memorystorage "github.com/chatrelay/internal/storage/memory"
	"github.com/chatrelay/internal/ws"
)

func main() {
	logger.SetPrefix("relay")
	dev := flag.Bool("dev", false, "run without Redis (in-memory rate limiting)")
	flag.Parse()

	logger.Info("starting relay service")
	cfg := config.Load()

	var limits storage.LimitStore
	if *dev {
		logger.Info("dev mode: using in-memory limit store")
		limits = memorystorage.New()
	} else {
		limits = startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second)
	}
	defer limits.Close()

	channels := relay.NewChannelRegistry(cfg.ChannelTable())
	presence := relay.NewPresenceStore(channels, cfg.LivenessWindow)
	messages := relay.NewMessageStore(channels, cfg.MessageRetention)
	conns := relay.NewConnRegistry(cfg.MaxWSConnections)
	engine := relay.NewEngine(channels, presence, messages, conns, filter.Passthrough, relay.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		LivenessWindow:    cfg.LivenessWindow,
		TypingTTL:         cfg.TypingTTL,
	})

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	sweeper := relay.NewSweeper(engine, cfg.SweepInterval)
	var sweepWg sync.WaitGroup
	sweepWg.Add(1)
	go func() {
		defer sweepWg.Done()
		sweeper.Run(sweepCtx)
	}()

	wsOpts := ws.Options{
		WriteWait:      time.Duration(cfg.WSWriteTimeout) * time.Second,
		PongWait:       time.Duration(cfg.WSPongTimeout) * time.Second,
		MaxMessageSize: int64(cfg.WSMaxMessageSize),
		SendBufSize:    cfg.WSSendBufferSize,
	}
	wsH := handler.NewWSHandler(engine, limits, cfg.CORSAllowedOrigins, wsOpts)
	channelH := handler.NewChannelHandler(channels, messages, presence)
	statsH := handler.NewStatsHandler(conns, presence, messages, channels, handler.TokenAdminCheck(cfg.AdminToken))

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Do not compress WebSocket traffic: the wrapped ResponseWriter would
	// lose http.Hijacker and the upgrade would fail with a 500.
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
	r.Use(middleware.RateLimitAPI(limits))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/channels", channelH.List)
	r.Get("/api/channels/{id}/messages", channelH.Messages)
	r.Get("/api/channels/{id}/presence", channelH.Presence)
	r.Get("/api/stats", statsH.Get)
	r.Get("/ws", wsH.ServeWS)

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
	engine.Shutdown()
	sweepCancel()
	sweepWg.Wait()
	srvWg.Wait()
	logger.Info("server goroutine exited")
}
