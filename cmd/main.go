package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tutorlink/internal/app/connection"
	"tutorlink/internal/app/console"
	"tutorlink/internal/app/registry"
	"tutorlink/internal/app/server"
	"tutorlink/internal/app/worker"
	"tutorlink/internal/config"
	"tutorlink/internal/core/domain"
	"tutorlink/internal/core/services"
	"tutorlink/internal/platform/logger"
	"tutorlink/internal/platform/metrics"
	"tutorlink/internal/platform/telemetry"
	"tutorlink/internal/plugins/httpapi"
	"tutorlink/internal/plugins/memory"
	redisPlugin "tutorlink/internal/plugins/redis"
	"tutorlink/internal/plugins/sqlite"
	"tutorlink/internal/plugins/twilio"
	"tutorlink/internal/plugins/websocket"
	"tutorlink/pkg/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	log := logger.NewLogger(*cfg)
	log.Info("starting application")

	otelShutdown, err := telemetry.InitTelemetry(ctx, *cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", logging.Err(err))
		otelShutdown = func(context.Context) error { return nil }
	}
	defer func() {
		log.Info("flushing telemetry...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", logging.Err(err))
		}
	}()

	m := metrics.New(cfg.Service.Name)
	alerts := logger.NewAlerter(log)

	// Infra
	var store domain.LastRoomStore
	switch cfg.Store.Driver {
	case "sqlite":
		db, err := sqlite.New(ctx, cfg.Store.SQLitePath)
		if err != nil {
			log.Error("sqlite open failed", "path", cfg.Store.SQLitePath, logging.Err(err))
			return
		}
		defer db.Close()
		store = sqlite.NewLastRoomRepository(db)
		log.Info("sqlite store ready", "path", cfg.Store.SQLitePath)
	case "redis":
		rdb, err := redisPlugin.NewRedisClient(ctx, *cfg.Redis)
		if err != nil {
			log.Error("redis connection failed", "url", cfg.Redis.URL, logging.Err(err))
			return
		}
		defer rdb.Close()
		store = redisPlugin.NewLastRoomStore(rdb, cfg.Store.LastRoomTTL)
		log.Info("redis connected")
	default:
		store = memory.NewLastRoomStore()
	}

	// Adapters
	api := httpapi.New(log, *cfg.API)
	dialer := websocket.NewDialer(log, *cfg.Socket, api.Tokens())
	video := twilio.NewVideoRooms(log, *cfg.Video)

	bus := registry.NewRegistry(log, m)
	conn := connection.NewManager(log, dialer, bus, connection.Backoff{
		Initial:     cfg.Socket.InitialDelay,
		Max:         cfg.Socket.MaxDelay,
		MaxAttempts: cfg.Socket.MaxAttempts,
	}, alerts, m)

	// Core Services
	presence := services.NewPresenceTracker(log)
	sidebar := services.NewSidebar(log, api, presence)
	rooms := services.NewRoomDirectory(log, api, store, bus, sidebar)
	conversation := services.NewConversationStore(log, api, bus, rooms, sidebar, m)
	calls := services.NewCallController(log, bus, video, alerts, m, cfg.Calls.AcceptTimeout)
	feed := services.NewNotificationFeed(log, api, m)
	session := services.NewSession(log, conn, bus, services.Components{
		Presence:      presence,
		Rooms:         rooms,
		Sidebar:       sidebar,
		Conversation:  conversation,
		Calls:         calls,
		Notifications: feed,
	})

	cli := console.New(log, console.Deps{
		Session:       session,
		Rooms:         rooms,
		Conversation:  conversation,
		Contacts:      sidebar,
		Calls:         calls,
		Notifications: feed,
	}, os.Stdout)
	off := calls.Observe(cli.CallObserver)
	defer off()

	actor, err := domain.NewActor(cfg.Actor.ID, domain.Role(cfg.Actor.Role))
	if err != nil {
		log.Error("invalid actor, set ACTOR_ID and ACTOR_ROLE", logging.Err(err))
		return
	}
	if err := session.Login(ctx, actor); err != nil {
		log.Error("login failed", logging.Actor(actor.ID), logging.Err(err))
		return
	}

	srv := server.NewServer(log, cfg.Service.DebugAddr, cfg.Service.Name, server.Views{
		Connection:    conn,
		Calls:         calls,
		Conversation:  conversation,
		Sidebar:       sidebar,
		Notifications: feed,
	}, m.Handler())
	poller := worker.NewNotificationPoller(log, feed, cfg.Notifications.PollSchedule)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error {
		defer stop()
		return cli.Run(gctx, os.Stdin)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("application stopped with error", logging.Err(err))
	}

	logoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	session.Logout(logoutCtx)
	log.Info("application stopped")
}
