package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/empiretcg/empire-server-go/internal/auth"
	"github.com/empiretcg/empire-server-go/internal/config"
	"github.com/empiretcg/empire-server-go/internal/deck"
	"github.com/empiretcg/empire-server-go/internal/game"
	"github.com/empiretcg/empire-server-go/internal/game/rules"
	"github.com/empiretcg/empire-server-go/internal/hub"
	"github.com/empiretcg/empire-server-go/internal/lobby"
	"github.com/empiretcg/empire-server-go/internal/repository"
	"github.com/empiretcg/empire-server-go/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const storeCheckInterval = 15 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, websocket and gRPC servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := initLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			logger.Info("starting empire server",
				zap.String("version", version),
				zap.String("config", opts.configPath))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger)
		},
	}
	cmd.Flags().String("http-addr", "", "HTTP listen address")
	cmd.Flags().String("grpc-addr", "", "gRPC listen address")
	_ = opts.v.BindPFlag("server.http.address", cmd.Flags().Lookup("http-addr"))
	_ = opts.v.BindPFlag("server.grpc.address", cmd.Flags().Lookup("grpc-addr"))
	return cmd
}

// runServe wires every component and blocks until ctx is cancelled or a
// server fails.
func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := repository.Open(ctx, cfg.Database, cfg.Persistence, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	if err := migrateStore(ctx, store); err != nil {
		return err
	}

	lib, err := deck.LoadLibrary(cfg.Decks.File)
	if err != nil {
		return err
	}
	gameCfg, err := game.ConfigFromSettings(cfg.Game)
	if err != nil {
		return err
	}
	engineOpts := []game.Option{game.WithStore(store)}
	if cfg.Replay.Enabled {
		engineOpts = append(engineOpts, game.WithReplayRecorder(game.NewReplayRecorder(logger, cfg.Replay.Dir)))
	}
	engine := game.NewEngine(logger, lib, gameCfg, engineOpts...)
	engine.Events().Subscribe(statHook(logger))

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("jwt secret not configured; accepting insecure development identities")
	}

	validator := deck.NewValidator(lib, deck.Rules{
		MinNameLength: cfg.Lobby.MinDeckNameLength,
		ArmySize:      cfg.Lobby.ArmyDeckSize,
		CivicSize:     cfg.Lobby.CivicDeckSize,
	})
	lobbies := lobby.NewManager(logger, lib, validator, engine, lobby.WithLimits(lobby.LimitsFromConfig(cfg.Lobby)))

	h := hub.New(logger, engine, verifier, hub.OptionsFromConfig(cfg.Server.WebSocket))
	engine.SetNotifier(game.MultiNotifier{h, lobbies})

	nodeID := cfg.Server.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	if cfg.NATS.Enabled {
		nc, err := hub.ConnectNATS(cfg.NATS.URL, "empire-"+nodeID)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		relay := hub.NewNATSRelay(nc, cfg.NATS.SubjectPrefix, nodeID, logger)
		if err := relay.Start(h.DeliverRemote); err != nil {
			nc.Close()
			return fmt.Errorf("subscribe relay: %w", err)
		}
		defer relay.Close()
		h.SetRelay(relay)
		logger.Info("nats relay enabled",
			zap.String("url", cfg.NATS.URL),
			zap.String("subject_prefix", cfg.NATS.SubjectPrefix))
	}

	if cfg.Server.HTTP.Mode != "" {
		gin.SetMode(cfg.Server.HTTP.Mode)
	}
	router := server.NewRouter(server.Deps{
		Logger:   logger,
		Lobbies:  lobbies,
		Matches:  engine,
		Store:    store,
		Verifier: verifier,
		WS:       http.HandlerFunc(h.ServeWS),
		WSPath:   cfg.Server.WebSocket.Path,
	})
	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTP.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcSrv := server.NewGRPCServer(cfg.Server.GRPC, logger)
	lis, err := net.Listen("tcp", cfg.Server.GRPC.Address)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting HTTP server", zap.String("address", cfg.Server.HTTP.Address))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("starting gRPC server", zap.String("address", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		lobbies.RunCleanup(gctx, cfg.Lobby.CleanupInterval)
		return nil
	})
	g.Go(func() error {
		grpcSrv.MonitorStore(gctx, store, storeCheckInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		grpcSrv.Stop()
		return err
	})

	logger.Info("empire server initialized",
		zap.String("node_id", nodeID),
		zap.String("database", cfg.Database.Driver),
		zap.Bool("replays", cfg.Replay.Enabled))

	err = g.Wait()
	logger.Info("empire server stopped")
	return err
}

// statHook logs engine events. Finished matches are logged at info.
func statHook(logger *zap.Logger) rules.Listener {
	return func(ev rules.Event) {
		switch ev.Type {
		case rules.EventGameOver:
			logger.Info("match finished",
				zap.String("match_id", ev.MatchID),
				zap.String("winner", ev.PlayerID))
		case rules.EventMatchStarted:
			logger.Info("match started", zap.String("match_id", ev.MatchID))
		default:
			logger.Debug("match event",
				zap.String("match_id", ev.MatchID),
				zap.String("type", string(ev.Type)),
				zap.String("player_id", ev.PlayerID),
				zap.String("card_id", ev.CardID))
		}
	}
}
