package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"tradecopier/src/auth"
	"tradecopier/src/engine"
	"tradecopier/src/handler"
	"tradecopier/src/placement"
	"tradecopier/src/realtime"
	"tradecopier/src/repository"
)

func StartServer(port string) {
	users := repository.NewUserRepository()
	accounts := repository.NewAccountRepository()
	rules := repository.NewCopyRuleRepository()
	trades := repository.NewTradeRepository()
	operations := repository.NewCopyOperationRepository()
	events := repository.NewSystemEventRepository()
	placements := repository.NewPlacementRepository()

	hub := realtime.NewHub(nil, accounts, rules, realtime.GetConfig())

	engineConfig := engine.GetConfig()
	eng := engine.New(nil, trades, rules, operations, events, hub, engineConfig)
	reconciler := engine.NewReconciler(nil, operations, events, hub, engineConfig)

	placementConfig := placement.GetConfig()
	orchestrator := placement.NewHTTPOrchestrator(placementConfig.OrchestratorBaseURL, placementConfig.OrchestratorTimeout)
	resolver := placement.NewResolver(nil, placements, accounts, events, orchestrator, hub, placementConfig)

	internalToken := handler.GetConfig().InternalToken

	// Router with middleware
	r := chi.NewRouter()

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("\"/healthcheck\" error")
		}
	})
	r.Get("/ws", hub.HandleConnect)

	r.Route("/api", func(api chi.Router) {
		// Infrastructure endpoint: containers authenticate with the
		// shared internal token.
		api.Post("/copy-engine", handler.ExecuteCopyHandler(eng, internalToken))

		api.Group(func(protected chi.Router) {
			protected.Use(auth.RequireUser(users))
			protected.Get("/copy-engine", handler.SearchCopyOperationsHandler(operations))
			protected.Post("/trades", handler.IngestTradeHandler(accounts, trades, eng))
			protected.Get("/trades", handler.SearchTradesHandler(accounts, trades))
			protected.Post("/vps", handler.VPSActionHandler(accounts, resolver))
			protected.Get("/vps", handler.VPSOverviewHandler(resolver))
		})
	})

	// Background workers share the server lifecycle.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	go func() {
		if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("reconciler stopped")
		}
	}()

	// Graceful server
	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
