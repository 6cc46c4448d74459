// Command syncagent runs one headless client instance: it keeps a device-local
// replica of the order list converged on the store and logs what changes.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/restaurant-sync/config"
	"github.com/yeremiapane/restaurant-sync/localcache"
	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/services"
	changesignal "github.com/yeremiapane/restaurant-sync/signal"
	"github.com/yeremiapane/restaurant-sync/utils"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to load config: %v", err)
	}
	utils.InitLogger(cfg.LogLevel)
	log := utils.InfoLogger.WithField("component", "syncagent")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := services.NewOrderStoreClient(cfg.StoreURL, cfg.CallTimeout)
	_, role, err := client.Login(ctx, cfg.StoreEmail, cfg.StorePassword)
	if err != nil {
		utils.ErrorLogger.Fatalf("Login to %s failed: %v", cfg.StoreURL, err)
	}
	log.WithField("role", role).Info("logged in to order store")

	backend, err := localcache.OpenSQLite(cfg.CachePath)
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to open cache %s: %v", cfg.CachePath, err)
	}
	defer backend.Close()
	cache := localcache.New(backend, changesignal.NewBus(),
		localcache.WithNamespace(cfg.CacheNamespace),
		localcache.WithLogger(log),
	)

	registry := prometheus.NewRegistry()
	engine := services.NewSyncEngine(client, cache, services.SinkFunc(func(n services.Notification) {
		logNotification(log, n)
	}))
	engine.Interval = cfg.PollInterval
	engine.CreateConfirmPolls = cfg.CreateConfirmPolls
	engine.RetryBudget = cfg.RetryBudget
	engine.CallTimeout = cfg.CallTimeout
	engine.Logger = utils.InfoLogger.WithField("component", "sync_engine")
	engine.Metrics = services.NewSyncMetrics(registry)

	remote := changesignal.NewRemote(cfg.WebSocketURL(), client.Token)
	remote.Logger = utils.InfoLogger.WithField("component", "signal_remote")
	engine.Watch(remote)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := engine.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		engine.Stop()
		return nil
	})
	g.Go(func() error {
		if err := remote.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.MetricsAddr, registry)
		})
	}

	if err := g.Wait(); err != nil {
		utils.ErrorLogger.Fatalf("Sync agent stopped: %v", err)
	}
	log.Info("sync agent stopped")
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry) error {
	gin.SetMode(gin.ReleaseMode)
	metricsRouter := gin.New()
	metricsRouter.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	srv := &http.Server{Addr: addr, Handler: metricsRouter, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func logNotification(log logrus.FieldLogger, n services.Notification) {
	entry := log.WithField("kind", n.Kind)
	if n.Order != nil {
		entry = entry.WithField("order_id", n.Order.ID)
	}
	switch n.Kind {
	case services.KindChanged:
		orders := services.Orders(n.Orders)
		syncing := 0
		for _, e := range n.Orders {
			if e.State == services.StateSyncing {
				syncing++
			}
		}
		entry.WithFields(logrus.Fields{
			"orders":    len(orders),
			"syncing":   syncing,
			"pending":   len(models.FilterByStatus(orders, models.StatusPending)),
			"preparing": len(models.FilterByStatus(orders, models.StatusPreparing)),
			"ready":     len(models.FilterByStatus(orders, models.StatusReady)),
			"revenue":   models.Revenue(orders),
		}).Info("order list changed")
	case services.KindSyncDelayed:
		entry.WithError(n.Err).Warn("sync delayed")
	case services.KindSyncRestored:
		entry.Info("sync restored")
	default:
		entry.WithError(n.Err).Warn("optimistic change dropped")
	}
}
