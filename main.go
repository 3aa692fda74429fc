package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/HSouheill/mlm_ledger/config"
	"github.com/HSouheill/mlm_ledger/controllers"
	"github.com/HSouheill/mlm_ledger/middleware"
	"github.com/HSouheill/mlm_ledger/repositories/memory"
	"github.com/HSouheill/mlm_ledger/routes"
	"github.com/HSouheill/mlm_ledger/services"
	"github.com/HSouheill/mlm_ledger/websocket"
)

// stores is the persistence backend selected by STORE_BACKEND.
type stores struct {
	tx          services.Transactor
	genealogy   services.GenealogyStore
	ledger      services.LedgerStore
	commissions services.CommissionStore
	accruals    services.AccrualStore
	deposits    services.DepositStore
	withdrawals services.WithdrawalStore
	health      func() error
	close       func()
}

func openStores(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*stores, error) {
	if cfg.StoreBackend == config.BackendMemory {
		logger.Warn("using the in-memory store, data is lost on restart")
		m := memory.New()
		return &stores{
			tx: m, genealogy: m, ledger: m, commissions: m, accruals: m, deposits: m, withdrawals: m,
			health: func() error { return nil },
			close:  func() {},
		}, nil
	}

	client, store, err := config.ConnectDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &stores{
		tx:          store,
		genealogy:   store.Genealogy(),
		ledger:      store.Ledger(),
		commissions: store.Commissions(),
		accruals:    store.Accruals(),
		deposits:    store.Deposits(),
		withdrawals: store.Withdrawals(),
		health: func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return store.Ping(pingCtx)
		},
		close: func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := client.Disconnect(disconnectCtx); err != nil {
				logger.WithError(err).Warn("mongodb disconnect failed")
			}
		},
	}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	logger := config.NewLogger(cfg)
	log := logger.WithField("env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open the store")
	}
	defer st.close()

	var locker services.Locker = services.NewLocalLocker()
	if rdb := config.ConnectRedis(ctx, cfg, log); rdb != nil {
		defer rdb.Close()
		locker = services.NewRedisLocker(rdb, "")
	}

	hub := websocket.NewHub(log)
	go hub.Run(ctx)

	deps := services.Deps{
		Tx:      st.tx,
		Locker:  locker,
		Audit:   services.MultiAuditSink{services.NewLogAuditSink(log), hub},
		Metrics: services.Metrics(),
		Logger:  log,
	}

	ledger := services.NewLedgerService(st.ledger, deps)
	genealogy := services.NewGenealogyService(st.genealogy, ledger, deps)
	commissions := services.NewCommissionService(st.commissions, st.genealogy, ledger, deps, cfg.CommissionFanoutLimit)
	accruals := services.NewAccrualService(st.accruals, st.deposits, ledger, deps, cfg.AccrualWorkers)
	events := services.NewEventService(commissions, accruals, deps)
	deposits := services.NewDepositService(st.deposits, st.genealogy, ledger, deps)
	deposits.SetHandler(events)
	withdrawals := services.NewWithdrawalService(st.withdrawals, ledger, deps)
	query := services.NewQueryService(genealogy, ledger, st.commissions, st.accruals, st.deposits, st.genealogy)

	scheduler, err := services.NewAccrualScheduler(events, cfg.AccrualScheduleDay, deps)
	if err != nil {
		log.WithError(err).Fatal("failed to create the accrual scheduler")
	}
	if err := scheduler.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start the accrual scheduler")
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = controllers.NewValidator()

	rateLimiter := middleware.NewRateLimiter()
	go rateLimiter.Cleanup(ctx, time.Hour)

	e.Use(echoMiddleware.RequestID())
	e.Use(echoMiddleware.Recover())
	e.Use(requestLogger(log))
	e.Use(middleware.DashboardCORS(cfg.CORSOrigins))
	e.Use(middleware.SecurityHeaders())
	e.Use(rateLimiter.RateLimit())
	e.Use(echoMiddleware.BodyLimit("64K"))

	routes.SetupRoutes(e, routes.Controllers{
		Query:       controllers.NewQueryController(query),
		Events:      controllers.NewEventController(events),
		Operations:  controllers.NewOperationsController(genealogy, deposits, commissions, accruals),
		Withdrawals: controllers.NewWithdrawalController(withdrawals),
		Hub:         hub,
		Health:      st.health,
	}, cfg.ServiceAPIKey)

	go func() {
		log.WithField("port", cfg.Port).Info("starting HTTP server")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown failed")
	}
	if err := scheduler.Shutdown(); err != nil {
		log.WithError(err).Warn("scheduler shutdown failed")
	}
}

// requestLogger logs one structured line per request.
func requestLogger(logger logrus.FieldLogger) echo.MiddlewareFunc {
	return echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"method":    v.Method,
				"uri":       v.URI,
				"status":    v.Status,
				"latency":   v.Latency.String(),
				"requestId": v.RequestID,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("request failed")
				return nil
			}
			entry.Debug("request")
			return nil
		},
	})
}
