package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"bar-crm/internal/api"
	"bar-crm/internal/api/middleware"
	"bar-crm/internal/event"
	"bar-crm/internal/repository"
	"bar-crm/internal/repository/postgres"
	"bar-crm/internal/scheduler"
	"bar-crm/internal/scheduler/jobs"
	"bar-crm/internal/service"
	jwtutil "bar-crm/pkg/jwt"
	loggerpkg "bar-crm/pkg/logger"
	"bar-crm/pkg/telegram"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const recentLogCapacity = 2000

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "healthcheck":
			os.Exit(runHealthcheck())
		case "migrate":
			exitOnError(runMigrateCommand())
			return
		case "recalculate":
			exitOnError(runRecalculateCommand(os.Args[2:]))
			return
		case "token":
			exitOnError(runTokenCommand(os.Args[2:]))
			return
		case "version":
			fmt.Printf("%s (commit %s, built %s)\n", Version, Commit, BuildTime)
			return
		}
	}

	if err := runServer(); err != nil {
		exitOnError(err)
	}
}

func exitOnError(err error) {
	if err == nil {
		return
	}
	// #nosec G705 -- CLI output only; control characters are stripped.
	fmt.Fprintln(os.Stderr, sanitizeCLIError(err))
	os.Exit(1)
}

// application holds the wired domain services. The server and the
// recalculate subcommand build it the same way.
type application struct {
	pool          *pgxpool.Pool
	bus           *event.Bus
	alerts        *service.AlertService
	accounts      repository.PointsAccountRepository
	rules         repository.ConversionRuleRepository
	points        *service.PointsService
	ruleService   *service.ConversionRuleService
	recalculation *service.PointsRecalculationService
	audit         *service.AuditService
}

func newApplication(ctx context.Context, cfg Config, logger *zap.Logger) (*application, error) {
	pool, err := newDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	accounts := postgres.NewPointsAccountRepository(pool)
	rules := postgres.NewConversionRuleRepository(pool)
	ledger := postgres.NewLedgerRepository(pool)
	transactions := postgres.NewVerifiedTransactionSource(pool)
	auditRepo := postgres.NewAuditRepository(pool)
	locker := postgres.NewRecalculationLocker(pool)

	bus := event.NewBus()
	alerts := service.NewAlertService(newAlertSender(cfg, logger), cfg.Alert.AdminChatIDs, logger.Named("alerts"))
	audit := service.NewAuditService(auditRepo, logger.Named("audit"))
	service.RegisterSubscribers(bus, audit, alerts, logger)

	calculator := service.NewPointsCalculationService(rules, logger.Named("calculation"))

	return &application{
		pool:        pool,
		bus:         bus,
		alerts:      alerts,
		accounts:    accounts,
		rules:       rules,
		points:      service.NewPointsService(accounts, ledger, transactions, calculator, bus, alerts, logger.Named("points")),
		ruleService: service.NewConversionRuleService(rules, bus, logger.Named("rules")),
		recalculation: service.NewPointsRecalculationService(
			accounts, rules, transactions, locker, calculator, bus, alerts, logger.Named("recalculation"),
		),
		audit: audit,
	}, nil
}

// Close drains pending alerts before the pool goes away.
func (a *application) Close() {
	a.alerts.Wait()
	a.pool.Close()
}

func newAlertSender(cfg Config, logger *zap.Logger) service.MessageSender {
	token := strings.TrimSpace(cfg.Alert.TelegramBotToken)
	if token == "" {
		logger.Info("telegram alerts disabled, alerts are only logged")
		return nil
	}
	if len(cfg.Alert.AdminChatIDs) == 0 {
		logger.Warn("telegram bot token set without admin chat ids, alerts are only logged")
		return nil
	}
	return telegram.NewBotClient(token, nil).WithAPIBase(cfg.Alert.TelegramAPIBase)
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, recentLogs, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.App.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	publicKey, err := loadPublicKey(cfg, logger)
	if err != nil {
		return err
	}

	router := gin.New()
	router.Use(middleware.RequestLogger(logger.Named("http")))
	router.Use(middleware.Recovery(logger, app.alerts))
	router.Use(buildCORSMiddleware(cfg))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": Version})
	})
	router.GET("/health/ready", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), cfg.Database.PingTimeout)
		defer cancel()

		if err := app.pool.Ping(pingCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not_ready",
				"error":  "database unavailable",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if publicKey != nil {
		api.RegisterAdminRoutes(router, publicKey, api.AdminServices{
			Rules:            app.ruleService,
			Points:           app.points,
			Recalculation:    app.recalculation,
			Audit:            app.audit,
			RecentLogs:       recentLogs,
			DeductionLimiter: middleware.NewRateLimiter(cfg.RateLimit.DeductionPerMinute, time.Minute),
		})
	}
	api.RegisterInternalRoutes(router, app.points, api.InternalOptions{
		Token:           cfg.Security.InternalToken,
		SigningSecret:   cfg.Security.EventSigningSecret,
		SignatureMaxAge: cfg.Security.EventSignatureAge,
		IntakeLimiter:   middleware.NewRateLimiter(cfg.RateLimit.IntakePerMinute, time.Minute),
		Metrics:         promhttp.Handler(),
	})

	cronDeps := scheduler.Deps{
		GaugeJob: jobs.NewGaugeJob(func(ctx context.Context) error {
			return service.RefreshGauges(ctx, app.accounts, app.rules)
		}, logger.Named("jobs")),
		Alerts: app.alerts,
	}
	if cfg.Recalculation.Enabled {
		cronDeps.RecalculationJob = jobs.NewRecalculationJob(
			app.recalculation, cfg.Recalculation.Timeout, cfg.Recalculation.PageSize, logger.Named("jobs"),
		)
	}
	cronScheduler, err := scheduler.NewScheduler(scheduler.Options{
		RecalculationSpec: cfg.Recalculation.Schedule,
	}, cronDeps, logger.Named("scheduler"))
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("points ledger server started",
			zap.String("addr", srv.Addr),
			zap.String("version", Version),
			zap.String("commit", Commit),
			zap.Bool("recalculation_schedule_enabled", cfg.Recalculation.Enabled),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		cronScheduler.Start()
		<-groupCtx.Done()

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		scheduler.Stop(shutdownCtx, cronScheduler)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

// loadPublicKey returns nil when no key is configured; the admin API is then
// not mounted and only the internal routes are served.
func loadPublicKey(cfg Config, logger *zap.Logger) (*rsa.PublicKey, error) {
	path := strings.TrimSpace(cfg.Security.JWTPublicKeyFile)
	if path == "" {
		logger.Warn("security.jwt_public_key_file not set, admin API disabled")
		return nil, nil
	}
	key, err := jwtutil.LoadPublicKeyFile(path)
	if err != nil {
		return nil, fmt.Errorf("load jwt public key: %w", err)
	}
	return key, nil
}

func newLogger(cfg Config) (*zap.Logger, *loggerpkg.RecentLog, error) {
	base, err := loggerpkg.New(loggerpkg.Options{
		Env:      cfg.App.Env,
		Level:    cfg.Log.Level,
		Encoding: cfg.Log.Encoding,
	})
	if err != nil {
		return nil, nil, err
	}

	recent := loggerpkg.NewRecentLog(recentLogCapacity, zapcore.InfoLevel)
	return recent.Attach(base), recent, nil
}

func newDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database.url failed: %w", err)
	}

	const maxInt32 = int(^uint32(0) >> 1)
	if cfg.Database.MaxConns > maxInt32 {
		return nil, fmt.Errorf("database.max_conns must be <= %d", maxInt32)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns) // #nosec G115 -- validated upper bound above.

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Database.PingTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database failed: %w", err)
	}
	return pool, nil
}

func buildCORSMiddleware(cfg Config) gin.HandlerFunc {
	origins := make([]string, 0, len(cfg.CORS.AllowOrigins))
	for _, origin := range cfg.CORS.AllowOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		origins = append(origins, trimmed)
	}
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}

	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", middleware.HeaderRequestID},
		ExposeHeaders:    []string{"Content-Type", middleware.HeaderRequestID, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
