package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lims/lims/internal/config"
	"github.com/lims/lims/internal/domain/billing"
	"github.com/lims/lims/internal/domain/customer"
	"github.com/lims/lims/internal/domain/lab"
	"github.com/lims/lims/internal/domain/numbering"
	"github.com/lims/lims/internal/domain/stats"
	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/middleware"
	"github.com/lims/lims/internal/platform/telemetry"
	"github.com/lims/lims/internal/platform/validation"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "lims-server",
		Short: "Laboratory test request and billing API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(invoicesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "lims-server",
	})
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func invoicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoices",
		Short: "Invoice maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "mark-overdue",
		Short: "Flag pending invoices past their due date as overdue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				numbers, err := a.billing.MarkOverdue(ctx, time.Now())
				if err != nil {
					return err
				}
				for _, no := range numbers {
					fmt.Println(no)
				}
				fmt.Printf("Marked %d invoice(s) overdue.\n", len(numbers))
				return nil
			})
		},
	})

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export one month of invoices as an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			monthFlag, _ := cmd.Flags().GetString("month")
			out, _ := cmd.Flags().GetString("out")
			month, err := parseMonth(monthFlag, time.Now())
			if err != nil {
				return err
			}
			if out == "" {
				out = fmt.Sprintf("invoices-%s.xlsx", month.Format("2006-01"))
			}
			return withApp(func(ctx context.Context, a *app) error {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				n, err := a.billing.ExportMonth(ctx, month, f)
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					return err
				}
				fmt.Printf("Wrote %d invoice(s) to %s.\n", n, out)
				return nil
			})
		},
	}
	exportCmd.Flags().String("month", "", "Month to export as YYYY-MM (default: current month)")
	exportCmd.Flags().String("out", "", "Output file (default: invoices-YYYY-MM.xlsx)")
	cmd.AddCommand(exportCmd)

	return cmd
}

// parseMonth reads a YYYY-MM flag; empty means the month containing now.
func parseMonth(v string, now time.Time) (time.Time, error) {
	if v == "" {
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), nil
	}
	t, err := time.Parse("2006-01", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--month must be YYYY-MM, got %q", v)
	}
	return t, nil
}

// app holds the wired domain services shared by the server and the CLI.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	pool      *pgxpool.Pool
	rdb       *redis.Client
	metrics   *telemetry.Provider
	customers *customer.Service
	registry  *lab.Registry
	cases     *lab.CaseEngine
	ledger    *lab.ResultLedger
	billing   *billing.Service
	stats     *stats.Aggregator
}

func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg, newLogger(cfg.Env))
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	pool, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, pool: pool}
	a.metrics = telemetry.NewProvider(telemetry.Config{
		ServiceName:    "lims-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
	})

	var counter numbering.Counter = numbering.NewPGCounter(pool)
	if cfg.NumberingBackend == config.NumberingRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.rdb = redis.NewClient(opts)
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		counter = numbering.NewRedisCounter(a.rdb, numbering.NewPGSeeder(pool))
	}
	numbers := numbering.NewGenerator(counter)
	numbers.OnIssue(func(kind numbering.Kind) { a.metrics.DocumentIssued(string(kind)) })

	tx := db.NewTransactor(pool)
	labRepos := lab.NewReposPG(pool)

	a.customers = customer.NewService(customer.NewRepoPG(pool), tx, logger)
	a.registry = lab.NewRegistry(labRepos, tx, numbers, a.customers, logger)
	a.registry.SetTelemetry(a.metrics)
	a.customers.SetOpenRequestCounter(a.registry)

	a.cases = lab.NewCaseEngine(labRepos, tx, numbers, logger)
	a.cases.SetTelemetry(a.metrics)
	a.ledger = lab.NewResultLedger(labRepos, tx, logger)
	a.ledger.SetTelemetry(a.metrics)

	a.billing = billing.NewService(billing.NewInvoiceRepoPG(pool), a.registry, a.customers, tx, numbers, logger)
	a.billing.SetPriceList(billing.StandardPriceList(cfg.UnitPrice()))
	a.billing.SetDefaultTaxRate(cfg.TaxRate())
	a.billing.SetDueDays(cfg.InvoiceDueDays)
	a.billing.SetTelemetry(a.metrics)

	a.stats = stats.NewAggregator(stats.NewStorePG(pool), a.customers, logger)
	return a, nil
}

func (a *app) close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	a.pool.Close()
}

// errorHandler counts expected domain errors before echo renders them.
func errorHandler(e *echo.Echo, metrics *telemetry.Provider) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		he, ok := err.(*echo.HTTPError)
		if !ok || he.Internal == nil {
			e.DefaultHTTPErrorHandler(err, c)
			return
		}
		kind := apperr.KindOf(he.Internal)
		if kind != apperr.KindUnknown {
			metrics.DomainError(kind.String())
		}
		fields := validation.Fields(he.Internal)
		if kind != apperr.KindValidation || len(fields) == 0 || c.Response().Committed {
			e.DefaultHTTPErrorHandler(err, c)
			return
		}
		if err := c.JSON(he.Code, map[string]interface{}{"message": he.Message, "fields": fields}); err != nil {
			e.Logger.Error(err)
		}
	}
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}
	defer a.close()
	logger.Info().Str("numbering", cfg.NumberingBackend).Msg("connected to database")

	pool := a.pool
	a.metrics.GaugeFunc("db_pool_total_connections", "Open pool connections.", func() float64 {
		return float64(pool.Stat().TotalConns())
	})
	a.metrics.GaugeFunc("db_pool_acquired_connections", "Pool connections in use.", func() float64 {
		return float64(pool.Stat().AcquiredConns())
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(e, a.metrics)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(a.metrics.MetricsMiddleware())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", a.metrics.PrometheusHandler())

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware(cfg.DevUser()))
	}
	if !cfg.IsDev() || cfg.AuthSigningKey != "" {
		jwt := auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
		if cfg.IsDev() {
			// Development requests without a token were already given an identity.
			jwt = skipWithoutToken(jwt)
		}
		apiV1.Use(jwt)
	}
	apiV1.Use(middleware.Audit(logger))

	customer.NewHandler(a.customers).RegisterRoutes(apiV1)
	lab.NewHandler(a.registry, a.cases, a.ledger).RegisterRoutes(apiV1)
	billing.NewHandler(a.billing).RegisterRoutes(apiV1)
	stats.NewHandler(a.stats).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// skipWithoutToken applies mw only to requests that carry an Authorization
// header.
func skipWithoutToken(mw echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		guarded := mw(next)
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") == "" {
				return next(c)
			}
			return guarded(c)
		}
	}
}
