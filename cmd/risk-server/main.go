package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/DylanRJCollins/whoishRisk/internal/config"
	"github.com/DylanRJCollins/whoishRisk/internal/domain/assessment"
	"github.com/DylanRJCollins/whoishRisk/internal/domain/risk"
	"github.com/DylanRJCollins/whoishRisk/internal/platform/auth"
	"github.com/DylanRJCollins/whoishRisk/internal/platform/cdshooks"
	"github.com/DylanRJCollins/whoishRisk/internal/platform/db"
	"github.com/DylanRJCollins/whoishRisk/internal/platform/middleware"
	"github.com/DylanRJCollins/whoishRisk/internal/platform/refdata"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "risk-server",
		Short: "WHO CVD risk scoring service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(scoreCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the risk scoring API server",
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

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			pool, err := migrationPool()
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(context.Background())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			pool, err := migrationPool()
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(context.Background())
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

	// migrate down - keep as warning
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Restore from a backup or ship a forward migration that reverses the change.")
			return nil
		},
	})

	return cmd
}

// migrationPool opens a connection pool for the migrate commands. Migrations
// need an explicit DATABASE_URL even though the server can run without one.
func migrationPool() (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for migrations")
	}
	return db.NewPool(context.Background(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a CSV of observations offline",
		Long: "Reads observations from a CSV with columns age,sex,smoking,sbp,diabetes,chl\n" +
			"(any order, extra columns pass through), scores every row against the\n" +
			"selected model and subregion, and writes the rows back out annotated with\n" +
			"the lookup results.",
		RunE: func(cmd *cobra.Command, args []string) error {
			model, _ := cmd.Flags().GetString("model")
			subregion, _ := cmd.Flags().GetString("subregion")
			input, _ := cmd.Flags().GetString("input")
			output, _ := cmd.Flags().GetString("output")
			table, _ := cmd.Flags().GetString("table")
			return runScore(model, subregion, input, output, table)
		},
	}
	cmd.Flags().String("model", risk.VariantWHO2019, "Risk model: who2019 or whoish")
	cmd.Flags().String("subregion", "", "Subregion code, e.g. WES_EUR (who2019) or EUR_A (whoish)")
	cmd.Flags().String("input", "", "Input CSV path")
	cmd.Flags().String("output", "", "Output CSV path (default: stdout)")
	cmd.Flags().String("table", "", "Reference table path (default: the configured path for the model)")
	_ = cmd.MarkFlagRequired("subregion")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runScore(model, subregion, inputPath, outputPath, tablePath string) error {
	schema, err := modelSchema(model)
	if err != nil {
		return err
	}

	if tablePath == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if model == risk.VariantWHO2019 {
			tablePath = cfg.WHO2019TablePath
		} else {
			tablePath = cfg.WHOISHTablePath
		}
	}

	table, err := refdata.Load(tablePath, schema)
	if err != nil {
		return fmt.Errorf("load reference table: %w", err)
	}

	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	header, rows, obs, err := readScoreInput(in)
	if err != nil {
		return err
	}
	if len(obs) == 0 {
		return fmt.Errorf("input contains no observation rows")
	}

	var svc *risk.Service
	if model == risk.VariantWHO2019 {
		svc = risk.NewService(table, nil, nil)
	} else {
		svc = risk.NewService(nil, table, nil)
	}
	results, err := svc.Score(context.Background(), model, subregion, obs)
	if err != nil {
		return err
	}

	out := io.Writer(os.Stdout)
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := writeScoreOutput(out, model, header, rows, results); err != nil {
		return err
	}

	if outputPath != "" {
		matched := 0
		for _, r := range results {
			if r.Matched {
				matched++
			}
		}
		fmt.Printf("Scored %d observation(s), %d matched. Wrote %s.\n", len(results), matched, outputPath)
	}
	return nil
}

// modelSchema maps a model name to its reference-table schema.
func modelSchema(model string) (refdata.Schema, error) {
	switch model {
	case risk.VariantWHO2019:
		return risk.WHO2019Schema(), nil
	case risk.VariantWHOISH:
		return risk.WHOISHSchema(), nil
	default:
		return refdata.Schema{}, fmt.Errorf("unknown model %q (want %s or %s)", model, risk.VariantWHO2019, risk.VariantWHOISH)
	}
}

// scoreInputColumns are the required input columns, in the entry-point
// argument order: age, sex, smoking, sbp, diabetes, chl.
var scoreInputColumns = []string{"age", "sex", "smoking", "sbp", "diabetes", "chl"}

// readScoreInput parses the input CSV. The header must name all six
// observation columns; extra columns are carried through untouched.
func readScoreInput(r io.Reader) (header []string, rows [][]string, obs []risk.Observation, err error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err = cr.Read()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read input header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	for _, name := range scoreInputColumns {
		if _, ok := idx[name]; !ok {
			return nil, nil, nil, fmt.Errorf("input is missing column %q", name)
		}
	}

	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("read input: %w", err)
		}
		line++
		o, err := parseObservationRow(idx, rec, line)
		if err != nil {
			return nil, nil, nil, err
		}
		rows = append(rows, rec)
		obs = append(obs, o)
	}
	return header, rows, obs, nil
}

func parseObservationRow(idx map[string]int, rec []string, line int) (risk.Observation, error) {
	var o risk.Observation
	var err error
	if o.Age, err = strconv.Atoi(strings.TrimSpace(rec[idx["age"]])); err != nil {
		return o, fmt.Errorf("row %d: age: %w", line, err)
	}
	if o.Sex, err = strconv.Atoi(strings.TrimSpace(rec[idx["sex"]])); err != nil {
		return o, fmt.Errorf("row %d: sex: %w", line, err)
	}
	if o.SmokingStatus, err = strconv.Atoi(strings.TrimSpace(rec[idx["smoking"]])); err != nil {
		return o, fmt.Errorf("row %d: smoking: %w", line, err)
	}
	if o.SystolicBP, err = strconv.ParseFloat(strings.TrimSpace(rec[idx["sbp"]]), 64); err != nil {
		return o, fmt.Errorf("row %d: sbp: %w", line, err)
	}
	if o.DiabetesStatus, err = strconv.Atoi(strings.TrimSpace(rec[idx["diabetes"]])); err != nil {
		return o, fmt.Errorf("row %d: diabetes: %w", line, err)
	}
	if o.TotalCholesterol, err = strconv.ParseFloat(strings.TrimSpace(rec[idx["chl"]]), 64); err != nil {
		return o, fmt.Errorf("row %d: chl: %w", line, err)
	}
	return o, nil
}

// writeScoreOutput writes the input rows with three appended columns:
// matched, the model's value column (risk for who2019, risk_level for
// whoish), and any advisory warnings joined with "; ".
func writeScoreOutput(w io.Writer, model string, header []string, rows [][]string, results []risk.Result) error {
	valueColumn := "risk"
	if model == risk.VariantWHOISH {
		valueColumn = "risk_level"
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string{}, header...), "matched", valueColumn, "warnings")); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	for i, rec := range rows {
		res := results[i]
		value := ""
		switch {
		case res.RiskPercent != nil:
			value = strconv.FormatFloat(*res.RiskPercent, 'g', -1, 64)
		case res.RiskLevel != nil:
			value = *res.RiskLevel
		}
		out := append(append([]string{}, rec...),
			strconv.FormatBool(res.Matched),
			value,
			strings.Join(res.Warnings, "; "),
		)
		if err := cw.Write(out); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		logger = logger.Level(lvl)
	}

	// Reference tables, loaded concurrently; both must parse or the server
	// must not come up.
	var (
		who2019Table *refdata.Table
		whoishTable  *refdata.Table
	)
	var g errgroup.Group
	g.Go(func() error {
		t, err := refdata.Load(cfg.WHO2019TablePath, risk.WHO2019Schema())
		if err != nil {
			return fmt.Errorf("who2019 table: %w", err)
		}
		who2019Table = t
		return nil
	})
	g.Go(func() error {
		t, err := refdata.Load(cfg.WHOISHTablePath, risk.WHOISHSchema())
		if err != nil {
			return fmt.Errorf("whoish table: %w", err)
		}
		whoishTable = t
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("failed to load reference tables")
	}
	logTableStats(logger, who2019Table)
	logTableStats(logger, whoishTable)

	// Database (optional; scoring works without it)
	ctx := context.Background()
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
	}

	// Scoring service; scored rows are recorded only when persistence is on.
	var rec risk.Recorder
	var assessSvc *assessment.Service
	if cfg.PersistAssessments {
		assessSvc = assessment.NewService(assessment.NewRepoPG(pool))
		rec = assessSvc
		logger.Info().Msg("assessment persistence enabled")
	}
	riskSvc := risk.NewService(who2019Table, whoishTable, rec)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if !cfg.IsDev() {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	} else if cfg.AuthDevSigningKey != "" {
		// Dev with a shared HS256 key: tokens required but locally mintable.
		e.Use(auth.JWTMiddleware(auth.JWTConfig{SigningKey: []byte(cfg.AuthDevSigningKey)}))
	} else {
		e.Use(auth.DevAuthMiddleware())
	}

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// API group
	apiV1 := e.Group("/api/v1")

	// Rate limiting middleware
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}

	// Scoring endpoints
	riskHandler := risk.NewHandler(riskSvc)
	riskHandler.RegisterRoutes(apiV1)

	// Assessment history endpoints
	if assessSvc != nil {
		assessHandler := assessment.NewHandler(assessSvc)
		assessHandler.RegisterRoutes(apiV1.Group("/assessments", auth.RequireRole("physician", "researcher")))
	}

	// CDS Hooks surface
	cdsHandler := cdshooks.NewHandler()
	risk.RegisterCDSServices(cdsHandler, riskSvc)

	cdsFeedback := func(ctx context.Context, serviceID string, fb cdshooks.Feedback) error {
		logger.Info().
			Str("service", serviceID).
			Str("card", fb.Card).
			Str("outcome", fb.Outcome).
			Msg("cds card feedback")
		return nil
	}
	cdsHandler.RegisterFeedback("cvd-risk-who2019", cdsFeedback)
	cdsHandler.RegisterFeedback("cvd-risk-whoish", cdsFeedback)

	cdsHandler.RegisterRoutes(e)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func logTableStats(logger zerolog.Logger, t *refdata.Table) {
	st := t.Stats()
	logger.Info().
		Str("variant", t.Variant()).
		Int("rows", st.Rows).
		Int("subregions", len(t.Subregions())).
		Msg("reference table loaded")
	if st.DuplicateKeys > 0 {
		logger.Warn().
			Str("variant", t.Variant()).
			Int("duplicates", st.DuplicateKeys).
			Msg("reference table has duplicate keys; first occurrence wins")
	}
}
