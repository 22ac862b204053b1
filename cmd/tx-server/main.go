package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/txserver/internal/config"
	"github.com/ehr/txserver/internal/domain/codesystem"
	"github.com/ehr/txserver/internal/domain/terminology"
	"github.com/ehr/txserver/internal/domain/valueset"
	"github.com/ehr/txserver/internal/platform/db"
	"github.com/ehr/txserver/internal/platform/fhir"
	"github.com/ehr/txserver/internal/platform/middleware"
	"github.com/ehr/txserver/migrations"
)

const serverVersion = "1.0.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "tx-server",
		Short: "FHIR terminology server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(loadCmd())
	rootCmd.AddCommand(expandCmd())

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

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the terminology server",
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
		Short: "Create the schema and apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", cfg.DBSchema)
			count, err := db.CreateSchema(ctx, pool, cfg.DBSchema, migrationFiles(dir))
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Migrations directory (default: the embedded migrations)")
	cmd.AddCommand(upCmd)

	// migrate status
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
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationFiles(dir)).Status(ctx, cfg.DBSchema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", cfg.DBSchema)
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.Modified {
						status = "modified"
					}
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Migrations directory (default: the embedded migrations)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func loadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load [dir]",
		Short: "Import CodeSystem and ValueSet JSON files into Postgres",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dir := cfg.ResourceDir
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				return fmt.Errorf("a resource directory is required (argument or RESOURCE_DIR)")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			imp := &poolImporter{
				codeSystems: codesystem.NewService(codesystem.NewCodeSystemRepoPG(pool)),
				valueSets:   valueset.NewService(valueset.NewValueSetRepoPG(pool)),
			}
			var counts importCounts
			err = db.InTx(ctx, pool, cfg.DBSchema, func(ctx context.Context) error {
				counts, err = importDir(ctx, imp, dir)
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d code system(s) and %d value set(s) into %s.\n",
				counts.CodeSystems, counts.ValueSets, cfg.DBSchema)
			return nil
		},
	}
	return cmd
}

func expandCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Expand a value set from a resource directory and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			vsURL, _ := cmd.Flags().GetString("url")
			id, _ := cmd.Flags().GetString("id")
			count, _ := cmd.Flags().GetInt("count")
			offset, _ := cmd.Flags().GetInt("offset")
			lang, _ := cmd.Flags().GetString("lang")
			filter, _ := cmd.Flags().GetString("filter")

			if vsURL == "" && id == "" {
				return fmt.Errorf("--url or --id is required")
			}

			logger := zerolog.New(cmd.ErrOrStderr()).Level(zerolog.WarnLevel)
			store := terminology.NewMemoryStore()
			terminology.RegisterBuiltins(store)
			if dir != "" {
				if _, err := terminology.LoadDir(store, dir, logger); err != nil {
					return err
				}
			}

			canonical, version := terminology.SplitCanonical(vsURL)
			req := &terminology.ExpandRequest{
				URL:             canonical,
				ValueSetVersion: version,
				ValueSetID:      id,
				Filter:          filter,
				DisplayLanguage: lang,
			}
			if cmd.Flags().Changed("count") {
				req.Count = &count
			}
			if cmd.Flags().Changed("offset") {
				req.Offset = &offset
			}

			vs, err := terminology.NewService(store, logger).Expand(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), vs)
		},
	}
	cmd.Flags().String("dir", os.Getenv("RESOURCE_DIR"), "Directory of CodeSystem/ValueSet JSON files")
	cmd.Flags().String("url", "", "Value set canonical (url or url|version)")
	cmd.Flags().String("id", "", "Value set resource id")
	cmd.Flags().Int("count", 0, "Page size")
	cmd.Flags().Int("offset", 0, "Page offset")
	cmd.Flags().String("lang", "", "Display language")
	cmd.Flags().String("filter", "", "Text filter")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openStore builds the resource store selected by cfg. The returned pool is
// nil unless the postgres backend is in use.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (terminology.ResourceStore, *pgxpool.Pool, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		store := terminology.NewPGStore(
			codesystem.NewCodeSystemRepoPG(pool),
			valueset.NewValueSetRepoPG(pool),
		)
		return store, pool, nil
	case config.BackendRemote:
		store := terminology.NewRemoteStore(terminology.RemoteConfig{
			BaseURL:  cfg.RemoteFHIRURL,
			RetryMax: cfg.RemoteRetryMax,
			Timeout:  cfg.RemoteTimeout,
		}, logger)
		return store, nil, nil
	case config.BackendFile:
		store := terminology.NewMemoryStore()
		terminology.RegisterBuiltins(store)
		if _, err := terminology.LoadDir(store, cfg.ResourceDir, logger); err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		store := terminology.NewMemoryStore()
		terminology.RegisterBuiltins(store)
		return store, nil, nil
	}
}

// newServer assembles the echo instance. pool may be nil.
func newServer(cfg *config.Config, logger zerolog.Logger, store terminology.ResourceStore, pool *pgxpool.Pool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", "Accept", middleware.RequestIDHeader},
	}))
	// Validate has already rejected an unparseable limit.
	bodyLimit, _ := cfg.BodyLimitBytes()
	e.Use(middleware.BodyLimit(bodyLimit))

	e.GET("/health", db.HealthHandler(cfg.StoreBackend, pool))

	fhirGroup := e.Group("/fhir")
	fhirGroup.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	fhirGroup.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	if pool != nil {
		fhirGroup.Use(db.SchemaMiddleware(pool, cfg.DBSchema))
	}

	capBuilder := fhir.NewCapabilityBuilder("http://localhost:"+cfg.Port+"/fhir", serverVersion)

	// Operations before resource routes so that $-paths are never read as ids.
	svc := terminology.NewService(store, logger, terminology.WithMaxExpansionSize(cfg.MaxExpansionSize))
	terminology.NewHandler(svc).RegisterRoutes(fhirGroup)

	interactions := []string{"search-type"}
	if pool != nil {
		interactions = fhir.DefaultInteractions()
		codesystem.NewHandler(codesystem.NewService(codesystem.NewCodeSystemRepoPG(pool))).RegisterRoutes(fhirGroup)
		valueset.NewHandler(valueset.NewService(valueset.NewValueSetRepoPG(pool))).RegisterRoutes(fhirGroup)
	}
	capBuilder.AddResource("CodeSystem", interactions, []fhir.SearchParam{
		{Name: "url", Type: "uri"},
		{Name: "supplements", Type: "reference"},
	})
	capBuilder.AddResource("ValueSet", interactions, []fhir.SearchParam{
		{Name: "url", Type: "uri"},
	})
	for _, op := range []struct{ resource, name string }{
		{"ValueSet", "expand"},
		{"ValueSet", "validate-code"},
		{"CodeSystem", "lookup"},
		{"CodeSystem", "validate-code"},
	} {
		capBuilder.AddOperation(op.resource, fhir.OperationCapability{
			Name:       op.name,
			Definition: "http://hl7.org/fhir/OperationDefinition/" + op.resource + "-" + op.name,
		})
	}
	fhir.NewCapabilityHandler(capBuilder).RegisterRoutes(fhirGroup)

	return e
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	store, pool, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to open resource store")
	}
	if pool != nil {
		defer pool.Close()
		logger.Info().Msg("connected to database")
	}

	e := newServer(cfg, logger, store, pool)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("backend", cfg.StoreBackend).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
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

// resourceImporter stores one CodeSystem or ValueSet resource body.
type resourceImporter interface {
	ImportCodeSystem(ctx context.Context, raw []byte) error
	ImportValueSet(ctx context.Context, raw []byte) error
}

type poolImporter struct {
	codeSystems *codesystem.Service
	valueSets   *valueset.Service
}

func (p *poolImporter) ImportCodeSystem(ctx context.Context, raw []byte) error {
	_, err := p.codeSystems.Import(ctx, raw, "")
	return err
}

func (p *poolImporter) ImportValueSet(ctx context.Context, raw []byte) error {
	_, err := p.valueSets.Import(ctx, raw, "")
	return err
}

type importCounts struct {
	CodeSystems int
	ValueSets   int
}

// importDir imports every *.json file under dir. Unlike the file backend a
// bad file aborts the import, so the surrounding transaction rolls back.
func importDir(ctx context.Context, imp resourceImporter, dir string) (importCounts, error) {
	var counts importCounts
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		resources, err := splitResources(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for _, raw := range resources {
			var h struct {
				ResourceType string `json:"resourceType"`
			}
			if err := json.Unmarshal(raw, &h); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			switch h.ResourceType {
			case "CodeSystem":
				if err := imp.ImportCodeSystem(ctx, raw); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				counts.CodeSystems++
			case "ValueSet":
				if err := imp.ImportValueSet(ctx, raw); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				counts.ValueSets++
			}
		}
		return nil
	})
	return counts, err
}

// splitResources returns the resources in data, flattening Bundles.
func splitResources(data []byte) ([]json.RawMessage, error) {
	var b fhir.Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse resource: %w", err)
	}
	if b.ResourceType != "Bundle" {
		return []json.RawMessage{data}, nil
	}
	var out []json.RawMessage
	for _, e := range b.Entry {
		if len(e.Resource) == 0 {
			continue
		}
		nested, err := splitResources(e.Resource)
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	return out, nil
}
