package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"metricline/internal/cache"
	"metricline/internal/client"
	"metricline/internal/config"
	"metricline/internal/dashboard"
	"metricline/internal/db"
	"metricline/internal/domain"
	"metricline/internal/ingest"
	"metricline/internal/metrics"
	"metricline/internal/migrate"
	"metricline/internal/repo"
	"metricline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ml",
	Short: "Metricline CLI",
	Long: `Metricline turns platform events into product analytics.
It consumes decision, outcome, hypothesis and lifecycle events, stores
immutable facts and daily metric snapshots, and serves them over a REST API
with a per-tenant dashboard.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("METRICLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("tenant", "local", "tenant identifier for local queries")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("tenant", rootCmd.PersistentFlags().Lookup("tenant"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(snapshotsCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(stakeholdersCmd())
	rootCmd.AddCommand(dashboardCmd())
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func withService(ctx context.Context, fn func(context.Context, *metrics.Service) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, metrics.NewService(conn, nil))
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default metricline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("migrated", db.Path(viper.GetString("workspace")))
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devTenantHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and event consumers",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Listen
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}

			logger := newLogger()
			cacheSize := cfg.Cache.Size
			if cacheSize <= 0 {
				cacheSize = 256
			}
			summaries, err := cache.New[dashboard.Summary](cacheSize)
			if err != nil {
				return err
			}
			svc := metrics.NewService(conn, summaries)
			var core *client.Core
			if cfg.Core.URL != "" {
				core = client.NewCore(cfg.Core.URL, cfg.CoreTimeout(), logger)
			}
			dash := dashboard.New(conn, svc, core, summaries)

			broker := ingest.NewBroker()
			dispatcher := ingest.NewDispatcher(logger, ingest.Handlers(svc), ingest.Options{
				Retries:   cfg.Ingest.Retries,
				Backoff:   cfg.IngestBackoff(),
				LogWindow: cfg.IngestLogWindow(),
			})
			runCtx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			dispatcher.Run(runCtx, broker)

			secret := os.Getenv("METRICLINE_JWT_SECRET")
			if secret == "" {
				secret = cfg.Server.JWTSecret
			}
			if secret == "" && !devTenantHeader {
				return fmt.Errorf("METRICLINE_JWT_SECRET is required for bearer auth (or pass --dev-tenant-header)")
			}
			handler, err := server.New(server.Config{
				DB:        conn,
				Metrics:   svc,
				Dashboard: dash,
				Broker:    broker,
				BasePath:  basePath,
				Auth: server.AuthConfig{
					JWTSecret:         secret,
					AllowTenantHeader: devTenantHeader,
					Logger:            logger,
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelShutdown()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving", "addr", addr, "base_path", basePath, "db", db.Path(workspace))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			cancel()
			broker.Close()
			dispatcher.Wait()
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&devTenantHeader, "dev-tenant-header", false, "accept X-Tenant-Id header without auth (development only)")
	return cmd
}

func snapshotsCmd() *cobra.Command {
	var metricType, from, to string
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List daily metric snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *metrics.Service) error {
				end := time.Now().UTC()
				var err error
				if to != "" {
					if end, err = time.Parse("2006-01-02", to); err != nil {
						return fmt.Errorf("invalid --to: %w", err)
					}
				}
				start := end.AddDate(0, 0, -29)
				if from != "" {
					if start, err = time.Parse("2006-01-02", from); err != nil {
						return fmt.Errorf("invalid --from: %w", err)
					}
				}
				items, err := svc.Snapshots(ctx, viper.GetString("tenant"), metricType, start, end)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Date", "Metric", "Value", "Dimensions"})
				for _, s := range items {
					dims, _ := json.Marshal(s.Dimensions)
					tw.AppendRow(table.Row{s.MetricDate, s.MetricType, s.Value, string(dims)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&metricType, "metric", domain.MetricDecisionVelocity, "metric type")
	cmd.Flags().StringVar(&from, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "end date (YYYY-MM-DD)")
	return cmd
}

func eventsCmd() *cobra.Command {
	var eventType, parentID string
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List stored lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *metrics.Service) error {
				items, err := svc.Events(ctx, repo.EventFilters{
					TenantID:  viper.GetString("tenant"),
					EventType: eventType,
					ParentID:  parentID,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Time", "Type", "Entity", "Parent"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.EventTS, e.EventType, e.EntityID, e.ParentID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "event type filter")
	cmd.Flags().StringVar(&parentID, "parent", "", "parent entity filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max events")
	return cmd
}

func stakeholdersCmd() *cobra.Command {
	var sinceDays int
	cmd := &cobra.Command{
		Use:   "stakeholders",
		Short: "Mean decision response time per stakeholder",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *metrics.Service) error {
				items, err := svc.StakeholderCycleTimes(ctx, viper.GetString("tenant"),
					time.Now().UTC().AddDate(0, 0, -sinceDays))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stakeholder", "Avg Hours", "Decisions"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.StakeholderID, fmt.Sprintf("%.2f", s.AvgHours), s.Decisions})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&sinceDays, "since-days", 30, "lookback window in days")
	return cmd
}

func dashboardCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Print the tenant dashboard summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			svc := metrics.NewService(conn, nil)
			var core *client.Core
			if cfg.Core.URL != "" {
				core = client.NewCore(cfg.Core.URL, cfg.CoreTimeout(), newLogger())
			}
			dash := dashboard.New(conn, svc, core, nil)
			sum, err := dash.Summary(cmd.Context(), viper.GetString("tenant"), projectID)
			if err != nil {
				return err
			}
			return printJSON(sum)
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id filter")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
