package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleetsim/internal/config"
	"fleetsim/internal/db"
	"fleetsim/internal/engine"
	"fleetsim/internal/migrate"
	"fleetsim/internal/repo"
	"fleetsim/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fleetsim",
	Short: "Fleetsim CLI",
	Long: `Fleetsim runs discrete-time logistics fleet simulations.
A world of depots and customers is stepped tick by tick: depots produce
and hold stock, customers raise demands, and trucks load at depots,
drive routes, and unload to satisfy whatever demand is waiting. Every
state change lands in an append-only event log, so a finished run can
be replayed and audited after the fact.
Configure a scenario with 'fleetsim config init', execute it with
'fleetsim run', and inspect past runs with 'fleetsim runs' and
'fleetsim log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FLEETSIM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func runCmd() *cobra.Command {
	var ticks int
	var seed int64
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a simulation run",
		Long:  "Builds a world from the scenario config, steps it for the requested number of ticks, and records the run in the workspace database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ticks < 1 {
				return fmt.Errorf("--ticks must be at least 1")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if cmd.Flags().Changed("seed") {
					e.Config.Scenario.Seed = seed
				}
				run, err := e.StartRun(ctx)
				if err != nil {
					return err
				}
				if _, err := e.Advance(ctx, run.ID, ticks); err != nil {
					return err
				}
				run, err = e.FinishRun(ctx, run.ID)
				if err != nil {
					return err
				}
				sum, err := e.Summary(ctx, run.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"run": run, "summary": sum})
				}
				fmt.Printf("Run %s (%s, seed %d) finished after %d ticks\n", run.ID, run.Scenario, run.Seed, sum.Ticks)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Delivered", "Wasted", "Cargo on trucks (kg)", "Events"})
				tw.AppendRow(table.Row{sum.DeliveredUnits, sum.WastedUnits, sum.TotalCargoKg, sum.EventCount})
				tw.Render()
				if len(sum.DemandCounts) > 0 {
					dw := table.NewWriter()
					dw.SetOutputMirror(os.Stdout)
					dw.AppendHeader(table.Row{"Demand status", "Count"})
					statuses := make([]string, 0, len(sum.DemandCounts))
					for status := range sum.DemandCounts {
						statuses = append(statuses, status)
					}
					sort.Strings(statuses)
					for _, status := range statuses {
						dw.AppendRow(table.Row{status, sum.DemandCounts[status]})
					}
					dw.Render()
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&ticks, "ticks", 100, "number of ticks to simulate")
	cmd.Flags().Int64Var(&seed, "seed", 0, "override the scenario seed")
	return cmd
}

func runsCmd() *cobra.Command {
	runs := &cobra.Command{Use: "runs", Short: "Inspect past runs"}
	runs.AddCommand(runsListCmd())
	runs.AddCommand(runsShowCmd())
	runs.AddCommand(runsDeleteCmd())
	return runs
}

func runsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				runs, err := r.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Scenario", "Seed", "Status", "Tick", "Delivered", "Wasted", "Created"})
				for _, run := range runs {
					tw.AppendRow(table.Row{run.ID, run.Scenario, run.Seed, run.Status, run.Tick, run.DeliveredUnits, run.WastedUnits, run.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	return cmd
}

func runsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run with its event type counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				run, err := r.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				counts, err := r.CountEventsByType(ctx, run.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"run": run, "event_counts": counts})
				}
				fmt.Printf("Run %s: scenario=%s seed=%d status=%s tick=%d delivered=%d wasted=%d\n",
					run.ID, run.Scenario, run.Seed, run.Status, run.Tick, run.DeliveredUnits, run.WastedUnits)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Event type", "Count"})
				types := make([]string, 0, len(counts))
				for evtType := range counts {
					types = append(types, evtType)
				}
				sort.Strings(types)
				for _, evtType := range types {
					tw.AppendRow(table.Row{evtType, counts[evtType]})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func runsDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteRun(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened in a run: arrivals, loads, deliveries, demand updates, and anomalies.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var runID, entityKind, entityID, evtType string
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events of a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				return fmt.Errorf("--run required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, runID, n)
				if err != nil {
					return err
				}
				if entityKind != "" || entityID != "" || evtType != "" {
					filtered := events[:0]
					for _, e := range events {
						if entityKind != "" && e.EntityKind != entityKind {
							continue
						}
						if entityID != "" && e.EntityID != entityID {
							continue
						}
						if evtType != "" && e.Type != evtType {
							continue
						}
						filtered = append(filtered, e)
					}
					events = filtered
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Tick", "Entity", "Type", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.Tick, e.EntityKind + "/" + e.EntityID, e.Type, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind (truck, location, world)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage scenario config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default fleetsim.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(name)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "baseline", "scenario name")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active scenario config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			data, err := cfg.ToYAML()
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a scenario config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := config.FromFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("%s not found; create one with fleetsim config init", path)
				}
				return err
			}
			fmt.Printf("%s is valid (scenario %q)\n", path, cfg.Scenario.Name)
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOrDefault(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("FLEETSIM_JWT_SECRET")}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			if authCfg.JWTSecret == "" {
				fmt.Println("FLEETSIM_JWT_SECRET not set; API is open")
			}
			fmt.Printf("Serving Fleetsim API on http://%s%s (OpenAPI at /openapi.json)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOrDefault(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
