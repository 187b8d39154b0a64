package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"floorline/internal/app"
	"floorline/internal/db"
	"floorline/internal/domain"
	"floorline/internal/engine"
	"floorline/internal/repo"
	"floorline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fl",
	Short: "Floorline CLI",
	Long: `Floorline tracks production-floor jobs, item completions, and the work log.
- Workspace: the directory holding floorline.yml and the .floorline database.
- Job: an order released to the floor; it owns items and a work log.
- Item: one line of assigned work with order and stock quantities.
- Completions fill the order quantity first, then stock; overage is flagged.
- Work log: append-only ledger of start_working and log_completion entries.
- Job status is derived from item statuses and only ever moves forward.`,
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
	viper.SetEnvPrefix("FLOORLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("shop", "", "shop id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("shop", rootCmd.PersistentFlags().Lookup("shop"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(workCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(photoCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configShowCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fmt.Printf("workspace ready: db at %s, config at %s/floorline.yml\n", db.Path(a.Workspace), a.Workspace)
				return nil
			})
		},
	}
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Manage jobs"}
	job.AddCommand(jobCreateCmd())
	job.AddCommand(jobListCmd())
	job.AddCommand(jobShowCmd())
	job.AddCommand(jobReleaseCmd())
	job.AddCommand(jobRebuildCmd())
	return job
}

// parseItemSpec parses "name:order_qty[:stock_qty]".
func parseItemSpec(raw string) (engine.ItemSpec, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return engine.ItemSpec{}, fmt.Errorf("invalid item %q, expected name:order_qty[:stock_qty]", raw)
	}
	spec := engine.ItemSpec{Name: parts[0]}
	order, err := strconv.Atoi(parts[1])
	if err != nil {
		return engine.ItemSpec{}, fmt.Errorf("invalid order_qty in %q", raw)
	}
	spec.OrderQty = order
	if len(parts) == 3 {
		stock, err := strconv.Atoi(parts[2])
		if err != nil {
			return engine.ItemSpec{}, fmt.Errorf("invalid stock_qty in %q", raw)
		}
		spec.StockQty = stock
	}
	return spec, nil
}

func jobCreateCmd() *cobra.Command {
	var name, start, end string
	var items []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts := engine.JobCreateOptions{
					Name:           name,
					ScheduledStart: start,
					ScheduledEnd:   end,
					ActorID:        viper.GetString("actor-id"),
				}
				for _, raw := range items {
					spec, err := parseItemSpec(raw)
					if err != nil {
						return err
					}
					opts.Items = append(opts.Items, spec)
				}
				j, its, err := a.Engine.CreateJob(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"job": j, "items": its})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "job name")
	cmd.Flags().StringVar(&start, "scheduled-start", "", "scheduled start (RFC3339)")
	cmd.Flags().StringVar(&end, "scheduled-end", "", "scheduled end (RFC3339)")
	cmd.Flags().StringArrayVar(&items, "item", nil, "item as name:order_qty[:stock_qty] (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func jobListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				jobs, err := a.Engine.Repo.ListJobs(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Created", "Completed"})
				for _, j := range jobs {
					completed := ""
					if j.CompletedAt != nil {
						completed = *j.CompletedAt
					}
					tw.AppendRow(table.Row{j.ID, j.Name, j.Status, j.CreatedAt, completed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func jobShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				snap, err := a.Engine.Snapshot(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(snap)
				}
				fmt.Printf("%s  %s  [%s]\n", snap.Job.ID, snap.Job.Name, snap.Job.Status)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Item", "Name", "Order", "Stock", "Status"})
				for _, it := range snap.Items {
					tw.AppendRow(table.Row{
						it.ID, it.Name,
						fmt.Sprintf("%d/%d", it.OrderCompleted, it.OrderQty),
						fmt.Sprintf("%d/%d", it.StockCompleted, it.StockQty),
						it.Status,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func jobReleaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release <job-id>",
		Short: "Release a draft job into production",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				j, err := a.Engine.ReleaseJob(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func jobRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild <job-id>",
		Short: "Rebuild item counters from the work log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.RebuildItemCounters(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{Use: "item", Short: "Manage job items"}
	item.AddCommand(itemAddCmd())
	return item
}

func itemAddCmd() *cobra.Command {
	var jobID, name string
	var orderQty, stockQty int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an item to a draft job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				it, err := a.Engine.AddItem(ctx, jobID, engine.ItemSpec{
					Name:     name,
					OrderQty: orderQty,
					StockQty: stockQty,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job id")
	cmd.Flags().StringVar(&name, "name", "", "item name")
	cmd.Flags().IntVar(&orderQty, "order", 0, "order quantity")
	cmd.Flags().IntVar(&stockQty, "stock", 0, "stock quantity")
	_ = cmd.MarkFlagRequired("job")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func workCmd() *cobra.Command {
	work := &cobra.Command{Use: "work", Short: "Report work from the floor"}
	work.AddCommand(workStartCmd())
	work.AddCommand(workLogCmd())
	return work
}

func workStartCmd() *cobra.Command {
	var jobID, itemID string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Mark an item as picked up",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entry, err := a.Engine.StartWorking(ctx, jobID, itemID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job id")
	cmd.Flags().StringVar(&itemID, "item", "", "item id")
	_ = cmd.MarkFlagRequired("job")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

// parseCompletionEntry parses "item_id:qty".
func parseCompletionEntry(raw string) (engine.CompletionEntry, error) {
	idx := strings.LastIndex(raw, ":")
	if idx <= 0 {
		return engine.CompletionEntry{}, fmt.Errorf("invalid entry %q, expected item_id:qty", raw)
	}
	qty, err := strconv.Atoi(raw[idx+1:])
	if err != nil {
		return engine.CompletionEntry{}, fmt.Errorf("invalid qty in %q", raw)
	}
	return engine.CompletionEntry{ItemID: raw[:idx], QtyCompleted: qty}, nil
}

func workLogCmd() *cobra.Command {
	var jobID, notes string
	var hours float64
	var entries []string
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Report completed quantities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts := engine.CompletionOptions{
					JobID:   jobID,
					ActorID: viper.GetString("actor-id"),
				}
				if cmd.Flags().Changed("hours") {
					opts.Hours = &hours
				}
				if notes != "" {
					opts.Notes = &notes
				}
				for _, raw := range entries {
					en, err := parseCompletionEntry(raw)
					if err != nil {
						return err
					}
					opts.Entries = append(opts.Entries, en)
				}
				entry, err := a.Engine.LogCompletion(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job id")
	cmd.Flags().StringArrayVar(&entries, "entry", nil, "entry as item_id:qty (repeatable)")
	cmd.Flags().Float64Var(&hours, "hours", 0, "hours spent")
	cmd.Flags().StringVar(&notes, "notes", "", "free-text notes")
	_ = cmd.MarkFlagRequired("job")
	_ = cmd.MarkFlagRequired("entry")
	return cmd
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Inspect the work log"}
	logc.AddCommand(logTailCmd())
	return logc
}

func logTailCmd() *cobra.Command {
	var jobID string
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail a job's work log, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.Engine.Repo.ListWorkLog(ctx, jobID, n, "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Kind", "Actor", "Detail"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Kind, e.ActorID, entryDetail(e)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job id")
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func entryDetail(e domain.WorkLogEntry) string {
	if e.Kind == domain.EntryStartWorking {
		if e.ItemID != nil {
			return "item " + *e.ItemID
		}
		return ""
	}
	parts := make([]string, 0, len(e.Deltas))
	for _, d := range e.Deltas {
		part := fmt.Sprintf("%s +%d", d.ItemID, d.QtyCompleted)
		if d.Discarded > 0 {
			part += fmt.Sprintf(" (%d discarded)", d.Discarded)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

func photoCmd() *cobra.Command {
	photo := &cobra.Command{Use: "photo", Short: "Manage photo attachments"}
	photo.AddCommand(photoAttachCmd())
	return photo
}

func photoAttachCmd() *cobra.Command {
	var entryID int64
	var photoURL, caption string
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach a photo URL to a work log entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.AttachPhoto(ctx, entryID, photoURL, caption, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().Int64Var(&entryID, "entry", 0, "work log entry id")
	cmd.Flags().StringVar(&photoURL, "url", "", "photo url")
	cmd.Flags().StringVar(&caption, "caption", "", "caption")
	_ = cmd.MarkFlagRequired("entry")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func actorCmd() *cobra.Command {
	actor := &cobra.Command{Use: "actor", Short: "Manage actors"}
	actor.AddCommand(actorRoleCmd())
	return actor
}

func actorRoleCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Set an actor role without checks (dev only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != "worker" && role != "manager" {
				return fmt.Errorf("--role must be worker or manager")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Repo.SetActorRole(ctx, target, role)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "worker or manager")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				raw := "flk_" + strings.ReplaceAll(uuid.New().String()+uuid.New().String(), "-", "")
				key := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				if err := a.Engine.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				fmt.Printf("api key created (id=%s). Save it now, it is not stored:\n%s\n", key.ID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Engine.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printJSONOrTable(a.Config)
			})
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
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				authCfg := server.AuthConfig{
					JWTSecret:              os.Getenv("FLOORLINE_JWT_SECRET"),
					AllowLegacyActorHeader: a.Config.Auth.AllowLegacyActorHeader,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("FLOORLINE_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(a.Engine)
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Floorline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"), viper.GetString("shop"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
