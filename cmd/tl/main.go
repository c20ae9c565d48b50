package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"taskline/internal/app"
	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/logging"
	"taskline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Taskline CLI",
	Long: `Taskline keeps projects and their tasks behind one authorization core.
- Workspace: a directory holding .taskline/taskline.db and an optional taskline.yml.
- Projects: owned by their creator, who is always a member; members edit tasks.
- Tasks: belong to one project; parents and dependencies stay inside it and never form cycles.
- Assignees: may change the fields listed in tasks.assignee_fields without being members.
- Audit: every change writes one entry in the same transaction; no entry, no change.
- Every command runs as --actor (env TASKLINE_ACTOR).`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (default <workspace>/taskline.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor", "local-user", "actor identifier")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json, logfmt)")
	for _, name := range []string{"workspace", "config", "json", "actor", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectArchiveCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(membersCmd())
	prj.AddCommand(labelsCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var in engine.ProjectInput
	var start, end string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.StartDate = optionalString(start)
			in.EndDate = optionalString(end)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				p, err := e.CreateProject(ctx, c, in)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "project name")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.Status, "status", "", "status (planned, in_progress, on_hold, completed, archived)")
	cmd.Flags().StringVar(&in.Priority, "priority", "", "priority (low, medium, high, critical)")
	cmd.Flags().StringVar(&start, "start", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "end date YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	var opts engine.ProjectListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects you created or belong to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				items, err := e.ListProjects(ctx, c, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Status", "Priority", "Start", "End", "Created By"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.Priority, deref(p.StartDate), deref(p.EndDate), p.CreatedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&opts.Member, "member", "", "member filter")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "max results")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				p, err := e.GetProject(ctx, c, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func projectUpdateCmd() *cobra.Command {
	var name, description, status, priority, start, end string
	cmd := &cobra.Command{
		Use:   "update <project-id>",
		Short: "Update a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := engine.ProjectPatch{
				Name:        changed(cmd, "name", name),
				Description: changed(cmd, "description", description),
				Status:      changed(cmd, "status", status),
				Priority:    changed(cmd, "priority", priority),
				StartDate:   changed(cmd, "start", start),
				EndDate:     changed(cmd, "end", end),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				p, err := e.UpdateProject(ctx, c, args[0], patch)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().StringVar(&start, "start", "", "start date YYYY-MM-DD (empty clears)")
	cmd.Flags().StringVar(&end, "end", "", "end date YYYY-MM-DD (empty clears)")
	return cmd
}

func projectArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <project-id>",
		Short: "Archive a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				p, err := e.ArchiveProject(ctx, c, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				return e.DeleteProject(ctx, c, args[0])
			})
		},
	}
}

func membersCmd() *cobra.Command {
	members := &cobra.Command{Use: "members", Short: "Manage project members"}
	change := func(use, short string, fn func(engine.Engine) func(context.Context, engine.Caller, string, []string) (engine.MembershipChange, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <project-id> <actor-id>...",
			Short: short,
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
					res, err := fn(e)(ctx, c, args[0], args[1:])
					if err != nil {
						return err
					}
					return printJSON(res)
				})
			},
		}
	}
	members.AddCommand(change("add", "Add members", func(e engine.Engine) func(context.Context, engine.Caller, string, []string) (engine.MembershipChange, error) {
		return e.AddMembers
	}))
	members.AddCommand(change("remove", "Remove members (the creator stays)", func(e engine.Engine) func(context.Context, engine.Caller, string, []string) (engine.MembershipChange, error) {
		return e.RemoveMembers
	}))
	members.AddCommand(&cobra.Command{
		Use:   "list <project-id>",
		Short: "List members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				items, err := e.ListMembers(ctx, c, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"Actor", "Added At"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ActorID, m.AddedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	return members
}

func labelsCmd() *cobra.Command {
	labels := &cobra.Command{Use: "labels", Short: "Manage project labels"}
	var in engine.LabelInput
	create := &cobra.Command{
		Use:   "create <project-id>",
		Short: "Create a label",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				l, err := e.CreateLabel(ctx, c, args[0], in)
				if err != nil {
					return err
				}
				return printJSON(l)
			})
		},
	}
	create.Flags().StringVar(&in.Name, "name", "", "label name")
	create.Flags().StringVar(&in.Color, "color", "", "hex color, e.g. #1A2B3C")
	_ = create.MarkFlagRequired("name")
	labels.AddCommand(create)
	labels.AddCommand(&cobra.Command{
		Use:   "list <project-id>",
		Short: "List labels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				items, err := e.ListLabels(ctx, c, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Color"})
				for _, l := range items {
					tw.AppendRow(table.Row{l.ID, l.Name, l.Color})
				}
				tw.Render()
				return nil
			})
		},
	})
	labels.AddCommand(&cobra.Command{
		Use:   "delete <project-id> <label-id>",
		Short: "Delete a label",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				return e.DeleteLabel(ctx, c, args[0], args[1])
			})
		},
	})
	return labels
}

func auditCmd() *cobra.Command {
	audit := &cobra.Command{Use: "audit", Short: "Inspect the audit trail (admins)"}
	var opts engine.AuditListOptions
	list := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				items, err := e.ListAudit(ctx, c, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"Seq", "TS", "Actor", "Action", "Metadata"})
				for _, a := range items {
					meta, _ := json.Marshal(a.Metadata)
					tw.AppendRow(table.Row{a.Seq, a.TS, deref(a.ActorID), a.Action, string(meta)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&opts.Action, "action", "", "action filter")
	list.Flags().StringVar(&opts.ActorID, "actor-id", "", "actor filter")
	list.Flags().StringVar(&opts.From, "from", "", "lower bound (date or timestamp)")
	list.Flags().StringVar(&opts.To, "to", "", "upper bound (date or timestamp)")
	list.Flags().Int64Var(&opts.AfterSeq, "after-seq", 0, "only entries older than this sequence number")
	list.Flags().IntVar(&opts.Limit, "limit", 50, "max results")
	audit.AddCommand(list)
	audit.AddCommand(&cobra.Command{
		Use:   "actions",
		Short: "List audit action names",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				if viper.GetBool("json") {
					return printJSON(e.AuditActions())
				}
				for _, a := range e.AuditActions() {
					fmt.Println(a)
				}
				return nil
			})
		},
	})
	return audit
}

func roleCmd() *cobra.Command {
	role := &cobra.Command{Use: "role", Short: "Grant or revoke global roles (admins)"}
	for _, grant := range []bool{true, false} {
		grant := grant
		use, short := "grant", "Grant a role"
		if !grant {
			use, short = "revoke", "Revoke a role"
		}
		role.AddCommand(&cobra.Command{
			Use:   use + " <actor-id> <role>",
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
					fn := e.GrantRole
					if !grant {
						fn = e.RevokeRole
					}
					ok, err := fn(ctx, c, args[0], args[1])
					if err != nil {
						return err
					}
					return printJSON(map[string]any{"actor_id": args[0], "role": args[1], "changed": ok})
				})
			},
		})
	}
	return role
}

func keyCmd() *cobra.Command {
	key := &cobra.Command{Use: "key", Short: "Manage API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create [actor-id]",
		Short: "Create an API key (printed once)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				owner := c.Principal.ID
				if len(args) == 1 {
					owner = args[0]
				}
				k, err := e.CreateAPIKey(ctx, c, owner, name)
				if err != nil {
					return err
				}
				return printJSON(k)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key name")
	key.AddCommand(create)
	key.AddCommand(&cobra.Command{
		Use:   "list [actor-id]",
		Short: "List API keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				owner := c.Principal.ID
				if len(args) == 1 {
					owner = args[0]
				}
				keys, err := e.ListAPIKeys(ctx, c, owner)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable(table.Row{"ID", "Name", "Created At"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	key.AddCommand(&cobra.Command{
		Use:   "revoke <key-id> [actor-id]",
		Short: "Revoke an API key",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				owner := c.Principal.ID
				if len(args) == 2 {
					owner = args[1]
				}
				return e.RevokeAPIKey(ctx, c, owner, args[0])
			})
		},
	})
	return key
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Show or validate taskline.yml"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(c)
			}
			out, err := yaml.Marshal(c)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "default",
		Short: "Print the default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.GenerateDefault())
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cfg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("TASKLINE_JWT_SECRET")
			ws, err := openWorkspace(cmd.Context(), secret)
			if err != nil {
				return err
			}
			defer ws.Close()
			if secret == "" {
				ws.Logger.Warn("TASKLINE_JWT_SECRET is not set; bearer tokens are disabled, X-Api-Key still works")
			}
			handler, err := server.New(server.Config{
				Engine:   ws.Engine,
				BasePath: basePath,
				Auth:     server.AuthConfig{AllowLegacyActorHeader: ws.Config.Auth.AllowLegacyActorHeader},
				Logger:   ws.Logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go pruneRevocations(cmd.Context(), ws, time.Hour)
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(ctx); err != nil {
					ws.Logger.Error("shutdown", "err", err)
				}
			}()
			ws.Logger.Info("serving Taskline API", "addr", "http://"+addr+basePath, "openapi", basePath+"/openapi.json", "docs", "/docs")
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

func pruneRevocations(ctx context.Context, ws *app.Workspace, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		n, err := ws.Engine.PruneRevocations(ctx)
		if err != nil {
			ws.Logger.Warn("prune revoked tokens", "err", err)
		} else if n > 0 {
			ws.Logger.Debug("pruned revoked tokens", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func cliLogger() *log.Logger {
	level, format := viper.GetString("log-level"), viper.GetString("log-format")
	if level == "" && format == "" {
		return nil
	}
	return logging.New(os.Stderr, logging.Options{Level: level, Format: format})
}

func openWorkspace(ctx context.Context, secret string) (*app.Workspace, error) {
	return app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		JWTSecret:  secret,
		Logger:     cliLogger(),
	})
}

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.Load(viper.GetString("workspace"))
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, engine.Caller) error) error {
	ws, err := openWorkspace(ctx, os.Getenv("TASKLINE_JWT_SECRET"))
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws.Engine, engine.As(viper.GetString("actor")))
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTasks(tasks []domain.Task) {
	tw := newTable(table.Row{"ID", "Title", "Status", "Priority", "Due", "Done %", "Assignees"})
	for _, t := range tasks {
		due := deref(t.DueDate)
		if t.Overdue {
			due += " (overdue)"
		}
		tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, due, t.Completion, strings.Join(t.Assignees, ",")})
	}
	tw.Render()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// changed returns &v when the flag was set, so empty values can clear fields.
func changed(cmd *cobra.Command, name, v string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
