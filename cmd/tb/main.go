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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskboard/internal/app"
	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/engine/auth"
	"taskboard/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tb",
	Short: "Taskboard CLI",
	Long: `Taskboard manages tasks, comments and the user directory.
Tasks move PENDING -> IN_PROGRESS -> DONE and carry a LOW/MEDIUM/HIGH
priority. Admins manage the board; plain users update the status of
tasks assigned to them and comment on tasks they author or hold.
The workspace is a .taskboard directory holding the database and an
optional taskboard.yml config.`,
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
	viper.SetEnvPrefix("TASKBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Int64("actor-id", 1, "acting user id")
	rootCmd.PersistentFlags().String("actor-roles", "ADMIN", "acting roles, comma separated")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-roles", rootCmd.PersistentFlags().Lookup("actor-roles"))
}

func registerCommands() {
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func actorFromFlags() (auth.Actor, error) {
	id := viper.GetInt64("actor-id")
	if id <= 0 {
		return auth.Actor{}, fmt.Errorf("--actor-id must be a positive user id")
	}
	a := auth.Actor{ID: id}
	for _, part := range strings.Split(viper.GetString("actor-roles"), ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		role := domain.Role(part)
		if !role.Valid() {
			return auth.Actor{}, fmt.Errorf("unknown role %q", part)
		}
		a.Roles = append(a.Roles, role)
	}
	return a, nil
}

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage the user directory"}
	usr.AddCommand(userAddCmd())
	usr.AddCommand(userListCmd())
	return usr
}

func userAddCmd() *cobra.Command {
	var email string
	var roles []string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var rs []domain.Role
				for _, r := range roles {
					rs = append(rs, domain.Role(strings.ToUpper(strings.TrimSpace(r))))
				}
				u, err := e.CreateUser(ctx, email, rs)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role (ADMIN or USER), repeatable")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func userListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Email", "Roles"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Email, joinRoles(u.Roles)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	tsk := &cobra.Command{Use: "task", Short: "Manage tasks"}
	tsk.AddCommand(taskCreateCmd())
	tsk.AddCommand(taskShowCmd())
	tsk.AddCommand(taskListCmd())
	tsk.AddCommand(taskAllCmd())
	tsk.AddCommand(taskUpdateCmd())
	tsk.AddCommand(taskAssignCmd())
	tsk.AddCommand(taskStatusCmd())
	tsk.AddCommand(taskPriorityCmd())
	tsk.AddCommand(taskDeleteCmd())
	tsk.AddCommand(taskCommentCmd())
	tsk.AddCommand(taskByAuthorCmd())
	tsk.AddCommand(taskByAssigneeCmd())
	return tsk
}

func taskCreateCmd() *cobra.Command {
	var title, description, status, priority string
	var assignee int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorFromFlags()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, actor, engine.TaskCreateOptions{
					Title:       title,
					Description: description,
					Status:      domain.Status(status),
					Priority:    domain.Priority(priority),
					AssigneeID:  assignee,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "task description")
	cmd.Flags().StringVar(&status, "status", "", "initial status (PENDING, IN_PROGRESS, DONE)")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (LOW, MEDIUM, HIGH)")
	cmd.Flags().Int64Var(&assignee, "assignee", 0, "assignee user id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task with its comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskListCmd() *cobra.Command {
	var status, priority string
	var author, assignee int64
	var page, size int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks by filter",
		Long:  "Lists a page of tasks matching the given filters. At least one filter is required.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q := engine.TaskQuery{Page: page, Size: size}
				if size == 0 {
					q.Size = e.Config.Listing.DefaultPageSize
				}
				if status != "" {
					s := domain.Status(strings.ToUpper(status))
					q.Status = &s
				}
				if priority != "" {
					p := domain.Priority(strings.ToUpper(priority))
					q.Priority = &p
				}
				if author != 0 {
					q.AuthorID = &author
				}
				if assignee != 0 {
					q.AssigneeID = &assignee
				}
				pg, err := e.ListTasks(ctx, q)
				if err != nil {
					return err
				}
				return printTaskPage(pg)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&priority, "priority", "", "priority filter")
	cmd.Flags().Int64Var(&author, "author", 0, "author user id")
	cmd.Flags().Int64Var(&assignee, "assignee", 0, "assignee user id")
	cmd.Flags().IntVar(&page, "page", 0, "page number, zero-based")
	cmd.Flags().IntVar(&size, "size", 0, "page size")
	return cmd
}

func taskAllCmd() *cobra.Command {
	var page, size int
	cmd := &cobra.Command{
		Use:   "all",
		Short: "List all tasks (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorFromFlags()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if size == 0 {
					size = e.Config.Listing.DefaultPageSize
				}
				pg, err := e.ListAllTasks(ctx, actor, page, size)
				if err != nil {
					return err
				}
				return printTaskPage(pg)
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "page number, zero-based")
	cmd.Flags().IntVar(&size, "size", 0, "page size")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, description, status, priority string
	var assignee int64
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task fields",
		Long:  "Updates only the flags that were set; everything else is left untouched.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			actor, err := actorFromFlags()
			if err != nil {
				return err
			}
			var patch engine.TaskPatch
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &description
			}
			if cmd.Flags().Changed("status") {
				s := domain.Status(strings.ToUpper(status))
				patch.Status = &s
			}
			if cmd.Flags().Changed("priority") {
				p := domain.Priority(strings.ToUpper(priority))
				patch.Priority = &p
			}
			if cmd.Flags().Changed("assignee") {
				patch.AssigneeID = &assignee
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, actor, id, patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "task description")
	cmd.Flags().StringVar(&status, "status", "", "status (PENDING, IN_PROGRESS, DONE)")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (LOW, MEDIUM, HIGH)")
	cmd.Flags().Int64Var(&assignee, "assignee", 0, "assignee user id")
	return cmd
}

func taskAssignCmd() *cobra.Command {
	var assignee int64
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign a task to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			actor, err := actorFromFlags()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.AssignTask(ctx, actor, id, assignee)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().Int64Var(&assignee, "to", 0, "assignee user id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Update task status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			actor, err := actorFromFlags()
			if err != nil {
				return err
			}
			status := domain.Status(strings.ToUpper(args[1]))
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTaskStatus(ctx, actor, id, status)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskPriorityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "priority <id> <priority>",
		Short: "Update task priority",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			actor, err := actorFromFlags()
			if err != nil {
				return err
			}
			priority := domain.Priority(strings.ToUpper(args[1]))
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTaskPriority(ctx, actor, id, priority)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task and its comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			actor, err := actorFromFlags()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteTask(ctx, actor, id); err != nil {
					return err
				}
				fmt.Printf("deleted task %d\n", id)
				return nil
			})
		},
	}
	return cmd
}

func taskCommentCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "comment <id>",
		Short: "Comment on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			actor, err := actorFromFlags()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddComment(ctx, actor, id, text)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "comment text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func taskByAuthorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "by-author <user-id>",
		Short: "List tasks created by a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.TasksByAuthor(ctx, id)
				if err != nil {
					return err
				}
				return printTaskTable(tasks)
			})
		},
	}
	return cmd
}

func taskByAssigneeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "by-assignee <user-id>",
		Short: "List tasks assigned to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.TasksByAssignee(ctx, id)
				if err != nil {
					return err
				}
				return printTaskTable(tasks)
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default taskboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			c, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
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
			workspace := viper.GetString("workspace")
			e, closeFn, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer closeFn()
			cfg := e.Config
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:        cfg.Auth.JWTSecret,
				AllowActorHeader: cfg.Auth.AllowActorHeader,
			}
			if secret := os.Getenv("TASKBOARD_JWT_SECRET"); secret != "" {
				authCfg.JWTSecret = secret
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowActorHeader {
				return fmt.Errorf("TASKBOARD_JWT_SECRET is required when the actor header is disabled")
			}
			handler, err := server.New(server.Config{
				Engine:          e,
				BasePath:        basePath,
				Auth:            authCfg,
				CORSOrigins:     cfg.Server.CORSOrigins,
				DefaultPageSize: cfg.Listing.DefaultPageSize,
			})
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
			fmt.Printf("Serving Taskboard API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	e, closeFn, err := app.Open(workspace)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, e)
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

func printTaskTable(tasks []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(tasks)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Author", "Assignee"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, t.AuthorID, t.AssigneeID})
	}
	tw.Render()
	return nil
}

func printTaskPage(pg engine.TaskPage) error {
	if viper.GetBool("json") {
		return printJSON(pg)
	}
	if err := printTaskTable(pg.Items); err != nil {
		return err
	}
	fmt.Printf("page %d/%d, %d task(s) total\n", pg.Page+1, pg.TotalPages, pg.TotalElements)
	return nil
}

func joinRoles(roles []domain.Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
