package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"streakline/internal/app"
	"streakline/internal/config"
	"streakline/internal/db"
	"streakline/internal/domain"
	"streakline/internal/logging"
	"streakline/internal/migrate"
	"streakline/internal/registration"
	"streakline/internal/repo"
	"streakline/internal/scheduler"
	"streakline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Streakline CLI",
	Long: `Streakline keeps a group honest about a daily habit.
Core concepts:
- Participant: someone who registered a goal (3-100 characters) and a daily pledge (0-1000).
- Log: one entry per participant per calendar day; completed or exempt.
- Streak: consecutive completed days ending today; zero until today is logged.
- Missed day: a day from registration up to yesterday with no completed log (exempt days are neutral by default).
- Balance: missed days times pledge, minus donations paid; never below zero.
- Pause: 'sl leave' stops accrual, 'sl continue' resumes; three silent days pause automatically.
- Triggers: daily summary, weekly report, Friday reminders and the neglect sweep run on a cron schedule under 'sl serve'.
- Event log: the audit trail of every change, view with 'sl events tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STREAKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "participant id acting on the command")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(forgotCmd())
	rootCmd.AddCommand(exemptCmd())
	rootCmd.AddCommand(streakCmd())
	rootCmd.AddCommand(leaveCmd())
	rootCmd.AddCommand(continueCmd())
	rootCmd.AddCommand(exitCmd())
	rootCmd.AddCommand(viewCmd())
	rootCmd.AddCommand(paidCmd())
	rootCmd.AddCommand(setupCmd())
	rootCmd.AddCommand(adminCmd())
	rootCmd.AddCommand(triggerCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var timezone string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create streakline.yml and the state database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(timezone)), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(cmd.Context(), conn); err != nil {
				return err
			}
			fmt.Printf("Initialized %s and %s\n", path, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone for calendar days (default Local)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func registerCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register interactively: goal, then daily pledge",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				p, err := runRegistration(ctx, env.Service, actor, name, cmd.InOrStdin(), cmd.OutOrStdout(), env.Config.RegistrationTimeout())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the actor id)")
	return cmd
}

var errRegistrationTimedOut = errors.New("registration timed out; run 'sl register' again")

// runRegistration drives the dialogue from r. Each prompt waits at most
// timeout for an answer, matching the server-side session expiry.
func runRegistration(ctx context.Context, svc *app.Service, actor, name string, r io.Reader, w io.Writer, timeout time.Duration) (*domain.Participant, error) {
	out, err := svc.StartRegistration(ctx, actor, name)
	if err != nil {
		return nil, err
	}
	lines := make(chan string)
	var scanErr error
	go func() {
		defer close(lines)
		in := bufio.NewScanner(r)
		for in.Scan() {
			lines <- in.Text()
		}
		scanErr = in.Err()
	}()

	for out.Step != registration.Completed {
		fmt.Fprint(w, prompt(out.Step))
		timer := time.NewTimer(timeout)
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			timer.Stop()
			svc.CancelRegistration(actor)
			return nil, ctx.Err()
		case <-timer.C:
			svc.CancelRegistration(actor)
			fmt.Fprintln(w)
			return nil, errRegistrationTimedOut
		case line, ok = <-lines:
			timer.Stop()
		}
		if !ok {
			svc.CancelRegistration(actor)
			if scanErr != nil {
				return nil, scanErr
			}
			return nil, errors.New("registration abandoned")
		}
		out, err = svc.SubmitRegistration(ctx, actor, line)
		if errors.Is(err, registration.ErrNoSession) {
			return nil, errRegistrationTimedOut
		}
		if err != nil {
			return nil, err
		}
	}
	return out.Participant, nil
}

func prompt(step registration.Step) string {
	switch step {
	case registration.AwaitingGoal:
		return "What is your daily goal? (3-100 characters): "
	case registration.AwaitingPledge:
		return "How much do you pledge per missed day? (0-1000): "
	default:
		return "> "
	}
}

func logCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log [notes]",
		Short: "Mark today completed",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				res, err := env.Service.Log(ctx, actor, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Logged %s. Streak: %d\n", res.Date, res.Streak)
				return nil
			})
		},
	}
}

func forgotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forgot [notes]",
		Short: "Backfill yesterday before the morning cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				res, err := env.Service.Forgot(ctx, actor, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Backfilled %s. Streak: %d\n", res.Date, res.Streak)
				return nil
			})
		},
	}
}

func exemptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exempt <reason>",
		Short: "Mark today exempt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				res, err := env.Service.Exempt(ctx, actor, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s marked exempt: %s\n", res.Date, res.Entry.Reason)
				return nil
			})
		},
	}
}

func streakCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "streak",
		Short: "Show streak, missed days and balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				stats, err := env.Service.Streak(actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRows([]table.Row{
					{"Goal", stats.Participant.Goal},
					{"Streak", stats.Streak},
					{"Missed days", stats.MissedDays},
					{"Pledge", stats.Participant.Pledge.StringFixed(2)},
					{"Balance", stats.Balance.StringFixed(2)},
					{"Donated", stats.Participant.TotalDonations.StringFixed(2)},
					{"Completion", stats.CompletionRate.StringFixed(1) + "%"},
					{"Logged today", stats.LoggedToday},
					{"Paused", stats.Participant.Paused},
				})
				tw.Render()
				return nil
			})
		},
	}
}

func leaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave",
		Short: "Pause tracking",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				p, err := env.Service.Leave(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func continueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "continue",
		Short: "Resume tracking",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				p, err := env.Service.Continue(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func exitCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "exit",
		Short: "Leave the challenge and delete every log you own",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			if !yes {
				return errors.New("exit deletes all of your history; re-run with --yes to confirm")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				res, err := env.Service.Exit(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Removed %s and %d log(s). Outstanding at exit: %s\n", actor, res.RemovedLogs, res.OutstandingDue.StringFixed(2))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func viewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show who has logged today",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				board := env.Service.View()
				if viper.GetBool("json") {
					return printJSON(board)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle(fmt.Sprintf("%s: %d/%d logged", board.Date, board.LoggedCount, board.Total))
				tw.AppendHeader(table.Row{"Participant", "Name", "Today"})
				for _, row := range board.Rows {
					mark := "-"
					if row.LoggedToday {
						mark = "done"
					}
					tw.AppendRow(table.Row{row.ParticipantID, row.Name, mark})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func paidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paid <participant> <amount>",
		Short: "Record a donation (admin)",
		Long:  "Participant may be an id, a <@id> mention or @name.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				receipt, err := env.Service.Paid(ctx, actor, args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(receipt)
				}
				fmt.Printf("Recorded %s from %s (%d day(s) covered). Balance now %s\n",
					receipt.Amount.StringFixed(2), receipt.Name, receipt.DaysCovered, receipt.Balance.StringFixed(2))
				return nil
			})
		},
	}
}

func setupCmd() *cobra.Command {
	var guild, channel string
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Set the broadcast channel (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if err := env.Service.Setup(ctx, actor, guild, channel); err != nil {
					return err
				}
				fmt.Printf("Broadcasts go to channel %s\n", channel)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&guild, "guild", "", "guild id")
	cmd.Flags().StringVar(&channel, "channel", "", "channel id")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admins",
		Long:  "Operator commands: whoever can run sl against the workspace is trusted.",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "grant <actor-id>",
		Short: "Grant admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				env.Service.GrantAdmin(ctx, args[0])
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <actor-id>",
		Short: "Revoke admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				env.Service.RevokeAdmin(ctx, args[0])
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List admins",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				ids, err := r.ListAdmins(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(ids)
			})
		},
	})
	return cmd
}

func triggerCmd() *cobra.Command {
	names := make([]string, 0, len(scheduler.Triggers()))
	for _, t := range scheduler.Triggers() {
		names = append(names, string(t))
	}
	return &cobra.Command{
		Use:       "trigger <name>",
		Short:     "Run a scheduled pass now (admin)",
		Long:      "Triggers: " + strings.Join(names, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			trigger, err := scheduler.ParseTrigger(args[0])
			if err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				deliveries, err := env.Service.TriggerAs(ctx, actor, trigger)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(deliveries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Fact", "Audience"})
				for _, d := range deliveries {
					audience := d.Target.ParticipantID
					if d.Target.Broadcast {
						audience = "channel"
					}
					tw.AppendRow(table.Row{d.Fact.FactKind(), audience})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func eventsCmd() *cobra.Command {
	events := &cobra.Command{
		Use:   "events",
		Short: "Audit event log",
	}
	var n int
	var f repo.EventFilter
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.LatestEvents(ctx, n, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityID, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id filter")

	var interval time.Duration
	follow := &cobra.Command{
		Use:   "follow",
		Short: "Print new events as they are appended",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cursor, err := r.LatestEventID(ctx)
				if err != nil {
					return err
				}
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
					items, err := r.EventsAfter(ctx, 100, cursor)
					if err != nil {
						return err
					}
					for _, e := range items {
						cursor = e.ID
						if viper.GetBool("json") {
							if err := printJSON(e); err != nil {
								return err
							}
							continue
						}
						fmt.Printf("%d %s %s %s %s %s\n", e.ID, e.TS, e.Type, e.EntityID, e.ActorID, e.Payload)
					}
				}
			})
		},
	}
	follow.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")

	events.AddCommand(tail, follow)
	return events
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <actor-id>",
		Short: "Mint a bearer token signed with STREAKLINE_JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.SignToken(viper.GetString("jwt-secret"), args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for bots and integrations",
	}
	var name string
	create := &cobra.Command{
		Use:   "create <actor-id>",
		Short: "Issue a key; the secret is shown once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				key, secret, err := r.IssueAPIKey(ctx, args[0], name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": key, "secret": secret})
				}
				fmt.Printf("id: %s\nsecret: %s\n", key.ID, secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")
	cmd.AddCommand(create)
	cmd.AddCommand(&cobra.Command{
		Use:   "list [actor-id]",
		Short: "List keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := ""
			if len(args) == 1 {
				actor = args[0]
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actor)
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
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect streakline.yml",
		Long:  "Config holds the timezone, backfill cutoff, accounting policy, cron schedule, webhooks and admins. Missing keys fall back to defaults.",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "schedule",
		Short: "Show trigger schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(c.Schedule)
			}
			names := make([]string, 0, len(c.Schedule))
			for name := range c.Schedule {
				names = append(names, name)
			}
			sort.Strings(names)
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.SetTitle("timezone " + c.Clock.Timezone)
			tw.AppendHeader(table.Row{"Trigger", "Cron"})
			for _, name := range names {
				tw.AppendRow(table.Row{name, c.Schedule[name]})
			}
			tw.Render()
			return nil
		},
	})
	return cfg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noScheduler, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the trigger scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				cfg := env.Config
				if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
					addr = cfg.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
					basePath = cfg.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:              viper.GetString("jwt-secret"),
					AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
					DevLogin:               devLogin,
					Logger:                 env.Logger.Named("auth"),
				}
				if authCfg.JWTSecret == "" {
					if devLogin {
						return fmt.Errorf("STREAKLINE_JWT_SECRET is required for --dev-login")
					}
					env.Logger.Warn("STREAKLINE_JWT_SECRET not set; bearer tokens are rejected")
				}
				handler, err := server.New(server.Config{
					Service:  env.Service,
					Repo:     env.Repo,
					Inbox:    env.Inbox,
					BasePath: basePath,
					Auth:     authCfg,
				})
				if err != nil {
					return err
				}

				g, gctx := errgroup.WithContext(ctx)
				if !noScheduler {
					runner, err := scheduler.NewRunner(cfg.Schedule, env.Clock.Location, env.Service.Scheduled, env.Logger.Named("scheduler"))
					if err != nil {
						return err
					}
					g.Go(func() error { return runner.Run(gctx) })
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				g.Go(func() error {
					env.Logger.Info("serving streakline api",
						zap.String("addr", addr),
						zap.String("base_path", basePath),
						zap.Bool("scheduler", !noScheduler))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				fmt.Printf("Serving Streakline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "serve the API without running scheduled triggers")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "DEV ONLY: expose POST /auth/dev/login")
	return cmd
}

// --- helpers ---

func requireActor() (string, error) {
	actor := strings.TrimSpace(viper.GetString("actor-id"))
	if actor == "" {
		return "", errors.New("--actor-id (or STREAKLINE_ACTOR_ID) is required")
	}
	return actor, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := viper.GetString("log-level")
	if level == "" {
		level = cfg.Log.Level
	}
	return logging.New(level)
}

func withEnv(ctx context.Context, fn func(context.Context, *app.Env) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()
	env, err := app.Open(ctx, workspace, cfg, logger)
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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
