package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/andreazorzetto/yh/highlight"
	"github.com/hokaccha/go-prettyjson"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"gopkg.in/yaml.v3"

	sdk "go.opentelemetry.io/otel/sdk/metric"

	"github.com/looplj/classhub/conf"
	"github.com/looplj/classhub/internal/audit"
	"github.com/looplj/classhub/internal/authz"
	"github.com/looplj/classhub/internal/build"
	"github.com/looplj/classhub/internal/log"
	"github.com/looplj/classhub/internal/metrics"
	"github.com/looplj/classhub/internal/server"
	"github.com/looplj/classhub/internal/server/db"
)

func main() {
	if len(os.Args) < 2 {
		showHelp()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "migrate":
		handleMigrate(os.Args[2:])
	case "config":
		handleConfigCommand()
	case "audit":
		handleAudit(os.Args[2:])
	case "repair":
		handleRepair(os.Args[2:])
	case "abac":
		handleAbac(os.Args[2:])
	case "version", "--version", "-v":
		showVersion()
	case "build-info":
		showBuildInfo()
	case "help", "--help", "-h":
		showHelp()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		showHelp()
		os.Exit(1)
	}
}

func showBuildInfo() {
	fmt.Println(build.GetBuildInfo())
}

type logger struct{}

func (l *logger) LogEvent(event fxevent.Event) {
	log.Debug(context.Background(), "fx event", log.Any("event", event))
}

func loadConfig() conf.Config {
	config, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	return config
}

// run executes fn against the application graph, acting as the system
// principal unless actorID names a user.
func run(actorID int64, fn func(ctx context.Context, svc *server.Services) error) {
	err := server.Run(context.Background(),
		func(ctx context.Context, svc *server.Services) error {
			if actorID == 0 {
				return fn(authz.NewSystemContext(ctx), svc)
			}

			actor, err := svc.Users.Resolve(ctx, actorID)
			if err != nil {
				return fmt.Errorf("resolve actor %d: %w", actorID, err)
			}

			return fn(authz.NewUserContext(ctx, actor), svc)
		},
		fx.WithLogger(func() fxevent.Logger {
			return &logger{}
		}),
		fx.Provide(conf.Load),
		fx.Provide(metrics.NewProvider),
		fx.Invoke(func(lc fx.Lifecycle, cfg server.Config, provider *sdk.MeterProvider) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					if provider != nil {
						return metrics.SetupMetrics(provider, cfg.Name)
					}

					return nil
				},
				OnStop: func(ctx context.Context) error {
					if provider != nil {
						return provider.Shutdown(ctx)
					}

					return nil
				},
			})
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func handleMigrate(args []string) {
	fs := pflag.NewFlagSet("migrate", pflag.ExitOnError)
	_ = fs.Parse(args)

	config := loadConfig()
	config.DB.AutoMigrate = false

	ctx := context.Background()

	s, err := db.Open(ctx, config.DB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	if err := db.Migrate(ctx, s); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to migrate: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Migrations applied.")
}

func handleConfigCommand() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: classhub config <preview|validate|get>")
		os.Exit(1)
	}

	switch os.Args[2] {
	case "preview":
		configPreview()
	case "validate":
		configValidate()
	case "get":
		configGet()
	default:
		fmt.Println("Usage: classhub config <preview|validate|get>")
		os.Exit(1)
	}
}

func configPreview() {
	fs := pflag.NewFlagSet("config preview", pflag.ExitOnError)
	format := fs.StringP("format", "f", "yml", "output format (yml, json)")
	_ = fs.Parse(os.Args[3:])

	config := loadConfig()

	var output string

	switch *format {
	case "json":
		b, err := prettyjson.Marshal(config)
		if err != nil {
			fmt.Printf("Failed to preview config: %v\n", err)
			os.Exit(1)
		}

		output = string(b)
	case "yml", "yaml":
		b, err := yaml.Marshal(config)
		if err != nil {
			fmt.Printf("Failed to preview config: %v\n", err)
			os.Exit(1)
		}

		output, err = highlight.Highlight(bytes.NewBuffer(b))
		if err != nil {
			fmt.Printf("Failed to preview config: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Printf("Unsupported format: %s\n", *format)
		os.Exit(1)
	}

	fmt.Println(output)
}

func configValidate() {
	config := loadConfig()

	errors := validateConfig(config)

	if len(errors) == 0 {
		fmt.Println("Configuration is valid!")
		return
	}

	fmt.Println("Configuration validation failed:")

	for _, err := range errors {
		fmt.Printf("  - %s\n", err)
	}

	os.Exit(1)
}

func validateConfig(config conf.Config) []string {
	var errors []string

	if _, err := db.ParseDialect(config.DB.Dialect); err != nil {
		errors = append(errors, err.Error())
	}

	if config.DB.DSN == "" {
		errors = append(errors, "db.dsn cannot be empty")
	}

	if config.Log.Name == "" {
		errors = append(errors, "log.name cannot be empty")
	}

	if config.Blob.Backend == "os" && config.Blob.Root == "" {
		errors = append(errors, "blob.root cannot be empty for the os backend")
	}

	if config.Audit.DefaultPageSize > config.Audit.MaxPageSize {
		errors = append(errors, "audit.default_page_size cannot exceed audit.max_page_size")
	}

	for _, rule := range config.Authz.Rules {
		if rule.Key == "" || rule.Expression == "" {
			errors = append(errors, "authz.rules entries need a key and an expression")
			break
		}
	}

	return errors
}

func configGet() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: classhub config get <key>")
		fmt.Println("")
		fmt.Println("Available keys:")
		fmt.Println("  server.name    Application name")
		fmt.Println("  db.dialect     Database dialect")
		fmt.Println("  db.dsn         Database DSN")
		fmt.Println("  cache.mode     Actor cache mode")
		fmt.Println("  blob.backend   Upload storage backend")
		fmt.Println("  blob.root      Upload storage root")
		os.Exit(1)
	}

	key := os.Args[3]

	config := loadConfig()

	var value any

	switch key {
	case "server.name":
		value = config.Server.Name
	case "server.debug":
		value = config.Server.Debug
	case "db.dialect":
		value = config.DB.Dialect
	case "db.dsn":
		value = config.DB.DSN
	case "cache.mode":
		value = config.Cache.Mode
	case "blob.backend":
		value = config.Blob.Backend
	case "blob.root":
		value = config.Blob.Root
	case "notify.sinks":
		value = config.Notify.Sinks
	default:
		fmt.Fprintf(os.Stderr, "Unknown config key: %s\n", key)
		os.Exit(1)
	}

	fmt.Println(value)
}

func optionalID(v int64) *int64 {
	if v == 0 {
		return nil
	}

	return &v
}

func handleAudit(args []string) {
	fs := pflag.NewFlagSet("audit", pflag.ExitOnError)
	classID := fs.Int64("class", 0, "class id")
	teamID := fs.Int64("team", 0, "team id")
	projectID := fs.Int64("project", 0, "project id")
	actorFilter := fs.Int64("actor", 0, "acting user id to filter by")
	action := fs.String("action", "", "audit action, e.g. project.submit")
	before := fs.Int64("before", 0, "only entries older than this id")
	limit := fs.Int("limit", 0, "page size")
	_ = fs.Parse(args)

	filter := audit.Filter{
		ActorID:   optionalID(*actorFilter),
		ClassID:   optionalID(*classID),
		TeamID:    optionalID(*teamID),
		ProjectID: optionalID(*projectID),
		Action:    *action,
		BeforeID:  *before,
		Limit:     *limit,
	}

	run(0, func(ctx context.Context, svc *server.Services) error {
		page, err := svc.Admin.QueryAudit(ctx, filter)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		for _, e := range page.Entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}

		if page.NextBeforeID != 0 {
			fmt.Fprintf(os.Stderr, "more entries: --before %d\n", page.NextBeforeID)
		}

		return nil
	})
}

func handleRepair(args []string) {
	if len(args) < 2 || args[0] != "project" {
		fmt.Println("Usage: classhub repair project <id> --reason REASON [--actor USER_ID]")
		os.Exit(1)
	}

	projectID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid project id: %s\n", args[1])
		os.Exit(1)
	}

	fs := pflag.NewFlagSet("repair project", pflag.ExitOnError)
	reason := fs.String("reason", "", "stable reason recorded in the audit log")
	actorID := fs.Int64("actor", 0, "admin user id to act as; the system principal when omitted")
	_ = fs.Parse(args[2:])

	run(*actorID, func(ctx context.Context, svc *server.Services) error {
		result, err := svc.Admin.RepairProject(ctx, projectID, *reason)
		if err != nil {
			return err
		}

		b, err := prettyjson.Marshal(result)
		if err != nil {
			return err
		}

		fmt.Println(string(b))

		return nil
	})
}

func handleAbac(args []string) {
	if len(args) < 1 || args[0] != "list" {
		fmt.Println("Usage: classhub abac list")
		os.Exit(1)
	}

	run(0, func(ctx context.Context, svc *server.Services) error {
		rules, err := svc.Admin.ListAbacRules(ctx)
		if err != nil {
			return err
		}

		if len(rules) == 0 {
			fmt.Println("No ABAC rules registered.")
			return nil
		}

		for _, r := range rules {
			state := "enabled"
			if !r.Enabled {
				state = "disabled"
			}

			fmt.Printf("%-24s %-9s %s\n", r.Key, state, r.Expression)
		}

		return nil
	})
}

func showHelp() {
	fmt.Println("classhub capstone governance")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  classhub migrate                   Apply database migrations")
	fmt.Println("  classhub config preview            Preview configuration")
	fmt.Println("  classhub config validate           Validate configuration")
	fmt.Println("  classhub config get <key>          Get a specific config value")
	fmt.Println("  classhub audit [filters]           Print audit entries as JSON lines")
	fmt.Println("  classhub repair project <id>       Re-apply activation side effects of a project")
	fmt.Println("  classhub abac list                 List ABAC rules")
	fmt.Println("  classhub version                   Show version")
	fmt.Println("  classhub build-info                Show build information")
	fmt.Println("  classhub help                      Show this help message")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -f, --format FORMAT       Output format for config preview (yml, json)")
	fmt.Println("  --class, --team, --project, --actor, --action, --before, --limit")
	fmt.Println("                            Audit filters")
	fmt.Println("  --reason REASON           Repair reason (required)")
	fmt.Println("")
	fmt.Println("Configuration is read from config.yml, or the file in CLASSHUB_CONFIG;")
	fmt.Println("CLASSHUB_* environment variables override it, e.g. CLASSHUB_DB_DSN.")
}

func showVersion() {
	fmt.Println(build.Version)
}
