package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/ormcore/internal/compiler"
	"github.com/roach88/ormcore/internal/config"
	"github.com/roach88/ormcore/internal/entity"
	"github.com/roach88/ormcore/internal/gormstore"
	"github.com/roach88/ormcore/internal/logs"
	"github.com/roach88/ormcore/internal/meta"
	"github.com/roach88/ormcore/internal/mongostore"
	"github.com/roach88/ormcore/internal/queryir"
	"github.com/roach88/ormcore/internal/serialize"
	"github.com/roach88/ormcore/internal/store"
)

// ExportOptions holds the export command flags.
type ExportOptions struct {
	ConfigPath string
	Where      []string
	Populate   []string
	All        bool
	Limit      int
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{}

	cmd := &cobra.Command{
		Use:   "export <entity>",
		Short: "Find entities and print them as JSON",
		Long: `Open the configured driver, find entities of one type and serialize
them to JSON.

Filters are property=value pairs; values that parse as integers, floats or
booleans are typed, "null" matches missing values, anything else is a
string. Without --populate the runtime.populate paths of the config apply.

Examples:
  ormcore export Book --config ormcore.yaml --where id=10 --populate tags
  ormcore export Author --config ormcore.yaml --all --limit 5`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Configuration file (required)")
	cmd.Flags().StringArrayVarP(&opts.Where, "where", "w", nil, "Filter as property=value (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.Populate, "populate", "p", nil, "Relation path to load and expand (repeatable)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "Load and expand every relation one level deep")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results (0 for no limit)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runExport(ctx context.Context, rootOpts *RootOptions, opts *ExportOptions, typeName string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(rootOpts, cmd)

	where, err := parseWhere(opts.Where)
	if err != nil {
		return formatter.Fail(compiler.ErrCodeGeneric, "parse where", err)
	}
	if opts.Limit < 0 {
		return formatter.Fail(compiler.ErrCodeGeneric, "limit", fmt.Errorf("limit must be non-negative, got %d", opts.Limit))
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return formatter.Fail(compiler.ErrCodeLoadFailed, "load config", err)
	}
	logger, err := logs.New("ormcore", cfg.Log)
	if err != nil {
		return formatter.Fail(compiler.ErrCodeGeneric, "init logger", err)
	}
	defer func() { _ = logger.Sync() }()

	registry, err := compiler.LoadRegistry(cfg.Schema.Dir)
	if err != nil {
		return formatter.Fail(compiler.ErrCodeLoadFailed, "load schema", err)
	}
	formatter.VerboseLog("Loaded %d entities from %s", len(registry.All()), cfg.Schema.Dir)

	driver, closeDriver, err := openDriver(ctx, cfg, registry, logger)
	if err != nil {
		return formatter.Fail(compiler.ErrCodeGeneric, "open "+cfg.Driver.Kind, err)
	}
	defer closeDriver()
	formatter.VerboseLog("Opened %s driver", cfg.Driver.Kind)

	rt := entity.NewRuntime(registry,
		entity.WithLogger(logger),
		entity.WithForceConstructor(cfg.Runtime.ForceConstructor),
		entity.WithPlatform(driver.Platform()),
	)
	session := rt.NewSession(driver)

	populate := opts.Populate
	if len(populate) == 0 {
		populate = cfg.Runtime.Populate
	}
	queryOpts := []entity.QueryOption{}
	if len(where) > 0 {
		queryOpts = append(queryOpts, entity.Where(queryir.FromMap(where)))
	}
	if opts.Limit > 0 {
		queryOpts = append(queryOpts, entity.Limit(opts.Limit))
	}
	switch {
	case opts.All:
		queryOpts = append(queryOpts, entity.Populate("*"))
	case len(populate) > 0:
		queryOpts = append(queryOpts, entity.Populate(populate...))
	}

	results, err := session.Find(ctx, typeName, queryOpts...)
	if err != nil {
		return formatter.Fail(compiler.ErrCodeGeneric, "find "+typeName, err)
	}
	formatter.VerboseLog("Found %d %s", len(results), typeName)

	out, err := serialize.ToJSONIndent(results, serialize.Options{
		Populate:    populate,
		PopulateAll: opts.All,
	}, "  ")
	if err != nil {
		return formatter.Fail(compiler.ErrCodeGeneric, "serialize", err)
	}
	return formatter.Documents(typeName, len(results), out)
}

// openDriver opens the configured driver and returns it with its closer.
func openDriver(ctx context.Context, cfg *config.Config, md meta.Provider, logger *zap.Logger) (entity.Driver, func(), error) {
	switch cfg.Driver.Kind {
	case config.DriverSQLite:
		s, err := store.Open(cfg.Driver.DSN, md, store.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.DriverMySQL:
		s, err := gormstore.Open(cfg.Driver.DSN, md,
			gormstore.WithLogger(logger),
			gormstore.WithSlowThreshold(cfg.Driver.SlowThreshold),
			gormstore.WithMaxOpenConns(cfg.Driver.MaxOpenConns),
		)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.DriverMongo:
		s, err := mongostore.Open(cfg.Driver, md, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close(ctx) }, nil
	}
	return nil, nil, fmt.Errorf("unknown driver kind %q", cfg.Driver.Kind)
}

// parseWhere turns property=value pairs into a filter map.
func parseWhere(pairs []string) (map[string]any, error) {
	where := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid filter %q: expected property=value", pair)
		}
		where[name] = parseScalar(raw)
	}
	return where, nil
}

func parseScalar(raw string) any {
	if raw == "null" {
		return nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	return raw
}
