package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zoravur/tablegate/internal/app"
	"github.com/zoravur/tablegate/internal/catalog"
	"github.com/zoravur/tablegate/internal/config"
	"github.com/zoravur/tablegate/internal/engine"
	"github.com/zoravur/tablegate/internal/logutil"
	"github.com/zoravur/tablegate/internal/query"
	"github.com/zoravur/tablegate/internal/resource"
	"github.com/zoravur/tablegate/pkg/pg_lineage"
)

type globalFlags struct {
	config  string
	catalog string
}

func (g *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(g.config)
	if err != nil {
		return nil, err
	}
	if g.catalog != "" {
		cfg.Catalog.Path = g.catalog
	}
	return cfg, nil
}

func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	rc := &cobra.Command{
		Use:           "tablegate",
		Short:         "tablegate serves relational tables as addressable resources with change notifications.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rc.PersistentFlags().StringVarP(&g.config, "config", "c", "", "Configuration file to read from (.yaml, .yml or .json).")
	rc.PersistentFlags().StringVar(&g.catalog, "catalog", "", "Catalog descriptor file; overrides catalog.path.")

	rc.AddCommand(newServeCommand(g, stdout, stderr))
	rc.AddCommand(newCatalogCommand(g, stdout))
	rc.AddCommand(newRouteCommand(g, stdout))
	rc.AddCommand(newLineageCommand(stdout))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

func newServeCommand(g *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket gateway.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			logger, err := logutil.New(cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, err := app.NewServer(ctx, cfg, logger)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}

// openCatalog resolves the configured catalog, opening the database only
// when it has to be introspected.
func openCatalog(ctx context.Context, cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.Catalog.Path != "" {
		return catalog.LoadFile(cfg.Catalog.Path)
	}
	e, err := engine.Open(ctx, engine.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN}, zap.NewNop())
	if err != nil {
		return nil, err
	}
	defer e.Close()
	return app.LoadCatalog(ctx, cfg.Catalog, e)
}

func newCatalogCommand(g *globalFlags, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the resolved catalog with each table's dependents.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			cat, err := openCatalog(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TABLE\tPRIMARY KEY\tKIND\tDEPENDENTS")
			for _, td := range cat.Tables() {
				pk := td.PrimaryKey.Column
				if td.PrimaryKey.AutoIncrement {
					pk += " (auto)"
				}
				kind := "table"
				if td.View != "" {
					kind = "view"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", td.Name, pk, kind, strings.Join(td.Dependents, ","))
			}
			return tw.Flush()
		},
	}
}

func newRouteCommand(g *globalFlags, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "route <identifier>",
		Short: "Show how an identifier routes and the query it translates to.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			cat, err := openCatalog(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			id, err := resource.Parse(args[0])
			if err != nil {
				return err
			}
			// identifiers given on the command line may use any authority
			router := resource.NewRouter(id.Authority, cat)
			routed, err := router.Route(id)
			if err != nil {
				return err
			}
			d, ok := query.DialectFor(cfg.Database.Driver)
			if !ok {
				return fmt.Errorf("unsupported driver %q", cfg.Database.Driver)
			}
			bound, err := query.Translate(d, routed, query.FromParams(id))
			if err != nil {
				return err
			}
			stmt := query.Select(d, bound)

			fmt.Fprintf(stdout, "table:  %s\n", routed.Table.Name)
			fmt.Fprintf(stdout, "mode:   %s\n", routed.Mode)
			if routed.Key != "" {
				fmt.Fprintf(stdout, "key:    %s\n", routed.Key)
			}
			fmt.Fprintf(stdout, "type:   %s\n", router.Type(routed))
			fmt.Fprintf(stdout, "sql:    %s\n", stmt.SQL)
			if len(stmt.Args) > 0 {
				fmt.Fprintf(stdout, "args:   %v\n", stmt.Args)
			}
			return nil
		},
	}
}

func newLineageCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "lineage <sql>",
		Short: "Print the base tables a SELECT or CREATE VIEW statement reads.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tables, err := pg_lineage.BaseTables(args[0])
			if err != nil {
				return err
			}
			for _, t := range tables {
				fmt.Fprintln(stdout, t)
			}
			return nil
		},
	}
}
