package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"github.com/Tpgainz/companyatlas/atlas"
	"github.com/Tpgainz/companyatlas/backend"
	"github.com/Tpgainz/companyatlas/runner/lambdaaws"
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

type cli struct {
	registry   *atlas.Registry
	configPath string
	verbose    bool
	cfg        *Config
	logger     *slog.Logger
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, registry *atlas.Registry, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand(registry)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)

	switch {
	case err == nil:
		return ExitOK
	case ctx.Err() != nil:
		fmt.Fprintln(stderr, "\nOperation cancelled by user.")
		return ExitInterrupted
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)

	return ExitFailure
}

func NewRootCommand(registry *atlas.Registry) *cobra.Command {
	c := &cli{registry: registry}

	root := &cobra.Command{
		Use:           "companyatlas",
		Short:         "Look up companies across public and commercial registries",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(c.configPath)
			if err != nil {
				return err
			}

			c.cfg = cfg
			c.logger = SetupLogging(cmd.ErrOrStderr(), c.verbose)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to a config file [default: ./companyatlas.yaml]")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		c.searchCommand(),
		c.codeCommand(),
		c.backendsCommand(),
		c.historyCommand(),
		c.batchCommand(),
		c.lambdaCommand(),
		c.invokeCommand(),
	)

	return root
}

func (c *cli) withApp(cmd *cobra.Command, fn func(app *App) error) error {
	app, err := NewApp(cmd.Context(), c.cfg, c.registry, c.logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := app.Close(); err != nil {
			c.logger.Warn(fmt.Sprintf("closing: %v", err))
		}
	}()

	return fn(app)
}

type searchFlags struct {
	countryCode string
	backendName string
	raw         bool
	race        bool
	all         bool
	limit       int
	kind        string
	timeout     time.Duration
	extra       map[string]string
	json        bool
}

func (f *searchFlags) options(cfg *Config) atlas.SearchOptions {
	opts := atlas.SearchOptions{
		CountryCode: f.countryCode,
		BackendName: f.backendName,
		Limit:       f.limit,
		Raw:         f.raw,
		Timeout:     cfg.Timeout,
		Type:        f.kind,
		Extra:       f.extra,
	}

	if f.timeout > 0 {
		opts.Timeout = f.timeout
	}

	switch {
	case f.all:
		opts.Mode = atlas.ModeAll
	case f.race:
		opts.Mode = atlas.ModeRace
	}

	return opts
}

func (f *searchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.countryCode, "country-code", "", "only use backends of this country (e.g. FR)")
	cmd.Flags().StringVar(&f.backendName, "backend", "", "force a specific backend (e.g. entdatagouv)")
	cmd.Flags().BoolVar(&f.raw, "raw", false, "return the raw API records without normalization")
	cmd.Flags().IntVarP(&f.limit, "limit", "n", atlas.DefaultLimit, "maximum number of results")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "per backend timeout [default: config timeout]")
	cmd.Flags().BoolVar(&f.json, "json", false, "print the whole outcome as JSON")
	cmd.Flags().BoolVar(&f.all, "all", false, "query every candidate and print each backend's results")
}

func (c *cli) searchCommand() *cobra.Command {
	flags := &searchFlags{}

	cmd := &cobra.Command{
		Use:   "search <data|documents|events> <query>",
		Short: "Search company data by name, or documents and events by identifier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			capability, err := backend.ParseCapability(args[0])
			if err != nil {
				return err
			}

			return c.withApp(cmd, func(app *App) error {
				outcome := app.Orchestrator.SearchCompanies(cmd.Context(), args[1], capability, flags.options(c.cfg))
				return printOutcome(cmd, outcome, flags.json)
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&flags.race, "race", false, "query every candidate at once and keep the first answer")
	cmd.MarkFlagsMutuallyExclusive("race", "all")
	cmd.Flags().StringVar(&flags.kind, "type", "", "document or event type filter (e.g. comptes, actes)")
	cmd.Flags().StringToStringVar(&flags.extra, "extra", nil, "backend specific options (e.g. enrich_officers=true)")

	return cmd
}

func (c *cli) codeCommand() *cobra.Command {
	flags := &searchFlags{}

	cmd := &cobra.Command{
		Use:   "code <siren|siret|rna>",
		Short: "Look a company up by SIREN, SIRET or RNA",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(app *App) error {
				outcome := app.Orchestrator.LookupCode(cmd.Context(), args[0], flags.options(c.cfg))
				return printOutcome(cmd, outcome, flags.json)
			})
		},
	}

	flags.register(cmd)

	return cmd
}

// printOutcome writes results to stdout and failures to stderr. A failed or
// empty search exits with ExitFailure.
func printOutcome(cmd *cobra.Command, outcome atlas.Outcome, asJSON bool) error {
	if err := cmd.Context().Err(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if asJSON {
		if err := writeJSON(out, outcome); err != nil {
			return err
		}

		if !outcome.OK() {
			return &ExitError{Code: ExitFailure, Err: errors.New(outcome.Error)}
		}

		return nil
	}

	if outcome.Error != "" {
		errOut := cmd.ErrOrStderr()

		fmt.Fprintf(errOut, "Error: %s\n", outcome.Error)

		for _, e := range outcome.Errors {
			fmt.Fprintf(errOut, "  - %s\n", e)
		}

		return &ExitError{Code: ExitFailure, Err: errors.New(outcome.Error)}
	}

	if len(outcome.Groups) > 0 {
		return printGroups(out, outcome.Groups)
	}

	fmt.Fprintf(out, "Backend: %s\nTotal: %d\n\n", outcome.BackendUsed, outcome.Total)

	if len(outcome.Results) == 0 {
		fmt.Fprintln(out, "No results found")
		return &ExitError{Code: ExitFailure, Err: ErrNoResults}
	}

	return writeJSON(out, outcome.Results)
}

// printGroups prints one section per backend with its response time.
func printGroups(out io.Writer, groups []atlas.Group) error {
	separator := strings.Repeat("-", 60)

	for _, group := range groups {
		fmt.Fprintf(out, "%s\n%s - %.2fs\n%s\n", separator, group.DataSource,
			float64(group.DurationMs)/1000, separator)

		switch {
		case group.Error != "":
			fmt.Fprintf(out, "Error: %s\n", group.Error)
		case group.Total == 0:
			fmt.Fprintln(out, "No results found")
		default:
			if err := writeJSON(out, group.Results); err != nil {
				return err
			}
		}
	}

	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)

	return enc.Encode(v)
}

func (c *cli) backendsCommand() *cobra.Command {
	var (
		filter     atlas.BackendFilter
		capability string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List backends with their capabilities, costs and availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if capability != "" {
				parsed, err := backend.ParseCapability(capability)
				if err != nil {
					return err
				}

				filter.Capability = parsed
			}

			o := atlas.New(c.registry, c.cfg.BackendConfig(), atlas.WithLogger(c.logger))
			statuses := o.Backends(cmd.Context(), filter)

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), statuses)
			}

			return WriteStatusTable(cmd.OutOrStdout(), statuses, 0)
		},
	}

	cmd.Flags().StringVar(&filter.CountryCode, "country-code", "", "filter by country code")
	cmd.Flags().StringVar(&filter.Continent, "continent", "", "filter by continent (e.g. europe)")
	cmd.Flags().StringVar(&capability, "capability", "", "filter by capability (data, documents, events)")
	cmd.Flags().StringVar(&filter.Search, "search", "", "filter by name")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")

	return cmd
}

func (c *cli) historyCommand() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent searches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.DSN == "" {
				return ErrHistoryDisabled
			}

			history, err := OpenHistory(cmd.Context(), c.cfg.DSN)
			if err != nil {
				return err
			}
			defer history.Close()

			entries, err := history.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}

			for _, e := range entries {
				backendUsed := e.BackendUsed
				if backendUsed == "" {
					backendUsed = "-"
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s  %-12s  %3d  %s\n",
					e.CreatedAt.Local().Format(time.DateTime), e.Capability, backendUsed, e.Total, e.Query)
			}

			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of searches to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")

	return cmd
}

func (c *cli) batchCommand() *cobra.Command {
	var (
		flags       searchFlags
		input       string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "batch <data|documents|events|code>",
		Short: "Run one search per input line and print one JSON outcome per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			capability := codeCapability
			if args[0] != string(codeCapability) {
				parsed, err := backend.ParseCapability(args[0])
				if err != nil {
					return err
				}

				capability = parsed
			}

			var r io.Reader = cmd.InOrStdin()

			if input != "" && input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return err
				}
				defer f.Close()

				r = f
			}

			queries, err := ReadQueries(r)
			if err != nil {
				return err
			}

			if concurrency <= 0 {
				concurrency = c.cfg.Concurrency
			}

			return c.withApp(cmd, func(app *App) error {
				results := RunBatch(cmd.Context(), app.Orchestrator, queries, capability, flags.options(c.cfg), concurrency)

				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetEscapeHTML(false)

				succeeded := 0

				for _, result := range results {
					if result.Outcome.OK() {
						succeeded++
					}

					if err := enc.Encode(result); err != nil {
						return err
					}
				}

				c.logger.Info(fmt.Sprintf("Batch done: %d/%d searches returned results", succeeded, len(results)))

				if err := cmd.Context().Err(); err != nil {
					return err
				}

				if succeeded == 0 && len(results) > 0 {
					return &ExitError{Code: ExitFailure, Err: ErrNoResults}
				}

				return nil
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&input, "input", "-", "file with one query per line, - for stdin")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "searches in flight [default: config concurrency]")

	return cmd
}

func (c *cli) lambdaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Serve the search handler on AWS Lambda",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(app *App) error {
				opts := []lambdaaws.HandlerOption{lambdaaws.WithTimeout(c.cfg.Timeout)}

				if c.cfg.S3Bucket != "" {
					awsCfg, err := lambdaaws.AWSConfig(cmd.Context(), c.cfg.AWSRegion, c.cfg.AWSAccessKey, c.cfg.AWSSecretKey)
					if err != nil {
						return err
					}

					opts = append(opts, lambdaaws.WithS3Upload(lambdaaws.NewS3Client(awsCfg), c.cfg.S3Bucket))
				}

				handler := lambdaaws.NewHandler(app.Orchestrator, opts...)

				lambda.StartWithOptions(handler.Handle, lambda.WithContext(cmd.Context()))

				return nil
			})
		},
	}
}

func (c *cli) invokeCommand() *cobra.Command {
	var (
		functionName string
		flags        searchFlags
	)

	cmd := &cobra.Command{
		Use:   "invoke <data|documents|events> <query>",
		Short: "Run a search on the deployed Lambda function",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := backend.ParseCapability(args[0]); err != nil {
				return err
			}

			awsCfg, err := lambdaaws.AWSConfig(cmd.Context(), c.cfg.AWSRegion, c.cfg.AWSAccessKey, c.cfg.AWSSecretKey)
			if err != nil {
				return err
			}

			outcome, err := lambdaaws.NewInvokerFromConfig(awsCfg, functionName).Invoke(cmd.Context(), lambdaaws.Input{
				Capability:  args[0],
				Query:       args[1],
				CountryCode: flags.countryCode,
				Backend:     flags.backendName,
				Raw:         flags.raw,
				Limit:       flags.limit,
			})
			if err != nil {
				return err
			}

			return printOutcome(cmd, outcome, flags.json)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&functionName, "function-name", "companyatlas", "name of the deployed function")

	return cmd
}
