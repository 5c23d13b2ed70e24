package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"billing/internal/cli"
	"billing/internal/console"
	"billing/internal/core"
	"billing/internal/currency"
	"billing/internal/export"
	applog "billing/internal/log"
	"billing/internal/memory"
	"billing/internal/services"
)

type globalFlags struct {
	snapshot string
	output   string
	outDir   string
	locale   string
	verbose  bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "billctl",
		Short:         "Aggregate billable work and compute invoice lines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&flags.snapshot, "snapshot", "s", "", "YAML or JSON snapshot of clients, projects, employees and work entries")
	pf.StringVarP(&flags.output, "output", "o", "table", "Output format: table, json or csv")
	pf.StringVarP(&flags.outDir, "dir", "d", "", "Write json/csv output to a timestamped file in this directory")
	pf.StringVar(&flags.locale, "locale", "en", "Locale used to format amounts in tables")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Log debug output to stderr")

	root.AddCommand(
		newAggregateCmd(flags),
		newLineItemsCmd(flags),
		newComputeCmd(flags),
		newImportCmd(flags),
	)
	return root
}

// env is what every subcommand needs once flags are parsed.
type env struct {
	format  export.Format
	console *console.Console
	logger  *applog.Logger
	out     io.Writer
	outDir  string
}

func (f *globalFlags) env(cmd *cobra.Command) (*env, error) {
	format, err := export.ParseFormat(f.output)
	if err != nil {
		return nil, err
	}
	formatter, err := currency.NewFormatter(f.locale)
	if err != nil {
		return nil, err
	}
	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := applog.New(applog.Config{
		Level:     level,
		Component: applog.ComponentCLI,
		Output:    cmd.ErrOrStderr(),
	})
	return &env{
		format:  format,
		console: console.New(cmd.OutOrStdout(), formatter),
		logger:  logger,
		out:     cmd.OutOrStdout(),
		outDir:  f.outDir,
	}, nil
}

// billingService opens the snapshot in memory behind a BillingService.
func (f *globalFlags) billingService(e *env, taxRate decimal.Decimal) (*services.BillingService, error) {
	if f.snapshot == "" {
		return nil, fmt.Errorf("--snapshot is required")
	}
	store, err := memory.NewFromFile(f.snapshot)
	if err != nil {
		return nil, err
	}
	return services.NewBillingService(store, nil, services.BillingConfig{DefaultTaxRate: taxRate}, e.logger), nil
}

// emit renders v as JSON or hands off to the csv writer, to a file when
// --dir is set.
func (e *env) emit(base string, v any, csvWriter func(io.Writer) error) error {
	write := func(w io.Writer) error {
		if e.format == export.FormatCSV {
			return csvWriter(w)
		}
		return export.JSON(w, v)
	}
	if e.outDir == "" {
		return write(e.out)
	}
	path, err := export.ToFile(e.outDir, base, e.format, write)
	if err != nil {
		return err
	}
	e.console.Success("Wrote %s", path)
	return nil
}

type periodFlags struct {
	client string
	start  string
	end    string
}

func (p *periodFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&p.client, "client", "c", "", "Client ID")
	cmd.Flags().StringVar(&p.start, "start", "", "Period start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&p.end, "end", "", "Period end (YYYY-MM-DD), inclusive")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
}

func (p *periodFlags) period() (core.Period, error) {
	start, err := core.ParseDate(p.start)
	if err != nil {
		return core.Period{}, fmt.Errorf("--start: %w", err)
	}
	end, err := core.ParseDate(p.end)
	if err != nil {
		return core.Period{}, fmt.Errorf("--end: %w", err)
	}
	return core.NewPeriod(start, end)
}

func newAggregateCmd(flags *globalFlags) *cobra.Command {
	pf := &periodFlags{}
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Show billable hours and amounts per project and employee",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := flags.env(cmd)
			if err != nil {
				return err
			}
			period, err := pf.period()
			if err != nil {
				return err
			}
			svc, err := flags.billingService(e, decimal.Zero)
			if err != nil {
				return err
			}
			data, err := svc.Preview(cmd.Context(), pf.client, period)
			if err != nil {
				return err
			}
			if e.format == export.FormatTable {
				return e.console.Aggregate(data)
			}
			return e.emit("aggregate-"+pf.client, data, func(w io.Writer) error {
				return export.AggregateCSV(w, data)
			})
		},
	}
	pf.register(cmd)
	return cmd
}

func newLineItemsCmd(flags *globalFlags) *cobra.Command {
	pf := &periodFlags{}
	var (
		taxRate string
		pairs   []string
	)
	cmd := &cobra.Command{
		Use:   "line-items",
		Short: "Turn selected project/employee pairs into invoice lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := flags.env(cmd)
			if err != nil {
				return err
			}
			period, err := pf.period()
			if err != nil {
				return err
			}
			rate, err := core.ParseAmount(taxRate)
			if err != nil {
				return fmt.Errorf("--tax-rate: %w", err)
			}
			selection, err := parsePairs(pairs)
			if err != nil {
				return err
			}
			svc, err := flags.billingService(e, rate)
			if err != nil {
				return err
			}
			draft, err := svc.DraftLineItems(cmd.Context(), pf.client, period, selection, nil)
			if err != nil {
				return err
			}
			code := draft.Data.Currency
			if e.format == export.FormatTable {
				return e.console.LineItems(draft.Lines, draft.Totals, code)
			}
			return e.emit("line-items-"+pf.client, lineItemsOutput{Lines: draft.Lines, Totals: draft.Totals, Currency: code},
				func(w io.Writer) error { return export.LineItemsCSV(w, draft.Lines, draft.Totals, code) })
		},
	}
	pf.register(cmd)
	cmd.Flags().StringVar(&taxRate, "tax-rate", "0", "Tax rate percent applied to every line (0-100)")
	cmd.Flags().StringArrayVar(&pairs, "pair", nil, "Bill only PROJECT_ID:EMPLOYEE_ID (repeatable); default is every pair")
	return cmd
}

type lineItemsOutput struct {
	Lines    []core.LineItem    `json:"lines"`
	Totals   core.InvoiceTotals `json:"totals"`
	Currency string             `json:"currency,omitempty"`
}

// parsePairs returns nil, meaning every pair, when no --pair was given.
func parsePairs(raw []string) (core.Selection, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	keys := make([]core.PairKey, 0, len(raw))
	for _, r := range raw {
		project, employee, ok := strings.Cut(r, ":")
		if !ok || project == "" || employee == "" {
			return nil, fmt.Errorf("invalid --pair %q: want PROJECT_ID:EMPLOYEE_ID", r)
		}
		keys = append(keys, core.PairKey{ProjectID: project, EmployeeID: employee})
	}
	return core.NewSelection(keys...), nil
}

type itemInput struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
}

func newComputeCmd(flags *globalFlags) *cobra.Command {
	var (
		itemsPath string
		code      string
	)
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Compute amounts, tax and totals for manually entered lines",
		Long:  "Reads a JSON array of {description, quantity, unit_price, tax_rate} from --items or stdin.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := flags.env(cmd)
			if err != nil {
				return err
			}
			var in io.Reader = cmd.InOrStdin()
			if itemsPath != "" && itemsPath != "-" {
				f, err := os.Open(itemsPath)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			var items []itemInput
			if err := json.NewDecoder(in).Decode(&items); err != nil {
				return fmt.Errorf("decode items: %w", err)
			}
			inputs := make([]services.LineItemInput, 0, len(items))
			for _, it := range items {
				inputs = append(inputs, services.LineItemInput(it))
			}

			svc := services.NewBillingService(nil, nil, services.BillingConfig{}, e.logger)
			batch := svc.ComputeLineItems(inputs)
			if e.format == export.FormatTable {
				if err := e.console.Batch(batch, code); err != nil {
					return err
				}
			} else if err := e.emit("compute", batch, func(w io.Writer) error {
				return export.LineItemsCSV(w, batch.Items, batch.Totals, code)
			}); err != nil {
				return err
			}
			if !batch.Valid {
				return fmt.Errorf("%d invalid items", len(batch.Errors))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&itemsPath, "items", "i", "-", "JSON file with line items, - for stdin")
	cmd.Flags().StringVar(&code, "currency", "", "ISO 4217 code used to round and format amounts")
	return cmd
}

func newImportCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Load a snapshot into the backend selected by DATA_BACKEND",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := flags.env(cmd)
			if err != nil {
				return err
			}
			if flags.snapshot == "" {
				return fmt.Errorf("--snapshot is required")
			}
			snap, err := memory.LoadSnapshot(flags.snapshot)
			if err != nil {
				return err
			}
			cli.LoadEnvFile()
			cfg, err := cli.LoadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			res, err := cli.OpenStore(ctx, cfg, e.logger)
			if err != nil {
				return err
			}
			defer res.Cleanup()

			if err := res.Store.Import(ctx, snap); err != nil {
				return fmt.Errorf("import: %w", err)
			}
			e.console.Success("Imported %d clients, %d projects, %d employees, %d work entries into %s",
				len(snap.Clients), len(snap.Projects), len(snap.Employees), len(snap.WorkEntries), cfg.DataBackend)
			return nil
		},
	}
}
