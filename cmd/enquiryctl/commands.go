package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"enquiry-workers/internal/common/config"
	"enquiry-workers/internal/common/filestore"
	"enquiry-workers/internal/common/logger"
	"enquiry-workers/internal/common/sheets"
	"enquiry-workers/internal/enquiry"
	ci "enquiry-workers/internal/workers/enquiry/complete-indent"
	gi "enquiry-workers/internal/workers/enquiry/generate-identifiers"
	sb "enquiry-workers/internal/workers/enquiry/submit"
	"enquiry-workers/pkg/registry"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// cliSession scopes snapshot reads of one invocation.
const cliSession = "enquiryctl"

type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	log    logger.Logger
	sheets *sheets.Client
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "enquiryctl",
		Short:         "Operate the candidate enquiry tables from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a config file (default: configs/config.yaml lookup)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level written to stderr")

	root.AddCommand(a.nextIDsCmd(), a.submitCmd(), a.completeIndentCmd(), a.exportCmd(), a.registryCmd())
	return root
}

// connect loads configuration and builds the table service client.
func (a *app) connect() error {
	var err error
	if a.configPath != "" {
		a.cfg, err = config.LoadFromFile(a.configPath)
	} else {
		a.cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	a.log = logger.NewZapAdapter(logger.NewWithOutput(a.logLevel, "console", "stderr"))
	a.sheets = sheets.NewClient(sheets.Config{
		BaseURL:   a.cfg.Sheets.BaseURL,
		Timeout:   a.cfg.SheetsTimeout(),
		HeaderRow: a.cfg.Sheets.HeaderRow,
	}, a.log)
	return nil
}

func (a *app) reconciler() (*enquiry.Reconciler, error) {
	loc, err := time.LoadLocation(a.cfg.Sheets.Location)
	if err != nil {
		return nil, err
	}
	return enquiry.NewReconciler(a.sheets, loc, a.log), nil
}

func (a *app) nextIDsCmd() *cobra.Command {
	var indent string
	cmd := &cobra.Command{
		Use:   "next-ids",
		Short: "Print the next candidate enquiry number and requisition number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.connect(); err != nil {
				return err
			}
			h, err := gi.NewHandler(gi.HandlerOptions{
				CustomConfig: gi.DefaultConfig(),
				Fetcher:      a.sheets,
				Logger:       a.log,
			})
			if err != nil {
				return err
			}
			out, err := h.Execute(cmd.Context(), &gi.Input{SessionID: cliSession, IndentNumber: indent})
			if err != nil {
				return enquiry.ToStandardError(gi.TaskType, err)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&indent, "indent", "", "existing requisition number to look up")
	return cmd
}

func (a *app) submitCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Record a candidate enquiry from a JSON submission file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			input, err := decodeSubmission(data)
			if err != nil {
				return err
			}
			if err := a.connect(); err != nil {
				return err
			}

			reconciler, err := a.reconciler()
			if err != nil {
				return err
			}
			files, err := filestore.New(cmd.Context(), a.cfg.FileStore, a.sheets)
			if err != nil {
				return err
			}
			saga := enquiry.NewSaga(reconciler, files, enquiry.NewMemoryJournal(), a.log)

			h, err := sb.NewHandler(sb.HandlerOptions{
				CustomConfig: sb.DefaultConfig(),
				Saga:         saga,
				Fetcher:      a.sheets,
				Logger:       a.log,
			})
			if err != nil {
				return err
			}
			out, err := h.Execute(cmd.Context(), input)
			if err != nil {
				return enquiry.ToStandardError(sb.TaskType, err)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "submission JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// decodeSubmission applies the same schema the submit worker enforces.
func decodeSubmission(data []byte) (*sb.Input, error) {
	result, err := registry.ValidateVariables(registry.TaskSubmit, data)
	if err != nil {
		return nil, fmt.Errorf("parse submission: %w", err)
	}
	if !result.Valid {
		return nil, fmt.Errorf("invalid submission: %v", result.GetErrorMessages())
	}

	var input sb.Input
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("parse submission: %w", err)
	}
	if input.ID == "" {
		input.ID = uuid.New().String()
	}
	if input.SessionID == "" {
		input.SessionID = cliSession
	}
	return &input, nil
}

func (a *app) completeIndentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete-indent <indent-number>",
		Short: "Mark a requisition complete and stamp its Actual 2 column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.connect(); err != nil {
				return err
			}
			reconciler, err := a.reconciler()
			if err != nil {
				return err
			}
			h, err := ci.NewHandler(ci.HandlerOptions{
				CustomConfig: ci.DefaultConfig(),
				Reconciler:   reconciler,
				Logger:       a.log,
			})
			if err != nil {
				return err
			}
			out, err := h.Execute(cmd.Context(), &ci.Input{IndentNumber: args[0]})
			if err != nil {
				return enquiry.ToStandardError(ci.TaskType, err)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	var (
		out    string
		tables []string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download tables into an .xlsx workbook, one worksheet per table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.connect(); err != nil {
				return err
			}

			fetched := make([]*sheets.Table, 0, len(tables))
			for _, name := range tables {
				t, err := a.sheets.Fetch(cmd.Context(), name)
				if err != nil {
					return fmt.Errorf("fetch %s: %w", name, err)
				}
				fetched = append(fetched, t)
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := sheets.WriteWorkbook(f, fetched...); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d tables to %s\n", len(fetched), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "enquiries.xlsx", "output workbook")
	cmd.Flags().StringSliceVar(&tables, "table", []string{sheets.TableEnquiry, sheets.TableIndent}, "tables to export")
	return cmd
}

func (a *app) registryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Export or validate the activity registry",
	}

	var exportPath string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the built-in activity registry as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := registry.Default()
			if err := reg.Validate(); err != nil {
				return err
			}
			if err := reg.Save(exportPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d activities to %s\n", len(reg.Activities), exportPath)
			return nil
		},
	}
	export.Flags().StringVar(&exportPath, "path", "configs/activity-registry.json", "output file")

	var validatePath string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate a registry file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := registry.LoadRegistry(validatePath)
			if err != nil {
				return fmt.Errorf("load registry: %w", err)
			}
			if err := reg.Validate(); err != nil {
				return err
			}
			if missing := reg.Missing(); len(missing) > 0 {
				return fmt.Errorf("registry %s does not list %s", validatePath, strings.Join(missing, ", "))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registry %s is valid (%d activities)\n", validatePath, len(reg.Activities))
			return nil
		},
	}
	validate.Flags().StringVar(&validatePath, "path", "configs/activity-registry.json", "registry file")

	cmd.AddCommand(export, validate)
	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
