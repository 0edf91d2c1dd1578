package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/LabelDrop/internal/app"
	"github.com/dharsanguruparan/LabelDrop/internal/config"
	"github.com/dharsanguruparan/LabelDrop/internal/errs"
	"github.com/dharsanguruparan/LabelDrop/internal/layout"
	"github.com/dharsanguruparan/LabelDrop/internal/logger"
	"github.com/dharsanguruparan/LabelDrop/internal/model"
	"github.com/dharsanguruparan/LabelDrop/internal/pipeline"
	"github.com/dharsanguruparan/LabelDrop/internal/scanner"
	"github.com/dharsanguruparan/LabelDrop/internal/trustcode"
)

type generateOptions struct {
	items, codes         string
	itemsKind, codesKind string
	layout, size         string
	mode, numbering      string
	owner                string
	out                  string
	dsn                  string
	preview              bool
}

func newGenerateCmd() *cobra.Command {
	var opts generateOptions
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Render a label PDF from an items document and a codes document",
		Long: `generate pairs item i with code i, checks every code and matrix size, and writes
one PDF page per label. Codes are recorded as used in the in-memory ledger, or in
PostgreSQL with --dsn, so a code printed once is refused afterwards.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.items, "items", "", "Items document (PDF, CSV or XLSX)")
	f.StringVar(&opts.codes, "codes", "", "Codes document (TXT, CSV, XLSX or PDF with DataMatrix images)")
	f.StringVar(&opts.itemsKind, "items-kind", "", "Override the items document kind")
	f.StringVar(&opts.codesKind, "codes-kind", "", "Override the codes document kind")
	f.StringVar(&opts.layout, "layout", "", "Template layout (default from LABELDROP_DEFAULT_LAYOUT)")
	f.StringVar(&opts.size, "size", "", "Label size (default from LABELDROP_DEFAULT_SIZE)")
	f.StringVar(&opts.mode, "mode", "", "strict or partial")
	f.StringVar(&opts.numbering, "numbering", "", "none, local or global")
	f.StringVar(&opts.owner, "owner", "local", "Owner the codes and serial numbers are recorded for")
	f.StringVarP(&opts.out, "out", "o", "labels.pdf", "Output PDF path")
	f.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN for the code ledger and serial counter")
	f.BoolVar(&opts.preview, "preview", false, "Only scan, pair and check; write nothing")
	_ = cmd.MarkFlagRequired("items")
	_ = cmd.MarkFlagRequired("codes")
	return cmd
}

func runGenerate(cmd *cobra.Command, opts generateOptions) error {
	ctx := cmd.Context()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.dsn != "" {
		cfg.DatabaseURL = opts.dsn
		cfg.LedgerBackend = "postgres"
		cfg.CounterBackend = "postgres"
	}
	req := pipeline.Request{
		OwnerID:   opts.owner,
		Layout:    orDefault(opts.layout, cfg.DefaultLayout),
		Size:      orDefault(opts.size, cfg.DefaultSize),
		Mode:      model.BatchMode(strings.ToLower(orDefault(opts.mode, string(cfg.BatchMode)))),
		Numbering: model.Numbering(strings.ToLower(orDefault(opts.numbering, string(cfg.Numbering)))),
	}
	if req.Items, err = readDocument(opts.items, opts.itemsKind); err != nil {
		return err
	}
	if req.Codes, err = readDocument(opts.codes, opts.codesKind); err != nil {
		return err
	}

	log, err := logger.New("development")
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, log, "labeldrop-cli")
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	w := cmd.OutOrStdout()
	if opts.preview {
		res, err := a.Pipeline.Preview(ctx, req)
		if err != nil {
			return describe(err)
		}
		printReport(w, res)
		return nil
	}
	res, err := a.Pipeline.Generate(ctx, req)
	if err != nil {
		return describe(err)
	}
	if err := os.WriteFile(opts.out, res.Document, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	printReport(w, res)
	fmt.Fprintf(w, "wrote %d pages to %s\n", res.Pages, opts.out)
	return nil
}

func readDocument(path, kind string) (scanner.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return scanner.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	k, err := scanner.KindOf(kind, path, data)
	if err != nil {
		return scanner.Document{}, fmt.Errorf("%s: %w", path, err)
	}
	return scanner.Document{Name: path, Kind: k, Data: data}, nil
}

func printReport(w io.Writer, res *pipeline.Result) {
	fmt.Fprintf(w, "template %s/%s: %d labels, %d skipped\n",
		res.Template.Layout, res.Template.Size, len(res.Labels), len(res.Skipped))
	if len(res.Skipped) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tKIND\tSOURCE\tMESSAGE")
	for _, f := range res.Skipped {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", f.Index+1, f.Kind, source(f.Source), f.Message)
	}
	_ = tw.Flush()
}

func source(s model.Source) string {
	switch {
	case s.Page > 0:
		return fmt.Sprintf("page %d", s.Page)
	case s.Row > 0:
		return fmt.Sprintf("row %d", s.Row)
	}
	return "-"
}

// describe prefixes the stable kind so scripts can match on it.
func describe(err error) error {
	return fmt.Errorf("[%s] %w", errs.Kind(err), err)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func newTemplatesCmd() *cobra.Command {
	var file string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Print the template registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry(file)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(reg.Describe())
			}
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LAYOUT\tSIZE\tZONES")
			for _, l := range reg.Layouts() {
				for _, s := range reg.Sizes(l) {
					tpl, err := reg.Resolve(l, s)
					if err != nil {
						return err
					}
					names := make([]string, 0, len(tpl.Zones))
					for _, z := range tpl.Zones {
						names = append(names, z.Name)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", l, s, strings.Join(names, ","))
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&file, "file", os.Getenv("LABELDROP_TEMPLATES_FILE"), "Registry YAML (built-in registry when empty)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print zone geometry as JSON")
	return cmd
}

func loadRegistry(file string) (*layout.Registry, error) {
	if file == "" {
		return layout.Default()
	}
	return layout.LoadFile(file)
}

func newCheckCodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-code CODE...",
		Short: "Validate trust codes and print their ledger digest",
		Long: `check-code parses each argument as a trust code ("-" reads one code per line
from stdin) and prints its GTIN, masked serial and SHA-256 ledger digest.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codes := args
			if len(args) == 1 && args[0] == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				codes = strings.Split(strings.TrimSpace(string(data)), "\n")
			}
			w := cmd.OutOrStdout()
			bad := 0
			for _, raw := range codes {
				tc, err := trustcode.Parse(raw)
				if err != nil {
					bad++
					fmt.Fprintf(w, "INVALID\t%v\n", err)
					continue
				}
				fmt.Fprintf(w, "OK\t%s\t%s\t%s\n", tc.GTIN, trustcode.Mask(tc.Raw), trustcode.Digest(tc.Raw))
			}
			if bad > 0 {
				return fmt.Errorf("%d of %d codes invalid", bad, len(codes))
			}
			return nil
		},
	}
}
