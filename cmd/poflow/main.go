package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"poflow/internal"
	"poflow/internal/app"
	"poflow/internal/config"
	"poflow/internal/convert"
	"poflow/internal/extract"
	"poflow/internal/logging"
	"poflow/internal/pipeline"
	"poflow/internal/potemplate"
	"poflow/internal/storage"
	"poflow/internal/validate"
)

func main() {
	cfg, err := config.Load()
	must(err)
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx := context.Background()
	cmd := os.Args[1]
	switch cmd {
	case "process":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "PO template workbook")
		pdf := fs.Bool("pdf", true, "generate a PDF of the output sheets")
		to := fs.String("to", "", "comma separated recipients; sends mail when set")
		subject := fs.String("subject", "", "mail subject")
		message := fs.String("message", "", "additional message for the mail body")
		actor := fs.String("actor", "cli", "identity recorded on saved orders")
		callCtx := fs.String("context", config.DefaultContext, "required-field context from the profile")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}

		a, err := app.New(ctx, cfg, nil)
		must(err)
		defer a.Close()

		recipients := splitList(*to)
		res := a.Pipeline.Process(ctx, *file, pipeline.Options{
			Actor:       *actor,
			FileName:    filepath.Base(*file),
			Context:     *callCtx,
			GeneratePDF: *pdf,
			SendEmail:   len(recipients) > 0,
			IsDraft:     true,
			KeepUpload:  true,
			Email:       pipeline.EmailOptions{To: recipients, Subject: *subject, AdditionalMessage: *message},
		})
		printJSON(res)
		if !res.Success {
			os.Exit(2)
		}
	case "validate":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "PO template workbook")
		report := fs.String("report", "", "write the findings to this xlsx")
		callCtx := fs.String("context", config.DefaultContext, "required-field context from the profile")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		res := validate.File(*file, validate.DeepOptions{
			Required:     cfg.Profile.RequiredFields(*callCtx),
			OutputSheets: cfg.Profile.OutputSheets,
		})
		if *report != "" {
			must(validate.ExportReport(res, *report))
		}
		printJSON(res)
		if !res.Valid {
			os.Exit(2)
		}
	case "extract":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "PO template workbook")
		out := fs.String("out", "", "output xlsx path (default OUTPUT_DIR/extracted-<ms>.xlsx)")
		sheets := fs.String("sheets", strings.Join(cfg.Profile.OutputSheets, ","), "comma separated sheet names")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		res, err := extract.New(cfg.OutputDir).Extract(*file, splitList(*sheets), *out)
		must(err)
		fmt.Printf("extracted sheets=%s missing=%s output=%s\n", strings.Join(res.ExtractedSheets, ","), strings.Join(res.MissingSheets, ","), res.OutputPath)
	case "convert":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "extracted xlsx")
		out := fs.String("out", "", "output pdf path")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" || strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--file and --out are required"))
		}
		conv, err := convert.New(cfg.PDFFontFile, nil)
		must(err)
		res, err := conv.Convert(*file, *out)
		must(err)
		fmt.Printf("converted pages=%d output=%s\n", res.Pages, res.PDFPath)
	case "template":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		out := fs.String("out", "po-template.xlsx", "output xlsx path")
		_ = fs.Parse(os.Args[2:])
		f, err := potemplate.NewWorkbook(nil, cfg.Profile.OutputSheets...)
		must(err)
		defer f.Close()
		must(f.SaveAs(*out))
		fmt.Printf("template written to %s\n", *out)
	case "registry:sync":
		must(cfg.Require("REGISTRY_API_BASE_URL", cfg.RegistryAPIBaseURL))
		a, err := app.New(ctx, cfg, nil)
		must(err)
		defer a.Close()
		n, err := a.Syncer.Sync(ctx)
		must(err)
		fmt.Printf("registry sync complete backend=%s written=%d\n", a.Gateway.Backend(), n)
	case "migrate":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		_ = fs.Parse(os.Args[2:])
		direction := fs.Arg(0)
		if direction == "" {
			direction = "up"
		}
		must(cfg.Require("DATABASE_URL", cfg.DatabaseURL))
		db, err := storage.OpenSQL(ctx, cfg.DatabaseURL)
		must(err)
		defer db.Close()
		conn, dialect := db.SQLConn()
		switch direction {
		case "up":
			must(storage.Migrate(conn, dialect))
		case "down":
			must(storage.MigrateDown(conn, dialect))
		case "version":
		default:
			must(fmt.Errorf("unknown migrate direction %q", direction))
		}
		v, dirty, err := storage.MigrationVersion(conn, dialect)
		must(err)
		fmt.Printf("schema version=%d dirty=%t dialect=%s\n", v, dirty, dialect)
	case "vendors":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		kind := fs.String("kind", string(internal.KindVendor), "거래처|납품처")
		_ = fs.Parse(os.Args[2:])
		a, err := app.New(ctx, cfg, nil)
		must(err)
		defer a.Close()
		vendors, err := a.Gateway.ListVendors(ctx, internal.PartyKind(*kind))
		must(err)
		printJSON(vendors)
	default:
		usage()
		os.Exit(1)
	}
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	must(enc.Encode(v))
}

func usage() {
	fmt.Println("usage: poflow <command>")
	fmt.Println("commands:")
	fmt.Println("  process --file=po.xlsx [--pdf=true] [--to=a@x.com,b@x.com] [--subject=...] [--actor=cli]")
	fmt.Println("  validate --file=po.xlsx [--report=findings.xlsx] [--context=default]")
	fmt.Println("  extract --file=po.xlsx [--out=extracted.xlsx] [--sheets=갑지,을지]")
	fmt.Println("  convert --file=extracted.xlsx --out=po.pdf")
	fmt.Println("  template [--out=po-template.xlsx]")
	fmt.Println("  registry:sync")
	fmt.Println("  migrate [up|down|version]")
	fmt.Println("  vendors [--kind=거래처|납품처]")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
