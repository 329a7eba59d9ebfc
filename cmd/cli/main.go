package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dvloznov/journal-classifier/internal/app"
	"github.com/dvloznov/journal-classifier/internal/classifier"
	"github.com/dvloznov/journal-classifier/internal/config"
	"github.com/dvloznov/journal-classifier/internal/export"
	"github.com/dvloznov/journal-classifier/internal/gcs"
	infraBQ "github.com/dvloznov/journal-classifier/internal/infra/bigquery"
	"github.com/dvloznov/journal-classifier/internal/logger"
	"github.com/dvloznov/journal-classifier/internal/masters"
	"github.com/dvloznov/journal-classifier/internal/pipeline"
	"github.com/dvloznov/journal-classifier/internal/store/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)

	switch os.Args[1] {
	case "classify":
		runClassify(cfg, log)
	case "validate":
		runValidate(log)
	case "masters":
		runMasters(cfg, log)
	case "entries":
		runEntries(cfg, log)
	case "audits":
		runAudits(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Journal Classifier CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  classify  Classify a JSON payload and write the MoneyForward journal CSV")
	fmt.Println("  validate  Check a JSON payload for rows the import would reject")
	fmt.Println("  masters   Show the account and vendor catalogs")
	fmt.Println("  entries   List stored ledger entries for a tenant")
	fmt.Println("  audits    List recent prediction audit rows for a tenant")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func runClassify(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("classify", flag.ExitOnError)
	inPath := fs.String("in", "", "Path to the JSON payload")
	outPath := fs.String("out", "", "Path of the CSV to write (defaults to <in>.csv)")
	encName := fs.String("encoding", export.EncodingCP932, "CSV encoding: cp932 or utf8bom")
	xlsxPath := fs.String("xlsx", "", "Also write an XLSX workbook to this path")
	tenant := fs.String("tenant", "", "Tenant ID used for key lookup and persistence")
	persist := fs.Bool("persist", false, "Save predictions and entries to DATABASE_URL")
	upload := fs.Bool("upload", false, "Upload the CSV to EXPORT_BUCKET")
	offline := fs.Bool("offline", false, "Assign direction default accounts without calling the model")
	fs.Parse(os.Args[2:])

	if *inPath == "" {
		log.Fatal().Msg("Usage: cli classify -in FILE [-out FILE]")
	}
	enc, err := export.ParseEncoding(*encName)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -encoding")
	}
	if *outPath == "" {
		*outPath = *inPath + ".csv"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	in, err := readInput(*inPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read input")
	}
	in.TenantID = *tenant
	in.Persist = *persist

	deps := pipeline.Deps{
		ResolveClassifier: app.NewClassifierResolver(cfg, nil).Resolve,
		Catalogs:          app.Catalogs(catalogSource(ctx, cfg, log)),
	}
	if *offline {
		deps.Classifier = classifier.FallbackClassifier{}
	}
	if *persist {
		pool := openPool(ctx, cfg, log)
		defer pool.Close()
		deps.Persister = postgres.New(pool)
	}

	res, err := pipeline.NewRunner(deps).Run(ctx, in)
	if err != nil {
		log.Fatal().Err(err).Msg("Classification failed")
	}
	for _, msg := range res.Errors {
		log.Warn().Str("detail", msg).Msg("Pipeline reported an error")
	}
	if !res.HasCSV {
		log.Fatal().Int("transactions", len(res.Transactions)).Msg("No CSV produced")
	}

	data, err := export.Encode(res.CSV, enc)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to encode CSV")
	}
	if err := os.WriteFile(*outPath, data, 0o644); err != nil {
		log.Fatal().Err(err).Msg("Failed to write CSV")
	}

	if *xlsxPath != "" {
		book, err := export.XLSX(export.Rows(res.Transactions))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to render XLSX")
		}
		if err := os.WriteFile(*xlsxPath, book, 0o644); err != nil {
			log.Fatal().Err(err).Msg("Failed to write XLSX")
		}
	}

	if *upload {
		if cfg.Export.Bucket == "" {
			log.Fatal().Msg("EXPORT_BUCKET is required for -upload")
		}
		client, err := gcs.NewClient(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create GCS client")
		}
		defer client.Close()

		object := path.Join("exports", time.Now().UTC().Format("2006/01/02"), filepath.Base(*outPath))
		uri, err := client.UploadBytes(ctx, cfg.Export.Bucket, object, "text/csv", data)
		if err != nil {
			log.Fatal().Err(err).Msg("Upload failed")
		}
		fmt.Printf("Uploaded %s\n", uri)
	}

	fmt.Printf("Wrote %d transactions to %s (%s)\n", len(res.Transactions), *outPath, enc)
	if in.Persist {
		fmt.Printf("Persisted %d entries\n", res.PersistedCount)
	}
}

func runValidate(log zerolog.Logger) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	inPath := fs.String("in", "", "Path to the JSON payload")
	fs.Parse(os.Args[2:])

	if *inPath == "" {
		log.Fatal().Msg("Usage: cli validate -in FILE")
	}

	in, err := readInput(*inPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read input")
	}

	batch := pipeline.Resolve(in)
	msgs := export.Validate(batch.Transactions)
	fmt.Printf("%d transactions\n", batch.Len())
	for _, m := range msgs {
		fmt.Println("  " + m)
	}
	if len(msgs) > 0 {
		os.Exit(1)
	}
	fmt.Println("OK")
}

func runMasters(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("masters", flag.ExitOnError)
	dir := fs.String("dir", "", "Catalog directory (overrides MASTERS_DIR)")
	all := fs.Bool("all", false, "Include inactive vendors")
	fs.Parse(os.Args[2:])

	if *dir != "" {
		cfg.Masters.Dir = *dir
		cfg.Masters.GCSPrefix = ""
	}

	ctx := logger.WithContext(context.Background(), log)
	cat, err := masters.Load(ctx, catalogSource(ctx, cfg, log), masters.Options{ActiveVendorsOnly: !*all})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load catalogs")
	}

	fmt.Printf("\n=== Accounts (%d) ===\n", len(cat.Accounts))
	for _, a := range cat.Accounts {
		fmt.Printf("  %-8s %s (%s)\n", a.Code, a.Name, a.Kind())
	}
	fmt.Printf("\n=== Vendors (%d) ===\n", len(cat.Vendors))
	for _, v := range cat.Vendors {
		fmt.Printf("  %-8s %s\n", v.Code, v.Name)
	}
	fmt.Println()
}

func runEntries(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("entries", flag.ExitOnError)
	tenant := fs.String("tenant", "", "Tenant ID")
	limit := fs.Int("limit", 20, "Maximum number of entries")
	fs.Parse(os.Args[2:])

	if *tenant == "" {
		log.Fatal().Msg("Error: -tenant is required")
	}

	ctx := logger.WithContext(context.Background(), log)
	pool := openPool(ctx, cfg, log)
	defer pool.Close()

	entries, err := postgres.New(pool).ListEntries(ctx, *tenant, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list entries")
	}

	fmt.Printf("\n=== Entries (%d) ===\n", len(entries))
	for i, e := range entries {
		amount := e.ExpenseAmount
		if amount == nil {
			amount = e.IncomeAmount
		}
		fmt.Printf("\n%d. %s %s\n", i+1, e.TransactionDate.Format("2006-01-02"), e.AccountSubject)
		fmt.Printf("   ID:       %s\n", e.ID)
		fmt.Printf("   Type:     %s\n", e.TransactionType)
		if amount != nil {
			fmt.Printf("   Amount:   %s\n", amount.String())
		}
		if e.Vendor != "" {
			fmt.Printf("   Vendor:   %s\n", e.Vendor)
		}
		fmt.Printf("   Exported: %t\n", e.CSVExported)
	}
	fmt.Println()
}

func runAudits(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("audits", flag.ExitOnError)
	tenant := fs.String("tenant", "", "Tenant ID")
	limit := fs.Int("limit", 20, "Maximum number of rows")
	fs.Parse(os.Args[2:])

	if *tenant == "" {
		log.Fatal().Msg("Error: -tenant is required")
	}
	if !cfg.Audit.Enabled() {
		log.Fatal().Msg("BIGQUERY_PROJECT and BIGQUERY_DATASET are required")
	}

	ctx := logger.WithContext(context.Background(), log)
	repo, err := infraBQ.NewPredictionAuditRepository(ctx, cfg.Audit.Project, cfg.Audit.Dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create audit repository")
	}
	defer repo.Close()

	rows, err := repo.ListRecentPredictionAudits(ctx, *tenant, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list audit rows")
	}

	fmt.Printf("\n=== Predictions (%d) ===\n", len(rows))
	for i, r := range rows {
		fmt.Printf("\n%d. %s (%.2f)\n", i+1, r.PredictedAccount, r.Confidence)
		fmt.Printf("   ID:    %s\n", r.PredictionID)
		fmt.Printf("   Model: %s\n", r.ModelName)
		if r.CreatedTS.Valid {
			fmt.Printf("   At:    %s\n", r.CreatedTS.Timestamp.Format(time.RFC3339))
		}
	}
	fmt.Println()
}

func catalogSource(ctx context.Context, cfg *config.Config, log zerolog.Logger) masters.Source {
	if cfg.Masters.GCSPrefix == "" {
		return app.CatalogSource(cfg.Masters, nil)
	}
	// The client lives for the whole command.
	client, err := gcs.NewClient(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create GCS client")
	}
	return app.CatalogSource(cfg.Masters, client)
}

func openPool(ctx context.Context, cfg *config.Config, log zerolog.Logger) *pgxpool.Pool {
	if cfg.Database.DSN == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}
	pool, err := postgres.Open(ctx, postgres.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		DialTimeout:     cfg.Database.DialTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	return pool
}
