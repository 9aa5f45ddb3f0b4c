package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sort"
	"text/tabwriter"
	"time"

	"gae-orchestrator/internal/bootstrap"
	"gae-orchestrator/internal/engine"
	"gae-orchestrator/internal/results"
	"gae-orchestrator/internal/shared/config"
	"gae-orchestrator/internal/shared/storage/db"
	"gae-orchestrator/internal/shared/storage/object"
	"gae-orchestrator/internal/shared/util"
	"gae-orchestrator/internal/workflow"
)

func newFlagSet(env *cliEnv, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	return fs
}

func runCmd(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet(env, "run")
	file := fs.String("f", "", "batch file (yaml or json)")
	historyKey := fs.String("history", env.cfg.HistoryKey, "object key for the history document; empty disables")
	listen := fs.String("listen", "", "serve the run ledger API on this address while running")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("-f is required")
	}

	configs, err := workflow.LoadBatchFile(*file)
	if err != nil {
		return err
	}
	app, err := bootstrap.Build(ctx, env.cfg, db.DefaultCLIOptions())
	if err != nil {
		return err
	}
	defer app.Close()

	if *listen != "" {
		srv := &http.Server{Addr: *listen, Handler: app.Router}
		go func() {
			log.Printf("serving run ledger on %s (%s)", *listen, app.Ledger)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("ledger server error: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	out := app.Orchestrator.RunBatch(ctx, configs)
	for _, res := range out {
		fmt.Fprintln(env.stdout, workflow.FormatSummary(res))
	}
	s := workflow.Summarize(out)
	fmt.Fprintf(env.stdout, "Batch: %d/%d completed, %d failed, %.1fs, $%.4f\n",
		s.Completed, s.Total, s.Failed, s.TotalSeconds, s.TotalCostUSD)

	if *historyKey != "" {
		if err := appendHistory(context.WithoutCancel(ctx), app.Store, *historyKey, out); err != nil {
			return fmt.Errorf("write history: %w", err)
		}
		fmt.Fprintf(env.stdout, "History written to %s\n", *historyKey)
	}
	if s.Failed > 0 {
		return fmt.Errorf("%d of %d analyses failed", s.Failed, s.Total)
	}
	return nil
}

// appendHistory merges results into the history document stored at key.
func appendHistory(ctx context.Context, store object.Store, key string, out []*workflow.AnalysisResult) error {
	var history []workflow.AnalysisResult
	rc, err := store.Open(ctx, key)
	switch {
	case err == nil:
		history, err = workflow.ReadHistory(rc)
		rc.Close()
		if err != nil {
			return err
		}
	case !errors.Is(err, object.ErrNotFound):
		return err
	}
	for _, res := range out {
		history = append(history, *res)
	}

	var buf bytes.Buffer
	if err := workflow.WriteHistory(&buf, history); err != nil {
		return err
	}
	_, err = store.SaveWithKey(ctx, key, "application/json", &buf)
	return err
}

func estimateCmd(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet(env, "estimate")
	file := fs.String("f", "", "batch file (yaml or json)")
	minutes := fs.Float64("minutes", workflow.DefaultEstimateMinutes, "expected minutes per analysis")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("-f is required")
	}
	configs, err := workflow.LoadBatchFile(*file)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tALGORITHM\tSIZE\tCOST_USD")
	var total float64
	for _, cfg := range configs {
		size := cfg.EngineSize
		if size == "" {
			size = workflow.DefaultEngineSize
		}
		cost := workflow.EstimateCost(cfg, *minutes)
		total += cost
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\n", cfg.Name, cfg.Algorithm, size, cost)
	}
	fmt.Fprintf(tw, "TOTAL\t\t\t%.4f\n", total)
	return tw.Flush()
}

type engineSizeLister interface {
	ListEngineSizes(ctx context.Context) ([]map[string]any, error)
}

func enginesCmd(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet(env, "engines")
	sizes := fs.Bool("sizes", false, "list available engine sizes instead")
	if err := fs.Parse(args); err != nil {
		return err
	}
	conn, err := bootstrap.NewConnection(env.cfg)
	if err != nil {
		return err
	}

	if *sizes {
		sl, ok := conn.(engineSizeLister)
		if !ok {
			return fmt.Errorf("engine sizes are not available in %s mode", env.cfg.DeploymentMode)
		}
		items, err := sl.ListEngineSizes(ctx)
		if err != nil {
			return err
		}
		for _, item := range items {
			fmt.Fprintf(env.stdout, "%v\n", item)
		}
		return nil
	}

	lister, ok := conn.(engine.EngineLister)
	if !ok {
		return fmt.Errorf("engine listing is not available in %s mode", env.cfg.DeploymentMode)
	}
	engines, err := lister.ListEngines(ctx)
	if err != nil {
		return err
	}
	if len(engines) == 0 {
		fmt.Fprintln(env.stdout, "No engines deployed.")
		return nil
	}
	tw := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSIZE\tTYPE\tSTATUS")
	for _, e := range engines {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.Size, e.Type, e.Status)
	}
	return tw.Flush()
}

type connectionTester interface {
	TestConnection(ctx context.Context) error
}

type versionReporter interface {
	APIVersion(ctx context.Context) (map[string]any, error)
}

func checkCmd(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet(env, "check")
	offline := fs.Bool("offline", false, "skip connectivity checks")
	if err := fs.Parse(args); err != nil {
		return err
	}

	masked := env.cfg.Masked()
	keys := make([]string, 0, len(masked))
	for k := range masked {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(env.stdout, "Configuration:")
	for _, k := range keys {
		fmt.Fprintf(env.stdout, "  %s: %v\n", k, masked[k])
	}
	fmt.Fprintln(env.stdout)

	report := config.ValidateCredentials(env.cfg)
	fmt.Fprint(env.stdout, report.String())

	var failed []string
	if !report.Valid() {
		failed = append(failed, "credentials")
	}
	if err := env.cfg.Validate(); err != nil {
		fmt.Fprintf(env.stdout, "config: %v\n", err)
		failed = append(failed, "config")
	}
	if *offline || len(failed) > 0 {
		return checkResult(failed)
	}

	if d, err := bootstrap.OpenDatabase(ctx, env.cfg, ""); err != nil {
		fmt.Fprintf(env.stdout, "database: %v\n", err)
		failed = append(failed, "database")
	} else {
		fmt.Fprintf(env.stdout, "database: ok (%s)\n", d.Name())
	}

	conn, err := bootstrap.NewConnection(env.cfg)
	if err != nil {
		fmt.Fprintf(env.stdout, "engine api: %v\n", err)
		return checkResult(append(failed, "engine api"))
	}
	switch c := conn.(type) {
	case connectionTester:
		err = c.TestConnection(ctx)
	case versionReporter:
		_, err = c.APIVersion(ctx)
	}
	if err != nil {
		fmt.Fprintf(env.stdout, "engine api: %v\n", err)
		failed = append(failed, "engine api")
	} else {
		fmt.Fprintln(env.stdout, "engine api: ok")
	}
	return checkResult(failed)
}

func checkResult(failed []string) error {
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("checks failed: %v", failed)
}

func indexesCmd(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet(env, "indexes")
	collections := fs.String("collections", "", "comma separated result collections (default: standard result collections)")
	database := fs.String("db", "", "database name (default: ARANGO_DATABASE)")
	verify := fs.Bool("verify", false, "verify each collection after indexing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	d, err := bootstrap.OpenDatabase(ctx, env.cfg, *database)
	if err != nil {
		return err
	}

	names := splitList(*collections)
	if len(names) == 0 {
		names = results.DefaultCollections
	}
	report := results.EnsureIndexes(ctx, d, names)
	fmt.Fprintf(env.stdout, "Indexes: %d created, %d existing, %d missing collections\n",
		report.Created, report.Existing, report.Missing)

	if *verify {
		tw := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "COLLECTION\tEXISTS\tCOUNT\tID_FIELD\tINDEXED\tVALID")
		for _, name := range names {
			v := results.Verify(ctx, d, name)
			fmt.Fprintf(tw, "%s\t%t\t%d\t%t\t%t\t%t\n", name, v.Exists, v.Count, v.HasIDField, v.HasIndex, v.Valid)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func exportCmd(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet(env, "export")
	collection := fs.String("collection", "", "result collection to export")
	format := fs.String("format", "csv", "csv or json")
	key := fs.String("key", "", "object key to write (default: exports/<collection>.<format>)")
	fields := fs.String("fields", "", "comma separated fields to keep")
	filter := fs.String("filter", "", "AQL filter over r, for example r.rank > 0.01")
	limit := fs.Int("limit", 0, "maximum records; 0 exports all")
	database := fs.String("db", "", "database name (default: ARANGO_DATABASE)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *collection == "" {
		return errors.New("-collection is required")
	}
	f, err := results.ParseFormat(*format)
	if err != nil {
		return err
	}
	if *key == "" {
		if *key, err = util.ExportKey(*collection, string(f)); err != nil {
			return err
		}
	}

	objects, err := bootstrap.BuildStore(ctx, env.cfg)
	if err != nil {
		return err
	}
	d, err := bootstrap.OpenDatabase(ctx, env.cfg, *database)
	if err != nil {
		return err
	}
	n, err := results.Export(ctx, d, objects, results.ExportOptions{
		Collection: *collection,
		Format:     f,
		Key:        *key,
		Fields:     splitList(*fields),
		Filter:     *filter,
		Limit:      *limit,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "Exported %d records to %s\n", n, *key)
	return nil
}

func historyCmd(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet(env, "history")
	limit := fs.Int("limit", 20, "maximum runs to list")
	offset := fs.Int("offset", 0, "runs to skip")
	if err := fs.Parse(args); err != nil {
		return err
	}
	app, err := bootstrap.Build(ctx, env.cfg, db.DefaultCLIOptions())
	if err != nil {
		return err
	}
	defer app.Close()

	items, err := app.Runs.List(ctx, *limit, *offset)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintf(env.stdout, "No runs recorded (%s ledger).\n", app.Ledger)
		return nil
	}
	tw := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tALGORITHM\tSTARTED\tSECONDS\tCOST_USD")
	for _, run := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.1f\t%.4f\n",
			run.ID, run.Name, run.Status, run.Algorithm,
			run.StartedAt.UTC().Format(time.RFC3339),
			run.Result.DurationSeconds, run.Result.EstimatedCostUSD)
	}
	return tw.Flush()
}
