package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/rankwatch/internal/config"
	"github.com/kalambet/rankwatch/internal/keywords"
	"github.com/kalambet/rankwatch/internal/schedule"
	"github.com/kalambet/rankwatch/internal/storage"
	"github.com/kalambet/rankwatch/internal/tracker"
)

// Commands in this file work on the local store directly, so they can be
// driven by an external scheduler (cron, systemd timers) without the daemon.

func openLocal() (config.Config, *storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}
	setupLogging(cfg.Log.Level)
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return cfg, nil, fmt.Errorf("opening storage: %w", err)
	}
	return cfg, store, nil
}

// --- tick ---

var tickCmd = &cobra.Command{
	Use:       "tick <submit|fetch>",
	Short:     "Run one submit or fetch pass against the local store",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{tracker.TickSubmit, tracker.TickFetch},
	RunE: func(cmd *cobra.Command, args []string) error {
		onlyRegistered, _ := cmd.Flags().GetBool("if-registered")

		cfg, store, err := openLocal()
		if err != nil {
			return err
		}
		defer store.Close()

		client, err := newSerpClient(cfg)
		if err != nil {
			return fmt.Errorf("configuring provider client: %w", err)
		}
		runner := schedule.NewRunner(store)
		ctrl := tracker.NewController(store, client, runner)

		return runTick(cmd.Context(), cmd.OutOrStdout(), ctrl, runner, args[0], onlyRegistered)
	},
}

func init() {
	tickCmd.Flags().Bool("if-registered", false, "skip the pass when the tick has deregistered itself")
}

func runTick(ctx context.Context, w io.Writer, ctrl *tracker.Controller, sched tracker.Scheduler, name string, onlyRegistered bool) error {
	if onlyRegistered {
		registered, err := sched.Registered()
		if err != nil {
			return err
		}
		found := false
		for _, sc := range registered {
			if sc.Name == name {
				found = true
			}
		}
		if !found {
			printStep("%s tick is not registered, skipping", name)
			return nil
		}
	}

	switch name {
	case tracker.TickSubmit:
		report, err := ctrl.SubmitTick(ctx)
		if err != nil {
			return err
		}
		return printJSON(w, report)
	case tracker.TickFetch:
		report, err := ctrl.FetchTick(ctx)
		if err != nil {
			return err
		}
		return printJSON(w, report)
	default:
		return fmt.Errorf("unknown tick %q", name)
	}
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Expand keyword templates across niche and location lists",
	Long: `Expand keyword templates across niche and location lists.

List files may be .txt (one entry per line), .csv or .pdf. The niche file holds
service,core_keyword pairs. A locations CSV may carry name,lat,lng so imported
rows are ready to submit.

Examples:
  rankwatch generate --templates t.txt --niche niche.csv --locations cities.csv
  rankwatch generate --templates t.txt --niche niche.csv --locations cities.csv --import`,
	RunE: func(cmd *cobra.Command, args []string) error {
		templatesPath, _ := cmd.Flags().GetString("templates")
		nichePath, _ := cmd.Flags().GetString("niche")
		locationsPath, _ := cmd.Flags().GetString("locations")
		nichePh, _ := cmd.Flags().GetString("niche-placeholder")
		locPh, _ := cmd.Flags().GetString("location-placeholder")
		doImport, _ := cmd.Flags().GetBool("import")
		appendRows, _ := cmd.Flags().GetBool("append")

		if templatesPath == "" || nichePath == "" || locationsPath == "" {
			return fmt.Errorf("--templates, --niche and --locations are required")
		}

		templates, err := keywords.ReadList(templatesPath)
		if err != nil {
			return err
		}
		niche, err := keywords.ReadNiche(nichePath)
		if err != nil {
			return err
		}
		locs, err := keywords.ReadLocations(locationsPath)
		if err != nil {
			return err
		}

		rows, err := keywords.Generate(templates, niche, nichePh, keywords.LocationNames(locs), locPh)
		if err != nil {
			return err
		}

		if !doImport {
			return writeGenerated(cmd.OutOrStdout(), rows)
		}

		_, store, err := openLocal()
		if err != nil {
			return err
		}
		defer store.Close()
		return importRows(store, keywords.SourceRows(rows, locs), appendRows)
	},
}

func init() {
	generateCmd.Flags().String("templates", "", "file of keyword templates")
	generateCmd.Flags().String("niche", "", "file of service,core_keyword rows")
	generateCmd.Flags().String("locations", "", "file of locations (name or name,lat,lng)")
	generateCmd.Flags().String("niche-placeholder", "{core}", "token replaced by the core keyword")
	generateCmd.Flags().String("location-placeholder", "{loc}", "token replaced by the location")
	generateCmd.Flags().Bool("import", false, "store the rows as the source table instead of printing them")
	generateCmd.Flags().Bool("append", false, "with --import, append instead of replacing the source table")
}

func writeGenerated(w io.Writer, rows []keywords.Row) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"service", "location", "core_keyword", "keyword"})
	for _, r := range rows {
		cw.Write([]string{r.Service, r.Location, r.CoreKeyword, r.Keyword})
	}
	cw.Flush()
	return cw.Error()
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load keyword,lat,lng rows into the source table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appendRows, _ := cmd.Flags().GetBool("append")

		rows, err := keywords.ReadSourceRows(args[0])
		if err != nil {
			return err
		}

		_, store, err := openLocal()
		if err != nil {
			return err
		}
		defer store.Close()
		return importRows(store, rows, appendRows)
	},
}

func init() {
	importCmd.Flags().Bool("append", false, "append instead of replacing the source table")
}

func importRows(store *storage.Store, rows []storage.SourceRow, appendRows bool) error {
	if len(rows) == 0 {
		return fmt.Errorf("no rows to import")
	}
	if appendRows {
		first, err := store.AppendSourceRows(rows)
		if err != nil {
			return fmt.Errorf("appending source rows: %w", err)
		}
		printSuccess("Appended %d rows at positions %d-%d", len(rows), first, first+len(rows)-1)
		return nil
	}
	if err := store.ReplaceSourceRows(rows); err != nil {
		return fmt.Errorf("replacing source rows: %w", err)
	}
	printSuccess("Imported %d rows at positions %d-%d", len(rows), storage.FirstDataRow, storage.FirstDataRow+len(rows)-1)
	return nil
}

// --- test-connection ---

var testConnectionCmd = &cobra.Command{
	Use:   "test-connection",
	Short: "Check the provider credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		client, err := newSerpClient(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		ud, err := client.Ping(ctx)
		if err != nil {
			printError("Connection failed: %v", err)
			return err
		}
		printSuccess("Connected as %s (balance %.2f)", ud.Login, ud.Balance)
		return nil
	},
}
