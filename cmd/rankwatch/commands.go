package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kalambet/rankwatch/internal/api"
	"github.com/kalambet/rankwatch/internal/config"
	"github.com/kalambet/rankwatch/internal/storage"
	"github.com/kalambet/rankwatch/internal/tracker"
)

// --- pipeline control ---

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run a submit pass now and install the submit and fetch ticks",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/pipeline/start", nil)
		if err != nil {
			return err
		}
		var report tracker.SubmitReport
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}
		if report.Submitted == 0 {
			printSuccess("No work left to submit; fetch tick installed")
			return nil
		}
		printSuccess("Submitted %d jobs for positions %d-%d; ticks installed",
			report.Submitted, report.FirstPosition, report.LastPosition)
		return nil
	},
}

var haltCmd = &cobra.Command{
	Use:   "halt",
	Short: "Stop all ticks (submitted jobs are not cancelled)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postAndReport(cmd, "/pipeline/stop", "All ticks stopped")
	},
}

var resetCursorCmd = &cobra.Command{
	Use:   "reset-cursor",
	Short: "Make the next submit pass start from the first data row",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postAndReport(cmd, "/cursor/reset", "Cursor reset")
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every ledger row and result record",
	RunE: func(cmd *cobra.Command, args []string) error {
		if confirm, _ := cmd.Flags().GetBool("confirm"); !confirm {
			printWarning("This deletes the job ledger and all results. Use --confirm to proceed.")
			return nil
		}
		return postAndReport(cmd, "/tables/clear?confirm=true", "Ledger and results cleared")
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Stop all ticks, reset the cursor and clear the tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		if confirm, _ := cmd.Flags().GetBool("confirm"); !confirm {
			printWarning("This stops all ticks and deletes the job ledger and all results. Use --confirm to proceed.")
			return nil
		}
		return postAndReport(cmd, "/pipeline/reset?confirm=true", "Reset complete")
	},
}

func init() {
	clearCmd.Flags().Bool("confirm", false, "confirm deletion")
	resetCmd.Flags().Bool("confirm", false, "confirm reset")
}

func postAndReport(cmd *cobra.Command, path, success string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.post(cmd.Context(), path, nil)
	if err != nil {
		return err
	}
	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	printSuccess("%s", success)
	return nil
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cursor, ticks and ledger counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/health")
		if err != nil {
			printStatus("Server", "stopped")
			return nil
		}
		resp.Body.Close()
		printStatus("Server", "running at %s", client.baseURL)

		resp, err = client.get(cmd.Context(), "/status")
		if err != nil {
			return err
		}
		var st tracker.StatusReport
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}
		printStatusReport(st)
		return nil
	},
}

func printStatusReport(st tracker.StatusReport) {
	printStatus("Cursor", "%d", st.Cursor)
	printStatus("Source rows", "%d", st.SourceRows)
	if st.StatusLine != "" {
		printStatus("Last status", "%s", st.StatusLine)
	}
	if len(st.Ticks) == 0 {
		printStatus("Ticks", "none")
	}
	for _, tk := range st.Ticks {
		printStatus("Tick "+tk.Name, "every %d min", tk.IntervalMinutes)
	}
	printStatus("Jobs", "%s", formatCounts(st.JobCounts))
	printStatus("Settings", "batch %d, submit every %d min, fetch every %d min, %d poll rounds",
		st.Settings.BatchSize, st.Settings.SubmitIntervalMinutes, st.Settings.FetchIntervalMinutes, st.Settings.MaxPollRounds)
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "none"
	}
	order := []string{storage.StatusSubmitted, storage.StatusPending, storage.StatusFetched, storage.StatusError}
	out := ""
	for _, s := range order {
		if n, ok := counts[s]; ok {
			if out != "" {
				out += ", "
			}
			out += fmt.Sprintf("%d %s", n, s)
		}
	}
	return out
}

// --- results / jobs ---

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List ranking results by source position",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/results?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return err
		}
		var results []api.ResultView
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No results.")
			return nil
		}
		writeResults(cmd.OutOrStdout(), results)
		return nil
	},
}

func writeResults(w io.Writer, results []api.ResultView) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POSITION\tRANK\tKEYWORD\tURL")
	for _, r := range results {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.Position, r.Rank, r.Keyword, r.URL)
	}
	tw.Flush()
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List ledger rows, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		if status != "" {
			q.Set("status", status)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/jobs?"+q.Encode())
		if err != nil {
			return err
		}
		var jobs []api.JobView
		if err := decodeJSON(resp, &jobs); err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No jobs.")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "JOB\tPOSITION\tSTATUS\tROUNDS\tKEYWORD\tERROR")
		for _, j := range jobs {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\t%s\n",
				colorize(colorCyan, j.JobID), j.SourcePosition, j.Status, j.PollRounds, j.Keyword, j.LastError)
		}
		return tw.Flush()
	},
}

func init() {
	resultsCmd.Flags().Int("limit", 50, "maximum number of rows")
	resultsCmd.Flags().Int("offset", 0, "rows to skip")
	jobsCmd.Flags().String("status", "", "only jobs with this status (submitted, pending, fetched, error)")
	jobsCmd.Flags().Int("limit", 50, "maximum number of rows")
}

// --- settings ---

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or update tick settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show tick settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/settings")
		if err != nil {
			return err
		}
		var s tracker.Settings
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}
		m := s.Map()
		for _, k := range tracker.SettingKeys() {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %d\n", colorize(colorBold, k), m[k])
		}
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a tick setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := tracker.ValidateSetting(key, value); err != nil {
			return err
		}
		n, _ := strconv.Atoi(value)

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), "/settings", map[string]int{key: n})
		if err != nil {
			return err
		}
		var s tracker.Settings
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}
		printSuccess("Set %s = %d", key, n)
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		sort.SliceStable(keys, func(i, j int) bool { return keys[i].Key < keys[j].Key })
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
