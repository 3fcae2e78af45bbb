package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/v2v/internal/config"
	"github.com/kalambet/v2v/internal/export"
	"github.com/kalambet/v2v/internal/ideas"
	"github.com/kalambet/v2v/internal/intake"
	"github.com/kalambet/v2v/internal/search"
	"github.com/kalambet/v2v/internal/storage"
)

// --- jobs ---

type submitResult struct {
	JobID     string `json:"job_id"`
	Position  int    `json:"position"`
	StatusURL string `json:"status_url"`
}

var submitCmd = &cobra.Command{
	Use:   "submit <audio-file>",
	Short: "Submit a voice memo for processing",
	Long: `Submit a voice memo for processing.

Examples:
  v2v submit memo.m4a
  v2v submit --wait --name "Alice" memo.mp3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		wait, _ := cmd.Flags().GetBool("wait")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.upload(cmd.Context(), "/jobs", args[0], name)
		if err != nil {
			return err
		}
		var res submitResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("Queued job %s (position %d)", res.JobID, res.Position)

		if !wait {
			return nil
		}
		st, err := waitForJob(cmd.Context(), client, res.JobID, 2*time.Second)
		if err != nil {
			return err
		}
		return printJob(stdout, st)
	},
}

func init() {
	submitCmd.Flags().String("name", "", "display name recorded with the job")
	submitCmd.Flags().Bool("wait", false, "wait until processing finishes")
}

func fetchJob(ctx context.Context, client *apiClient, id string) (intake.Status, error) {
	resp, err := client.get(ctx, "/jobs/"+url.PathEscape(id))
	if err != nil {
		return intake.Status{}, err
	}
	var st intake.Status
	err = decodeJSON(resp, &st)
	return st, err
}

// waitForJob polls until the job reaches a terminal state.
func waitForJob(ctx context.Context, client *apiClient, id string, every time.Duration) (intake.Status, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	last := intake.State("")
	for {
		st, err := fetchJob(ctx, client, id)
		if err != nil {
			return intake.Status{}, err
		}
		if st.State != last {
			printStep("%s", st.State)
			last = st.State
		}
		if st.State == intake.StateDone || st.State == intake.StateFailed {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return intake.Status{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printJob(w io.Writer, st intake.Status) error {
	fmt.Fprintf(w, "Job %s (%s)\n", st.JobID, st.Filename)
	fmt.Fprintf(w, "  State:     %s\n", st.State)
	fmt.Fprintf(w, "  Submitted: %s\n", formatDate(st.SubmittedAt))
	o := st.Outcome
	if o == nil {
		return nil
	}
	if !o.Succeeded() {
		stage := string(o.Stage)
		if o.AnalysisStage != "" {
			stage += "/" + o.AnalysisStage
		}
		fmt.Fprintf(w, "  %s %s: %s\n", colorize(colorRed, "Failed at"), stage, o.Error)
		if o.Idea != nil && o.Idea.Path != "" {
			fmt.Fprintf(w, "  Folder left at %s\n", o.Idea.Path)
		}
		return nil
	}
	fmt.Fprintf(w, "  Title:     %s\n", colorize(colorBold, o.Title))
	fmt.Fprintf(w, "  Category:  %s\n", o.Category)
	fmt.Fprintf(w, "  Viability: %s %d/10\n", viabilityBar(o.Viability), o.Viability)
	if o.Idea != nil {
		fmt.Fprintf(w, "  Folder:    %s\n", o.Idea.FolderName)
	}
	fmt.Fprintf(w, "  Took:      %s\n", o.Elapsed.Round(time.Second))
	for _, warn := range o.Warnings {
		fmt.Fprintf(w, "  %s %s\n", colorize(colorYellow, "warning:"), warn)
	}
	return nil
}

var jobCmd = &cobra.Command{
	Use:   "job <id>",
	Short: "Show the status of a submitted job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		st, err := fetchJob(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		return printJob(stdout, st)
	},
}

// --- ideas ---

func printIdeas(w io.Writer, list []storage.Idea) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No ideas found.")
		return
	}
	for _, idea := range list {
		fmt.Fprintf(w, "%s %s  %s\n",
			viabilityBar(idea.Viability),
			colorize(colorBold, idea.FolderName),
			colorize(colorDim, fmt.Sprintf("%s · %s · %s", idea.Category, idea.Maturity, formatDate(idea.CreatedAt))))
		if idea.Summary != "" {
			fmt.Fprintf(w, "           %s\n", truncate(idea.Summary, 100))
		}
	}
}

var ideasCmd = &cobra.Command{
	Use:   "ideas",
	Short: "List stored ideas, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/ideas?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return err
		}
		var list []storage.Idea
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}
		printIdeas(stdout, list)
		return nil
	},
}

func init() {
	ideasCmd.Flags().Int("limit", 20, "maximum number of ideas to list")
	ideasCmd.Flags().Int("offset", 0, "number of ideas to skip")
}

var infoCmd = &cobra.Command{
	Use:   "info <folder>",
	Short: "Show details of one idea",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/ideas/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var info ideas.Info
		if err := decodeJSON(resp, &info); err != nil {
			return err
		}
		printInfo(stdout, info)
		return nil
	},
}

func printInfo(w io.Writer, info ideas.Info) {
	fmt.Fprintln(w, colorize(colorBold, info.FolderName))
	fmt.Fprintf(w, "  Path: %s\n", info.Path)
	if m := info.Metadata; m != nil {
		a := m.Analysis
		fmt.Fprintf(w, "  Title:     %s\n", a.Title)
		fmt.Fprintf(w, "  Category:  %s\n", a.Category)
		fmt.Fprintf(w, "  Maturity:  %s\n", a.Maturity)
		fmt.Fprintf(w, "  Viability: %s %d/10\n", viabilityBar(a.Viability), a.Viability)
		if len(a.Tags) > 0 {
			fmt.Fprintf(w, "  Tags:      %s\n", strings.Join(a.Tags, ", "))
		}
		fmt.Fprintf(w, "  Created:   %s by %s\n", m.System.CreatedAt, m.System.CreatorID)
		if a.Summary != "" {
			fmt.Fprintf(w, "\n  %s\n", a.Summary)
		}
	}
	if len(info.History) > 0 {
		fmt.Fprintln(w, "\n  Previous names:")
		for _, v := range info.History {
			fmt.Fprintf(w, "    v%d %-26s %s\n", v.Version, v.FolderName, formatDate(v.CreatedAt))
		}
	}
	fmt.Fprintln(w, "\n  Files:")
	for _, f := range info.Files {
		fmt.Fprintf(w, "    %-28s %s\n", f.Name, formatSize(int64(f.SizeKB * 1024)))
	}
}

var renameCmd = &cobra.Command{
	Use:   "rename <folder> <new title>",
	Short: "Rename an idea folder (admin only)",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		title := strings.Join(args[1:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.patch(cmd.Context(), "/ideas/"+url.PathEscape(args[0]), map[string]string{"title": title})
		if err != nil {
			return err
		}
		var res ideas.Renamed
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("Renamed %s to %s", res.OldFolder, res.NewFolder)
		for _, w := range res.Warnings {
			printWarning("%s", w)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <folder>",
	Short: "Delete an idea folder (admin only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This permanently deletes %s. Use --confirm to proceed.", args[0])
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/ideas/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var res ideas.Deleted
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("Deleted %s", res.FolderName)
		return nil
	},
}

func init() {
	deleteCmd.Flags().Bool("confirm", false, "confirm deletion")
}

// --- search ---

func printHits(w io.Writer, res search.Results) {
	if len(res.Hits) == 0 {
		fmt.Fprintf(w, "No ideas match %q.\n", res.Query)
		return
	}
	fmt.Fprintf(w, "%d result(s) for %q\n", res.TotalFound, res.Query)
	for i, h := range res.Hits {
		fmt.Fprintf(w, "%2d. %s %s\n", i+1,
			colorize(colorBold, h.Idea.FolderName),
			colorize(colorDim, fmt.Sprintf("(%.0f%%, %s)", h.Scores.Total*100, h.Idea.Category)))
	}
}

func searchPath(query string, q url.Values) string {
	q.Set("q", query)
	return "/search?" + q.Encode()
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search ideas by name, summary and tags",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		for _, name := range []string{"category", "maturity", "creator", "tags"} {
			if v, _ := cmd.Flags().GetString(name); v != "" {
				q.Set(name, v)
			}
		}
		limit, _ := cmd.Flags().GetInt("limit")
		q.Set("limit", strconv.Itoa(limit))

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), searchPath(strings.Join(args, " "), q))
		if err != nil {
			return err
		}
		var res search.Results
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printHits(stdout, res)
		return nil
	},
}

func init() {
	searchCmd.Flags().String("category", "", "only ideas in this category")
	searchCmd.Flags().String("maturity", "", "only ideas at this maturity")
	searchCmd.Flags().String("creator", "", "only ideas created by this caller id")
	searchCmd.Flags().String("tags", "", "comma-separated tags that must all match")
	searchCmd.Flags().Int("limit", search.DefaultLimit, "maximum number of results")
}

var suggestCmd = &cobra.Command{
	Use:   "suggest <prefix>",
	Short: "Suggest folder names for a partial name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/search/suggest?prefix="+url.QueryEscape(args[0]))
		if err != nil {
			return err
		}
		var res struct {
			Suggestions []string `json:"suggestions"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		for _, s := range res.Suggestions {
			fmt.Fprintln(stdout, s)
		}
		return nil
	},
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List ideas created in the last few days",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/search/recent?days=%d&limit=%d", days, limit))
		if err != nil {
			return err
		}
		var list []storage.Idea
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}
		printIdeas(stdout, list)
		return nil
	},
}

func init() {
	recentCmd.Flags().Int("days", search.DefaultRecentDays, "look-back window in days")
	recentCmd.Flags().Int("limit", search.DefaultRecentLimit, "maximum number of ideas")
}

type statsResult struct {
	Ideas    search.Stats   `json:"ideas"`
	Exports  export.Stats   `json:"exports"`
	Pipeline map[string]int `json:"pipeline"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show idea, export and pipeline statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/stats")
		if err != nil {
			return err
		}
		var st statsResult
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}
		printStats(stdout, st)
		return nil
	},
}

func printStats(w io.Writer, st statsResult) {
	fmt.Fprintf(w, "Ideas:        %d (%.1f MB, %d this week)\n", st.Ideas.Total, st.Ideas.TotalSizeMB, st.Ideas.CreatedLastWeek)
	for _, k := range slices.Sorted(maps.Keys(st.Ideas.ByCategory)) {
		fmt.Fprintf(w, "  %-12s %d\n", k, st.Ideas.ByCategory[k])
	}
	fmt.Fprintf(w, "Exports:      %d active, %d downloaded (%.1f MB)\n", st.Exports.ActiveLinks, st.Exports.Downloaded, st.Exports.TotalSizeMB)
	fmt.Fprintf(w, "Pipeline:     %d/%d workers busy, %d queued\n", st.Pipeline["active"], st.Pipeline["workers"], st.Pipeline["queued"])
}

// --- exports ---

var exportCmd = &cobra.Command{
	Use:   "export <folder>",
	Short: "Package an idea as a zip behind a temporary download link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, _ := cmd.Flags().GetString("files")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/exports", map[string]any{
			"folder": args[0],
			"files":  config.SplitList(files),
		})
		if err != nil {
			return err
		}
		var pkg export.Package
		if err := decodeJSON(resp, &pkg); err != nil {
			return err
		}
		printSuccess("Packaged %d file(s), %s", pkg.FileCount, formatSize(pkg.SizeBytes))
		printStatus("Download", "%s%s", client.baseURL, pkg.URL)
		printStatus("Expires", "%s", formatDate(pkg.ExpiresAt))
		printStatus("SHA-256", "%s", pkg.Checksum)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("files", "", "comma-separated file names to include (default: all)")
}

var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "List your active download links",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/exports")
		if err != nil {
			return err
		}
		var links []export.LinkSummary
		if err := decodeJSON(resp, &links); err != nil {
			return err
		}
		if len(links) == 0 {
			fmt.Fprintln(stdout, "No active links.")
			return nil
		}
		for _, l := range links {
			fmt.Fprintf(stdout, "%s  %-30s %3d min left  %d download(s)\n", l.Token, l.FolderName, l.ExpiresIn, l.DownloadCount)
		}
		return nil
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <token>",
	Short: "Revoke a download link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/exports/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var res map[string]string
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("Link revoked")
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <token>",
	Short: "Download an exported archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = args[0][:min(8, len(args[0]))] + ".zip"
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		n, err := client.download(cmd.Context(), "/downloads/"+url.PathEscape(args[0]), output)
		if err != nil {
			return err
		}
		printSuccess("Saved %s (%s)", output, formatSize(n))
		return nil
	},
}

func init() {
	downloadCmd.Flags().StringP("output", "o", "", "output file (default: <token prefix>.zip)")
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

		printStatus("Stored in", "%s", config.Location())
		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(stdout, "  %s = %s %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value.\n\nValid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a stored value so the default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret in the platform secret store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(config.NewKeychain(), args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

var configTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print the API bearer token",
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := config.GetAPIToken(config.NewKeychain())
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, tok)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configSetSecretCmd)
	configCmd.AddCommand(configTokenCmd)
}
