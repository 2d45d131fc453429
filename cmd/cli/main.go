// Package main implements the vidsearch CLI for querying a running API server.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apihttp "github.com/dsjohal14/vidsearch/internal/http"
	"github.com/dsjohal14/vidsearch/internal/libs/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		apiURL  string
		timeout time.Duration
		asJSON  bool
	)

	root := &cobra.Command{
		Use:          "vidsearch",
		Short:        "vidsearch CLI",
		SilenceUsage: true,
	}

	defaultURL := "http://localhost:8080"
	if cfg, err := config.Load(); err == nil {
		defaultURL = cfg.APIURL
	}
	root.PersistentFlags().StringVar(&apiURL, "api", defaultURL, "API base URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "print raw JSON")

	c := func() *client { return newClient(apiURL, timeout) }
	render := func(cmd *cobra.Command, v any, text func(io.Writer)) error {
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}
		text(cmd.OutOrStdout())
		return nil
	}

	root.AddCommand(
		newSearchCmd(c, render),
		newSuggestCmd(c, render),
		newRelatedCmd(c, render),
		newTrendingCmd(c, render),
		newClickCmd(c, render),
		newHealthCmd(c, render),
	)
	return root
}

type printer func(cmd *cobra.Command, v any, text func(io.Writer)) error

func newSearchCmd(c func() *client, render printer) *cobra.Command {
	var (
		sort, quality, channel, caller string
		limit, offset                  int
		minDur, maxDur                 int
		from, to                       string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank videos for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			params.Set("q", strings.Join(args, " "))
			params.Set("limit", strconv.Itoa(limit))
			params.Set("offset", strconv.Itoa(offset))
			setIf(params, "sort", sort)
			setIf(params, "quality", quality)
			setIf(params, "channel", channel)
			setIf(params, "caller_id", caller)
			setIf(params, "date_from", from)
			setIf(params, "date_to", to)
			if cmd.Flags().Changed("min-duration") {
				params.Set("min_duration", strconv.Itoa(minDur))
			}
			if cmd.Flags().Changed("max-duration") {
				params.Set("max_duration", strconv.Itoa(maxDur))
			}

			var resp apihttp.SearchResponse
			if err := c().get(cmd.Context(), "/search", params, &resp); err != nil {
				return err
			}
			return render(cmd, resp, func(w io.Writer) {
				fmt.Fprintf(w, "%d of %d results (log %s)\n", resp.Count, resp.Total, resp.LogID)
				for i, r := range resp.Results {
					fmt.Fprintf(w, "%3d. %-40s %8.2f  %s  %d views\n", offset+i+1, r.Title, r.Score, r.DocID, r.Views)
				}
			})
		},
	}
	cmd.Flags().StringVar(&sort, "sort", "", "relevance, date or views")
	cmd.Flags().IntVar(&limit, "limit", 10, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	cmd.Flags().StringVar(&quality, "quality", "", "sd, hd, fhd or uhd")
	cmd.Flags().StringVar(&channel, "channel", "", "channel name substring")
	cmd.Flags().IntVar(&minDur, "min-duration", 0, "minimum duration in seconds")
	cmd.Flags().IntVar(&maxDur, "max-duration", 0, "maximum duration in seconds")
	cmd.Flags().StringVar(&from, "from", "", "created on or after (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "created on or before (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&caller, "caller", "", "caller id recorded in the query log")
	return cmd
}

func newSuggestCmd(c func() *client, render printer) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "suggest <partial>",
		Short: "Autocomplete a partial query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{"q": {strings.Join(args, " ")}, "limit": {strconv.Itoa(limit)}}
			var resp apihttp.SuggestResponse
			if err := c().get(cmd.Context(), "/suggest", params, &resp); err != nil {
				return err
			}
			return render(cmd, resp, func(w io.Writer) {
				for _, s := range resp.Suggestions {
					fmt.Fprintf(w, "%-40s %-8s %s\n", s.Text, s.Category, s.Source)
				}
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum suggestions")
	return cmd
}

func newRelatedCmd(c func() *client, render printer) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "related <query>",
		Short: "List popular queries similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{"q": {strings.Join(args, " ")}, "limit": {strconv.Itoa(limit)}}
			var resp apihttp.RelatedResponse
			if err := c().get(cmd.Context(), "/related", params, &resp); err != nil {
				return err
			}
			return render(cmd, resp, func(w io.Writer) {
				for _, r := range resp.Related {
					fmt.Fprintf(w, "%-40s %.2f  %d searches\n", r.Text, r.Similarity, r.SearchCount)
				}
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum related queries")
	return cmd
}

func newTrendingCmd(c func() *client, render printer) *cobra.Command {
	var (
		limit  int
		window time.Duration
	)
	cmd := &cobra.Command{
		Use:   "trending",
		Short: "List the most searched queries in a window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params := url.Values{"window": {window.String()}, "limit": {strconv.Itoa(limit)}}
			var resp apihttp.TrendingResponse
			if err := c().get(cmd.Context(), "/trending", params, &resp); err != nil {
				return err
			}
			return render(cmd, resp, func(w io.Writer) {
				for i, t := range resp.Trending {
					fmt.Fprintf(w, "%3d. %-40s %d\n", i+1, t.Text, t.Count)
				}
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum queries")
	cmd.Flags().DurationVar(&window, "window", 24*time.Hour, "trailing window")
	return cmd
}

func newClickCmd(c func() *client, render printer) *cobra.Command {
	return &cobra.Command{
		Use:   "click <log-id> <video-id>",
		Short: "Record a click on a search result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp apihttp.ClickResponse
			req := apihttp.ClickRequest{LogID: args[0], DocID: args[1]}
			if err := c().send(cmd.Context(), http.MethodPost, "/clicks", req, &resp); err != nil {
				return err
			}
			return render(cmd, resp, func(w io.Writer) {
				fmt.Fprintf(w, "click on %s recorded\n", args[1])
			})
		},
	}
}

func newHealthCmd(c func() *client, render printer) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp apihttp.HealthResponse
			if err := c().get(cmd.Context(), "/health", nil, &resp); err != nil {
				return err
			}
			return render(cmd, resp, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %d indexed, %d stored, %d popular queries, %d pending logs\n",
					resp.Status, resp.DocCount, resp.StoredCount, resp.PopularQueries, resp.PendingLogs)
			})
		},
	}
}

func setIf(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}
