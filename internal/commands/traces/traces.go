// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package traces implements the commands that read the local SQLite span
// store written by the sqlite exporter.
package traces

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/otelhook/internal/commands/shared"
	"github.com/tombee/otelhook/internal/config"
	"github.com/tombee/otelhook/internal/jq"
	"github.com/tombee/otelhook/internal/telemetry/httpattr"
	"github.com/tombee/otelhook/internal/tracing"
	"github.com/tombee/otelhook/internal/tracing/storage"
	otelerrors "github.com/tombee/otelhook/pkg/errors"
)

type options struct {
	db        string
	since     string
	errors    bool
	limit     int
	olderThan string
	jq        string
}

// NewTracesCommand creates the traces command
func NewTracesCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "traces",
		Short: "List traces from the local span store",
		Long: `List traces recorded by the sqlite exporter, newest first.

The store is the path of the configured sqlite exporter, or
~/.local/share/otelhook/traces.db when none is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.db, "db", "", "Path to the span store (default: from config)")
	cmd.PersistentFlags().StringVar(&opts.jq, "jq", "", "Filter JSON output through a jq expression (implies --json)")
	cmd.Flags().StringVar(&opts.since, "since", "24h", "Show traces since duration (e.g., 1h, 30m, 7d)")
	cmd.Flags().BoolVar(&opts.errors, "errors", false, "Only show traces with error spans")
	cmd.Flags().IntVar(&opts.limit, "limit", storage.DefaultListLimit, "Maximum number of traces")

	showCmd := &cobra.Command{
		Use:   "show <trace-id>",
		Short: "Show every span of a trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.Context(), cmd.OutOrStdout(), opts, args[0])
		},
	}

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete spans older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	pruneCmd.Flags().StringVar(&opts.olderThan, "older-than", "168h", "Delete spans that ended before this long ago")

	cmd.AddCommand(showCmd, pruneCmd)
	return cmd
}

// openStore opens the span store for reading. A missing file is reported
// rather than created.
func openStore(opts *options) (*storage.SQLiteStore, error) {
	path := opts.db
	if path == "" {
		cfg, _, err := shared.LoadConfig()
		if err != nil {
			return nil, err
		}
		path = storePath(cfg)
	}

	if path != storage.MemoryPath {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return nil, shared.NewNotFoundError("no span store at "+path, &otelerrors.ValidationError{
				Field:      "path",
				Message:    "the span store does not exist yet",
				Suggestion: "add a sqlite exporter to tracing.exporters and run 'otelhookd serve'",
			})
		}
	}
	return storage.New(storage.Config{Path: path})
}

// storePath returns the path of the configured sqlite exporter.
func storePath(cfg *config.Config) string {
	for _, exp := range cfg.Tracing.Exporters {
		if exp.Type == tracing.ExporterSQLite && exp.Path != "" {
			return exp.Path
		}
	}
	return config.DefaultTracesPath()
}

func runList(ctx context.Context, out io.Writer, opts *options) error {
	since, err := parseSince(opts.since)
	if err != nil {
		return fmt.Errorf("invalid --since duration: %w", err)
	}
	query, err := compileJQ(opts)
	if err != nil {
		return err
	}

	store, err := openStore(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	traces, err := store.ListTraces(ctx, storage.TraceFilter{
		Since:      time.Now().Add(-since),
		ErrorsOnly: opts.errors,
		Limit:      opts.limit,
	})
	if err != nil {
		return fmt.Errorf("failed to list traces: %w", err)
	}

	if shared.GetJSON() || query != nil {
		if traces == nil {
			traces = []storage.TraceSummary{}
		}
		return emitJSON(ctx, out, query, traces)
	}

	if len(traces) == 0 {
		fmt.Fprintln(out, shared.RenderWarn("no traces found"))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRACE ID\tROOT\tSPANS\tERRORS\tDURATION\tSTARTED")
	for _, tr := range traces {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			tr.TraceID,
			tr.RootName,
			tr.SpanCount,
			tr.ErrorCount,
			shared.FormatDuration(tr.Duration),
			formatTime(tr.StartTime),
		)
	}
	return w.Flush()
}

func runShow(ctx context.Context, out io.Writer, opts *options, traceID string) error {
	traceID = strings.ToLower(strings.TrimSpace(traceID))
	query, err := compileJQ(opts)
	if err != nil {
		return err
	}

	store, err := openStore(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	spans, err := store.TraceSpans(ctx, traceID)
	if err != nil {
		var nf *otelerrors.NotFoundError
		if errors.As(err, &nf) {
			return shared.NewNotFoundError("trace not found", err)
		}
		return fmt.Errorf("failed to load trace: %w", err)
	}

	if shared.GetJSON() || query != nil {
		return emitJSON(ctx, out, query, spans)
	}

	start, end := spans[0].StartTime, spans[0].EndTime
	for _, s := range spans {
		if s.EndTime.After(end) {
			end = s.EndTime
		}
	}
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Trace:"), traceID)
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Started:"), formatTime(start))
	fmt.Fprintf(out, "%s %s\n\n", shared.RenderLabel("Duration:"), shared.FormatDuration(end.Sub(start)))

	for _, node := range buildTree(spans) {
		displaySpan(out, node, 0)
	}
	return nil
}

func runPrune(ctx context.Context, out io.Writer, opts *options) error {
	age, err := parseSince(opts.olderThan)
	if err != nil {
		return fmt.Errorf("invalid --older-than duration: %w", err)
	}

	store, err := openStore(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.DeleteSpansOlderThan(ctx, time.Now().Add(-age))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("deleted %d spans", n)))
	return nil
}

// compileJQ returns nil when --jq is unset.
func compileJQ(opts *options) (*jq.Query, error) {
	if opts.jq == "" {
		return nil, nil
	}
	q, err := jq.Compile(opts.jq)
	if err != nil {
		return nil, fmt.Errorf("invalid --jq expression: %w", err)
	}
	return q, nil
}

// emitJSON writes v, or each value query yields from it, as JSON.
func emitJSON(ctx context.Context, out io.Writer, query *jq.Query, v any) error {
	if query == nil {
		return shared.EmitJSON(out, v)
	}
	results, err := query.Run(ctx, v)
	if err != nil {
		return fmt.Errorf("jq: %w", err)
	}
	for _, r := range results {
		if err := shared.EmitJSON(out, r); err != nil {
			return err
		}
	}
	return nil
}

type spanNode struct {
	span     *storage.Span
	children []*spanNode
}

// buildTree links spans to their parents. Spans whose parent is not stored,
// such as a SERVER span continuing a remote trace, become roots.
func buildTree(spans []*storage.Span) []*spanNode {
	nodes := make(map[string]*spanNode, len(spans))
	for _, s := range spans {
		nodes[s.SpanID] = &spanNode{span: s}
	}

	var roots []*spanNode
	for _, s := range spans {
		node := nodes[s.SpanID]
		if parent, ok := nodes[s.ParentID]; ok && s.ParentID != "" {
			parent.children = append(parent.children, node)
			continue
		}
		roots = append(roots, node)
	}
	return roots
}

// shownAttributes are printed under each span, in this order, when present.
var shownAttributes = []string{
	string(httpattr.Method),
	string(httpattr.URL),
	string(httpattr.StatusCode),
}

func displaySpan(out io.Writer, node *spanNode, indent int) {
	prefix := strings.Repeat("  ", indent)
	s := node.span

	icon := shared.StatusOK.Render(shared.SymbolOK)
	if s.StatusCode == storage.StatusError {
		icon = shared.StatusError.Render(shared.SymbolError)
	}
	fmt.Fprintf(out, "%s%s %s %s (%s)\n", prefix, icon, s.Name,
		shared.RenderLabel(strings.ToLower(s.Kind)), shared.FormatDuration(s.Duration()))

	for _, key := range shownAttributes {
		if v, ok := s.Attributes[key]; ok {
			fmt.Fprintf(out, "%s    %s %v\n", prefix, shared.RenderLabel(key+":"), v)
		}
	}
	for _, key := range headerAttributes(s.Attributes) {
		fmt.Fprintf(out, "%s    %s %v\n", prefix, shared.RenderLabel(key+":"), s.Attributes[key])
	}
	if s.StatusMessage != "" {
		fmt.Fprintf(out, "%s    %s %s\n", prefix, shared.RenderLabel("status:"), s.StatusMessage)
	}
	for _, ev := range s.Events {
		fmt.Fprintf(out, "%s    [%s] %s\n", prefix, ev.Time.Format("15:04:05.000"), ev.Name)
	}

	for _, child := range node.children {
		displaySpan(out, child, indent+1)
	}
}

// headerAttributes returns the captured header attribute keys, sorted.
func headerAttributes(attrs map[string]any) []string {
	var keys []string
	for k := range attrs {
		if strings.HasPrefix(k, "http.request.header.") || strings.HasPrefix(k, "http.response.header.") {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// parseSince accepts time.ParseDuration syntax plus a whole-day "d" suffix.
func parseSince(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative: %s", s)
	}
	return d, nil
}

func formatTime(t time.Time) string {
	if time.Since(t) < 24*time.Hour {
		return t.Format("15:04:05")
	}
	return t.Format("2006-01-02 15:04")
}
