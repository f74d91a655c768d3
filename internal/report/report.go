// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report renders engine results, run history, cache stats and
// lock listings for the fixpoint CLI.
//
// Three modes: pretty for terminals, plain key=value lines for pipes,
// and json for machine consumers. The mode is explicit on the
// renderer; DetectMode picks pretty or plain from the output fd.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/fixpoint/internal/analyzer"
	"github.com/AleutianAI/fixpoint/internal/engine"
	"github.com/AleutianAI/fixpoint/internal/history"
	"github.com/AleutianAI/fixpoint/internal/lock"
	"github.com/AleutianAI/fixpoint/internal/typecache"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	// Semantic colors (keeping standard conventions for clarity)
	ColorSuccess = lipgloss.Color("#2CD7C7") // Bright teal for success
	ColorWarning = lipgloss.Color("#F4D03F") // Gold/amber for warnings
	ColorError   = lipgloss.Color("#E74C3C") // Red for errors
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	// Diff line styles
	DiffAdd  lipgloss.Style
	DiffDel  lipgloss.Style
	DiffHunk lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	DiffAdd:  lipgloss.NewStyle().Foreground(ColorSuccess),
	DiffDel:  lipgloss.NewStyle().Foreground(ColorError),
	DiffHunk: lipgloss.NewStyle().Foreground(ColorTealPrimary),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconAnchor  Icon = "⚓"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Mode selects the output format.
type Mode string

const (
	// ModePretty uses lipgloss styling for interactive terminals.
	ModePretty Mode = "pretty"

	// ModePlain emits unstyled KEY: key=value lines for pipes.
	ModePlain Mode = "plain"

	// ModeJSON emits the structures verbatim for machine consumers.
	ModeJSON Mode = "json"
)

// DetectMode returns ModePretty when f is an interactive terminal and
// ModePlain otherwise.
func DetectMode(f *os.File) Mode {
	if f == nil {
		return ModePlain
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return ModePretty
	}
	return ModePlain
}

// Options configures a renderer.
type Options struct {
	// Mode defaults to ModePlain.
	Mode Mode

	// Verbose includes fixed outcomes and backup locations in run
	// output. Unfixable and errored outcomes always print.
	Verbose bool
}

// Renderer writes formatted output for one mode. Methods never
// interleave partial output; each renders a complete block.
type Renderer struct {
	w    io.Writer
	opts Options
}

// NewRenderer builds a renderer on w. A nil writer falls back to
// stdout.
func NewRenderer(w io.Writer, opts Options) *Renderer {
	if w == nil {
		w = os.Stdout
	}
	if opts.Mode == "" {
		opts.Mode = ModePlain
	}
	return &Renderer{w: w, opts: opts}
}

// =============================================================================
// Run results
// =============================================================================

// RunResult renders a completed engine run.
func (r *Renderer) RunResult(res *engine.Result) error {
	if res == nil {
		return nil
	}
	if r.opts.Mode == ModeJSON {
		return r.encodeJSON(res)
	}

	r.runHeader(res)
	for _, pass := range res.Passes {
		r.passLine(pass)
		for _, oc := range pass.Outcomes {
			r.outcomeLine(oc)
		}
	}
	r.runSummary(res)
	return nil
}

func (r *Renderer) runHeader(res *engine.Result) {
	if r.opts.Mode == ModePlain {
		fmt.Fprintf(r.w, "RUN: passes=%d converged=%t reason=%s fixed=%d unfixable=%d errored=%d\n",
			res.PassCount, res.Converged, res.StopReason,
			res.Fixed, res.Unfixable, res.Errored)
		return
	}

	if res.Converged {
		fmt.Fprintf(r.w, "%s %s\n", IconAnchor,
			Styles.Title.Render(fmt.Sprintf("converged after %s", countNoun(res.PassCount, "pass", "passes"))))
		return
	}
	fmt.Fprintf(r.w, "%s %s %s\n", IconAnchor,
		Styles.Title.Render(fmt.Sprintf("stopped after %s", countNoun(res.PassCount, "pass", "passes"))),
		Styles.Muted.Render("("+res.StopReason+")"))
}

func (r *Renderer) passLine(pass engine.PassResult) {
	if r.opts.Mode == ModePlain {
		fmt.Fprintf(r.w, "PASS %d: found=%d fixed=%d unfixable=%d errored=%d duration=%s\n",
			pass.Pass, pass.Found, pass.Fixed, pass.Unfixable, pass.Errored,
			pass.Duration.Round(time.Millisecond))
		return
	}

	if pass.Found == 0 {
		fmt.Fprintf(r.w, "  %s %s\n",
			Styles.Muted.Render(fmt.Sprintf("pass %d:", pass.Pass)),
			Styles.Success.Render("clean"))
		return
	}
	fmt.Fprintf(r.w, "  %s %d found, %d fixed\n",
		Styles.Muted.Render(fmt.Sprintf("pass %d:", pass.Pass)),
		pass.Found, pass.Fixed)
}

func (r *Renderer) outcomeLine(oc engine.DiagnosticOutcome) {
	if oc.Outcome == engine.OutcomeFixed && !r.opts.Verbose && oc.Diff == "" {
		return
	}

	loc := oc.Diagnostic.File
	if oc.Diagnostic.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, oc.Diagnostic.Line)
	}

	if r.opts.Mode == ModePlain {
		fmt.Fprintf(r.w, "OUTCOME: %s %s %s\n", oc.Outcome, loc, oc.Detail)
		if oc.Diff != "" {
			fmt.Fprint(r.w, oc.Diff)
		}
		return
	}

	icon := IconPending
	switch oc.Outcome {
	case engine.OutcomeFixed:
		icon = IconSuccess
	case engine.OutcomeErrored:
		icon = IconError
	}
	fmt.Fprintf(r.w, "    %s %s %s\n", icon.Render(), loc,
		Styles.Muted.Render("("+oc.Detail+")"))
	if oc.Diff != "" {
		fmt.Fprint(r.w, r.colorizeDiff(oc.Diff))
	}
}

func (r *Renderer) runSummary(res *engine.Result) {
	if r.opts.Mode == ModePlain {
		if res.StopReason == engine.StopCommitFailed && res.BackupDir != "" {
			fmt.Fprintf(r.w, "BACKUPS: %s\n", res.BackupDir)
		}
		return
	}

	fmt.Fprintf(r.w, "\n%s %s  %s %s  %s %s\n",
		Styles.Success.Render(fmt.Sprintf("%d", res.Fixed)), Styles.Muted.Render("fixed"),
		Styles.Warning.Render(fmt.Sprintf("%d", res.Unfixable)), Styles.Muted.Render("unfixable"),
		Styles.Error.Render(fmt.Sprintf("%d", res.Errored)), Styles.Muted.Render("errored"),
	)
	if (r.opts.Verbose || res.StopReason == engine.StopCommitFailed) && res.BackupDir != "" {
		fmt.Fprintf(r.w, "%s\n", Styles.Muted.Render("backups: "+res.BackupDir))
	}
}

// colorizeDiff styles unified diff lines in pretty mode.
func (r *Renderer) colorizeDiff(diff string) string {
	if r.opts.Mode != ModePretty {
		return diff
	}

	var b strings.Builder
	for _, line := range strings.SplitAfter(diff, "\n") {
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+"):
			b.WriteString(Styles.DiffAdd.Render(strings.TrimSuffix(line, "\n")) + "\n")
		case strings.HasPrefix(line, "-"):
			b.WriteString(Styles.DiffDel.Render(strings.TrimSuffix(line, "\n")) + "\n")
		case strings.HasPrefix(line, "@@"):
			b.WriteString(Styles.DiffHunk.Render(strings.TrimSuffix(line, "\n")) + "\n")
		default:
			b.WriteString(line)
		}
	}
	return b.String()
}

// =============================================================================
// Analysis
// =============================================================================

// Diagnostics renders a single analysis pass without fix outcomes, for
// analyze-only invocations.
func (r *Renderer) Diagnostics(res *analyzer.Result) error {
	if res == nil {
		return nil
	}
	if r.opts.Mode == ModeJSON {
		return r.encodeJSON(res)
	}

	if r.opts.Mode == ModePlain {
		fmt.Fprintf(r.w, "ANALYZE: found=%d duration=%s\n",
			len(res.Diagnostics), res.Duration.Round(time.Millisecond))
		for _, d := range res.Diagnostics {
			fmt.Fprintf(r.w, "DIAG: %s %s %s\n", d.Severity, diagLoc(d), d.Message)
		}
		return nil
	}

	if res.Clean() {
		fmt.Fprintf(r.w, "%s %s\n", IconSuccess.Render(), Styles.Success.Render("no findings"))
		return nil
	}
	fmt.Fprintf(r.w, "%s %s\n", IconAnchor.Render(),
		Styles.Title.Render(countNoun(len(res.Diagnostics), "finding", "findings")))
	for _, d := range res.Diagnostics {
		icon := IconPending
		switch d.Severity {
		case analyzer.SeverityError:
			icon = IconError
		case analyzer.SeverityWarning:
			icon = IconWarning
		}
		line := fmt.Sprintf("  %s %s %s", icon.Render(), diagLoc(d), d.Message)
		if d.Identifier != "" {
			line += " " + Styles.Muted.Render("("+d.Identifier+")")
		}
		fmt.Fprintln(r.w, line)
	}
	return nil
}

func diagLoc(d analyzer.Diagnostic) string {
	if d.Line > 0 {
		return fmt.Sprintf("%s:%d", d.File, d.Line)
	}
	return d.File
}

// =============================================================================
// History, caches, locks
// =============================================================================

// History renders recent runs, newest first.
func (r *Renderer) History(records []history.Record) error {
	if r.opts.Mode == ModeJSON {
		if records == nil {
			records = []history.Record{}
		}
		return r.encodeJSON(records)
	}

	if len(records) == 0 {
		if r.opts.Mode == ModePretty {
			fmt.Fprintln(r.w, Styles.Muted.Render("no recorded runs"))
		}
		return nil
	}

	if r.opts.Mode == ModePretty {
		fmt.Fprintf(r.w, "%s %s\n", IconAnchor, Styles.Title.Render("recent runs"))
	}
	for _, rec := range records {
		r.historyLine(rec)
	}
	return nil
}

func (r *Renderer) historyLine(rec history.Record) {
	started := rec.StartedAt.Format("2006-01-02 15:04:05")
	duration := rec.Duration.Round(time.Millisecond)

	if r.opts.Mode == ModePlain {
		fmt.Fprintf(r.w, "HISTORY: id=%s started=%s passes=%d fixed=%d unfixable=%d errored=%d reason=%s duration=%s\n",
			rec.ID, started, rec.Passes, rec.Fixed, rec.Unfixable, rec.Errored,
			rec.StopReason, duration)
		return
	}

	icon := IconWarning
	if rec.Converged {
		icon = IconSuccess
	}
	fmt.Fprintf(r.w, "  %s %s  %s  %s  %d fixed, %d unfixable, %d errored  %s\n",
		icon.Render(),
		Styles.Bold.Render(rec.ID),
		Styles.Muted.Render(started),
		countNoun(rec.Passes, "pass", "passes"),
		rec.Fixed, rec.Unfixable, rec.Errored,
		Styles.Muted.Render(rec.StopReason+", "+duration.String()))
}

// CacheStats renders type and flow cache summaries together.
func (r *Renderer) CacheStats(types typecache.TypeCacheStats, flows typecache.FlowCacheStats) error {
	if r.opts.Mode == ModeJSON {
		return r.encodeJSON(struct {
			Types typecache.TypeCacheStats `json:"types"`
			Flows typecache.FlowCacheStats `json:"flows"`
		}{types, flows})
	}

	if r.opts.Mode == ModePlain {
		fmt.Fprintf(r.w, "TYPES: entries=%d subjects=%d loaded=%t path=%s\n",
			types.Entries, types.Subjects, types.Loaded, types.Path)
		fmt.Fprintf(r.w, "FLOWS: origins=%d edges=%d loaded=%t path=%s\n",
			flows.Origins, flows.Edges, flows.Loaded, flows.Path)
		return nil
	}

	fmt.Fprintf(r.w, "%s %s\n", IconAnchor, Styles.Title.Render("caches"))
	fmt.Fprintf(r.w, "  types: %s across %s %s\n",
		countNoun(types.Entries, "entry", "entries"),
		countNoun(types.Subjects, "subject", "subjects"),
		Styles.Muted.Render(cacheSuffix(types.Path, types.Loaded)))
	fmt.Fprintf(r.w, "  flows: %s, %s %s\n",
		countNoun(flows.Origins, "origin", "origins"),
		countNoun(flows.Edges, "edge", "edges"),
		Styles.Muted.Render(cacheSuffix(flows.Path, flows.Loaded)))
	return nil
}

// Locks renders the markers currently present in the lock directory.
func (r *Renderer) Locks(held []lock.Held) error {
	if r.opts.Mode == ModeJSON {
		if held == nil {
			held = []lock.Held{}
		}
		return r.encodeJSON(held)
	}

	if len(held) == 0 {
		if r.opts.Mode == ModePretty {
			fmt.Fprintln(r.w, Styles.Muted.Render("no held locks"))
		}
		return nil
	}

	for _, h := range held {
		age := h.Age.Round(time.Second)
		if r.opts.Mode == ModePlain {
			fmt.Fprintf(r.w, "LOCK: resource=%s pid=%d age=%s stale=%t\n",
				h.Resource, h.PID, age, h.Stale)
			continue
		}

		icon, note := IconPending, ""
		if h.Stale {
			icon, note = IconWarning, "  "+Styles.Warning.Render("stale")
		}
		fmt.Fprintf(r.w, "  %s %s  %s%s\n", icon.Render(), h.Resource,
			Styles.Muted.Render(fmt.Sprintf("pid=%d age=%s", h.PID, age)), note)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func (r *Renderer) encodeJSON(v any) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// countNoun formats "1 pass" / "3 passes".
func countNoun(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}

// cacheSuffix renders the parenthetical cache location note.
func cacheSuffix(path string, loaded bool) string {
	state := "cold"
	if loaded {
		state = "loaded"
	}
	if path == "" {
		return "(ephemeral, " + state + ")"
	}
	return "(" + path + ", " + state + ")"
}
