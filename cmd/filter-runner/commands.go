package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/filter-runner/internal/confirm"
	"github.com/hochfrequenz/filter-runner/internal/domain"
	"github.com/hochfrequenz/filter-runner/internal/drift"
	"github.com/hochfrequenz/filter-runner/internal/history"
	"github.com/hochfrequenz/filter-runner/internal/observer"
)

var (
	runArgs     []string
	assumeYes   bool
	rerunBefore int
	rerunFrom   int
	rerunRows   []int
	rerunLatest bool
	historyRuns int
	checkWatch  bool
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run DEFINITION [DEFINITION...]",
		Short: "Run filters as one chained session",
		Long: `Run the given filter definitions one after another. Definitions are names
below the definitions directory or paths. Argument values are set with
--arg POSITION:INDEX=VALUE, both counted from 0; unset values fall back to
the last value used, then to the declared default.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRun,
	}
	runCmd.Flags().StringArrayVar(&runArgs, "arg", nil, "argument value as POSITION:INDEX=VALUE")
	rootCmd.AddCommand(runCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show executed filters",
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyRuns, "sessions", 0, "also show the last N sessions")
	historyCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the history",
		RunE:  runHistoryClear,
	})
	rootCmd.AddCommand(historyCmd)

	// rerun command
	rerunCmd := &cobra.Command{
		Use:   "rerun",
		Short: "Replay filters from the history",
		Long: `Replay a part of the history as a new session. Rows are numbered as
shown by 'filter-runner history'. Before running, the records are checked
against the current definitions: broken definitions block the run, changed
backing files are adopted after confirmation.`,
		RunE: runRerun,
	}
	rerunCmd.Flags().IntVar(&rerunBefore, "before", 0, "replay all rows before ROW")
	rerunCmd.Flags().IntVar(&rerunFrom, "from", 0, "replay ROW and everything after it")
	rerunCmd.Flags().IntSliceVar(&rerunRows, "rows", nil, "replay the given rows")
	rerunCmd.Flags().BoolVar(&rerunLatest, "latest", false, "replay the most recent row")
	rerunCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "accept changed definitions without asking")
	rerunCmd.MarkFlagsMutuallyExclusive("before", "from", "rows", "latest")
	rootCmd.AddCommand(rerunCmd)

	// check command
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check the history against the current definitions",
		RunE:  runCheck,
	}
	checkCmd.Flags().BoolVar(&checkWatch, "watch", false, "re-check whenever a definition changes")
	rootCmd.AddCommand(checkCmd)

	// defs command
	defsCmd := &cobra.Command{
		Use:   "defs",
		Short: "List filter definitions",
		RunE:  runDefs,
	}
	rootCmd.AddCommand(defsCmd)

	// tui command
	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch TUI dashboard",
		RunE:  runTUI,
	}
	rootCmd.AddCommand(tuiCmd)
}

// argValue is one --arg flag
type argValue struct {
	position int
	index    int
	value    string
}

func parseArgFlag(s string) (argValue, error) {
	target, value, ok := strings.Cut(s, "=")
	if !ok {
		return argValue{}, fmt.Errorf("invalid --arg %q: expected POSITION:INDEX=VALUE", s)
	}
	pos, idx, ok := strings.Cut(target, ":")
	if !ok {
		return argValue{}, fmt.Errorf("invalid --arg %q: expected POSITION:INDEX=VALUE", s)
	}
	position, err := strconv.Atoi(pos)
	if err != nil || position < 0 {
		return argValue{}, fmt.Errorf("invalid --arg %q: bad position", s)
	}
	index, err := strconv.Atoi(idx)
	if err != nil || index < 0 {
		return argValue{}, fmt.Errorf("invalid --arg %q: bad index", s)
	}
	return argValue{position: position, index: index, value: value}, nil
}

// valuesByPosition groups --arg flags into one value list per pipeline position
func valuesByPosition(flags []string, positions int) ([][]string, error) {
	values := make([][]string, positions)
	for _, f := range flags {
		av, err := parseArgFlag(f)
		if err != nil {
			return nil, err
		}
		if av.position >= positions {
			return nil, fmt.Errorf("--arg %q: only %d filter(s) given", f, positions)
		}
		for len(values[av.position]) <= av.index {
			values[av.position] = append(values[av.position], "")
		}
		values[av.position][av.index] = av.value
	}
	return values, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	values, err := valuesByPosition(runArgs, len(args))
	if err != nil {
		return err
	}

	p := domain.NewPipeline()
	for i, name := range args {
		def, err := a.defs.Load(a.defs.Resolve(name))
		if err != nil {
			return err
		}
		rec, err := def.NewRecord(values[i], a.argValues)
		if err != nil {
			return err
		}
		p.Add(rec)
	}

	return a.execute(ctx, p, cmd.OutOrStdout())
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rows := a.history.Rows()
	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No filters executed yet")
	} else {
		findings := driftByRow(a)
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ROW\tFILTER\tSTARTED\tELAPSED\tEXIT\tDRIFT\tARGUMENTS")
		for _, row := range rows {
			exit := strconv.Itoa(row.ExitCode)
			if row.UserCanceled {
				exit += " (canceled)"
			}
			code := "-"
			if c, ok := findings[row.Index]; ok {
				code = string(c)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				row.Index+1, row.Name, humanize.Time(row.StartedAt), formatElapsed(row.Elapsed),
				exit, code, strings.Join(row.Values, " "))
		}
		w.Flush()
	}

	if historyRuns > 0 && a.store != nil {
		runs, err := a.store.ListRecentSessionRuns(ctx, historyRuns)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout())
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tSTATE\tOUTCOME\tFILTERS\tFINISHED\tERROR")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
				shortRunID(run.ID), run.State, run.Outcome, run.Executed, run.Records,
				humanize.Time(run.FinishedAt), run.ErrorMessage)
		}
		w.Flush()
	}
	return nil
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	n := a.history.Len()
	if err := a.history.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d record(s)\n", n)
	return nil
}

// selectRows builds the replay pipeline from the rerun flags. Rows are 1-based.
func selectRows(cmd *cobra.Command, h *history.Store) (*domain.Pipeline, error) {
	switch {
	case cmd.Flags().Changed("before"):
		return h.Before(rerunBefore - 1)
	case cmd.Flags().Changed("from"):
		return h.From(rerunFrom - 1)
	case cmd.Flags().Changed("rows"):
		rows := make([]int, len(rerunRows))
		for i, r := range rerunRows {
			rows[i] = r - 1
		}
		return h.Selected(rows)
	default:
		return h.Latest()
	}
}

func runRerun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := selectRows(cmd, a.history)
	if errors.Is(err, history.ErrNothingSelected) {
		return fmt.Errorf("nothing to replay")
	}
	if err != nil {
		return err
	}

	var c confirm.Confirmer = newStdinConfirmer(os.Stdin, cmd.ErrOrStderr(), a.log)
	if assumeYes {
		c = confirm.Always
	}
	report, err := a.validator.CheckExecutable(p, c)
	if err != nil {
		return err
	}
	for _, f := range report.Warnings() {
		fmt.Fprintf(cmd.OutOrStdout(), "  adopted %s\n", f)
	}

	return a.execute(ctx, p, cmd.OutOrStdout())
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	printReport(cmd, a)
	if !checkWatch {
		return nil
	}

	changed := make(chan string, 16)
	dw, err := observer.NewDefinitionWatcher(func(defDir string, files []string) {
		select {
		case changed <- defDir:
		default:
		}
	}, a.log)
	if err != nil {
		return err
	}
	for _, dir := range historyDefinitionDirs(a.history) {
		if err := dw.AddDefinition(dir); err != nil {
			a.log.Warn("cannot watch definition", "dir", dir, "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	dw.Start(ctx)
	defer dw.Stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %d definition(s), Ctrl-C to stop\n", len(dw.Watched()))
	for {
		select {
		case <-ctx.Done():
			return nil
		case dir := <-changed:
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s changed at %s\n", dir, time.Now().Format("15:04:05"))
			printReport(cmd, a)
		}
	}
}

func printReport(cmd *cobra.Command, a *app) {
	out := cmd.OutOrStdout()
	p, err := a.history.From(0)
	if err != nil {
		fmt.Fprintln(out, "History is empty")
		return
	}
	report := a.validator.Inspect(p)
	if report.Empty() {
		fmt.Fprintf(out, "All %d record(s) can be replayed\n", p.Len())
		return
	}
	for _, f := range report.Findings {
		fmt.Fprintf(out, "  %-7s %s\n", f.Code.Severity(), f)
	}
	fmt.Fprintf(out, "%d fatal, %d warning(s)\n", len(report.Fatal()), len(report.Warnings()))
}

func runDefs(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	refs, err := a.defs.List()
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No definitions found in %s\n", a.defs.Root())
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMODULE\tARGS\tDIR")
	for _, ref := range refs {
		def, err := a.defs.Load(ref)
		if err != nil {
			fmt.Fprintf(w, "%s\t%s\t-\t%s\n", ref.Name(), "error: "+err.Error(), ref.Dir)
			continue
		}
		fmt.Fprintf(w, "%s\t%s %s\t%d\t%s\n", def.Name, def.Module.Type, def.Module.Path, len(def.Args), ref.Dir)
	}
	return w.Flush()
}

// driftByRow inspects the whole history and maps each drifted row to its code
func driftByRow(a *app) map[int]drift.Code {
	out := make(map[int]drift.Code)
	p, err := a.history.From(0)
	if err != nil {
		return out
	}
	for _, f := range a.validator.Inspect(p).Findings {
		out[f.Index] = f.Code
	}
	return out
}

// historyDefinitionDirs returns the distinct definition directories referenced by the history
func historyDefinitionDirs(h *history.Store) []string {
	seen := make(map[string]bool)
	var dirs []string
	for i := 0; i < h.Len(); i++ {
		rec, err := h.Record(i)
		if err != nil {
			continue
		}
		dir := rec.Definition().Dir
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

func formatElapsed(d time.Duration) string {
	return d.Round(100 * time.Millisecond).String()
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
