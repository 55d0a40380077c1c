package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/visibility-gap/internal/db"
	"github.com/jonathan/visibility-gap/internal/observability"
	"github.com/jonathan/visibility-gap/internal/pipeline"
	"github.com/jonathan/visibility-gap/internal/types"
)

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Run the search, citation and gap phases for a project",
	Long: "Launch search and citation concurrently, then gap with the citation run, and wait until " +
		"every phase is done. With --phase only that phase runs. Ctrl-C cancels running phases.",
	RunE: runLaunch,
}

var (
	launchProject string
	launchNiche   string
	launchQueries []string
	launchPhase   string
	launchConfirm bool
	launchJSON    bool
)

func init() {
	launchCmd.Flags().StringVar(&launchProject, "project", "", "Project ID (required)")
	launchCmd.Flags().StringVar(&launchNiche, "niche", "", "Niche ID probed by the citation phase")
	launchCmd.Flags().StringArrayVarP(&launchQueries, "query", "q", nil, "Search query (repeatable)")
	launchCmd.Flags().StringVar(&launchPhase, "phase", "", "Run a single phase: search, citation or gap")
	launchCmd.Flags().BoolVar(&launchConfirm, "confirm", false, "Overwrite previous completed runs without asking")
	launchCmd.Flags().BoolVar(&launchJSON, "json", false, "Print the final jobs as JSON")
	_ = launchCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(launchCmd)
}

func runLaunch(cmd *cobra.Command, _ []string) error {
	var kind types.PhaseKind
	if launchPhase != "" {
		k, ok := types.ParsePhaseKind(launchPhase)
		if !ok {
			return fmt.Errorf("unknown phase %q (want search, citation or gap)", launchPhase)
		}
		kind = k
	}
	needQueries := kind == "" || kind == types.PhaseSearch
	needNiche := kind == "" || kind == types.PhaseCitation
	if needQueries && len(launchQueries) == 0 {
		return fmt.Errorf("at least one --query is required for the search phase")
	}
	if needNiche && launchNiche == "" {
		return fmt.Errorf("--niche is required for the citation phase")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := connect(ctx, cfg, false, true)
	if err != nil {
		return err
	}
	defer d.Close()

	opts := []pipeline.Option{
		pipeline.WithConfig(cfg.Pipeline()),
		pipeline.WithLogger(d.logger),
		pipeline.WithConfirm(promptConfirm(cmd.InOrStdin(), cmd.ErrOrStderr())),
	}
	var recorder *db.Recorder
	if d.db != nil {
		recorder = db.NewRecorder(d.db, d.provider, d.logger)
		opts = append(opts, pipeline.WithPriorRuns(d.db), pipeline.WithResultSink(recorder))
	}
	o := pipeline.New(launchProject, d.provider, opts...)

	if d.db != nil {
		jobs, err := d.db.ListJobs(ctx, launchProject)
		if err != nil {
			return err
		}
		o.Registry().Restore(jobs...)
		untrack := recorder.Track(o.Registry())
		defer recorder.Close()
		defer untrack()
	}

	unsubscribe := o.Registry().Subscribe(progressPrinter(cmd.ErrOrStderr()))
	defer unsubscribe()

	params := pipeline.LaunchParams{
		Queries:   launchQueries,
		NicheID:   launchNiche,
		Confirmed: launchConfirm,
	}

	var launchErr error
	if kind == "" {
		var res pipeline.AllResult
		res, launchErr = o.LaunchAll(ctx, params)
		if res.Skipped != pipeline.SkipNone {
			fmt.Fprintf(cmd.ErrOrStderr(), "Nothing launched: %s\n", res.Skipped)
		} else if res.Gap.Skipped != pipeline.SkipNone {
			fmt.Fprintf(cmd.ErrOrStderr(), "Gap not launched: %s %v\n", res.Gap.Skipped, res.Gap.Missing)
		}
	} else {
		var res pipeline.LaunchResult
		res, launchErr = o.LaunchSingle(ctx, kind, params)
		if res.Skipped != pipeline.SkipNone {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s not launched: %s %v\n", kind, res.Skipped, res.Missing)
		}
	}

	if launchJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(o.Jobs()); err != nil {
			return err
		}
	} else {
		observability.NewPrinter(cmd.OutOrStdout()).PrintJobs(o.Jobs())
	}
	return launchErr
}

// promptConfirm asks on out whether a completed run may be overwritten and reads the answer
// from in. Anything but y or yes declines.
func promptConfirm(in io.Reader, out io.Writer) pipeline.ConfirmFunc {
	reader := bufio.NewReader(in)
	return func(_ context.Context, kind types.PhaseKind) bool {
		fmt.Fprintf(out, "A completed %s run already exists. Overwrite it? [y/N] ", kind)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(out)
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		}
		return false
	}
}

// progressPrinter prints one line per job transition.
func progressPrinter(out io.Writer) pipeline.ProgressCallback {
	return func(e pipeline.ProgressEvent) {
		line := fmt.Sprintf("[%s] %s %3.0f%%", e.Phase, e.Status, e.Progress*100)
		if e.Message != "" {
			line += " " + e.Message
		}
		fmt.Fprintln(out, line)
	}
}
