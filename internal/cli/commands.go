package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/services"
)

// ErrNotConfirmed is returned by reset when the wipe was not confirmed.
var ErrNotConfirmed = errors.New("reset not confirmed")

const timeLayout = "2006-01-02 15:04"

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func newStatusCommand(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, data freshness, storage and sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			online := a.probe(ctx)
			if online {
				fmt.Fprintln(out, "connection: online")
			} else {
				fmt.Fprintln(out, "connection: offline")
				since, err := a.manager.OfflineSince(ctx)
				if err != nil {
					return err
				}
				if since != nil {
					d := a.manager.CheckOfflineDuration(since)
					fmt.Fprintf(out, "offline since: %s (%s)\n", since.Local().Format(timeLayout), humanize.Time(*since))
					if d.Exceeded {
						fmt.Fprintln(out, "warning: offline longer than allowed, connect to sync")
					}
				}
			}

			fresh, err := a.manager.GetDataFreshness(ctx)
			if err != nil {
				return err
			}
			switch {
			case fresh.LastUpdated == nil:
				fmt.Fprintln(out, "jobs: never downloaded")
			case fresh.IsFresh:
				fmt.Fprintf(out, "jobs: fresh, updated %s\n", humanize.Time(*fresh.LastUpdated))
			default:
				fmt.Fprintf(out, "jobs: stale, updated %s\n", humanize.Time(*fresh.LastUpdated))
			}

			stats, err := a.storage.GetStorageStats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "storage: %s in %d photos (%s)\n", stats.Photos.FormattedSize, stats.Photos.PhotoCount, stats.Health)
			fmt.Fprintf(out, "sync queue: %d pending, %d failed\n", stats.PendingSync, stats.FailedSync)
			fmt.Fprintf(out, "conflicts: %d unresolved\n", stats.UnresolvedConflicts)

			pending, err := a.messaging.GetPendingCount(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "messages: %d pending\n", pending)

			recs, err := a.storage.GetCleanupRecommendations(ctx)
			if err != nil {
				return err
			}
			for _, r := range recs {
				fmt.Fprintf(out, "recommendation [%s] %s: %s\n", r.Priority, r.Kind, r.Message)
			}
			return nil
		},
	}
}

func newJobsCommand(app func() *App) *cobra.Command {
	var (
		status   string
		upcoming bool
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs stored on the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			jobs, err := a.manager.GetLocalJobs(cmd.Context(), services.JobFilter{
				Status:   models.JobStatus(status),
				Upcoming: upcoming,
			})
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no jobs")
				return nil
			}

			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "ID\tSTATUS\tSCHEDULED\tADDRESS\tCHECKLIST\tFLAGS")
			for _, j := range jobs {
				done, total := progress(j.ChecklistProgress)
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d/%d\t%s\n",
					j.ServerID, j.Status, j.ScheduledAt.Local().Format(timeLayout), j.Data.Home.Address,
					done, total, jobFlags(j))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only jobs in this status")
	cmd.Flags().BoolVar(&upcoming, "upcoming", false, "only jobs scheduled from now on")
	return cmd
}

func progress(p models.ChecklistProgress) (done, total int) {
	for _, sp := range p {
		done += len(sp.Completed)
		total += len(sp.Total)
	}
	return done, total
}

func jobFlags(j *models.Job) string {
	var flags []string
	if j.RequiresSync {
		flags = append(flags, "unsynced")
	}
	if j.Locked {
		flags = append(flags, "locked")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

func newPreloadCommand(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "preload",
		Short: "Download the jobs scheduled today and tomorrow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			// initialize while still marked offline so the download below
			// is the only one
			if err := a.manager.Initialize(ctx, a.token); err != nil {
				return err
			}
			if !a.probe(ctx) {
				return fmt.Errorf("server %s unreachable", a.config.ServerEndpointAddr)
			}
			res, err := a.manager.PreloadJobs(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d, updated %d, kept %d local, %d out of range\n",
				res.Created, res.Updated, res.Skipped, res.OutOfRange)
			return nil
		},
	}
}

func newCleanupCommand(app func() *App) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Reclaim device storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			run := a.storage.RunCleanup
			if force {
				run = a.storage.ForceCriticalCleanup
			}
			rep, err := run(cmd.Context())

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "jobs removed: %d\n", rep.JobsRemoved)
			fmt.Fprintf(out, "photos removed: %d (abandoned %d, orphans %d, forced %d)\n",
				rep.PhotosRemoved, rep.PhotosAbandoned, rep.OrphansRemoved, rep.ForcedPhotosRemoved)
			fmt.Fprintf(out, "queue entries removed: %d\n", rep.QueueEntriesRemoved)
			fmt.Fprintf(out, "conflicts removed: %d\n", rep.ConflictsRemoved)
			fmt.Fprintf(out, "messages removed: %d\n", rep.MessagesRemoved)
			fmt.Fprintf(out, "storage health: %s\n", rep.Health)
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "delete every uploaded photo if storage stays critical")
	return cmd
}

func newConflictsCommand(app func() *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Inspect and resolve sync conflicts",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List unresolved conflicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			conflicts, err := a.resolver.GetUnresolvedConflicts(cmd.Context())
			if err != nil {
				return err
			}
			if len(conflicts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no unresolved conflicts")
				return nil
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "ID\tJOB\tTYPE\tCREATED\tREASON")
			for _, c := range conflicts {
				reason := c.Reason
				if reason == "" {
					reason = "-"
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
					c.ID, c.JobID, c.ConflictType, c.CreatedAt.Local().Format(timeLayout), reason)
			}
			return tw.Flush()
		},
	}

	resolve := &cobra.Command{
		Use:   "resolve <id> <local_wins|server_wins|merged>",
		Short: "Resolve a conflict by hand",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			res := models.Resolution(args[1])
			if err := a.resolver.ManualResolve(cmd.Context(), args[0], res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "conflict %s resolved: %s\n", args[0], res)
			return nil
		},
	}

	auto := &cobra.Command{
		Use:   "auto",
		Short: "Apply the automatic policies to every unresolved conflict",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			results, err := a.resolver.AutoResolveAll(cmd.Context())
			out := cmd.OutOrStdout()
			for _, r := range results {
				if r.Resolved {
					fmt.Fprintf(out, "%s: %s (%s)\n", r.ConflictID, r.Resolution, r.Reason)
				} else {
					fmt.Fprintf(out, "%s: needs manual resolution (%s)\n", r.ConflictID, r.Reason)
				}
			}
			return err
		},
	}

	cmd.AddCommand(list, resolve, auto)
	return cmd
}

func newDrainCommand(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Replay queued changes to the server once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			a.probe(ctx)

			rep, err := a.drain.Drain(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if rep.Skipped {
				fmt.Fprintln(out, "offline, nothing sent")
				return nil
			}
			fmt.Fprintf(out, "jobs: %d, completed: %d, retried: %d, failed: %d, conflicts: %d\n",
				rep.Jobs, rep.Completed, rep.Retried, rep.Failed, rep.Conflicts)
			if len(rep.Synced) > 0 {
				ids := make([]string, len(rep.Synced))
				for i, id := range rep.Synced {
					ids[i] = strconv.FormatInt(id, 10)
				}
				fmt.Fprintf(out, "synced jobs: %s\n", strings.Join(ids, ", "))
			}
			return nil
		},
	}
}

func newResetCommand(app func() *App) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe every job, photo and queued change from the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			if !yes {
				ok, err := confirm(cmd)
				if err != nil {
					return err
				}
				if !ok {
					return ErrNotConfirmed
				}
			}
			if err := a.manager.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "local data wiped")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

// confirm asks on an interactive terminal. Without one the answer is no.
func confirm(cmd *cobra.Command) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("%w: pass --yes when not running in a terminal", ErrNotConfirmed)
	}
	fmt.Fprint(cmd.OutOrStdout(), "Unsynced changes will be lost. Wipe local data? [y/N] ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func newRunCommand(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync engine until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app().Serve(ctx)
		},
	}
}
