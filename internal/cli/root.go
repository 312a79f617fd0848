package cli

import (
	"context"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/fieldsync/internal/config"
)

// Execute runs the command line in args and closes the engine afterwards,
// whether or not the command failed.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var app *App
	root := newRootCommand(&app)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if app != nil {
		err = errors.Join(err, app.Close())
	}
	return err
}

// newRootCommand builds the fieldsync command tree. The engine is opened
// into *app before a subcommand runs.
func newRootCommand(app **App) *cobra.Command {
	root := &cobra.Command{
		Use:           "fieldsync",
		Short:         "Offline field job engine",
		Long:          "fieldsync keeps assigned jobs, photos and messages on the device and syncs them when a connection is available.",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			*app, err = NewApp(cmd.Context(), cfg)
			return err
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	get := func() *App { return *app }
	root.AddCommand(
		newStatusCommand(get),
		newJobsCommand(get),
		newPreloadCommand(get),
		newCleanupCommand(get),
		newConflictsCommand(get),
		newDrainCommand(get),
		newResetCommand(get),
		newRunCommand(get),
	)
	return root
}
