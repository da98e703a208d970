package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kquick/hydra/internal/cmd"
	"github.com/kquick/hydra/internal/config"
	"github.com/kquick/hydra/internal/flags"
	"github.com/kquick/hydra/internal/git"
	"github.com/kquick/hydra/internal/lock"
	"github.com/kquick/hydra/internal/runner"
)

// AuthorsCmd should be used to represent the 'authors' command.
type AuthorsCmd struct {
	*cmd.BaseCmd
}

// NewAuthorsCmd creates a newly configured (Cobra) command.
func NewAuthorsCmd(baseCmd *cmd.BaseCmd) *cobra.Command {
	c := &AuthorsCmd{
		BaseCmd: baseCmd,
	}

	cobraCommand := &cobra.Command{
		Use:   "authors <uri> <from> <to>",
		Short: "Lists the authors of commits between two revisions of a repository.",
		Long:  c.longDescription(),
		Args:  cobra.ExactArgs(3),
		RunE:  c.run,
	}

	return cobraCommand
}

// longDescription returns the long version of the command description.
func (c *AuthorsCmd) longDescription() string {
	return `Lists the commits between two resolved revisions of a repository, newest
first, with author name and email. Both endpoints must be full 40-character
commit ids; notification tooling uses this to address build reports.`
}

// run is configured (via NewAuthorsCmd) to be called by the Cobra framework when the command is executed.
func (c *AuthorsCmd) run(cobraCmd *cobra.Command, args []string) error {
	uri, from, to := args[0], args[1], args[2]
	ctx := cobraCmd.Context()

	logger := c.Logger()

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return err
	}
	settings, err := cfg.Effective(config.SectionGit, "", "", "", nil)
	if err != nil {
		return err
	}

	locks, err := lock.NewFileManager(logger, filepath.Join(flags.DataDir, "locks"))
	if err != nil {
		return err
	}

	mirror := git.NewMirror(logger, runner.NewExecRunner(logger), filepath.Join(flags.DataDir, "mirrors"), uri)

	release, err := locks.Acquire(ctx, mirror.Key())
	if err != nil {
		return err
	}
	defer release()

	if err := mirror.Ensure(ctx, settings.Timeout); err != nil {
		return err
	}
	if err := mirror.UpdateRef(ctx, to, settings.Timeout); err != nil {
		return err
	}

	commits, err := mirror.CommitsBetween(ctx, from, to, settings.Timeout)
	if err != nil {
		return err
	}

	for _, commit := range commits {
		fmt.Fprintf(cobraCmd.OutOrStdout(), "%s\t%s\t%s\n", commit.Revision, commit.Author, commit.Email)
	}

	return nil
}
