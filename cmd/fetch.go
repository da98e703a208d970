package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kquick/hydra/internal/cmd"
	"github.com/kquick/hydra/internal/fetcher"
)

// FetchCmd should be used to represent the 'fetch' command.
type FetchCmd struct {
	*cmd.BaseCmd
	Type    string
	Project string
	Jobset  string
	Input   string
}

// NewFetchCmd creates a newly configured (Cobra) command.
func NewFetchCmd(baseCmd *cmd.BaseCmd) *cobra.Command {
	c := &FetchCmd{
		BaseCmd: baseCmd,
	}

	cobraCommand := &cobra.Command{
		Use:   "fetch <value...>",
		Short: "Resolves one declared input into a content-addressed artifact.",
		Long:  c.longDescription(),
		RunE:  c.run,
	}

	cobraCommand.Flags().StringVar(
		&c.Type,
		"type",
		"git",
		"Input type to resolve (e.g. git, path)",
	)

	cobraCommand.Flags().StringVar(
		&c.Project,
		"project",
		"",
		"Project the input declaration belongs to, for configuration overrides",
	)

	cobraCommand.Flags().StringVar(
		&c.Jobset,
		"jobset",
		"",
		"Jobset the input declaration belongs to, for configuration overrides",
	)

	cobraCommand.Flags().StringVar(
		&c.Input,
		"input-name",
		"",
		"Name of the input declaration, for configuration overrides",
	)

	return cobraCommand
}

// longDescription returns the long version of the command description.
func (c *FetchCmd) longDescription() string {
	return `Resolves one declared input into an immutable, content-addressed artifact.
The positional arguments form the input value string, e.g.:

  hydra-fetch fetch https://example.org/repo.git release-1.0
  hydra-fetch fetch --type path /srv/channels/nixpkgs

The resolved result document is printed to stdout as JSON.`
}

// run is configured (via NewFetchCmd) to be called by the Cobra framework when the command is executed.
func (c *FetchCmd) run(cobraCmd *cobra.Command, args []string) error {
	value := strings.TrimSpace(strings.Join(args, " "))
	if value == "" {
		return fmt.Errorf("an input value is required and cannot be empty")
	}

	registry, closer, err := c.CreatePipeline()
	if err != nil {
		return err
	}
	defer closer()

	node, err := registry.Resolve(cobraCmd.Context(), fetcher.Input{
		Type:    c.Type,
		Value:   value,
		Project: c.Project,
		Jobset:  c.Jobset,
		Name:    c.Input,
	})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(node, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	fmt.Fprintln(cobraCmd.OutOrStdout(), string(out))

	return nil
}
