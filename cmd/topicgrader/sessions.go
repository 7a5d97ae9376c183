package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"topicgrader/application/commands"
	"topicgrader/application/queries"
	"topicgrader/domain/core/valueobjects"
)

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage sessions in the configured store",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored session ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := a.container.QueryBus.Ask(cmd.Context(), &queries.ListSessionsQuery{Stored: true})
			if err != nil {
				return err
			}
			ids := out.([]valueobjects.SessionID)
			if ids == nil {
				ids = []valueobjects.SessionID{}
			}
			return a.print(ids)
		},
	}

	del := &cobra.Command{
		Use:   "delete <session>",
		Short: "Delete a stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.container.CommandBus.Send(cmd.Context(), &commands.DeleteSessionCommand{
				SessionID: args[0],
				Purge:     true,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.errOut, "Deleted session %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}

// load rebuilds a stored session into this process
func (a *app) load(cmd *cobra.Command, id string) error {
	_, err := a.container.CommandBus.Send(cmd.Context(), &commands.LoadSessionCommand{SessionID: id})
	return err
}

func newNextCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "next <session>",
		Short: "Show the deepest unvisited branch of a stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd, args[0]); err != nil {
				return err
			}
			out, err := a.container.QueryBus.Ask(cmd.Context(), &queries.GetDeepestUnvisitedBranchQuery{SessionID: args[0]})
			if err != nil {
				return err
			}
			next := out.(*queries.TopicDTO)
			if next == nil {
				fmt.Fprintln(a.errOut, "Every branch has been visited")
				return nil
			}
			return a.print(next)
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <session>",
		Short: "Show statistics for a stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd, args[0]); err != nil {
				return err
			}
			out, err := a.container.QueryBus.Ask(cmd.Context(), &queries.GetStatsQuery{SessionID: args[0]})
			if err != nil {
				return err
			}
			return a.print(out)
		},
	}
}
