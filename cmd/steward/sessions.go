package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/martinemde/steward/sessionstore"
)

func newSessionsCommand(a *app) *cobra.Command {
	var workDir string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions started in a working directory, including kimi CLI sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := a.workDir(workDir)
			if err != nil {
				return err
			}
			svc, cleanup, err := a.openService()
			if err != nil {
				return err
			}
			defer cleanup()

			infos, err := svc.Sessions(dir)
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No sessions in %s\n", dir)
				return nil
			}
			return printSessions(cmd.OutOrStdout(), infos)
		},
	}
	cmd.Flags().StringVarP(&workDir, "work-dir", "w", "", "working directory (default from config)")
	return cmd
}

func printSessions(out io.Writer, infos []sessionstore.Info) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUPDATED\tTITLE")
	for _, info := range infos {
		updated := time.Unix(info.UpdatedAt, 0).Local().Format("2006-01-02 15:04")
		fmt.Fprintf(w, "%s\t%s\t%s\n", info.ID, updated, info.Title)
	}
	return w.Flush()
}

func newHistoryCommand(a *app) *cobra.Command {
	var workDir string
	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Show the messages of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var dir string
			if workDir != "" {
				var err error
				if dir, err = a.workDir(workDir); err != nil {
					return err
				}
			}
			svc, cleanup, err := a.openService()
			if err != nil {
				return err
			}
			defer cleanup()

			msgs, err := svc.History(args[0], dir)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), msgs)
			return nil
		},
	}
	cmd.Flags().StringVarP(&workDir, "work-dir", "w", "", "working directory the session ran in (default: the session's own)")
	return cmd
}

func printHistory(out io.Writer, msgs []sessionstore.Message) {
	for i, m := range msgs {
		if i > 0 {
			fmt.Fprintln(out)
		}
		switch m.Role {
		case "user":
			cyan.Fprintln(out, "> "+m.Content)
		default:
			fmt.Fprintln(out, m.Content)
		}
		for _, c := range m.ToolCalls {
			faint.Fprintf(out, "  [%s %s]\n", c.Name, c.Arguments)
		}
	}
}

func newDeleteCommand(a *app) *cobra.Command {
	var workDir string
	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its kimi CLI log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var dir string
			if workDir != "" {
				var err error
				if dir, err = a.workDir(workDir); err != nil {
					return err
				}
			}
			svc, cleanup, err := a.openService()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := svc.DeleteSession(args[0], dir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&workDir, "work-dir", "w", "", "working directory the session ran in (default: the session's own)")
	return cmd
}
