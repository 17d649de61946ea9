package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/martinemde/steward/unifiedllm"
)

func newModelsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models available from the configured provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.buildClient()
			if err != nil {
				return err
			}
			defer client.Close()

			models, err := client.ListModels(cmd.Context(), a.cfg.Provider)
			if err != nil {
				return err
			}
			return printModels(cmd.OutOrStdout(), models, a.cfg.Model)
		},
	}
}

func printModels(out io.Writer, models []unifiedllm.ModelInfo, current string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tMODEL\tNAME\tCONTEXT")
	for _, m := range models {
		marker := ""
		if m.ID == current {
			marker = "*"
		}
		window := "-"
		if m.ContextWindow > 0 {
			window = fmt.Sprintf("%dk", m.ContextWindow/1024)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, m.ID, m.DisplayName, window)
	}
	return w.Flush()
}
