package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/NarukamiTO/server-sub000/internal/core/resources"
	"github.com/NarukamiTO/server-sub000/internal/server"
)

// NewResourcesCommand lists the resources the server would announce.
func NewResourcesCommand(rootOpts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:          "resources",
		Short:        "List the configured resources with their ids",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				cfg, err := server.LoadConfigFile(rootOpts.ConfigPath)
				if err != nil {
					return err
				}
				file = cfg.ResourceFile
			}
			if file == "" {
				return fmt.Errorf("no resource file configured")
			}
			lookup, err := resources.LoadFile(file)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RESOURCE\tID\tVERSION")
			for _, ref := range lookup.Refs() {
				info, err := lookup.Resolve(ref)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%d\t%d\n", ref, info.ID, info.Version)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "resource list to read instead of the configured one")

	return cmd
}
