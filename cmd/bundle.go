package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alisufyan143/location-analyzer-v2/internal/artifact"
	"github.com/alisufyan143/location-analyzer-v2/internal/preprocess"
)

func newBundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Inspects model bundles",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <path>",
		Short: "Parses a bundle and checks that its schema can be produced",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := artifact.ParseFile(args[0])
			if err != nil {
				return fmt.Errorf("load bundle: %w", err)
			}
			if err := preprocess.CheckSatisfiable(b); err != nil {
				return fmt.Errorf("bundle %s: %w", b.Version, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bundle %s ok: %d features, %d members, aggregate %s\n",
				b.Version, len(b.Schema.Fields), len(b.Model.Members), b.Model.Aggregate)
			return nil
		},
	})
	return cmd
}
