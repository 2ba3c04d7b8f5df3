package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alisufyan143/location-analyzer-v2/internal/api"
	"github.com/alisufyan143/location-analyzer-v2/internal/config"
	"github.com/alisufyan143/location-analyzer-v2/internal/pipeline"
	"github.com/alisufyan143/location-analyzer-v2/internal/server"
)

func newPredictCmd(cfgFile *string) *cobra.Command {
	var branch string
	cmd := &cobra.Command{
		Use:   "predict <postcode>",
		Short: "Runs one forecast and prints it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			app, err := server.Build(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer func() { _ = app.Close(context.Background()) }()

			pred, err := app.Service().Predict(cmd.Context(), pipeline.Request{
				Postcode:   args[0],
				BranchName: branch,
			})
			if err != nil {
				return fmt.Errorf("predict %s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(api.NewPredictResponse(pred)); err != nil {
				return fmt.Errorf("encode prediction: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch name echoed in the features")
	return cmd
}
