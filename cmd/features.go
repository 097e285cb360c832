package cmd

import (
	"github.com/spf13/cobra"

	"marketflow/internal/ui"
)

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Manage the feature catalog",
}

var featuresRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Upsert the built-in feature definitions into FEATURE_CATALOG",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), appOptions{skipPreflight: true})
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.pipeline.RegisterFeatures(cmd.Context()); err != nil {
			return err
		}
		ui.ShowSuccess("Feature catalog registered")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(featuresCmd)
	featuresCmd.AddCommand(featuresRegisterCmd)
}
