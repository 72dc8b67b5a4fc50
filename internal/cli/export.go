package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tuta-cli/tuta-export/internal/config"
	"github.com/tuta-cli/tuta-export/internal/errs"
	"github.com/tuta-cli/tuta-export/internal/exportwriter"
	"github.com/tuta-cli/tuta-export/internal/logging"
	"github.com/tuta-cli/tuta-export/internal/session"
)

var exportFolder string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every mail in a folder to .eml files",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportFolder == "" {
			return errs.New(errs.KindConfig, "export", fmt.Errorf("--folder is required"))
		}
		creds, err := config.ResolveCredentials()
		if err != nil {
			return err
		}

		writer, err := exportwriter.New(viper.GetString(config.KeyOutputDir))
		if err != nil {
			return err
		}

		runID := uuid.NewString()[:8]
		logging.Info("export run %s starting", runID)

		ctrl := session.New(newTransport())
		ctrl.PageSize = viper.GetInt(config.KeyPageSize)
		logging.Info("logging in as %s", creds.Username)
		if err := ctrl.Login(cmd.Context(), creds.Username, creds.Password); err != nil {
			return err
		}

		fanOut := viper.GetInt(config.KeyFanOut)
		logging.Info("exporting folder %q (fan-out %d)", exportFolder, fanOut)
		report, err := ctrl.Export(cmd.Context(), exportFolder, writer, fanOut)
		if err != nil {
			return err
		}

		for _, reason := range report.FailedReasons {
			logging.Warn("skipped mail: %s", reason)
		}
		logging.Info("export run %s complete: %d exported, %d skipped", runID, report.Exported, report.Skipped)

		if report.Skipped > 0 {
			return errs.New(errs.KindPartial, "export", fmt.Errorf("%d of %d mails skipped", report.Skipped, report.Exported+report.Skipped))
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFolder, "folder", "", "name of the folder to export (required)")
	rootCmd.AddCommand(exportCmd)
}
