package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tuta-cli/tuta-export/internal/config"
	"github.com/tuta-cli/tuta-export/internal/session"
)

var listFoldersCmd = &cobra.Command{
	Use:   "list-folders",
	Short: "List the account's mail folders",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := config.ResolveCredentials()
		if err != nil {
			return err
		}

		ctrl := session.New(newTransport())
		ctrl.PageSize = viper.GetInt(config.KeyPageSize)
		if err := ctrl.Login(cmd.Context(), creds.Username, creds.Password); err != nil {
			return err
		}

		folders, err := ctrl.ListFolders(cmd.Context())
		if err != nil {
			return err
		}
		for _, f := range folders {
			fmt.Println(f.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listFoldersCmd)
}
