package waktu

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file, .env and
WAKTU_SOLAT_* environment overrides have been applied.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cfg.Marshal(configFormat)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if cfg.File != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), styles.dim.Render("# loaded from "+cfg.File))
		}
		_, err = out.Write(data)
		return err
	},
}

func init() {
	configCmd.Flags().StringVarP(&configFormat, "format", "f", "yaml", "output format: yaml, json or toml")
}
