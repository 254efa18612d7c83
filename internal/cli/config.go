package cli

import (
	"github.com/spf13/cobra"
)

func (a *app) newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective model configuration as YAML",
		Long: `Print the model, generation and safety settings after the environment
and --config are applied. The API key is never printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.cfg.Describe()
			if err != nil {
				return err
			}
			_, err = a.stdout.Write(out)
			return err
		},
	}
}
