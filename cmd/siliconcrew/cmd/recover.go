package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Rebuild missing session metadata from workspace directories",
	Long: `Insert a metadata row for every workspace directory the store does not
know about. The model defaults to llm.model and the creation time to the
directory modification time.`,
	Args: cobra.NoArgs,
	RunE: runRecover,
}

var recoverModel string

func init() {
	rootCmd.AddCommand(recoverCmd)
	recoverCmd.Flags().StringVar(&recoverModel, "model", "", "model name recorded for restored sessions (default: llm.model)")
}

func runRecover(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	model := recoverModel
	if model == "" {
		model = a.cfg.LLM.Model
	}
	restored, err := a.sessions.Recover(commandContext(cmd.Context()), model)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, id := range restored {
		fmt.Fprintf(out, "restored %s\n", id)
	}
	fmt.Fprintf(out, "Recovery complete. Restored %d session(s).\n", len(restored))
	return nil
}
