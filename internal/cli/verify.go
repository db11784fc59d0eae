package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type VerifyCmd struct {
	output string
}

func NewVerifyCmd() *VerifyCmd {
	return &VerifyCmd{}
}

func (c *VerifyCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Print row counts for the warehouse tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.cancel()
			return c.run(e, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&c.output, "output", "text", "output format: text or json")
	return cmd
}

func (c *VerifyCmd) run(e *env, stdout io.Writer) error {
	if c.output != "text" && c.output != "json" {
		return fmt.Errorf("invalid output type: %s (must be text or json)", c.output)
	}

	store, err := openStore(e.ctx, e.log, e.storeURI)
	if err != nil {
		return err
	}
	defer store.Close()

	counts, err := store.Counts(e.ctx)
	if err != nil {
		return fmt.Errorf("failed to count rows: %w", err)
	}

	if c.output == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(counts)
	}
	printCounts(stdout, counts)
	return nil
}
