package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newProbeGatewayCmd(a *app) *cobra.Command {
	var read bool
	cmd := &cobra.Command{
		Use:   "probe-gateway",
		Short: "Check that the SOLAIR gateway accepts connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			gw := a.gateway()
			if err := gw.Probe(ctx); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "gateway %s reachable\n", gw.Addr())
			if !read {
				return nil
			}
			level, err := gw.DustLevel(ctx)
			if err != nil {
				return fmt.Errorf("read latest record: %w", err)
			}
			_, err = fmt.Fprintf(out, "latest dust level: %.0f\n", level)
			return err
		},
	}
	cmd.Flags().BoolVar(&read, "read", false, "also read the latest record")
	return cmd
}
