package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/dust_patrol/pkg/rpa"
)

func newSendCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "send <command>...",
		Short: "Send one command and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.Join(args, " ")
			if rpa.IsDone(command) {
				return errors.New(`"done" only ends a session; use rpactl shell`)
			}
			return sendAndPrint(cmd, a, command, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the response as JSON")
	return cmd
}

func newUICmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ui",
		Short: "Dump the endpoint's UI hierarchy (" + rpa.FullUICommand + ")",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sendAndPrint(cmd, a, rpa.FullUICommand, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the response as JSON")
	return cmd
}

func sendAndPrint(cmd *cobra.Command, a *app, command string, asJSON bool) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	resp, err := a.channel().SendCommand(ctx, command)
	if err != nil {
		return fmt.Errorf("send %q: %w", command, err)
	}
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
	return err
}
