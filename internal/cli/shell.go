package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/dust_patrol/pkg/rpa"
)

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Open one session and send commands line by line",
		Long:  "shell keeps a single handshaken session open. Each input line is sent as a command; \"done\", \"exit\" or end of input closes the session.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			openCtx, cancel := context.WithTimeout(ctx, commandTimeout)
			sess, err := a.channel().Open(openCtx)
			cancel()
			if err != nil {
				return err
			}
			defer sess.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "connected to %s\n", a.cfg.Channel.Address)
			sc := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "rpa> ")
				if !sc.Scan() {
					fmt.Fprintln(out)
					return sc.Err()
				}
				line := strings.TrimSpace(sc.Text())
				switch {
				case line == "":
					continue
				case rpa.IsDone(line), line == "exit", line == "quit":
					return nil
				}
				resp, err := sess.Send(ctx, line)
				if err != nil {
					// the server dropped the session
					return err
				}
				fmt.Fprintln(out, resp.Text)
			}
		},
	}
}
