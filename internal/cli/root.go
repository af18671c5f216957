// Package cli implements rpactl, the operator tool for poking the command
// channel and the measurement gateway by hand.
package cli

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/LeonardoBeccarini/dust_patrol/internal/config"
	"github.com/LeonardoBeccarini/dust_patrol/pkg/rpa"
	"github.com/LeonardoBeccarini/dust_patrol/pkg/solair"
)

func Execute() error {
	return NewRootCmd().Execute()
}

type app struct {
	v          *viper.Viper
	configPath string
	cfg        config.Config
}

func (a *app) channel() *rpa.Client {
	return rpa.NewClient(rpa.ClientConfig{
		Addr:            a.cfg.Channel.Address,
		DialTimeout:     a.cfg.Channel.DialTimeout,
		ReadTimeout:     a.cfg.Channel.ReadTimeout,
		BulkReadTimeout: a.cfg.Channel.BulkReadTimeout,
	})
}

func (a *app) gateway() *solair.Client {
	return solair.New(solair.Config{
		Address:   a.cfg.Gateway.Address,
		SlaveID:   byte(a.cfg.Gateway.SlaveID),
		Timeout:   a.cfg.Gateway.Timeout,
		StartMode: uint16(a.cfg.Gateway.StartMode),
		StopMode:  uint16(a.cfg.Gateway.StopMode),
	})
}

func NewRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	rootCmd := &cobra.Command{
		Use:           "rpactl",
		Short:         "Talk to the robot command channel and the SOLAIR gateway",
		Long:          "rpactl sends single commands or an interactive session to the RPA control server and checks the SOLAIR measurement gateway, using the same DUST_* configuration as the services.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.v, a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	config.AddConfigFlag(flags, &a.configPath)
	flags.String("addr", "", "control server address host:port (default channel.address)")
	flags.String("gateway", "", "SOLAIR gateway address host:port (default gateway.address)")
	flags.Duration("timeout", 0, "read timeout for handshake and responses (default channel.readTimeout)")
	_ = a.v.BindPFlag("channel.address", flags.Lookup("addr"))
	_ = a.v.BindPFlag("gateway.address", flags.Lookup("gateway"))
	_ = a.v.BindPFlag("channel.readTimeout", flags.Lookup("timeout"))

	rootCmd.AddCommand(
		newSendCmd(a),
		newUICmd(a),
		newProbeGatewayCmd(a),
		newShellCmd(a),
	)
	return rootCmd
}

// commandTimeout bounds a one-shot command from the CLI.
const commandTimeout = 30 * time.Second
