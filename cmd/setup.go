package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.olrik.dev/tether/internal/tunnel"
)

func NewSetupCommand() *cobra.Command {
	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Establish a reverse SSH tunnel to a remote host",
		Long: `Establish a reverse SSH tunnel to a remote host.

Runs the full precondition sequence before launching the tunnel:
verifies the local SSH server is running, validates (or generates) the
local key pair, authorizes the public key on the remote host, then asks
the external ssh client to bind the remote port back to the local
service. The tunnel is registered so 'tether list' and 'tether kill'
can manage it later.

A bind port that already has a live tunnel is rejected before anything
else runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			host, _ := cmd.Flags().GetString("host")
			user, _ := cmd.Flags().GetString("user")
			remotePort, _ := cmd.Flags().GetInt("remote-port")
			bindPort, _ := cmd.Flags().GetInt("bind-port")
			localPort, _ := cmd.Flags().GetInt("local-port")

			orchestrator, cleanup := newOrchestrator()
			defer cleanup()

			params := tunnel.Params{
				RemoteHost: host,
				RemoteUser: user,
				RemotePort: remotePort,
				BindPort:   bindPort,
				LocalPort:  localPort,
			}
			if err := orchestrator.Setup(params); err != nil {
				return err
			}

			fmt.Printf("Reverse SSH tunnel established: %s@%s:%d -> localhost:%d\n",
				user, host, bindPort, localPort)
			return nil
		},
	}

	setupCmd.Flags().String("host", "", "remote SSH host (e.g., ssh.example.com)")
	setupCmd.Flags().String("user", "", "username to connect to the remote host")
	setupCmd.Flags().Int("remote-port", 1248, "remote SSH server port")
	setupCmd.Flags().Int("bind-port", 8421, "remote bind port for the tunnel")
	setupCmd.Flags().Int("local-port", 1632, "local port to forward to")
	setupCmd.MarkFlagRequired("host")
	setupCmd.MarkFlagRequired("user")

	return setupCmd
}
