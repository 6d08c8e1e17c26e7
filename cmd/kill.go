package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func NewKillCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "kill PORT [PORT...]",
		Short: "Terminate the reverse tunnel(s) on the given bind port(s)",
		Long: `Terminate the reverse tunnel(s) on the given bind port(s).

The registry entry is removed even when no live process is found, so a
stale entry never survives a kill. Killing a port with no tunnel is a
no-op, not an error.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ports := make([]int, 0, len(args))
			for _, arg := range args {
				port, err := strconv.Atoi(arg)
				if err != nil || port < 1 || port > 65535 {
					return fmt.Errorf("invalid bind port %q", arg)
				}
				ports = append(ports, port)
			}

			orchestrator, cleanup := newOrchestrator()
			defer cleanup()

			for _, port := range ports {
				outcome, err := orchestrator.Kill(port)
				if err != nil {
					return err
				}
				switch {
				case len(outcome.Killed) > 0:
					fmt.Printf("Killed tunnel on bind port %d (PID %s)\n", port, joinPIDs(outcome.Killed))
				case outcome.Tracked:
					fmt.Printf("Tunnel on bind port %d was already gone, removed stale entry\n", port)
				default:
					fmt.Printf("No active tunnel for bind port %d\n", port)
				}
			}
			return nil
		},
	}
}

func joinPIDs(pids []int32) string {
	parts := make([]string, len(pids))
	for i, pid := range pids {
		parts[i] = strconv.Itoa(int(pid))
	}
	return strings.Join(parts, ", ")
}
