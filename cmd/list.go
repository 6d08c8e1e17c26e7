package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.olrik.dev/tether/internal/core"
	"go.olrik.dev/tether/internal/registry"
)

func NewListCommand() *cobra.Command {
	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls", "status"},
		Short:   "Show all currently active reverse tunnels",
		Long: `Show all currently active reverse tunnels.

The registry is reconciled against live processes first, so entries for
tunnels that died since the last invocation are pruned rather than
listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			watch, _ := cmd.Flags().GetBool("watch")

			orchestrator, cleanup := newOrchestrator()
			defer cleanup()

			render := func() error {
				reg, err := orchestrator.List()
				if err != nil {
					return err
				}
				out, err := renderTunnels(reg, format)
				if err != nil {
					return err
				}
				fmt.Print(out)
				return nil
			}

			if err := render(); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			return watchRegistry(core.GetRegistryPath(), render)
		},
	}

	listCmd.Flags().StringP("format", "F", "text", "Format to use (text/json)")
	listCmd.Flags().BoolP("watch", "w", false, "keep running and re-render when the registry changes")

	return listCmd
}

func renderTunnels(reg registry.Registry, format string) (string, error) {
	switch format {
	case "text":
		if len(reg) == 0 {
			return "No active tunnels\n", nil
		}

		ports := make([]int, 0, len(reg))
		for port := range reg {
			ports = append(ports, port)
		}
		sort.Ints(ports)

		var b strings.Builder
		b.WriteString("Active tunnels:\n")
		for _, port := range ports {
			rec := reg[port]
			fmt.Fprintf(&b, "  - %d -> %s@%s", port, rec.RemoteUser, rec.RemoteHost)
			var extra []string
			if rec.PID > 0 {
				extra = append(extra, fmt.Sprintf("PID: %d", rec.PID))
			}
			if !rec.CreatedAt.IsZero() {
				extra = append(extra, fmt.Sprintf("Age: %s", time.Since(rec.CreatedAt).Round(time.Second)))
			}
			if len(extra) > 0 {
				fmt.Fprintf(&b, " (%s)", strings.Join(extra, ", "))
			}
			b.WriteString("\n")
		}
		return b.String(), nil

	case "json":
		data, err := json.Marshal(reg)
		if err != nil {
			return "", err
		}
		return string(data) + "\n", nil

	default:
		return "", fmt.Errorf("unknown format %q", format)
	}
}

// watchRegistry re-renders whenever the registry file changes. The
// watch is on the directory because the registry is replaced by rename,
// which would invalidate a watch on the file itself.
func watchRegistry(path string, render func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := render(); err != nil {
				return err
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Registry watch error", "error", werr)
		case <-interrupt:
			return nil
		}
	}
}
