package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type app struct {
	client  *client
	json    bool
	timeout time.Duration
}

func main() {
	root := &cobra.Command{
		Use:   "fennecctl",
		Short: "Fennec media server CLI",
	}

	var (
		addr    string
		timeout time.Duration
		jsonOut bool
	)

	root.PersistentFlags().StringVarP(&addr, "addr", "a", "http://127.0.0.1:5080", "daemon address")
	root.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "request timeout")
	root.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output json")

	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, &app{
			client:  newClient(addr, timeout),
			json:    jsonOut,
			timeout: timeout,
		}))
	}

	root.AddCommand(statusCommand())
	root.AddCommand(browseCommand())
	root.AddCommand(rebuildCommand())
	root.AddCommand(vfoldersCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type appKey struct{}

func fromContext(cmd *cobra.Command) *app {
	val := cmd.Context().Value(appKey{})
	if val == nil {
		return nil
	}
	return val.(*app)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}
