package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			reply, err := app.client.Status(ctx)
			if err != nil {
				return err
			}
			if app.json {
				return printJSON(reply)
			}
			return printStatus(reply)
		},
	}
}

func printStatus(reply *statusReply) error {
	state := pterm.FgGreen.Sprint("idle")
	if reply.Rebuilding {
		state = pterm.FgYellow.Sprint("rebuilding")
	}
	uptime := (time.Duration(reply.UptimeS) * time.Second).String()

	return pterm.DefaultTable.WithData(pterm.TableData{
		{"State", state},
		{"Uptime", uptime},
		{"Sessions", fmt.Sprintf("%d", reply.Sessions)},
		{"Containers", fmt.Sprintf("%d", reply.Catalog.Containers)},
		{"Items", fmt.Sprintf("%d", reply.Catalog.Items)},
		{"Virtual", fmt.Sprintf("%d", reply.Catalog.Virtual)},
		{"Mappings", fmt.Sprintf("%d", reply.Catalog.Mappings)},
	}).Render()
}
