package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"fennec/internal/contentdir"
)

func browseCommand() *cobra.Command {
	var device string

	cmd := &cobra.Command{
		Use:   "browse [parent-id]",
		Short: "List catalog entries under a container",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)

			var parent int64
			if len(args) == 1 {
				var err error
				parent, err = strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("bad parent id %q", args[0])
				}
			}

			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			reply, err := app.client.Browse(ctx, parent, device)
			if err != nil {
				return err
			}
			if app.json {
				return printJSON(reply)
			}
			return printEntries(reply.Entries)
		},
	}
	cmd.Flags().StringVarP(&device, "device", "d", "", "virtual device tree")

	return cmd
}

func printEntries(entries []contentdir.Entry) error {
	if len(entries) == 0 {
		pterm.Println("(empty)")
		return nil
	}
	data := pterm.TableData{{"ID", "TITLE", "KIND", "ARTIST", "ALBUM", "SIZE"}}
	for _, e := range entries {
		kind := "item"
		size := ""
		if e.Container {
			kind = fmt.Sprintf("dir (%d)", e.ChildCount)
		} else if e.Size > 0 {
			size = formatSize(e.Size)
		}
		data = append(data, []string{
			fmt.Sprintf("%d", e.ID), e.Title, kind, e.Artist, e.Album, size,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1fG", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1fM", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fK", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%dB", n)
}
