package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func rebuildCommand() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Start a catalog rebuild",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			reply, err := app.client.Rebuild(ctx, mode)
			if err != nil {
				return err
			}
			if app.json {
				return printJSON(reply)
			}
			pterm.Success.Printfln("rebuild %s (mode %s)", reply.Status, reply.Mode)
			return nil
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "full", "rebuild mode (full|add-new|remove-missing)")

	return cmd
}

func vfoldersCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "vfolders",
		Short: "Manage virtual folder trees",
	}
	root.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild all virtual folder trees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			reply, err := app.client.RebuildVFolders(ctx)
			if err != nil {
				return err
			}
			if app.json {
				return printJSON(reply)
			}
			pterm.Success.Println("virtual folders rebuilt")
			return nil
		},
	})
	return root
}

func printJSON(v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(payload))
	return err
}
