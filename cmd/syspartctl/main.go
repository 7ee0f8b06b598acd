// Command syspartctl is the optional console client of spec §6, talking
// to syspartd over its Unix-domain control socket with JSON
// request/response, grounded on original_source/plugins/cgroups/
// cgrp-console.c's "cgroup help|show groups|show config|reclassify
// [all|<pid>]" command set.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sysparts/syspartd/internal/console"
)

const defaultControlSocket = "/run/syspartd/control.sock"

func main() {
	var socketPath string

	root := &cobra.Command{
		Use:   "syspartctl",
		Short: "Inspect and control a running syspartd daemon",
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", defaultControlSocket, "syspartd control socket path")

	cgroupCmd := &cobra.Command{
		Use:   "cgroup",
		Short: "Query or act on the classifier and cgroup enforcer",
	}

	cgroupCmd.AddCommand(&cobra.Command{
		Use:   "help",
		Short: "List commands the daemon understands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(socketPath, console.Request{Command: "help"})
		},
	})

	showCmd := &cobra.Command{
		Use:   "show [groups|config]",
		Short: "Show classification groups or the loaded policy configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(socketPath, console.Request{Command: "show", Args: args})
		},
	}
	cgroupCmd.AddCommand(showCmd)

	reclassifyCmd := &cobra.Command{
		Use:   "reclassify [all|<pid>]",
		Short: "Force reclassification of one process or every tracked process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(socketPath, console.Request{Command: "reclassify", Args: args})
		},
	}
	cgroupCmd.AddCommand(reclassifyCmd)

	root.AddCommand(cgroupCmd)

	if err := root.Execute(); err != nil {
		color.Red("syspartctl: %v", err)
		os.Exit(1)
	}
}

func call(socketPath string, req console.Request) error {
	resp, err := console.Call(socketPath, req)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%s", resp.Error)
	}
	for _, line := range resp.Lines {
		fmt.Println(line)
	}
	return nil
}
