package main

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/roverlink/internal/command"
)

func newSendCmd(flags *rootFlags) *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send <action> [direction]",
		Short: "Send one manual command to a bridge",
		Long: `Send one manual command to the command-in port of a bridge (or a
standalone process) and print the interlock verdict.

Actions: forward, backward, left, right, stop, turn.
A turn takes a direction: roverlink send turn left`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseManual(args)
			if err != nil {
				return err
			}
			if addr == "" {
				cfg, err := loadConfig(flags)
				if err != nil {
					return err
				}
				addr = net.JoinHostPort(cfg.Network.BridgeHost, strconv.Itoa(cfg.Network.CommandPort))
			}
			out := command.NewClient(addr, timeout).Dispatch(cmd.Context(), c)
			return reportOutcome(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "command-in address (default from network.bridge_host and network.command_port)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "round-trip timeout")
	return cmd
}

// parseManual builds a command from CLI arguments.
func parseManual(args []string) (command.Command, error) {
	a, err := command.ParseAction(args[0])
	if err != nil {
		return command.Command{}, err
	}
	if len(args) == 1 {
		return command.New(a, nil), nil
	}
	if a != command.Turn {
		return command.Command{}, fmt.Errorf("only turn takes a direction, got %q", args[1])
	}
	dir := args[1]
	if dir != "left" && dir != "right" {
		return command.Command{}, fmt.Errorf("turn direction must be left or right, got %q", dir)
	}
	return command.New(a, map[string]any{command.ParamDirection: dir}), nil
}

// reportOutcome prints the verdict and turns anything but a sent command into
// an error so the exit status reflects it.
func reportOutcome(w io.Writer, out command.Outcome) error {
	switch {
	case out.Err != nil && !out.Verdict.Allowed && out.Verdict.Reason == "":
		return fmt.Errorf("send %s: %w", out.Command, out.Err)
	case !out.Verdict.Allowed:
		fmt.Fprintf(w, "%s: rejected: %s\n", out.Command, out.Verdict.Reason)
		return fmt.Errorf("command rejected")
	case !out.Sent:
		fmt.Fprintf(w, "%s: allowed but not sent\n", out.Command)
		if out.Err != nil {
			return fmt.Errorf("send %s: %w", out.Command, out.Err)
		}
		return fmt.Errorf("command not sent")
	default:
		fmt.Fprintf(w, "%s: sent\n", out.Command)
		return nil
	}
}
