// Command roverlink is the voice remote control for the rover.
//
// Usage:
//
//	roverlink [--config file] [--env file] <command>
//
// Commands:
//
//	standalone - run the whole pipeline on the robot host
//	brain      - run speech understanding on a laptop
//	bridge     - run the robot side of a brain/bridge deployment
//	send       - send one manual command to a bridge
//	ports      - list serial devices on this host
//	version    - show version information
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "roverlink: %v\n", err)
		return 1
	}
	return 0
}
