// Package main provides the objstore command line tool.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	exitCode := run(os.Args)
	os.Exit(exitCode)
}

// run executes the CLI and returns an exit code.
// This is separated from main() to facilitate testing.
func run(args []string) int {
	return newCLI(os.Stdin, os.Stdout, os.Stderr).run(args)
}

// cli carries the streams commands read from and write to.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func newCLI(stdin io.Reader, stdout, stderr io.Writer) *cli {
	return &cli{stdin: stdin, stdout: stdout, stderr: stderr}
}

func (c *cli) run(args []string) int {
	if len(args) < 2 {
		printUsage(c.stdout)
		return 1
	}

	switch args[1] {
	case "init":
		return c.initCmd(args[2:])
	case "put":
		return c.putCmd(args[2:])
	case "get":
		return c.getCmd(args[2:])
	case "delete":
		return c.deleteCmd(args[2:])
	case "list":
		return c.listCmd(args[2:])
	case "flush":
		return c.flushCmd(args[2:])
	case "validate":
		return c.validateCmd(args[2:])
	case "stats":
		return c.statsCmd(args[2:])
	case "bounds":
		return c.boundsCmd(args[2:])
	case "config":
		return c.configCmd(args[2:])
	case "version":
		return c.versionCmd(args[2:])
	case "help", "-h", "--help":
		printUsage(c.stdout)
		return 0
	default:
		fmt.Fprintf(c.stderr, "Unknown command: %s\n", args[1])
		fmt.Fprintln(c.stderr, "Run 'objstore help' for usage.")
		return 1
	}
}
