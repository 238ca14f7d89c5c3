package main

import (
	"fmt"
	"io"
)

// printUsage prints the main usage information to the given writer.
func printUsage(w io.Writer) {
	fmt.Fprint(w, `objstore - crash-safe single file object store

Usage:
  objstore <command> [options]

Commands:
  init        Create an empty store
  put         Store an object read from a file or stdin
  get         Write an object to a file or stdout
  delete      Remove an object
  list        List object identifiers and sizes
  flush       Commit pending changes
  validate    Check the store file for consistency
  stats       Show store statistics
  bounds      Change the minimum and maximum file size
  config      Configuration management
  version     Show version information

Every store command accepts:
  -config string
        Path to configuration file
  -file string
        Store file path (overrides config)
  -log-level string
        Log level: debug, info, warn, error (overrides config)

Use "objstore <command> -h" for more information about a command.
`)
}

func printInitUsage(w io.Writer) {
	fmt.Fprint(w, `Create an empty store

Usage:
  objstore init [options]

Options:
  -node-size int
        Directory B-tree minimum degree (overrides config)
  -max-size string
        Maximum file size, e.g. 10GiB (overrides config)
`)
}

func printPutUsage(w io.Writer) {
	fmt.Fprint(w, `Store an object

Usage:
  objstore put -id N [options]

Options:
  -id uint
        Object identifier (required)
  -in string
        Input file, "-" for stdin (default "-")
  -replace
        Replace an existing object instead of adding a new one
`)
}

func printGetUsage(w io.Writer) {
	fmt.Fprint(w, `Write an object

Usage:
  objstore get -id N [options]

Options:
  -id uint
        Object identifier (required)
  -out string
        Output file, "-" for stdout (default "-")
`)
}

func printBoundsUsage(w io.Writer) {
	fmt.Fprint(w, `Change the file size bounds

Usage:
  objstore bounds [options]

Options:
  -min string
        Minimum file size, e.g. 1MiB
  -max string
        Maximum file size, e.g. 10GiB; empty means unbounded
`)
}

func printConfigUsage(w io.Writer) {
	fmt.Fprint(w, `Configuration management

Usage:
  objstore config <subcommand> [options]

Subcommands:
  validate    Validate configuration file
  init        Print the default configuration
  show        Show effective configuration
`)
}

func printVersionUsage(w io.Writer) {
	fmt.Fprint(w, `Show version information

Usage:
  objstore version [options]

Options:
  -short
        Show only version number
  -h, -help
        Show this help message
`)
}
