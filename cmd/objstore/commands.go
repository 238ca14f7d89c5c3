package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/KilimcininKorOglu/objstore/internal/config"
	"github.com/KilimcininKorOglu/objstore/internal/storage"
	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
)

// storeFlags are the flags shared by every command that opens a store.
type storeFlags struct {
	fs       *flag.FlagSet
	config   *string
	file     *string
	logLevel *string
	help     *bool
	helpLong *bool
}

func (c *cli) storeFlagSet(name string) *storeFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return &storeFlags{
		fs:       fs,
		config:   fs.String("config", "", "Path to configuration file"),
		file:     fs.String("file", "", "Store file path (overrides config)"),
		logLevel: fs.String("log-level", "", "Log level (overrides config)"),
		help:     fs.Bool("h", false, "Show help message"),
		helpLong: fs.Bool("help", false, "Show help message"),
	}
}

// parse parses args and handles -h. It returns false with the exit code
// when the command should stop.
func (c *cli) parse(sf *storeFlags, args []string, usage func(io.Writer)) (bool, int) {
	if err := sf.fs.Parse(args); err != nil {
		return false, 1
	}
	if *sf.help || *sf.helpLong {
		usage(c.stdout)
		return false, 0
	}
	return true, 0
}

func (c *cli) loadConfig(sf *storeFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if *sf.config != "" {
		var err error
		if cfg, err = config.LoadConfig(*sf.config); err != nil {
			return nil, err
		}
	}
	if *sf.file != "" {
		cfg.Store.Path = *sf.file
	}
	if *sf.logLevel != "" {
		cfg.Logging.Level = *sf.logLevel
	}

	if err := validationError(config.ValidateConfig(cfg)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the configured store. Unless create is set the store
// file must already exist.
func (c *cli) openStore(cfg *config.Config, create bool) (*storage.Store, error) {
	if !create {
		info, err := os.Stat(cfg.Store.Path)
		if err != nil || info.Size() == 0 {
			return nil, errors.Newf("store %s does not exist (run 'objstore init')", cfg.Store.Path)
		}
	}
	opts, err := cfg.StoreOptions()
	if err != nil {
		return nil, err
	}
	return storage.Open(cfg.Store.Path, opts)
}

// withStore runs fn against the store and closes it afterwards.
func (c *cli) withStore(sf *storeFlags, fn func(*storage.Store) error) int {
	cfg, err := c.loadConfig(sf)
	if err != nil {
		return c.fail(err)
	}
	s, err := c.openStore(cfg, false)
	if err != nil {
		return c.fail(err)
	}

	err = fn(s)
	if cerr := s.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return c.fail(err)
	}
	return 0
}

func validationError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return errors.Newf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func (c *cli) fail(err error) int {
	fmt.Fprintf(c.stderr, "Error: %v\n", err)
	return 1
}

func objectIDFlag(fs *flag.FlagSet) *uint64 {
	return fs.Uint64("id", 0, "Object identifier")
}

func requireID(fs *flag.FlagSet) error {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "id" {
			set = true
		}
	})
	if !set {
		return errors.New("-id is required")
	}
	return nil
}

// initCmd creates an empty store.
func (c *cli) initCmd(args []string) int {
	sf := c.storeFlagSet("init")
	nodeSize := sf.fs.Int("node-size", 0, "Directory B-tree minimum degree")
	maxSize := sf.fs.String("max-size", "", "Maximum file size")
	if ok, code := c.parse(sf, args, printInitUsage); !ok {
		return code
	}

	cfg, err := c.loadConfig(sf)
	if err != nil {
		return c.fail(err)
	}
	if *nodeSize != 0 {
		cfg.Store.MinimumNodeSize = *nodeSize
	}
	if *maxSize != "" {
		cfg.Store.MaxFileSize = *maxSize
	}
	if err := validationError(config.ValidateConfig(cfg)); err != nil {
		return c.fail(err)
	}

	if info, err := os.Stat(cfg.Store.Path); err == nil && info.Size() > 0 {
		return c.fail(errors.Newf("%s already exists", cfg.Store.Path))
	}

	s, err := c.openStore(cfg, true)
	if err != nil {
		return c.fail(err)
	}
	id := s.StoreID()
	if err := s.Close(); err != nil {
		return c.fail(err)
	}

	fmt.Fprintf(c.stdout, "Created store %s (id %016x)\n", cfg.Store.Path, id)
	return 0
}

// putCmd adds or replaces an object and flushes it.
func (c *cli) putCmd(args []string) int {
	sf := c.storeFlagSet("put")
	id := objectIDFlag(sf.fs)
	in := sf.fs.String("in", "-", "Input file")
	replace := sf.fs.Bool("replace", false, "Replace an existing object")
	if ok, code := c.parse(sf, args, printPutUsage); !ok {
		return code
	}
	if err := requireID(sf.fs); err != nil {
		return c.fail(err)
	}

	var payload []byte
	var err error
	if *in == "-" {
		payload, err = io.ReadAll(c.stdin)
	} else {
		payload, err = os.ReadFile(*in)
	}
	if err != nil {
		return c.fail(errors.Wrap(err, "read payload"))
	}

	return c.withStore(sf, func(s *storage.Store) error {
		if *replace {
			err = s.Replace(*id, payload, true)
		} else {
			err = s.Add(*id, payload, true)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "Stored object %d (%s)\n", *id, humanize.IBytes(uint64(len(payload))))
		return nil
	})
}

// getCmd writes an object to a file or stdout.
func (c *cli) getCmd(args []string) int {
	sf := c.storeFlagSet("get")
	id := objectIDFlag(sf.fs)
	out := sf.fs.String("out", "-", "Output file")
	if ok, code := c.parse(sf, args, printGetUsage); !ok {
		return code
	}
	if err := requireID(sf.fs); err != nil {
		return c.fail(err)
	}

	return c.withStore(sf, func(s *storage.Store) error {
		payload, err := s.Get(*id)
		if err != nil {
			return err
		}
		if *out == "-" {
			_, err = c.stdout.Write(payload)
			return err
		}
		return os.WriteFile(*out, payload, 0644)
	})
}

// deleteCmd removes an object and flushes the removal.
func (c *cli) deleteCmd(args []string) int {
	sf := c.storeFlagSet("delete")
	id := objectIDFlag(sf.fs)
	if ok, code := c.parse(sf, args, printUsage); !ok {
		return code
	}
	if err := requireID(sf.fs); err != nil {
		return c.fail(err)
	}

	return c.withStore(sf, func(s *storage.Store) error {
		if err := s.Remove(*id, true); err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "Deleted object %d\n", *id)
		return nil
	})
}

// listCmd prints every identifier with the size of its region.
func (c *cli) listCmd(args []string) int {
	sf := c.storeFlagSet("list")
	if ok, code := c.parse(sf, args, printUsage); !ok {
		return code
	}

	return c.withStore(sf, func(s *storage.Store) error {
		tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tREGION")
		err := s.Ascend(func(id, size uint64) bool {
			fmt.Fprintf(tw, "%d\t%s\n", id, humanize.IBytes(size))
			return true
		})
		if err != nil {
			return err
		}
		return tw.Flush()
	})
}

// flushCmd commits whatever is pending, such as changed bounds.
func (c *cli) flushCmd(args []string) int {
	sf := c.storeFlagSet("flush")
	if ok, code := c.parse(sf, args, printUsage); !ok {
		return code
	}

	return c.withStore(sf, func(s *storage.Store) error {
		if err := s.Flush(context.Background()); err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "Flushed, sequence %d\n", s.Stats().Sequence)
		return nil
	})
}

// validateCmd checks the committed state of the store.
func (c *cli) validateCmd(args []string) int {
	sf := c.storeFlagSet("validate")
	if ok, code := c.parse(sf, args, printUsage); !ok {
		return code
	}

	var report *storage.Report
	code := c.withStore(sf, func(s *storage.Store) error {
		var err error
		report, err = s.Validate()
		return err
	})
	if code != 0 {
		return code
	}

	fmt.Fprintf(c.stdout, "Sequence:     %d\n", report.Sequence)
	fmt.Fprintf(c.stdout, "Used:         %s\n", humanize.IBytes(report.UsedBytes))
	fmt.Fprintf(c.stdout, "Objects:      %s\n", humanize.Comma(int64(report.Objects)))
	fmt.Fprintf(c.stdout, "Pages:        %d (height %d)\n", report.Pages, report.Height)
	fmt.Fprintf(c.stdout, "Free:         %s in %d regions\n", humanize.IBytes(report.FreeBytes), report.FreeRegions)
	if report.OK() {
		fmt.Fprintln(c.stdout, "Store is consistent")
		return 0
	}
	fmt.Fprintf(c.stdout, "%d problems:\n", len(report.Problems))
	for _, p := range report.Problems {
		fmt.Fprintf(c.stdout, "  - %s\n", p)
	}
	return 1
}

// statsCmd prints store statistics.
func (c *cli) statsCmd(args []string) int {
	sf := c.storeFlagSet("stats")
	if ok, code := c.parse(sf, args, printUsage); !ok {
		return code
	}

	return c.withStore(sf, func(s *storage.Store) error {
		fmt.Fprint(c.stdout, s.Stats().String())
		return nil
	})
}

// boundsCmd changes the file size bounds and commits them.
func (c *cli) boundsCmd(args []string) int {
	sf := c.storeFlagSet("bounds")
	minSize := sf.fs.String("min", "", "Minimum file size")
	maxSize := sf.fs.String("max", "", "Maximum file size")
	if ok, code := c.parse(sf, args, printBoundsUsage); !ok {
		return code
	}

	parse := func(s string) (uint64, error) {
		if strings.TrimSpace(s) == "" {
			return 0, nil
		}
		return humanize.ParseBytes(s)
	}
	lo, err := parse(*minSize)
	if err != nil {
		return c.fail(errors.Wrap(err, "-min"))
	}
	hi, err := parse(*maxSize)
	if err != nil {
		return c.fail(errors.Wrap(err, "-max"))
	}

	return c.withStore(sf, func(s *storage.Store) error {
		if err := s.SetFileSizeBounds(lo, hi); err != nil {
			return err
		}
		if err := s.Flush(context.Background()); err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "File size bounds set to %s..%s\n", humanize.IBytes(lo), boundString(hi))
		return nil
	})
}

func boundString(n uint64) string {
	if n == 0 {
		return "unbounded"
	}
	return humanize.IBytes(n)
}
