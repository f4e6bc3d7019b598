package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
)

// stdout receives command output; tests swap it out
var stdout io.Writer = os.Stdout

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// Version is reported by "tally version"; release builds set it with -ldflags
var Version = "dev"

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "tally",
		Description: "Tally - usage analytics for the generation services",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("tally", flag.ExitOnError),
	}

	for _, sub := range []*Command{
		newTrackCommand(),
		newImportCommand(),
		newStatsCommand(),
		newReportCommand(),
		{
			Name:        "version",
			Description: "Print the tally version",
			Run: func([]string) error {
				fmt.Fprintf(stdout, "tally %s\n", Version)
				return nil
			},
		},
	} {
		root.Subcommands[sub.Name] = sub
	}

	return root
}

// Execute runs the command with the process arguments
func (c *Command) Execute() error {
	return c.ExecuteArgs(os.Args[1:])
}

// ExecuteArgs dispatches args to the matching subcommand. "help <command>"
// prints that command's flags.
func (c *Command) ExecuteArgs(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	switch name := args[0]; name {
	case "-h", "--help":
		return c.usage()
	case "help":
		if len(args) == 1 {
			return c.usage()
		}
		sub, ok := c.Subcommands[args[1]]
		if !ok {
			return c.unknown(args[1])
		}
		return sub.help()
	default:
		sub, ok := c.Subcommands[name]
		if !ok {
			return c.unknown(name)
		}
		return sub.Run(args[1:])
	}
}

func (c *Command) unknown(name string) error {
	return fmt.Errorf("unknown command: %s (run '%s help' for a list)", name, c.Name)
}

// help prints the description and flag defaults of a leaf command
func (c *Command) help() error {
	fmt.Fprintf(stdout, "%s\n\nUsage: tally %s [flags]\n", c.Description, c.Name)
	if c.Flags == nil {
		return nil
	}
	fmt.Fprintf(stdout, "\nFlags:\n")
	c.Flags.SetOutput(stdout)
	c.Flags.PrintDefaults()
	return nil
}

// usage prints the command list
func (c *Command) usage() error {
	fmt.Fprintf(stdout, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(stdout, "Commands:\n")
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(stdout, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	fmt.Fprintf(stdout, "\nRun '%s help <command>' for the flags of a command.\n", c.Name)
	return nil
}

// newLogger builds the text logger used for progress output
func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}
