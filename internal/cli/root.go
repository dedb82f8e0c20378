// Package cli implements the authsession command line tool.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	session "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-auth-session/backend/local"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, app *App, args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// App carries what every command needs.
type App struct {
	Out        io.Writer
	Err        io.Writer
	ConfigPath string
	Logger     session.Logger

	// LocalOptions are appended when the local backend is opened.
	LocalOptions []local.Option
}

// NewApp returns an App writing to the standard streams.
func NewApp() *App {
	return &App{
		Out: os.Stdout,
		Err: os.Stderr,
	}
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "authsession",
		Description: "authsession - drive an auth session from the command line",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("authsession", flag.ContinueOnError),
	}
	root.Flags.String("config", "", "Path to a YAML config file")

	for _, cmd := range []*Command{
		newRegisterCommand(),
		newLoginCommand(),
		newLogoutCommand(),
		newWhoamiCommand(),
		newResetRequestCommand(),
		newResetCommand(),
		newChangePasswordCommand(),
		newVerifyEmailCommand(),
		newProfileCommand(),
		newServeCommand(),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the subcommand named by args[0].
func (c *Command) Execute(ctx context.Context, app *App, args []string) error {
	if err := c.Flags.Parse(args); err != nil {
		return err
	}
	if path := c.Flags.Lookup("config").Value.String(); path != "" {
		app.ConfigPath = path
	}

	args = c.Flags.Args()
	if len(args) == 0 || args[0] == "help" {
		return c.usage(app.Out)
	}

	subcmd, ok := c.Subcommands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command: %s", args[0])
	}
	if err := subcmd.Flags.Parse(args[1:]); err != nil {
		return err
	}
	return subcmd.Run(ctx, app, subcmd.Flags.Args())
}

// usage prints the command usage
func (c *Command) usage(w io.Writer) error {
	fmt.Fprintf(w, "Usage: %s [-config file] <command> [args]\n\n", c.Name)
	fmt.Fprintf(w, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-16s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

func flagString(cmd *Command, name string) string {
	return cmd.Flags.Lookup(name).Value.String()
}

// optionalFlag returns nil unless the flag was given on the command line.
func optionalFlag(cmd *Command, name string) *string {
	var value *string
	cmd.Flags.Visit(func(f *flag.Flag) {
		if f.Name == name {
			v := f.Value.String()
			value = &v
		}
	})
	return value
}
