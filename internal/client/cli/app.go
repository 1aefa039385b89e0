// Package cli implements the vault command-line client: local envelope
// tools (keygen, hash, encrypt, decrypt, link, token) and commands that talk
// to a running server (upload, share, revoke, list, open).
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/dmitrijs2005/medvault/internal/client/api"
	"github.com/dmitrijs2005/medvault/internal/client/config"
)

// ErrUsage marks a bad command line; the caller prints usage.
var ErrUsage = errors.New("usage error")

type command struct {
	summary string
	run     func(a *App, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"keygen":  {"print a fresh base64 AES-256 key", (*App).keygen},
	"hash":    {"print the CID and SHA-256 of a file", (*App).hash},
	"encrypt": {"seal a file into an envelope", (*App).encrypt},
	"decrypt": {"open an envelope with its key and iv", (*App).decrypt},
	"link":    {"build a share link", (*App).link},
	"token":   {"issue a wallet session JWT", (*App).token},
	"upload":  {"upload a file to the server", (*App).upload},
	"share":   {"create a share token for an uploaded file", (*App).share},
	"revoke":  {"revoke a share token", (*App).revoke},
	"list":    {"list the share tokens you created", (*App).list},
	"open":    {"open a share link", (*App).open},
}

type App struct {
	config *config.Config
	api    *api.Client
	in     *bufio.Reader
	out    io.Writer
}

func NewApp(c *config.Config) *App {
	return &App{
		config: c,
		api:    api.NewClient(c.ServerURL, c.AuthToken, c.RequestTimeout),
		in:     bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}
}

// Run executes the subcommand named by args[0].
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" {
		a.usage()
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		a.usage()
		return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}
	return cmd.run(a, ctx, args[1:])
}

func (a *App) usage() {
	fmt.Fprintln(a.out, "usage: medvault-cli [-a server] [-T token] [-c config.json] <command> [flags]")
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(a.out, "  %-8s %s\n", n, commands[n].summary)
	}
}
