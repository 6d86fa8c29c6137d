// Package console is the operator-facing command loop: synchronous,
// line-oriented, and incapable of taking the server down with a bad
// argument.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/realmkit/relayd/internal/session"
	"github.com/realmkit/relayd/internal/store"
)

// Backend is the slice of the session manager the console drives.
type Backend interface {
	Clients() []session.ClientInfo
	BanUser(ctx context.Context, id int32) error
	UnbanUser(ctx context.Context, id int32) error
	BanAddr(ctx context.Context, addr string) error
	UnbanAddr(ctx context.Context, addr string) error
}

// BanLister exposes the active ban sets for listing and export.
type BanLister interface {
	KeyBans() []string
	AddrBans() []string
}

// Console reads operator commands and prints diagnostics. Malformed input
// never affects server state.
type Console struct {
	backend Backend
	bans    BanLister
	store   store.Store
	version string
	stop    func()

	in  io.Reader
	out io.Writer
	log zerolog.Logger
}

// New builds a console over stdin/stdout. stop is invoked by the exit
// command to begin graceful shutdown.
func New(backend Backend, bans BanLister, st store.Store, version string, stop func(), logger zerolog.Logger) *Console {
	return &Console{
		backend: backend,
		bans:    bans,
		store:   st,
		version: version,
		stop:    stop,
		in:      os.Stdin,
		out:     os.Stdout,
		log:     logger.With().Str("component", "console").Logger(),
	}
}

// Run processes commands until exit, EOF, or context cancellation.
func (c *Console) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !c.dispatch(ctx, strings.Fields(scanner.Text())) {
			return nil
		}
	}
	return scanner.Err()
}

// dispatch runs one command line. Returns false when the loop should end.
func (c *Console) dispatch(ctx context.Context, args []string) bool {
	if len(args) == 0 {
		return true
	}

	switch args[0] {
	case "help":
		c.printHelp()
	case "version":
		c.printf("relayd %s\n", c.version)
	case "exit":
		c.printf("shutting down\n")
		c.stop()
		return false
	case "clients":
		c.printClients()
	case "bans":
		c.printBans()
	case "ban":
		c.banCommand(ctx, args[1:], true)
	case "unban":
		c.banCommand(ctx, args[1:], false)
	case "export":
		c.exportCommand(ctx, args[1:])
	default:
		c.printf("unknown command %q, try 'help'\n", args[0])
	}
	return true
}

func (c *Console) printHelp() {
	c.printf(`commands:
  help                 show this help
  version              print the server version
  clients              list connected clients (id, name, address)
  bans                 list active key and address bans
  ban <id>             ban the key bound to a user id and disconnect it
  ban ip <addr>        ban a network address and disconnect it
  unban <id>           lift the key ban bound to a user id
  unban ip <addr>      lift an address ban
  export <path>        write users and bans to a YAML file
  exit                 stop the server
`)
}

func (c *Console) printClients() {
	clients := c.backend.Clients()
	if len(clients) == 0 {
		c.printf("no clients connected\n")
		return
	}
	for _, cl := range clients {
		c.printf("%6d  %-24s %s\n", cl.UserID, cl.Name, cl.Addr)
	}
}

func (c *Console) printBans() {
	keys := c.bans.KeyBans()
	addrs := c.bans.AddrBans()
	if len(keys) == 0 && len(addrs) == 0 {
		c.printf("no active bans\n")
		return
	}
	for _, k := range keys {
		c.printf("key   %s\n", k)
	}
	for _, a := range addrs {
		c.printf("addr  %s\n", a)
	}
}

// banCommand handles ban/unban in both forms: "<id>" and "ip <addr>".
func (c *Console) banCommand(ctx context.Context, args []string, ban bool) {
	verb := "unban"
	if ban {
		verb = "ban"
	}

	switch {
	case len(args) == 1:
		id, err := parseUserID(args[0])
		if err != nil {
			c.printf("%s: %v\n", verb, err)
			return
		}
		var opErr error
		if ban {
			opErr = c.backend.BanUser(ctx, id)
		} else {
			opErr = c.backend.UnbanUser(ctx, id)
		}
		if opErr != nil {
			c.printf("%s %d: %v\n", verb, id, opErr)
			return
		}
		c.log.Info().Str("command", verb).Int32("user", id).Msg("console ban change")
		c.printf("%s %d: ok\n", verb, id)

	case len(args) == 2 && args[0] == "ip":
		addr := args[1]
		if net.ParseIP(addr) == nil {
			c.printf("%s ip: %q is not a valid address\n", verb, addr)
			return
		}
		var opErr error
		if ban {
			opErr = c.backend.BanAddr(ctx, addr)
		} else {
			opErr = c.backend.UnbanAddr(ctx, addr)
		}
		if opErr != nil {
			c.printf("%s ip %s: %v\n", verb, addr, opErr)
			return
		}
		c.log.Info().Str("command", verb).Str("addr", addr).Msg("console ban change")
		c.printf("%s ip %s: ok\n", verb, addr)

	default:
		c.printf("usage: %s <id> | %s ip <addr>\n", verb, verb)
	}
}

func parseUserID(s string) (int32, error) {
	id, err := strconv.ParseInt(s, 10, 32)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%q is not a positive user id", s)
	}
	return int32(id), nil
}

// exportDoc is the YAML shape written by the export command.
type exportDoc struct {
	Users []exportUser `yaml:"users"`
	Bans  exportBans   `yaml:"bans"`
}

type exportUser struct {
	ID      int32  `yaml:"id"`
	Name    string `yaml:"name"`
	KeyHash string `yaml:"key_hash"`
}

type exportBans struct {
	Keys  []string `yaml:"keys"`
	Addrs []string `yaml:"addrs"`
}

// exportCommand dumps issued identities and active bans as YAML.
func (c *Console) exportCommand(ctx context.Context, args []string) {
	if len(args) != 1 {
		c.printf("usage: export <path>\n")
		return
	}
	path := args[0]

	users, err := c.store.Users(ctx)
	if err != nil {
		c.printf("export: %v\n", err)
		return
	}

	doc := exportDoc{
		Bans: exportBans{Keys: c.bans.KeyBans(), Addrs: c.bans.AddrBans()},
	}
	for _, u := range users {
		doc.Users = append(doc.Users, exportUser{ID: u.ID, Name: u.Name, KeyHash: u.KeyHash})
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		c.printf("export: %v\n", err)
		return
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		c.printf("export: %v\n", err)
		return
	}
	c.log.Info().Str("path", path).Int("users", len(doc.Users)).Msg("state exported")
	c.printf("exported %d users and %d bans to %s\n",
		len(doc.Users), len(doc.Bans.Keys)+len(doc.Bans.Addrs), path)
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}
