// Package cli implements the operator console of the lobby.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/sacredlobby/sacredlobby/internal/config"
	"github.com/sacredlobby/sacredlobby/internal/events"
	"github.com/sacredlobby/sacredlobby/internal/lobby"
	"github.com/sacredlobby/sacredlobby/internal/protocol"
	"github.com/sacredlobby/sacredlobby/internal/stats"
	"github.com/sacredlobby/sacredlobby/internal/util"
)

// Lobby is what the console operates on.
type Lobby interface {
	Clients() []lobby.ClientInfo
	Users() []lobby.ClientInfo
	Servers() []protocol.ServerInfo
	Kick(id uint32) bool
	Broadcast(text string) int
	Bans() *lobby.BanList
}

// CLI reads operator commands line by line.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	lobby    Lobby
	stats    *stats.Collector
	shutdown func()

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console. shutdown is called by the quit command.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, l Lobby, collector *stats.Collector, shutdown func(), in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		lobby:    l,
		stats:    collector,
		shutdown: shutdown,
		in:       in,
		out:      out,
	}
}

// Start runs the console until input ends or ctx is cancelled.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintf(c.out, "\n%s console ready. Type 'help' for available commands.\n", util.AppName)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				log.Debug().Msg("console input closed")
				return
			}
			if err := c.Execute(ctx, line); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// Execute runs a single command line.
func (c *CLI) Execute(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "users", "u":
		c.printUsers()
	case "servers":
		c.printServers()
	case "kick":
		return c.cmdKick(args)
	case "ban":
		return c.cmdBan(ctx, args)
	case "unban":
		return c.cmdUnban(ctx, args)
	case "bans":
		c.printBans()
	case "set":
		return c.cmdSet(ctx, args)
	case "say":
		return c.cmdSay(args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down...")
		if c.eventBus != nil {
			c.eventBus.Emit(ctx, events.Event{Type: events.EventShutdown, Source: "cli"})
		}
		if c.shutdown != nil {
			c.shutdown()
		}
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
  status              Show traffic counters and session totals
  users               List logged in players
  servers             List registered game servers
  kick <id>           Disconnect a session by id
  ban <ip> [kind]     Ban an address (full, client, server)
  unban <ip>          Lift a ban
  bans                List bans
  set <field> <value> Change a lobby setting in config.json (applies on restart)
  say <text>          Send a popup notice to every player
  quit                Shut the lobby down
  help                Show this help message`)
}

func (c *CLI) newTable(header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) printStatus() {
	snap := c.stats.Snapshot()
	tw := c.newTable("Metric", "Value")
	tw.AppendBulk([][]string{
		{"Sessions", strconv.Itoa(len(c.lobby.Clients()))},
		{"Players", strconv.Itoa(len(c.lobby.Users()))},
		{"Game servers", strconv.Itoa(len(c.lobby.Servers()))},
		{"Uptime", snap.Uptime.Truncate(time.Second).String()},
		{"Connections", strconv.FormatUint(snap.Connections, 10)},
		{"Packets in/out", fmt.Sprintf("%d / %d", snap.PacketsIn, snap.PacketsOut)},
		{"Bytes in/out", fmt.Sprintf("%d / %d", snap.BytesIn, snap.BytesOut)},
		{"Messages", strconv.FormatUint(snap.Messages, 10)},
		{"Rejected frames", strconv.FormatUint(snap.FramesRejected, 10)},
		{"Rejected messages", strconv.FormatUint(snap.MessagesRejected, 10)},
		{"Avg latency", snap.ProcessingLatency.String()},
	})
	tw.Render()
}

func (c *CLI) printUsers() {
	users := c.lobby.Users()
	if len(users) == 0 {
		fmt.Fprintln(c.out, "No players online")
		return
	}
	tw := c.newTable("ID", "Name", "Character", "Channel", "Remote", "Online")
	for _, u := range users {
		channel := "-"
		if u.Channel >= 0 {
			channel = strconv.Itoa(int(u.Channel))
		}
		tw.Append([]string{
			strconv.FormatUint(uint64(u.ID), 10),
			u.Name,
			u.Character,
			channel,
			u.Remote,
			time.Since(u.ConnectedAt).Truncate(time.Second).String(),
		})
	}
	tw.Render()
}

func (c *CLI) printServers() {
	servers := c.lobby.Servers()
	if len(servers) == 0 {
		fmt.Fprintln(c.out, "No game servers registered")
		return
	}
	tw := c.newTable("ID", "Name", "Address", "Players", "Flags", "Hidden")
	for _, s := range servers {
		tw.Append([]string{
			strconv.FormatUint(uint64(s.ServerID), 10),
			s.Name,
			fmt.Sprintf("%s:%d", s.ExternalAddr(), s.Port),
			fmt.Sprintf("%d/%d", s.CurrentPlayers, s.MaxPlayers),
			fmt.Sprintf("0x%08X", s.Flags),
			strconv.FormatBool(s.Hidden),
		})
	}
	tw.Render()
}

func (c *CLI) printBans() {
	bans := c.lobby.Bans().List()
	if len(bans) == 0 {
		fmt.Fprintln(c.out, "No bans")
		return
	}
	tw := c.newTable("Address", "Kind")
	for _, b := range bans {
		tw.Append([]string{b.IP, b.Kind})
	}
	tw.Render()
}

func (c *CLI) cmdKick(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kick <id>")
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid id: %s", args[0])
	}
	if !c.lobby.Kick(uint32(id)) {
		return fmt.Errorf("no session with id %d", id)
	}
	fmt.Fprintf(c.out, "Session %d disconnected\n", id)
	return nil
}

func (c *CLI) cmdBan(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ban <ip> [full|client|server]")
	}
	ip, err := parseIP(args[0])
	if err != nil {
		return err
	}
	kind := lobby.BanFull
	if len(args) > 1 {
		if kind, err = lobby.ParseBanKind(args[1]); err != nil {
			return err
		}
	}

	c.lobby.Bans().Add(ip, kind)
	if err := c.persistBans(ctx); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Banned %s (%s)\n", ip, kind)
	return nil
}

func (c *CLI) cmdUnban(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: unban <ip>")
	}
	ip, err := parseIP(args[0])
	if err != nil {
		return err
	}
	if !c.lobby.Bans().Remove(ip) {
		return fmt.Errorf("%s is not banned", ip)
	}
	if err := c.persistBans(ctx); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Unbanned %s\n", ip)
	return nil
}

// persistBans writes the ban list back to the config file.
func (c *CLI) persistBans(ctx context.Context) error {
	if c.cfg == nil {
		return nil
	}
	bans := c.lobby.Bans().List()
	c.cfg.SetBans(bans)
	if err := c.cfg.Save(); err != nil {
		return fmt.Errorf("failed to save bans: %w", err)
	}
	if c.eventBus != nil {
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventConfigChanged,
			Source: "cli",
			Payload: events.ConfigChangedPayload{
				Section: "lobby",
				Key:     "bans",
				Value:   bans,
			},
		})
	}
	return nil
}

// cmdSet changes one lobby field of the config file. JSON values such as
// numbers, booleans and lists are decoded; anything else is taken as text.
func (c *CLI) cmdSet(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set <field> <value>")
	}
	if c.cfg == nil {
		return fmt.Errorf("no configuration loaded")
	}
	key := args[0]
	raw := strings.Join(args[1:], " ")

	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}

	previous := c.cfg.GetLobby()
	if err := c.cfg.UpdateLobbyField(key, value); err != nil {
		return err
	}
	if result := config.Validate(c.cfg); !result.IsValid() {
		c.cfg.SetLobby(previous)
		return result.Errors[0]
	}
	if err := c.cfg.Save(); err != nil {
		c.cfg.SetLobby(previous)
		return fmt.Errorf("failed to save config: %w", err)
	}

	if c.eventBus != nil {
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventConfigChanged,
			Source: "cli",
			Payload: events.ConfigChangedPayload{
				Section: "lobby",
				Key:     key,
				Value:   value,
			},
		})
	}
	fmt.Fprintf(c.out, "Set %s, restart the lobby to apply it\n", key)
	return nil
}

func (c *CLI) cmdSay(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: say <text>")
	}
	text := strings.Join(args, " ")
	n := c.lobby.Broadcast(text)
	fmt.Fprintf(c.out, "Notice sent to %d players\n", n)
	return nil
}

func parseIP(s string) (net.IP, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("invalid address: %s", s)
	}
	return ip, nil
}
