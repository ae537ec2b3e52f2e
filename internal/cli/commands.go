// Package cli implements the interactive console for the dedicated server
// manager. It exposes the full lifecycle (start, stop, restart, kill,
// detach) plus the admin command set over RCON, mirroring what the REST
// API offers for operators who prefer a terminal.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/caleb-collar/land-of-oz-dsm/internal/config"
	"github.com/caleb-collar/land-of-oz-dsm/internal/db"
	"github.com/caleb-collar/land-of-oz-dsm/internal/events"
	"github.com/caleb-collar/land-of-oz-dsm/internal/server"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg        *config.Config
	eventBus   *events.EventBus
	supervisor *server.Supervisor
	history    *db.HistoryStore
}

// NewCLI creates a new CLI handler. history may be nil when session
// persistence is disabled.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, sup *server.Supervisor, history *db.HistoryStore) *CLI {
	return &CLI{
		cfg:        cfg,
		eventBus:   eventBus,
		supervisor: sup,
		history:    history,
	}
}

// Start begins the interactive CLI loop.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nozdsm CLI ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")

	reader := newLineReader()
	if reader == nil {
		log.Warn().Msg("CLI: failed to initialize line reader, CLI disabled")
		<-ctx.Done()
		return
	}
	defer reader.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadLine("ozdsm> ")
		if err != nil {
			if err == io.EOF {
				return
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "start":
		return c.cmdStart(ctx)
	case "stop":
		return c.cmdStop()
	case "restart":
		return c.cmdRestart(ctx)
	case "kill":
		return c.cmdKill()
	case "detach":
		return c.cmdDetach()
	case "players", "p":
		c.printPlayers()
	case "logs":
		return c.cmdLogs(args)
	case "kick":
		return c.cmdKick(args)
	case "ban":
		return c.cmdBan(args)
	case "unban":
		return c.cmdUnban(args)
	case "banned":
		return c.cmdBanned()
	case "save":
		return c.cmdSave()
	case "cmd", "rcon":
		return c.cmdRaw(args)
	case "event":
		return c.cmdEvent(args)
	case "stopevent":
		return c.cmdStopEvent()
	case "sleep":
		return c.cmdSleep()
	case "skiptime":
		return c.cmdSkipTime(args)
	case "keys":
		return c.cmdKeys(args)
	case "sessions":
		return c.cmdSessions(args)
	case "events":
		return c.cmdEvents(args)
	case "validate":
		c.cmdValidate()
	case "quit", "exit", "q":
		fmt.Println("Shutting down ozdsm...")
		c.eventBus.Emit(events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println("\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                       ozdsm CLI Commands                     ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════╣")
	fmt.Println("║  status             Show server and watchdog status         ║")
	fmt.Println("║  start              Launch the game server                  ║")
	fmt.Println("║  stop               Stop the game server gracefully         ║")
	fmt.Println("║  restart            Stop, wait, and relaunch the server     ║")
	fmt.Println("║  kill               Force-kill the server process           ║")
	fmt.Println("║  detach             Leave the server running and release it ║")
	fmt.Println("║  players            List connected players                  ║")
	fmt.Println("║  logs [n]           Show the last n server log lines        ║")
	fmt.Println("║  kick <target>      Kick a player (name, SteamID, or ID)    ║")
	fmt.Println("║  ban <target>       Ban a player                            ║")
	fmt.Println("║  unban <target>     Lift a ban                              ║")
	fmt.Println("║  banned             List banned players                     ║")
	fmt.Println("║  save               Force a world save                      ║")
	fmt.Println("║  cmd <text>         Send a raw RCON command                 ║")
	fmt.Println("║  event <name>       Start a random event                    ║")
	fmt.Println("║  stopevent          Stop the current random event           ║")
	fmt.Println("║  sleep              Skip forward to the next morning        ║")
	fmt.Println("║  skiptime <sec>     Advance world time by seconds           ║")
	fmt.Println("║  keys [set|remove|reset] [key]  Manage global keys          ║")
	fmt.Println("║  sessions [n]       Show recent player sessions             ║")
	fmt.Println("║  events [n]         Show recent recorded server events      ║")
	fmt.Println("║  validate           Validate the current configuration      ║")
	fmt.Println("║  quit               Shut down the manager                   ║")
	fmt.Println("║  help               Show this help message                  ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

// printStatus displays the supervised server in a formatted table.
func (c *CLI) printStatus() {
	st := c.supervisor.Status()

	pid := "-"
	uptime := "-"
	if st.PID > 0 {
		pid = strconv.Itoa(st.PID)
		uptime = (time.Duration(st.UptimeSec) * time.Second).String()
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"State", "World", "PID", "Uptime", "Players", "RCON", "Restarts"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	tw.Append([]string{
		strings.ToUpper(st.State),
		st.World,
		pid,
		uptime,
		strconv.Itoa(len(st.Players)),
		st.RconState,
		strconv.Itoa(st.Attempts),
	})
	tw.Render()

	if st.State == "online" {
		fmt.Printf("  CPU: %.1f%%   Memory: %.1f MB\n", st.CPUPercent, st.MemoryMB)
	}
	if st.State == "crashed" {
		fmt.Printf("  Last exit code: %d\n", st.LastExitCode)
	}
	fmt.Println()
}

func (c *CLI) printPlayers() {
	players := c.supervisor.Players()
	if len(players) == 0 {
		fmt.Println("No players connected")
		return
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"#", "Player"})
	tw.SetBorder(true)
	for i, name := range players {
		tw.Append([]string{strconv.Itoa(i + 1), name})
	}
	tw.Render()
	fmt.Println()
}

func (c *CLI) cmdStart(ctx context.Context) error {
	if err := c.supervisor.StartServer(ctx); err != nil {
		return err
	}
	fmt.Println("Server starting")
	return nil
}

func (c *CLI) cmdStop() error {
	if err := c.supervisor.StopServer(server.DefaultStopTimeout); err != nil {
		return err
	}
	fmt.Println("Stop requested")
	return nil
}

func (c *CLI) cmdRestart(ctx context.Context) error {
	st := c.supervisor.Status()
	if st.State != "offline" && st.State != "crashed" {
		if err := c.supervisor.StopServer(server.DefaultStopTimeout); err != nil {
			return err
		}
		fmt.Println("Stopping server...")
		deadline := time.Now().Add(server.DefaultStopTimeout + 5*time.Second)
		for time.Now().Before(deadline) {
			s := c.supervisor.Status().State
			if s == "offline" || s == "crashed" {
				break
			}
			time.Sleep(200 * time.Millisecond)
		}
	}

	if err := c.supervisor.StartServer(ctx); err != nil {
		return err
	}
	fmt.Println("Server restarting")
	return nil
}

func (c *CLI) cmdKill() error {
	if err := c.supervisor.KillServer(); err != nil {
		return err
	}
	fmt.Println("Kill signal sent")
	return nil
}

func (c *CLI) cmdDetach() error {
	if err := c.supervisor.DetachServer(); err != nil {
		return err
	}
	fmt.Println("Server detached; it keeps running without supervision")
	return nil
}

func (c *CLI) cmdLogs(args []string) error {
	n := 20
	if len(args) > 0 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed < 1 {
			return fmt.Errorf("invalid line count: %s", args[0])
		}
		n = parsed
	}

	lines, err := c.supervisor.RecentLogLines(n)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		fmt.Println("No log output available")
		return nil
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

func (c *CLI) cmdKick(args []string) error {
	target, err := targetArg(args, "kick")
	if err != nil {
		return err
	}
	if err := c.supervisor.Rcon().Kick(target); err != nil {
		return err
	}
	fmt.Printf("Kicked %s\n", target)
	return nil
}

func (c *CLI) cmdBan(args []string) error {
	target, err := targetArg(args, "ban")
	if err != nil {
		return err
	}
	if err := c.supervisor.Rcon().Ban(target); err != nil {
		return err
	}
	fmt.Printf("Banned %s\n", target)
	return nil
}

func (c *CLI) cmdUnban(args []string) error {
	target, err := targetArg(args, "unban")
	if err != nil {
		return err
	}
	if err := c.supervisor.Rcon().Unban(target); err != nil {
		return err
	}
	fmt.Printf("Unbanned %s\n", target)
	return nil
}

func (c *CLI) cmdBanned() error {
	banned, err := c.supervisor.Rcon().ListBanned()
	if err != nil {
		return err
	}
	if len(banned) == 0 {
		fmt.Println("Ban list is empty")
		return nil
	}
	for _, entry := range banned {
		fmt.Printf("  %s\n", entry)
	}
	return nil
}

func (c *CLI) cmdSave() error {
	if err := c.supervisor.Rcon().Save(); err != nil {
		return err
	}
	fmt.Println("World save triggered")
	return nil
}

func (c *CLI) cmdRaw(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: cmd <rcon command>")
	}
	resp, err := c.supervisor.Rcon().SendCommand(strings.Join(args, " "))
	if err != nil {
		return err
	}
	if resp == "" {
		fmt.Println("(no response)")
	} else {
		fmt.Println(resp)
	}
	return nil
}

func (c *CLI) cmdEvent(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: event <name>")
	}
	if err := c.supervisor.Rcon().TriggerEvent(args[0]); err != nil {
		return err
	}
	fmt.Printf("Event %s started\n", args[0])
	return nil
}

func (c *CLI) cmdStopEvent() error {
	if err := c.supervisor.Rcon().StopEvent(); err != nil {
		return err
	}
	fmt.Println("Event stopped")
	return nil
}

func (c *CLI) cmdSleep() error {
	if err := c.supervisor.Rcon().Sleep(); err != nil {
		return err
	}
	fmt.Println("Skipping to morning")
	return nil
}

func (c *CLI) cmdSkipTime(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: skiptime <seconds>")
	}
	seconds, err := strconv.Atoi(args[0])
	if err != nil || seconds < 1 {
		return fmt.Errorf("invalid seconds: %s", args[0])
	}
	if err := c.supervisor.Rcon().SkipTime(seconds); err != nil {
		return err
	}
	fmt.Printf("Advanced world time by %d seconds\n", seconds)
	return nil
}

func (c *CLI) cmdKeys(args []string) error {
	rc := c.supervisor.Rcon()

	if len(args) == 0 {
		keys, err := rc.ListGlobalKeys()
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("No global keys set")
			return nil
		}
		for _, key := range keys {
			fmt.Printf("  %s\n", key)
		}
		return nil
	}

	switch strings.ToLower(args[0]) {
	case "set":
		if len(args) < 2 {
			return fmt.Errorf("usage: keys set <key>")
		}
		if err := rc.SetGlobalKey(args[1]); err != nil {
			return err
		}
		fmt.Printf("Global key %s set\n", args[1])
	case "remove":
		if len(args) < 2 {
			return fmt.Errorf("usage: keys remove <key>")
		}
		if err := rc.RemoveGlobalKey(args[1]); err != nil {
			return err
		}
		fmt.Printf("Global key %s removed\n", args[1])
	case "reset":
		if err := rc.ResetGlobalKeys(); err != nil {
			return err
		}
		fmt.Println("Global keys cleared")
	default:
		return fmt.Errorf("usage: keys [set|remove|reset] [key]")
	}
	return nil
}

func (c *CLI) cmdSessions(args []string) error {
	if c.history == nil {
		return fmt.Errorf("session history is disabled")
	}

	limit, err := limitArg(args, 10)
	if err != nil {
		return err
	}
	sessions, err := c.history.RecentSessions(limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No recorded sessions")
		return nil
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Player", "SteamID", "Joined", "Left"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, sess := range sessions {
		left := "online"
		if sess.LeftAt != nil {
			left = sess.LeftAt.Format("2006-01-02 15:04:05")
		}
		tw.Append([]string{
			sess.CharacterName,
			sess.SteamID,
			sess.JoinedAt.Format("2006-01-02 15:04:05"),
			left,
		})
	}
	tw.Render()
	fmt.Println()
	return nil
}

func (c *CLI) cmdEvents(args []string) error {
	if c.history == nil {
		return fmt.Errorf("event history is disabled")
	}

	limit, err := limitArg(args, 10)
	if err != nil {
		return err
	}
	recorded, err := c.history.RecentEvents("", limit)
	if err != nil {
		return err
	}
	if len(recorded) == 0 {
		fmt.Println("No recorded events")
		return nil
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Time", "Kind", "Detail"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, evt := range recorded {
		tw.Append([]string{
			evt.CreatedAt.Format("2006-01-02 15:04:05"),
			evt.Kind,
			evt.Detail,
		})
	}
	tw.Render()
	fmt.Println()
	return nil
}

func (c *CLI) cmdValidate() {
	result := config.Validate(c.cfg)
	for _, w := range result.Warnings {
		fmt.Printf("  warning: %s: %s\n", w.Field, w.Message)
	}
	for _, e := range result.Errors {
		fmt.Printf("  error: %s: %s\n", e.Field, e.Message)
	}
	if result.IsValid() && len(result.Warnings) == 0 {
		fmt.Println("Configuration is valid")
	} else if result.IsValid() {
		fmt.Println("Configuration is valid (with warnings)")
	}
}

func targetArg(args []string, usage string) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("usage: %s <name|SteamID>", usage)
	}
	return strings.Join(args, " "), nil
}

func limitArg(args []string, def int) (int, error) {
	if len(args) < 1 {
		return def, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid count: %s", args[0])
	}
	return n, nil
}
