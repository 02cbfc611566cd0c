// screenguardctl is the control CLI for screenguard.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"screenguard/internal/config"
	"screenguard/internal/ipc"
	"screenguard/internal/journal"
	"screenguard/internal/trace"
)

var (
	configPath = flag.String("config", "", "path to config file")
	jsonOutput = flag.Bool("json", false, "print JSON instead of text")
	timeout    = flag.Duration("timeout", 5*time.Second, "request timeout")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	switch cmd {
	case "status":
		cmdStatus()
	case "start":
		cmdStart()
	case "stop":
		cmdStop()
	case "active":
		cmdActive()
	case "history":
		cmdHistory(args)
	case "verify":
		cmdVerify()
	case "replay":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: screenguardctl replay <trace> [trace...]")
			os.Exit(1)
		}
		cmdReplay(args)
	case "config":
		cmdConfig()
	case "reload":
		cmdReload()
	case "watch":
		cmdWatch()
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `screenguardctl - Control utility for screenguard

Usage: screenguardctl [options] <command> [args]

Commands:
  status            Show daemon, overlay and journal status
  start             Show the lock overlay
  stop              Hide the lock overlay without unlocking
  active            Exit 0 if the overlay is shown, 1 otherwise
  history [-n N]    Print recent unlock attempts
  verify            Verify the attempt journal's hash chain
  replay <trace>    Replay recorded pointer traces through the recognizer
  config            Print the running configuration
  reload            Reload the daemon configuration
  watch             Stream overlay events until interrupted
  help              Show this help message

Options:
  -config <path>    Path to config file (default: $XDG_CONFIG_HOME/screenguard/config.toml)
  -json             Print JSON
  -timeout <d>      Request timeout (default 5s)

history and verify read the journal directly when the daemon is not running.`)
}

func loadConfig() *config.Config {
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func connect(cfg *config.Config) (*ipc.IPCClient, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	client, err := ipc.Dial(ctx, ipc.DefaultClientConfig(cfg.IPC.SocketPath))
	if err != nil {
		cancel()
		if errors.Is(err, ipc.ErrDaemonNotRunning) {
			fmt.Fprintln(os.Stderr, "Daemon Status: NOT RUNNING")
			os.Exit(2)
		}
		fail("connect: %v", err)
	}
	return client, ctx, cancel
}

// tryConnect is connect without exiting when the daemon is down.
func tryConnect(cfg *config.Config) (*ipc.IPCClient, context.Context, context.CancelFunc, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	client, err := ipc.Dial(ctx, ipc.DefaultClientConfig(cfg.IPC.SocketPath))
	if err != nil {
		cancel()
		return nil, nil, nil, false
	}
	return client, ctx, cancel, true
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fail("encode: %v", err)
	}
}

func cmdStatus() {
	cfg := loadConfig()
	client, ctx, cancel := connect(cfg)
	defer cancel()
	defer client.Close()

	st, err := client.Status(ctx)
	if err != nil {
		fail("status: %v", err)
	}
	if *jsonOutput {
		printJSON(st)
		return
	}

	fmt.Println("=== screenguard Status ===")
	fmt.Println()
	fmt.Printf("Daemon Status: RUNNING (version %s, up %s, %d client(s))\n",
		st.Version, st.Uptime.Truncate(time.Second), st.Clients)
	if pid, err := ipc.ReadPid(cfg.IPC.PidFile); err == nil {
		fmt.Printf("PID: %d\n", pid)
	}
	fmt.Println()

	o := st.Overlay
	fmt.Println("Overlay:")
	if o.Active {
		fmt.Printf("  State: LOCKED since %s\n", o.Since.Format(time.RFC3339))
		fmt.Printf("  Gesture phase: %s\n", o.Phase)
		fmt.Printf("  Emergency taps: %d / %d\n", o.EmergencyTaps, o.Required)
	} else {
		fmt.Println("  State: unlocked")
	}
	fmt.Printf("  Surface: %.0fx%.0f\n", o.Surface.Width, o.Surface.Height)
	fmt.Printf("  Activations: %d, unlocks: %d\n", o.Activations, o.Unlocks)
	fmt.Println()

	j := st.Journal
	fmt.Println("Journal:")
	if !j.Enabled {
		fmt.Println("  (disabled)")
		return
	}
	fmt.Printf("  Entries: %d\n", j.Entries)
	for _, k := range sortedKeys(j.ByOutcome) {
		fmt.Printf("    %-20s %d\n", k, j.ByOutcome[k])
	}
	if !j.Newest.IsZero() {
		fmt.Printf("  Newest: %s\n", j.Newest.Format(time.RFC3339))
	}
	if j.IntegrityOK {
		fmt.Println("  Integrity: OK")
	} else {
		fmt.Println("  Integrity: FAILED (journal is read-only)")
	}
}

func cmdStart() {
	cfg := loadConfig()
	client, ctx, cancel := connect(cfg)
	defer cancel()
	defer client.Close()

	err := client.StartOverlay(ctx)
	var remote *ipc.RemoteError
	switch {
	case errors.As(err, &remote) && remote.Code == ipc.ErrAlreadyActive:
		fmt.Println("Overlay already active")
	case err != nil:
		fail("start: %v", err)
	default:
		fmt.Println("Overlay active")
	}
}

func cmdStop() {
	cfg := loadConfig()
	client, ctx, cancel := connect(cfg)
	defer cancel()
	defer client.Close()

	err := client.StopOverlay(ctx)
	var remote *ipc.RemoteError
	switch {
	case errors.As(err, &remote) && remote.Code == ipc.ErrNotActive:
		fmt.Println("Overlay not active")
	case err != nil:
		fail("stop: %v", err)
	default:
		fmt.Println("Overlay stopped")
	}
}

func cmdActive() {
	cfg := loadConfig()
	client, ctx, cancel := connect(cfg)
	defer cancel()
	defer client.Close()

	active, err := client.IsActive(ctx)
	if err != nil {
		fail("active: %v", err)
	}
	if *jsonOutput {
		printJSON(map[string]bool{"active": active})
	} else {
		fmt.Println(active)
	}
	if !active {
		os.Exit(1)
	}
}

func cmdHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("n", 20, "number of entries")
	fs.Parse(args)

	cfg := loadConfig()
	var entries []journal.Entry

	if client, ctx, cancel, ok := tryConnect(cfg); ok {
		defer cancel()
		defer client.Close()
		var err error
		if entries, err = client.History(ctx, *limit); err != nil {
			fail("history: %v", err)
		}
	} else {
		j := openJournal(cfg)
		defer j.Close()
		var err error
		if entries, err = j.Recent(context.Background(), *limit); err != nil {
			fail("history: %v", err)
		}
	}

	if *jsonOutput {
		printJSON(entries)
		return
	}
	if len(entries) == 0 {
		fmt.Println("No attempts recorded.")
		return
	}

	fmt.Println("=== Attempt History ===")
	fmt.Printf("%-6s %-20s %-18s %-12s %-5s %-8s\n", "ID", "Time", "Outcome", "Phase", "Taps", "Duration")
	fmt.Println(strings.Repeat("-", 74))
	for _, e := range entries {
		fmt.Printf("%-6d %-20s %-18s %-12s %-5d %-8s\n",
			e.ID,
			e.Time.Local().Format("2006-01-02 15:04:05"),
			e.Outcome,
			e.Phase,
			e.Taps,
			(time.Duration(e.DurationMs) * time.Millisecond).String(),
		)
	}
}

func cmdVerify() {
	cfg := loadConfig()
	var resp *ipc.VerifyJournalResponse

	if client, ctx, cancel, ok := tryConnect(cfg); ok {
		defer cancel()
		defer client.Close()
		var err error
		if resp, err = client.VerifyJournal(ctx); err != nil {
			fail("verify: %v", err)
		}
	} else {
		resp = verifyLocal(cfg)
	}

	if *jsonOutput {
		printJSON(resp)
	} else if resp.Valid {
		fmt.Printf("Journal OK: %d entries, chain %s\n", resp.Entries, abbrev(resp.Chain))
	} else {
		fmt.Printf("Journal FAILED verification: %s\n", resp.Error)
	}
	if !resp.Valid {
		os.Exit(1)
	}
}

func verifyLocal(cfg *config.Config) *ipc.VerifyJournalResponse {
	j := openJournal(cfg)
	defer j.Close()

	ctx := context.Background()
	resp := &ipc.VerifyJournalResponse{Valid: true}
	if err := j.Verify(ctx); err != nil {
		resp.Valid = false
		resp.Error = err.Error()
	}
	if stats, err := j.Stats(ctx); err == nil {
		resp.Entries = stats.Entries
		resp.Chain = stats.ChainHash
	}
	return resp
}

// openJournal opens the journal for reading. A journal that fails
// verification is still returned.
func openJournal(cfg *config.Config) *journal.Journal {
	if !cfg.Journal.Enabled {
		fail("journal is disabled in %s", configFile())
	}
	if _, err := os.Stat(cfg.Journal.Path); os.IsNotExist(err) {
		fail("no journal at %s", cfg.Journal.Path)
	}
	j, err := journal.Open(cfg.Journal.Path, cfg.Journal.SecretPath)
	if err != nil && !errors.Is(err, journal.ErrJournalTampered) {
		fail("open journal: %v", err)
	}
	return j
}

func cmdReplay(paths []string) {
	cfg := loadConfig()
	rcfg := cfg.RouterConfig()

	failed := 0
	results := make(map[string]trace.Result, len(paths))
	for _, path := range paths {
		tr, err := trace.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		res, err := trace.Run(rcfg, tr, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		results[path] = res
		if res.Mismatch != "" {
			failed++
		}

		if *jsonOutput {
			continue
		}
		status := "ok"
		if res.Mismatch != "" {
			status = "MISMATCH: " + res.Mismatch
		}
		if res.Unlocked {
			fmt.Printf("%s: unlocked by %s at event %d (%d ms) [%s]\n", path, res.SourceName(), res.Index, res.At, status)
		} else {
			fmt.Printf("%s: locked, phase %s, %d emergency tap(s) [%s]\n", path, res.FinalPhase, res.EmergencyTaps, status)
		}
	}

	if *jsonOutput {
		printJSON(results)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func cmdConfig() {
	cfg := loadConfig()
	client, ctx, cancel, ok := tryConnect(cfg)
	if !ok {
		// Show what the daemon would load.
		data, err := config.Encode(cfg, ".toml")
		if err != nil {
			fail("encode config: %v", err)
		}
		fmt.Printf("# %s (daemon not running)\n%s", configFile(), data)
		return
	}
	defer cancel()
	defer client.Close()

	resp, err := client.Config(ctx)
	if err != nil {
		fail("config: %v", err)
	}
	if *jsonOutput {
		printJSON(resp)
		return
	}
	fmt.Printf("# %s\n%s", resp.Path, resp.TOML)
}

func cmdReload() {
	cfg := loadConfig()
	client, ctx, cancel := connect(cfg)
	defer cancel()
	defer client.Close()

	if err := client.ReloadConfig(ctx); err != nil {
		fail("reload: %v", err)
	}
	fmt.Println("Configuration reloaded")
}

func cmdWatch() {
	cfg := loadConfig()
	client, ctx, cancel := connect(cfg)
	err := client.Subscribe(ctx)
	cancel()
	if err != nil {
		client.Close()
		fail("subscribe: %v", err)
	}
	defer client.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sigChan:
			return
		case ev, ok := <-client.Events():
			if !ok {
				fmt.Fprintln(os.Stderr, "connection closed")
				os.Exit(1)
			}
			if *jsonOutput {
				printJSON(ev)
				continue
			}
			line := ev.Timestamp.Local().Format("15:04:05.000") + " " + ev.Type.String()
			if ev.Source != "" {
				line += " source=" + ev.Source
			}
			fmt.Println(line)
		}
	}
}

func configFile() string {
	if *configPath != "" {
		return *configPath
	}
	return config.ConfigPath()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func abbrev(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}
