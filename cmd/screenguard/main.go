// screenguard is the lock overlay daemon. It owns the overlay state, records
// unlock attempts and answers the control socket used by screenguardctl and
// the overlay window.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"screenguard/internal/config"
	"screenguard/internal/logging"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath  = flag.String("config", "", "path to config file")
	lockOnStart = flag.Bool("lock", false, "show the overlay as soon as the daemon is up")
	showVersion = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("screenguard %s\n", Version)
		return
	}

	cmd := "run"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}

	switch cmd {
	case "run":
		run()
	case "init":
		cmdInit()
	case "paths":
		cmdPaths()
	case "check":
		cmdCheck()
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `screenguard - U-gesture lock overlay daemon

Usage: screenguard [options] [command]

Commands:
  run       Run the daemon in the foreground (default)
  init      Write a default configuration file
  check     Validate the configuration file
  paths     Show configuration, data and socket paths
  help      Show this help message

Options:
  -config <path>  Path to config file (default: $XDG_CONFIG_HOME/screenguard/config.toml)
  -lock           Show the overlay immediately after startup
  -version        Print version and exit

Signals:
  SIGHUP          Reload the configuration file
  SIGINT, SIGTERM Shut down`)
}

func resolvedConfigPath() string {
	if *configPath != "" {
		return *configPath
	}
	return config.ConfigPath()
}

func run() {
	path := resolvedConfigPath()
	if _, created, err := config.LoadOrCreate(path); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	} else if created {
		fmt.Fprintf(os.Stderr, "Wrote default configuration to %s\n", path)
	}

	loader := config.NewLoader(path)
	cfg, warnings, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directories: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LoggerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()
	logging.SetDefault(logger)

	for _, w := range warnings {
		logger.Warn("configuration warning", "field", w.Field, "message", w.Message)
	}

	daemon, err := NewDaemon(loader, logger)
	if err != nil {
		logger.Error("daemon setup failed", "error", err)
		os.Exit(1)
	}
	if err := daemon.Start(); err != nil {
		logger.Error("daemon start failed", "error", err)
		os.Exit(1)
	}

	if err := loader.Watch(); err != nil {
		logger.Warn("config watch disabled", "error", err)
	}
	defer loader.Close()

	if *lockOnStart {
		if err := daemon.Activate(); err != nil {
			logger.Error("initial activation failed", "error", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				if err := loader.Reload(); err != nil {
					logger.Error("config reload failed", "error", err)
				}
				continue
			}
			logger.Info("shutting down", "signal", sig.String())
			daemon.Stop()
			return
		case err := <-loader.Errors():
			logger.Error("config reload failed", "error", err)
		case <-ticker.C:
			daemon.Tick()
		}
	}
}

func cmdInit() {
	path := resolvedConfigPath()
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "Config already exists: %s\n", path)
		os.Exit(1)
	}
	cfg := config.DefaultConfig()
	if err := config.Save(cfg, path); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directories: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", path)
}

func cmdCheck() {
	path := resolvedConfigPath()
	_, warnings, err := config.NewLoader(path).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		os.Exit(1)
	}
	for _, w := range warnings {
		fmt.Printf("warning: %s\n", w.Error())
	}
	fmt.Printf("%s: OK\n", path)
}

func cmdPaths() {
	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config:   %s\n", resolvedConfigPath())
	fmt.Printf("Data:     %s\n", config.DataDir())
	fmt.Printf("Runtime:  %s\n", config.RuntimeDir())
	fmt.Printf("Socket:   %s\n", cfg.IPC.SocketPath)
	fmt.Printf("Pid file: %s\n", cfg.IPC.PidFile)
	fmt.Printf("Journal:  %s\n", cfg.Journal.Path)
	fmt.Printf("Log:      %s\n", cfg.Logging.FilePath)
}
