// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/tiagoefreitas/agentboard/internal/app"
)

var (
	version = "0.9"
)

func main() {
	// Check for subcommands before flag parsing
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	var (
		configPath  string
		host        string
		port        int
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&host, "host", "", "HTTP server host (overrides config)")
	flag.IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.Parse()

	if showVersion {
		fmt.Printf("agentboard %s\n", version)
		os.Exit(0)
	}

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Host:       host,
		Port:       port,
		Version:    version,
	})
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	ctx := context.Background()
	if err := application.Run(ctx); err != nil {
		log.Fatalf("App error: %v", err)
	}
}

// runInit handles the "agentboard init" command
func runInit() error {
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	showHelp := initFlags.Bool("help", false, "Show help for init command")
	initFlags.BoolVar(showHelp, "h", false, "Show help for init command")
	initFlags.Parse(os.Args[2:])

	if *showHelp {
		fmt.Println(`Usage: agentboard init [options]

Create an agentboard.hjson configuration file in the current directory.

This command walks you through setting up an Agentboard configuration
with interactive prompts. The generated file is fully commented to help
you understand and customize all available options.

Options:
  -h, -help    Show this help message

The command will ask about:
  - Server port (defaults to 8080)
  - Managed tmux session name
  - Remote SSH hosts running tmux

Examples:
  agentboard init           Create config with interactive prompts

After running init:
  1. Review and edit agentboard.hjson as needed
  2. Run: ./agentboard
  3. Open: http://localhost:8080`)
		return nil
	}

	configFile := "agentboard.hjson"

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("%s already exists; remove it first or use a different directory", configFile)
	}

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Agentboard Configuration Setup")
	fmt.Println("==============================")
	fmt.Println()
	fmt.Println("This will create an agentboard.hjson configuration file in the current directory.")
	fmt.Println("Press Enter to accept defaults shown in [brackets].")
	fmt.Println()

	portStr := prompt(reader, "Server port", "8080")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 8080
	}

	session := prompt(reader, "Managed tmux session name", "agentboard")

	fmt.Println()
	fmt.Println("Remote hosts are SSH destinations running tmux whose agent windows")
	fmt.Println("Agentboard surfaces alongside local ones.")
	var hosts []string
	for {
		addHost := prompt(reader, "Add a remote host? (y/n)", "n")
		if strings.ToLower(addHost) != "y" {
			break
		}
		host := prompt(reader, "  SSH host (name from ~/.ssh/config or user@host)", "")
		if host != "" {
			hosts = append(hosts, host)
		}
	}

	configContent := generateConfig(port, session, hosts)

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Println()
	fmt.Printf("Created %s\n", configFile)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit agentboard.hjson as needed")
	fmt.Println("  2. Run: ./agentboard")
	fmt.Println("  3. Open: http://localhost:" + strconv.Itoa(port))
	fmt.Println()

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

// escapeHJSONValue escapes a string for safe inclusion in an HJSON double-quoted value.
func escapeHJSONValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func generateConfig(port int, session string, hosts []string) string {
	var sb strings.Builder

	sb.WriteString(`{
  // =============================================================================
  // Agentboard Configuration
  // =============================================================================
  //
  // This is an HJSON file (JSON with comments and relaxed syntax).
  // Every setting here can also be supplied through environment variables;
  // set values win over file values.

  // ---------------------------------------------------------------------------
  // Server Settings
  // ---------------------------------------------------------------------------
  server: {
    // Host to bind to (use "0.0.0.0" to allow remote access)
    host: "127.0.0.1"

    // Port for the web UI and API
    port: `)
	sb.WriteString(strconv.Itoa(port))
	sb.WriteString(`

    // For HTTPS, uncomment and set paths to your certificates:
    // tls_cert: "~/.agentboard/cert.pem"
    // tls_key: "~/.agentboard/key.pem"

    // Or fetch certificates from the local Tailscale daemon:
    // tls_tailscale: true
  }

  // ---------------------------------------------------------------------------
  // tmux
  // ---------------------------------------------------------------------------
  tmux: {
    // The session Agentboard creates windows in
    session: "`)
	sb.WriteString(escapeHJSONValue(session))
	sb.WriteString(`"

    // How often to poll tmux for window changes
    refresh_interval_ms: 2000

    // Kill leftover agentboard-ws-* helper sessions at boot
    prune_ws_sessions: true

    // How browser terminals attach: "auto", "pty", or "pipe-pane"
    terminal_mode: "auto"

    // Extra session-name prefixes to surface alongside the managed session
    // discover_prefixes: ["work-"]
  }

  // ---------------------------------------------------------------------------
  // Agent Logs
  // ---------------------------------------------------------------------------
  //
  // Agentboard tails Claude and Codex session logs to pair them with tmux
  // windows and derive status. Defaults cover standard install locations.
  logs: {
    // claude_dir: "~/.claude/projects"
    // codex_dir: "~/.codex/sessions"
    poll_interval_ms: 2000
    match_worker: true
  }

  // ---------------------------------------------------------------------------
  // Resume Commands
  // ---------------------------------------------------------------------------
  //
  // Command templates used to relaunch an inactive agent session in a new
  // window. {sessionId} is replaced with the agent session id.
  resume: {
    claude_cmd: "claude --resume {sessionId}"
    codex_cmd: "codex resume {sessionId}"
  }

  // ---------------------------------------------------------------------------
  // Remote Hosts
  // ---------------------------------------------------------------------------
  //
  // SSH destinations running tmux. Agent windows on these hosts appear in
  // the dashboard next to local ones.
  remote: {
`)

	if len(hosts) == 0 {
		sb.WriteString(`    // hosts: ["devbox", "user@prod.example.com"]
`)
	} else {
		sb.WriteString(`    hosts: [`)
		for i, h := range hosts {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(`"`)
			sb.WriteString(escapeHJSONValue(h))
			sb.WriteString(`"`)
		}
		sb.WriteString(`]
`)
	}

	sb.WriteString(`
    // Reachability probe interval and per-call ssh bound
    poll_ms: 15000
    timeout_ms: 10000

    // Extra ssh options, space separated
    // ssh_opts: "-o ConnectTimeout=5"
  }

  // ---------------------------------------------------------------------------
  // Storage
  // ---------------------------------------------------------------------------
  store: {
    // Where the session database lives
    // path: "~/.agentboard/agentboard.db"
  }
}
`)

	return sb.String()
}
