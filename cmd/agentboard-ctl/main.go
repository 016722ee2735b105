// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// agentboard-ctl is a command-line tool for querying a running Agentboard
// instance.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tiagoefreitas/agentboard/pkg/client"
)

var (
	version    = "0.9"
	apiURL     = "http://localhost:8080"
	jsonOutput = false

	apiClient *client.Client
)

func main() {
	if env := os.Getenv("AGENTBOARD_API"); env != "" {
		apiURL = strings.TrimSuffix(env, "/")
	}

	// Parse global flags and filter them out
	var filteredArgs []string
	for _, arg := range os.Args[1:] {
		if arg == "-json" {
			jsonOutput = true
		} else {
			filteredArgs = append(filteredArgs, arg)
		}
	}

	apiClient = client.New(apiURL)

	if len(filteredArgs) < 1 {
		printUsage()
		os.Exit(1)
	}

	cmd := filteredArgs[0]
	args := filteredArgs[1:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(args)
	case "preview":
		err = cmdPreview(args)
	case "dirs":
		err = cmdDirs(args)
	case "info":
		err = cmdInfo(args)
	case "settings":
		err = cmdSettings(args)
	case "health":
		err = cmdHealth(args)
	case "version", "-v", "--version":
		fmt.Printf("agentboard-ctl %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`agentboard-ctl - Query a running Agentboard instance

Usage:
  agentboard-ctl [-json] <command> [arguments]

Global Flags:
  -json          Output in JSON format

Environment:
  AGENTBOARD_API   Base URL of Agentboard API (default: http://localhost:8080)

Commands:
  status                   Show all tracked tmux sessions and agent status
  preview <session-id>     Show an agent session's recent conversation
  dirs [path]              List subdirectories on the server (default: ~)
  info                     Show server port, protocol, and tailnet address

  settings                 Show current settings
  settings mouse on|off    Toggle tmux mouse mode
  settings max-age <hours> Set the inactive-session age filter

  health                   Check whether the server is responding
  version                  Show version
  help                     Show this help`)
}

// printJSON outputs any value as formatted JSON
func printJSON(v interface{}) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func cmdStatus(args []string) error {
	ctx := context.Background()

	sessions, err := apiClient.Sessions.List(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(sessions)
		return nil
	}

	fmt.Printf("%-22s %-16s %-8s %-14s %s\n", "TARGET", "WINDOW", "HOST", "STATUS", "AGENT")
	fmt.Println(strings.Repeat("-", 78))
	for _, s := range sessions {
		host := s.Host
		if host == "" {
			host = "-"
		}
		agent := "-"
		if s.Agent != nil {
			agent = s.Agent.AgentType + " " + shortID(s.Agent.SessionID)
		}
		fmt.Printf("%-22s %-16s %-8s %-14s %s\n", s.TmuxTarget, s.WindowName, host, s.Status, agent)
	}

	return nil
}

func cmdPreview(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: agentboard-ctl preview <session-id>")
	}

	preview, err := apiClient.Sessions.Preview(context.Background(), args[0])
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(preview)
		return nil
	}

	for _, line := range preview.Lines {
		fmt.Printf("[%s] %s\n", line.Role, line.Text)
	}
	return nil
}

func cmdDirs(args []string) error {
	path := ""
	if len(args) > 0 {
		path = args[0]
	}

	listing, err := apiClient.Directories.List(context.Background(), path)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(listing)
		return nil
	}

	fmt.Println(listing.Path)
	for _, d := range listing.Directories {
		fmt.Println("  " + d.Name)
	}
	if listing.Truncated {
		fmt.Println("  ... (truncated)")
	}
	return nil
}

func cmdInfo(args []string) error {
	info, err := apiClient.System.ServerInfo(context.Background())
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(info)
		return nil
	}

	fmt.Printf("Port:       %d\n", info.Port)
	fmt.Printf("Protocol:   %s\n", info.Protocol)
	if info.TailscaleIP != nil {
		fmt.Printf("Tailscale:  %s\n", *info.TailscaleIP)
	} else {
		fmt.Println("Tailscale:  not detected")
	}
	return nil
}

func cmdSettings(args []string) error {
	ctx := context.Background()

	if len(args) == 0 {
		mouse, err := apiClient.Settings.MouseMode(ctx)
		if err != nil {
			return err
		}
		hours, err := apiClient.Settings.InactiveMaxAge(ctx)
		if err != nil {
			return err
		}

		if jsonOutput {
			printJSON(map[string]interface{}{"mouseMode": mouse, "inactiveMaxAgeHours": hours})
			return nil
		}
		fmt.Printf("Mouse mode:        %s\n", onOff(mouse))
		fmt.Printf("Inactive max age:  %dh\n", hours)
		return nil
	}

	switch args[0] {
	case "mouse":
		if len(args) < 2 || (args[1] != "on" && args[1] != "off") {
			return fmt.Errorf("usage: agentboard-ctl settings mouse on|off")
		}
		if err := apiClient.Settings.SetMouseMode(ctx, args[1] == "on"); err != nil {
			return err
		}
		fmt.Println("Mouse mode " + args[1])
		return nil
	case "max-age":
		if len(args) < 2 {
			return fmt.Errorf("usage: agentboard-ctl settings max-age <hours>")
		}
		hours, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid hours: %s", args[1])
		}
		if err := apiClient.Settings.SetInactiveMaxAge(ctx, hours); err != nil {
			return err
		}
		fmt.Printf("Inactive max age set to %dh\n", hours)
		return nil
	default:
		return fmt.Errorf("unknown settings command: %s", args[0])
	}
}

func cmdHealth(args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := apiClient.System.Health(ctx)
	if err != nil {
		return fmt.Errorf("server not responding at %s: %w", apiURL, err)
	}
	if !ok {
		return fmt.Errorf("server at %s reported not ok", apiURL)
	}
	fmt.Println("ok")
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
