package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd, loginCmd, logoutCmd, syncCmd, focusCmd, watchCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			info, err := c.Status(ctx)
			if err != nil {
				return err
			}
			printStatus(info)
			return nil
		})
	},
}

func printStatus(info *api.StatusInfo) {
	if flagJSON {
		outputJSON(info)
		return
	}
	fmt.Printf("Session: %s\n", info.Session)
	fmt.Printf("Status:  %s\n", info.Status)
	fmt.Printf("Uptime:  %s\n", (time.Duration(info.UptimeMs) * time.Millisecond).Round(time.Second))
	if info.User != nil {
		fmt.Printf("User:    %s (%s)\n", info.User.Name, info.User.ID)
	}
	fmt.Printf("Rooms:   %d (%d unread)\n", info.Rooms, info.Unread)
	if info.CurrentRoom != "" {
		fmt.Printf("Current: %s\n", info.CurrentRoom)
	}
}

var loginCmd = &cobra.Command{
	Use:   "login [token]",
	Short: "Hand a bearer token to the daemon",
	Long:  "Store a bearer token obtained from the login page and restart the session with it. Without an argument the token is read from stdin.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := ""
		if len(args) == 1 {
			token = args[0]
		} else {
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read token: %w", err)
			}
			token = line
		}
		token = strings.TrimSpace(token)
		return withClient(func(ctx context.Context, c *api.Client) error {
			info, err := c.Login(ctx, token)
			if err != nil {
				return err
			}
			printStatus(info)
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Disconnect and forget the stored token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			return c.Logout(ctx)
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Send queued messages and fetch missed ones now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			return c.Sync(ctx)
		})
	},
}

var focusCmd = &cobra.Command{
	Use:       "focus <on|off>",
	Short:     "Tell the daemon whether the chat window has focus",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var focused bool
		switch args[0] {
		case "on":
			focused = true
		case "off":
		default:
			return fmt.Errorf("focus: want on or off, got %q", args[0])
		}
		return withClient(func(ctx context.Context, c *api.Client) error {
			return c.SetFocus(ctx, focused)
		})
	},
}

var watchNamespace string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream daemon events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		return c.Watch(cmd.Context(), watchNamespace, func(e api.Event) error {
			if flagJSON {
				outputJSON(e)
				return nil
			}
			at := time.UnixMilli(e.OccurredAtMs).Format("15:04:05.000")
			fmt.Printf("%s %-28s %s\n", at, e.Kind, e.Payload)
			return nil
		})
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchNamespace, "namespace", "", "only events whose kind starts with this prefix, e.g. chat. or sync.")
}
