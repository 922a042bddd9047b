package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	roomsCmd.Flags().BoolVar(&roomsAll, "all", false, "include hidden rooms")
	roomsCmd.Flags().StringVar(&roomsQuery, "filter", "", "only rooms whose name contains this")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum results")

	rootCmd.AddCommand(roomsCmd, messagesCmd, selectCmd, sendCmd, sendFileCmd, hideCmd, dmCmd, usersCmd, searchCmd, typingCmd)
}

var (
	roomsAll    bool
	roomsQuery  string
	searchLimit int
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List rooms, most recently active first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			rooms, err := c.Rooms(ctx, roomsAll, roomsQuery)
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(rooms)
				return nil
			}
			if len(rooms) == 0 {
				fmt.Println("No rooms.")
				return nil
			}
			for _, r := range rooms {
				unread := ""
				if r.UnreadCount > 0 {
					unread = fmt.Sprintf("(%d)", r.UnreadCount)
				}
				fmt.Printf("%-10s %-6s %-24s %-5s %s\n", r.ID, r.Type, r.Name, unread, r.LastMessage)
			}
			return nil
		})
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages [room]",
	Short: "Show loaded messages of a room (the current room by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			msgs, err := c.Messages(ctx, roomArg(args))
			if err != nil {
				return err
			}
			printMessages(msgs)
			return nil
		})
	},
}

var selectCmd = &cobra.Command{
	Use:   "select <room>",
	Short: "Open a room, load its messages and mark them read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			msgs, err := c.SelectRoom(ctx, model.ID(args[0]))
			if err != nil {
				return err
			}
			printMessages(msgs)
			return nil
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <room> <text...>",
	Short: "Send a text message; use - as room for the current one",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			m, err := c.SendText(ctx, roomArg(args[:1]), strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(m)
				return nil
			}
			fmt.Printf("sent %s\n", m.ID)
			return nil
		})
	},
}

var sendFileCmd = &cobra.Command{
	Use:   "send-file <room> <path>",
	Short: "Upload a file and share it in a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			f, err := c.SendFile(ctx, roomArg(args[:1]), args[1])
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(f)
				return nil
			}
			fmt.Printf("uploaded %s (%s, %d bytes)\n", f.Name, f.MimeType, f.Size)
			return nil
		})
	},
}

var hideCmd = &cobra.Command{
	Use:   "hide <room>",
	Short: "Hide a room until its next message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			return c.HideRoom(ctx, model.ID(args[0]))
		})
	},
}

var dmCmd = &cobra.Command{
	Use:   "dm <user-id>",
	Short: "Open a direct room with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			r, err := c.CreateDirectRoom(ctx, model.ID(args[0]))
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(r)
				return nil
			}
			fmt.Printf("room %s %s\n", r.ID, r.Name)
			return nil
		})
	},
}

var usersCmd = &cobra.Command{
	Use:   "users <query>",
	Short: "Search users by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			users, err := c.SearchUsers(ctx, args[0])
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(users)
				return nil
			}
			for _, u := range users {
				fmt.Printf("%-8s %-16s %s %s\n", u.ID, u.Username, u.Name, u.Position)
			}
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search cached messages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			msgs, err := c.SearchMessages(ctx, strings.Join(args, " "), searchLimit)
			if err != nil {
				return err
			}
			printMessages(msgs)
			return nil
		})
	},
}

var typingCmd = &cobra.Command{
	Use:       "typing <start|stop> [room]",
	Short:     "Send a typing indicator",
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"start", "stop"},
	RunE: func(cmd *cobra.Command, args []string) error {
		typing := args[0] == "start"
		if !typing && args[0] != "stop" {
			return fmt.Errorf("typing: want start or stop, got %q", args[0])
		}
		return withClient(func(ctx context.Context, c *api.Client) error {
			return c.Typing(ctx, roomArg(args[1:]), typing)
		})
	},
}

// roomArg returns the first argument as a room id. "-" or nothing means the
// current room.
func roomArg(args []string) model.ID {
	if len(args) == 0 || args[0] == "-" {
		return ""
	}
	return model.ID(args[0])
}

func printMessages(msgs []model.Message) {
	if flagJSON {
		outputJSON(msgs)
		return
	}
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return
	}
	for _, m := range msgs {
		mark := " "
		if m.Pending {
			mark = "…"
		}
		body := m.Content
		if m.Type == model.MessageFile && m.File != nil {
			body = fmt.Sprintf("[%s] %s", m.File.Name, m.File.URL)
		}
		fmt.Printf("%s %s %-12s %s\n", m.CreatedAt.Local().Format("01-02 15:04"), mark, m.UserName, body)
	}
}
