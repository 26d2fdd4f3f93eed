package commands

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/faithflow/commsync/pkg/cache"
	"github.com/faithflow/commsync/pkg/chat"
	"github.com/faithflow/commsync/pkg/cli"
	"github.com/faithflow/commsync/pkg/commsync"
	"github.com/faithflow/commsync/pkg/session"
)

var watchFlags struct {
	channel  string
	subgroup string
	history  int
	once     bool
}

var watchCmd = &cobra.Command{
	Use:   "watch <community>",
	Short: "Follow a timeline live",
	Long: `Open a timeline and redraw it on every change until interrupted.

The community list is refreshed first so the header shows the community
name. --history loads that many extra pages of older messages.

Examples:
  commsync watch c1
  commsync watch c1 --subgroup youth
  commsync watch c1 --channel announcement --history 2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connect(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx := cmd.Context()
		logger := newLogger(cmd)
		key := timelineKey(args[0], watchFlags.channel, watchFlags.subgroup)

		changed := make(chan struct{}, 1)
		notify := func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		}
		defer client.Watch(func(c cache.Change) {
			if c.Community == key.Community {
				notify()
			}
		})()
		defer client.OnStatus(func(session.Status) { notify() })()

		if _, err := client.Refresh(ctx); err != nil {
			logger.Warn("community list unavailable", "error", err)
		}
		surface, err := client.Open(ctx, key)
		if surface == nil {
			return err
		}
		defer surface.Unmount(ctx)
		if err != nil {
			logger.Warn("history unavailable", "error", err)
		}
		for range watchFlags.history {
			n, err := client.Older(ctx, key)
			if err != nil || n == 0 {
				break
			}
		}

		out := cmd.OutOrStdout()
		tty := isTerminal(out)
		draw := func() {
			if tty {
				fmt.Fprint(out, "\033[H\033[2J")
			}
			fmt.Fprint(out, snapshot(client, key).Render(terminalWidth(out)))
		}
		draw()
		if watchFlags.once {
			return nil
		}

		// Typing indicators expire without an event; redraw periodically.
		tick := time.NewTicker(time.Second)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-changed:
				draw()
			case <-tick.C:
				if len(client.Store().Typing(key.Community)) > 0 {
					draw()
				}
			}
		}
	},
}

func snapshot(client *commsync.Client, key chat.Key) cli.Timeline {
	store := client.Store()
	page, _ := store.Page(key)
	summary, _ := store.Summary(key.Community)
	return cli.Timeline{
		Styles:    cli.NewStyles(cli.DefaultTheme),
		Key:       key,
		Self:      client.Self().ID,
		Connected: client.Status() == session.Connected,
		Page:      page,
		Summary:   summary,
		Typing:    store.Typing(key.Community),
		Online:    store.Online(key.Community),
		Now:       time.Now(),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}

func init() {
	f := watchCmd.Flags()
	f.StringVar(&watchFlags.channel, "channel", "", "channel: general or announcement")
	f.StringVar(&watchFlags.subgroup, "subgroup", "", "subgroup id")
	f.IntVar(&watchFlags.history, "history", 0, "extra pages of history to load")
	f.BoolVar(&watchFlags.once, "once", false, "print the timeline once and exit")
	rootCmd.AddCommand(watchCmd)
}
