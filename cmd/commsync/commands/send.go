package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/faithflow/commsync/pkg/chat"
)

var sendFlags struct {
	channel  string
	subgroup string
	text     string
	replyTo  string
	media    string
	mime     string
}

var sendCmd = &cobra.Command{
	Use:   "send <community>",
	Short: "Send a message",
	Long: `Send a message and print it once the backend has confirmed it.

Examples:
  commsync send c1 --text "See you Sunday"
  commsync send c1 --subgroup youth --text "Agreed" --reply-to srv-42
  commsync send c1 --media https://cdn.example.com/a.jpg --mime image/jpeg`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		draft := chat.Draft{Text: sendFlags.text, ReplyTo: sendFlags.replyTo}
		if sendFlags.media != "" {
			draft.Media = &chat.Media{URL: sendFlags.media, MimeType: sendFlags.mime}
		}
		if draft.Empty() {
			return fmt.Errorf("nothing to send: set --text or --media")
		}

		client, err := connect(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		key := timelineKey(args[0], sendFlags.channel, sendFlags.subgroup)
		msg, err := client.Send(cmd.Context(), key, draft)
		if err != nil {
			return err
		}
		return output(cmd, msg)
	},
}

func init() {
	f := sendCmd.Flags()
	f.StringVar(&sendFlags.channel, "channel", "", "channel: general or announcement")
	f.StringVar(&sendFlags.subgroup, "subgroup", "", "subgroup id")
	f.StringVarP(&sendFlags.text, "text", "t", "", "message text")
	f.StringVar(&sendFlags.replyTo, "reply-to", "", "id of the message being replied to")
	f.StringVar(&sendFlags.media, "media", "", "attachment URL")
	f.StringVar(&sendFlags.mime, "mime", "", "attachment MIME type")
	rootCmd.AddCommand(sendCmd)
}
