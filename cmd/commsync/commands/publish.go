package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/faithflow/commsync/pkg/cli"
	"github.com/faithflow/commsync/pkg/reconcile"
	"github.com/faithflow/commsync/pkg/topic"
	"github.com/faithflow/commsync/pkg/transport"
)

var publishFlags struct {
	file   string
	raw    bool
	retain bool
}

var publishCmd = &cobra.Command{
	Use:   "publish <topic>",
	Short: "Publish an event envelope",
	Long: `Publish an event envelope read from a YAML or JSON file.

The envelope is checked before publishing: the topic must be a timeline
topic and the body must decode as an event. --raw skips both checks.

Example envelope (typing.yaml):

  type: typing
  data:
    member_id: m2
    member_name: John
    is_typing: true

Examples:
  commsync publish church-a/community/c1/general -f typing.yaml
  cat event.json | commsync publish church-a/community/c1/general -f -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topicName := args[0]
		payload, err := readPayload(publishFlags.file)
		if err != nil {
			return err
		}
		kind := "raw"
		if !publishFlags.raw {
			if _, _, err := topic.Parse(topicName); err != nil {
				return err
			}
			ev, err := reconcile.Decode(payload)
			if err != nil {
				return err
			}
			kind = string(ev.Kind())
		}

		c, err := resolveContext()
		if err != nil {
			return err
		}
		dl := c.Dialer()
		dl.Logger = newLogger(cmd)
		conn, err := dl.Dial(cmd.Context(), c.Broker.URL)
		if err != nil {
			return err
		}
		defer conn.Close()

		var opts []transport.WriteOption
		if publishFlags.retain {
			opts = append(opts, transport.WithRetain())
		}
		if err := conn.Publish(cmd.Context(), topicName, payload, opts...); err != nil {
			return err
		}
		cli.PrintSuccess("published %s to %s (%d bytes)", kind, topicName, len(payload))
		return nil
	},
}

// readPayload reads path ("-" for stdin) and normalizes it to JSON.
func readPayload(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("no payload: set --file")
	}
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return cli.ToJSON(data, path)
}

func init() {
	f := publishCmd.Flags()
	f.StringVarP(&publishFlags.file, "file", "f", "", "payload file, YAML or JSON (- for stdin)")
	f.BoolVar(&publishFlags.raw, "raw", false, "skip topic and envelope checks")
	f.BoolVar(&publishFlags.retain, "retain", false, "set the retain flag")
	rootCmd.AddCommand(publishCmd)
}
