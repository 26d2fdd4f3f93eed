package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/faithflow/commsync/pkg/chat"
	"github.com/faithflow/commsync/pkg/topic"
)

// anyKey is a valid key used to check a tenant on its own.
var anyKey = chat.GeneralKey("c")

var topicCmd = &cobra.Command{
	Use:   "topic",
	Short: "Build and parse topic names",
}

var topicFlags struct {
	tenant   string
	channel  string
	subgroup string
}

// tenant returns --tenant, or the resolved context's tenant.
func tenant() (string, error) {
	if topicFlags.tenant != "" {
		return topicFlags.tenant, nil
	}
	ctx, err := resolveContext()
	if err != nil {
		return "", fmt.Errorf("set --tenant or a context: %w", err)
	}
	return ctx.Tenant, nil
}

// timelineKey returns the key of a community channel. A subgroup implies
// the subgroup channel; an empty channel means general.
func timelineKey(community, channel, subgroup string) chat.Key {
	if subgroup != "" {
		return chat.SubgroupKey(community, subgroup)
	}
	if channel == "" {
		return chat.GeneralKey(community)
	}
	return chat.Key{Community: community, Channel: chat.ChannelType(channel)}
}

var topicBuildCmd = &cobra.Command{
	Use:   "build <community>",
	Short: "Print the topic of a timeline",
	Long: `Print the topic of a timeline.

Examples:
  commsync topic build c1 --tenant church-a
  commsync topic build c1 --channel announcement
  commsync topic build c1 --subgroup youth`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := tenant()
		if err != nil {
			return err
		}
		name, err := topic.For(t, timelineKey(args[0], topicFlags.channel, topicFlags.subgroup))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), name)
		return nil
	},
}

var topicFilterCmd = &cobra.Command{
	Use:   "filter [community]",
	Short: "Print the subscription filter of a tenant or community",
	Long: `Print the wildcard subscription filter matching every timeline of the
tenant, or of one community when given.

Examples:
  commsync topic filter --tenant church-a
  commsync topic filter c1`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := tenant()
		if err != nil {
			return err
		}
		if _, err := topic.For(t, anyKey); err != nil {
			return err
		}
		if len(args) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), topic.Filter(t))
			return nil
		}
		if _, err := topic.For(t, timelineKey(args[0], "", "")); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), topic.CommunityFilter(t, args[0]))
		return nil
	},
}

type parsedTopic struct {
	Tenant    string           `json:"tenant"`
	Community string           `json:"community"`
	Channel   chat.ChannelType `json:"channel"`
	Subgroup  string           `json:"subgroup,omitempty"`
}

var topicParseCmd = &cobra.Command{
	Use:   "parse <topic>",
	Short: "Split a topic into tenant and timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, key, err := topic.Parse(args[0])
		if err != nil {
			return err
		}
		return output(cmd, parsedTopic{
			Tenant:    t,
			Community: key.Community,
			Channel:   key.Channel,
			Subgroup:  key.Subgroup,
		})
	},
}

func init() {
	f := topicBuildCmd.Flags()
	f.StringVar(&topicFlags.tenant, "tenant", "", "tenant (default: the context's tenant)")
	f.StringVar(&topicFlags.channel, "channel", "", "channel: general or announcement")
	f.StringVar(&topicFlags.subgroup, "subgroup", "", "subgroup id")
	topicFilterCmd.Flags().StringVar(&topicFlags.tenant, "tenant", "", "tenant (default: the context's tenant)")

	topicCmd.AddCommand(topicBuildCmd)
	topicCmd.AddCommand(topicFilterCmd)
	topicCmd.AddCommand(topicParseCmd)
	rootCmd.AddCommand(topicCmd)
}
