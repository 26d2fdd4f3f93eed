package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/faithflow/commsync/pkg/cache"
	"github.com/faithflow/commsync/pkg/cli"
	"github.com/faithflow/commsync/pkg/commsync"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long: `Manage named contexts.

A context holds everything needed to open a session: the tenant, the
signed-in member, the broker URL and the REST backend.

Examples:
  commsync config list-contexts
  commsync config set-context dev --tenant church-a --member-id m1 ...
  commsync config set-context dev -f context.yaml
  commsync config use-context dev
  commsync config view`,
}

var configListContextsCmd = &cobra.Command{
	Use:     "list-contexts",
	Aliases: []string{"ls"},
	Short:   "List all contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		names := cfg.ListContexts()
		out := cmd.OutOrStdout()
		if len(names) == 0 {
			fmt.Fprintln(out, "No contexts configured.")
			fmt.Fprintln(out, "Create one with: commsync config set-context <name>")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CURRENT\tNAME\tTENANT\tMEMBER\tBROKER")
		for _, name := range names {
			current := ""
			if name == cfg.CurrentContext {
				current = "*"
			}
			ctx := cfg.Contexts[name]
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", current, name, ctx.Tenant, ctx.Member.ID, ctx.Broker.URL)
		}
		return w.Flush()
	},
}

var configCurrentContextCmd = &cobra.Command{
	Use:   "current-context",
	Short: "Display the current context name",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.CurrentContext == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "No current context set.")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), cfg.CurrentContext)
		return nil
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Set the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.UseContext(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Switched to context %q.\n", args[0])
		return nil
	},
}

var configDeleteContextCmd = &cobra.Command{
	Use:   "delete-context <name>",
	Short: "Delete a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.DeleteContext(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Context %q deleted.\n", args[0])
		return nil
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view [name]",
	Short: "Show a context with secrets masked",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		name := contextName
		if len(args) == 1 {
			name = args[0]
		}
		ctx, err := cfg.ResolveContext(name)
		if err != nil {
			return err
		}
		return output(cmd, ctx.Redacted())
	},
}

var setContextFlags struct {
	file       string
	tenant     string
	memberID   string
	memberName string
	broker     string
	username   string
	password   string
	api        string
	token      string
	engine     string
	typingTTL  time.Duration
}

var configSetContextCmd = &cobra.Command{
	Use:   "set-context <name>",
	Short: "Create or update a context",
	Long: `Create or update a context.

Fields are read from --file first; flags override them. Updating an
existing context keeps the fields no flag or file sets.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		name := args[0]

		ctx := &cli.Context{}
		if prev, ok := cfg.Contexts[name]; ok {
			c := *prev
			ctx = &c
		}
		if f := setContextFlags.file; f != "" {
			var fromFile commsync.Config
			if err := cli.LoadFile(f, &fromFile); err != nil {
				return err
			}
			ctx.Config = fromFile
		}
		applySetContextFlags(cmd, &ctx.Config)
		if err := ctx.Validate(); err != nil {
			return err
		}
		if err := cfg.SetContext(name, ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Context %q saved to %s.\n", name, cfg.Path())
		return nil
	},
}

func applySetContextFlags(cmd *cobra.Command, c *commsync.Config) {
	f := cmd.Flags()
	set := func(flag string, dst *string, v string) {
		if f.Changed(flag) {
			*dst = v
		}
	}
	set("tenant", &c.Tenant, setContextFlags.tenant)
	set("member-id", &c.Member.ID, setContextFlags.memberID)
	set("member-name", &c.Member.Name, setContextFlags.memberName)
	set("broker", &c.Broker.URL, setContextFlags.broker)
	set("username", &c.Broker.Username, setContextFlags.username)
	set("password", &c.Broker.Password, setContextFlags.password)
	set("api", &c.API.BaseURL, setContextFlags.api)
	set("token", &c.API.Token, setContextFlags.token)
	if f.Changed("engine") {
		c.Cache.Engine = cache.Engine(setContextFlags.engine)
	}
	if f.Changed("typing-ttl") {
		c.TypingTTL = setContextFlags.typingTTL
	}
}

func init() {
	f := configSetContextCmd.Flags()
	f.StringVarP(&setContextFlags.file, "file", "f", "", "read the context from a YAML or JSON file")
	f.StringVar(&setContextFlags.tenant, "tenant", "", "tenant (church) id")
	f.StringVar(&setContextFlags.memberID, "member-id", "", "signed-in member id")
	f.StringVar(&setContextFlags.memberName, "member-name", "", "signed-in member display name")
	f.StringVar(&setContextFlags.broker, "broker", "", "broker URL (tcp://, tls://, ws://, wss://)")
	f.StringVar(&setContextFlags.username, "username", "", "broker username")
	f.StringVar(&setContextFlags.password, "password", "", "broker password")
	f.StringVar(&setContextFlags.api, "api", "", "REST backend base URL")
	f.StringVar(&setContextFlags.token, "token", "", "REST backend bearer token")
	f.StringVar(&setContextFlags.engine, "engine", "", "cache engine: memory or badger")
	f.DurationVar(&setContextFlags.typingTTL, "typing-ttl", 0, "typing indicator lifetime")

	configCmd.AddCommand(configListContextsCmd)
	configCmd.AddCommand(configCurrentContextCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configDeleteContextCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configSetContextCmd)
	rootCmd.AddCommand(configCmd)
}
