package commands

import (
	"errors"
	"fmt"

	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/spf13/cobra"

	"github.com/faithflow/commsync/pkg/topic"
	"github.com/faithflow/commsync/pkg/transport"
)

var brokerFlags struct {
	tcp    string
	ws     string
	tenant string
}

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run an embedded MQTT broker",
	Long: `Run an embedded MQTT broker for local development.

With --tenant, clients may only publish and subscribe under that tenant's
topic tree. Without it every client and topic is allowed.

Examples:
  commsync broker --tcp :1883
  commsync broker --tcp :1883 --ws :8083 --tenant church-a`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var lns []listeners.Listener
		if a := brokerFlags.tcp; a != "" {
			lns = append(lns, listeners.NewTCP(listeners.Config{ID: "tcp", Address: a}))
		}
		if a := brokerFlags.ws; a != "" {
			lns = append(lns, listeners.NewWebsocket(listeners.Config{ID: "ws", Address: a}))
		}
		if len(lns) == 0 {
			return fmt.Errorf("no listeners: set --tcp or --ws")
		}

		logger := newLogger(cmd)
		srv := &transport.Server{
			Logger:       logger,
			OnConnect:    func(id string) { logger.Info("client connected", "client", id) },
			OnDisconnect: func(id string) { logger.Info("client disconnected", "client", id) },
		}
		if t := brokerFlags.tenant; t != "" {
			if _, err := topic.For(t, anyKey); err != nil {
				return fmt.Errorf("tenant: %w", err)
			}
			srv.Authenticator = transport.TenantACL{Tenant: t}
		}

		errc := make(chan error, 1)
		go func() { errc <- srv.Serve(lns...) }()
		logger.Info("broker listening", "tcp", brokerFlags.tcp, "ws", brokerFlags.ws, "tenant", brokerFlags.tenant)

		select {
		case err := <-errc:
			return err
		case <-cmd.Context().Done():
		}
		logger.Info("broker shutting down")
		srv.Close()
		if err := <-errc; !errors.Is(err, transport.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	f := brokerCmd.Flags()
	f.StringVar(&brokerFlags.tcp, "tcp", ":1883", "TCP listen address (empty to disable)")
	f.StringVar(&brokerFlags.ws, "ws", "", "WebSocket listen address")
	f.StringVar(&brokerFlags.tenant, "tenant", "", "restrict topics to this tenant")
	rootCmd.AddCommand(brokerCmd)
}
