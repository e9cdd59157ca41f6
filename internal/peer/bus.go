// ABOUTME: Embedded NATS server for single-host clusters and tests
// ABOUTME: Gateways connect to it (or to an external NATS) to reach each other

package peer

import (
	"errors"
	"fmt"
	"os"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// RandomPort asks the embedded server to listen on any free port.
const RandomPort = natsserver.RANDOM_PORT

// ErrBusNotReady indicates the embedded server did not start in time.
var ErrBusNotReady = errors.New("nats server not ready")

// BusOptions configures the embedded server.
type BusOptions struct {
	Host    string // default 127.0.0.1
	Port    int    // RandomPort for any free port
	DataDir string // enables JetStream storage when set
}

// Bus is an embedded NATS server.
type Bus struct {
	server *natsserver.Server
}

// StartBus starts an embedded NATS server and waits until it accepts clients.
func StartBus(opts BusOptions) (*Bus, error) {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}

	sopts := &natsserver.Options{
		Host:   opts.Host,
		Port:   opts.Port,
		NoLog:  true,
		NoSigs: true,
	}
	if opts.DataDir != "" {
		if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create nats data dir: %w", err)
		}
		sopts.JetStream = true
		sopts.StoreDir = opts.DataDir
	}

	ns, err := natsserver.NewServer(sopts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, ErrBusNotReady
	}

	return &Bus{server: ns}, nil
}

// ClientURL returns the URL clients connect to.
func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Close shuts the server down and waits for it to stop.
func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
