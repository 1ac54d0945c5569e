package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chavee/netpie-flowchannel/internal/eventbus"
	"github.com/chavee/netpie-flowchannel/internal/infrastructure/config"
	"github.com/chavee/netpie-flowchannel/internal/infrastructure/logging"
	"github.com/chavee/netpie-flowchannel/internal/session"
	"github.com/chavee/netpie-flowchannel/internal/topic"
)

// globalOptions are the flags shared by every command.
type globalOptions struct {
	configPath string
	key        string
	broker     string
	debug      bool
	noColor    bool
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "flowchannel",
		Short:         "NETPIE flow-channel session client",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default $FLOWCHANNEL_CONFIG)")
	flags.StringVarP(&opts.key, "key", "k", "", "session credential principal:secret (overrides config)")
	flags.StringVar(&opts.broker, "broker", "", "broker URL (overrides config)")
	flags.BoolVar(&opts.debug, "debug", false, "log inbound traffic")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable coloured output")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "how long one-shot commands wait for the broker")

	root.AddCommand(
		newRunCmd(opts),
		newWatchCmd(opts),
		newPublishCmd(opts),
		newShadowCmd(opts),
	)
	return root
}

// load builds the configuration: the config file when one is named,
// defaults plus environment otherwise, then command-line overrides.
func (o *globalOptions) load() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		path = os.Getenv("FLOWCHANNEL_CONFIG")
	}

	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Read(path); err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg.ApplyEnv()
	}

	if o.key != "" {
		cfg.FlowChannel.Key = o.key
	}
	if o.broker != "" {
		cfg.MQTT.Broker = o.broker
	}
	if o.debug {
		cfg.FlowChannel.Debug = true
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// client is a session with its broker dialer and logger.
type client struct {
	cfg     *config.Config
	log     *logging.Logger
	dialer  *transportDialer
	session *session.Session
}

// newClient creates a session for cfg without connecting it.
func newClient(cfg *config.Config) *client {
	log := logging.New(cfg.Logging, version)
	dialer := newTransportDialer(cfg.MQTT, log.With("component", "mqtt"))

	factory := session.NewFactory(dialer.Dial, time.Now(),
		session.WithLogger(log.With("component", "session")),
		session.WithDebug(cfg.FlowChannel.Debug),
	)
	return &client{
		cfg:     cfg,
		log:     log,
		dialer:  dialer,
		session: factory.New(cfg.FlowChannel.Key),
	}
}

// connect starts the session and waits for the first "connect" event.
func (c *client) connect(ctx context.Context, timeout time.Duration) error {
	connected := make(chan struct{})
	l := eventbus.NewListener(func(eventbus.Event) error {
		close(connected)
		return nil
	})
	c.session.Once(string(topic.EventConnect), l)
	defer c.session.Off(string(topic.EventConnect), l)

	c.session.Connect()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-connected:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("connecting to %s: %w", c.cfg.MQTT.Broker, ctx.Err())
	}
}

// close destroys the session.
func (c *client) close() {
	c.session.Destroy()
}

// parseDevice parses a "deviceid:token" argument.
func parseDevice(arg string) (session.Credential, error) {
	cred := session.ParseCredential(arg)
	if !cred.Valid() {
		return session.Credential{}, fmt.Errorf("device %q: want deviceid:token", arg)
	}
	return cred, nil
}
