package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/chavee/netpie-flowchannel/internal/eventbus"
	"github.com/chavee/netpie-flowchannel/internal/session"
	"github.com/chavee/netpie-flowchannel/internal/topic"
)

// watchedEvents are printed by watch. Routed events are watched under their
// general names only, so each message prints once.
var watchedEvents = []topic.Event{
	topic.EventConnect,
	topic.EventDisconnect,
	topic.EventError,
	topic.EventShadowUpdated,
	topic.EventStatusChanged,
	topic.EventShadowResponse,
	topic.EventStatusResponse,
	topic.EventMessage,
	topic.EventFeedUpdated,
	topic.EventRawMessage,
}

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var devices []string
	var messages []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print session events as they arrive",
		Example: `  flowchannel watch -k client:secret --device d1:t1
  flowchannel watch -k client:secret --device d1:t1 --message d1:t1=@msg/room/+`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			devs := make([]session.Credential, 0, len(devices))
			for _, arg := range devices {
				cred, err := parseDevice(arg)
				if err != nil {
					return err
				}
				devs = append(devs, cred)
			}
			subs := make([]messageFilter, 0, len(messages))
			for _, arg := range messages {
				f, err := parseMessageFilter(arg)
				if err != nil {
					return err
				}
				subs = append(subs, f)
			}

			c := newClient(cfg)
			defer c.close()

			w := &eventPrinter{w: cmd.OutOrStdout()}
			for _, e := range watchedEvents {
				c.session.On(string(e), w.listener(string(e)))
			}

			if err := c.connect(cmd.Context(), opts.timeout); err != nil {
				return err
			}
			for _, d := range devs {
				if !c.session.SubscribeDevice(d) {
					return fmt.Errorf("subscribing to device %s", d.Principal)
				}
			}
			for _, f := range subs {
				if !c.session.SubscribeMessage(f.device, f.sub) {
					return fmt.Errorf("subscribing to %s/%s", topic.NamespaceMessage, f.sub)
				}
			}
			<-cmd.Context().Done()
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&devices, "device", nil, "deviceid:token whose shadow, status and feed to watch (repeatable)")
	cmd.Flags().StringArrayVar(&messages, "message", nil, "deviceid:token=@msg/<topic> to subscribe (repeatable)")
	return cmd
}

// messageFilter is a parsed --message argument.
type messageFilter struct {
	device session.Credential
	sub    string
}

// parseMessageFilter parses "deviceid:token=@msg/<topic>".
func parseMessageFilter(arg string) (messageFilter, error) {
	dev, filter, ok := strings.Cut(arg, "=")
	if !ok {
		return messageFilter{}, fmt.Errorf("message %q: want deviceid:token=@msg/<topic>", arg)
	}
	cred, err := parseDevice(dev)
	if err != nil {
		return messageFilter{}, err
	}
	sub, ok := strings.CutPrefix(filter, topic.NamespaceMessage+"/")
	if !ok || sub == "" {
		return messageFilter{}, fmt.Errorf("message %q: topic must start with %s/", arg, topic.NamespaceMessage)
	}
	return messageFilter{device: cred, sub: sub}, nil
}

// eventPrinter serialises event lines onto w.
type eventPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *eventPrinter) listener(name string) *eventbus.Listener {
	return eventbus.NewListener(func(e eventbus.Event) error {
		p.mu.Lock()
		defer p.mu.Unlock()
		printEvent(p.w, time.Now(), name, e.Payload)
		return nil
	})
}
