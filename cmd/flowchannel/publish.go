package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chavee/netpie-flowchannel/internal/flow"
)

func newPublishCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <deviceid:token> <@msg/...|@private/...> <payload>",
		Short: "Send a device message or private message",
		Long: `Send one message as a device and exit.

A payload that parses as JSON is sent as JSON; anything else is sent as text.`,
		Example: `  flowchannel publish -k client:secret d1:t1 @msg/room/1 '{"temp":21.5}'
  flowchannel publish -k client:secret d1:t1 @private/ping hello`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := parseDevice(args[0])
			if err != nil {
				return err
			}
			msg := flow.Message{Topic: args[1], Payload: publishPayload(args[2])}

			cfg, err := opts.load()
			if err != nil {
				return err
			}
			c := newClient(cfg)
			defer c.close()

			if err := c.connect(cmd.Context(), opts.timeout); err != nil {
				return err
			}

			sender := flow.NewMessageWatcher(c.session, dev, nil, flow.ModeString, nil, c.log)
			if !sender.Send(msg) {
				return fmt.Errorf("publishing to %s failed", msg.Topic)
			}
			printSuccess(cmd.OutOrStdout(), "published to %s", msg.Topic)
			return nil
		},
	}
}

// publishPayload keeps valid JSON as is and sends anything else as text.
func publishPayload(arg string) any {
	if json.Valid([]byte(arg)) {
		return json.RawMessage(arg)
	}
	return arg
}
