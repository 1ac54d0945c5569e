package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chavee/netpie-flowchannel/internal/flow"
)

func newShadowCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shadow",
		Short: "Read or update a device shadow",
	}
	cmd.AddCommand(newShadowGetCmd(opts), newShadowUpdateCmd(opts))
	return cmd
}

func newShadowGetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <deviceid:token>",
		Short: "Print the device shadow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := parseDevice(args[0])
			if err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			c := newClient(cfg)
			defer c.close()

			if err := c.connect(cmd.Context(), opts.timeout); err != nil {
				return err
			}

			responses := make(chan any, 1)
			mirror := flow.NewMirror(c.session, dev, func(m flow.Message) {
				if m.Topic != flow.TopicShadowResponse {
					return
				}
				select {
				case responses <- m.Payload:
				default:
				}
			}, c.log)
			mirror.Start()
			defer mirror.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			select {
			case doc := <-responses:
				out, err := json.MarshalIndent(doc, "", "  ")
				if err != nil {
					return fmt.Errorf("encoding shadow: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			case <-ctx.Done():
				return fmt.Errorf("waiting for shadow of %s: %w", dev.Principal, ctx.Err())
			}
		},
	}
}

func newShadowUpdateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "update <deviceid:token> <json>",
		Short:   "Write to the device shadow",
		Example: `  flowchannel shadow update -k client:secret d1:t1 '{"data":{"temp":21.5}}'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := parseDevice(args[0])
			if err != nil {
				return err
			}
			data, err := shadowDocument(args[1])
			if err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			c := newClient(cfg)
			defer c.close()

			if err := c.connect(cmd.Context(), opts.timeout); err != nil {
				return err
			}
			if !c.session.UpdateShadow(dev, data) {
				return fmt.Errorf("updating shadow of %s failed", dev.Principal)
			}
			printSuccess(cmd.OutOrStdout(), "shadow of %s updated", dev.Principal)
			return nil
		},
	}
}

var errShadowNotObject = errors.New("shadow update must be a JSON object")

// shadowDocument validates a shadow update argument.
func shadowDocument(arg string) (json.RawMessage, error) {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return nil, fmt.Errorf("parsing shadow update: %w", err)
	}
	if _, ok := v.(map[string]any); !ok {
		return nil, errShadowNotObject
	}
	return json.RawMessage(arg), nil
}
