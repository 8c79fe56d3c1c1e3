package main

import (
	"fmt"
	"net"
	"net/url"

	"github.com/ggoodman/graphql-server-go/publisher"
	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a message on a channel of a running server",
	Example: `  GQL_PUBLISH_TOKEN=... gqlsubs publish --channel orders --data '{"id":1}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		channel, _ := flags.GetString("channel")
		data, _ := flags.GetString("data")
		endpoint, _ := flags.GetString("endpoint")
		token, _ := flags.GetString("token")

		if channel == "" {
			return fmt.Errorf("--channel is required")
		}
		if endpoint == "" {
			endpoint = defaultPublishURL()
		}
		if token == "" {
			token = cfg.PublishToken
		}

		p := publisher.New(endpoint, token, publisher.WithLogger(cfg.Logger()))
		if err := p.Publish(cmd.Context(), channel, data); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published to %s\n", channel)
		return nil
	},
}

func init() {
	publishCmd.Flags().String("channel", "", "Channel to publish on")
	publishCmd.Flags().String("data", "", "Message payload")
	publishCmd.Flags().String("endpoint", "", "Publish endpoint URL (default derived from GQL_LISTEN_ADDR)")
	publishCmd.Flags().String("token", "", "Bearer token (env: GQL_PUBLISH_TOKEN)")
}

func defaultPublishURL() string {
	host := cfg.ListenAddr
	if h, p, err := net.SplitHostPort(host); err == nil && (h == "" || h == "0.0.0.0" || h == "::") {
		host = net.JoinHostPort("127.0.0.1", p)
	}
	u := url.URL{Scheme: "http", Host: host, Path: cfg.PublishEndpoint}
	return u.String()
}
