package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// exitConfig is EX_CONFIG from sysexits.h.
const exitConfig = 78

// configError marks errors caused by invalid configuration.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

var rootCmd = &cobra.Command{
	Use:   "topicrelay",
	Short: "Interactive terminal relay for a message-broker topic",
	Long: "Every line you type is wrapped in an analytics envelope and published to the topic.\n" +
		"Every envelope received on the topic is decoded and its payload printed.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRelay,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&flagConfig, "config", "", "Path to config YAML (default ~/.topicrelay/config.yaml)")
	f.StringVar(&flagBroker, "broker", "", "Broker backend: kafka, redis, p2p or memory")
	f.StringSliceVar(&flagBrokers, "brokers", nil, "Broker addresses (comma separated)")
	f.StringVar(&flagTopic, "topic", "", "Topic to publish to and subscribe on")
	f.StringVar(&flagGroupID, "group-id", "", "Consumer group id (default: fresh consumer-<uuid>)")
	f.StringVar(&flagServiceName, "service-name", "", "service_name stamped on published envelopes")
	f.StringVar(&flagServiceVersion, "service-version", "", "service_version stamped on published envelopes")
	f.BoolVar(&flagStrict, "strict", false, "Abort on every error instead of retrying or skipping")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var cerr *configError
		if errors.As(err, &cerr) {
			os.Exit(exitConfig)
		}
		os.Exit(1)
	}
}
