package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/topicrelay/internal/broker"
	"github.com/ppiankov/topicrelay/internal/config"
	"github.com/ppiankov/topicrelay/internal/policy"
	"github.com/ppiankov/topicrelay/internal/relay"
)

func init() {
	rootCmd.AddCommand(publishCmd)
}

var publishCmd = &cobra.Command{
	Use:   "publish [text...]",
	Short: "Publish one envelope and exit",
	Long: "Publishes the arguments, joined by spaces, as a single envelope.\n" +
		"With no arguments, publishes one envelope per stdin line.",
	RunE: runPublish,
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags().Changed)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	producer, err := broker.OpenProducer(ctx, cfg.BrokerOptions())
	if err != nil {
		return err
	}
	defer producer.Close()

	n, err := publish(ctx, producer, cfg, args, os.Stdin)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Published %d event(s) to %s\n", n, cfg.Topic)
	return nil
}

func publish(ctx context.Context, producer broker.Producer, cfg *config.Config, args []string, stdin io.Reader) (int, error) {
	pub := &relay.Publisher{
		Producer: producer,
		Topic:    cfg.Topic,
		Codec:    cfg.Codec(),
		Diag:     os.Stderr,
	}
	if len(args) > 0 {
		if err := pub.Publish(ctx, strings.Join(args, " "), cfg.Policy.For(policy.Publish)); err != nil {
			return 0, err
		}
		return 1, nil
	}
	return relay.PublishLines(ctx, pub, stdin, cfg.Policy, os.Stderr)
}
