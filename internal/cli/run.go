package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/topicrelay/internal/broker"
	"github.com/ppiankov/topicrelay/internal/config"
	"github.com/ppiankov/topicrelay/internal/metrics"
	"github.com/ppiankov/topicrelay/internal/policy"
	"github.com/ppiankov/topicrelay/internal/relay"
	"github.com/ppiankov/topicrelay/internal/render"
)

func init() {
	rootCmd.AddCommand(runCmd)
	addSessionFlags(rootCmd)
	addSessionFlags(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive relay session (default)",
	Long: "Publishes each line typed on stdin to the topic and prints every envelope received on it.\n" +
		"Ends on end of input (Ctrl-D) or SIGINT/SIGTERM. Policy changes in the config file apply without restart.",
	RunE: runRelay,
}

func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagFormat, "format", "", "Output format for received events: text or json")
	cmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	cmd.Flags().StringVar(&flagPrompt, "prompt", "> ", "Prompt written before each read")
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags().Changed)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nShutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	producer, consumer, err := broker.Open(ctx, cfg.BrokerOptions())
	if err != nil {
		return err
	}
	defer producer.Close()
	defer consumer.Close()

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
				fmt.Fprintf(os.Stderr, "warning: metrics server: %v\n", err)
			}
		}()
	}

	r, err := relay.New(relay.Config{
		Topic:  cfg.Topic,
		Prompt: cfg.Prompt,
		Format: render.Format(cfg.Format),
		Codec:  cfg.Codec(),
		Policy: cfg.Policy,
	}, producer, consumer, os.Stdin, os.Stdout,
		relay.WithMetrics(m),
		relay.WithDiagnostics(os.Stderr),
	)
	if err != nil {
		return err
	}

	path := configPath()
	if path != "" && !flagStrict {
		if _, statErr := os.Stat(path); statErr == nil {
			reloader, err := config.NewReloader(path, func(t policy.Table) {
				r.SetPolicy(t)
				fmt.Fprintf(os.Stderr, "topicrelay: policy reloaded from %s\n", path)
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
			} else {
				go reloader.Run(ctx)
			}
		}
	}

	fmt.Fprintf(os.Stderr, "topicrelay: %s broker, topic %s\n", cfg.Broker.Kind, cfg.Topic)
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(os.Stderr, "Metrics: http://%s/metrics\n", cfg.MetricsAddr)
	}

	return r.Run(ctx)
}
