package cli

import (
	"github.com/ppiankov/topicrelay/internal/config"
	"github.com/ppiankov/topicrelay/internal/policy"
)

var (
	flagConfig         string
	flagBroker         string
	flagBrokers        []string
	flagTopic          string
	flagGroupID        string
	flagServiceName    string
	flagServiceVersion string
	flagStrict         bool

	flagFormat      string
	flagMetricsAddr string
	flagPrompt      string
)

// configPath returns the file the session config is read from.
func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	p, err := config.DefaultPath()
	if err != nil {
		return ""
	}
	return p
}

// loadConfig reads the config file and applies every flag the user set.
// changed reports whether a flag was given on the command line.
func loadConfig(changed func(name string) bool) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath())
	if err != nil {
		return nil, &configError{err: err}
	}

	if changed("broker") {
		cfg.Broker.Kind = flagBroker
	}
	if changed("brokers") {
		cfg.Broker.Addresses = flagBrokers
	}
	if changed("topic") {
		cfg.Topic = flagTopic
	}
	if changed("group-id") {
		cfg.Broker.GroupID = flagGroupID
	}
	if changed("service-name") {
		cfg.Service.Name = flagServiceName
	}
	if changed("service-version") {
		cfg.Service.Version = flagServiceVersion
	}
	if changed("format") {
		cfg.Format = flagFormat
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = flagMetricsAddr
	}
	if changed("prompt") {
		cfg.Prompt = flagPrompt
	}
	if flagStrict {
		cfg.Policy = policy.Strict()
	}

	if err := cfg.Validate(); err != nil {
		return nil, &configError{err: err}
	}
	return cfg, nil
}
