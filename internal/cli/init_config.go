package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/topicrelay/internal/config"
)

var initForce bool

func init() {
	rootCmd.AddCommand(initConfigCmd)
	initConfigCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Generate default config.yaml with comments",
	Long:  "Creates ~/.topicrelay/config.yaml with the default broker, topic, and error policy.\nEdit this file to point topicrelay at your broker.",
	RunE:  runInitConfig,
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	path, err := config.DefaultPath()
	if err != nil {
		return fmt.Errorf("cannot determine home directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config.yaml already exists at %s (use --force to overwrite)", path)
	}

	if err := os.WriteFile(path, []byte(config.DefaultConfigYAML()), 0o644); err != nil {
		return fmt.Errorf("failed to write config.yaml: %w", err)
	}

	fmt.Printf("Created %s\n", path)
	return nil
}
