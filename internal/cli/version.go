package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ppiankov/topicrelay/internal/envelope"
)

const version = "0.3.0"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(os.Stdout)
	},
}

func printVersion(w io.Writer) {
	info := map[string]string{
		"version":    version,
		"name":       "topicrelay",
		"event_name": envelope.EventName,
	}
	out, _ := json.MarshalIndent(info, "", "  ")
	fmt.Fprintln(w, string(out))
}
