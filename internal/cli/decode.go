package cli

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/topicrelay/internal/envelope"
	"github.com/ppiankov/topicrelay/internal/render"
)

var (
	decodeHex    bool
	decodeBase64 bool
	decodeFormat string
)

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().BoolVar(&decodeHex, "hex", false, "Input is hex encoded")
	decodeCmd.Flags().BoolVar(&decodeBase64, "base64", false, "Input is standard base64 encoded")
	decodeCmd.Flags().StringVar(&decodeFormat, "format", "json", "Output format: text or json")
}

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode one envelope read from stdin",
	Long:  "Reads a single serialized envelope from stdin (raw bytes, or --hex / --base64) and prints it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecode(os.Stdin, os.Stdout)
	},
}

func runDecode(in io.Reader, out io.Writer) error {
	if decodeHex && decodeBase64 {
		return &configError{err: fmt.Errorf("--hex and --base64 are mutually exclusive")}
	}
	f, err := render.ParseFormat(decodeFormat)
	if err != nil {
		return &configError{err: err}
	}

	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	switch {
	case decodeHex:
		raw, err = hex.DecodeString(string(bytes.TrimSpace(raw)))
	case decodeBase64:
		raw, err = base64.StdEncoding.DecodeString(string(bytes.TrimSpace(raw)))
	}
	if err != nil {
		return fmt.Errorf("decode input: %w", err)
	}

	e, err := envelope.Decode(raw)
	if err != nil {
		return err
	}
	return render.Event(out, f, e)
}
