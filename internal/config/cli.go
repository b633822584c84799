package config

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Flags holds the parsed command line
type Flags struct {
	ConfigFile     string
	GenerateConfig bool
	OutputFile     string
	ShowHelp       bool
}

// ParseFlags parses args (without the program name) into Flags
func ParseFlags(args []string) (*Flags, error) {
	fs := pflag.NewFlagSet("collabd", pflag.ContinueOnError)
	flags := &Flags{}

	fs.StringVarP(&flags.ConfigFile, "config", "c", "", "Path to configuration file")
	fs.BoolVar(&flags.GenerateConfig, "generate-config", false, "Write the default configuration as YAML and exit")
	fs.StringVarP(&flags.OutputFile, "output", "o", "", "Destination for --generate-config (default stdout)")
	fs.BoolVarP(&flags.ShowHelp, "help", "h", false, "Show help")

	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if flags.ShowHelp {
		fs.PrintDefaults()
	}
	return flags, nil
}

// GenerateExampleConfig writes the default configuration as YAML to w
func GenerateExampleConfig(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if _, err := fmt.Fprintln(w, "# collabd configuration. Every key can be overridden by its environment"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "# variable, optionally prefixed with COLLABD_."); err != nil {
		return err
	}
	if err := enc.Encode(getDefaultConfig()); err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	return enc.Close()
}
