package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# Server connection
server:
  # Base URL of your reading backend, e.g. https://read.example.com/api
  base_url: ""
  # API bearer token (or set MIMEO_TOKEN)
  token: ""

# Where the local database lives. Empty uses the platform data dir.
data_dir: ""

# Speech output
speech:
  # Command that reads text on stdin and speaks it, e.g.
  #   "say" (macOS), "espeak-ng --stdin", "piper --output-raw ..."
  # Leave empty for a silent dry run.
  command: ""
  # Wait after the speech command exits before advancing to the next
  # chunk, so audio output can drain.
  settle_delay: "300ms"

# Playback and sync cadence
playback:
  # How many upcoming queue items to cache ahead of playback (max 10)
  prefetch: 5
  # Minimum gap between live progress posts
  debounce: "2s"
  # Characters of new progress worth an un-forced sync
  char_step: 120
  # Progress percent treated as having finished the item
  near_end_percent: 98

# Background delivery of progress queued while offline
flush:
  backoff: "10s"
  max_backoff: "5m"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the mimeo config file",
	Long:    paragraph(fmt.Sprintf("\n%s the mimeo config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("mimeo config\nmimeo config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Mimeo", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
