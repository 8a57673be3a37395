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

const defaultConfig = `# default voice, as engine:name
voice: "mock:narrator"
# default engine namespace for bare voice names
engine: "mock"
# playback rate (0.5 to 3.0)
rate: 1.0

# audio cache
cache:
  # cache directory; empty uses the platform cache location
  dir: ""
  # maximum size on disk in megabytes
  capacity_mb: 1024
  # zstd level for entries at rest (0 disables compression)
  compression: 3

# look-ahead synthesis
prefetch:
  # segments to keep ready past the playhead
  ahead: 4
  # buffered seconds below which the window grows
  low_watermark_sec: 10
  # buffered seconds above which synthesis idles
  high_watermark_sec: 60
  # include playback rate in cache keys (re-synthesizes on rate change)
  key_with_rate: false

synthesis:
  # parallel engine calls; 0 uses the calibrated profile
  concurrency: 0

engines:
  # engine runtimes kept loaded at once
  max_loaded: 2

# Piper subprocess engine
piper:
  binary: "piper"
  # directory of <voice>.onnx + <voice>.onnx.json model files
  voices_dir: ""

# Kokoro local server engine
kokoro:
  # url: "http://127.0.0.1:8880"
  # model: "kokoro"

# Supertonic ONNX runner engine
supertonic:
  binary: "supertonic"
  # directory with onnx/, tokenizer configs and voice_styles/
  assets_dir: ""
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the chaptervoice config file",
	Long:    paragraph(fmt.Sprintf("\n%s the chaptervoice config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("chaptervoice config\nchaptervoice config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("chaptervoice", configFile)
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
