// Package main provides the entry point for the chaptervoice CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/chaptervoice/internal/cache"
	"github.com/dgnsrekt/chaptervoice/internal/engine"
	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
	"github.com/dgnsrekt/chaptervoice/utils"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	logFile    string
	debug      bool

	// closeLog releases the active log sink. Set by the pre-run hook.
	closeLog = func() error { return nil }

	rootCmd = &cobra.Command{
		Use:   "chaptervoice",
		Short: "Read chapters aloud with local TTS, buffered ahead of the playhead",
		Long: paragraph(
			fmt.Sprintf("\nRead chapters aloud with local TTS engines. Synthesis runs %s of the playhead, so playback never waits on a model.", keyword("ahead")),
		),
		SilenceErrors: false,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			closer, err := setupLog()
			if err != nil {
				return err
			}
			closeLog = closer
			return applyEnvOverrides()
		},
	}
)

// envOverrides are runtime knobs readable straight from the
// environment, for places where editing the config file is awkward.
// Nested viper keys are not reachable through AutomaticEnv, so these
// are layered on explicitly.
type envOverrides struct {
	Voice    string  `env:"CHAPTERVOICE_VOICE"`
	Rate     float64 `env:"CHAPTERVOICE_RATE"`
	CacheDir string  `env:"CHAPTERVOICE_CACHE_DIR"`
	LogFile  string  `env:"CHAPTERVOICE_LOG_FILE"`
}

func applyEnvOverrides() error {
	cfg, err := env.ParseAs[envOverrides]()
	if err != nil {
		return fmt.Errorf("error parsing environment: %w", err)
	}
	if cfg.Voice != "" {
		viper.Set("voice", cfg.Voice)
	}
	if cfg.Rate != 0 {
		viper.Set("rate", cfg.Rate)
	}
	if cfg.CacheDir != "" {
		viper.Set("cache.dir", cfg.CacheDir)
	}
	if cfg.LogFile != "" && viper.GetString("log-file") == "" {
		viper.Set("log-file", cfg.LogFile)
	}
	return nil
}

// qualifyVoice turns a bare voice name into a namespaced voice id
// using the configured default engine. Already-namespaced ids pass
// through.
func qualifyVoice(voice string) string {
	if strings.Contains(voice, ":") {
		return voice
	}
	return viper.GetString("engine") + ":" + voice
}

// cacheDir resolves the audio cache directory: config value first,
// then the platform cache location.
func cacheDir() (string, error) {
	if dir := viper.GetString("cache.dir"); dir != "" {
		return utils.ExpandPath(dir), nil
	}
	dir, err := gap.NewScope(gap.User, "chaptervoice").CacheDir()
	if err != nil {
		return "", fmt.Errorf("unable to locate cache directory: %w", err)
	}
	return filepath.Join(dir, "audio"), nil
}

// openStore opens the audio cache with the configured capacity and
// compression settings.
func openStore() (*cache.Store, error) {
	dir, err := cacheDir()
	if err != nil {
		return nil, err
	}
	cfg := cache.DefaultConfig(dir)
	if mb := viper.GetInt64("cache.capacity_mb"); mb > 0 {
		cfg.Capacity = mb << 20
	}
	if viper.IsSet("cache.compression") {
		cfg.CompressionLevel = viper.GetInt("cache.compression")
	}
	store, err := cache.NewStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to open audio cache: %w", err)
	}
	return store, nil
}

// buildRegistry wires every known engine adapter behind lazy
// factories. Nothing loads until a voice id routes to it.
func buildRegistry() *engine.Registry {
	reg := engine.NewRegistry(viper.GetInt("engines.max_loaded"))
	reg.Register(ttypes.EngineMock, func() (ttypes.SynthesisEngine, error) {
		return engine.NewMock(), nil
	})
	reg.Register(ttypes.EnginePiper, func() (ttypes.SynthesisEngine, error) {
		return engine.NewPiper(engine.PiperConfig{
			BinaryPath: utils.ExpandPath(viper.GetString("piper.binary")),
			VoicesDir:  utils.ExpandPath(viper.GetString("piper.voices_dir")),
		}), nil
	})
	reg.Register(ttypes.EngineKokoro, func() (ttypes.SynthesisEngine, error) {
		return engine.NewKokoro(engine.KokoroConfig{
			BaseURL: viper.GetString("kokoro.url"),
			Model:   viper.GetString("kokoro.model"),
		}), nil
	})
	reg.Register(ttypes.EngineSupertonic, func() (ttypes.SynthesisEngine, error) {
		return engine.NewSupertonic(engine.SupertonicConfig{
			BinaryPath: utils.ExpandPath(viper.GetString("supertonic.binary")),
			AssetsDir:  utils.ExpandPath(viper.GetString("supertonic.assets_dir")),
		}), nil
	})
	return reg
}

// profilesPath is where calibration profiles live.
func profilesPath() string {
	path, err := gap.NewScope(gap.User, "chaptervoice").DataPath("profiles.json")
	if err != nil {
		dir, derr := cacheDir()
		if derr != nil {
			return "profiles.json"
		}
		return filepath.Join(dir, "profiles.json")
	}
	return path
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_ = closeLog()
		os.Exit(1)
	}
	_ = closeLog()
}

func init() {
	// A .env in the working directory seeds the environment before
	// viper and the env overlay read it.
	_ = godotenv.Load()

	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write debug logs to a file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log debug output to stderr")

	// Config bindings
	_ = viper.BindPFlag("log-file", rootCmd.PersistentFlags().Lookup("log-file"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	viper.SetDefault("voice", "mock:narrator")
	viper.SetDefault("engine", "mock")
	viper.SetDefault("rate", 1.0)
	viper.SetDefault("cache.dir", "")
	viper.SetDefault("cache.capacity_mb", 1024)
	viper.SetDefault("cache.compression", 3)
	viper.SetDefault("prefetch.ahead", 4)
	viper.SetDefault("prefetch.low_watermark_sec", 10)
	viper.SetDefault("prefetch.high_watermark_sec", 60)
	viper.SetDefault("prefetch.key_with_rate", false)
	viper.SetDefault("synthesis.concurrency", 0)
	viper.SetDefault("engines.max_loaded", 2)
	viper.SetDefault("piper.binary", "piper")
	viper.SetDefault("piper.voices_dir", "")
	viper.SetDefault("kokoro.url", "")
	viper.SetDefault("kokoro.model", "")
	viper.SetDefault("supertonic.binary", "supertonic")
	viper.SetDefault("supertonic.assets_dir", "")

	rootCmd.AddCommand(playCmd, calibrateCmd, voicesCmd, cacheCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "chaptervoice")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find a configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "chaptervoice")}, dirs...)
	}

	if c := os.Getenv("CHAPTERVOICE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("chaptervoice")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("chaptervoice")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "chaptervoice.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
