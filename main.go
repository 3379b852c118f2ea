// Package main provides the entry point for the mimeo CLI, a
// hands-free reader that speaks your reading queue aloud and keeps
// your position in sync with the server.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	envOpts    envConfig

	rootCmd = &cobra.Command{
		Use:   "mimeo",
		Short: "Listen to your reading queue, anywhere",
		Long: paragraph(
			fmt.Sprintf("\n%s your reading queue aloud and keep your place in sync, even offline.", keyword("Speak")),
		),
		SilenceErrors: false,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
	}
)

// envConfig carries environment overrides. They beat the config file
// but lose to explicit flags.
type envConfig struct {
	BaseURL       string `env:"MIMEO_BASE_URL"`
	Token         string `env:"MIMEO_TOKEN"`
	DataDir       string `env:"MIMEO_DATA_DIR"`
	SpeechCommand string `env:"MIMEO_SPEECH_COMMAND"`
	LogFile       string `env:"MIMEO_LOGFILE"`
	Debug         bool   `env:"MIMEO_DEBUG"`
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	var err error
	envOpts, err = env.ParseAs[envConfig]()
	if err != nil {
		fmt.Println("Could not parse environment:", err)
		os.Exit(1)
	}

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

	// Bare `mimeo` shows the queue. Wired here rather than in the var
	// initializer: queueCmd reaches back to rootCmd through the shared
	// flag set, and a var-level reference would close an
	// initialization cycle.
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return queueCmd.RunE(cmd, args)
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().String("server", "", "server base URL")
	rootCmd.PersistentFlags().String("token", "", "API bearer token")
	rootCmd.PersistentFlags().String("speak-cmd", "", "speech command reading text on stdin")

	_ = viper.BindPFlag("server.base_url", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("server.token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("speech.command", rootCmd.PersistentFlags().Lookup("speak-cmd"))

	viper.SetDefault("server.base_url", "")
	viper.SetDefault("server.token", "")
	viper.SetDefault("data_dir", "")
	viper.SetDefault("speech.command", "")
	viper.SetDefault("speech.settle_delay", "300ms")
	viper.SetDefault("playback.prefetch", 5)
	viper.SetDefault("playback.debounce", "2s")
	viper.SetDefault("playback.char_step", 120)
	viper.SetDefault("playback.near_end_percent", 98)
	viper.SetDefault("flush.backoff", "10s")
	viper.SetDefault("flush.max_backoff", "5m")

	rootCmd.AddCommand(
		queueCmd,
		playCmd,
		nextCmd,
		prevCmd,
		doneCmd,
		flushCmd,
		statusCmd,
		cacheCmd,
		configCmd,
		manCmd,
	)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "mimeo")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "mimeo")}, dirs...)
	}

	if c := os.Getenv("MIMEO_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("mimeo")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("mimeo")
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
		configFile = filepath.Join(dirs[0], "mimeo.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
