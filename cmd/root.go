package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/whiteboard/internal/config"
	"github.com/zjrosen/whiteboard/internal/log"
)

// localConfigPath is where a default config is written when none exists.
const localConfigPath = ".whiteboard/config.yaml"

var (
	version   = "dev"
	cfgFile     string
	debugFlag   bool
	verboseFlag bool
	cfg       config.Config

	logCleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "whiteboard",
	Short: "Publish REST providers from a service registry",
	Long: `whiteboard tracks REST applications, resources and filters declared as
services, publishes them as endpoints on a shared bus and serves the bus over
HTTP. Providers can wait for named extensions before they are published.`,
	Version:            version,
	SilenceUsage:       true,
	PersistentPreRunE:  setupLogging,
	PersistentPostRunE: teardownLogging,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .whiteboard/config.yaml or ~/.config/whiteboard/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs (path from WHITEBOARD_LOG, default debug.log)")
	rootCmd.PersistentFlags().BoolVar(&verboseFlag, "verbose", false,
		"echo log lines to stderr while serving")
}

func setDefaults(v *viper.Viper) {
	d := config.Defaults()
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.context_path", d.HTTP.ContextPath)
	v.SetDefault("http.servlet_ranking", d.HTTP.ServletRanking)
	v.SetDefault("providers.dir", d.Providers.Dir)
	v.SetDefault("providers.watch", d.Providers.Watch)
	v.SetDefault("providers.debounce", d.Providers.Debounce)
	v.SetDefault("journal.path", d.Journal.Path)
	v.SetDefault("journal.max_entries", d.Journal.MaxEntries)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("cache.filter_ttl", d.Cache.FilterTTL)
	v.SetDefault("flags", d.Flags)
}

func initConfig() {
	setDefaults(viper.GetViper())

	viper.SetEnvPrefix("WHITEBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// 1. .whiteboard/config.yaml (current directory)
		// 2. ~/.config/whiteboard/config.yaml
		if _, err := os.Stat(localConfigPath); err == nil {
			viper.SetConfigFile(localConfigPath)
		} else {
			viper.AddConfigPath(config.DefaultDir())
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			if writeErr := config.WriteDefaultConfig(localConfigPath); writeErr == nil {
				viper.SetConfigFile(localConfigPath)
				_ = viper.ReadInConfig()
			}
		} else {
			log.Warn(log.CatConfig, "Config not read, using defaults", "error", err)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// configPath is the file flag changes are saved to.
func configPath() string {
	if p := viper.ConfigFileUsed(); p != "" {
		return p
	}
	if cfgFile != "" {
		return cfgFile
	}
	return localConfigPath
}

func setupLogging(_ *cobra.Command, _ []string) error {
	debug := os.Getenv("WHITEBOARD_DEBUG") != "" || debugFlag
	switch {
	case debug:
		logPath := os.Getenv("WHITEBOARD_LOG")
		if logPath == "" {
			logPath = "debug.log"
		}
		if dir := filepath.Dir(logPath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return fmt.Errorf("creating log directory: %w", err)
			}
		}
		cleanup, err := log.Init(logPath)
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		logCleanup = cleanup
	case verboseFlag:
		// Lines only reach stderr through the run command's subscription.
		log.InitWriter(io.Discard, log.LevelInfo)
	default:
		return nil
	}

	if lvl := os.Getenv("WHITEBOARD_LOG_LEVEL"); lvl != "" {
		log.SetMinLevel(log.ParseLevel(lvl))
	}
	log.Info(log.CatConfig, "Whiteboard starting", "version", version, "config", viper.ConfigFileUsed())
	return nil
}

func teardownLogging(_ *cobra.Command, _ []string) error {
	if logCleanup != nil {
		logCleanup()
		logCleanup = nil
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
