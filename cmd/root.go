package cmd

import (
	"errors"
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/livepatch/internal/filtering"
)

const (
	app = "livepatch"
)

type Config struct {
	Workspace string           `mapstructure:"workspace"`
	Target    string           `mapstructure:"target"`
	DB        string           `mapstructure:"db"`
	Addr      string           `mapstructure:"addr"`
	Merge     MergeConfig      `mapstructure:"merge"`
	Scoring   ScoringConfig    `mapstructure:"scoring"`
	Deploy    DeployConfig     `mapstructure:"deploy"`
	Filters   filtering.Config `mapstructure:"filters"`
}

type MergeConfig struct {
	APIKey        string        `mapstructure:"api-key"`
	APIKeyFile    string        `mapstructure:"api-key-file"`
	Endpoint      string        `mapstructure:"endpoint"`
	Model         string        `mapstructure:"model"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxInputBytes int           `mapstructure:"max-input-bytes"`
	MaxLogLength  int           `mapstructure:"max-log-length"`
}

type ScoringConfig struct {
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

type DeployConfig struct {
	Token        string        `mapstructure:"token"`
	TokenFile    string        `mapstructure:"token-file"`
	ProjectID    string        `mapstructure:"project-id"`
	APIURL       string        `mapstructure:"api-url"`
	Branch       string        `mapstructure:"branch"`
	PollInterval time.Duration `mapstructure:"poll-interval"`
	PollAttempts uint          `mapstructure:"poll-attempts"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "livepatch merges update instructions into workspace files and keeps a preview of what changed",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	for key, env := range map[string]string{
		"merge.model":       "MORPH_MODEL",
		"deploy.project-id": "FREESTYLE_PROJECT_ID",
		"db":                "LIVEPATCH_DB",
	} {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	viper.SetDefault("workspace", ".")
	viper.SetDefault("db", app+".db")
	viper.SetDefault("addr", ":3000")
	viper.SetDefault("scoring.max-retries", 3)

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is livepatch.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().StringP("workspace", "w", "", "directory that target paths are resolved against")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
	}

	err := viper.ReadInConfig()
	if err == nil {
		return
	}

	// Without an explicit --config a missing file just means defaults.
	var notFound viper.ConfigFileNotFoundError
	if cfgFile == "" && errors.As(err, &notFound) {
		return
	}

	// We can't proceed if the config file parsed with error.
	log.Fatal(err)
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	if config == nil {
		config = &Config{}
	}

	return config, nil
}
