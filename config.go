package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind             string
	candidates       int
	envFile          string
	fetchConcurrency int
	fetchTimeout     time.Duration
	metrics          bool
	port             int
	prefix           string
	profile          bool
	sessionTimeout   time.Duration
	tlsCert          string
	tlsKey           string
	triviaURL        string
	verbose          bool
	version          bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.candidates < numCategories {
		return fmt.Errorf("invalid candidate batch (must be at least %d): %d", numCategories, c.candidates)
	}
	if c.fetchConcurrency < 1 {
		return fmt.Errorf("invalid fetch concurrency (must be at least 1): %d", c.fetchConcurrency)
	}
	if c.fetchTimeout <= 0 {
		return fmt.Errorf("invalid fetch timeout (must be positive): %s", c.fetchTimeout)
	}

	u, err := url.Parse(c.triviaURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid trivia url (must be http or https): %q", c.triviaURL)
	}

	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// loadEnvFile populates the environment from a dotenv file, if one exists.
// Variables already set in the environment win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	return godotenv.Load(path)
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TRIVIABOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "triviaboard",
		Short:         "A click-to-reveal trivia board, served as a self-contained webapp.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: TRIVIABOARD_BIND)")
	fs.IntVar(&cfg.candidates, "candidates", 50, "random clues requested per board when picking categories (env: TRIVIABOARD_CANDIDATES)")
	fs.StringVar(&cfg.envFile, "env-file", ".env", "dotenv file to load before reading the environment (env: TRIVIABOARD_ENV_FILE)")
	fs.IntVar(&cfg.fetchConcurrency, "fetch-concurrency", numCategories, "categories fetched in parallel per board (env: TRIVIABOARD_FETCH_CONCURRENCY)")
	fs.DurationVar(&cfg.fetchTimeout, "fetch-timeout", 10*time.Second, "timeout for each trivia service request (env: TRIVIABOARD_FETCH_TIMEOUT)")
	fs.BoolVar(&cfg.metrics, "metrics", false, "serve prometheus metrics at /metrics (env: TRIVIABOARD_METRICS)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: TRIVIABOARD_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: TRIVIABOARD_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: TRIVIABOARD_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle boards are discarded (env: TRIVIABOARD_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: TRIVIABOARD_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: TRIVIABOARD_TLS_KEY)")
	fs.StringVar(&cfg.triviaURL, "trivia-url", "http://jservice.io", "base url of the jService-compatible trivia api (env: TRIVIABOARD_TRIVIA_URL)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: TRIVIABOARD_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: TRIVIABOARD_VERSION)")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if !fs.Changed("env-file") {
			if path, ok := os.LookupEnv("TRIVIABOARD_ENV_FILE"); ok {
				cfg.envFile = path
			}
		}

		if err := loadEnvFile(cfg.envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}

		fs.VisitAll(func(f *pflag.Flag) {
			_ = v.BindPFlag(f.Name, f)
			_ = v.BindEnv(f.Name)
			if !f.Changed && v.IsSet(f.Name) {
				_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
			}
		})

		return nil
	}

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("triviaboard v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
