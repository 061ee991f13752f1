// Package runner wires the backends, the orchestrator and the stores into the
// companyatlas command line.
package runner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/Tpgainz/companyatlas/atlas"
	"github.com/Tpgainz/companyatlas/backend"
)

const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitInterrupted = 130
)

var (
	ErrNoResults        = errors.New("no results found")
	ErrHistoryDisabled  = errors.New("search history is disabled: set dsn")
	ErrMissingS3Bucket  = errors.New("s3 bucket is not configured")
	ErrInvalidQueryLine = errors.New("invalid query line")
)

type Config struct {
	Prefix          string                       `mapstructure:"prefix"`
	Timeout         time.Duration                `mapstructure:"timeout"`
	Concurrency     int                          `mapstructure:"concurrency"`
	DSN             string                       `mapstructure:"dsn"`
	PosthogKey      string                       `mapstructure:"posthog_key"`
	PosthogEndpoint string                       `mapstructure:"posthog_endpoint"`
	WebhookURL      string                       `mapstructure:"webhook_url"`
	S3Bucket        string                       `mapstructure:"s3_bucket"`
	AWSRegion       string                       `mapstructure:"aws_region"`
	AWSAccessKey    string                       `mapstructure:"aws_access_key"`
	AWSSecretKey    string                       `mapstructure:"aws_secret_key"`
	Backends        map[string]map[string]string `mapstructure:"backends"`
}

func DefaultConfig() *Config {
	return &Config{
		Prefix:      backend.DefaultPrefix,
		Timeout:     atlas.DefaultTimeout,
		Concurrency: 4,
	}
}

// LoadConfig reads companyatlas.{yaml,toml,json} from path, or from the
// working directory then ~/.config/companyatlas when path is empty. A
// missing file is not an error. Top level keys can also be set through
// COMPANYATLAS_<KEY> variables.
func LoadConfig(path string) (*Config, error) {
	defaults := DefaultConfig()

	v := viper.New()

	v.SetDefault("prefix", defaults.Prefix)
	v.SetDefault("timeout", defaults.Timeout)
	v.SetDefault("concurrency", defaults.Concurrency)
	v.SetDefault("aws_region", "eu-west-3")

	// Unmarshal only sees keys viper knows about, so every key that may come
	// from the environment needs a default.
	for _, key := range []string{"dsn", "posthog_key", "posthog_endpoint", "webhook_url", "s3_bucket",
		"aws_access_key", "aws_secret_key"} {
		v.SetDefault(key, "")
	}

	v.SetEnvPrefix(backend.DefaultPrefix)
	v.AutomaticEnv()

	for key, envs := range map[string][]string{
		"posthog_key":    {"POSTHOG_API_KEY", "COMPANYATLAS_POSTHOG_KEY"},
		"aws_region":     {"COMPANYATLAS_AWS_REGION", "AWS_REGION"},
		"aws_access_key": {"COMPANYATLAS_AWS_ACCESS_KEY", "AWS_ACCESS_KEY_ID"},
		"aws_secret_key": {"COMPANYATLAS_AWS_SECRET_KEY", "AWS_SECRET_ACCESS_KEY"},
	} {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("companyatlas")
		v.AddConfigPath(".")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "companyatlas"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return &cfg, nil
}

// BackendConfig is the configuration handed to every backend constructor.
func (c *Config) BackendConfig() backend.Config {
	return backend.NewConfig(c.Backends, backend.WithPrefix(c.Prefix))
}

func wrapText(text string, width int) []string {
	var lines []string

	currentLine := ""
	currentWidth := 0

	for _, r := range text {
		runeWidth := runewidth.RuneWidth(r)
		if currentWidth+runeWidth > width {
			lines = append(lines, currentLine)
			currentLine = string(r)
			currentWidth = runeWidth
		} else {
			currentLine += string(r)
			currentWidth += runeWidth
		}
	}

	if currentLine != "" {
		lines = append(lines, currentLine)
	}

	return lines
}

// terminalWidth falls back to 80 columns when stderr is not a terminal.
func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stderr.Fd()))
	if err != nil || width <= 0 {
		return 80
	}

	return width
}

func banner(messages []string, width int) string {
	if width <= 0 {
		width = terminalWidth()
	}

	if width < 20 {
		width = 20
	}

	contentWidth := width - 4

	var wrappedLines []string
	for _, message := range messages {
		wrappedLines = append(wrappedLines, wrapText(message, contentWidth)...)
	}

	var builder strings.Builder

	builder.WriteString("╔" + strings.Repeat("═", width-2) + "╗\n")

	for _, line := range wrappedLines {
		paddingRight := max(contentWidth-runewidth.StringWidth(line), 0)

		builder.WriteString(fmt.Sprintf("║ %s%s ║\n", line, strings.Repeat(" ", paddingRight)))
	}

	builder.WriteString("╚" + strings.Repeat("═", width-2) + "╝\n")

	return builder.String()
}

// Banner is printed only when stderr is a terminal.
func Banner(w io.Writer) {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return
	}

	fmt.Fprintln(w, banner([]string{
		"🌍 companyatlas",
		"🔎 Company data, documents and events from public registries, cheapest source first",
	}, 0))
}
