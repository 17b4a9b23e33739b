// Package cli implements the talkback command line client.
package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/internal/version"
	"github.com/MrWong99/talkback/pkg/capture"
)

// EndpointEnv overrides client.endpoint when set.
const EndpointEnv = "TALKBACK_API_ENDPOINT"

// DefaultConfigPath is read when --config is not given. A missing file at
// this path is not an error.
const DefaultConfigPath = "talkback.yaml"

// Dependencies are the process resources the commands use. Zero fields
// select the real ones.
type Dependencies struct {
	In     io.Reader
	Out    io.Writer
	Err    io.Writer
	Getenv func(string) string

	// NewSink builds the capture sink. Nil selects the sink named by
	// client.capture.source.
	NewSink func(config.CaptureConfig, *slog.Logger) (capture.Sink, error)

	// HTTPClient is used for uploads and doctor probes.
	HTTPClient *http.Client
}

func (d *Dependencies) withDefaults() *Dependencies {
	out := *d
	if out.In == nil {
		out.In = os.Stdin
	}
	if out.Out == nil {
		out.Out = os.Stdout
	}
	if out.Err == nil {
		out.Err = os.Stderr
	}
	if out.Getenv == nil {
		out.Getenv = os.Getenv
	}
	if out.NewSink == nil {
		out.NewSink = newSink
	}
	if out.HTTPClient == nil {
		out.HTTPClient = &http.Client{}
	}
	return &out
}

// runtime is the state shared by the subcommands once flags are parsed.
type runtime struct {
	deps       *Dependencies
	configPath string
	haveFile   bool
	cfg        *config.Config
	level      slog.LevelVar
	log        *slog.Logger
}

// endpoint returns the endpoint base URL for the given config. The
// environment wins over the file.
func (rt *runtime) endpoint(cfg *config.Config) string {
	if v := strings.TrimSpace(rt.deps.Getenv(EndpointEnv)); v != "" {
		return v
	}
	return cfg.Client.Endpoint
}

// NewRootCmd builds the talkback command tree.
func NewRootCmd(deps *Dependencies) *cobra.Command {
	rt := &runtime{deps: deps.withDefaults()}
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "talkback",
		Short: "Record a question and hear back from an assistant",
		Long: "talkback records from the microphone, uploads the recording to a talkbackd server\n" +
			"and prints the assistant's answer.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rt.load(cmd.Flags().Changed("config"), config.LogLevel(logLevel))
		},
	}

	rootCmd.Version = version.String()
	rootCmd.SetVersionTemplate(version.Full("talkback") + "\n")
	rootCmd.SetIn(rt.deps.In)
	rootCmd.SetOut(rt.deps.Out)
	rootCmd.SetErr(rt.deps.Err)

	rootCmd.PersistentFlags().StringVarP(&rt.configPath, "config", "c", DefaultConfigPath, "Path to the YAML or TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides client.log_level)")

	rootCmd.AddCommand(NewRecordCmd(rt))
	rootCmd.AddCommand(NewDoctorCmd(rt))
	rootCmd.AddCommand(NewVersionCmd(rt))

	return rootCmd
}

// load reads the config file and sets up logging. An absent default config
// file yields the built-in defaults.
func (rt *runtime) load(explicit bool, flagLevel config.LogLevel) error {
	if flagLevel != "" && !flagLevel.IsValid() {
		return fmt.Errorf("--log-level %q is invalid; valid values: debug, info, warn, error", flagLevel)
	}

	cfg, err := config.Load(rt.configPath)
	switch {
	case err == nil:
		rt.haveFile = true
	case !explicit && errors.Is(err, fs.ErrNotExist):
		cfg = &config.Config{}
		config.ApplyDefaults(cfg)
	default:
		return err
	}
	rt.cfg = cfg

	level := flagLevel
	if level == "" {
		level = cfg.Client.LogLevel
	}
	rt.level.Set(slogLevel(level))
	rt.log = slog.New(slog.NewTextHandler(rt.deps.Err, &slog.HandlerOptions{Level: &rt.level}))
	rt.log.Debug("config loaded", "path", rt.configPath, "from_file", rt.haveFile)
	return nil
}

// slogLevel maps a config level to slog. The client is quiet by default so
// log lines do not interleave with the status display.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogInfo:
		return slog.LevelInfo
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
