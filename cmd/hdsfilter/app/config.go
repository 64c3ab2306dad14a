package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"

	"github.com/spf13/pflag"

	"github.com/go-hds/hdsadapter/pkg/logging"
)

const (
	defaultDownloadLeadtimeS = 15
	defaultNetworkCachingMS  = 3000
	defaultHTTPTimeoutS      = 30
	defaultDebugPort         = 0 // 0 disables the debug server
)

// Config holds everything hdsfilter needs to open and drain one HDS
// stream: where to read the manifest from, how far ahead to download,
// and how the ambient logging/metrics/debug surfaces are configured.
type Config struct {
	LogFormat         string `json:"logformat"`
	LogLevel          string `json:"loglevel"`
	DownloadLeadtimeS int    `json:"downloadleadtimes"`
	NetworkCachingMS  int    `json:"networkcachingms"`
	HTTPTimeoutS      int    `json:"httptimeouts"`
	DebugPort         int    `json:"debugport"`
	ManifestURL       string `json:"-"`
	Version           bool   `json:"-"`
}

var DefaultConfig = Config{
	LogFormat:         logging.LogText,
	LogLevel:          "INFO",
	DownloadLeadtimeS: defaultDownloadLeadtimeS,
	NetworkCachingMS:  defaultNetworkCachingMS,
	HTTPTimeoutS:      defaultHTTPTimeoutS,
	DebugPort:         defaultDebugPort,
}

// LoadConfig loads defaults, an optional JSON config file, command-line
// flags, and finally environment variables, in that order of increasing
// precedence — matching cmd/livesim2/app/config.go's layering.
func LoadConfig(args []string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig, "json"), nil); err != nil {
		return nil, err
	}

	f := pflag.NewFlagSet("hdsfilter", pflag.ContinueOnError)
	f.Usage = func() {
		parts := strings.Split(args[0], "/")
		name := parts[len(parts)-1]
		fmt.Fprintf(os.Stderr, "Run as %s [options] manifestURL:\n", name)
		f.PrintDefaults()
	}

	cfgFile := f.String("cfg", "", "path to a JSON config file")
	version := f.BoolP("version", "v", false, "print version and exit")
	lf := strings.Join(logging.LogFormats, ", ")
	f.String("logformat", k.String("logformat"), fmt.Sprintf("log format [%s]", lf))
	ll := strings.Join(logging.LogLevels, ", ")
	f.String("loglevel", k.String("loglevel"), fmt.Sprintf("log level [%s]", ll))
	f.Int("downloadleadtimes", k.Int("downloadleadtimes"), "how many seconds of fragments to keep downloaded ahead of the reader")
	f.Int("networkcachingms", k.Int("networkcachingms"), "reported PTS delay, in milliseconds")
	f.Int("httptimeouts", k.Int("httptimeouts"), "HTTP request timeout, in seconds")
	f.Int("debugport", k.Int("debugport"), "port for the debug HTTP server (0 disables it)")
	if err := f.Parse(args[1:]); err != nil {
		return nil, fmt.Errorf("command line parse: %w", err)
	}

	if *cfgFile != "" {
		if err := k.Load(file.Provider(*cfgFile), json.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("parsing cli: %w", err)
	}

	if err := k.Load(env.Provider("HDSFILTER_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "HDSFILTER_")), "_", ".")
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	cfg.Version = *version
	if cfg.Version {
		return &cfg, nil
	}
	if len(f.Args()) != 1 {
		return nil, fmt.Errorf("exactly one manifest URL argument is required")
	}
	cfg.ManifestURL = f.Args()[0]
	return &cfg, nil
}
