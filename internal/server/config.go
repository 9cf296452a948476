package server

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"mdview/internal/logging"
	"mdview/internal/watcher"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Host           string
	Port           int
	AuthToken      string
	LogLevel       logging.Level
	Debounce       time.Duration
	WatchDirs      []string
	AllowedOrigins []string
	ConfigFile     string
	ShowVersion    bool
	Args           []string
	Sources        map[string]configSource
}

type configSource string

const (
	sourceDefault configSource = "default"
	sourceFile    configSource = "file"
	sourceEnv     configSource = "env"
	sourceFlag    configSource = "flag"
)

// fileConfig is the YAML config file layout.
type fileConfig struct {
	Host           string   `yaml:"host"`
	Port           *int     `yaml:"port"`
	Token          string   `yaml:"token"`
	LogLevel       string   `yaml:"log_level"`
	DebounceMS     *int     `yaml:"debounce_ms"`
	Watch          []string `yaml:"watch"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type configDefaults struct {
	Host     string
	Port     int
	LogLevel logging.Level
	Debounce time.Duration
}

type flagValues struct {
	Host           string
	Port           int
	Token          string
	LogLevel       string
	DebounceMS     int
	Watch          stringList
	AllowedOrigins stringList
	ConfigFile     string
	Verbose        bool
	Quiet          bool
	Help           bool
	Version        bool
	Args           []string
	Set            map[string]bool
}

// stringList collects a repeatable flag.
type stringList []string

func (list *stringList) String() string {
	return strings.Join(*list, ",")
}

func (list *stringList) Set(value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return errors.New("value cannot be empty")
	}
	*list = append(*list, trimmed)
	return nil
}

// LoadConfig layers defaults, the YAML config file, MDVIEW_* environment
// variables and flags, in increasing precedence. Sources records where each
// setting came from.
func LoadConfig(args []string) (Config, error) {
	defaults := defaultConfigValues()
	flags, err := parseFlags(args, defaults)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Args:    flags.Args,
		Sources: make(map[string]configSource),
	}

	configFile := strings.TrimSpace(os.Getenv("MDVIEW_CONFIG"))
	configFileSource := sourceEnv
	if flags.Set["config"] {
		configFile = strings.TrimSpace(flags.ConfigFile)
		configFileSource = sourceFlag
	}
	file := fileConfig{}
	if configFile != "" {
		file, err = readConfigFile(configFile)
		if err != nil {
			return Config{}, err
		}
		cfg.ConfigFile = configFile
		cfg.Sources["config"] = configFileSource
	} else {
		cfg.Sources["config"] = sourceDefault
	}

	host := defaults.Host
	hostSource := sourceDefault
	if trimmed := strings.TrimSpace(file.Host); trimmed != "" {
		host = trimmed
		hostSource = sourceFile
	}
	if rawHost := strings.TrimSpace(os.Getenv("MDVIEW_HOST")); rawHost != "" {
		host = rawHost
		hostSource = sourceEnv
	}
	if flags.Set["host"] {
		trimmed := strings.TrimSpace(flags.Host)
		if trimmed == "" {
			return Config{}, fmt.Errorf("invalid --host: value cannot be empty")
		}
		host = trimmed
		hostSource = sourceFlag
	}
	cfg.Host = host
	cfg.Sources["host"] = hostSource

	port := defaults.Port
	portSource := sourceDefault
	if file.Port != nil {
		if *file.Port <= 0 {
			return Config{}, fmt.Errorf("invalid port in %s: must be > 0", configFile)
		}
		port = *file.Port
		portSource = sourceFile
	}
	if rawPort := os.Getenv("MDVIEW_PORT"); rawPort != "" {
		if parsed, err := strconv.Atoi(rawPort); err == nil && parsed > 0 {
			port = parsed
			portSource = sourceEnv
		}
	}
	if flags.Set["port"] {
		if flags.Port <= 0 {
			return Config{}, fmt.Errorf("invalid --port: must be > 0")
		}
		port = flags.Port
		portSource = sourceFlag
	}
	cfg.Port = port
	cfg.Sources["port"] = portSource

	token := file.Token
	tokenSource := sourceDefault
	if token != "" {
		tokenSource = sourceFile
	}
	if rawToken := os.Getenv("MDVIEW_TOKEN"); rawToken != "" {
		token = rawToken
		tokenSource = sourceEnv
	}
	if flags.Set["token"] {
		token = flags.Token
		tokenSource = sourceFlag
	}
	cfg.AuthToken = token
	cfg.Sources["token"] = tokenSource

	level := defaults.LogLevel
	levelSource := sourceDefault
	if file.LogLevel != "" {
		parsed, ok := logging.ParseLevel(file.LogLevel)
		if !ok {
			return Config{}, fmt.Errorf("invalid log_level in %s: %q", configFile, file.LogLevel)
		}
		level = parsed
		levelSource = sourceFile
	}
	if rawLevel := os.Getenv("MDVIEW_LOG_LEVEL"); rawLevel != "" {
		if parsed, ok := logging.ParseLevel(rawLevel); ok {
			level = parsed
			levelSource = sourceEnv
		}
	}
	if flags.Set["log-level"] {
		parsed, ok := logging.ParseLevel(flags.LogLevel)
		if !ok {
			return Config{}, fmt.Errorf("invalid --log-level: %q", flags.LogLevel)
		}
		level = parsed
		levelSource = sourceFlag
	}
	if flags.Set["verbose"] && flags.Verbose {
		level = logging.LevelDebug
		levelSource = sourceFlag
	}
	if flags.Set["quiet"] && flags.Quiet {
		level = logging.LevelWarning
		levelSource = sourceFlag
	}
	cfg.LogLevel = level
	cfg.Sources["log-level"] = levelSource

	debounce := defaults.Debounce
	debounceSource := sourceDefault
	if file.DebounceMS != nil {
		if *file.DebounceMS <= 0 {
			return Config{}, fmt.Errorf("invalid debounce_ms in %s: must be > 0", configFile)
		}
		debounce = time.Duration(*file.DebounceMS) * time.Millisecond
		debounceSource = sourceFile
	}
	if rawDebounce := os.Getenv("MDVIEW_DEBOUNCE_MS"); rawDebounce != "" {
		if parsed, err := strconv.Atoi(rawDebounce); err == nil && parsed > 0 {
			debounce = time.Duration(parsed) * time.Millisecond
			debounceSource = sourceEnv
		}
	}
	if flags.Set["debounce-ms"] {
		if flags.DebounceMS <= 0 {
			return Config{}, fmt.Errorf("invalid --debounce-ms: must be > 0")
		}
		debounce = time.Duration(flags.DebounceMS) * time.Millisecond
		debounceSource = sourceFlag
	}
	cfg.Debounce = debounce
	cfg.Sources["debounce-ms"] = debounceSource

	cfg.WatchDirs, cfg.Sources["watch"] = layerList(file.Watch, os.Getenv("MDVIEW_WATCH"), flags.Watch, flags.Set["watch"])
	cfg.AllowedOrigins, cfg.Sources["allowed-origin"] = layerList(file.AllowedOrigins, os.Getenv("MDVIEW_ALLOWED_ORIGINS"), flags.AllowedOrigins, flags.Set["allowed-origin"])

	cfg.ShowVersion = flags.Version
	cfg.Sources["version"] = sourceDefault
	if flags.Set["version"] {
		cfg.Sources["version"] = sourceFlag
	}

	return cfg, nil
}

// layerList picks the highest-precedence non-empty list. Environment lists are
// comma separated.
func layerList(file []string, env string, flagged []string, flagSet bool) ([]string, configSource) {
	values := []string(nil)
	source := sourceDefault
	if cleaned := cleanList(file); len(cleaned) > 0 {
		values = cleaned
		source = sourceFile
	}
	if cleaned := cleanList(strings.Split(env, ",")); len(cleaned) > 0 {
		values = cleaned
		source = sourceEnv
	}
	if flagSet {
		values = cleanList(flagged)
		source = sourceFlag
	}
	return values, source
}

func cleanList(values []string) []string {
	cleaned := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) == 0 {
		return nil
	}
	return cleaned
}

func readConfigFile(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg fileConfig
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return fileConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func defaultConfigValues() configDefaults {
	return configDefaults{
		Host:     "127.0.0.1",
		Port:     57418,
		LogLevel: logging.LevelInfo,
		Debounce: watcher.DefaultDebounceWindow,
	}
}

func parseFlags(args []string, defaults configDefaults) (flagValues, error) {
	if args == nil {
		args = []string{}
	}
	fs := flag.NewFlagSet("mdview", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	flags := flagValues{}
	fs.StringVar(&flags.Host, "host", defaults.Host, "HTTP bind address")
	fs.IntVar(&flags.Port, "port", defaults.Port, "HTTP port")
	fs.StringVar(&flags.Token, "token", "", "Auth token for REST/WS")
	fs.StringVar(&flags.LogLevel, "log-level", string(defaults.LogLevel), "Log level")
	fs.IntVar(&flags.DebounceMS, "debounce-ms", int(defaults.Debounce/time.Millisecond), "Debounce window in milliseconds")
	fs.Var(&flags.Watch, "watch", "Directory to watch at startup (repeatable)")
	fs.Var(&flags.AllowedOrigins, "allowed-origin", "Allowed websocket origin (repeatable)")
	fs.StringVar(&flags.ConfigFile, "config", "", "YAML config file")
	fs.BoolVar(&flags.Verbose, "verbose", false, "Enable debug logging")
	fs.BoolVar(&flags.Quiet, "quiet", false, "Reduce logging to warnings")
	help := fs.Bool("help", false, "Show help")
	version := fs.Bool("version", false, "Print version and exit")
	helpShort := fs.Bool("h", false, "Show help")
	versionShort := fs.Bool("v", false, "Print version and exit")

	fs.Usage = func() {
		printHelp(fs.Output(), defaults)
	}

	if err := fs.Parse(args); err != nil {
		return flagValues{}, err
	}

	set := make(map[string]bool)
	fs.Visit(func(flagValue *flag.Flag) {
		set[flagValue.Name] = true
	})
	flags.Help = *help || *helpShort
	flags.Version = *version || *versionShort
	flags.Args = fs.Args()
	flags.Set = set

	if flags.Help {
		set["help"] = true
		fs.SetOutput(os.Stdout)
		fs.Usage()
		return flags, flag.ErrHelp
	}
	if flags.Version {
		set["version"] = true
	}
	return flags, nil
}

type helpOption struct {
	Name string
	Desc string
}

func printHelp(out io.Writer, defaults configDefaults) {
	fmt.Fprintln(out, "Usage: mdview [options] [FILE.md]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Markdown viewer backend: opens FILE when the UI is ready and watches")
	fmt.Fprintln(out, "directories for image changes.")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")

	writeOptionGroup(out, "Server", []helpOption{
		{
			Name: "--host ADDR",
			Desc: fmt.Sprintf("HTTP bind address (env: MDVIEW_HOST, default: %s)", defaults.Host),
		},
		{
			Name: "--port PORT",
			Desc: fmt.Sprintf("HTTP port (env: MDVIEW_PORT, default: %d)", defaults.Port),
		},
		{
			Name: "--token TOKEN",
			Desc: "Auth token for REST/WS (env: MDVIEW_TOKEN, default: none)",
		},
		{
			Name: "--allowed-origin ORIGIN",
			Desc: "Extra websocket origin, repeatable (env: MDVIEW_ALLOWED_ORIGINS, comma separated)",
		},
	})

	writeOptionGroup(out, "Watching", []helpOption{
		{
			Name: "--watch DIR",
			Desc: "Directory to watch at startup, repeatable (env: MDVIEW_WATCH, comma separated)",
		},
		{
			Name: "--debounce-ms N",
			Desc: fmt.Sprintf("Debounce window (env: MDVIEW_DEBOUNCE_MS, default: %d)", int(defaults.Debounce/time.Millisecond)),
		},
	})

	writeOptionGroup(out, "Common", []helpOption{
		{
			Name: "--config FILE",
			Desc: "YAML config file (env: MDVIEW_CONFIG)",
		},
		{
			Name: "--log-level LEVEL",
			Desc: fmt.Sprintf("debug, info, warning or error (env: MDVIEW_LOG_LEVEL, default: %s)", defaults.LogLevel),
		},
		{
			Name: "--verbose",
			Desc: "Enable debug logging (default: false)",
		},
		{
			Name: "--quiet",
			Desc: "Reduce logging to warnings (default: false)",
		},
		{
			Name: "--help",
			Desc: "Show this help message",
		},
		{
			Name: "--version",
			Desc: "Print version and exit",
		},
	})

	fmt.Fprintln(out, "Config file < environment variables < CLI flags.")
}

func writeOptionGroup(out io.Writer, title string, options []helpOption) {
	fmt.Fprintf(out, "  %s:\n", title)
	for _, option := range options {
		fmt.Fprintf(out, "    %-30s %s\n", option.Name, option.Desc)
	}
	fmt.Fprintln(out, "")
}
