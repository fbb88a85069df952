package config

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/thatsimonsguy/hmsim/internal/model"
	"github.com/thatsimonsguy/hmsim/internal/rpc"
)

type Interface struct {
	Protocol rpc.Protocol `yaml:"protocol"`
	Port     int          `yaml:"port"`
	Devices  string       `yaml:"devices"`
}

type Rega struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Seed    string `yaml:"seed"`
}

type Datadog struct {
	Enabled   bool     `yaml:"enabled"`
	AgentAddr string   `yaml:"agent_addr"`
	Namespace string   `yaml:"namespace"`
	Tags      []string `yaml:"tags"`
}

type Config struct {
	ConfigFile  string        `yaml:"-"`
	LogLevel    zerolog.Level `yaml:"-"`
	LogFile     string        `yaml:"-"`
	Interactive bool          `yaml:"-"`

	ListenAddress        string                        `yaml:"listen_address"`
	CallTimeoutSeconds   int                           `yaml:"call_timeout_seconds"`
	Interfaces           map[model.Interface]Interface `yaml:"interfaces"`
	ParamsetDescriptions string                        `yaml:"paramset_descriptions"`
	Rega                 Rega                          `yaml:"rega"`
	Datadog              Datadog                       `yaml:"datadog"`
}

// CallTimeout bounds every outbound call to a registered client.
func (cfg Config) CallTimeout() time.Duration {
	return time.Duration(cfg.CallTimeoutSeconds) * time.Second
}

// Addr joins the listen address with port.
func (cfg Config) Addr(port int) string {
	return fmt.Sprintf("%s:%d", cfg.ListenAddress, port)
}

// DevicePaths returns the device file of each configured interface.
func (cfg Config) DevicePaths() map[model.Interface]string {
	paths := make(map[model.Interface]string, len(cfg.Interfaces))
	for iface, ic := range cfg.Interfaces {
		paths[iface] = ic.Devices
	}
	return paths
}

func Load() Config {
	return LoadArgs(os.Args[1:])
}

// LoadArgs parses flags from args, then the config file they name. Invalid
// configuration panics.
func LoadArgs(args []string) Config {
	var cfg Config
	var logLevel string

	fs := flag.NewFlagSet("hmsim", flag.ExitOnError)
	fs.StringVar(&cfg.ConfigFile, "config-file", "config.yaml", "Path to simulator config file")
	fs.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFile, "log-file", "", "Write JSON logs to this file instead of the console")
	fs.BoolVar(&cfg.Interactive, "interactive", false, "Start the interactive console")
	fs.Parse(args)

	cfg.LogLevel = parseLogLevel(logLevel)

	raw, err := os.ReadFile(cfg.ConfigFile)
	if err != nil {
		panic("Failed to load config file: " + err.Error())
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		panic("Failed to parse config file: " + err.Error())
	}

	cfg.applyDefaults()
	cfg.validate()
	return cfg
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = "127.0.0.1"
	}
	if cfg.CallTimeoutSeconds == 0 {
		cfg.CallTimeoutSeconds = 10
	}
	if cfg.Interfaces == nil {
		cfg.Interfaces = map[model.Interface]Interface{
			model.InterfaceRF: {Protocol: rpc.ProtocolBinary, Port: 2001, Devices: "data/devices-rfd.json"},
			model.InterfaceIP: {Protocol: rpc.ProtocolXML, Port: 2010, Devices: "data/devices-hmip.json"},
		}
	}
	if cfg.ParamsetDescriptions == "" {
		cfg.ParamsetDescriptions = "data/paramset-descriptions.json"
	}
	if cfg.Rega.Enabled && cfg.Rega.Port == 0 {
		cfg.Rega.Port = 8181
	}
	if cfg.Datadog.AgentAddr == "" {
		cfg.Datadog.AgentAddr = "127.0.0.1:8125"
	}
	if cfg.Datadog.Namespace == "" {
		cfg.Datadog.Namespace = "hmsim."
	}
}

func (cfg *Config) validate() {
	var (
		problems  []string
		usedPorts = map[int]string{}
		conflicts []string
	)

	claim := func(name string, port int) {
		if port <= 0 || port > 65535 {
			problems = append(problems, fmt.Sprintf("%s: invalid port %d", name, port))
			return
		}
		if other, exists := usedPorts[port]; exists {
			conflicts = append(conflicts, fmt.Sprintf("%s and %s both use port %d", name, other, port))
		} else {
			usedPorts[port] = name
		}
	}
	requireFile := func(name, path string) {
		if path == "" {
			problems = append(problems, name+": missing path")
			return
		}
		if _, err := os.Stat(path); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", name, err))
		}
	}

	names := make([]string, 0, len(cfg.Interfaces))
	for iface := range cfg.Interfaces {
		names = append(names, string(iface))
	}
	sort.Strings(names)

	for _, name := range names {
		iface := model.Interface(name)
		ic := cfg.Interfaces[iface]
		if _, ok := model.ParseInterface(name); !ok {
			problems = append(problems, "interfaces."+name+": unknown interface")
			continue
		}
		if ic.Protocol != rpc.ProtocolBinary && ic.Protocol != rpc.ProtocolXML {
			problems = append(problems, fmt.Sprintf("interfaces.%s: unknown protocol %q", name, ic.Protocol))
		}
		claim("interfaces."+name, ic.Port)
		requireFile("interfaces."+name+".devices", ic.Devices)
	}
	requireFile("paramset_descriptions", cfg.ParamsetDescriptions)

	if cfg.Rega.Enabled {
		claim("rega", cfg.Rega.Port)
		if cfg.Rega.Seed != "" {
			requireFile("rega.seed", cfg.Rega.Seed)
		}
	}

	if len(problems) > 0 {
		panic("Invalid config: " + strings.Join(problems, ", "))
	}
	if len(conflicts) > 0 {
		panic("Conflicting ports: " + strings.Join(conflicts, ", "))
	}
}
