package cli

import (
	"fmt"
	"github.com/pgacloud/manager/internal/backend/swarm"
	"github.com/pgacloud/manager/internal/naming"
	"github.com/pgacloud/manager/internal/orchestrator"
	"github.com/pgacloud/manager/internal/runner"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"net"
	"strings"
)

const (
	envPrefix         = "PGA"
	configName        = "pga"
	defaultDockerPort = "2376"
)

// fs is where config files and uploads are read from.
var fs afero.Fs = afero.NewOsFs()

type Config struct {
	Docker  DockerConfig  `mapstructure:"docker"`
	Network NetworkConfig `mapstructure:"network"`
	Storage StorageConfig `mapstructure:"storage"`
	Runner  PortConfig    `mapstructure:"runner"`
	Probe   PortConfig    `mapstructure:"probe"`
	API     APIConfig     `mapstructure:"api"`
	IDs     string        `mapstructure:"ids"`
	Log     LogConfig     `mapstructure:"log"`
}

type DockerConfig struct {
	Host     string         `mapstructure:"host"`
	TLS      TLSConfig      `mapstructure:"tls"`
	Registry RegistryConfig `mapstructure:"registry"`
}

type TLSConfig struct {
	CA   string `mapstructure:"ca"`
	Cert string `mapstructure:"cert"`
	Key  string `mapstructure:"key"`
}

type RegistryConfig struct {
	Server   string `mapstructure:"server"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type NetworkConfig struct {
	Management string `mapstructure:"management"`
}

type StorageConfig struct {
	Root string `mapstructure:"root"`
}

type PortConfig struct {
	Port int `mapstructure:"port"`
}

type APIConfig struct {
	Listen string `mapstructure:"listen"`
	URL    string `mapstructure:"url"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("docker.host", "")
	v.SetDefault("docker.tls.ca", "/run/secrets/SSL_CA_PEM")
	v.SetDefault("docker.tls.cert", "/run/secrets/SSL_CERT_PEM")
	v.SetDefault("docker.tls.key", "/run/secrets/SSL_KEY_PEM")
	v.SetDefault("docker.registry.server", "")
	v.SetDefault("docker.registry.username", "")
	v.SetDefault("docker.registry.password", "")
	v.SetDefault("network.management", orchestrator.DefaultManagementNetwork)
	v.SetDefault("storage.root", "/var/lib/pga")
	v.SetDefault("runner.port", runner.DefaultPort)
	v.SetDefault("probe.port", runner.DefaultPort)
	v.SetDefault("api.listen", ":5000")
	v.SetDefault("api.url", "http://localhost:5000")
	v.SetDefault("ids", "sequence")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
}

// loadConfig merges defaults, the config file, PGA_* environment variables
// and bound flags. A missing pga.yaml is fine unless file names one.
func loadConfig(v *viper.Viper, file string) (Config, error) {
	setDefaults(v)
	v.SetFs(fs)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pga")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, errors.Wrap(err, "unable to read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unable to decode config")
	}
	return cfg, nil
}

// swarmOptions builds the daemon connection. TLS material is only used for
// an explicit host; an empty host falls back to DOCKER_HOST and friends.
func (c Config) swarmOptions() swarm.Options {
	opts := swarm.Options{Host: dockerHost(c.Docker.Host)}
	if opts.Host != "" && c.Docker.TLS.CA != "" {
		opts.TLS = &swarm.TLSFiles{CA: c.Docker.TLS.CA, Cert: c.Docker.TLS.Cert, Key: c.Docker.TLS.Key}
	}
	if c.Docker.Registry.Username != "" {
		opts.Registry = &swarm.RegistryAuth{
			Username:      c.Docker.Registry.Username,
			Password:      c.Docker.Registry.Password,
			ServerAddress: c.Docker.Registry.Server,
		}
	}
	return opts
}

func (c Config) idGenerator() (naming.IDGenerator, error) {
	switch c.IDs {
	case "", "sequence":
		return naming.NewSequence(0), nil
	case "random":
		return naming.Random{}, nil
	default:
		return nil, fmt.Errorf("unknown id generator %q, want sequence or random", c.IDs)
	}
}

// dockerHost turns a bare host name into tcp://host:2376.
func dockerHost(h string) string {
	if h == "" || strings.Contains(h, "://") {
		return h
	}
	if _, _, err := net.SplitHostPort(h); err == nil {
		return "tcp://" + h
	}
	return "tcp://" + net.JoinHostPort(h, defaultDockerPort)
}
