package options

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/podstate/internal/podstate/manager"
	"github.com/autopeer-io/podstate/internal/store"
	"github.com/autopeer-io/podstate/pkg/log"
	"github.com/autopeer-io/podstate/pkg/options"
)

// EnvPrefix prefixes environment overrides, e.g. PODSTATE_STORE_BACKEND.
const EnvPrefix = "PODSTATE"

type AgentOptions struct {
	ConfigFile string `json:"config" mapstructure:"config"`

	PodState *options.PodStateOptions `json:"podstate" mapstructure:"podstate"`
	Store    *options.StoreOptions    `json:"store" mapstructure:"store"`
	SQLite   *options.SQLiteOptions   `json:"sqlite" mapstructure:"sqlite"`
	Redis    *options.RedisOptions    `json:"redis" mapstructure:"redis"`
	S3       *options.S3Options       `json:"s3" mapstructure:"s3"`
	Mqtt     *options.MqttOptions     `json:"mqtt" mapstructure:"mqtt"`
	Http     *options.HttpOptions     `json:"http" mapstructure:"http"`
	Log      *log.Options             `json:"log" mapstructure:"log"`
}

func NewAgentOptions() *AgentOptions {
	return &AgentOptions{
		PodState: options.NewPodStateOptions(),
		Store:    options.NewStoreOptions(),
		SQLite:   options.NewSQLiteOptions(),
		Redis:    options.NewRedisOptions(),
		S3:       options.NewS3Options(),
		Mqtt:     options.NewMqttOptions(),
		Http:     options.NewHttpOptions(),
		Log:      log.NewOptions(),
	}
}

func (o *AgentOptions) Flags() (fss cliflag.NamedFlagSets) {
	fss.FlagSet("generic").StringVarP(&o.ConfigFile, "config", "c", o.ConfigFile,
		"Path to a YAML, JSON or TOML config file. Explicit flags take precedence; the file is watched for changes.")
	o.PodState.AddFlags(fss.FlagSet("podstate"))
	o.Store.AddFlags(fss.FlagSet("store"))
	o.SQLite.AddFlags(fss.FlagSet("sqlite"))
	o.Redis.AddFlags(fss.FlagSet("redis"))
	o.S3.AddFlags(fss.FlagSet("s3"))
	o.Mqtt.AddFlags(fss.FlagSet("mqtt"))
	o.Http.AddFlags(fss.FlagSet("http"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *AgentOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.PodState.Validate()...)
	errs = append(errs, o.Store.Validate()...)
	switch o.Store.Backend {
	case options.StoreBackendSQLite:
		errs = append(errs, o.SQLite.Validate()...)
	case options.StoreBackendRedis:
		errs = append(errs, o.Redis.Validate()...)
	case options.StoreBackendS3:
		errs = append(errs, o.S3.Validate()...)
	}
	errs = append(errs, o.Mqtt.Validate()...)
	errs = append(errs, o.Http.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

// NewViper binds fs and the environment, and reads ConfigFile when set.
// Precedence: explicitly set flags, then environment, then the file, then defaults.
func (o *AgentOptions) NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if o.ConfigFile != "" {
		v.SetConfigFile(o.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", o.ConfigFile, err)
		}
	}
	return v, nil
}

// Load fills o from v.
func (o *AgentOptions) Load(v *viper.Viper) error {
	if err := v.Unmarshal(o); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// StoreOptions selects the snapshot store settings.
func (o *AgentOptions) StoreOptions() store.Options {
	return store.Options{Store: o.Store, SQLite: o.SQLite, Redis: o.Redis, S3: o.S3}
}

// RetryPolicy derives the persistence retry policy.
func (o *AgentOptions) RetryPolicy() manager.RetryPolicy {
	p := manager.DefaultRetryPolicy()
	p.Attempts = o.PodState.PersistAttempts
	p.InitialInterval = o.PodState.PersistBackoff
	return p
}
