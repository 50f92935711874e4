package options

import (
	"errors"

	"github.com/spf13/pflag"
)

var _ IOptions = (*RedisOptions)(nil)

// RedisOptions configures the Redis snapshot backend.
type RedisOptions struct {
	Addr      string `json:"addr" mapstructure:"addr"`
	Password  string `json:"password" mapstructure:"password"`
	DB        int    `json:"db" mapstructure:"db"`
	KeyPrefix string `json:"key-prefix" mapstructure:"key-prefix"`
}

func NewRedisOptions() *RedisOptions {
	return &RedisOptions{
		Addr:      "127.0.0.1:6379",
		KeyPrefix: "podstate:",
	}
}

func (o *RedisOptions) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	if err := ValidateAddress(o.Addr); err != nil {
		errs = append(errs, err)
	}
	if o.DB < 0 {
		errs = append(errs, errors.New("redis.db must not be negative"))
	}
	return errs
}

func (o *RedisOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, "redis.addr", o.Addr, "Redis server address.")
	fs.StringVar(&o.Password, "redis.password", o.Password, "Redis password.")
	fs.IntVar(&o.DB, "redis.db", o.DB, "Redis logical database.")
	fs.StringVar(&o.KeyPrefix, "redis.key-prefix", o.KeyPrefix, "Prefix prepended to the snapshot key.")
}
