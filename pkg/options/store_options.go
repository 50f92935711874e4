package options

import (
	"fmt"
	"slices"

	"github.com/spf13/pflag"
)

const (
	StoreBackendMemory = "memory"
	StoreBackendSQLite = "sqlite"
	StoreBackendRedis  = "redis"
	StoreBackendS3     = "s3"
)

var storeBackends = []string{StoreBackendMemory, StoreBackendSQLite, StoreBackendRedis, StoreBackendS3}

var _ IOptions = (*StoreOptions)(nil)

// StoreOptions selects where the serialized snapshot is kept.
type StoreOptions struct {
	// Backend is one of memory, sqlite, redis or s3.
	Backend string `json:"backend" mapstructure:"backend"`

	// Key names the snapshot inside the backend.
	Key string `json:"key" mapstructure:"key"`
}

func NewStoreOptions() *StoreOptions {
	return &StoreOptions{
		Backend: StoreBackendSQLite,
		Key:     "PodState",
	}
}

func (o *StoreOptions) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	if !slices.Contains(storeBackends, o.Backend) {
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q, want one of %v", o.Backend, storeBackends))
	}
	if o.Key == "" {
		errs = append(errs, fmt.Errorf("store.key is required"))
	}
	return errs
}

func (o *StoreOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Backend, "store.backend", o.Backend, fmt.Sprintf("Snapshot store backend, one of %v.", storeBackends))
	fs.StringVar(&o.Key, "store.key", o.Key, "Key under which the serialized pod state is stored.")
}
