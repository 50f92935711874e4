package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*SQLiteOptions)(nil)

// SQLiteOptions configures the embedded SQLite snapshot backend.
type SQLiteOptions struct {
	// Path of the database file. Parent directories are created on open.
	Path string `json:"path" mapstructure:"path"`

	// BusyTimeout is how long a writer waits on a locked database.
	BusyTimeout time.Duration `json:"busy-timeout" mapstructure:"busy-timeout"`
}

func NewSQLiteOptions() *SQLiteOptions {
	return &SQLiteOptions{
		Path:        "/var/lib/podstate/podstate.db",
		BusyTimeout: 5 * time.Second,
	}
}

func (o *SQLiteOptions) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	if o.Path == "" {
		errs = append(errs, errors.New("sqlite.path is required"))
	}
	if o.BusyTimeout < 0 {
		errs = append(errs, errors.New("sqlite.busy-timeout must not be negative"))
	}
	return errs
}

func (o *SQLiteOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Path, "sqlite.path", o.Path, "Path of the SQLite database holding the pod state snapshot.")
	fs.DurationVar(&o.BusyTimeout, "sqlite.busy-timeout", o.BusyTimeout, "How long to wait for a locked SQLite database.")
}
