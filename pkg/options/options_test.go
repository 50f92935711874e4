package options

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	groups := map[string]IOptions{
		"http":     NewHttpOptions(),
		"s3":       NewS3Options(),
		"sqlite":   NewSQLiteOptions(),
		"redis":    NewRedisOptions(),
		"store":    NewStoreOptions(),
		"podstate": NewPodStateOptions(),
		"mqtt":     NewMqttOptions(),
	}
	for name, o := range groups {
		t.Run(name, func(t *testing.T) {
			assert.Empty(t, o.Validate())
		})
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"127.0.0.1:8088", false},
		{":8088", false},
		{"localhost", true},
		{"host:port", true},
		{"host:70000", true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			err := ValidateAddress(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPodStateOptionsFlags(t *testing.T) {
	o := NewPodStateOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"--podstate.uncertain-deadline=90s",
		"--podstate.persist-attempts=5",
	}))
	assert.Equal(t, 90*time.Second, o.UncertainDeadline)
	assert.Equal(t, 5, o.PersistAttempts)

	o.UncertainDeadline = 0
	o.PersistAttempts = 0
	assert.Len(t, o.Validate(), 2)
}

func TestStoreOptionsRejectsUnknownBackend(t *testing.T) {
	o := NewStoreOptions()
	o.Backend = "floppy"
	assert.Len(t, o.Validate(), 1)
}

func TestMqttOptionsOnlyValidatedWhenEnabled(t *testing.T) {
	o := NewMqttOptions()
	o.Broker = ""
	assert.Empty(t, o.Validate())

	o.Enabled = true
	assert.NotEmpty(t, o.Validate())

	o.Broker = "tcp://broker:1883"
	cfg := o.ToClientConfig("ingress")
	assert.Equal(t, "podstate-agent-ingress", cfg.ClientID)
	assert.Equal(t, uint16(60), cfg.KeepAlive)
}
