package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/podstate/internal/podstate/core"
	"github.com/autopeer-io/podstate/internal/podstate/model"
	"github.com/autopeer-io/podstate/pkg/mqtt/mqtttest"
	"github.com/autopeer-io/podstate/pkg/mqtt/topic"
)

type recordingHandler struct {
	mu       sync.Mutex
	reports  []model.StatusReport
	commands []model.TempBasalCommand
}

func (h *recordingHandler) HandleStatusReport(_ context.Context, r model.StatusReport) (model.ChangeSet, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports = append(h.reports, r)
	return model.ChangeSet{model.TbrChanged}, nil
}

func (h *recordingHandler) IssueTempBasal(_ context.Context, cmd model.TempBasalCommand) (*model.UncertaintyToken, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, cmd)
	return &model.UncertaintyToken{ID: "t", Command: cmd}, nil
}

func (h *recordingHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.reports), len(h.commands)
}

func startServer(t *testing.T) (*mqtttest.Client, *recordingHandler) {
	t.Helper()
	client := mqtttest.NewClient()
	handler := &recordingHandler{}
	srv := NewServer(client, topic.NewBuilder("aaps/v1"), "pod-1", 1, handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
		assert.True(t, client.Stopped())
	})

	require.Eventually(t, func() bool { return len(client.Subscriptions()) == 2 }, time.Second, time.Millisecond)
	return client, handler
}

func TestIngressRoutesStatusAndCommands(t *testing.T) {
	client, handler := startServer(t)
	ctx := context.Background()

	assert.ElementsMatch(t, []string{"aaps/v1/pod/pod-1/status", "aaps/v1/pod/pod-1/command/issued"}, client.Subscriptions())

	report := `{"timestamp":"2026-03-01T08:00:00Z","temporaryBasal":{"rateUnitsPerHour":1.5,"durationMinutes":30,"startTime":"2026-03-01T07:59:00Z"},"activeAlerts":["b","a"]}`
	require.Equal(t, 1, client.Deliver(ctx, "aaps/v1/pod/pod-1/status", []byte(report)))

	cmd, err := json.Marshal(model.TempBasalCommand{Kind: model.CommandCancelTempBasal})
	require.NoError(t, err)
	require.Equal(t, 1, client.Deliver(ctx, "aaps/v1/pod/pod-1/command/issued", cmd))

	reports, commands := handler.counts()
	assert.Equal(t, 1, reports)
	assert.Equal(t, 1, commands)
	assert.Equal(t, model.AlertSet{"a", "b"}, handler.reports[0].ActiveAlerts)
	assert.Equal(t, 0, client.Deliver(ctx, "aaps/v1/pod/pod-2/status", []byte(report)), "other pods are ignored")
}

func TestIngressRejectsMalformedPayloads(t *testing.T) {
	client, handler := startServer(t)
	ctx := context.Background()

	client.Deliver(ctx, "aaps/v1/pod/pod-1/status", []byte("{garbage"))
	client.Deliver(ctx, "aaps/v1/pod/pod-1/status", []byte(`{"activeAlerts":[]}`))
	client.Deliver(ctx, "aaps/v1/pod/pod-1/command/issued", []byte(`{"kind":"SetTempBasal","rateUnitsPerHour":99,"durationMinutes":30}`))

	reports, commands := handler.counts()
	assert.Zero(t, reports)
	assert.Zero(t, commands)
}

func TestJSONAdapterReturnsDecodeError(t *testing.T) {
	called := false
	h := JSONAdapter(func(context.Context, model.StatusReport) error {
		called = true
		return nil
	})

	err := h(context.Background(), "some/topic", []byte("not json"))
	var decodeErr *core.DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, "some/topic", decodeErr.Source)
	assert.False(t, called)

	err = h(context.Background(), "some/topic", []byte(`{"timestamp":"2026-03-01T08:00:00Z"}`))
	assert.NoError(t, err)
	assert.True(t, called)
}
