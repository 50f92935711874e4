// Package mqtt is the MQTT ingress of status reports and command issuance hooks.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/autopeer-io/podstate/internal/pkg/metrics"
	"github.com/autopeer-io/podstate/internal/podstate/core"
	"github.com/autopeer-io/podstate/internal/podstate/model"
	"github.com/autopeer-io/podstate/pkg/log"
	pkgmqtt "github.com/autopeer-io/podstate/pkg/mqtt"
	"github.com/autopeer-io/podstate/pkg/mqtt/topic"
)

// StateHandler receives decoded messages.
type StateHandler interface {
	HandleStatusReport(ctx context.Context, report model.StatusReport) (model.ChangeSet, error)
	IssueTempBasal(ctx context.Context, cmd model.TempBasalCommand) (*model.UncertaintyToken, error)
}

// Server implements the MQTT ingress layer for one pod.
type Server struct {
	client  pkgmqtt.Client
	topics  *topic.Builder
	podID   string
	qos     int
	handler StateHandler
	log     log.Logger
}

// NewServer creates a new MQTT server (client).
func NewServer(client pkgmqtt.Client, builder *topic.Builder, podID string, qos int, handler StateHandler) *Server {
	return &Server{
		client:  client,
		topics:  builder,
		podID:   podID,
		qos:     qos,
		handler: handler,
		log:     log.WithName("mqtt-ingress").WithValues("podId", podID),
	}
}

// Start connects to the broker and subscribes to the pod topics.
func (s *Server) Start(ctx context.Context) error {
	if err := s.client.Start(ctx); err != nil {
		return err
	}

	// Ensure MQTT disconnects when Start exits.
	defer func() {
		s.log.Info("Disconnecting MQTT client...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.client.Disconnect(shutdownCtx)
		s.log.Info("MQTT client disconnected")
	}()

	// Subscriptions are registered up front; the client replays them on every (re)connect.
	if err := s.initSubscriptions(ctx); err != nil {
		return err
	}

	s.log.Info("Waiting for MQTT connection...")
	if err := s.client.AwaitConnection(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	s.log.Info("MQTT Connected")

	<-ctx.Done()
	return nil
}

func (s *Server) initSubscriptions(ctx context.Context) error {
	subscriptions := map[string]HandlerFunc{
		s.topics.Status(s.podID):        JSONAdapter(s.handleStatus),
		s.topics.CommandIssued(s.podID): JSONAdapter(s.handleCommandIssued),
	}

	for fullTopic, handler := range subscriptions {
		if err := s.client.Subscribe(ctx, fullTopic, s.qos, func(c context.Context, t string, p []byte) {
			if handleErr := handler(c, t, p); handleErr != nil {
				s.logHandlerError(handleErr, t)
			}
		}); err != nil {
			return fmt.Errorf("failed to subscribe to topic: %s, err: %w", fullTopic, err)
		}
	}
	return nil
}

func (s *Server) logHandlerError(err error, t string) {
	var decodeErr *core.DecodeError
	switch {
	case errors.As(err, &decodeErr):
		metrics.ReportsTotal.WithLabelValues("invalid").Inc()
		s.log.Error(err, "Rejected malformed message", "topic", t)
	case core.IsStale(err):
		s.log.Debug("Dropped stale status report", "topic", t, "error", err)
	case core.IsWarning(err):
		s.log.Warn("Message applied but not persisted", "topic", t, "error", err)
	default:
		s.log.Error(err, "Handler execution failed", "topic", t)
	}
}

func (s *Server) handleStatus(ctx context.Context, report model.StatusReport) error {
	changes, err := s.handler.HandleStatusReport(ctx, report)
	if !changes.Empty() {
		s.log.Debug("Status report reconciled", "changes", changes.Kinds())
	}
	return err
}

func (s *Server) handleCommandIssued(ctx context.Context, cmd model.TempBasalCommand) error {
	token, err := s.handler.IssueTempBasal(ctx, cmd)
	if token != nil {
		s.log.Debug("Tracking issued command", "token", token.ID, "deadline", token.Deadline)
	}
	return err
}
