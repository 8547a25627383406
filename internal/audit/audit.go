// Package audit records panel activity as fire-and-forget events. Events are
// never read back by the panel; failures to deliver them are logged and
// otherwise ignored so they cannot affect control flow.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Event names follow the <resource>:<action>[:<detail>] convention.
const (
	EventRedeploy               = "instance:redeploy"
	EventRedeployFailNotFound   = "instance:redeploy_fail:not_found"
	EventRedeployFailInvalidNode = "instance:redeploy_fail:invalid_node"
	EventRedeployFailCheck      = "instance:redeploy_fail:container_check"
	EventRedeployFailAPI        = "instance:redeploy_fail:api_error"
	EventRedeployFailDB         = "instance:redeploy_fail:db_update"
)

type Event struct {
	Action   string         `json:"action"`
	ActorID  string         `json:"actor_id"`
	Actor    string         `json:"actor"`
	SourceIP string         `json:"source_ip"`
	Details  map[string]any `json:"details,omitempty"`
	Time     time.Time      `json:"time"`
}

type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// LogRecorder writes events to the structured log only. Used when no event
// bus is configured.
type LogRecorder struct {
	Logger *slog.Logger
}

func (r *LogRecorder) Record(_ context.Context, ev Event) {
	r.Logger.Info("audit_event",
		slog.String("action", ev.Action),
		slog.String("actor_id", ev.ActorID),
		slog.String("actor", ev.Actor),
		slog.String("source_ip", ev.SourceIP),
		slog.Any("details", ev.Details),
	)
}

// NATSRecorder publishes events to a NATS subject and mirrors them to the log.
type NATSRecorder struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

func NewNATSRecorder(url, subject string, logger *slog.Logger) (*NATSRecorder, error) {
	opts := []nats.Option{
		nats.Name("skyport-panel"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("audit_nats_disconnected", slog.String("error", errString(err)))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("audit_nats_reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NATSRecorder{nc: nc, subject: subject, logger: logger}, nil
}

func (r *NATSRecorder) Record(ctx context.Context, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	(&LogRecorder{Logger: r.logger}).Record(ctx, ev)

	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Warn("audit_marshal_failed", slog.String("error", err.Error()))
		return
	}
	if r.nc == nil || r.nc.IsClosed() {
		r.logger.Warn("audit_nats_unavailable", slog.String("action", ev.Action))
		return
	}
	if err := r.nc.Publish(r.subject, payload); err != nil {
		r.logger.Warn("audit_publish_failed", slog.String("action", ev.Action), slog.String("error", err.Error()))
	}
}

func (r *NATSRecorder) Close() {
	if r.nc != nil {
		_ = r.nc.Drain()
		r.nc.Close()
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
