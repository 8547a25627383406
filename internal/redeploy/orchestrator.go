// Package redeploy implements the instance redeployment workflow: validate,
// resolve instance and node, verify the live container, invoke the node
// agent, reconcile the persisted views, and compensate on partial failure.
package redeploy

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sync"

	"github.com/skyportlabs/panel/internal/audit"
	"github.com/skyportlabs/panel/internal/metrics"
	"github.com/skyportlabs/panel/internal/node"
	"github.com/skyportlabs/panel/internal/store"
)

// imageNamePattern pulls the actual image reference out of the display form
// "Friendly Name (nginx:latest)".
var imageNamePattern = regexp.MustCompile(`\(([^)]+)\)`)

// NodeClient is the slice of the node agent API the orchestrator drives.
type NodeClient interface {
	ContainerExists(ctx context.Context, n store.Node, containerID string) error
	Redeploy(ctx context.Context, n store.Node, containerID string, payload node.RedeployPayload) (node.RedeployResult, error)
	RemoveContainer(ctx context.Context, n store.Node, containerID string) error
}

// Actor identifies who triggered the redeploy, for audit attribution.
type Actor struct {
	UserID   string
	Username string
	SourceIP string
}

// Result is returned to the caller on full success.
type Result struct {
	ContainerID string `json:"containerId"`
	VolumeID    string `json:"volumeId"`
	InstanceID  string `json:"instanceId"`
}

type Orchestrator struct {
	recs    *store.Records
	nodes   NodeClient
	updater *Updater
	audit   audit.Recorder
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewOrchestrator(recs *store.Records, nodes NodeClient, rec audit.Recorder, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		recs:    recs,
		nodes:   nodes,
		updater: NewUpdater(recs),
		audit:   rec,
		metrics: m,
		logger:  logger,
		locks:   map[string]*sync.Mutex{},
	}
}

// Redeploy runs the whole workflow for one instance. A per-instance mutex is
// held for the duration so two concurrent redeploys of the same id cannot
// race the verification read-back; different ids proceed independently.
func (o *Orchestrator) Redeploy(ctx context.Context, req Request, actor Actor) (Result, error) {
	unlock := o.lockInstance(req.InstanceID)
	defer unlock()

	inst, err := o.recs.Instance(ctx, req.InstanceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			o.record(ctx, actor, audit.EventRedeployFailNotFound, map[string]any{"instance_id": req.InstanceID})
			o.metrics.IncRedeployFailure("fetch_instance")
			return Result{}, failf(KindNotFound, "instance %s not found", req.InstanceID)
		}
		o.metrics.IncRedeployFailure("fetch_instance")
		return Result{}, &Error{Kind: KindPersistenceError, Message: "read instance record", Err: err}
	}

	if inst.Node.ID == "" {
		// Unlike a dangling node record below, this does not emit an audit event.
		o.metrics.IncRedeployFailure("fetch_instance")
		return Result{}, failf(KindInvalidState, "instance %s has no node assigned", req.InstanceID)
	}

	imageName := extractImageName(req.Image)
	if imageName == "" {
		o.metrics.IncRedeployFailure("build_payload")
		return Result{}, failf(KindInvalidInput, "image must contain the actual image name in parentheses")
	}

	n, err := o.recs.Node(ctx, inst.Node.ID)
	if err != nil {
		o.metrics.IncRedeployFailure("fetch_node")
		if errors.Is(err, store.ErrNotFound) {
			o.record(ctx, actor, audit.EventRedeployFailInvalidNode, map[string]any{
				"instance_id": req.InstanceID,
				"node_id":     inst.Node.ID,
			})
			return Result{}, failf(KindInvalidState, "node %s not found for instance %s", inst.Node.ID, req.InstanceID)
		}
		return Result{}, &Error{Kind: KindPersistenceError, Message: "read node record", Err: err}
	}

	if err := o.nodes.ContainerExists(ctx, n, inst.ContainerID); err != nil {
		o.record(ctx, actor, audit.EventRedeployFailCheck, map[string]any{
			"instance_id":  req.InstanceID,
			"container_id": inst.ContainerID,
			"error":        err.Error(),
		})
		o.metrics.IncRedeployFailure("verify_container")
		return Result{}, &Error{Kind: KindPreconditionFailed, Message: "container verification failed", Err: err}
	}

	payload, perr := BuildPayload(ctx, o.recs, imageName, req, inst.Env)
	if perr != nil {
		o.metrics.IncRedeployFailure("build_payload")
		return Result{}, perr
	}

	result, err := o.nodes.Redeploy(ctx, n, inst.ContainerID, payload)
	if err != nil {
		details := map[string]any{
			"instance_id":  req.InstanceID,
			"container_id": inst.ContainerID,
			"error":        err.Error(),
		}
		redeployErr := &Error{Kind: KindUpstreamError, Message: "node agent redeploy failed", Err: err}
		var upErr *node.UpstreamError
		if errors.As(err, &upErr) {
			details["status"] = upErr.Status
			details["body"] = upErr.Body
			redeployErr.UpstreamStatus = upErr.Status
			redeployErr.UpstreamBody = upErr.Body
		}
		o.record(ctx, actor, audit.EventRedeployFailAPI, details)
		o.metrics.IncRedeployFailure("invoke_redeploy")
		return Result{}, redeployErr
	}

	volumeID := result.VolumeID
	if volumeID == "" {
		volumeID = req.InstanceID
	}

	applyErr := o.updater.Apply(ctx, ApplyInput{
		InstanceID:  req.InstanceID,
		UserID:      req.User,
		Name:        req.Name,
		Node:        n,
		Image:       imageName,
		Memory:      req.Memory,
		CPU:         req.CPU,
		Ports:       req.Ports,
		Primary:     req.Primary,
		Env:         inst.Env,
		ImageData:   inst.ImageData,
		ContainerID: result.ContainerID,
		VolumeID:    volumeID,
	})
	if applyErr != nil {
		o.record(ctx, actor, audit.EventRedeployFailDB, map[string]any{
			"instance_id":      req.InstanceID,
			"new_container_id": result.ContainerID,
			"error":            applyErr.Error(),
		})
		o.metrics.IncRedeployFailure("persist_update")
		o.compensate(ctx, n, result.ContainerID)
		return Result{}, &Error{Kind: KindPersistenceError, Message: "instance record update failed", Err: applyErr}
	}

	o.record(ctx, actor, audit.EventRedeploy, map[string]any{
		"instance_id":      req.InstanceID,
		"new_container_id": result.ContainerID,
	})
	o.metrics.IncRedeploySuccess()
	o.logger.Info("instance_redeployed",
		slog.String("instance_id", req.InstanceID),
		slog.String("container_id", result.ContainerID),
		slog.String("node_id", n.ID),
	)

	return Result{ContainerID: result.ContainerID, VolumeID: volumeID, InstanceID: req.InstanceID}, nil
}

// compensate removes the container the redeploy just created. Failures are
// logged, never surfaced: the original persistence error stays terminal.
func (o *Orchestrator) compensate(ctx context.Context, n store.Node, containerID string) {
	if err := o.nodes.RemoveContainer(ctx, n, containerID); err != nil {
		o.logger.Warn("compensating_delete_failed",
			slog.String("container_id", containerID),
			slog.String("node_id", n.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	o.logger.Info("compensating_delete_completed",
		slog.String("container_id", containerID),
		slog.String("node_id", n.ID),
	)
}

func (o *Orchestrator) record(ctx context.Context, actor Actor, action string, details map[string]any) {
	o.audit.Record(ctx, audit.Event{
		Action:   action,
		ActorID:  actor.UserID,
		Actor:    actor.Username,
		SourceIP: actor.SourceIP,
		Details:  details,
	})
}

func (o *Orchestrator) lockInstance(id string) func() {
	o.mu.Lock()
	l, ok := o.locks[id]
	if !ok {
		l = &sync.Mutex{}
		o.locks[id] = l
	}
	o.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func extractImageName(image string) string {
	m := imageNamePattern.FindStringSubmatch(image)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
