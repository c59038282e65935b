// Package distributed routes chat-cancel and resume-request frames to
// whichever process instance actually owns the in-memory Session
// Controller for a given session name, in a multi-instance deployment
// behind a load balancer with no sticky routing. Grounded on the
// teacher's internal/streaming/distributed.go (DistributedCancelService:
// NATS request-reply, "stay silent unless you own the session" handler,
// ErrNoResponders/timeout both meaning "not found here"), extended from
// cancel-only to also route resume-request (§1: neither cancel nor
// resume depends on anything the Non-goals exclude, only on finding the
// owning process).
package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/eternisai/chatcore/internal/logger"
	"github.com/eternisai/chatcore/internal/session"
)

const requestTimeout = 5 * time.Second

// Registry resolves a session name to its locally-owned Controller, if
// this process happens to own it. Implemented by the process-wide
// session map in cmd/chatcored.
type Registry interface {
	Lookup(sessionName string) (*session.Controller, bool)
}

// actionRequest is the wire shape for both routed actions; the two
// subjects carry the same envelope, decoded by handleCancel and
// handleResumeQuery alike.
type actionRequest struct {
	SessionName string `json:"session_name"`
	RequestID   string `json:"request_id"`
}

// actionResponse reports whether the responding instance owns the
// session and, for resume, whether its copy of the request is still
// actively streaming.
type actionResponse struct {
	Found      bool   `json:"found"`
	Live       bool   `json:"live"`
	InstanceID string `json:"instance_id"`
}

// Router is the NATS-backed cross-instance routing service.
type Router struct {
	nc         *nats.Conn
	registry   Registry
	lg         *logger.Logger
	instanceID string

	cancelSubject string
	resumeSubject string

	cancelSub *nats.Subscription
	resumeSub *nats.Subscription
}

// NewRouter constructs a Router. Returns nil if nc is nil (NATS is an
// optional collaborator, §1: single-instance deployments run without
// it, matching the teacher's nil-safe DistributedCancelService).
func NewRouter(nc *nats.Conn, registry Registry, lg *logger.Logger, instanceID, cancelSubject, resumeSubject string) *Router {
	if nc == nil {
		return nil
	}
	return &Router{
		nc:            nc,
		registry:      registry,
		lg:            lg.WithComponent("distributed-router"),
		instanceID:    instanceID,
		cancelSubject: cancelSubject,
		resumeSubject: resumeSubject,
	}
}

// Start subscribes to both routed subjects.
func (r *Router) Start() error {
	cancelSub, err := r.nc.Subscribe(r.cancelSubject, r.handleCancel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.cancelSubject, err)
	}
	r.cancelSub = cancelSub

	resumeSub, err := r.nc.Subscribe(r.resumeSubject, r.handleResumeQuery)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.resumeSubject, err)
	}
	r.resumeSub = resumeSub

	r.lg.Info("distributed router started",
		slog.String("cancel_subject", r.cancelSubject),
		slog.String("resume_subject", r.resumeSubject),
		slog.String("instance_id", r.instanceID))
	return nil
}

// Stop drains both subscriptions.
func (r *Router) Stop() error {
	for _, sub := range []*nats.Subscription{r.cancelSub, r.resumeSub} {
		if sub == nil {
			continue
		}
		if err := sub.Drain(); err != nil {
			return fmt.Errorf("drain subscription: %w", err)
		}
	}
	return nil
}

// RequestCancel asks the cluster to cancel requestID on sessionName. If
// this instance owns the session it cancels locally and skips the
// network round trip.
func (r *Router) RequestCancel(ctx context.Context, sessionName, requestID string) (*actionResponse, error) {
	if ctrl, ok := r.registry.Lookup(sessionName); ok {
		ctrl.HandleChatCancel(requestID)
		return &actionResponse{Found: true, InstanceID: r.instanceID}, nil
	}
	return r.request(ctx, r.cancelSubject, sessionName, requestID)
}

// QueryResumeOwner asks the cluster whether any instance currently owns
// sessionName with requestID still live. No caller in this module
// invokes it: internal/session.Controller.HandleResumeAck finalizes an
// orphaned stream without consulting other instances.
func (r *Router) QueryResumeOwner(ctx context.Context, sessionName, requestID string) (*actionResponse, error) {
	return r.request(ctx, r.resumeSubject, sessionName, requestID)
}

func (r *Router) request(ctx context.Context, subject, sessionName, requestID string) (*actionResponse, error) {
	data, err := json.Marshal(actionRequest{SessionName: sessionName, RequestID: requestID})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	msg, err := r.nc.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			// No instance owns this session; not an error (§7: silent
			// if not found, matching the teacher's cancel semantics).
			return &actionResponse{Found: false, InstanceID: r.instanceID}, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("request %s: %w", subject, err)
	}

	var resp actionResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

// handleCancel processes an incoming cancel request. Silent if this
// instance doesn't own sessionName, so the owning instance (if any)
// replies instead.
func (r *Router) handleCancel(msg *nats.Msg) {
	var req actionRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.lg.Warn("received invalid cancel request", slog.String("error", err.Error()))
		return
	}
	ctrl, ok := r.registry.Lookup(req.SessionName)
	if !ok {
		return
	}
	ctrl.HandleChatCancel(req.RequestID)
	r.reply(msg, actionResponse{Found: true, InstanceID: r.instanceID})
}

// handleResumeQuery answers whether this instance owns sessionName and,
// if so, whether requestID is still actively streaming here.
func (r *Router) handleResumeQuery(msg *nats.Msg) {
	var req actionRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.lg.Warn("received invalid resume query", slog.String("error", err.Error()))
		return
	}
	ctrl, ok := r.registry.Lookup(req.SessionName)
	if !ok {
		return
	}
	snap := ctrl.Snapshot()
	live := snap.ActiveStreaming && snap.ActiveRequestID == req.RequestID
	r.reply(msg, actionResponse{Found: true, Live: live, InstanceID: r.instanceID})
}

func (r *Router) reply(msg *nats.Msg, resp actionResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		r.lg.LogError(context.Background(), err, "failed to marshal response")
		return
	}
	if err := msg.Respond(data); err != nil {
		r.lg.LogError(context.Background(), err, "failed to send response")
	}
}
