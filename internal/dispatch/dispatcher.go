// Package dispatch delivers envelopes to one agent, to every agent, or to a group.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/remote-agent-hub/backend/internal/model"
	"github.com/remote-agent-hub/backend/internal/registry"
)

const defaultConcurrency = 32

// Report is the outcome of a fan-out. Failed agents have been evicted.
type Report struct {
	Delivered int      `json:"delivered"`
	Failed    []string `json:"failed,omitempty"`
}

// Options tunes a Dispatcher.
type Options struct {
	// Concurrency bounds how many sends a broadcast runs at once.
	Concurrency int
}

// Dispatcher sends envelopes through the handles held by a Registry.
// Sends are fire-and-forget: success means the frame was written, nothing more.
type Dispatcher struct {
	registry    *registry.Registry
	logger      *slog.Logger
	concurrency int

	delivered metric.Int64Counter
	failed    metric.Int64Counter
}

// New creates a Dispatcher over reg.
func New(reg *registry.Registry, logger *slog.Logger, opts Options) *Dispatcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}

	meter := otel.Meter("github.com/remote-agent-hub/backend/internal/dispatch")
	delivered, err := meter.Int64Counter("hub.dispatch.delivered",
		metric.WithDescription("Envelopes written to an agent connection"))
	if err != nil {
		logger.Warn("failed to create delivered counter", "error", err)
	}
	failed, err := meter.Int64Counter("hub.dispatch.failed",
		metric.WithDescription("Envelope sends that failed and evicted the agent"))
	if err != nil {
		logger.Warn("failed to create failed counter", "error", err)
	}

	return &Dispatcher{
		registry:    reg,
		logger:      logger.With("component", "dispatcher"),
		concurrency: opts.Concurrency,
		delivered:   delivered,
		failed:      failed,
	}
}

// SendTo writes env to one agent. An unknown agent fails with
// model.ErrAgentNotFound and changes nothing; a transport failure evicts the
// agent and fails with model.ErrTransportSendFailure.
func (d *Dispatcher) SendTo(ctx context.Context, agentID string, env *model.Envelope) error {
	handle, err := d.registry.Lookup(agentID)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode %s envelope: %w", env.Type, err)
	}
	return d.send(ctx, agentID, handle, env.Type, data)
}

// Broadcast writes env to every agent registered when the call starts,
// except exclude. Failures do not stop the remaining sends.
func (d *Dispatcher) Broadcast(ctx context.Context, env *model.Envelope, exclude string) (Report, error) {
	return d.fanOut(ctx, d.registry.SnapshotActive(), env, exclude)
}

// BroadcastToGroup is Broadcast scoped to the members of group. A group that
// was never created fails with model.ErrGroupNotFound; an empty group
// succeeds with no recipients.
func (d *Dispatcher) BroadcastToGroup(ctx context.Context, group string, env *model.Envelope, exclude string) (Report, error) {
	entries, err := d.registry.GroupEntries(group)
	if err != nil {
		return Report{}, err
	}
	return d.fanOut(ctx, entries, env, exclude)
}

func (d *Dispatcher) fanOut(ctx context.Context, entries []registry.Entry, env *model.Envelope, exclude string) (Report, error) {
	data, err := env.Encode()
	if err != nil {
		return Report{}, fmt.Errorf("failed to encode %s envelope: %w", env.Type, err)
	}

	var (
		mu     sync.Mutex
		report Report
	)
	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)

	for _, entry := range entries {
		if entry.ID == exclude {
			continue
		}
		g.Go(func() error {
			err := d.send(ctx, entry.ID, entry.Handle, env.Type, data)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, entry.ID)
			} else {
				report.Delivered++
			}
			return nil
		})
	}
	g.Wait()

	sort.Strings(report.Failed)
	d.logger.Debug("broadcast complete",
		"type", env.Type,
		"targets", len(entries),
		"delivered", report.Delivered,
		"failed", len(report.Failed))
	return report, nil
}

func (d *Dispatcher) send(ctx context.Context, agentID string, handle registry.Handle, msgType model.MessageType, data []byte) error {
	attrs := metric.WithAttributes(attribute.String("type", string(msgType)))

	if err := handle.Send(data); err != nil {
		evicted := d.registry.Release(agentID, handle)
		handle.Close()
		if d.failed != nil {
			d.failed.Add(ctx, 1, attrs)
		}
		d.logger.Warn("send failed, agent evicted",
			"agent", agentID,
			"type", msgType,
			"evicted", evicted,
			"error", err)
		return fmt.Errorf("%w: agent %s: %w", model.ErrTransportSendFailure, agentID, err)
	}

	if d.delivered != nil {
		d.delivered.Add(ctx, 1, attrs)
	}
	return nil
}
