// Package actuator executes remediation actions against the container
// runtime and verifies the post-state of each operation.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mainulhossain123/infra-autofix-agent/internal/incident"
	"github.com/mainulhossain123/infra-autofix-agent/internal/strategy"
)

// Error sentinels for the actuator error taxonomy.
var (
	ErrNotFound           = errors.New("container not found")
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")
	ErrPostStateMismatch  = errors.New("container not in desired state after action")
)

const (
	// graceTimeout is passed to the runtime for stop/restart.
	graceTimeout = 10 * time.Second
	// settleDelay is how long to wait before re-reading container
	// state to verify an action took effect.
	settleDelay = 2 * time.Second
)

// containerAPI is the slice of the Docker SDK the actuator needs.
// Tests inject fakes.
type containerAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
}

// Result is the outcome of one actuator operation. ExecutionTime spans
// from the initial container lookup through verification.
type Result struct {
	Success       bool
	ErrorMessage  string
	ExecutionTime time.Duration
}

// Ms returns the execution time in whole milliseconds.
func (r Result) Ms() int64 { return r.ExecutionTime.Milliseconds() }

// Actuator restarts, starts, and stops containers by name.
type Actuator struct {
	api    containerAPI
	clock  clockwork.Clock
	logger zerolog.Logger

	grace  time.Duration
	settle time.Duration
}

// New connects to the local container runtime via the environment
// (DOCKER_HOST et al.).
func New(clock clockwork.Clock, logger zerolog.Logger) (*Actuator, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return newWithAPI(cli, clock, logger), nil
}

func newWithAPI(api containerAPI, clock clockwork.Clock, logger zerolog.Logger) *Actuator {
	return &Actuator{
		api:    api,
		clock:  clock,
		logger: logger.With().Str("component", "actuator").Logger(),
		grace:  graceTimeout,
		settle: settleDelay,
	}
}

// Execute dispatches a decided action.
func (a *Actuator) Execute(ctx context.Context, action strategy.Action) Result {
	switch action.Type {
	case incident.ActionRestartContainer:
		return a.Restart(ctx, action.Target)
	case incident.ActionStartReplica:
		return a.StartReplica(ctx, action.Target)
	case incident.ActionStopReplica:
		return a.StopReplica(ctx, action.Target)
	case incident.ActionScaleReplicas:
		// Recognized but not supported against a bare runtime.
		return Result{ErrorMessage: "scale_replicas is not implemented"}
	default:
		return Result{ErrorMessage: fmt.Sprintf("unknown action type %q", action.Type)}
	}
}

// Restart restarts a container and verifies it is running afterwards.
// Unlike start/stop, restart always performs the runtime call.
func (a *Actuator) Restart(ctx context.Context, name string) Result {
	start := a.clock.Now()

	if _, err := a.inspect(ctx, name); err != nil {
		return a.fail(start, name, "restart", err)
	}

	a.logger.Info().Str("container", name).Msg("Restarting container")
	timeout := int(a.grace / time.Second)
	if err := a.api.ContainerRestart(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return a.fail(start, name, "restart", err)
	}

	return a.verify(ctx, start, name, "restart", stateRunning)
}

// StartReplica starts a stopped container. Starting an already-running
// container succeeds without touching the runtime.
func (a *Actuator) StartReplica(ctx context.Context, name string) Result {
	start := a.clock.Now()

	info, err := a.inspect(ctx, name)
	if err != nil {
		return a.fail(start, name, "start", err)
	}
	if status(info) == "running" {
		a.logger.Info().Str("container", name).Msg("Replica already running")
		return Result{Success: true, ExecutionTime: a.clock.Now().Sub(start)}
	}

	a.logger.Info().Str("container", name).Msg("Starting replica")
	if err := a.api.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return a.fail(start, name, "start", err)
	}

	return a.verify(ctx, start, name, "start", stateRunning)
}

// StopReplica stops a running container. Stopping an already-stopped
// container succeeds without touching the runtime.
func (a *Actuator) StopReplica(ctx context.Context, name string) Result {
	start := a.clock.Now()

	info, err := a.inspect(ctx, name)
	if err != nil {
		return a.fail(start, name, "stop", err)
	}
	if stateStopped(status(info)) {
		a.logger.Info().Str("container", name).Msg("Replica already stopped")
		return Result{Success: true, ExecutionTime: a.clock.Now().Sub(start)}
	}

	a.logger.Info().Str("container", name).Msg("Stopping replica")
	timeout := int(a.grace / time.Second)
	if err := a.api.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return a.fail(start, name, "stop", err)
	}

	return a.verify(ctx, start, name, "stop", stateStopped)
}

// ContainerStatus reports the current runtime status of a container.
func (a *Actuator) ContainerStatus(ctx context.Context, name string) (string, error) {
	info, err := a.inspect(ctx, name)
	if err != nil {
		return "", err
	}
	return status(info), nil
}

func (a *Actuator) inspect(ctx context.Context, name string) (container.InspectResponse, error) {
	info, err := a.api.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return info, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return info, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	return info, nil
}

// verify waits for the runtime to settle, re-reads state, and judges
// success by the desired post-state.
func (a *Actuator) verify(ctx context.Context, start time.Time, name, op string, want func(string) bool) Result {
	select {
	case <-a.clock.After(a.settle):
	case <-ctx.Done():
		return a.fail(start, name, op, ctx.Err())
	}

	info, err := a.inspect(ctx, name)
	if err != nil {
		return a.fail(start, name, op, err)
	}

	elapsed := a.clock.Now().Sub(start)
	st := status(info)
	if !want(st) {
		err := fmt.Errorf("%w: %q is %s after %s", ErrPostStateMismatch, name, st, op)
		a.logger.Error().Str("container", name).Str("status", st).Str("op", op).Msg("Post-state verification failed")
		return Result{ErrorMessage: err.Error(), ExecutionTime: elapsed}
	}

	a.logger.Info().Str("container", name).Str("op", op).Dur("took", elapsed).Msg("Action verified")
	return Result{Success: true, ExecutionTime: elapsed}
}

func (a *Actuator) fail(start time.Time, name, op string, err error) Result {
	a.logger.Error().Str("container", name).Str("op", op).Err(err).Msg("Action failed")
	return Result{
		ErrorMessage:  fmt.Sprintf("%s %q: %v", op, name, err),
		ExecutionTime: a.clock.Now().Sub(start),
	}
}

func status(info container.InspectResponse) string {
	if info.State == nil {
		return "unknown"
	}
	return info.State.Status
}

func stateRunning(status string) bool { return status == "running" }

func stateStopped(status string) bool {
	switch status {
	case "exited", "stopped", "created", "dead":
		return true
	default:
		return false
	}
}
