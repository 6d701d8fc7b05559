// Package dispatch validates probe requests, routes them to the matching
// prober and shapes every outcome into a uniform response envelope.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/KilimcininKorOglu/netdiag/internal/governor"
	"github.com/KilimcininKorOglu/netdiag/internal/probe"
	"github.com/KilimcininKorOglu/netdiag/internal/trace"
	"github.com/KilimcininKorOglu/netdiag/internal/vendor"
)

// Operation names a dispatchable probe.
type Operation string

const (
	OpLookupVendor Operation = "lookup_vendor"
	OpCheckPort    Operation = "check_port"
	OpTraceRoute   Operation = "trace_route"
	OpPingOnce     Operation = "ping_once"
)

// VendorLookup resolves hardware addresses to vendors.
type VendorLookup interface {
	Lookup(ctx context.Context, mac string) (*vendor.Result, error)
}

// PortChecker probes a single TCP port.
type PortChecker interface {
	Check(ctx context.Context, target probe.Target) (*probe.PortResult, error)
}

// Pinger sends a single echo request.
type Pinger interface {
	Ping(ctx context.Context, host string) (*probe.ReachabilityResult, error)
}

// RouteTracer starts streaming trace sessions.
type RouteTracer interface {
	Start(ctx context.Context, host string) (*trace.Session, error)
}

// Dispatcher routes requests to probers. It holds no per-request state and is
// safe for concurrent use.
type Dispatcher struct {
	vendors VendorLookup
	ports   PortChecker
	pinger  Pinger
	tracer  RouteTracer
	log     zerolog.Logger
}

// Options holds the probers a Dispatcher routes to. A nil prober makes its
// operation fail with an internal error.
type Options struct {
	Vendors VendorLookup
	Ports   PortChecker
	Pinger  Pinger
	Tracer  RouteTracer
	Logger  *zerolog.Logger
}

// New creates a new Dispatcher.
func New(opts Options) *Dispatcher {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Dispatcher{
		vendors: opts.Vendors,
		ports:   opts.Ports,
		pinger:  opts.Pinger,
		tracer:  opts.Tracer,
		log:     logger.With().Str("component", "dispatch").Logger(),
	}
}

// errUnavailable reports an operation whose prober was not configured.
var errUnavailable = errors.New("operation not available")

// LookupVendor resolves the "mac" parameter to a vendor name.
func (d *Dispatcher) LookupVendor(ctx context.Context, params Params) (resp Response) {
	defer d.recoverPanic(OpLookupVendor, &resp)

	mac, err := params.String("mac")
	if err != nil {
		return validation(err)
	}
	if d.vendors == nil {
		return d.internal(OpLookupVendor, errUnavailable)
	}

	result, err := d.vendors.Lookup(ctx, mac)
	switch {
	case err == nil:
		return Success(result)
	case errors.Is(err, vendor.ErrMissingMAC):
		return Failure(KindValidation, CodeMissingInput, err.Error())
	case errors.Is(err, vendor.ErrNotFound):
		return Failure(KindNotFound, CodeNotFound, err.Error())
	case ctx.Err() != nil:
		return d.canceled(OpLookupVendor, ctx.Err())
	case governor.IsTimeout(err):
		d.log.Warn().Str("op", string(OpLookupVendor)).Str("mac", mac).Err(err).Msg("Vendor lookup timed out")
		return Failure(KindTimeout, CodeLookupFailed, vendor.ErrLookupFailed.Error()+": upstream did not answer in time")
	default:
		d.log.Warn().Str("op", string(OpLookupVendor)).Str("mac", mac).Err(err).Msg("Vendor lookup failed")
		return Failure(KindUpstream, CodeLookupFailed, err.Error())
	}
}

// CheckPort probes the "host" (or "ip") and "port" parameters.
//
// Closed and timed-out ports are successful results.
func (d *Dispatcher) CheckPort(ctx context.Context, params Params) (resp Response) {
	defer d.recoverPanic(OpCheckPort, &resp)

	host, err := params.First("host", "ip")
	if err != nil {
		return validation(err)
	}
	port, err := params.Port("port")
	if err != nil {
		return validation(err)
	}
	if d.ports == nil {
		return d.internal(OpCheckPort, errUnavailable)
	}

	result, err := d.ports.Check(ctx, probe.Target{Host: host, Port: port})
	switch {
	case err == nil:
		return Success(result)
	case errors.Is(err, probe.ErrMissingHost), errors.Is(err, probe.ErrInvalidPort):
		return Failure(KindValidation, CodeInvalidInput, err.Error())
	case ctx.Err() != nil:
		return d.canceled(OpCheckPort, ctx.Err())
	default:
		return d.internal(OpCheckPort, err)
	}
}

// PingOnce sends one echo request to the "host" parameter.
//
// No reply is a successful result with alive=false; failing to probe at all
// is a PROBE_FAILED error.
func (d *Dispatcher) PingOnce(ctx context.Context, params Params) (resp Response) {
	defer d.recoverPanic(OpPingOnce, &resp)

	host, err := params.String("host")
	if err != nil {
		return validation(err)
	}
	if d.pinger == nil {
		return d.internal(OpPingOnce, errUnavailable)
	}

	result, err := d.pinger.Ping(ctx, host)
	switch {
	case err == nil:
		return Success(result)
	case errors.Is(err, probe.ErrMissingHost):
		return Failure(KindValidation, CodeMissingInput, err.Error())
	case ctx.Err() != nil:
		return d.canceled(OpPingOnce, ctx.Err())
	case probe.IsPermissionError(err):
		d.log.Warn().Str("op", string(OpPingOnce)).Str("host", host).Err(err).Msg("ICMP socket not permitted")
		return Failure(KindProbe, CodeProbeFailed, err.Error()+"; run as root or use the goping backend")
	default:
		d.log.Warn().Str("op", string(OpPingOnce)).Str("host", host).Err(err).Msg("Ping could not be sent")
		return Failure(KindProbe, CodeProbeFailed, err.Error())
	}
}

// TraceRoute validates the "host" parameter and starts a trace.
//
// Exactly one of the session and the error envelope is non-nil. Once the
// session exists, all further failures are reported in its event stream.
func (d *Dispatcher) TraceRoute(ctx context.Context, params Params) (session *trace.Session, resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			session = nil
			failed := d.panicked(OpTraceRoute, r)
			resp = &failed
		}
	}()

	fail := func(r Response) (*trace.Session, *Response) {
		return nil, &r
	}

	host, err := params.First("host", "ip")
	if err != nil {
		return fail(validation(err))
	}
	if d.tracer == nil {
		return fail(d.internal(OpTraceRoute, errUnavailable))
	}

	session, err = d.tracer.Start(ctx, host)
	switch {
	case err == nil:
		d.log.Debug().Str("op", string(OpTraceRoute)).Str("host", session.Host()).Msg("Trace started")
		return session, nil
	case errors.Is(err, trace.ErrMissingHost):
		return fail(Failure(KindValidation, CodeMissingInput, err.Error()))
	case errors.Is(err, trace.ErrInvalidHost):
		return fail(Failure(KindValidation, CodeInvalidInput, err.Error()))
	default:
		return fail(d.internal(OpTraceRoute, err))
	}
}

// TraceTranscript is the collected output of a finished trace.
type TraceTranscript struct {
	Host   string        `json:"host"`
	State  string        `json:"state"`
	Output string        `json:"output"`
	Events []trace.Event `json:"events"`
}

// Dispatch runs op to completion and returns its envelope. Trace routes are
// collected into a TraceTranscript.
func (d *Dispatcher) Dispatch(ctx context.Context, op Operation, params Params) Response {
	start := time.Now()
	resp := d.dispatch(ctx, op, params)

	event := d.log.Debug()
	if !resp.OK {
		event = d.log.Info().Str("error_kind", string(resp.ErrorKind)).Str("code", string(resp.Code))
	}
	event.Str("op", string(op)).Bool("ok", resp.OK).Dur("duration", time.Since(start)).Msg("Request dispatched")

	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, op Operation, params Params) Response {
	switch op {
	case OpLookupVendor:
		return d.LookupVendor(ctx, params)
	case OpCheckPort:
		return d.CheckPort(ctx, params)
	case OpPingOnce:
		return d.PingOnce(ctx, params)
	case OpTraceRoute:
		session, failed := d.TraceRoute(ctx, params)
		if failed != nil {
			return *failed
		}
		events := trace.Collect(session.Events())
		return Success(&TraceTranscript{
			Host:   session.Host(),
			State:  session.Wait().String(),
			Output: trace.Transcript(events),
			Events: events,
		})
	default:
		return Failure(KindValidation, CodeInvalidInput, fmt.Sprintf("unknown operation %q", op))
	}
}

// ParseOperation maps a user-facing name (e.g. "check-port") to an Operation.
func ParseOperation(name string) (Operation, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	switch Operation(key) {
	case OpLookupVendor, "vendor", "mac_vendor":
		return OpLookupVendor, nil
	case OpCheckPort, "port":
		return OpCheckPort, nil
	case OpTraceRoute, "trace", "traceroute":
		return OpTraceRoute, nil
	case OpPingOnce, "ping":
		return OpPingOnce, nil
	}
	return "", fmt.Errorf("unknown operation %q", name)
}

// validation converts a parameter error into a validation envelope.
func validation(err error) Response {
	var pe *paramError
	if errors.As(err, &pe) {
		return pe.response()
	}
	return Failure(KindValidation, CodeInvalidInput, err.Error())
}

func (d *Dispatcher) canceled(op Operation, err error) Response {
	d.log.Debug().Str("op", string(op)).Err(err).Msg("Request canceled by caller")
	return Failure(KindInternal, CodeInternal, "request canceled")
}

func (d *Dispatcher) internal(op Operation, err error) Response {
	d.log.Error().Str("op", string(op)).Err(err).Msg("Request failed")
	return Failure(KindInternal, CodeInternal, err.Error())
}

// recoverPanic converts a prober panic into an internal error envelope.
func (d *Dispatcher) recoverPanic(op Operation, resp *Response) {
	if r := recover(); r != nil {
		*resp = d.panicked(op, r)
	}
}

func (d *Dispatcher) panicked(op Operation, r any) Response {
	d.log.Error().
		Str("op", string(op)).
		Interface("panic", r).
		Bytes("stack", debug.Stack()).
		Msg("Prober panicked")
	return Failure(KindInternal, CodeInternal, "internal error")
}
