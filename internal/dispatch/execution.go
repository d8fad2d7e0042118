package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

// executor runs a route's handler chain. It is stateless across requests;
// all per-request bookkeeping lives in the invocation records it returns.
type executor struct {
	timeout  time.Duration // per-handler; 0 disables
	parallel bool
	logger   *slog.Logger
}

// invocation is the outcome of one handler call.
type invocation struct {
	index    int
	name     string
	output   *HandlerOutput
	err      error
	duration time.Duration
}

// failed reports whether the invocation ended in any handler-level fault:
// an error, a panic, a timeout, or a structurally invalid output.
func (inv *invocation) failed() bool { return inv.err != nil }

// run executes the chain and returns either the terminal response (success
// payload or abort response) or the invocation selected as the failure.
func (e *executor) run(ctx context.Context, handlers []Handler, input *PipelineInput) (*Response, *invocation) {
	// An empty chain is a valid no-op in both modes. conc rejects a pool
	// limit below 1, so this must not reach runParallel.
	if len(handlers) == 0 {
		return successResponse(nil), nil
	}
	if e.parallel {
		return e.runParallel(ctx, handlers, input)
	}
	return e.runSerial(ctx, handlers, input)
}

// runSerial awaits each handler in declared order. The last defined result
// wins; an abort output terminates immediately with its response; a failure
// stops the chain without disturbing handlers that already completed.
func (e *executor) runSerial(ctx context.Context, handlers []Handler, input *PipelineInput) (*Response, *invocation) {
	var current any
	for i, h := range handlers {
		inv := e.invoke(ctx, i, h, input)
		if inv.failed() {
			return nil, inv
		}
		if inv.output == nil {
			continue
		}
		if inv.output.Abort {
			return inv.output.Response, nil
		}
		if inv.output.Result != nil {
			current = inv.output.Result
		}
	}
	return successResponse(current), nil
}

// runParallel invokes every handler concurrently against the same frozen
// input. Scheduling is unordered, but selection is deterministic: the
// reported failure is the lowest-index faulted invocation regardless of
// completion order, and the success payload is the last defined result in
// declared order.
func (e *executor) runParallel(ctx context.Context, handlers []Handler, input *PipelineInput) (*Response, *invocation) {
	invocations := make([]*invocation, len(handlers))

	p := pool.New().WithMaxGoroutines(len(handlers))
	for i, h := range handlers {
		p.Go(func() {
			invocations[i] = e.invoke(ctx, i, h, input)
		})
	}
	p.Wait()

	for _, inv := range invocations {
		if inv.failed() {
			return nil, inv
		}
	}
	// A valid abort envelope wins over plain results, lowest index first.
	for _, inv := range invocations {
		if inv.output != nil && inv.output.Abort {
			return inv.output.Response, nil
		}
	}
	var current any
	for _, inv := range invocations {
		if inv.output != nil && inv.output.Result != nil {
			current = inv.output.Result
		}
	}
	return successResponse(current), nil
}

// invoke runs one handler with panic isolation, the per-handler timeout, and
// output-shape validation. A timeout abandons the logical wait only; the
// handler goroutine is not forcibly terminated.
func (e *executor) invoke(ctx context.Context, index int, h Handler, input *PipelineInput) *invocation {
	inv := &invocation{index: index, name: h.Name}
	start := time.Now()

	type settled struct {
		output *HandlerOutput
		err    error
	}
	done := make(chan settled, 1)
	go func() {
		var out *HandlerOutput
		var err error
		recovered := panics.Try(func() {
			out, err = h.Fn(ctx, input)
		})
		if recovered != nil {
			err = fmt.Errorf("handler %q panicked: %v", h.Name, recovered.Value)
		}
		done <- settled{output: out, err: err}
	}()

	if e.timeout > 0 {
		timer := time.NewTimer(e.timeout)
		defer timer.Stop()
		select {
		case s := <-done:
			inv.output, inv.err = s.output, s.err
		case <-timer.C:
			inv.err = fmt.Errorf("handler %q timed out after %s", h.Name, e.timeout)
		case <-ctx.Done():
			inv.err = fmt.Errorf("handler %q abandoned: %w", h.Name, ctx.Err())
		}
	} else {
		select {
		case s := <-done:
			inv.output, inv.err = s.output, s.err
		case <-ctx.Done():
			inv.err = fmt.Errorf("handler %q abandoned: %w", h.Name, ctx.Err())
		}
	}
	inv.duration = time.Since(start)

	if inv.err == nil && inv.output != nil {
		if err := validateOutput(inv.output); err != nil {
			inv.output = nil
			inv.err = fmt.Errorf("handler %q returned an invalid response: %w", h.Name, err)
		}
	}
	if inv.err != nil {
		e.logger.ErrorContext(ctx, "handler failed",
			slog.Int("handler_index", inv.index),
			slog.String("handler_name", inv.name),
			slog.Duration("duration", inv.duration),
			slog.String("error", inv.err.Error()))
	}
	return inv
}

// validateOutput checks the structural contract of a handler return: an
// abort envelope must carry a response, and a result must be acyclic. Cycle
// detection is an explicit visited-reference scan, never serialization.
func validateOutput(out *HandlerOutput) error {
	if out.Abort && out.Response == nil {
		return fmt.Errorf("abort envelope is missing its response")
	}
	if !out.Abort && out.Result != nil && hasCycle(out.Result) {
		return fmt.Errorf("result contains a reference cycle")
	}
	return nil
}

func successResponse(result any) *Response {
	if result == nil {
		result = map[string]any{}
	}
	return &Response{OK: true, Status: http.StatusOK, Data: result}
}
