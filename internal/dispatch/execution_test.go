package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExecutor(parallel bool, timeout time.Duration) *executor {
	return &executor{
		timeout:  timeout,
		parallel: parallel,
		logger:   slog.Default(),
	}
}

func emptyInput() *PipelineInput {
	req := &Request{Method: "GET"}
	rc := newRequestContext(time.Now())
	return buildPipelineInput(req, rc, map[string]any{}, map[string]any{})
}

func namedHandler(name string, fn func(ctx context.Context, in *PipelineInput) (*HandlerOutput, error)) Handler {
	return Handler{Name: name, Fn: fn}
}

func TestSerialLastResultWins(t *testing.T) {
	e := testExecutor(false, 0)
	handlers := []Handler{
		namedHandler("first", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
			return &HandlerOutput{Result: map[string]any{"from": "first"}}, nil
		}),
		namedHandler("noop", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
			return nil, nil // leaves the current result untouched
		}),
		namedHandler("second", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
			return &HandlerOutput{Result: map[string]any{"from": "second"}}, nil
		}),
	}

	resp, failed := e.run(context.Background(), handlers, emptyInput())
	require.Nil(t, failed)
	require.True(t, resp.OK)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, map[string]any{"from": "second"}, resp.Data)
}

func TestSerialEmptyChainYieldsEmptyObject(t *testing.T) {
	e := testExecutor(false, 0)
	resp, failed := e.run(context.Background(), nil, emptyInput())
	require.Nil(t, failed)
	assert.True(t, resp.OK)
	assert.Equal(t, map[string]any{}, resp.Data)
}

func TestParallelEmptyChainYieldsEmptyObject(t *testing.T) {
	e := testExecutor(true, 0)

	assert.NotPanics(t, func() {
		resp, failed := e.run(context.Background(), []Handler{}, emptyInput())
		require.Nil(t, failed)
		assert.True(t, resp.OK)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, map[string]any{}, resp.Data)
	})
}

func TestSerialAbortShortCircuits(t *testing.T) {
	e := testExecutor(false, 0)
	abortResp := &Response{OK: false, Status: http.StatusForbidden}
	var thirdRan atomic.Bool

	handlers := []Handler{
		namedHandler("first", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
			return &HandlerOutput{Result: "x"}, nil
		}),
		namedHandler("gate", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
			return &HandlerOutput{Abort: true, Response: abortResp}, nil
		}),
		namedHandler("third", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
			thirdRan.Store(true)
			return nil, nil
		}),
	}

	resp, failed := e.run(context.Background(), handlers, emptyInput())
	require.Nil(t, failed)
	assert.Same(t, abortResp, resp, "abort response bypasses the standard envelope")
	assert.False(t, thirdRan.Load(), "handlers after the abort must not run")
}

func TestSerialFailureStopsChainButKeepsCompletedWork(t *testing.T) {
	e := testExecutor(false, 0)
	var completed atomic.Int32
	var thirdRan atomic.Bool

	handlers := []Handler{
		namedHandler("ok", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
			completed.Add(1)
			return &HandlerOutput{Result: "done"}, nil
		}),
		namedHandler("boom", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
			return nil, fmt.Errorf("exploded")
		}),
		namedHandler("after", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
			thirdRan.Store(true)
			return nil, nil
		}),
	}

	resp, failed := e.run(context.Background(), handlers, emptyInput())
	assert.Nil(t, resp)
	require.NotNil(t, failed)
	assert.Equal(t, 1, failed.index)
	assert.Equal(t, "boom", failed.name)
	assert.Contains(t, failed.err.Error(), "exploded")
	assert.Equal(t, int32(1), completed.Load())
	assert.False(t, thirdRan.Load())
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	e := testExecutor(false, 0)
	handlers := []Handler{
		namedHandler("panicky", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
			panic("kaboom")
		}),
	}

	resp, failed := e.run(context.Background(), handlers, emptyInput())
	assert.Nil(t, resp)
	require.NotNil(t, failed)
	assert.Contains(t, failed.err.Error(), "panicked")
	assert.Contains(t, failed.err.Error(), "kaboom")
}

func TestHandlerTimeout(t *testing.T) {
	e := testExecutor(false, 20*time.Millisecond)
	release := make(chan struct{})
	defer close(release)

	handlers := []Handler{
		namedHandler("slow", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
			<-release // simulates work the dispatcher cannot preempt
			return &HandlerOutput{Result: "late"}, nil
		}),
	}

	start := time.Now()
	resp, failed := e.run(context.Background(), handlers, emptyInput())
	assert.Nil(t, resp)
	require.NotNil(t, failed)
	assert.Contains(t, failed.err.Error(), "timed out")
	assert.Less(t, time.Since(start), 5*time.Second, "wait is abandoned, not served")
}

func TestZeroTimeoutDisablesTimer(t *testing.T) {
	e := testExecutor(false, 0)
	handlers := []Handler{
		namedHandler("slowish", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
			time.Sleep(30 * time.Millisecond)
			return &HandlerOutput{Result: "ok"}, nil
		}),
	}
	resp, failed := e.run(context.Background(), handlers, emptyInput())
	require.Nil(t, failed)
	assert.Equal(t, "ok", resp.Data)
}

func TestAbortEnvelopeMissingResponseIsAFault(t *testing.T) {
	e := testExecutor(false, 0)
	handlers := []Handler{
		namedHandler("bad-abort", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
			return &HandlerOutput{Abort: true}, nil
		}),
	}
	resp, failed := e.run(context.Background(), handlers, emptyInput())
	assert.Nil(t, resp)
	require.NotNil(t, failed)
	assert.Contains(t, failed.err.Error(), "invalid response")
}

func TestCyclicResultIsAFault(t *testing.T) {
	e := testExecutor(false, 0)
	handlers := []Handler{
		namedHandler("cyclic", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
			m := map[string]any{}
			m["self"] = m
			return &HandlerOutput{Result: m}, nil
		}),
	}
	resp, failed := e.run(context.Background(), handlers, emptyInput())
	assert.Nil(t, resp)
	require.NotNil(t, failed)
	assert.Contains(t, failed.err.Error(), "reference cycle")
}

func TestParallelFailureSelectionIsDeterministic(t *testing.T) {
	// With handlers [ok, fail, ok] under randomized completion order, the
	// reported failure is always index 1.
	for run := 0; run < 25; run++ {
		e := testExecutor(true, 0)
		jitter := func() { time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond) }
		handlers := []Handler{
			namedHandler("ok-0", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
				jitter()
				return &HandlerOutput{Result: "zero"}, nil
			}),
			namedHandler("fail-1", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
				jitter()
				return nil, fmt.Errorf("deliberate")
			}),
			namedHandler("ok-2", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
				jitter()
				return &HandlerOutput{Result: "two"}, nil
			}),
		}

		resp, failed := e.run(context.Background(), handlers, emptyInput())
		assert.Nil(t, resp)
		require.NotNil(t, failed)
		assert.Equal(t, 1, failed.index, "run %d selected wrong failure", run)
		assert.Equal(t, "fail-1", failed.name)
	}
}

func TestParallelResultSelectionByDeclaredOrder(t *testing.T) {
	// The success payload is the last defined result in declared index
	// order, regardless of completion order.
	for run := 0; run < 25; run++ {
		e := testExecutor(true, 0)
		handlers := []Handler{
			namedHandler("slow-0", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
				time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
				return &HandlerOutput{Result: "zero"}, nil
			}),
			namedHandler("noop-1", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
				return nil, nil
			}),
			namedHandler("fast-2", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
				return &HandlerOutput{Result: "two"}, nil
			}),
		}

		resp, failed := e.run(context.Background(), handlers, emptyInput())
		require.Nil(t, failed)
		assert.Equal(t, "two", resp.Data, "run %d", run)
	}
}

func TestParallelAllNoopYieldsEmptyObject(t *testing.T) {
	e := testExecutor(true, 0)
	handlers := []Handler{
		namedHandler("a", func(context.Context, *PipelineInput) (*HandlerOutput, error) { return nil, nil }),
		namedHandler("b", func(context.Context, *PipelineInput) (*HandlerOutput, error) { return nil, nil }),
	}
	resp, failed := e.run(context.Background(), handlers, emptyInput())
	require.Nil(t, failed)
	assert.Equal(t, map[string]any{}, resp.Data)
}

func TestParallelAbortWinsByLowestIndex(t *testing.T) {
	first := &Response{OK: false, Status: http.StatusForbidden}
	second := &Response{OK: false, Status: http.StatusConflict}
	e := testExecutor(true, 0)
	handlers := []Handler{
		namedHandler("abort-0", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
			time.Sleep(3 * time.Millisecond)
			return &HandlerOutput{Abort: true, Response: first}, nil
		}),
		namedHandler("abort-1", func(context.Context, *PipelineInput) (*HandlerOutput, error) {
			return &HandlerOutput{Abort: true, Response: second}, nil
		}),
	}
	resp, failed := e.run(context.Background(), handlers, emptyInput())
	require.Nil(t, failed)
	assert.Same(t, first, resp)
}

func TestParallelHandlersShareFrozenInput(t *testing.T) {
	rc := newRequestContext(time.Now())
	in := buildPipelineInput(&Request{Method: "GET"}, rc, map[string]any{"x": "orig"}, map[string]any{})

	e := testExecutor(true, 0)
	handlers := make([]Handler, 8)
	for i := range handlers {
		handlers[i] = namedHandler(fmt.Sprintf("reader-%d", i), func(_ context.Context, in *PipelineInput) (*HandlerOutput, error) {
			// Exported copies are private to each handler; mutating one
			// cannot be observed by any other.
			m := in.Validated().Export().(map[string]any)
			m["x"] = "mutated"
			if got := in.Validated().Field("x").String(); got != "orig" {
				return nil, fmt.Errorf("saw mutated input: %q", got)
			}
			return nil, nil
		})
	}
	_, failed := e.run(context.Background(), handlers, in)
	assert.Nil(t, failed)
}
