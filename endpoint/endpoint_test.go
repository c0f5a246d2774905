// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package endpoint

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/z5labs/anvil/health"
	"github.com/z5labs/anvil/internal/fixedpool"
	"github.com/z5labs/anvil/metrics"
	"github.com/z5labs/anvil/request"
	"github.com/z5labs/anvil/service"

	"github.com/stretchr/testify/require"
)

func ok(body string) Handler {
	return HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
		return request.Bytes(http.StatusOK, "text/plain", []byte(body)), nil
	})
}

func pipeline(reg *Registry, d *Dispatcher) request.Service {
	return service.Apply[request.Service, request.Service](NewRoutingLayer(reg), d)
}

func do(t *testing.T, svc request.Service, method, target string) *http.Response {
	t.Helper()

	w := httptest.NewRecorder()
	request.NewHandler(svc).ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w.Result()
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()

	b, err := io.ReadAll(resp.Body)
	require.Nil(t, err)
	return string(b)
}

func TestJoinPath(t *testing.T) {
	testCases := []struct {
		Prefix  string
		Pattern string
		Want    string
	}{
		{Prefix: "", Pattern: "/echo", Want: "/echo"},
		{Prefix: "/", Pattern: "/echo", Want: "/echo"},
		{Prefix: "/app", Pattern: "/echo", Want: "/app/echo"},
		{Prefix: "/app/", Pattern: "echo/", Want: "/app/echo/"},
		{Prefix: "app", Pattern: "/{$}", Want: "/app/{$}"},
	}

	for _, testCase := range testCases {
		t.Run("will join "+testCase.Prefix+" and "+testCase.Pattern, func(t *testing.T) {
			require.Equal(t, testCase.Want, JoinPath(testCase.Prefix, testCase.Pattern))
		})
	}
}

func TestRegistry_Register(t *testing.T) {
	t.Run("will return a DuplicateEndpointError if method and pattern are already registered", func(t *testing.T) {
		reg := NewRegistry()
		require.Nil(t, reg.Register("", false, Endpoint{Method: http.MethodGet, Pattern: "/a", Handler: ok("")}))

		err := reg.Register("", false, Endpoint{Method: http.MethodGet, Pattern: "/a", Handler: ok("")})

		var derr DuplicateEndpointError
		require.ErrorAs(t, err, &derr)
		require.Equal(t, "/a", derr.Pattern)
	})

	t.Run("will return a PatternConflictError if the mux rejects the pattern", func(t *testing.T) {
		reg := NewRegistry()

		err := reg.Register("", false, Endpoint{Method: http.MethodGet, Pattern: "/{bad", Handler: ok("")})

		var perr PatternConflictError
		require.ErrorAs(t, err, &perr)
		require.Empty(t, reg.Endpoints())
	})

	t.Run("will return a MissingHandlerError if the endpoint has no handler", func(t *testing.T) {
		reg := NewRegistry()

		err := reg.Register("", false, Endpoint{Pattern: "/a"})

		var merr MissingHandlerError
		require.ErrorAs(t, err, &merr)
	})

	t.Run("will return ErrRegistryFrozen once frozen", func(t *testing.T) {
		reg := NewRegistry()
		reg.Freeze()

		err := reg.Register("", false, Endpoint{Pattern: "/a", Handler: ok("")})
		require.ErrorIs(t, err, ErrRegistryFrozen)
		require.True(t, reg.Frozen())
	})

	t.Run("will default the name and apply the prefix and blocking flag", func(t *testing.T) {
		reg := NewRegistry()

		err := reg.Register("/api", true, Endpoint{Method: http.MethodPost, Pattern: "/echo", Handler: ok("")})
		require.Nil(t, err)

		eps := reg.Endpoints()
		require.Len(t, eps, 1)
		require.Equal(t, "POST /api/echo", eps[0].Name)
		require.Equal(t, "/api/echo", eps[0].Pattern)
		require.True(t, eps[0].Blocking)
	})
}

func TestRoutingLayer(t *testing.T) {
	newPipeline := func(t *testing.T) request.Service {
		reg := NewRegistry()
		err := reg.Register("", false,
			Endpoint{
				Name:    "user",
				Method:  http.MethodGet,
				Pattern: "/users/{id}",
				Handler: HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
					route, _ := request.RouteFromContext(ctx)
					return request.Bytes(http.StatusOK, "", []byte(route.Name+":"+r.PathValue("id"))), nil
				}),
			},
			Endpoint{Method: http.MethodGet, Pattern: "/dir/", Handler: ok("dir")},
		)
		require.Nil(t, err)
		reg.Freeze()

		return pipeline(reg, NewDispatcher(fixedpool.New(1, 0)))
	}

	t.Run("will route to the matched endpoint with its path values", func(t *testing.T) {
		resp := do(t, newPipeline(t), http.MethodGet, "/users/42")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "user:42", body(t, resp))
	})

	t.Run("will respond 404 if no pattern matches", func(t *testing.T) {
		resp := do(t, newPipeline(t), http.MethodGet, "/nope")
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("will respond 405 with an Allow header if only the method differs", func(t *testing.T) {
		resp := do(t, newPipeline(t), http.MethodDelete, "/users/42")
		require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		require.Contains(t, resp.Header.Get("Allow"), http.MethodGet)
	})

	t.Run("will surface mux redirects as-is", func(t *testing.T) {
		resp := do(t, newPipeline(t), http.MethodGet, "/dir")
		require.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
		require.Equal(t, "/dir/", resp.Header.Get("Location"))
	})

	t.Run("will attach a route to requests which matched nothing", func(t *testing.T) {
		reg := NewRegistry()

		var route request.Route
		svc := service.Apply[request.Service, request.Service](
			NewRoutingLayer(reg),
			request.HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
				route, _ = request.RouteFromContext(ctx)
				return nil, nil
			}),
		)

		do(t, svc, http.MethodGet, "/missing")
		require.Equal(t, RouteNotFound, route.Name)
	})
}

func TestDispatcher(t *testing.T) {
	t.Run("will run blocking endpoints on the pool", func(t *testing.T) {
		pool := fixedpool.New(2, 0)
		defer pool.Shutdown(context.Background())

		var active atomic.Int64
		reg := NewRegistry()
		err := reg.Register("", true, Endpoint{
			Pattern: "/work",
			Handler: HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
				active.Store(pool.Active())
				return nil, nil
			}),
		})
		require.Nil(t, err)

		resp := do(t, pipeline(reg, NewDispatcher(pool)), http.MethodGet, "/work")
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		require.Equal(t, int64(1), active.Load())
	})

	t.Run("will queue rather than reject when every worker is busy", func(t *testing.T) {
		pool := fixedpool.New(2, 4)
		defer pool.Shutdown(context.Background())

		reg := NewRegistry()
		err := reg.Register("", true, Endpoint{
			Pattern: "/slow",
			Handler: HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
				time.Sleep(5 * time.Millisecond)
				return request.Bytes(http.StatusOK, "", []byte("done")), nil
			}),
		})
		require.Nil(t, err)
		svc := pipeline(reg, NewDispatcher(pool))

		var wg sync.WaitGroup
		statuses := make([]int, 16)
		for i := range statuses {
			wg.Add(1)
			go func() {
				defer wg.Done()
				statuses[i] = do(t, svc, http.MethodGet, "/slow").StatusCode
			}()
		}
		wg.Wait()

		for _, status := range statuses {
			require.Equal(t, http.StatusOK, status)
		}
	})

	t.Run("will respond 503 once the pool is shut down", func(t *testing.T) {
		pool := fixedpool.New(1, 0)
		require.Nil(t, pool.Shutdown(context.Background()))

		reg := NewRegistry()
		require.Nil(t, reg.Register("", true, Endpoint{Pattern: "/work", Handler: ok("")}))

		resp := do(t, pipeline(reg, NewDispatcher(pool)), http.MethodGet, "/work")
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("will respond 500 if a blocking endpoint panics", func(t *testing.T) {
		pool := fixedpool.New(1, 0)
		defer pool.Shutdown(context.Background())

		reg := NewRegistry()
		err := reg.Register("", true, Endpoint{
			Pattern: "/panic",
			Handler: HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
				panic("boom")
			}),
		})
		require.Nil(t, err)
		svc := pipeline(reg, NewDispatcher(pool))

		resp := do(t, svc, http.MethodGet, "/panic")
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		resp = do(t, svc, http.MethodGet, "/panic")
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})

	t.Run("will count responses and mark five hundreds", func(t *testing.T) {
		m := metrics.NewRegistry()
		recent := health.NewRecent(time.Minute)

		reg := NewRegistry()
		err := reg.Register("", false,
			Endpoint{Name: "good", Pattern: "/good", Handler: ok("")},
			Endpoint{
				Name:    "bad",
				Pattern: "/bad",
				Handler: HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
					return nil, errors.New("failed")
				}),
			},
		)
		require.Nil(t, err)
		svc := pipeline(reg, NewDispatcher(fixedpool.New(1, 0), DispatcherMetrics(m), FiveHundreds(recent)))

		require.Equal(t, http.StatusOK, do(t, svc, http.MethodGet, "/good").StatusCode)
		require.True(t, recent.Healthy(context.Background()))

		require.Equal(t, http.StatusInternalServerError, do(t, svc, http.MethodGet, "/bad").StatusCode)
		require.False(t, recent.Healthy(context.Background()))

		good := m.Counter(MetricResponses, metrics.Tag{Key: "endpoint", Value: "good"}, metrics.Tag{Key: "status", Value: "2xx"})
		bad := m.Counter(MetricResponses, metrics.Tag{Key: "endpoint", Value: "bad"}, metrics.Tag{Key: "status", Value: "5xx"})
		require.Equal(t, int64(1), good.Count())
		require.Equal(t, int64(1), bad.Count())
	})
}

func TestHTTP(t *testing.T) {
	t.Run("will buffer the response of a plain handler", func(t *testing.T) {
		h := HTTP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusTeapot)
			io.WriteString(w, "short and stout")
		}))

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		resp, err := h.Handle(r.Context(), r)
		require.Nil(t, err)
		require.Equal(t, http.StatusTeapot, resp.StatusCode)
		require.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	})
}
