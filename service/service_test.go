// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type trace []string

// tagLayer records its tag on the way in and on the way out.
func tagLayer(tag string, log *trace) Layer[Service[string, string], Service[string, string]] {
	return LayerFunc[Service[string, string], Service[string, string]](func(inner Service[string, string]) Service[string, string] {
		return ServiceFunc[string, string](func(ctx context.Context, req string) (string, error) {
			*log = append(*log, "in:"+tag)
			resp, err := inner.Handle(ctx, req+tag)
			*log = append(*log, "out:"+tag)
			return resp + tag, err
		})
	})
}

func echo() Service[string, string] {
	return ServiceFunc[string, string](func(_ context.Context, req string) (string, error) {
		return req + "|", nil
	})
}

func TestStack(t *testing.T) {
	t.Run("will be the identity", func(t *testing.T) {
		t.Run("if there are no layers", func(t *testing.T) {
			svc := Apply(Stack[Service[string, string]](), echo())

			resp, err := svc.Handle(context.Background(), "req")
			require.NoError(t, err)
			require.Equal(t, "req|", resp)
		})
	})

	t.Run("will run the first layer outermost", func(t *testing.T) {
		var log trace
		svc := Apply(
			Stack(tagLayer("a", &log), tagLayer("b", &log), tagLayer("c", &log)),
			echo(),
		)

		resp, err := svc.Handle(context.Background(), "")
		require.NoError(t, err)
		require.Equal(t, "abc|cba", resp)
		require.Equal(t, trace{"in:a", "in:b", "in:c", "out:c", "out:b", "out:a"}, log)
	})

	t.Run("will propagate inner errors outward", func(t *testing.T) {
		var log trace
		boom := errors.New("boom")
		inner := ServiceFunc[string, string](func(context.Context, string) (string, error) {
			return "", boom
		})
		svc := Apply(Stack(tagLayer("a", &log), tagLayer("b", &log)), Service[string, string](inner))

		_, err := svc.Handle(context.Background(), "")
		require.ErrorIs(t, err, boom)
		require.Equal(t, trace{"in:a", "in:b", "out:b", "out:a"}, log)
	})

	t.Run("will apply each layer exactly once", func(t *testing.T) {
		applied := 0
		counting := LayerFunc[Service[string, string], Service[string, string]](func(inner Service[string, string]) Service[string, string] {
			applied++
			return inner
		})
		svc := Apply(Stack[Service[string, string]](counting), echo())

		for range 3 {
			_, err := svc.Handle(context.Background(), "")
			require.NoError(t, err)
		}
		require.Equal(t, 1, applied)
	})
}

func TestStack_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tags := rapid.SliceOfN(rapid.StringMatching(`[a-z]`), 0, 8).Draw(t, "tags")

		var stacked, nested trace
		layers := make([]Layer[Service[string, string], Service[string, string]], len(tags))
		for i, tag := range tags {
			layers[i] = tagLayer(tag, &stacked)
		}
		svc := Apply(Stack(layers...), echo())

		// hand-built L1(L2(...Ln(T)))
		manual := echo()
		for i := len(tags) - 1; i >= 0; i-- {
			manual = tagLayer(tags[i], &nested).Layer(manual)
		}

		got, err := svc.Handle(context.Background(), "")
		if err != nil {
			t.Fatal(err)
		}
		want, err := manual.Handle(context.Background(), "")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("stacked response %q != nested response %q", got, want)
		}
		if strings.Join(stacked, ",") != strings.Join(nested, ",") {
			t.Fatalf("stacked order %v != nested order %v", stacked, nested)
		}
		if len(stacked) > 0 && stacked[0] != "in:"+tags[0] {
			t.Fatalf("first layer did not see the request first: %v", stacked)
		}
	})
}

func TestCompose(t *testing.T) {
	t.Run("will chain layers which change the service type", func(t *testing.T) {
		// Service[int, string] -> Service[string, string]
		parse := LayerFunc[Service[int, string], Service[string, string]](func(inner Service[int, string]) Service[string, string] {
			return ServiceFunc[string, string](func(ctx context.Context, req string) (string, error) {
				n, err := strconv.Atoi(req)
				if err != nil {
					return "", err
				}
				return inner.Handle(ctx, n)
			})
		})
		// Service[string, string] -> Service[[]byte, string]
		decode := LayerFunc[Service[string, string], Service[[]byte, string]](func(inner Service[string, string]) Service[[]byte, string] {
			return ServiceFunc[[]byte, string](func(ctx context.Context, req []byte) (string, error) {
				return inner.Handle(ctx, string(req))
			})
		})
		double := ServiceFunc[int, string](func(_ context.Context, n int) (string, error) {
			return strconv.Itoa(n * 2), nil
		})

		svc := Apply(Compose[Service[int, string], Service[string, string], Service[[]byte, string]](decode, parse), Service[int, string](double))

		resp, err := svc.Handle(context.Background(), []byte("21"))
		require.NoError(t, err)
		require.Equal(t, "42", resp)

		_, err = svc.Handle(context.Background(), []byte("x"))
		require.Error(t, err)
	})
}
