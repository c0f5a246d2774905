// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package request

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Headers a request id may be read from, in order of preference.
// The first is also the header the id is echoed back on.
const (
	HeaderRequestID   = "X-Request-Id"
	HeaderB3RequestID = "X-B3-RequestId"
)

// RequestIDLayer assigns every request an id, reusing the caller's
// id only when trustClient is set.
type RequestIDLayer struct {
	trustClient bool
	newID       func() string
}

// NewRequestIDLayer returns a [RequestIDLayer] generating UUIDv4 ids.
func NewRequestIDLayer(trustClient bool) *RequestIDLayer {
	return &RequestIDLayer{
		trustClient: trustClient,
		newID:       uuid.NewString,
	}
}

func (l *RequestIDLayer) id(r *http.Request) string {
	if l.trustClient {
		for _, h := range []string{HeaderRequestID, HeaderB3RequestID} {
			if id := r.Header.Get(h); id != "" && len(id) <= 128 {
				return id
			}
		}
	}
	return l.newID()
}

// Layer implements the [service.Layer] interface.
func (l *RequestIDLayer) Layer(inner Service) Service {
	return HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
		id := l.id(r)
		ctx = WithID(ctx, id)

		resp, err := inner.Handle(ctx, r.WithContext(ctx))
		if resp != nil {
			if resp.Header == nil {
				resp.Header = make(http.Header)
			}
			resp.Header.Set(HeaderRequestID, id)
		}
		return resp, err
	})
}
