package gateway

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// TokenSource yields the current credential, "" when unauthenticated.
type TokenSource interface {
	Token() string
}

// UnauthorizedPolicy is invoked once per 401 response, before the error reaches the caller.
type UnauthorizedPolicy interface {
	HandleUnauthorized(ctx context.Context)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// Interceptor wraps a RoundTripper.
type Interceptor func(next http.RoundTripper) http.RoundTripper

// Chain applies interceptors so that the first one is outermost.
func Chain(base http.RoundTripper, ics ...Interceptor) http.RoundTripper {
	rt := base
	for i := len(ics) - 1; i >= 0; i-- {
		rt = ics[i](rt)
	}
	return rt
}

// RequestID stamps every request with an X-Request-ID.
func RequestID() Interceptor {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.Header.Get(HeaderRequestID) != "" {
				return next.RoundTrip(r)
			}
			id, ok := RequestIDFromCtx(r.Context())
			if !ok {
				id = newRequestID()
			}
			r = r.Clone(r.Context())
			r.Header.Set(HeaderRequestID, id)
			return next.RoundTrip(r)
		})
	}
}

// Bearer attaches the credential when one exists; requests without a session go out bare.
func Bearer(tokens TokenSource) Interceptor {
	return func(next http.RoundTripper) http.RoundTripper {
		if tokens == nil {
			return next
		}
		return roundTripFunc(func(r *http.Request) (*http.Response, error) {
			tok := tokens.Token()
			if tok == "" {
				return next.RoundTrip(r)
			}
			r = r.Clone(r.Context())
			r.Header.Set("Authorization", "Bearer "+tok)
			return next.RoundTrip(r)
		})
	}
}

// Unauthorized runs the policy on 401 so callers only ever see the error after teardown.
func Unauthorized(policy UnauthorizedPolicy) Interceptor {
	return func(next http.RoundTripper) http.RoundTripper {
		if policy == nil {
			return next
		}
		return roundTripFunc(func(r *http.Request) (*http.Response, error) {
			resp, err := next.RoundTrip(r)
			if err == nil && resp.StatusCode == http.StatusUnauthorized {
				policy.HandleUnauthorized(context.WithoutCancel(r.Context()))
			}
			return resp, err
		})
	}
}

// Logging records metadata of every exchange. Bodies and credentials are never logged.
func Logging(log *zap.Logger) Interceptor {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripFunc(func(r *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(r)
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("dur", time.Since(start)),
			}
			if id := r.Header.Get(HeaderRequestID); id != "" {
				fields = append(fields, zap.String("request_id", id))
			}
			if err != nil {
				log.Debug("http", append(fields, zap.Error(err))...)
				return nil, err
			}
			log.Debug("http", append(fields, zap.Int("status", resp.StatusCode))...)
			return resp, nil
		})
	}
}
