package restyutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/go-resty/resty/v2"
)

type RetryOptions struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
	}
}

// ShouldRetry reports whether a request is worth repeating: transport
// errors, throttling and transient server errors are.
func ShouldRetry(res *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if res == nil {
		return true
	}
	switch res.StatusCode() {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func NewExecutor(opts RetryOptions) failsafe.Executor[*resty.Response] {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultRetryOptions().BaseDelay
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay
	}
	retry := retrypolicy.NewBuilder[*resty.Response]().
		WithBackoff(opts.BaseDelay, opts.MaxDelay).
		WithMaxRetries(opts.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(ShouldRetry).
		Build()
	return failsafe.With(retry)
}

// Execute runs fn under executor, then turns a non 2xx final response into
// a StatusError.
func Execute(ctx context.Context, executor failsafe.Executor[*resty.Response], fn func(ctx context.Context) (*resty.Response, error)) (*resty.Response, error) {
	// the last attempt's response, failsafe wraps it once retries run out
	var last *resty.Response
	_, err := executor.WithContext(ctx).Get(func() (*resty.Response, error) {
		res, err := fn(ctx)
		last = res
		return res, err
	})
	var statusErr error
	if last != nil && last.IsError() {
		statusErr = StatusError{Status: last.StatusCode(), Url: last.Request.URL}
	}
	// a cancelled ctx stays visible to errors.Is even when the last
	// attempt got a response
	if ctxErr := ctx.Err(); ctxErr != nil && (err != nil || statusErr != nil || last == nil) {
		return last, errors.Join(ctxErr, statusErr, err)
	}
	if statusErr != nil {
		return last, statusErr
	}
	if err != nil {
		return last, err
	}
	return last, nil
}

type StatusError struct {
	Status int
	Url    string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Status, e.Url)
}
