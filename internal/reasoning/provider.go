package reasoning

import (
	"context"
	"errors"
)

// Request is one reasoning exchange: the composed prompt plus sampling
// parameters chosen by the caller (planning runs colder than execution).
type Request struct {
	Prompt      string
	Temperature float64
	TopP        float64
	MaxTokens   int
	Stop        []string
}

// Provider performs a single request/response exchange with the reasoning
// service and returns the raw decision payload. Transport and auth live in
// implementations; retries, rate limiting, and decision parsing live in the
// Gateway.
type Provider interface {
	Complete(ctx context.Context, req *Request) (string, error)
}

// TransientError marks a provider failure worth retrying: network errors,
// rate-limit signals, service-side errors.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// MalformedError marks a response the provider could not make sense of
// (broken envelope, missing payload). The Gateway answers it with one
// clarified retry rather than backoff.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string { return e.Err.Error() }
func (e *MalformedError) Unwrap() error { return e.Err }

func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}
