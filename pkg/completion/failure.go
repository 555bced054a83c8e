package completion

import (
	"errors"
	"fmt"
	"net/http"

	osdk "github.com/openai/openai-go/v3"
)

// Kind classifies why a completion call failed.
type Kind string

const (
	// KindAuth means the credential is missing or was rejected.
	KindAuth Kind = "auth"
	// KindUpstream means the service answered with an explicit error payload.
	KindUpstream Kind = "upstream"
	// KindTransport covers network errors and timeouts.
	KindTransport Kind = "transport"
)

const transportDetail = "failed to reach the completion service"

// Failure is the only error type returned by Gateway.Complete. Detail is safe
// to show to a control-surface caller; for upstream errors it is the
// service's error message verbatim.
type Failure struct {
	Kind   Kind
	Detail string
	Status int
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("completion %s failure: %s: %v", f.Kind, f.Detail, f.Err)
	}
	return fmt.Sprintf("completion %s failure: %s", f.Kind, f.Detail)
}

func (f *Failure) Unwrap() error { return f.Err }

// IsKind reports whether err is a Failure of the given kind.
func IsKind(err error, kind Kind) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == kind
}

func kindForStatus(status int) Kind {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return KindAuth
	}
	return KindUpstream
}

// classify maps any error from the SDK call onto a Failure.
func classify(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	var apiErr *osdk.Error
	if errors.As(err, &apiErr) {
		detail := apiErr.Message
		if detail == "" {
			detail = http.StatusText(apiErr.StatusCode)
		}
		return &Failure{Kind: kindForStatus(apiErr.StatusCode), Detail: detail, Status: apiErr.StatusCode, Err: err}
	}

	return &Failure{Kind: KindTransport, Detail: transportDetail, Err: err}
}
