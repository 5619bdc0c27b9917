// Package pipeline processes a batch of records against the remote service with
// bounded concurrency and reassembles the results in input order.
package pipeline

import (
	"errors"

	"github.com/wehubfusion/Daedalus/pkg/payload"
	"github.com/wehubfusion/Daedalus/pkg/service"
)

// Kind tags the variant of an Outcome.
type Kind int

const (
	// KindSuccess means the service accepted the payload.
	KindSuccess Kind = iota + 1
	// KindValidationFailure means no payload could be built; the service was not called.
	KindValidationFailure
	// KindServiceFailure means the service rejected the payload, retries ran out,
	// or the run was cancelled.
	KindServiceFailure
)

// String returns the label written to result files.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindValidationFailure:
		return "validation_failure"
	case KindServiceFailure:
		return "service_failure"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result for one record.
type Outcome struct {
	Position int
	Kind     Kind
	// Response is set for KindSuccess.
	Response *service.Response
	// Failure is set for KindServiceFailure.
	Failure *service.Failure
	// Validation is set for KindValidationFailure when the builder reported field errors.
	Validation *payload.ValidationError
	// Reason describes any failure.
	Reason string
	// Attempts counts the service calls made for the record.
	Attempts int
}

// Success creates a success outcome.
func Success(position int, resp *service.Response, attempts int) Outcome {
	return Outcome{Position: position, Kind: KindSuccess, Response: resp, Attempts: attempts}
}

// ValidationFailure creates an outcome for a record whose payload could not be built.
func ValidationFailure(position int, err error) Outcome {
	o := Outcome{Position: position, Kind: KindValidationFailure, Reason: err.Error()}
	var verr *payload.ValidationError
	if errors.As(err, &verr) {
		o.Validation = verr
		o.Reason = verr.Reason()
	}
	return o
}

// ServiceFailure creates an outcome for a record the service did not accept.
func ServiceFailure(position int, failure *service.Failure, attempts int) Outcome {
	return Outcome{
		Position: position,
		Kind:     KindServiceFailure,
		Failure:  failure,
		Reason:   failure.Reason,
		Attempts: attempts,
	}
}

// Cancelled creates the outcome of a record the run never got to.
func Cancelled(position int) Outcome {
	return ServiceFailure(position, &service.Failure{
		Code:   service.ErrorCodeCancelled,
		Reason: service.ReasonCancelled,
	}, 0)
}

// IsCancelled reports whether the record was abandoned on cancellation.
func (o Outcome) IsCancelled() bool {
	return o.Kind == KindServiceFailure && o.Failure != nil && o.Failure.Cancelled()
}

// StatusCode returns the HTTP status of the final attempt, or 0.
func (o Outcome) StatusCode() int {
	switch {
	case o.Response != nil:
		return o.Response.StatusCode
	case o.Failure != nil:
		return o.Failure.StatusCode
	default:
		return 0
	}
}

// ErrorCode returns the classified error code, or "" for a success.
func (o Outcome) ErrorCode() string {
	switch o.Kind {
	case KindValidationFailure:
		return service.ErrorCodeValidation
	case KindServiceFailure:
		if o.Failure != nil {
			return o.Failure.Code
		}
		return service.ErrorCodeUnknown
	default:
		return ""
	}
}

// RunResult holds one outcome per record, indexed by position.
type RunResult []Outcome
