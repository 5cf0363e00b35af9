// Package retry turns failed HTTP responses into canonical failures and
// decides whether, and after how long, a failed request may be resent.
//
// The package is service agnostic. Service-specific tables and
// pre-classification live in the services package and plug in through the
// Strategy interface.
package retry

import (
	"net/http"
	"strconv"
)

// Status is a canonical remote error status.
type Status string

// Canonical statuses understood by the retry tables.
const (
	StatusUnknown           Status = "UNKNOWN"
	StatusDeadlineExceeded  Status = "DEADLINE_EXCEEDED"
	StatusAborted           Status = "ABORTED"
	StatusInternal          Status = "INTERNAL"
	StatusUnavailable       Status = "UNAVAILABLE"
	StatusResourceExhausted Status = "RESOURCE_EXHAUSTED"
	StatusUnrecognized      Status = "UNRECOGNIZED"
)

var knownStatuses = map[string]Status{
	string(StatusUnknown):           StatusUnknown,
	string(StatusDeadlineExceeded):  StatusDeadlineExceeded,
	string(StatusAborted):           StatusAborted,
	string(StatusInternal):          StatusInternal,
	string(StatusUnavailable):       StatusUnavailable,
	string(StatusResourceExhausted): StatusResourceExhausted,
}

// ParseStatus maps a remote status name onto a canonical Status.
// Names outside the known set map to StatusUnrecognized.
func ParseStatus(name string) Status {
	if s, ok := knownStatuses[name]; ok {
		return s
	}
	return StatusUnrecognized
}

// Failure is the canonical description of a failed response.
// Status is empty when only a numeric Code could be derived.
type Failure struct {
	Status Status
	Code   int
}

// Unrecognized is the failure reported for bodies that cannot be interpreted.
var Unrecognized = Failure{Status: StatusUnrecognized}

// IsUnrecognized reports whether f carries no usable status or code.
func (f Failure) IsUnrecognized() bool {
	return f.Status == StatusUnrecognized && f.Code == 0
}

// String renders the failure for logs.
func (f Failure) String() string {
	switch {
	case f.Status != "" && f.Code != 0:
		return string(f.Status) + "/" + strconv.Itoa(f.Code)
	case f.Status != "":
		return string(f.Status)
	case f.Code != 0:
		return strconv.Itoa(f.Code)
	default:
		return string(StatusUnrecognized)
	}
}

// Response is the part of a received HTTP response the classifiers look at.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ContentType returns the Content-Type header, or "" when absent.
func (r *Response) ContentType() string {
	if r == nil || r.Header == nil {
		return ""
	}
	return r.Header.Get("Content-Type")
}
