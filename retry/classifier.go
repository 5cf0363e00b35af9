package retry

import (
	"strings"

	"github.com/LeadPages/gcloud-requests/logger"
	"github.com/tidwall/gjson"
	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/proto"
)

const (
	contentTypeProtobuf = "application/x-protobuf"
	contentTypeJSON     = "application/json"

	// maxLoggedBody bounds how much of an unexpected body is logged.
	maxLoggedBody = 512
)

// Classifier converts a failed response into a canonical Failure.
type Classifier interface {
	Classify(resp *Response) Failure
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(resp *Response) Failure

// Classify calls f(resp).
func (f ClassifierFunc) Classify(resp *Response) Failure {
	return f(resp)
}

// BodyClassifier decodes binary google.rpc.Status payloads and JSON error
// envelopes. Anything else is reported as Unrecognized.
type BodyClassifier struct {
	logger logger.Logger
}

// NewClassifier creates the generic body classifier.
func NewClassifier(log logger.Logger) *BodyClassifier {
	return &BodyClassifier{logger: log}
}

// protobufCodes lists the binary status codes that have a canonical name.
var protobufCodes = map[codes.Code]Status{
	codes.Unknown:          StatusUnknown,
	codes.DeadlineExceeded: StatusDeadlineExceeded,
	codes.Aborted:          StatusAborted,
	codes.Internal:         StatusInternal,
	codes.Unavailable:      StatusUnavailable,
}

// Classify inspects the content type and decodes the body accordingly.
func (c *BodyClassifier) Classify(resp *Response) Failure {
	if resp == nil {
		return Unrecognized
	}

	contentType := resp.ContentType()
	switch {
	case strings.Contains(contentType, contentTypeProtobuf):
		return c.classifyProtobuf(resp)
	case strings.Contains(contentType, contentTypeJSON):
		return c.classifyJSON(resp)
	}

	c.logger.Warn().
		Int("status_code", resp.StatusCode).
		Str("content_type", contentType).
		Str("body", truncate(resp.Body)).
		Msg("Unexpected error response")
	return Unrecognized
}

func (c *BodyClassifier) classifyProtobuf(resp *Response) Failure {
	var st spb.Status
	if err := proto.Unmarshal(resp.Body, &st); err != nil {
		c.logger.Warn().
			Err(err).
			Int("status_code", resp.StatusCode).
			Msg("Failed to decode protobuf error response")
		return Unrecognized
	}

	status, ok := protobufCodes[codes.Code(st.GetCode())]
	if !ok {
		c.logger.Debug().
			Int("status_code", resp.StatusCode).
			Int("rpc_code", int(st.GetCode())).
			Msg("Protobuf error code has no canonical status")
		return Unrecognized
	}
	return Failure{Status: status}
}

func (c *BodyClassifier) classifyJSON(resp *Response) Failure {
	envelope := gjson.GetBytes(resp.Body, "error")
	if !gjson.ValidBytes(resp.Body) || !envelope.IsObject() {
		c.logger.Warn().
			Int("status_code", resp.StatusCode).
			Str("body", truncate(resp.Body)).
			Msg("Unexpected JSON error response")
		return Unrecognized
	}

	var f Failure
	if status := envelope.Get("status"); status.Exists() {
		f.Status = ParseStatus(status.String())
	}
	if code := envelope.Get("code"); code.Exists() {
		f.Code = int(code.Int())
	}
	if f.Status == "" && f.Code == 0 {
		c.logger.Warn().
			Int("status_code", resp.StatusCode).
			Str("body", truncate(resp.Body)).
			Msg("JSON error response carries neither status nor code")
		return Unrecognized
	}
	return f
}

func truncate(body []byte) string {
	if len(body) <= maxLoggedBody {
		return string(body)
	}
	return string(body[:maxLoggedBody]) + "..."
}
