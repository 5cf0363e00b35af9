package retry

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"github.com/LeadPages/gcloud-requests/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/proto"
)

func protobufResponse(t *testing.T, code codes.Code) *Response {
	t.Helper()
	body, err := proto.Marshal(&spb.Status{Code: int32(code), Message: "failed"})
	require.NoError(t, err)
	return &Response{
		StatusCode: http.StatusConflict,
		Header:     http.Header{"Content-Type": []string{"application/x-protobuf"}},
		Body:       body,
	}
}

func jsonResponse(status int, body string) *Response {
	return &Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json; charset=UTF-8"}},
		Body:       []byte(body),
	}
}

func TestClassifyProtobuf(t *testing.T) {
	c := NewClassifier(logger.NewNop())

	tests := []struct {
		code codes.Code
		want Failure
	}{
		{codes.Unknown, Failure{Status: StatusUnknown}},
		{codes.DeadlineExceeded, Failure{Status: StatusDeadlineExceeded}},
		{codes.Aborted, Failure{Status: StatusAborted}},
		{codes.Internal, Failure{Status: StatusInternal}},
		{codes.Unavailable, Failure{Status: StatusUnavailable}},
		{codes.NotFound, Unrecognized},
		{codes.ResourceExhausted, Unrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(protobufResponse(t, tt.code)))
		})
	}
}

func TestClassifyProtobufGarbage(t *testing.T) {
	c := NewClassifier(logger.NewNop())
	resp := &Response{
		StatusCode: http.StatusInternalServerError,
		Header:     http.Header{"Content-Type": []string{"application/x-protobuf"}},
		Body:       []byte{0xff, 0xff, 0xff},
	}
	assert.Equal(t, Unrecognized, c.Classify(resp))
}

func TestClassifyJSON(t *testing.T) {
	c := NewClassifier(logger.NewNop())

	tests := []struct {
		name string
		body string
		want Failure
	}{
		{"status only", `{"error":{"status":"UNAVAILABLE"}}`, Failure{Status: StatusUnavailable}},
		{"status and code", `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED"}}`, Failure{Status: StatusResourceExhausted, Code: 429}},
		{"code only", `{"error":{"code":503,"message":"Backend Error"}}`, Failure{Code: 503}},
		{"unknown status name", `{"error":{"status":"PERMISSION_DENIED","code":403}}`, Failure{Status: StatusUnrecognized, Code: 403}},
		{"error not an object", `{"error":"nope"}`, Unrecognized},
		{"no error key", `{"message":"hi"}`, Unrecognized},
		{"empty error object", `{"error":{}}`, Unrecognized},
		{"invalid json", `{"error":`, Unrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(jsonResponse(http.StatusServiceUnavailable, tt.body)))
		})
	}
}

func TestClassifyEmptyJSONErrorLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	c := NewClassifier(logger.NewWithWriter(&buf, "debug", false, nil))

	assert.Equal(t, Unrecognized, c.Classify(jsonResponse(http.StatusInternalServerError, `{"error":{"message":"quota"}}`)))
	assert.Contains(t, buf.String(), "neither status nor code")
	assert.Contains(t, buf.String(), "quota")
}

func TestClassifyOtherContentLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	c := NewClassifier(logger.NewWithWriter(&buf, "debug", false, nil))

	resp := &Response{
		StatusCode: http.StatusBadGateway,
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       []byte("<html>bad gateway</html>"),
	}
	assert.Equal(t, Unrecognized, c.Classify(resp))
	assert.Contains(t, buf.String(), "Unexpected error response")
	assert.Contains(t, buf.String(), "bad gateway")

	assert.Equal(t, Unrecognized, c.Classify(&Response{StatusCode: http.StatusInternalServerError}))
	assert.Equal(t, Unrecognized, c.Classify(nil))
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, StatusAborted, ParseStatus("ABORTED"))
	assert.Equal(t, StatusUnrecognized, ParseStatus("aborted"))
	assert.Equal(t, StatusUnrecognized, ParseStatus(""))
}

func TestFailureString(t *testing.T) {
	assert.Equal(t, "ABORTED", Failure{Status: StatusAborted}.String())
	assert.Equal(t, "503", Failure{Code: 503}.String())
	assert.Equal(t, "UNAVAILABLE/503", Failure{Status: StatusUnavailable, Code: 503}.String())
	assert.Equal(t, "UNRECOGNIZED", Failure{}.String())
	assert.True(t, Unrecognized.IsUnrecognized())
}

func TestTableLookup(t *testing.T) {
	entries := map[Status]int{StatusAborted: 5}
	byStatus := StatusTable(entries)
	entries[StatusAborted] = 99

	n, ok := byStatus.Lookup(Failure{Status: StatusAborted})
	assert.True(t, ok)
	assert.Equal(t, 5, n, "table must not observe later changes to its source map")

	_, ok = byStatus.Lookup(Failure{Status: StatusInternal})
	assert.False(t, ok)

	byCode := CodeTable(map[int]int{429: 10})
	n, ok = byCode.Lookup(Failure{Code: 429})
	assert.True(t, ok)
	assert.Equal(t, 10, n)
	_, ok = byCode.Lookup(Failure{Status: StatusUnavailable})
	assert.False(t, ok)

	_, ok = Table{}.Lookup(Failure{Code: 429})
	assert.False(t, ok)
	assert.Equal(t, 1, byCode.Len())
}

func TestDecide(t *testing.T) {
	policy := PolicyFunc(func(f Failure, depth int) (int, bool) {
		if f.Status == StatusAborted && depth > 0 {
			return 0, false
		}
		return StatusTable(map[Status]int{StatusAborted: 2}).Lookup(f)
	})
	aborted := Failure{Status: StatusAborted}

	maxRetries, ok := Decide(policy, aborted, 0, 0)
	assert.True(t, ok)
	assert.Equal(t, 2, maxRetries)

	_, ok = Decide(policy, aborted, 1, 0)
	assert.True(t, ok)

	_, ok = Decide(policy, aborted, 2, 0)
	assert.False(t, ok)

	_, ok = Decide(policy, aborted, 0, 1)
	assert.False(t, ok)

	_, ok = Decide(policy, Failure{Status: StatusInternal}, 0, 0)
	assert.False(t, ok)

	_, ok = Decide(nil, aborted, 0, 0)
	assert.False(t, ok)
}

func TestBackoffSchedule(t *testing.T) {
	want := []time.Duration{
		62500 * time.Microsecond,
		125 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		time.Second,
		time.Second,
		time.Second,
	}
	for retries, expected := range want {
		assert.Equal(t, expected, DefaultBackoff.Delay(retries), "retries=%d", retries)
	}

	assert.Equal(t, time.Second, DefaultBackoff.Delay(1000))
	assert.Equal(t, 62500*time.Microsecond, DefaultBackoff.Delay(-1))

	custom := Backoff{Base: 10 * time.Millisecond, Cap: 35 * time.Millisecond}
	assert.Equal(t, 20*time.Millisecond, custom.Delay(1))
	assert.Equal(t, 35*time.Millisecond, custom.Delay(2))

	assert.Equal(t, DefaultBackoff.Delay(3), Backoff{}.Delay(3))
}
