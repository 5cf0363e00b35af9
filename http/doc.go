// Package http provides an authenticated HTTP client for Google Cloud
// JSON APIs with request/response interceptors and default headers.
//
// Authorization
//   - Every attempt is authorized by the configured credential.
//   - A 401 response triggers a credential refresh and an immediate resend,
//     up to Builder.WithMaxRefreshAttempts times per call (default 5).
//   - A credential that cannot refresh once the ceiling is reached yields
//     an AuthExhausted error.
//
// Retries
//   - Error responses are classified by the service strategy
//     (see Builder.WithStrategy) and resent while its table allows.
//   - Resends are delayed by min(Base*2^retry, Cap), 62.5ms up to 1s by default.
//   - A refresh resets the retry counter.
//   - Inside a transaction scope the Datastore strategy does not resend ABORTED.
//   - Transport faults are retried by the pooled connection, never HTTP statuses.
//
// Notes
//   - HTTP error statuses are returned as responses, never as errors.
//   - Request.Timeout is ignored; the configured connect and read timeouts apply.
//   - Each worker (see pool.WithWorker) gets its own pooled connection.
//   - Request bodies are re-sent by rebuilding the http.Request on each attempt.
//   - Interceptor errors are not retried and are surfaced immediately.
package http
