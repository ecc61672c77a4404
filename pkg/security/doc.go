// Package security holds the input guards used at the agency's edges:
// outbound URL checks for web tools, file path confinement for writers,
// per-client rate limiting for the HTTP API, bounded YAML decoding and
// secret redaction for logs and client-facing errors.
package security
