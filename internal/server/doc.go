// Package server exposes the transcription service over HTTP.
//
// Routes:
//
//	GET  /ping     liveness, always "pong"
//	POST /asr      multipart upload in field "file"
//	GET  /health   model state and uptime
//	GET  /metrics  Prometheus exposition
package server
