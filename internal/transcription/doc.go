// Package transcription implements the HTTP client for the ASR service.
// It uploads audio files as multipart form data, retries server-side
// failures with exponential backoff and keeps request statistics.
package transcription
