// Package asr implements the transcription request pipeline: model state
// check, validation, decoding, inference and response shaping. Every error
// it returns is an *apperr.AppError.
package asr
