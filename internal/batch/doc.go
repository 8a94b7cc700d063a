// Package batch walks a CSV manifest of audio files, sends each one to the
// ASR service and writes the transcripts back into a generated_text
// column. Progress is saved periodically so an interrupted run resumes
// where it stopped.
package batch
