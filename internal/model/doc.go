// Package model runs a pretrained CTC acoustic model and turns its
// logits into text.
//
// A Handle bundles the model session, the feature processor and the
// tokenizer. It is built once by a Lifecycle at startup and shared
// read-only by every request; a failed load leaves the Lifecycle
// unloaded rather than stopping the process.
package model
