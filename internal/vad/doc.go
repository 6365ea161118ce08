// Package vad provides an energy-based voice activity gate used to skip
// transcription of chunks that contain only silence or low-level noise.
package vad
