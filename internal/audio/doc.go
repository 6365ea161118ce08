// Package audio handles chunk assembly, buffering, and format conversion.
// It accumulates captured PCM frames into fixed-duration chunks, queues them in a
// bounded FIFO between capture and transcription, and encodes them to WAV for the engines.
package audio
