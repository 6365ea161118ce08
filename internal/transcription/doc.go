// Package transcription implements the speech-to-text and speaker diarization engines.
// The HTTP client posts WAV chunks as multipart form data to an OpenAI-compatible endpoint,
// retrying with exponential backoff. A command engine runs a local CLI per chunk instead.
package transcription
