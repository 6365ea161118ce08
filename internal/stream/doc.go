// Package stream runs live transcription sessions. The Manager opens the capture
// device, assembles frames into chunks, and feeds a single transcription worker
// through a bounded buffer. Stopping a session waits until every captured chunk
// has been transcribed.
package stream
