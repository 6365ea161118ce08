// Package session tracks the recording lifecycle and the append-only transcript of the current session.
package session
