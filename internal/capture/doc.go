// Package capture reads live microphone audio as mono PCM-16 frames.
package capture
