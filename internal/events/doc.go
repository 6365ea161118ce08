// Package events publishes transcript and status updates to live subscribers.
package events
