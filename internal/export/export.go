package export

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Ndahiroloicke/Transcripto/internal/session"
)

// ErrEmptyTranscript is returned when there is nothing to export
var ErrEmptyTranscript = errors.New("no transcript data")

// DefaultSpeaker labels entries without a diarization result
const DefaultSpeaker = "Speaker"

// Render formats a transcript snapshot as the plain-text export document
func Render(snap session.Snapshot, generatedAt time.Time) (string, error) {
	if len(snap.Entries) == 0 {
		return "", ErrEmptyTranscript
	}

	entries := slices.Clone(snap.Entries)
	slices.SortStableFunc(entries, func(a, b session.Entry) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})

	var b strings.Builder
	b.WriteString("Live Audio Transcript\n")
	b.WriteString(strings.Repeat("=", 50) + "\n")
	fmt.Fprintf(&b, "Generated: %s\n", generatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Session ID: %s\n", snap.SessionID)
	fmt.Fprintf(&b, "Total Entries: %d\n", len(entries))
	b.WriteString("\n--- TRANSCRIPT ---\n\n")

	for i, e := range entries {
		speaker := e.Speaker
		if speaker == "" {
			speaker = DefaultSpeaker
		}
		fmt.Fprintf(&b, "[%s] %s: %s", e.Timestamp.Format("15:04:05"), speaker, e.Text)
		if i < len(entries)-1 {
			b.WriteByte('\n')
		}
	}

	return b.String(), nil
}

// Filename returns the download name for an export generated at t
func Filename(t time.Time) string {
	return fmt.Sprintf("transcript_%s.txt", t.Format("20060102_150405"))
}

// Save renders the snapshot into dir and returns the written path
func Save(dir string, snap session.Snapshot, generatedAt time.Time) (string, error) {
	content, err := Render(snap, generatedAt)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, Filename(generatedAt))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write transcript %s: %w", path, err)
	}

	return path, nil
}
