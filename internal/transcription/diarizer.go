package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// HTTPDiarizer asks a speaker diarization service who is talking in a chunk
type HTTPDiarizer struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// DiarizationResponse is the service's answer: speaker turns within the chunk
type DiarizationResponse struct {
	Segments []SpeakerSegment `json:"segments"`
}

// SpeakerSegment represents when a speaker is talking
type SpeakerSegment struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// NewHTTPDiarizer creates a diarization client
func NewHTTPDiarizer(endpoint, apiKey string, timeout time.Duration) (*HTTPDiarizer, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &HTTPDiarizer{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Diarize returns "Speaker <id>" for the first speaker turn in the chunk
func (d *HTTPDiarizer) Diarize(ctx context.Context, wav []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDiarizationFailure, err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDiarizationFailure, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDiarizationFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDiarizationFailure, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDiarizationFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrDiarizationFailure, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: HTTP error %d: %s", ErrDiarizationFailure, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed DiarizationResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: parse response: %v", ErrDiarizationFailure, err)
	}

	if len(parsed.Segments) == 0 || parsed.Segments[0].Speaker == "" {
		return "", fmt.Errorf("%w: no speaker segments", ErrDiarizationFailure)
	}

	return "Speaker " + parsed.Segments[0].Speaker, nil
}
