package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Static errors for the speech service clients.
var (
	// ErrTranscriptionFailed is returned when the transcription request
	// fails with a non-2xx status.
	ErrTranscriptionFailed = errors.New("speech: transcription request failed")
	// ErrDiarizationFailed is returned when the diarization request fails
	// with a non-2xx status.
	ErrDiarizationFailed = errors.New("speech: diarization request failed")
	// ErrDiarizerURLRequired is returned when no diarizer endpoint is
	// configured.
	ErrDiarizerURLRequired = errors.New("speech: diarizer URL is required")
)

// Compile-time check that WhisperClient implements Transcriber.
var _ Transcriber = (*WhisperClient)(nil)

// WhisperClient transcribes audio through an OpenAI-compatible
// audio/transcriptions endpoint.
type WhisperClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// WhisperOption configures a WhisperClient.
type WhisperOption func(*WhisperClient)

// WithWhisperBaseURL sets a custom base URL.
func WithWhisperBaseURL(url string) WhisperOption {
	return func(c *WhisperClient) {
		c.baseURL = url
	}
}

// WithWhisperHTTPClient sets a custom HTTP client.
func WithWhisperHTTPClient(hc *http.Client) WhisperOption {
	return func(c *WhisperClient) {
		c.httpClient = hc
	}
}

// NewWhisperClient creates a transcription client for the given model.
func NewWhisperClient(apiKey, model string, opts ...WhisperOption) *WhisperClient {
	c := &WhisperClient{
		apiKey:     apiKey,
		baseURL:    "https://api.openai.com/v1",
		model:      model,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// verboseTranscription is the verbose_json response shape, which carries
// per-segment timing.
type verboseTranscription struct {
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
	Text string `json:"text"`
}

// Transcribe uploads the audio file and returns timed segments.
func (c *WhisperClient) Transcribe(ctx context.Context, audioPath, language string) ([]TranscriptSegment, error) {
	f, err := os.Open(audioPath) // #nosec G304 - executor-owned temp file
	if err != nil {
		return nil, fmt.Errorf("speech: open audio: %w", err)
	}
	defer func() { _ = f.Close() }()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("speech: build form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("speech: copy audio: %w", err)
	}
	_ = mw.WriteField("model", c.model)
	_ = mw.WriteField("response_format", "verbose_json")
	if language != "" {
		_ = mw.WriteField("language", language)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("speech: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("speech: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech: transcription request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("speech: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w with status %d: %s", ErrTranscriptionFailed, resp.StatusCode, respBody)
	}

	var vt verboseTranscription
	if err := json.Unmarshal(respBody, &vt); err != nil {
		return nil, fmt.Errorf("speech: unmarshal transcription: %w", err)
	}

	segments := make([]TranscriptSegment, 0, len(vt.Segments))
	for _, s := range vt.Segments {
		segments = append(segments, TranscriptSegment{Start: s.Start, End: s.End, Text: s.Text})
	}
	return segments, nil
}

// Compile-time check that HTTPDiarizer implements Diarizer.
var _ Diarizer = (*HTTPDiarizer)(nil)

// HTTPDiarizer posts audio to a diarization service. Deployments return
// the turn list either bare or wrapped in a result object; both shapes
// survive into the Annotation for the caller to unwrap.
type HTTPDiarizer struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPDiarizer creates a diarizer client for the given endpoint.
func NewHTTPDiarizer(endpoint string) (*HTTPDiarizer, error) {
	if endpoint == "" {
		return nil, ErrDiarizerURLRequired
	}
	return &HTTPDiarizer{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

// wireTurn accepts both speaker field spellings seen across deployments.
type wireTurn struct {
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	SpeakerID string  `json:"speaker_id"`
	Speaker   string  `json:"speaker"`
}

func (t wireTurn) toTurn() SpeakerTurn {
	id := t.SpeakerID
	if id == "" {
		id = t.Speaker
	}
	return SpeakerTurn{Start: t.Start, End: t.End, SpeakerID: id}
}

// Diarize uploads the audio file and returns the service's annotation.
func (d *HTTPDiarizer) Diarize(ctx context.Context, audioPath string) (*Annotation, error) {
	f, err := os.Open(audioPath) // #nosec G304 - executor-owned temp file
	if err != nil {
		return nil, fmt.Errorf("speech: open audio: %w", err)
	}
	defer func() { _ = f.Close() }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, f)
	if err != nil {
		return nil, fmt.Errorf("speech: create request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech: diarization request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("speech: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w with status %d: %s", ErrDiarizationFailed, resp.StatusCode, respBody)
	}

	return ParseAnnotation(respBody)
}

// ParseAnnotation decodes a diarizer reply into the Annotation sum type
// without guessing: a bare array becomes the direct variant, an object
// with a "segments" field becomes the wrapped variant, and anything else
// is ErrUnrecognizedAnnotation.
func ParseAnnotation(raw []byte) (*Annotation, error) {
	var bare []wireTurn
	if err := json.Unmarshal(raw, &bare); err == nil {
		turns := make([]SpeakerTurn, 0, len(bare))
		for _, t := range bare {
			turns = append(turns, t.toTurn())
		}
		return &Annotation{Turns: turns}, nil
	}

	var wrapped struct {
		Segments []wireTurn `json:"segments"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Segments != nil {
		turns := make([]SpeakerTurn, 0, len(wrapped.Segments))
		for _, t := range wrapped.Segments {
			turns = append(turns, t.toTurn())
		}
		return &Annotation{Wrapped: &Annotation{Turns: turns}}, nil
	}

	return nil, fmt.Errorf("%w: %.120s", ErrUnrecognizedAnnotation, raw)
}
