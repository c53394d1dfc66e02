// Package client talks to a transcription server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/open-transcribe/internal/protocol"
)

// Format describes raw PCM sent to the server.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

type Health struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	Engine      string `json:"engine"`
	ModelLoaded bool   `json:"model_loaded"`
	QueueDepth  int64  `json:"queue_depth"`
}

// Result is a decoded transcription response. Raw keeps the body as sent.
type Result struct {
	ID       string             `json:"id"`
	Text     string             `json:"text"`
	Segments []protocol.Segment `json:"segments"`
	Raw      json.RawMessage    `json:"-"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned error %d: %s", e.Code, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for baseURL. A nil httpClient uses a client with a
// ten minute timeout, long enough for slow CPU inference.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return Health{}, err
	}
	var h Health
	if _, err := c.do(req, &h); err != nil {
		return Health{}, fmt.Errorf("health check: %w", err)
	}
	return h, nil
}

// Transcribe uploads audio as a multipart form with the format fields.
func (c *Client) Transcribe(ctx context.Context, audio []byte, format Format, filename string) (Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		return Result{}, err
	}
	if _, err := part.Write(audio); err != nil {
		return Result{}, err
	}
	fields := map[string]int{
		"sample_rate": format.SampleRate,
		"channels":    format.Channels,
		"bit_depth":   format.BitDepth,
	}
	for name, value := range fields {
		if err := mw.WriteField(name, strconv.Itoa(value)); err != nil {
			return Result{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/transcribe", &body)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var res Result
	raw, err := c.do(req, &res)
	if err != nil {
		return Result{}, err
	}
	res.Raw = raw
	return res, nil
}

func (c *Client) do(req *http.Request, out any) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return nil, &StatusError{Code: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return data, nil
}
