package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/intervue/internal/audio"
	"github.com/ent0n29/intervue/internal/reliability"
)

// HTTPGateway talks to the interview REST service.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// StatusError is a non-2xx collaborator response.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http status %d (%s): %s", e.Op, e.Status, reliability.HTTPFailureClass(e.Status), e.Body)
}

func (g *HTTPGateway) UploadAudio(ctx context.Context, interviewID string, speaker Speaker, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = audio.SniffContentType(data)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("speaker", string(speaker)); err != nil {
		return "", fmt.Errorf("write speaker field: %w", err)
	}
	header := make(map[string][]string)
	header["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="audio"; filename="%s%s"`, speaker, audio.Extension(contentType))}
	header["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("create audio part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write audio part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	var out struct {
		AudioURL string `json:"audioUrl"`
	}
	if err := g.do(ctx, "upload audio", http.MethodPost, g.interviewPath(interviewID, "upload-audio"), mw.FormDataContentType(), &body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.AudioURL) == "" {
		return "", fmt.Errorf("upload audio: response missing audioUrl")
	}
	return out.AudioURL, nil
}

func (g *HTTPGateway) SaveTurn(ctx context.Context, interviewID string, turn Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	return g.do(ctx, "save turn", http.MethodPost, g.interviewPath(interviewID, "conversation"), "application/json", bytes.NewReader(payload), nil)
}

func (g *HTTPGateway) CompleteSession(ctx context.Context, interviewID string) error {
	return g.do(ctx, "complete session", http.MethodPost, g.interviewPath(interviewID, "complete"), "application/json", nil, nil)
}

func (g *HTTPGateway) GetInterview(ctx context.Context, interviewID string) (Interview, error) {
	var out Interview
	err := g.do(ctx, "get interview", http.MethodGet, g.interviewPath(interviewID, ""), "", nil, &out)
	return out, err
}

func (g *HTTPGateway) CreateInterview(ctx context.Context, in NewInterview) (Interview, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return Interview{}, fmt.Errorf("marshal interview: %w", err)
	}
	var out Interview
	err = g.do(ctx, "create interview", http.MethodPost, g.baseURL+"/v1/interviews", "application/json", bytes.NewReader(payload), &out)
	return out, err
}

func (g *HTTPGateway) interviewPath(id, suffix string) string {
	p := g.baseURL + "/v1/interviews/" + url.PathEscape(id)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (g *HTTPGateway) do(ctx context.Context, op, method, target, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	res, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", op, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return &StatusError{Op: op, Status: res.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
