package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/avinash-eye/image-processor/internal/domain"
)

var (
	ErrTimeout     = errors.New("analysis request timed out")
	ErrUnreachable = errors.New("analysis service unreachable")
	ErrService     = errors.New("analysis service error")
)

// Client talks to the external analysis service. It applies one fixed
// per-request timeout and never retries: retry policy belongs to the
// caller.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	ImagePath   string `json:"image_path"`
	UseOllama   bool   `json:"use_ollama"`
	DetectFaces bool   `json:"detect_faces"`
}

type embedTextRequest struct {
	Query string `json:"query"`
}

type embedTextResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Analyze sends the image path to the analysis service and returns the
// decoded semantic payload. The service reads the file from the shared
// volume, so the path must be visible to it. A malformed or partial
// response (no embedding vector) is ErrService, never silently defaulted.
func (c *Client) Analyze(ctx context.Context, imagePath string) (*domain.Analysis, error) {
	body, err := c.post(ctx, "/analyze", analyzeRequest{
		ImagePath:   imagePath,
		UseOllama:   true,
		DetectFaces: true,
	})
	if err != nil {
		return nil, err
	}

	var a domain.Analysis
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("%w: decode analyze response: %v", ErrService, err)
	}

	if len(a.Embedding) == 0 {
		return nil, fmt.Errorf("%w: analyze response has no embedding", ErrService)
	}

	return &a, nil
}

// EmbedText returns the embedding vector for a text query, used by the
// surrounding system for similarity search against stored images.
func (c *Client) EmbedText(ctx context.Context, query string) ([]float64, error) {
	body, err := c.post(ctx, "/embed-text", embedTextRequest{Query: query})
	if err != nil {
		return nil, err
	}

	var resp embedTextResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode embed-text response: %v", ErrService, err)
	}

	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: embed-text response has no embedding", ErrService)
	}

	return resp.Embedding, nil
}

func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("%w: build health request: %v", ErrService, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return translate(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned status %d", ErrService, resp.StatusCode)
	}

	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrService, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrService, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, translate(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, translate(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d: %s", ErrService, path, resp.StatusCode, truncate(body, 256))
	}

	return body, nil
}

// translate maps transport failures onto the typed error set: deadline
// expiry is ErrTimeout, everything else on the wire is ErrUnreachable.
func translate(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
