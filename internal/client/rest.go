package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/czpavel/visionfeed/internal/config"
	"github.com/czpavel/visionfeed/internal/imaging"
	"github.com/czpavel/visionfeed/internal/models"
)

// REST talks to the inference server's HTTP analyze endpoint.
type REST struct {
	baseURL       string
	apiKey        string
	apiKeyIn      string
	apiKeyName    string
	responseType  string
	contextInBody bool
	http          *http.Client
}

// NewREST builds a REST client from the server section of the config.
func NewREST(cfg config.ServerConfig) *REST {
	return &REST{
		baseURL:       fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		apiKey:        cfg.APIKey,
		apiKeyIn:      cfg.APIKeyIn,
		apiKeyName:    cfg.APIKeyName,
		responseType:  cfg.ResponseType,
		contextInBody: cfg.ContextInBody,
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
	}
}

// Ping probes the server's health endpoint. It never mutates server state.
func (c *REST) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", nil)
	if err != nil {
		return false
	}
	c.applyAPIKey(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Analyze posts the image and parses the context out of either the response
// body tail (ImageLen header) or the ContextBase64utf header.
func (c *REST) Analyze(ctx context.Context, image Input, data string) (models.Context, []byte, error) {
	payload, err := c.payload(image)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze_image", bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	q := url.Values{}
	q.Set("response_type", c.responseType)
	q.Set("data", data)
	q.Set("context_in_body", strconv.FormatBool(c.contextInBody))
	req.URL.RawQuery = q.Encode()
	c.applyAPIKey(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("analyze request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read analyze response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("analyze returned %s", resp.Status)
	}

	context, imageBytes := c.parseContext(resp.Header, body)
	return context, imageBytes, nil
}

// Close asks the server to release the session. Best effort.
func (c *REST) Close() {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/stop", nil)
	if err != nil {
		return
	}
	c.applyAPIKey(req)
	if resp, err := c.http.Do(req); err == nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

func (c *REST) payload(image Input) ([]byte, error) {
	if image.Bytes != nil {
		return image.Bytes, nil
	}
	if image.Path == "" {
		return nil, fmt.Errorf("empty image input")
	}
	// The server expects PNG; non-PNG files are transcoded client-side.
	return imaging.LoadPNG(image.Path)
}

func (c *REST) applyAPIKey(req *http.Request) {
	if c.apiKey == "" {
		return
	}
	if c.apiKeyIn == "header" {
		req.Header.Set(c.apiKeyName, c.apiKey)
		return
	}
	q := req.URL.Query()
	q.Set(c.apiKeyName, c.apiKey)
	req.URL.RawQuery = q.Encode()
}

func (c *REST) parseContext(header http.Header, body []byte) (models.Context, []byte) {
	if c.contextInBody {
		imageLen, _ := strconv.Atoi(header.Get("ImageLen"))
		var imageBytes, contextBytes []byte
		if imageLen > 0 && imageLen <= len(body) {
			imageBytes = body[:imageLen]
			contextBytes = body[imageLen:]
		} else {
			contextBytes = body
		}
		return decodeContext(contextBytes), imageBytes
	}

	var imageBytes []byte
	if c.responseType != "context" && len(body) > 0 {
		imageBytes = body
	}
	encoded := header.Get("ContextBase64utf")
	if encoded == "" {
		return nil, imageBytes
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, imageBytes
	}
	return decodeContext(decoded), imageBytes
}

func decodeContext(raw []byte) models.Context {
	if len(raw) == 0 {
		return nil
	}
	var ctx models.Context
	if err := json.Unmarshal(raw, &ctx); err != nil {
		return nil
	}
	return ctx
}
