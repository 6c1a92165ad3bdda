package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/agent-api/core/pkg/agent"
	"github.com/agent-api/core/types"
	"github.com/agent-api/ollama"

	"github.com/czpavel/visionfeed/internal/config"
	"github.com/czpavel/visionfeed/internal/models"
)

const agentSystemPrompt = "You are a visual quality inspector. Answer with a single JSON object " +
	`of the shape {"result": true|false, "reason": "short explanation"} where result=true means ` +
	"the inspected item passes and result=false means it fails. No other text."

// Agent is a transport backend that asks a local vision model for the
// OK/NOK verdict instead of a dedicated inference server.
type Agent struct {
	agent   *agent.DefaultAgent
	baseURL string
	http    *http.Client
}

// NewAgent wires up the Ollama provider and the vision agent.
func NewAgent(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*Agent, error) {
	opts := &ollama.ProviderOpts{
		Logger:  logger,
		BaseURL: "http://" + cfg.Host,
		Port:    cfg.Port,
	}
	provider := ollama.NewProvider(opts)

	model := &types.Model{ID: cfg.AgentModel}
	provider.UseModel(ctx, model)

	agentConf := &agent.NewAgentConfig{
		Provider:     provider,
		Logger:       logger,
		SystemPrompt: agentSystemPrompt,
	}

	return &Agent{
		agent:   agent.NewAgent(agentConf),
		baseURL: fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		http:    &http.Client{Timeout: 5 * time.Second},
	}, nil
}

// Ping checks that the model server answers its tags endpoint.
func (c *Agent) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Analyze runs the vision agent against the image and converts its JSON
// verdict into a context the normalizer understands.
func (c *Agent) Analyze(ctx context.Context, image Input, data string) (models.Context, []byte, error) {
	imagePath := image.Path
	if image.Bytes != nil {
		// The agent API takes file paths; spill in-memory frames to disk.
		tmp, err := os.CreateTemp("", "visionfeed-*.png")
		if err != nil {
			return nil, nil, err
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.Write(image.Bytes); err != nil {
			tmp.Close()
			return nil, nil, err
		}
		tmp.Close()
		imagePath = tmp.Name()
	}
	if imagePath == "" {
		return nil, nil, fmt.Errorf("empty image input")
	}

	start := time.Now()
	response := c.agent.Run(
		ctx,
		agent.WithInput("Inspect this item. Data tag: "+data),
		agent.WithImagePath(imagePath),
	)
	if response.Err != nil {
		return nil, nil, response.Err
	}
	if len(response.Messages) == 0 {
		return nil, nil, fmt.Errorf("no response messages received from model")
	}
	content := response.Messages[len(response.Messages)-1].Content

	result := parseVerdict(content)
	result["completeTime"] = time.Since(start).Seconds()
	result["data"] = data
	return result, nil, nil
}

// Close is a no-op; the agent holds no connection state worth tearing down.
func (c *Agent) Close() {}

// parseVerdict pulls the JSON verdict out of the model response. Models
// sometimes wrap JSON in prose, so scan for the first object.
func parseVerdict(content string) models.Context {
	trimmed := strings.TrimSpace(content)
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			var parsed models.Context
			if err := json.Unmarshal([]byte(trimmed[start:end+1]), &parsed); err == nil {
				return parsed
			}
		}
	}
	// Unparseable verdicts degrade to UNKNOWN downstream.
	return models.Context{"raw": content}
}
