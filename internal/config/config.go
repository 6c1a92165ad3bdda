package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig selects and parameterizes the transport backend.
type ServerConfig struct {
	Mode          string  `yaml:"mode"` // "rest" or "agent"
	Host          string  `yaml:"host"`
	Port          int     `yaml:"port"`
	TimeoutSec    int     `yaml:"timeout_sec"`
	ResponseType  string  `yaml:"response_type"` // "context" or "annotated_image"
	ContextInBody bool    `yaml:"context_in_body"`
	APIKey        string  `yaml:"api_key"`
	APIKeyIn      string  `yaml:"api_key_location"` // "query" or "header"
	APIKeyName    string  `yaml:"api_key_name"`
	AgentModel    string  `yaml:"agent_model"`
	RetryAttempts int     `yaml:"retry_attempts"`
	BackoffSec    float64 `yaml:"backoff_sec"`
	MaxBackoffSec float64 `yaml:"max_backoff_sec"`

	// Data tag assembly for outgoing requests.
	DataIncludeString    bool   `yaml:"data_include_string"`
	DataStringValue      string `yaml:"data_string_value"`
	DataIncludeFilename  bool   `yaml:"data_include_filename"`
	DataIncludeTimestamp bool   `yaml:"data_include_timestamp"`

	// Where the OK/NOK verdict comes from.
	OKNOKSource string `yaml:"oknok_source"` // "context_result" or "result_field"
	ResultField string `yaml:"result_field"` // dotted path, used as fallback
}

// InputConfig describes the file-based frame source.
type InputConfig struct {
	SourceType        string   `yaml:"source_type"` // "folder", "files" or "video"
	Folder            string   `yaml:"folder"`
	Files             []string `yaml:"files"`
	IncludeSubfolders bool     `yaml:"include_subfolders"`
	Extensions        []string `yaml:"extensions"`
	PollIntervalSec   float64  `yaml:"poll_interval_sec"`
	StabilityChecks   int      `yaml:"stability_checks"`

	// Video ingest: the file is split into frames with ffmpeg first.
	VideoPath             string `yaml:"video_path"`
	VideoFramesDir        string `yaml:"video_frames_dir"`
	VideoFrameIntervalSec int    `yaml:"video_frame_interval_sec"`
}

// BehaviorConfig governs the run-mode lifecycle and pacing.
type BehaviorConfig struct {
	RunMode                string `yaml:"run_mode"` // loop, once, initial_then_watch, just_watch
	DelayBetweenImagesMS   int    `yaml:"delay_between_images_ms"`
	QueueSize              int    `yaml:"queue_size"`
	GracefulStopTimeoutSec int    `yaml:"graceful_stop_timeout_sec"`
}

// ActionPathConfig configures one routing bucket (OK or NOK).
type ActionPathConfig struct {
	BaseDir                string `yaml:"base_dir"`
	CreateDailyFolder      bool   `yaml:"create_daily_folder"`
	CreateHourlyFolder     bool   `yaml:"create_hourly_folder"`
	IncludeResultPrefix    bool   `yaml:"include_result_prefix"`
	IncludeTimestampSuffix bool   `yaml:"include_timestamp_suffix"`
	IncludeString          bool   `yaml:"include_string"`
	StringValue            string `yaml:"string_value"`
}

// FileActionsConfig configures post-evaluation file routing and artifacts.
type FileActionsConfig struct {
	Enabled            bool             `yaml:"enabled"`
	Mode               string           `yaml:"mode"` // see ValidActionModes
	UnknownAsNOK       bool             `yaml:"unknown_as_nok"`
	SaveJSONContext    bool             `yaml:"save_json_context"`
	SaveProcessedImage bool             `yaml:"save_processed_image"`
	OK                 ActionPathConfig `yaml:"ok"`
	NOK                ActionPathConfig `yaml:"nok"`
}

// ControlConfig configures the optional remote project control plane.
type ControlConfig struct {
	Policy            string `yaml:"policy"` // off, auto_start, auto_start_stop, auto_restart
	ProjectPath       string `yaml:"project_path"`
	TCPEnabled        bool   `yaml:"tcp_enabled"`
	TCPHost           string `yaml:"tcp_host"`
	TCPPort           int    `yaml:"tcp_port"`
	ReconnectAttempts int    `yaml:"reconnect_attempts"`
	ReconnectDelaySec int    `yaml:"reconnect_delay_sec"`
	HTTPListURL       string `yaml:"http_list_url"`
	EnableHTTPList    bool   `yaml:"enable_http_list"`
}

// JournalConfig configures per-task record persistence.
type JournalConfig struct {
	Directory     string `yaml:"directory"`
	JSONLFilename string `yaml:"jsonl_filename"`
	Backend       string `yaml:"backend"` // "none", "sqlite" or "postgres"
	SQLitePath    string `yaml:"sqlite_path"`
	PostgresDSN   string `yaml:"postgres_dsn"`
}

// GeneratorConfig configures the synthetic frame source.
type GeneratorConfig struct {
	Enabled     bool    `yaml:"enabled"`
	IntervalSec float64 `yaml:"interval_sec"`
	Width       int     `yaml:"width"`
	Height      int     `yaml:"height"`
	FilePrefix  string  `yaml:"file_prefix"`
	SendMode    string  `yaml:"send_mode"` // "save_send" or "send_only"
	SnapshotDir string  `yaml:"snapshot_dir"`
}

// AppConfig is the immutable configuration snapshot for one run.
// Components hold a read-only reference; changes require a restart.
type AppConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Input       InputConfig       `yaml:"input"`
	Behavior    BehaviorConfig    `yaml:"behavior"`
	FileActions FileActionsConfig `yaml:"file_actions"`
	Control     ControlConfig     `yaml:"control"`
	Journal     JournalConfig     `yaml:"journal"`
	Generator   GeneratorConfig   `yaml:"generator"`
}

// ValidActionModes are the supported file-action routing modes.
var ValidActionModes = []string{
	"delete_after_eval",
	"move_by_result",
	"move_ok_delete_nok",
	"delete_ok_move_nok",
}

var validRunModes = []string{"loop", "once", "initial_then_watch", "just_watch"}

// Default returns the configuration used when a section is omitted.
func Default() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Mode:                "rest",
			Host:                "127.0.0.1",
			Port:                8000,
			TimeoutSec:          10,
			ResponseType:        "context",
			APIKeyIn:            "query",
			APIKeyName:          "api_key",
			AgentModel:          "llama3.2-vision:11b",
			RetryAttempts:       5,
			BackoffSec:          1.0,
			MaxBackoffSec:       10.0,
			DataIncludeFilename: true,
			OKNOKSource:         "context_result",
		},
		Input: InputConfig{
			SourceType:        "folder",
			IncludeSubfolders: true,
			Extensions:        []string{".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp"},
			PollIntervalSec:   1.0,
			StabilityChecks:   2,

			VideoFramesDir:        "video_frames",
			VideoFrameIntervalSec: 1,
		},
		Behavior: BehaviorConfig{
			RunMode:                "initial_then_watch",
			DelayBetweenImagesMS:   150,
			QueueSize:              100,
			GracefulStopTimeoutSec: 10,
		},
		FileActions: FileActionsConfig{
			Mode:         "move_by_result",
			UnknownAsNOK: true,
		},
		Control: ControlConfig{
			Policy:            "off",
			TCPHost:           "127.0.0.1",
			TCPPort:           7002,
			ReconnectAttempts: 5,
			ReconnectDelaySec: 30,
			HTTPListURL:       "http://127.0.0.1:7000",
		},
		Journal: JournalConfig{
			Directory:     "logs",
			JSONLFilename: "results.jsonl",
			Backend:       "sqlite",
			SQLitePath:    "logs/history.sqlite",
		},
		Generator: GeneratorConfig{
			IntervalSec: 2.0,
			Width:       640,
			Height:      480,
			FilePrefix:  "frame",
			SendMode:    "save_send",
			SnapshotDir: "generator_snapshots",
		},
	}
}

// Load reads .env overrides plus the YAML file at path and validates the
// resulting configuration. A missing file is an error; a missing .env is not.
func Load(path string) (*AppConfig, error) {
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("VISIONFEED_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("VISIONFEED_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VISIONFEED_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("VISIONFEED_POSTGRES_DSN"); v != "" {
		cfg.Journal.PostgresDSN = v
	}
}

// Validate reports configuration errors once, at startup, so they never
// surface inside the per-task loop.
func (c *AppConfig) Validate() error {
	if c.Server.Mode != "rest" && c.Server.Mode != "agent" {
		return fmt.Errorf("server.mode must be rest or agent, got %q", c.Server.Mode)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.OKNOKSource != "context_result" && c.Server.OKNOKSource != "result_field" {
		return fmt.Errorf("server.oknok_source must be context_result or result_field, got %q", c.Server.OKNOKSource)
	}
	if c.Server.OKNOKSource == "result_field" && strings.TrimSpace(c.Server.ResultField) == "" {
		return fmt.Errorf("server.result_field is required when oknok_source=result_field")
	}
	if !contains(validRunModes, c.Behavior.RunMode) {
		return fmt.Errorf("behavior.run_mode must be one of %v, got %q", validRunModes, c.Behavior.RunMode)
	}
	if c.FileActions.Enabled && !contains(ValidActionModes, c.FileActions.Mode) {
		return fmt.Errorf("file_actions.mode must be one of %v, got %q", ValidActionModes, c.FileActions.Mode)
	}
	switch c.Input.SourceType {
	case "folder", "files", "video":
	default:
		return fmt.Errorf("input.source_type must be folder, files or video, got %q", c.Input.SourceType)
	}
	if !c.Generator.Enabled {
		switch c.Input.SourceType {
		case "folder":
			if strings.TrimSpace(c.Input.Folder) == "" {
				return fmt.Errorf("input.folder is required for source_type=folder")
			}
		case "files":
			if len(c.Input.Files) == 0 {
				return fmt.Errorf("input.files is empty for source_type=files")
			}
		case "video":
			if strings.TrimSpace(c.Input.VideoPath) == "" {
				return fmt.Errorf("input.video_path is required for source_type=video")
			}
		}
	}
	if c.Generator.Enabled && c.Generator.SendMode != "save_send" && c.Generator.SendMode != "send_only" {
		return fmt.Errorf("generator.send_mode must be save_send or send_only, got %q", c.Generator.SendMode)
	}
	switch c.Journal.Backend {
	case "none", "sqlite", "postgres":
	default:
		return fmt.Errorf("journal.backend must be none, sqlite or postgres, got %q", c.Journal.Backend)
	}
	if c.Journal.Backend == "postgres" && strings.TrimSpace(c.Journal.PostgresDSN) == "" {
		return fmt.Errorf("journal.postgres_dsn is required when journal.backend=postgres")
	}
	switch c.Control.Policy {
	case "off", "auto_start", "auto_start_stop", "auto_restart":
	default:
		return fmt.Errorf("control.policy must be off, auto_start, auto_start_stop or auto_restart, got %q", c.Control.Policy)
	}
	if c.Control.Policy != "off" && !c.Control.TCPEnabled {
		return fmt.Errorf("control.policy=%s requires control.tcp_enabled", c.Control.Policy)
	}
	if c.Control.Policy != "off" && strings.TrimSpace(c.Control.ProjectPath) == "" {
		return fmt.Errorf("control.policy=%s requires control.project_path", c.Control.Policy)
	}
	return nil
}

// NormalizedExtensions returns the configured extensions lowercased.
func (c *InputConfig) NormalizedExtensions() []string {
	out := make([]string, 0, len(c.Extensions))
	for _, ext := range c.Extensions {
		out = append(out, strings.ToLower(ext))
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
