package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/codernetes/internal/logger"
	"github.com/yungbote/codernetes/internal/utils"
)

type MasterSection struct {
	Host             string  `yaml:"host" json:"host"`
	Port             int     `yaml:"port" json:"port"`
	HTTPHost         string  `yaml:"http_host" json:"http_host"`
	HTTPPort         int     `yaml:"http_port" json:"http_port"`
	HealthInterval   float64 `yaml:"health_interval" json:"health_interval"`
	HealthTimeout    float64 `yaml:"health_timeout" json:"health_timeout"`
	DispatchInterval float64 `yaml:"dispatch_interval" json:"dispatch_interval"`
	DBPath           string  `yaml:"db_path" json:"db_path"`
}

type BridgeSection struct {
	LogLevel          string   `yaml:"log_level" json:"log_level"`
	Autostart         bool     `yaml:"autostart" json:"autostart"`
	RemoteDefaultTags []string `yaml:"remote_default_tags" json:"remote_default_tags"`
}

type SlackSection struct {
	BotToken       string `yaml:"bot_token" json:"-"`
	DefaultChannel string `yaml:"default_channel" json:"default_channel"`
}

type TelegramSection struct {
	BotToken     string `yaml:"bot_token" json:"-"`
	ParseMode    string `yaml:"parse_mode" json:"parse_mode"`
	AllowedChats string `yaml:"allowed_chats" json:"allowed_chats"`
}

type JobSection struct {
	WorkdirRoot        string  `yaml:"workdir_root" json:"workdir_root"`
	FailRunningOnStart bool    `yaml:"fail_running_on_start" json:"fail_running_on_start"`
	RunningGraceSecs   float64 `yaml:"running_grace" json:"running_grace"`
}

type EventsSection struct {
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`
	Channel   string `yaml:"channel" json:"channel"`
}

// Config is the process-wide operator configuration: read once from the
// environment (with an optional YAML overlay), merged at runtime through
// POST /api/config.
type Config struct {
	mu sync.RWMutex

	Master   MasterSection   `yaml:"master"`
	Bridge   BridgeSection   `yaml:"bridge"`
	Slack    SlackSection    `yaml:"slack"`
	Telegram TelegramSection `yaml:"telegram"`
	Job      JobSection      `yaml:"job"`
	Events   EventsSection   `yaml:"events"`
	Notes    string          `yaml:"notes"`

	updatedAt time.Time
}

func Load(log *logger.Logger) (*Config, error) {
	cfg := &Config{
		Master: MasterSection{
			Host:             utils.GetEnv("MASTER_HOST", "0.0.0.0", log),
			Port:             utils.GetEnvAsInt("MASTER_PORT", 8765, log),
			HTTPHost:         utils.GetEnv("MASTER_HTTP_HOST", "", log),
			HTTPPort:         utils.GetEnvAsInt("MASTER_HTTP_PORT", 8080, log),
			HealthInterval:   utils.GetEnvAsDuration("MASTER_HEALTH_INTERVAL", 15*time.Second, log).Seconds(),
			HealthTimeout:    utils.GetEnvAsDuration("MASTER_HEALTH_TIMEOUT", 5*time.Second, log).Seconds(),
			DispatchInterval: utils.GetEnvAsDuration("MASTER_DISPATCH_INTERVAL", 2*time.Second, log).Seconds(),
			DBPath:           utils.GetEnv("MASTER_DB_PATH", "var/codernetes-master.db", log),
		},
		Bridge: BridgeSection{
			LogLevel:          utils.GetEnv("BRIDGE_LOG_LEVEL", "INFO", log),
			Autostart:         utils.GetEnvAsBool("BRIDGE_AUTOSTART", false, log),
			RemoteDefaultTags: utils.SplitCSV(utils.GetEnv("REMOTE_DEFAULT_TAGS", "staging,linux", log)),
		},
		Slack: SlackSection{
			BotToken:       utils.GetEnv("SLACK_BOT_TOKEN", "", nil),
			DefaultChannel: utils.GetEnv("SLACK_DEFAULT_CHANNEL", "", log),
		},
		Telegram: TelegramSection{
			BotToken:     utils.GetEnv("TELEGRAM_BOT_TOKEN", "", nil),
			ParseMode:    utils.GetEnv("TELEGRAM_PARSE_MODE", "", log),
			AllowedChats: utils.GetEnv("TELEGRAM_ALLOWED_CHATS", "", log),
		},
		Job: JobSection{
			WorkdirRoot:        utils.GetEnv("JOB_WORKDIR_ROOT", "/tmp/codernetes-jobs", log),
			FailRunningOnStart: utils.GetEnvAsBool("MASTER_FAIL_RUNNING_ON_START", false, log),
			RunningGraceSecs:   utils.GetEnvAsDuration("MASTER_RUNNING_GRACE", 0, log).Seconds(),
		},
		Events: EventsSection{
			RedisAddr: utils.GetEnv("REDIS_ADDR", "", log),
			Channel:   utils.GetEnv("MASTER_EVENTS_CHANNEL", "codernetes.jobs", log),
		},
		Notes:     utils.GetEnv("MASTER_NOTES", "", log),
		updatedAt: time.Now().UTC(),
	}

	if file := strings.TrimSpace(os.Getenv("MASTER_CONFIG_FILE")); file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		if log != nil {
			log.Info("Applied config file overlay", "path", file)
		}
	}

	if cfg.Master.HTTPHost == "" {
		cfg.Master.HTTPHost = cfg.Master.Host
	}
	return cfg, nil
}

func (c *Config) HealthInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return secsToDuration(c.Master.HealthInterval, time.Second)
}

func (c *Config) HealthTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return secsToDuration(c.Master.HealthTimeout, time.Second)
}

func (c *Config) DispatchInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return secsToDuration(c.Master.DispatchInterval, time.Second)
}

func (c *Config) WorkdirRoot() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Job.WorkdirRoot
}

func (c *Config) RunningGrace() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return secsToDuration(c.Job.RunningGraceSecs, 0)
}

func secsToDuration(secs float64, min time.Duration) time.Duration {
	d := time.Duration(secs * float64(time.Second))
	if d < min {
		return min
	}
	return d
}

// ApplyUpdate deep-merges a decoded JSON object into the config. Unknown
// sections and keys are ignored; values that fail coercion keep the old
// setting, matching the forgiving semantics of the admin UI.
func (c *Config) ApplyUpdate(data map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := data["master"].(map[string]interface{}); ok {
		if v, ok := asString(m["host"]); ok {
			c.Master.Host = v
		}
		if v, ok := asString(m["http_host"]); ok {
			c.Master.HTTPHost = v
		}
		if v, ok := asInt(m["port"]); ok {
			c.Master.Port = v
		}
		if v, ok := asInt(m["http_port"]); ok {
			c.Master.HTTPPort = v
		}
		if v, ok := asFloat(m["health_interval"]); ok {
			c.Master.HealthInterval = v
		}
		if v, ok := asFloat(m["health_timeout"]); ok {
			c.Master.HealthTimeout = v
		}
		if v, ok := asFloat(m["dispatch_interval"]); ok {
			c.Master.DispatchInterval = v
		}
	}

	if m, ok := data["bridge"].(map[string]interface{}); ok {
		if v, ok := asString(m["log_level"]); ok && v != "" {
			c.Bridge.LogLevel = v
		}
		if v, ok := m["autostart"].(bool); ok {
			c.Bridge.Autostart = v
		}
		if raw, present := m["remote_default_tags"]; present {
			c.Bridge.RemoteDefaultTags = normalizeTags(raw)
		}
	}

	if m, ok := data["slack"].(map[string]interface{}); ok {
		if v, ok := asString(m["bot_token"]); ok {
			c.Slack.BotToken = v
		}
		if v, ok := asString(m["default_channel"]); ok {
			c.Slack.DefaultChannel = v
		}
	}

	if m, ok := data["telegram"].(map[string]interface{}); ok {
		if v, ok := asString(m["bot_token"]); ok {
			c.Telegram.BotToken = v
		}
		if v, ok := asString(m["parse_mode"]); ok {
			c.Telegram.ParseMode = v
		}
		if v, ok := asString(m["allowed_chats"]); ok {
			c.Telegram.AllowedChats = v
		}
	}

	if m, ok := data["job"].(map[string]interface{}); ok {
		if v, ok := asString(m["workdir_root"]); ok && v != "" {
			c.Job.WorkdirRoot = v
		}
	}

	if v, ok := asString(data["notes"]); ok {
		c.Notes = v
	}

	c.updatedAt = time.Now().UTC()
}

// Payload renders the config for the admin API with secrets masked.
func (c *Config) Payload() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tags := append([]string(nil), c.Bridge.RemoteDefaultTags...)
	return map[string]interface{}{
		"master": map[string]interface{}{
			"host":              c.Master.Host,
			"port":              c.Master.Port,
			"http_host":         c.Master.HTTPHost,
			"http_port":         c.Master.HTTPPort,
			"health_interval":   c.Master.HealthInterval,
			"health_timeout":    c.Master.HealthTimeout,
			"dispatch_interval": c.Master.DispatchInterval,
		},
		"bridge": map[string]interface{}{
			"log_level":               c.Bridge.LogLevel,
			"autostart":               c.Bridge.Autostart,
			"remote_default_tags":     tags,
			"remote_default_tags_csv": strings.Join(tags, ", "),
		},
		"slack": map[string]interface{}{
			"default_channel":  c.Slack.DefaultChannel,
			"bot_token_masked": MaskSecret(c.Slack.BotToken),
			"has_token":        c.Slack.BotToken != "",
		},
		"telegram": map[string]interface{}{
			"parse_mode":         c.Telegram.ParseMode,
			"allowed_chats":      c.Telegram.AllowedChats,
			"allowed_chats_list": utils.SplitCSV(c.Telegram.AllowedChats),
			"bot_token_masked":   MaskSecret(c.Telegram.BotToken),
			"has_token":          c.Telegram.BotToken != "",
		},
		"job": map[string]interface{}{
			"workdir_root": c.Job.WorkdirRoot,
		},
		"notes":      c.Notes,
		"updated_at": c.updatedAt.Format(time.RFC3339),
	}
}

// MaskSecret keeps the first and last two characters of a credential.
func MaskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return value[:2] + strings.Repeat("*", len(value)-4) + value[len(value)-2:]
}

func normalizeTags(raw interface{}) []string {
	switch v := raw.(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := asString(item); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		return utils.SplitCSV(v)
	default:
		return nil
	}
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(s), true
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
