// engine/internal/config/config.go
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Rule is one fallback classification rule: the first rule with any matching
// phrase decides the intent.
type Rule struct {
	Intent     string   `yaml:"intent"`
	Confidence float64  `yaml:"confidence"`
	Any        []string `yaml:"any"`
}

type Target struct {
	Keyword    string   `yaml:"keyword"`
	Subreddits []string `yaml:"subreddits"`
}

type ForumConfig struct {
	ClientID                  string        `yaml:"client_id"`
	ClientSecret              string        `yaml:"client_secret"`
	Username                  string        `yaml:"username"`
	Password                  string        `yaml:"password"`
	UserAgent                 string        `yaml:"user_agent"`
	BaseURL                   string        `yaml:"base_url"`
	AuthURL                   string        `yaml:"auth_url"`
	RequestsPerMinute         int           `yaml:"requests_per_minute"`
	MinSecondsBetweenComments int           `yaml:"min_seconds_between_comments"`
	RequestTimeout            time.Duration `yaml:"request_timeout"`
}

type ScanConfig struct {
	Schedule         string             `yaml:"schedule"`
	Lookback         time.Duration      `yaml:"lookback"`
	TopN             int                `yaml:"top_n"`
	Budget           time.Duration      `yaml:"budget"`
	FetchConcurrency int                `yaml:"fetch_concurrency"`
	FetchTimeout     time.Duration      `yaml:"fetch_timeout"`
	MinScore         int                `yaml:"min_score"`
	MinComments      int                `yaml:"min_comments"`
	Targets          []Target           `yaml:"targets"`
	SubredditWeights map[string]float64 `yaml:"subreddit_weights"`
	Backoff          struct {
		Initial time.Duration `yaml:"initial"`
		Max     time.Duration `yaml:"max"`
	} `yaml:"backoff"`
}

type ClassifyConfig struct {
	Rules      []Rule        `yaml:"rules"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type AIConfig struct {
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	MaxTokensClassify int           `yaml:"max_tokens_classify"`
	MaxTokensDraft    int           `yaml:"max_tokens_draft"`
	Timeout           time.Duration `yaml:"timeout"`
}

type Service struct {
	Name      string   `yaml:"name"`
	ValueProp string   `yaml:"value_prop"`
	Keywords  []string `yaml:"keywords"`
}

type Company struct {
	Name     string             `yaml:"name"`
	Services map[string]Service `yaml:"services"`
}

type SubredditAdjustment struct {
	Tone       string   `yaml:"tone"`
	CanMention []string `yaml:"can_mention"`
}

type IntentAdjustment struct {
	Approach string `yaml:"approach"`
}

type StyleExample struct {
	Context  string `yaml:"context"`
	Response string `yaml:"response"`
}

type DraftConfig struct {
	Intents              []string                       `yaml:"intents"`
	MinConfidence        float64                        `yaml:"min_confidence"`
	Company              Company                        `yaml:"company"`
	SystemPrompt         string                         `yaml:"system_prompt"`
	SubredditAdjustments map[string]SubredditAdjustment `yaml:"subreddit_adjustments"`
	IntentAdjustments    map[string]IntentAdjustment    `yaml:"intent_adjustments"`
	StyleExamples        []StyleExample                 `yaml:"style_examples"`
}

type ApprovalConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	TokenSecret string        `yaml:"token_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	LinkBaseURL string        `yaml:"link_base_url"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	APIBase  string `yaml:"api_base"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

type IMAPConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Mailbox  string        `yaml:"mailbox"`
	Interval time.Duration `yaml:"interval"`
}

type NotifyConfig struct {
	Channels    []string       `yaml:"channels"`
	MaxAttempts int            `yaml:"max_attempts"`
	RetryDelay  time.Duration  `yaml:"retry_delay"`
	Telegram    TelegramConfig `yaml:"telegram"`
	Webhook     struct {
		URL string `yaml:"url"`
	} `yaml:"webhook"`
	SMTP SMTPConfig `yaml:"smtp"`
	IMAP IMAPConfig `yaml:"imap"`
}

type Config struct {
	App struct {
		Port      int    `yaml:"port"`
		DataDir   string `yaml:"data_dir"`
		LogLevel  string `yaml:"log_level"`
		LogFormat string `yaml:"log_format"`
	} `yaml:"app"`

	Database struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`

	Forum    ForumConfig    `yaml:"forum"`
	Scan     ScanConfig     `yaml:"scan"`
	Classify ClassifyConfig `yaml:"classify"`
	AI       AIConfig       `yaml:"ai"`
	Draft    DraftConfig    `yaml:"draft"`
	Approval ApprovalConfig `yaml:"approval"`
	Notify   NotifyConfig   `yaml:"notify"`
}

func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	err = yaml.Unmarshal(b, &cfg)
	return cfg, err
}

// Parse decodes YAML bytes; used for embedded defaults and tests.
func Parse(b []byte) (Config, error) {
	var cfg Config
	err := yaml.Unmarshal(b, &cfg)
	return cfg, err
}
