package config

import (
	"fmt"
	"os"
	"strings"
)

type Config struct {
	// RoomID is the live room being watched. Required.
	RoomID int64 `json:"room_id"`

	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`

	Thanks   ThanksConfig   `json:"thanks"`
	Sender   SenderConfig   `json:"sender"`
	Dispatch DispatchConfig `json:"dispatch"`

	Announce *AnnounceConfig `json:"announce,omitempty"`
	Web      *WebConfig      `json:"web,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the sqlite file backing gift history and the
// outbound queue.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// ThanksConfig controls which gifts get acknowledged and how often.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Cooldowns and the daily limit default to 0 (disabled).
type ThanksConfig struct {
	// TargetGifts match by display name (case and width folded).
	TargetGifts []string `json:"target_gifts"`
	// TargetGiftIDs match by numeric gift id; zero entries are ignored.
	TargetGiftIDs []int64 `json:"target_gift_ids,omitempty"`
	// TargetMinNum is the cumulative per-day threshold step. A reply
	// fires each time an actor's daily total crosses the next multiple.
	TargetMinNum int `json:"target_min_num"`

	GlobalCooldown string `json:"global_cooldown,omitempty"`
	UserCooldown   string `json:"user_cooldown,omitempty"`
	DailyLimit     int    `json:"daily_limit,omitempty"`

	// DebounceWindow merges a burst of gifts from one actor into a
	// single summary reply. Default "5s".
	DebounceWindow string `json:"debounce_window,omitempty"`

	ThankMembership bool `json:"thank_membership"`

	Templates TemplatesConfig `json:"templates"`
}

// TemplatesConfig holds user-facing reply text. Empty fields fall back
// to built-in defaults.
type TemplatesConfig struct {
	// Summary gets {uname} and {gifts}.
	Summary string `json:"summary,omitempty"`
	// Membership gets {uname} and {guard_name}.
	Membership string `json:"membership,omitempty"`
}

// SenderConfig controls the outbound danmaku HTTP client.
type SenderConfig struct {
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Timeout    string `json:"timeout,omitempty"` // Go duration string
	UserAgent  string `json:"user_agent,omitempty"`

	Credential CredentialConfig `json:"credential"`
}

// CredentialConfig carries the platform session cookies. Values may be
// left empty in the file and supplied via environment variables
// instead (SESSDATA, BILI_JCT, BUVID3); env wins. Never log these.
type CredentialConfig struct {
	SESSDATA string `json:"sessdata,omitempty"`
	BiliJCT  string `json:"bili_jct,omitempty"`
	Buvid3   string `json:"buvid3,omitempty"`
}

// DispatchConfig controls the paced delivery queue.
type DispatchConfig struct {
	// Pacing is the minimum gap between two consecutive sends.
	Pacing string `json:"pacing,omitempty"`
	// MaxAttempts bounds retries for non-throttling delivery errors.
	MaxAttempts int `json:"max_attempts,omitempty"`
	// MaxMessageLen is the platform's danmaku length cap, in runes.
	MaxMessageLen int    `json:"max_message_len,omitempty"`
	PollCeiling   string `json:"poll_ceiling,omitempty"`
}

// AnnounceConfig controls scheduled rotating announcements. Spec is a
// cron expression (robfig/cron, "@every 10m" accepted).
type AnnounceConfig struct {
	Enabled  bool     `json:"enabled"`
	Spec     string   `json:"spec"`
	Messages []string `json:"messages"`
}

type WebConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8182"
}

// applyEnvCredential overlays credential values from the environment.
// The process env (optionally seeded from .env by the caller) always
// wins over the file so secrets can stay out of the config.
func applyEnvCredential(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SESSDATA")); v != "" {
		cfg.Sender.Credential.SESSDATA = v
	}
	if v := strings.TrimSpace(os.Getenv("BILI_JCT")); v != "" {
		cfg.Sender.Credential.BiliJCT = v
	}
	if v := strings.TrimSpace(os.Getenv("BUVID3")); v != "" {
		cfg.Sender.Credential.Buvid3 = v
	}
}

// Validate checks the parts of cfg that would otherwise only fail deep
// inside a component, so a bad edit is rejected before publish.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.RoomID <= 0 {
		return fmt.Errorf("room_id: must be > 0")
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path: required")
	}
	for _, f := range []struct{ path, raw string }{
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"thanks.global_cooldown", cfg.Thanks.GlobalCooldown},
		{"thanks.user_cooldown", cfg.Thanks.UserCooldown},
		{"thanks.debounce_window", cfg.Thanks.DebounceWindow},
		{"sender.timeout", cfg.Sender.Timeout},
		{"dispatch.pacing", cfg.Dispatch.Pacing},
		{"dispatch.poll_ceiling", cfg.Dispatch.PollCeiling},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if cfg.Thanks.DailyLimit < 0 {
		return fmt.Errorf("thanks.daily_limit: must be >= 0")
	}
	if cfg.Dispatch.MaxAttempts < 0 {
		return fmt.Errorf("dispatch.max_attempts: must be >= 0")
	}
	if len(cfg.Thanks.TargetGifts) == 0 && len(cfg.Thanks.TargetGiftIDs) == 0 &&
		!cfg.Thanks.ThankMembership {
		return fmt.Errorf("thanks: no target gifts and thank_membership is off; nothing to do")
	}
	if cfg.Announce != nil && cfg.Announce.Enabled {
		if strings.TrimSpace(cfg.Announce.Spec) == "" {
			return fmt.Errorf("announce.spec: required when enabled")
		}
		if len(cfg.Announce.Messages) == 0 {
			return fmt.Errorf("announce.messages: required when enabled")
		}
	}
	return nil
}
