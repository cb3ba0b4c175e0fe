package config

import (
	"reflect"
	"strings"

	logx "giftwatch/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus
// safe structured attrs for logging. Credential values are never
// included; only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if oldCfg.RoomID != newCfg.RoomID {
		changed = append(changed, "room")
		attrs = append(attrs, logx.Int64("room_id", newCfg.RoomID))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.path", strings.TrimSpace(newCfg.Storage.Path)),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Thanks, newCfg.Thanks) {
		changed = append(changed, "thanks")
		attrs = append(attrs,
			logx.Int("thanks.target_gifts", len(newCfg.Thanks.TargetGifts)),
			logx.Int("thanks.target_gift_ids", len(newCfg.Thanks.TargetGiftIDs)),
			logx.Int("thanks.target_min_num", newCfg.Thanks.TargetMinNum),
			logx.String("thanks.global_cooldown", strings.TrimSpace(newCfg.Thanks.GlobalCooldown)),
			logx.String("thanks.user_cooldown", strings.TrimSpace(newCfg.Thanks.UserCooldown)),
			logx.Int("thanks.daily_limit", newCfg.Thanks.DailyLimit),
			logx.String("thanks.debounce_window", strings.TrimSpace(newCfg.Thanks.DebounceWindow)),
			logx.Bool("thanks.thank_membership", newCfg.Thanks.ThankMembership),
		)
	}

	// Sender (never log credential values)
	if oldCfg.Sender != newCfg.Sender {
		changed = append(changed, "sender")
		attrs = append(attrs,
			logx.Int("sender.rate_per_sec", newCfg.Sender.RatePerSec),
			logx.String("sender.timeout", strings.TrimSpace(newCfg.Sender.Timeout)),
			logx.Bool("sender.credential_set", credentialSet(newCfg.Sender.Credential)),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.pacing", strings.TrimSpace(newCfg.Dispatch.Pacing)),
			logx.Int("dispatch.max_attempts", newCfg.Dispatch.MaxAttempts),
			logx.Int("dispatch.max_message_len", newCfg.Dispatch.MaxMessageLen),
		)
	}

	// Announce: section may be nil (omitted); treat nil as disabled.
	oA := derefAnnounce(oldCfg.Announce)
	nA := derefAnnounce(newCfg.Announce)
	if !reflect.DeepEqual(oA, nA) {
		changed = append(changed, "announce")
		attrs = append(attrs,
			logx.Bool("announce.enabled", nA.Enabled),
			logx.String("announce.spec", strings.TrimSpace(nA.Spec)),
			logx.Int("announce.messages", len(nA.Messages)),
		)
	}

	oW := derefWeb(oldCfg.Web)
	nW := derefWeb(newCfg.Web)
	if oW != nW {
		changed = append(changed, "web")
		attrs = append(attrs,
			logx.Bool("web.enabled", nW.Enabled),
			logx.String("web.addr", strings.TrimSpace(nW.Addr)),
		)
	}

	return changed, attrs
}

func credentialSet(c CredentialConfig) bool {
	return strings.TrimSpace(c.SESSDATA) != "" &&
		strings.TrimSpace(c.BiliJCT) != ""
}

func derefAnnounce(a *AnnounceConfig) AnnounceConfig {
	if a == nil {
		return AnnounceConfig{}
	}
	return *a
}

func derefWeb(w *WebConfig) WebConfig {
	if w == nil {
		return WebConfig{}
	}
	return *w
}
