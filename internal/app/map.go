package app

import (
	"giftwatch/internal/announce"
	"giftwatch/internal/bili"
	"giftwatch/internal/config"
	"giftwatch/internal/dispatch"
	"giftwatch/internal/pipeline"
	"giftwatch/internal/store"
	"giftwatch/internal/web"
	logx "giftwatch/pkg/logx"
)

// Config file fields map onto component configs here. Duration strings
// were already validated by config.Validate, so parse errors fall back
// to zero (component defaults).

func logxConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func storeConfig(cfg *config.Config) store.Config {
	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	return store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}
}

func senderConfig(cfg *config.Config) bili.Config {
	timeout, _ := config.ParseDurationField("sender.timeout", cfg.Sender.Timeout)
	return bili.Config{
		Credential: bili.Credential{
			SESSDATA: cfg.Sender.Credential.SESSDATA,
			BiliJCT:  cfg.Sender.Credential.BiliJCT,
			Buvid3:   cfg.Sender.Credential.Buvid3,
		},
		RatePerSec: cfg.Sender.RatePerSec,
		Timeout:    timeout,
		UserAgent:  cfg.Sender.UserAgent,
	}
}

func dispatchConfig(cfg *config.Config) dispatch.Config {
	pacing, _ := config.ParseDurationField("dispatch.pacing", cfg.Dispatch.Pacing)
	ceiling, _ := config.ParseDurationField("dispatch.poll_ceiling", cfg.Dispatch.PollCeiling)
	return dispatch.Config{
		RoomID:        cfg.RoomID,
		Pacing:        pacing,
		MaxAttempts:   cfg.Dispatch.MaxAttempts,
		MaxMessageLen: cfg.Dispatch.MaxMessageLen,
		PollCeiling:   ceiling,
	}
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	global, _ := config.ParseDurationField("thanks.global_cooldown", cfg.Thanks.GlobalCooldown)
	user, _ := config.ParseDurationField("thanks.user_cooldown", cfg.Thanks.UserCooldown)
	window, _ := config.ParseDurationField("thanks.debounce_window", cfg.Thanks.DebounceWindow)
	return pipeline.Config{
		RoomID:          cfg.RoomID,
		TargetNames:     cfg.Thanks.TargetGifts,
		TargetIDs:       cfg.Thanks.TargetGiftIDs,
		MinQuantity:     cfg.Thanks.TargetMinNum,
		GlobalCooldown:  global,
		ActorCooldown:   user,
		DailyLimit:      cfg.Thanks.DailyLimit,
		DebounceWindow:  window,
		ThankMembership: cfg.Thanks.ThankMembership,
		Templates: pipeline.Templates{
			Summary:    cfg.Thanks.Templates.Summary,
			Membership: cfg.Thanks.Templates.Membership,
		},
	}
}

func announceConfig(cfg *config.Config) announce.Config {
	if cfg.Announce == nil {
		return announce.Config{}
	}
	return announce.Config{
		Enabled:  cfg.Announce.Enabled,
		Spec:     cfg.Announce.Spec,
		Messages: cfg.Announce.Messages,
	}
}

func webConfig(cfg *config.Config) web.Config {
	out := web.Config{RoomID: cfg.RoomID}
	if cfg.Web != nil {
		out.Enabled = cfg.Web.Enabled
		out.Addr = cfg.Web.Addr
	}
	return out
}
