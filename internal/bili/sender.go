// Package bili is the outbound channel: it delivers one text message
// (danmaku) to one live room and classifies the platform's rejections.
package bili

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "giftwatch/pkg/logx"
)

// Delivery error taxonomy. The dispatch worker branches on these:
// throttling backs off one pacing interval, too-long truncates and
// retries once, anything else reschedules with the error recorded.
var (
	ErrThrottled = errors.New("bili: sending too fast")
	ErrTooLong   = errors.New("bili: message too long")
)

// Sender delivers one text message to one room.
type Sender interface {
	Send(ctx context.Context, roomID int64, body string) error
}

// Credential is a pre-established session. Obtaining/refreshing it is
// outside this process; it comes straight from config/.env.
type Credential struct {
	SESSDATA string
	BiliJCT  string
	Buvid3   string
}

func (c Credential) Ready() bool { return c.SESSDATA != "" && c.BiliJCT != "" }

type Config struct {
	Credential Credential
	RatePerSec int           // client-side guard; platform pacing is the queue's job
	Timeout    time.Duration // per-request
	UserAgent  string
}

const (
	sendEndpoint     = "https://api.live.bilibili.com/msg/send"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"
)

// Client posts danmaku over the platform's HTTP API.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func NewClient(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}
}

type apiReply struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Msg     string `json:"msg"`
}

func (c *Client) Send(ctx context.Context, roomID int64, body string) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	if !c.cfg.Credential.Ready() {
		return errors.New("bili: credential not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("roomid", strconv.FormatInt(roomID, 10))
	form.Set("msg", body)
	form.Set("csrf", c.cfg.Credential.BiliJCT)
	form.Set("csrf_token", c.cfg.Credential.BiliJCT)
	form.Set("rnd", strconv.FormatInt(time.Now().Unix(), 10))
	form.Set("color", "16777215")
	form.Set("fontsize", "25")
	form.Set("mode", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Referer", "https://live.bilibili.com/")
	req.AddCookie(&http.Cookie{Name: "SESSDATA", Value: c.cfg.Credential.SESSDATA})
	req.AddCookie(&http.Cookie{Name: "bili_jct", Value: c.cfg.Credential.BiliJCT})
	if c.cfg.Credential.Buvid3 != "" {
		req.AddCookie(&http.Cookie{Name: "buvid3", Value: c.cfg.Credential.Buvid3})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bili: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPreconditionFailed {
		// 412 is the platform's request-flood guard.
		return fmt.Errorf("%w: http 412", ErrThrottled)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bili: send http %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("bili: read reply: %w", err)
	}
	var reply apiReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return fmt.Errorf("bili: decode reply: %w", err)
	}
	msg := reply.Message
	if msg == "" {
		msg = reply.Msg
	}
	return classify(reply.Code, msg)
}

// classify maps the platform's (code, message) pair onto the error
// taxonomy. Codes are not fully documented upstream, so the message text
// is consulted too.
func classify(code int, message string) error {
	if code == 0 {
		return nil
	}
	switch code {
	case 10030, 10031, -412:
		return fmt.Errorf("%w: code %d %s", ErrThrottled, code, message)
	}
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(message, "频率") || strings.Contains(lower, "msg in"):
		return fmt.Errorf("%w: code %d %s", ErrThrottled, code, message)
	case strings.Contains(message, "超出限制长度") || strings.Contains(lower, "too long"):
		return fmt.Errorf("%w: code %d %s", ErrTooLong, code, message)
	}
	return fmt.Errorf("bili: send rejected: code %d %s", code, message)
}
