// Package send 是外发服务商（Resend 兼容 HTTP API）的客户端。
package send

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailfree/backend/internal/apperr"
	"mailfree/backend/internal/config"
)

const (
	defaultBaseURL = "https://api.resend.com"
	requestTimeout = 15 * time.Second
	// 服务商错误响应最多读取的字节数
	maxErrorBody = 4 << 10
)

// ErrNotConfigured 表示未配置 API Key
var ErrNotConfigured = errors.New("resend api key not configured")

// Email 是一封待发送的邮件，字段与前端提交的 JSON 一致
type Email struct {
	From        string      `json:"from"`
	FromName    string      `json:"fromName,omitempty"`
	To          Recipients  `json:"to"`
	Subject     string      `json:"subject"`
	HTML        string      `json:"html,omitempty"`
	Text        string      `json:"text,omitempty"`
	ScheduledAt string      `json:"scheduledAt,omitempty"`
	ReplyTo     *Recipients `json:"replyTo,omitempty"`
}

// Recipients 接受单个字符串或字符串数组
type Recipients []string

// UnmarshalJSON 实现 json.Unmarshaler
func (r *Recipients) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*r = splitRecipients(one)
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	out := make([]string, 0, len(many))
	for _, s := range many {
		out = append(out, splitRecipients(s)...)
	}
	*r = out
	return nil
}

// String 返回逗号分隔的收件人，用于写入发件记录
func (r Recipients) String() string {
	return strings.Join(r, ",")
}

func splitRecipients(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Result 是服务商返回的提交结果
type Result struct {
	ID string `json:"id"`
}

// Provider 抽象外发服务商
type Provider interface {
	Configured() bool
	Send(ctx context.Context, email Email) (*Result, error)
	SendBatch(ctx context.Context, emails []Email) ([]Result, error)
	Get(ctx context.Context, id string) (json.RawMessage, error)
	Update(ctx context.Context, id, scheduledAt string) (json.RawMessage, error)
	Cancel(ctx context.Context, id string) (json.RawMessage, error)
}

// ResendClient 调用 Resend 的 REST 接口
type ResendClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewResendClient 根据配置创建客户端；apiKey 为空时所有调用返回 ErrNotConfigured
func NewResendClient(cfg config.SendConfig, logger *zap.Logger) *ResendClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &ResendClient{
		apiKey:  cfg.ResendAPIKey,
		baseURL: base,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

// Configured 报告是否配置了 API Key
func (c *ResendClient) Configured() bool {
	return c.apiKey != ""
}

// 服务商请求体字段为 snake_case
type resendEmail struct {
	From        string   `json:"from"`
	To          []string `json:"to"`
	Subject     string   `json:"subject"`
	HTML        string   `json:"html,omitempty"`
	Text        string   `json:"text,omitempty"`
	ScheduledAt string   `json:"scheduled_at,omitempty"`
	ReplyTo     []string `json:"reply_to,omitempty"`
}

func toResend(e Email) resendEmail {
	from := strings.TrimSpace(e.From)
	if name := strings.TrimSpace(e.FromName); name != "" && !strings.Contains(from, "<") {
		from = fmt.Sprintf("%s <%s>", name, from)
	}
	out := resendEmail{
		From:        from,
		To:          e.To,
		Subject:     e.Subject,
		HTML:        e.HTML,
		Text:        e.Text,
		ScheduledAt: e.ScheduledAt,
	}
	if e.ReplyTo != nil {
		out.ReplyTo = *e.ReplyTo
	}
	return out
}

// Send 发送单封邮件
func (c *ResendClient) Send(ctx context.Context, email Email) (*Result, error) {
	var res Result
	if err := c.do(ctx, http.MethodPost, "/emails", toResend(email), &res); err != nil {
		return nil, err
	}
	c.logger.Info("email submitted", zap.String("resend_id", res.ID), zap.Int("recipients", len(email.To)))
	return &res, nil
}

// SendBatch 批量发送，返回与输入顺序一致的 ID 列表
func (c *ResendClient) SendBatch(ctx context.Context, emails []Email) ([]Result, error) {
	payload := make([]resendEmail, 0, len(emails))
	for _, e := range emails {
		payload = append(payload, toResend(e))
	}
	var res struct {
		Data []Result `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/emails/batch", payload, &res); err != nil {
		return nil, err
	}
	c.logger.Info("email batch submitted", zap.Int("count", len(res.Data)))
	return res.Data, nil
}

// Get 查询发送结果，原样返回服务商数据
func (c *ResendClient) Get(ctx context.Context, id string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/emails/"+url.PathEscape(id), nil, &raw)
	return raw, err
}

// Update 修改定时发送时间
func (c *ResendClient) Update(ctx context.Context, id, scheduledAt string) (json.RawMessage, error) {
	var raw json.RawMessage
	body := map[string]string{"scheduled_at": scheduledAt}
	err := c.do(ctx, http.MethodPatch, "/emails/"+url.PathEscape(id), body, &raw)
	return raw, err
}

// Cancel 取消定时发送
func (c *ResendClient) Cancel(ctx context.Context, id string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodPost, "/emails/"+url.PathEscape(id)+"/cancel", nil, &raw)
	return raw, err
}

func (c *ResendClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Provider(err.Error(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg := providerMessage(resp)
		c.logger.Warn("provider request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg),
		)
		return apperr.Provider(msg, fmt.Errorf("resend %s %s: status %d", method, path, resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Provider("服务商响应无法解析", err)
	}
	return nil
}

// providerMessage 提取服务商错误响应中的 message 字段
func providerMessage(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if s := strings.TrimSpace(string(data)); s != "" {
		return s
	}
	return http.StatusText(resp.StatusCode)
}
