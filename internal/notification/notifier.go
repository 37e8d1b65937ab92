package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"dbaudit/internal/config"
	"dbaudit/internal/logger"
	"dbaudit/internal/metrics"

	"go.uber.org/zap"
)

// Notifier 通知器接口
type Notifier interface {
	Send(ctx context.Context, msg *Message) error
	Channel() string
}

// Message 一条待发送的审批通知
type Message struct {
	Subject    string   // 主题
	Body       string   // 正文
	Recipients []string // 邮件收件人，webhook 渠道忽略
	DetailURL  string   // 工单详情页地址
}

// MultiNotifier 多通道通知器，逐通道发送，单通道失败不影响其他通道
type MultiNotifier struct {
	notifiers []Notifier
	logger    *zap.Logger
}

// NewMultiNotifier 根据配置创建已启用的通知通道
func NewMultiNotifier(cfg config.NotifyConfig) *MultiNotifier {
	m := &MultiNotifier{logger: logger.Get()}
	if cfg.Email.Enabled {
		m.notifiers = append(m.notifiers, NewEmailNotifier(cfg.Email))
	}
	if cfg.Webhook.Enabled {
		m.notifiers = append(m.notifiers, NewWebhookNotifier(cfg.Webhook))
	}
	return m
}

// Send 发送到所有已启用通道，返回最后一个发送错误
func (m *MultiNotifier) Send(ctx context.Context, msg *Message) error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, msg); err != nil {
			metrics.NotificationsTotal.WithLabelValues(n.Channel(), "failed").Inc()
			m.logger.Warn("通知发送失败",
				zap.String("channel", n.Channel()),
				zap.String("subject", msg.Subject),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(n.Channel(), "sent").Inc()
	}
	return lastErr
}

// EmailNotifier SMTP 邮件通知器
type EmailNotifier struct {
	cfg config.EmailConfig
}

// NewEmailNotifier 创建邮件通知器
func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	return &EmailNotifier{cfg: cfg}
}

func (e *EmailNotifier) Channel() string { return "email" }

// Send 发送邮件
func (e *EmailNotifier) Send(ctx context.Context, msg *Message) error {
	if len(msg.Recipients) == 0 {
		return nil
	}

	var mime bytes.Buffer
	mime.WriteString(fmt.Sprintf("From: %s <%s>\r\n", e.cfg.FromName, e.cfg.From))
	mime.WriteString(fmt.Sprintf("To: %s\r\n", msg.Recipients[0]))
	mime.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	mime.WriteString("MIME-Version: 1.0\r\n")
	mime.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	mime.WriteString("\r\n")
	mime.WriteString(msg.Body)
	if msg.DetailURL != "" {
		mime.WriteString("\r\n\r\n工单详情：" + msg.DetailURL)
	}

	auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.SMTPHost)
	addr := fmt.Sprintf("%s:%d", e.cfg.SMTPHost, e.cfg.SMTPPort)
	if err := smtp.SendMail(addr, auth, e.cfg.From, msg.Recipients, mime.Bytes()); err != nil {
		return fmt.Errorf("发送邮件失败: %w", err)
	}
	return nil
}

// WebhookNotifier IM 机器人 Webhook 通知器，钉钉/飞书/企业微信风格的 text 消息
type WebhookNotifier struct {
	cfg    config.WebhookConfig
	client *http.Client
}

// NewWebhookNotifier 创建 Webhook 通知器
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (w *WebhookNotifier) Channel() string { return "webhook" }

// Send 推送机器人消息
func (w *WebhookNotifier) Send(ctx context.Context, msg *Message) error {
	if w.cfg.URL == "" {
		return fmt.Errorf("webhook URL 未配置")
	}

	text := msg.Subject + "\n" + msg.Body
	if msg.DetailURL != "" {
		text += "\n工单详情：" + msg.DetailURL
	}
	payload, err := json.Marshal(map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": text},
	})
	if err != nil {
		return fmt.Errorf("序列化 Webhook 负载失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("创建 Webhook 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送 Webhook 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhook 返回错误状态: %d", resp.StatusCode)
	}
	return nil
}
