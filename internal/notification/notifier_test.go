package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"dbaudit/internal/config"
	"dbaudit/internal/logger"

	"github.com/stretchr/testify/require"
)

func TestWebhookNotifierSend(t *testing.T) {
	var received map[string]any
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Token")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(config.WebhookConfig{
		Enabled: true,
		URL:     srv.URL,
		Headers: map[string]string{"X-Token": "secret"},
	})

	err := n.Send(context.Background(), &Message{
		Subject:   "[SQL上线]工单审核通过",
		Body:      "工单标题：订单表变更",
		DetailURL: "https://dbaudit.example.com/workflow/sqlreview/1",
	})
	require.NoError(t, err)

	require.Equal(t, "secret", gotHeader)
	require.Equal(t, "text", received["msgtype"])
	text := received["text"].(map[string]any)["content"].(string)
	require.Contains(t, text, "工单审核通过")
	require.Contains(t, text, "工单详情：https://dbaudit.example.com/workflow/sqlreview/1")
}

func TestWebhookNotifierErrors(t *testing.T) {
	// URL 未配置
	n := NewWebhookNotifier(config.WebhookConfig{Enabled: true})
	require.Error(t, n.Send(context.Background(), &Message{Subject: "s"}))

	// 非 2xx 状态
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	n = NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL})
	require.Error(t, n.Send(context.Background(), &Message{Subject: "s"}))
}

// stubNotifier 可注入失败的通道桩
type stubNotifier struct {
	name string
	err  error
	sent int
}

func (s *stubNotifier) Send(ctx context.Context, msg *Message) error {
	s.sent++
	return s.err
}

func (s *stubNotifier) Channel() string { return s.name }

func TestMultiNotifierContinuesOnFailure(t *testing.T) {
	failing := &stubNotifier{name: "email", err: errors.New("SMTP 不可达")}
	healthy := &stubNotifier{name: "webhook"}
	m := &MultiNotifier{notifiers: []Notifier{failing, healthy}, logger: logger.Get()}

	err := m.Send(context.Background(), &Message{Subject: "s"})
	require.Error(t, err)
	require.Equal(t, 1, failing.sent)
	require.Equal(t, 1, healthy.sent)
}

func TestEmailNotifierSkipsWithoutRecipients(t *testing.T) {
	n := NewEmailNotifier(config.EmailConfig{Enabled: true})
	require.NoError(t, n.Send(context.Background(), &Message{Subject: "s"}))
}
