package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Cyvadra/tv-bridge/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const telegramAPI = "https://api.telegram.org"

// TradeNotice describes a finished trade attempt for notification endpoints
type TradeNotice struct {
	Account   string    `json:"account,omitempty"`
	Symbol    string    `json:"symbol"`
	Action    string    `json:"action"`
	Volume    float64   `json:"volume"`
	Price     float64   `json:"price,omitempty"`
	Ticket    string    `json:"ticket,omitempty"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	AlertID   uint      `json:"alert_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ForwardService forwards trade outcomes to downstream endpoints
type ForwardService struct {
	client    *resty.Client
	endpoints []config.EndpointConfig
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewForwardService creates a new forward service
func NewForwardService(endpoints []config.EndpointConfig, logger *zap.Logger) *ForwardService {
	return &ForwardService{
		client:    resty.New().SetTimeout(10 * time.Second),
		endpoints: endpoints,
		logger:    logger.Named("forward"),
	}
}

// Notify forwards a notice to every active endpoint in the background
func (s *ForwardService) Notify(notice *TradeNotice) {
	if s == nil || notice == nil {
		return
	}

	for _, endpoint := range s.endpoints {
		if !endpoint.IsActive {
			continue
		}

		s.wg.Add(1)
		go func(ep config.EndpointConfig) {
			defer s.wg.Done()
			if err := s.forwardToEndpoint(context.Background(), notice, ep); err != nil {
				s.logger.Warn("failed to forward trade notice",
					zap.String("endpoint", ep.Name),
					zap.String("type", ep.Type),
					zap.Error(err))
			}
		}(endpoint)
	}
}

// Send forwards a notice to every active endpoint and waits for the answers
func (s *ForwardService) Send(ctx context.Context, notice *TradeNotice) error {
	var errs []error
	for _, endpoint := range s.endpoints {
		if !endpoint.IsActive {
			continue
		}
		if err := s.forwardToEndpoint(ctx, notice, endpoint); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", endpoint.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until background notifications have finished
func (s *ForwardService) Wait() {
	if s != nil {
		s.wg.Wait()
	}
}

// forwardToEndpoint forwards a notice to a specific endpoint
func (s *ForwardService) forwardToEndpoint(ctx context.Context, notice *TradeNotice, endpoint config.EndpointConfig) error {
	switch endpoint.Type {
	case "telegram":
		return s.forwardToTelegram(ctx, notice, endpoint)
	case "wechat", "dingtalk":
		return s.forwardAsText(ctx, notice, endpoint)
	case "webhook":
		return s.forwardToWebhook(ctx, notice, endpoint)
	default:
		return fmt.Errorf("unsupported endpoint type: %s", endpoint.Type)
	}
}

// forwardToTelegram sends the notice through the bot API; URL overrides the API host
func (s *ForwardService) forwardToTelegram(ctx context.Context, notice *TradeNotice, endpoint config.EndpointConfig) error {
	base := telegramAPI
	if endpoint.URL != "" {
		base = strings.TrimRight(endpoint.URL, "/")
	}

	payload := map[string]interface{}{
		"chat_id":    endpoint.ChatID,
		"text":       formatTelegramMessage(notice),
		"parse_mode": "HTML",
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(fmt.Sprintf("%s/bot%s/sendMessage", base, endpoint.Token))

	if err != nil {
		return fmt.Errorf("telegram API request failed: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode(), resp.String())
	}

	return nil
}

// forwardAsText posts a plain text message, the format shared by WeChat Work and DingTalk robots
func (s *ForwardService) forwardAsText(ctx context.Context, notice *TradeNotice, endpoint config.EndpointConfig) error {
	payload := map[string]interface{}{
		"msgtype": "text",
		"text": map[string]string{
			"content": formatTextMessage(notice),
		},
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(endpoint.URL)

	if err != nil {
		return fmt.Errorf("%s API request failed: %w", endpoint.Type, err)
	}

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%s API returned status %d: %s", endpoint.Type, resp.StatusCode(), resp.String())
	}

	return nil
}

// forwardToWebhook posts the notice as JSON to a generic webhook
func (s *ForwardService) forwardToWebhook(ctx context.Context, notice *TradeNotice, endpoint config.EndpointConfig) error {
	req := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(notice)
	if endpoint.Token != "" {
		req.SetAuthToken(endpoint.Token)
	}

	resp, err := req.Post(endpoint.URL)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode(), resp.String())
	}

	return nil
}

func noticeTitle(notice *TradeNotice) string {
	if notice.Success {
		return "Trade Executed"
	}
	return "Trade Failed"
}

// formatTelegramMessage formats the notice for Telegram
func formatTelegramMessage(notice *TradeNotice) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("<b>%s</b>\n\n", noticeTitle(notice)))
	if notice.Account != "" {
		sb.WriteString(fmt.Sprintf("<b>Account:</b> %s\n", notice.Account))
	}
	sb.WriteString(fmt.Sprintf("<b>Symbol:</b> %s\n", notice.Symbol))
	sb.WriteString(fmt.Sprintf("<b>Action:</b> %s\n", notice.Action))
	if notice.Volume > 0 {
		sb.WriteString(fmt.Sprintf("<b>Volume:</b> %g\n", notice.Volume))
	}
	if notice.Price > 0 {
		sb.WriteString(fmt.Sprintf("<b>Price:</b> %g\n", notice.Price))
	}
	if notice.Ticket != "" {
		sb.WriteString(fmt.Sprintf("<b>Ticket:</b> %s\n", notice.Ticket))
	}
	sb.WriteString(fmt.Sprintf("<b>Message:</b> %s\n", notice.Message))
	sb.WriteString(fmt.Sprintf("<b>Time:</b> %s", notice.Timestamp.Format("2006-01-02 15:04:05")))
	return sb.String()
}

// formatTextMessage formats the notice for WeChat and DingTalk
func formatTextMessage(notice *TradeNotice) string {
	var sb strings.Builder
	sb.WriteString(noticeTitle(notice) + "\n\n")
	if notice.Account != "" {
		sb.WriteString(fmt.Sprintf("Account: %s\n", notice.Account))
	}
	sb.WriteString(fmt.Sprintf("Symbol: %s\n", notice.Symbol))
	sb.WriteString(fmt.Sprintf("Action: %s\n", notice.Action))
	if notice.Volume > 0 {
		sb.WriteString(fmt.Sprintf("Volume: %g\n", notice.Volume))
	}
	if notice.Ticket != "" {
		sb.WriteString(fmt.Sprintf("Ticket: %s\n", notice.Ticket))
	}
	sb.WriteString(fmt.Sprintf("Message: %s\n", notice.Message))
	sb.WriteString(fmt.Sprintf("Time: %s", notice.Timestamp.Format("2006-01-02 15:04:05")))
	return sb.String()
}
