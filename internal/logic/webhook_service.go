package logic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/pccr10001/jinglegw/internal/model"
	"github.com/pccr10001/jinglegw/internal/repository"
	"github.com/pccr10001/jinglegw/pkg/logger"
)

const defaultTemplate = "Call {{.Name}} ({{.Direction}}) with {{.Remote}} ended: {{.Cause}} after {{.Duration}}"

type WebhookService struct {
	repo   *repository.WebhookRepository
	client *http.Client
	wg     sync.WaitGroup
}

func NewWebhookService(repo *repository.WebhookRepository) *WebhookService {
	return &WebhookService{
		repo:   repo,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// notification is what webhook templates render against.
type notification struct {
	model.CallRecord
	Duration time.Duration
}

// Dispatch posts a call-ended notification to every webhook of the call's
// profile. Each webhook is sent from its own goroutine.
func (s *WebhookService) Dispatch(rec *model.CallRecord) {
	webhooks, err := s.repo.FindByProfile(rec.Profile)
	if err != nil {
		logger.Log.Errorf("Failed to fetch webhooks for profile %s: %v", rec.Profile, err)
		return
	}

	n := notification{CallRecord: *rec, Duration: rec.Duration().Round(time.Second)}
	for _, wh := range webhooks {
		s.wg.Add(1)
		go func(wh model.Webhook) {
			defer s.wg.Done()
			s.sendWebhook(wh, n)
		}(wh)
	}
}

// Wait blocks until in-flight webhooks have been sent.
func (s *WebhookService) Wait() {
	s.wg.Wait()
}

func render(text string, n notification) string {
	if text == "" {
		text = defaultTemplate
	}
	tmpl, err := template.New("msg").Parse(text)
	if err != nil {
		logger.Log.Warnf("Invalid webhook template %q: %v", text, err)
		return fmt.Sprintf("Call %s ended: %s", n.Name, n.Cause)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, n); err != nil {
		logger.Log.Warnf("Webhook template failed: %v", err)
		return fmt.Sprintf("Call %s ended: %s", n.Name, n.Cause)
	}
	return buf.String()
}

func payloadFor(wh model.Webhook, n notification) ([]byte, error) {
	content := render(wh.Template, n)

	switch {
	case wh.Platform == "slack" || strings.Contains(wh.URL, "slack.com"):
		return json.Marshal(map[string]interface{}{"text": content})
	case wh.Platform == "telegram":
		body := map[string]interface{}{
			"text":       content,
			"parse_mode": "Markdown",
		}
		if wh.ChannelID != "" {
			body["chat_id"] = wh.ChannelID
		}
		return json.Marshal(body)
	default:
		return json.Marshal(map[string]interface{}{
			"text": content,
			"call": n.CallRecord,
		})
	}
}

func (s *WebhookService) sendWebhook(wh model.Webhook, n notification) {
	payload, err := payloadFor(wh, n)
	if err != nil {
		logger.Log.Errorf("Failed to marshal webhook payload: %v", err)
		return
	}

	req, err := http.NewRequest("POST", wh.URL, bytes.NewBuffer(payload))
	if err != nil {
		logger.Log.Errorf("Failed to create request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		logger.Log.Errorf("Failed to send webhook to %s: %v", wh.URL, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		logger.Log.Errorf("Webhook %s returned status: %d", wh.URL, resp.StatusCode)
	} else {
		logger.Log.Infof("Webhook sent to %s", wh.URL)
	}
}
