package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/engagekit/campaign-engine/internal/model"
)

// HTTPProvider posts sends to a channel provider's HTTP API. One
// instance per channel kind, guarded by a circuit breaker.
type HTTPProvider struct {
	kind     model.ChannelKind
	baseURL  string
	sendPath string
	client   *http.Client
	br       *Breaker
}

func NewHTTPProvider(kind model.ChannelKind, baseURL, sendPath string, timeoutMs, failThreshold, openForMs int) *HTTPProvider {
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}

	if failThreshold <= 0 {
		failThreshold = 3
	}

	if openForMs <= 0 {
		openForMs = 15000
	}

	return &HTTPProvider{
		kind:     kind,
		baseURL:  baseURL,
		sendPath: sendPath,
		client:   &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:       NewBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

func (p *HTTPProvider) Kind() model.ChannelKind { return p.kind }

// sendPayload is the wire shape shared by the channel provider APIs.
type sendPayload struct {
	JobID      string `json:"job_id"`
	CampaignID string `json:"campaign_id"`
	CustomerID int64  `json:"customer_id"`
	ChannelID  string `json:"channel_id"`
	Content    string `json:"content"`
}

func (p *HTTPProvider) Send(ctx context.Context, job model.QueueJob, content string) error {
	if !p.br.TryAcquire() {
		return fmt.Errorf("transport %s: circuit open", p.kind)
	}

	err := p.post(ctx, job, content)
	if err == nil {
		p.br.OnSuccess()
		return nil
	}
	// Permanent rejections say nothing about provider health.
	if Permanent(err) {
		p.br.OnSuccess()
		return err
	}
	p.br.OnFailure()
	return err
}

func (p *HTTPProvider) post(ctx context.Context, job model.QueueJob, content string) error {
	b, _ := json.Marshal(sendPayload{
		JobID:      job.ID,
		CampaignID: job.CampaignID,
		CustomerID: job.CustomerID,
		ChannelID:  job.ChannelID,
		Content:    content,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.sendPath, bytes.NewReader(b))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return err
	}

	defer res.Body.Close()

	switch {
	case res.StatusCode/100 == 2:
		return nil
	case res.StatusCode == http.StatusRequestTimeout || res.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("transport %s: status=%d", p.kind, res.StatusCode)
	case res.StatusCode/100 == 4:
		// Invalid recipient or payload; retrying cannot help.
		return &PermanentError{Err: fmt.Errorf("transport %s: rejected status=%d", p.kind, res.StatusCode)}
	default:
		return fmt.Errorf("transport %s: status=%d", p.kind, res.StatusCode)
	}
}
