package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
)

type WebhookSender struct {
	HTTP *http.Client
}

func (s WebhookSender) Send(ctx context.Context, url string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	client := s.HTTP
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpError{StatusCode: resp.StatusCode}
	}
	return nil
}

type httpError struct {
	StatusCode int
}

func (e *httpError) Error() string {
	return "webhook http status " + http.StatusText(e.StatusCode)
}

// ExpiringBounty is one entry of an expiry advisory.
type ExpiringBounty struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Deadline  time.Time `json:"deadline"`
	EthAmount string    `json:"eth_amount"`
	ChainID   int64     `json:"chain_id"`
}

type advisoryPayload struct {
	Event    string           `json:"event"`
	Message  string           `json:"message"`
	Bounties []ExpiringBounty `json:"bounties"`
}

// WebhookAdvisor posts the list of funded bounties nearing their deadline to an operator webhook.
// With no URL configured it does nothing.
type WebhookAdvisor struct {
	URL    string
	Sender WebhookSender
}

func (a WebhookAdvisor) Advise(ctx context.Context, bounties []*models.Bounty) error {
	if a.URL == "" || len(bounties) == 0 {
		return nil
	}
	p := advisoryPayload{
		Event:    "bounty_expiring_soon",
		Message:  fmt.Sprintf("%d funded bounties reach their deadline soon", len(bounties)),
		Bounties: make([]ExpiringBounty, 0, len(bounties)),
	}
	for _, b := range bounties {
		e := ExpiringBounty{ID: b.ID, Title: b.Title}
		if b.Deadline != nil {
			e.Deadline = *b.Deadline
		}
		if b.EthAmount != nil {
			e.EthAmount = *b.EthAmount
		}
		if b.ChainID != nil {
			e.ChainID = *b.ChainID
		}
		p.Bounties = append(p.Bounties, e)
	}
	return a.Sender.Send(ctx, a.URL, p)
}

// WebhookNotifier forwards every event to a webhook.
type WebhookNotifier struct {
	URL    string
	Sender WebhookSender
}

func (n WebhookNotifier) Notify(ctx context.Context, ev Event) error {
	return n.Sender.Send(ctx, n.URL, ev)
}
