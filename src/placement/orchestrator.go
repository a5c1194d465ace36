package placement

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"

	"tradecopier/src/model"
	"tradecopier/src/security"
)

const (
	defaultRetryAttempts   = 3
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 4 * time.Second
)

// Health describes one account session as reported by a container agent.
type Health struct {
	Status      string  `json:"status"` // running | connecting | idle | error
	Message     string  `json:"message"`
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsage float64 `json:"memory_usage"`
}

// Orchestrator is the abstract capability boundary for the container fleet:
// bring a trading session up on a placement, tear it down, and report its
// live health. The real fleet API lives outside this core.
type Orchestrator interface {
	Deploy(ctx context.Context, placement *model.Placement, account *model.Account, creds *security.Credentials) error
	Stop(ctx context.Context, placement *model.Placement, account *model.Account) error
	Health(ctx context.Context, placement *model.Placement, account *model.Account) (*Health, error)
}

// HTTPOrchestrator talks to the container agent API over HTTP.
type HTTPOrchestrator struct {
	http *resty.Client
}

func NewHTTPOrchestrator(baseURL string, timeout time.Duration) *HTTPOrchestrator {
	baseURL = strings.TrimRight(baseURL, "/")

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &HTTPOrchestrator{http: httpClient}
}

type deployRequest struct {
	AccountID uint   `json:"account_id"`
	Login     string `json:"login"`
	Password  string `json:"password"`
	Server    string `json:"server"`
	Platform  string `json:"platform"`
}

type agentError struct {
	Error string `json:"error"`
}

func (o *HTTPOrchestrator) Deploy(ctx context.Context, placement *model.Placement, account *model.Account, creds *security.Credentials) error {
	var agentErr agentError

	resp, err := o.http.R().
		SetContext(ctx).
		SetBody(deployRequest{
			AccountID: account.ID,
			Login:     creds.Login,
			Password:  creds.Password,
			Server:    creds.Server,
			Platform:  account.Platform,
		}).
		SetError(&agentErr).
		Post(fmt.Sprintf("/containers/%s/accounts", placement.ContainerID))
	if err != nil {
		return fmt.Errorf("orchestrator deploy request failed: %w", err)
	}

	if resp.IsError() {
		if agentErr.Error != "" {
			return fmt.Errorf("orchestrator deploy rejected: %s", agentErr.Error)
		}
		return fmt.Errorf("orchestrator deploy rejected: status %d", resp.StatusCode())
	}

	logger.WithFields(map[string]interface{}{
		"container_id": placement.ContainerID,
		"account_id":   account.ID,
	}).Info("account session deployed")

	return nil
}

func (o *HTTPOrchestrator) Stop(ctx context.Context, placement *model.Placement, account *model.Account) error {
	var agentErr agentError

	resp, err := o.http.R().
		SetContext(ctx).
		SetError(&agentErr).
		Delete(fmt.Sprintf("/containers/%s/accounts/%d", placement.ContainerID, account.ID))
	if err != nil {
		return fmt.Errorf("orchestrator stop request failed: %w", err)
	}

	if resp.IsError() {
		if agentErr.Error != "" {
			return fmt.Errorf("orchestrator stop rejected: %s", agentErr.Error)
		}
		return fmt.Errorf("orchestrator stop rejected: status %d", resp.StatusCode())
	}

	return nil
}

func (o *HTTPOrchestrator) Health(ctx context.Context, placement *model.Placement, account *model.Account) (*Health, error) {
	var health Health
	var agentErr agentError

	resp, err := o.http.R().
		SetContext(ctx).
		SetResult(&health).
		SetError(&agentErr).
		Get(fmt.Sprintf("/containers/%s/accounts/%d/health", placement.ContainerID, account.ID))
	if err != nil {
		return nil, fmt.Errorf("orchestrator health request failed: %w", err)
	}

	if resp.IsError() {
		if agentErr.Error != "" {
			return nil, fmt.Errorf("orchestrator health rejected: %s", agentErr.Error)
		}
		return nil, fmt.Errorf("orchestrator health rejected: status %d", resp.StatusCode())
	}

	return &health, nil
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}

	switch r.StatusCode() {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}
