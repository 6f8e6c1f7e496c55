// Package ecpay talks to the settlement network: it builds the form
// parameter sets, posts them, and normalizes the key=value replies.
package ecpay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/baharkarakas/paygate/internal/apperr"
	"github.com/baharkarakas/paygate/internal/config"
)

// maxReply caps how much of a processor reply is read.
const maxReply = 1 << 20

type Client struct {
	hc        *http.Client
	endpoints config.Processor
}

func NewClient(p config.Processor, timeout time.Duration) *Client {
	return &Client{hc: &http.Client{Timeout: timeout}, endpoints: p}
}

// Endpoints returns the URL set for a merchant environment.
func (c *Client) Endpoints(staging bool) config.Endpoints { return c.endpoints.For(staging) }

// CreateShipment posts an already signed create-shipment form.
func (c *Client) CreateShipment(ctx context.Context, staging bool, params map[string]string) (Reply, error) {
	body, err := c.post(ctx, "create shipment", c.Endpoints(staging).Create, params)
	if err != nil {
		return Reply{}, err
	}
	return ParseReply(body), nil
}

// QueryShipment asks the processor for the current state of a shipment.
func (c *Client) QueryShipment(ctx context.Context, staging bool, params map[string]string) (Reply, error) {
	body, err := c.post(ctx, "query shipment", c.Endpoints(staging).QueryShip, params)
	if err != nil {
		return Reply{}, err
	}
	return ParseReply(body), nil
}

// QueryTrade returns the raw QueryTradeInfo body; it is only used to probe credentials.
func (c *Client) QueryTrade(ctx context.Context, staging bool, params map[string]string) (string, error) {
	return c.post(ctx, "query trade", c.Endpoints(staging).QueryTrade, params)
}

func (c *Client) post(ctx context.Context, op, endpoint string, params map[string]string) (string, error) {
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", apperr.Upstream(op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", apperr.Upstream(op, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxReply))
	if err != nil {
		return "", apperr.Upstream(op, err)
	}
	if resp.StatusCode >= 300 {
		return "", apperr.Upstream(op, fmt.Errorf("status %d", resp.StatusCode))
	}
	return string(b), nil
}
