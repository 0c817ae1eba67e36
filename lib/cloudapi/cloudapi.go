// Package cloudapi is thin glue to the cloud's device-claiming and
// webhook-registration REST endpoints. It carries no protocol logic — the
// transport/handshake/CoAP stack lives entirely in lib/transport, lib/coap
// and lib/device. See DESIGN.md for why this stays on net/http rather than
// a third-party HTTP client.
package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/samber/oops"
)

// Client talks to the cloud's REST surface over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client against baseURL (e.g. "http://localhost:8080").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// ClaimDevice registers deviceID/publicKeyPEM with the cloud so the
// server's handshake step accepts the device's upcoming connection
// (spec §6 external interface, device registration out-of-band of the
// wire protocol itself).
func (c *Client) ClaimDevice(ctx context.Context, deviceID string, publicKeyPEM []byte) error {
	body, err := json.Marshal(map[string]string{
		"id":        deviceID,
		"public_key": string(publicKeyPEM),
	})
	if err != nil {
		return oops.Wrapf(err, "cloudapi: marshal claim request for %s", deviceID)
	}
	return c.post(ctx, "/v1/devices/claim", body)
}

// RegisterWebhook subscribes the cloud account to eventName, so events
// published by devices (spec §4.5 Event publish) fan out to a webhook
// receiver.
func (c *Client) RegisterWebhook(ctx context.Context, eventName, targetURL string) error {
	body, err := json.Marshal(map[string]string{
		"event": eventName,
		"url":   targetURL,
	})
	if err != nil {
		return oops.Wrapf(err, "cloudapi: marshal webhook registration for %s", eventName)
	}
	return c.post(ctx, "/v1/webhooks", body)
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return oops.Wrapf(err, "cloudapi: build request for %s", path)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return oops.Wrapf(err, "cloudapi: request %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return oops.Errorf("cloudapi: %s returned status %d", path, resp.StatusCode)
	}
	return nil
}
