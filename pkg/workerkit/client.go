package workerkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"starbench/internal/model"
	"starbench/pkg/logger"
)

// ManagerClient registers a worker with the manager's pool and keeps its
// heartbeat alive over the manager's worker API.
type ManagerClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	workerID string
}

// NewManagerClient creates a client for the manager at baseURL
// (e.g. "http://localhost:8080"). apiKey may be empty when the manager
// runs without worker auth.
func NewManagerClient(baseURL, apiKey string) *ManagerClient {
	return &ManagerClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Register announces the worker's channel endpoint and capacity to the
// pool and stores the assigned worker id for subsequent heartbeats.
func (c *ManagerClient) Register(ctx context.Context, endpoint string, capacity int, version string) (string, error) {
	body, err := json.Marshal(&model.RegisterRequest{
		Endpoint: endpoint,
		Capacity: capacity,
		Version:  version,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/workers/register", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("register failed with status %d", resp.StatusCode)
	}

	var out model.RegisterResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	c.workerID = out.WorkerID
	return out.WorkerID, nil
}

// Heartbeat sends one heartbeat for the registered worker.
func (c *ManagerClient) Heartbeat(ctx context.Context) error {
	if c.workerID == "" {
		return fmt.Errorf("heartbeat before registration")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/ping/"+c.workerID, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat failed with status %d", resp.StatusCode)
	}
	return nil
}

// RunHeartbeat registers if needed and heartbeats on the given interval
// until the context is cancelled. A heartbeat rejected because the pool
// drained this worker triggers a re-registration.
func (c *ManagerClient) RunHeartbeat(ctx context.Context, endpoint string, capacity int, version string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Heartbeat(ctx); err != nil {
				logger.Warnf("heartbeat failed, re-registering: %v", err)
				if _, rerr := c.Register(ctx, endpoint, capacity, version); rerr != nil {
					logger.Errorf("re-registration failed: %v", rerr)
				}
			}
		}
	}
}

func (c *ManagerClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
