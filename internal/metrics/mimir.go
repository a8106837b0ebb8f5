package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"

	"github.com/leozw/health-guardian/internal/config"
)

// MimirClient pushes series to a Prometheus remote write endpoint.
type MimirClient struct {
	url          string
	tenantHeader string
	tenantID     string
	authToken    string
	client       *http.Client
}

func NewMimirClient(cfg config.MimirConfig) *MimirClient {
	return &MimirClient{
		url:          cfg.URL,
		tenantHeader: cfg.TenantHeader,
		tenantID:     cfg.TenantID,
		authToken:    cfg.AuthToken,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (m *MimirClient) Push(ctx context.Context, series []prompb.TimeSeries) error {
	if len(series) == 0 {
		return nil
	}

	req := &prompb.WriteRequest{Timeseries: series}
	data, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal write request: %w", err)
	}
	compressed := snappy.Encode(nil, data)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url+"/api/v1/push", bytes.NewReader(compressed))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if m.tenantHeader != "" && m.tenantID != "" {
		httpReq.Header.Set(m.tenantHeader, m.tenantID)
	}
	if m.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.authToken)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("remote write failed: %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return nil
}
