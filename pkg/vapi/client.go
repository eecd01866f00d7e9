package vapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"Outcall/pkg/logger"
)

// Credentials 组织级的 VAPI 凭证
type Credentials struct {
	APIKey string `json:"apiKey"`
	// OrgID 可选，部分老租户的凭证里带有
	OrgID string `json:"orgId,omitempty"`
}

// Customer 被叫方信息
type Customer struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

// CallRequest 创建外呼的请求体
type CallRequest struct {
	AssistantID   string   `json:"assistantId"`
	PhoneNumberID string   `json:"phoneNumberId"`
	Customer      Customer `json:"customer"`
}

// Call 创建外呼的响应，只关心供应商分配的 call id 和初始状态
type Call struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// APIError 供应商返回的非 2xx 响应
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vapi API error: status=%d body=%s", e.StatusCode, e.Body)
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

// NewClient 创建 VAPI 客户端，timeout 同时约束拨号请求的整体耗时
func NewClient(baseURL string, timeout time.Duration) *Client {
	log := logger.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		logger:     log,
	}
}

// CreateCall 发起一次外呼。凭证按组织传入，客户端本身无状态。
func (c *Client) CreateCall(ctx context.Context, creds Credentials, req CallRequest) (*Call, error) {
	if creds.APIKey == "" {
		return nil, fmt.Errorf("vapi api key is required")
	}
	if req.AssistantID == "" {
		return nil, fmt.Errorf("assistantId is required")
	}
	if req.Customer.Number == "" {
		return nil, fmt.Errorf("customer number is required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal call request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/call", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build call request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+creds.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("Failed to reach voice provider",
			zap.String("phone_number_id", req.PhoneNumberID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to create call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read call response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("Voice provider rejected call",
			zap.Int("status_code", resp.StatusCode),
			zap.String("phone_number_id", req.PhoneNumberID),
		)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var call Call
	if err := json.Unmarshal(respBody, &call); err != nil {
		return nil, fmt.Errorf("failed to decode call response: %w", err)
	}
	if call.ID == "" {
		return nil, fmt.Errorf("vapi returned a call without id")
	}

	return &call, nil
}
