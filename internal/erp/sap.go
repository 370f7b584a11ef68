package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/models"
)

const (
	sapServicePath = "/sap/opu/odata/sap/API_PURCHASEREQ_PROCESS_SRV"
	sapEntitySet   = "A_PurchaseRequisitionItem"
	sapReleaseSet  = "PurchaseRequisitionRelease"

	// SAP Note field length limit
	sapNoteMaxLen = 256

	// Upstream error text is truncated to keep logs and DB rows bounded
	errorTextMaxLen = 500
)

// Retry policy for transient upstream failures
const (
	sapMaxAttempts   = 3
	sapBackoffFactor = 500 * time.Millisecond
)

var sapTransientStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Middleware outcome -> SAP release action code
var sapActionMap = map[string]string{
	"approve":                   "01", // Release
	models.OutcomeAutoApprove:   "01",
	models.OutcomeManualApprove: "01",
	models.OutcomeReject:        "02", // Reject
	models.OutcomeHold:          "03", // Reset / Hold
	"cancel":                    "03",
}

var sapSelectFields = strings.Join([]string{
	"PurchaseRequisition",
	"PurchaseRequisitionItem",
	"Material",
	"PurchaseRequisitionItemText",
	"RequestedQuantity",
	"BaseUnit",
	"PurchaseRequisitionPrice",
	"PurReqnItemCurrency",
	"Plant",
}, ",")

// SAPConfig holds live connector settings
type SAPConfig struct {
	BaseURL       string
	ServicePrefix string
	APIKey        string
	Username      string
	Password      string
	Timeout       time.Duration
}

// SAPConnector talks to SAP S/4HANA via the Purchase Requisition
// Processing OData service. Write operations carry a short-lived CSRF
// token; transient failures are retried with exponential backoff.
type SAPConnector struct {
	cfg    SAPConfig
	logger *zap.Logger
	sleep  func(time.Duration)

	mu        sync.Mutex
	client    *http.Client
	csrfToken string
	connected bool
}

// NewSAPConnector creates a live SAP connector.
func NewSAPConnector(cfg SAPConfig, logger *zap.Logger) *SAPConnector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SAPConnector{
		cfg:    cfg,
		logger: logger,
		sleep:  time.Sleep,
	}
}

// Name implements Connector.
func (c *SAPConnector) Name() string { return "sap" }

// Connect builds the authenticated HTTP client and validates the session
// by fetching an initial CSRF token. Missing credentials fail fast.
func (c *SAPConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected && c.client != nil {
		return nil
	}

	if c.cfg.APIKey == "" && (c.cfg.Username == "" || c.cfg.Password == "") {
		return fmt.Errorf("%w: set SAP_API_KEY or SAP_USERNAME and SAP_PASSWORD", ErrNoCredentials)
	}

	c.logger.Info("Connecting to SAP",
		zap.String("base_url", c.cfg.BaseURL),
		zap.Bool("api_key_auth", c.cfg.APIKey != ""))

	c.client = &http.Client{Timeout: c.cfg.Timeout}

	status, err := c.refreshCSRFToken(ctx)
	if err != nil {
		c.logger.Warn("Initial CSRF token fetch failed", zap.Error(err))
	}
	if status == http.StatusUnauthorized {
		c.client = nil
		return fmt.Errorf("%w: SAP rejected the configured credentials", ErrNoCredentials)
	}

	c.connected = true
	c.logger.Info("SAP connection established")
	return nil
}

// Disconnect implements Connector.
func (c *SAPConnector) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.CloseIdleConnections()
		c.client = nil
	}
	c.csrfToken = ""
	c.connected = false
	c.logger.Info("SAP connector disconnected")
	return nil
}

// FetchPending queries pending purchase requisition items. Supported
// advisory filters: "filter" (raw OData $filter) and "top".
func (c *SAPConnector) FetchPending(ctx context.Context, filters map[string]string) ([]models.Requisition, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("$format", "json")
	params.Set("$select", sapSelectFields)

	top := "100"
	odataFilter := "PurchaseRequisitionReleaseCode eq ''"
	if filters != nil {
		if v, ok := filters["top"]; ok {
			top = v
		}
		if v, ok := filters["filter"]; ok {
			odataFilter = v
		}
	}
	params.Set("$top", top)
	params.Set("$filter", odataFilter)

	data, err := c.doRequest(ctx, http.MethodGet, c.buildURL(sapEntitySet), params, nil)
	if err != nil {
		return nil, err
	}

	items, err := extractODataResults(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SAP response: %w", err)
	}

	reqs := make([]models.Requisition, 0, len(items))
	for _, raw := range items {
		reqs = append(reqs, c.mapODataItem(raw))
	}

	c.logger.Info("Fetched pending requisitions from SAP",
		zap.Int("count", len(reqs)))
	return reqs, nil
}

// FetchOne returns the requisition for id, or a placeholder record with
// Missing set when SAP has no matching item.
func (c *SAPConnector) FetchOne(ctx context.Context, id string) (models.Requisition, error) {
	if err := c.ensureConnected(); err != nil {
		return models.Requisition{}, err
	}

	params := url.Values{}
	params.Set("$format", "json")
	params.Set("$filter", fmt.Sprintf("PurchaseRequisition eq '%s'", id))
	params.Set("$top", "1")

	data, err := c.doRequest(ctx, http.MethodGet, c.buildURL(sapEntitySet), params, nil)
	if err != nil {
		return models.Requisition{}, err
	}

	items, err := extractODataResults(data)
	if err != nil {
		return models.Requisition{}, fmt.Errorf("failed to parse SAP response: %w", err)
	}

	if len(items) == 0 {
		c.logger.Warn("Requisition not found in SAP", zap.String("erp_requisition_id", id))
		return models.Requisition{
			ERPRequisitionID: id,
			Description:      fmt.Sprintf("[SAP] Not found: %s", id),
			Missing:          true,
			FetchedAt:        time.Now().UTC(),
		}, nil
	}

	return c.mapODataItem(items[0]), nil
}

// SubmitDecision posts a release action. A fresh CSRF token is fetched
// before the write. Upstream rejections are reported in the result
// payload rather than as an error so callers see the structured status.
func (c *SAPConnector) SubmitDecision(ctx context.Context, id, outcome, comment string) (*SubmitResult, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	actionCode, ok := sapActionMap[outcome]
	if !ok {
		actionCode = "03"
	}

	payload := map[string]string{
		"PurchaseRequisition":     id,
		"PurchaseReqnReleaseCode": actionCode,
	}
	if comment != "" {
		payload["Note"] = truncate(comment, sapNoteMaxLen)
	}

	if _, err := c.refreshCSRFToken(ctx); err != nil {
		c.logger.Warn("CSRF token refresh before write failed", zap.Error(err))
	}

	c.logger.Info("Submitting decision to SAP",
		zap.String("erp_requisition_id", id),
		zap.String("outcome", outcome),
		zap.String("action_code", actionCode))

	if _, err := c.doRequest(ctx, http.MethodPost, c.buildURL(sapReleaseSet), nil, payload); err != nil {
		c.logger.Error("SAP submit failed",
			zap.String("erp_requisition_id", id),
			zap.Error(err))
		return &SubmitResult{
			Status:           StatusError,
			ERPRequisitionID: id,
			Outcome:          outcome,
			Message:          truncate(err.Error(), errorTextMaxLen),
		}, nil
	}

	return &SubmitResult{
		Status:           StatusOK,
		ERPRequisitionID: id,
		Outcome:          outcome,
		Message:          fmt.Sprintf("release action %s accepted", actionCode),
	}, nil
}

// HealthCheck pings the OData $metadata endpoint without raising.
func (c *SAPConnector) HealthCheck(ctx context.Context) HealthStatus {
	c.mu.Lock()
	client := c.client
	connected := c.connected
	c.mu.Unlock()

	status := HealthStatus{
		Status:    "unhealthy",
		Connector: c.Name(),
		Connected: connected,
		Detail:    map[string]any{"base_url": c.cfg.BaseURL},
	}
	if client == nil {
		status.Detail["error"] = ErrNotConnected.Error()
		return status
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL("$metadata"), nil)
	if err != nil {
		status.Detail["error"] = err.Error()
		return status
	}
	c.applyAuth(req)

	resp, err := client.Do(req)
	if err != nil {
		status.Detail["error"] = err.Error()
		return status
	}
	defer resp.Body.Close()

	status.Detail["status_code"] = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		status.Status = "healthy"
	}
	return status
}

func (c *SAPConnector) ensureConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.client == nil {
		return ErrNotConnected
	}
	return nil
}

func (c *SAPConnector) buildURL(entityOrAction string) string {
	return c.cfg.BaseURL + c.cfg.ServicePrefix + sapServicePath + "/" + entityOrAction
}

func (c *SAPConnector) applyAuth(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("APIKey", c.cfg.APIKey)
	} else if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	req.Header.Set("Accept", "application/json")
}

// doRequest executes one logical request with bounded retry on transient
// statuses and transport errors. A 403 on a write triggers exactly one
// transparent CSRF refresh and retry of this request only.
func (c *SAPConnector) doRequest(ctx context.Context, method, rawURL string, params url.Values, body any) ([]byte, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return nil, ErrNotConnected
	}

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	isWrite := method != http.MethodGet
	reqURL := rawURL
	if params != nil {
		reqURL = rawURL + "?" + params.Encode()
	}

	attempt := 0
	csrfRetried := false
	for {
		req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		c.applyAuth(req)
		if isWrite {
			req.Header.Set("Content-Type", "application/json")
			c.mu.Lock()
			if c.csrfToken != "" {
				req.Header.Set("X-CSRF-Token", c.csrfToken)
			}
			c.mu.Unlock()
		}

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			attempt++
			if attempt >= sapMaxAttempts {
				return nil, fmt.Errorf("%w: %s %s: %v", ErrUpstreamUnavailable, method, rawURL, err)
			}
			c.logger.Warn("SAP request failed, retrying",
				zap.String("method", method),
				zap.Int("attempt", attempt),
				zap.Error(err))
			c.sleep(backoffDelay(attempt))
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("%w: failed to read response: %v", ErrUpstreamUnavailable, readErr)
		}

		c.logger.Debug("SAP request completed",
			zap.String("method", method),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", time.Since(start)))

		switch {
		case resp.StatusCode == http.StatusForbidden && isWrite && !csrfRetried:
			// Expired anti-forgery token: refresh once and retry this
			// single request, not the whole batch.
			csrfRetried = true
			c.logger.Warn("CSRF token rejected, refreshing and retrying request")
			if _, err := c.refreshCSRFToken(ctx); err != nil {
				c.logger.Warn("CSRF token refresh failed", zap.Error(err))
			}
			continue

		case sapTransientStatus[resp.StatusCode]:
			attempt++
			if attempt >= sapMaxAttempts {
				return nil, fmt.Errorf("%w: %s %s: HTTP %d after %d attempts",
					ErrUpstreamUnavailable, method, rawURL, resp.StatusCode, attempt)
			}
			c.logger.Warn("SAP returned transient status, retrying",
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt))
			c.sleep(backoffDelay(attempt))
			continue

		case resp.StatusCode >= 400:
			return nil, &UpstreamError{
				StatusCode: resp.StatusCode,
				Message:    extractODataError(data),
			}
		}

		return data, nil
	}
}

// refreshCSRFToken fetches a new anti-forgery token via the dedicated
// GET with the "Fetch" header. Returns the HTTP status for credential
// diagnostics; an absent token is logged, not fatal.
func (c *SAPConnector) refreshCSRFToken(ctx context.Context) (int, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return 0, ErrNotConnected
	}

	tokenURL := c.cfg.BaseURL + c.cfg.ServicePrefix + sapServicePath + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
	if err != nil {
		return 0, err
	}
	c.applyAuth(req)
	req.Header.Set("X-CSRF-Token", "Fetch")

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch CSRF token: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	token := resp.Header.Get("X-CSRF-Token")
	c.mu.Lock()
	c.csrfToken = token
	c.mu.Unlock()

	if token == "" {
		c.logger.Warn("SAP did not return a CSRF token",
			zap.Int("status", resp.StatusCode))
	} else {
		c.logger.Debug("CSRF token acquired")
	}
	return resp.StatusCode, nil
}

func backoffDelay(attempt int) time.Duration {
	return sapBackoffFactor * time.Duration(1<<(attempt-1))
}

// extractODataResults normalizes the two documented envelope shapes:
// OData v2 ({"d":{"results":[...]}}, {"d":[...]}, or a single {"d":{...}})
// and OData v4 ({"value":[...]}).
func extractODataResults(data []byte) ([]json.RawMessage, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}

	if d, ok := envelope["d"]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(d, &inner); err == nil {
			if results, ok := inner["results"]; ok {
				return unmarshalResultList(results)
			}
			// single entity
			return []json.RawMessage{d}, nil
		}
		return unmarshalResultList(d)
	}

	if value, ok := envelope["value"]; ok {
		return unmarshalResultList(value)
	}

	if _, ok := envelope["error"]; ok {
		return nil, nil
	}
	// single entity response
	return []json.RawMessage{json.RawMessage(data)}, nil
}

func unmarshalResultList(raw json.RawMessage) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// extractODataError pulls the human-readable message out of the nested
// {"error":{"message":{"value":...}}} envelope, falling back to the raw
// body text.
func extractODataError(data []byte) string {
	var envelope struct {
		Error struct {
			Message json.RawMessage `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Error.Message) > 0 {
		var nested struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(envelope.Error.Message, &nested); err == nil && nested.Value != "" {
			return truncate(nested.Value, errorTextMaxLen)
		}
		var flat string
		if err := json.Unmarshal(envelope.Error.Message, &flat); err == nil && flat != "" {
			return truncate(flat, errorTextMaxLen)
		}
	}
	if len(data) == 0 {
		return "unknown error"
	}
	return truncate(string(data), errorTextMaxLen)
}

type odataRequisitionItem struct {
	PurchaseRequisition         string          `json:"PurchaseRequisition"`
	PurchaseRequisitionItem     string          `json:"PurchaseRequisitionItem"`
	Material                    string          `json:"Material"`
	PurchaseRequisitionItemText string          `json:"PurchaseRequisitionItemText"`
	RequestedQuantity           json.RawMessage `json:"RequestedQuantity"`
	BaseUnit                    string          `json:"BaseUnit"`
	PurchaseRequisitionPrice    json.RawMessage `json:"PurchaseRequisitionPrice"`
	PurReqnItemCurrency         string          `json:"PurReqnItemCurrency"`
	Plant                       string          `json:"Plant"`
}

func (c *SAPConnector) mapODataItem(raw json.RawMessage) models.Requisition {
	var item odataRequisitionItem
	if err := json.Unmarshal(raw, &item); err != nil {
		c.logger.Warn("Failed to decode OData item", zap.Error(err))
	}

	id := strings.TrimSpace(item.PurchaseRequisition)
	return models.Requisition{
		ERPRequisitionID: id,
		ItemNumber:       item.PurchaseRequisitionItem,
		Material:         item.Material,
		Description:      item.PurchaseRequisitionItemText,
		Quantity:         c.parseODataNumber(item.RequestedQuantity, "RequestedQuantity", id),
		Unit:             item.BaseUnit,
		Price:            c.parseODataNumber(item.PurchaseRequisitionPrice, "PurchaseRequisitionPrice", id),
		Currency:         item.PurReqnItemCurrency,
		Plant:            item.Plant,
		FetchedAt:        time.Now().UTC(),
	}
}

// parseODataNumber handles the upstream's habit of sending numerics as
// either JSON numbers or decimal strings. Unparsable values are dropped
// with a warning so one malformed field never discards a record.
func (c *SAPConnector) parseODataNumber(raw json.RawMessage, field, id string) *float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		v, err := strconv.ParseFloat(strings.TrimSpace(asString), 64)
		if err != nil {
			c.logger.Warn("Dropping unparsable numeric field",
				zap.String("field", field),
				zap.String("erp_requisition_id", id),
				zap.String("value", asString))
			return nil
		}
		return &v
	}

	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return &asNumber
	}

	c.logger.Warn("Dropping unparsable numeric field",
		zap.String("field", field),
		zap.String("erp_requisition_id", id),
		zap.String("value", string(raw)))
	return nil
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
