package calc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kingrea/reflweb/internal/logging"
	"github.com/kingrea/reflweb/internal/registry"
)

// RequestIDHeader carries a per-call id so service logs can be correlated.
const RequestIDHeader = "X-Request-ID"

// HTTPService talks to the evaluation service over HTTP. It implements both
// Service and registry.Source.
type HTTPService struct {
	settings Settings
	client   *http.Client
	log      *zap.Logger
}

// HTTPOption customizes an HTTPService.
type HTTPOption func(*HTTPService)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(s *HTTPService) {
		if client != nil {
			s.client = client
		}
	}
}

// WithHTTPLogger sets the service logger.
func WithHTTPLogger(l *zap.Logger) HTTPOption {
	return func(s *HTTPService) {
		s.log = logging.OrNop(l)
	}
}

// NewHTTPService prepares a client for the service at settings.BaseURL.
func NewHTTPService(settings Settings, opts ...HTTPOption) *HTTPService {
	settings.normalize()
	s := &HTTPService{
		settings: settings,
		client:   &http.Client{Timeout: settings.Timeout},
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type serviceError struct {
	Error string `json:"error"`
}

type instrumentRequest struct {
	InstrumentID string `json:"instrument_id"`
}

// CalcTerminal posts the request to {base}/calc_terminal.
func (s *HTTPService) CalcTerminal(ctx context.Context, req Request) (*Response, error) {
	var resp Response
	status, err := s.post(ctx, "calc_terminal", req, &resp)
	if err != nil {
		if status != 0 {
			return nil, &EvaluationError{Node: req.Node, Terminal: req.Terminal, Message: err.Error()}
		}
		return nil, err
	}
	return &resp, nil
}

// Instrument posts to {base}/get_instrument. A 404 maps to
// registry.ErrUnknownInstrument.
func (s *HTTPService) Instrument(ctx context.Context, instrumentID string) (registry.InstrumentDef, error) {
	var def registry.InstrumentDef
	status, err := s.post(ctx, "get_instrument", instrumentRequest{InstrumentID: instrumentID}, &def)
	if err != nil {
		if status == http.StatusNotFound {
			return registry.InstrumentDef{}, fmt.Errorf("calc: %s: %w", err.Error(), registry.ErrUnknownInstrument)
		}
		return registry.InstrumentDef{}, err
	}
	if def.ID == "" {
		def.ID = instrumentID
	}
	return def, nil
}

// post returns the HTTP status alongside service-reported failures; status
// is 0 for transport and encoding errors.
func (s *HTTPService) post(ctx context.Context, method string, body, dst any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("calc: encode %s: %w", method, err)
	}
	url := s.settings.BaseURL + "/" + method
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("calc: build %s request: %w", method, err)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(RequestIDHeader, requestID)

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("calc: %s: %w", method, err)
	}
	defer httpResp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(httpResp.Body, s.settings.MaxBodyBytes))
	if err != nil {
		return 0, fmt.Errorf("calc: read %s response: %w", method, err)
	}
	s.log.Debug("service call",
		zap.String("method", method),
		zap.String("request_id", requestID),
		zap.Int("status", httpResp.StatusCode),
		zap.Int("bytes", len(data)))

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return httpResp.StatusCode, errors.New(diagnostic(httpResp.StatusCode, data))
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return 0, fmt.Errorf("calc: decode %s response: %w", method, err)
	}
	return httpResp.StatusCode, nil
}

func diagnostic(status int, body []byte) string {
	var payload serviceError
	if err := json.Unmarshal(body, &payload); err == nil && strings.TrimSpace(payload.Error) != "" {
		return payload.Error
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return http.StatusText(status)
	}
	return text
}
