package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// #region config

// Config holds HTTP signal source parameters.
type Config struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// DefaultConfig returns default source configuration. URL is empty, which
// disables the source.
func DefaultConfig() Config {
	return Config{Timeout: 10 * time.Second}
}

// #endregion config

// #region http-source

// HTTPSource polls a JSON endpoint. It understands two payloads:
// {"status": "...", "news": "..."} and a news feed {"result": [{"title": "..."}]}.
type HTTPSource struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewHTTPSource creates an HTTPSource. logger may be nil.
func NewHTTPSource(cfg Config, logger *slog.Logger) *HTTPSource {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSource{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "signals", "url", cfg.URL),
	}
}

// New returns an HTTPSource when cfg.URL is set, otherwise Disabled.
func New(cfg Config, logger *slog.Logger) Source {
	if strings.TrimSpace(cfg.URL) == "" {
		return Disabled{}
	}
	return NewHTTPSource(cfg, logger)
}

// #endregion http-source

// #region fetch

type feedPayload struct {
	Status *Status `json:"status"`
	News   string  `json:"news"`
	Result []struct {
		Title string `json:"title"`
	} `json:"result"`
}

// Fetch performs one GET request and classifies the response.
func (s *HTTPSource) Fetch(ctx context.Context) (Signal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return Signal{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Signal{}, ctx.Err()
		}
		s.logger.Warn("signal fetch failed", "error", err)
		return Signal{Status: StatusError}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("signal fetch non-200", "status", resp.StatusCode)
		return Signal{Status: StatusError}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		s.logger.Warn("signal read failed", "error", err)
		return Signal{Status: StatusError}, nil
	}

	var p feedPayload
	if err := json.Unmarshal(body, &p); err != nil {
		s.logger.Warn("signal decode failed", "error", err)
		return Signal{Status: StatusError}, nil
	}
	return classify(p), nil
}

func classify(p feedPayload) Signal {
	if p.Status != nil {
		switch *p.Status {
		case StatusNewData:
			if strings.TrimSpace(p.News) == "" {
				return Signal{Status: StatusError}
			}
			return Signal{Status: StatusNewData, News: p.News}
		case StatusNoData:
			return Signal{Status: StatusNoData}
		default:
			return Signal{Status: StatusError}
		}
	}
	if len(p.Result) == 0 {
		return Signal{Status: StatusNoData}
	}
	title := strings.TrimSpace(p.Result[0].Title)
	if title == "" {
		return Signal{Status: StatusError}
	}
	return Signal{Status: StatusNewData, News: title}
}

// #endregion fetch
