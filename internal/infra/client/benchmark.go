package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"
	"github.com/boddenberg/pocket-ledger/internal/infra/resilience"
	"github.com/boddenberg/pocket-ledger/internal/port"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("client")

const (
	// DefaultBenchmarkURL is the Central Bank of Brazil SGS series 12 (CDI,
	// percent per day).
	DefaultBenchmarkURL = "https://api.bcb.gov.br/dados/serie/bcdata.sgs.12/dados"

	sgsDateLayout = "02/01/2006"
)

// BenchmarkClient fetches daily benchmark percentages from an SGS style
// JSON endpoint.
type BenchmarkClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

var _ port.BenchmarkSource = (*BenchmarkClient)(nil)

// NewBenchmarkClient creates a new BenchmarkClient.
func NewBenchmarkClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *BenchmarkClient {
	if baseURL == "" {
		baseURL = DefaultBenchmarkURL
	}
	if cfg.Retryable == nil {
		cfg.Retryable = func(err error) bool {
			var perm *permanentError
			return !errors.As(err, &perm)
		}
	}
	return &BenchmarkClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		cfg:        cfg,
		logger:     logger,
	}
}

type sgsPoint struct {
	Data  string `json:"data"`
	Valor string `json:"valor"`
}

// permanentError marks responses that retrying cannot fix.
type permanentError struct {
	status int
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("benchmark API returned status %d", e.status)
}

// RatesFor returns the published percentage of every day in from..to,
// keyed by YYYY-MM-DD. Days without publication are absent.
func (c *BenchmarkClient) RatesFor(ctx context.Context, from, to time.Time) (map[string]decimal.Decimal, error) {
	ctx, span := tracer.Start(ctx, "BenchmarkClient.RatesFor")
	defer span.End()
	span.SetAttributes(
		attribute.String("range.from", domain.FormatDate(from)),
		attribute.String("range.to", domain.FormatDate(to)),
	)

	result, err := c.cb.Execute(func() (any, error) {
		var points []sgsPoint
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			points = nil
			q := url.Values{}
			q.Set("formato", "json")
			q.Set("dataInicial", from.Format(sgsDateLayout))
			q.Set("dataFinal", to.Format(sgsDateLayout))

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			req.Header.Set("Accept", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusNotFound:
				// SGS answers 404 when the range has no publication.
				return nil
			case resp.StatusCode >= 400 && resp.StatusCode < 500:
				return &permanentError{status: resp.StatusCode}
			case resp.StatusCode != http.StatusOK:
				return fmt.Errorf("benchmark API returned status %d", resp.StatusCode)
			}

			return json.NewDecoder(resp.Body).Decode(&points)
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return parsePoints(points)
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &domain.ErrExternalService{Service: "benchmark", Err: &domain.ErrCircuitOpen{Service: "benchmark"}}
		}
		c.logger.Warn("benchmark fetch failed",
			zap.String("from", domain.FormatDate(from)),
			zap.String("to", domain.FormatDate(to)),
			zap.Error(err),
		)
		return nil, &domain.ErrExternalService{Service: "benchmark", Err: err}
	}

	rates := result.(map[string]decimal.Decimal)
	span.SetAttributes(attribute.Int("rates.count", len(rates)))
	return rates, nil
}

func parsePoints(points []sgsPoint) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(points))
	for _, p := range points {
		day, err := time.Parse(sgsDateLayout, p.Data)
		if err != nil {
			return nil, fmt.Errorf("bad benchmark date %q: %w", p.Data, err)
		}
		pct, err := decimal.NewFromString(p.Valor)
		if err != nil {
			return nil, fmt.Errorf("bad benchmark value %q on %s: %w", p.Valor, p.Data, err)
		}
		out[domain.FormatDate(day)] = pct
	}
	return out, nil
}
