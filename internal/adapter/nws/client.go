package nws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/marine-grid-etl/internal/domain"
	"github.com/couchcryptid/marine-grid-etl/internal/observability"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/sony/gobreaker"
)

const (
	endpointPoints     = "points"
	endpointGridpoints = "gridpoints"

	// Gridpoint documents run to a few hundred KB; anything past this is not
	// a forecast response.
	maxBodyBytes = 8 << 20
)

var errUpstreamUnavailable = errors.New("upstream unavailable")

// Client implements domain.GridAPI against the NWS API.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an NWS API client. The NWS API rejects requests without
// a User-Agent identifying the caller.
func NewClient(baseURL, userAgent string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    newBreaker(logger),
		metrics:    metrics,
		logger:     logger,
	}
}

func newBreaker(logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "nws",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// LookupPoint resolves a coordinate to its grid cell. Coordinates are sent at
// 4 decimal places; the API redirects anything more precise.
func (c *Client) LookupPoint(ctx context.Context, lat, lon float64) (domain.PointInfo, error) {
	path := fmt.Sprintf("/points/%.4f,%.4f", lat, lon)
	body, err := c.get(ctx, endpointPoints, path)
	if err != nil {
		return domain.PointInfo{}, err
	}

	var resp pointResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.PointInfo{}, c.fail(endpointPoints, &domain.FetchError{Kind: domain.FetchDecode, Op: endpointPoints, Err: err})
	}
	c.succeed(endpointPoints)

	return domain.PointInfo{
		GridID: resp.Properties.GridID,
		GridX:  resp.Properties.GridX,
		GridY:  resp.Properties.GridY,
	}, nil
}

// FetchGridpoint retrieves the raw forecast layers and boundary polygon for
// a cell.
func (c *Client) FetchGridpoint(ctx context.Context, cell domain.GridCell) (domain.Gridpoint, error) {
	path := fmt.Sprintf("/gridpoints/%s/%d,%d", cell.GridID, cell.X, cell.Y)
	body, err := c.get(ctx, endpointGridpoints, path)
	if err != nil {
		return domain.Gridpoint{}, err
	}

	var resp gridpointResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Gridpoint{}, c.fail(endpointGridpoints, &domain.FetchError{Kind: domain.FetchDecode, Op: endpointGridpoints, Err: err})
	}
	c.succeed(endpointGridpoints)

	gp := domain.Gridpoint{
		Cell:   cell,
		Layers: decodeLayers(resp.Properties),
	}
	if resp.Geometry != nil {
		if poly, ok := resp.Geometry.Coordinates.(orb.Polygon); ok && len(poly) > 0 {
			gp.Ring = poly[0]
		}
	}
	return gp, nil
}

// get performs a GET through the circuit breaker. 429 and 5xx responses
// count against the breaker; other 4xx responses are a normal answer for
// points outside the forecast grid and do not.
func (c *Client) get(ctx context.Context, endpoint, path string) ([]byte, error) {
	start := time.Now()
	defer func() {
		c.metrics.UpstreamDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	var status int
	out, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/geo+json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			return nil, errUpstreamUnavailable
		}
		return body, nil
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, c.fail(endpoint, &domain.FetchError{Kind: domain.FetchCircuitOpen, Op: endpoint, Err: err})
	case errors.Is(err, errUpstreamUnavailable):
		return nil, c.fail(endpoint, &domain.FetchError{Kind: domain.FetchStatus, Op: endpoint, Status: status, Err: err})
	case err != nil:
		return nil, c.fail(endpoint, &domain.FetchError{Kind: domain.FetchNetwork, Op: endpoint, Err: err})
	case status < 200 || status >= 300:
		return nil, c.fail(endpoint, &domain.FetchError{
			Kind:   domain.FetchStatus,
			Op:     endpoint,
			Status: status,
			Err:    fmt.Errorf("GET %s: %s", path, http.StatusText(status)),
		})
	}

	body, _ := out.([]byte)
	return body, nil
}

func (c *Client) succeed(endpoint string) {
	c.metrics.UpstreamRequests.WithLabelValues(endpoint, "success").Inc()
}

func (c *Client) fail(endpoint string, err *domain.FetchError) error {
	c.metrics.UpstreamRequests.WithLabelValues(endpoint, string(err.Kind)).Inc()
	c.logger.Debug("upstream request failed", "endpoint", endpoint, "kind", err.Kind, "status", err.Status, "error", err.Err)
	return err
}

// decodeLayers keeps every property shaped like a forecast layer, i.e. an
// object with a values array. Scalars and metadata objects are skipped.
func decodeLayers(props map[string]json.RawMessage) map[string][]domain.LayerValue {
	layers := make(map[string][]domain.LayerValue)
	for name, raw := range props {
		var l layer
		if err := json.Unmarshal(raw, &l); err != nil || l.Values == nil {
			continue
		}
		values := make([]domain.LayerValue, len(l.Values))
		for i, v := range l.Values {
			values[i] = domain.LayerValue{ValidTime: v.ValidTime, Value: v.Value}
		}
		layers[name] = values
	}
	return layers
}

// NWS API response types.

type pointResponse struct {
	Properties struct {
		GridID *string `json:"gridId"`
		GridX  *int    `json:"gridX"`
		GridY  *int    `json:"gridY"`
	} `json:"properties"`
}

type gridpointResponse struct {
	Geometry   *geojson.Geometry          `json:"geometry"`
	Properties map[string]json.RawMessage `json:"properties"`
}

type layer struct {
	Values []struct {
		ValidTime string   `json:"validTime"`
		Value     *float64 `json:"value"`
	} `json:"values"`
}
