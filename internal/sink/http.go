// http.go: quality sample posting to an HTTP collector.
package sink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/errors"
	"github.com/auralis/auralis-go/internal/httpclient"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPSink posts quality samples as JSON to a collector endpoint.
type HTTPSink struct {
	endpoint string
	client   *httpclient.Client
}

// NewHTTP validates the endpoint URL and prepares a sink.
func NewHTTP(settings *conf.HTTPSinkSettings) (*HTTPSink, error) {
	if settings.Endpoint == "" {
		return nil, errors.Newf("http sink requires an endpoint URL").
			Component("sink").
			Category(errors.CategoryConfiguration).
			Build()
	}
	u, err := url.Parse(settings.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("invalid http sink endpoint %q", settings.Endpoint).
			Component("sink").
			Category(errors.CategoryConfiguration).
			Build()
	}

	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPSink{
		endpoint: settings.Endpoint,
		client:   httpclient.New(&httpclient.Config{DefaultTimeout: timeout}),
	}, nil
}

// Name implements Sink.
func (s *HTTPSink) Name() string { return "http" }

// Publish implements Sink.
func (s *HTTPSink) Publish(ctx context.Context, sample QualitySample) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return errors.New(err).
			Component("sink").
			Category(errors.CategoryHTTP).
			Build()
	}

	resp, err := s.client.Post(ctx, s.endpoint, "application/json", payload)
	if err != nil {
		return errors.New(err).
			Component("sink").
			Category(errors.CategoryHTTP).
			Context("endpoint", s.endpoint).
			Build()
	}
	defer func() {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return errors.Newf("quality sample rejected with status %d", resp.StatusCode).
			Component("sink").
			Category(errors.CategoryHTTP).
			Context("endpoint", s.endpoint).
			Build()
	}
	return nil
}

// Close implements Sink.
func (s *HTTPSink) Close() error {
	s.client.Close()
	return nil
}
