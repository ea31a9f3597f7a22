package xelenchu

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReporter(t testing.TB, url string, client *http.Client) *WebhookReporter {
	t.Helper()
	return newWebhookReporter(
		ReporterConfig{URL: url, Timeout: time.Second},
		client,
		testLogHandler(t),
	)
}

func TestReporterPayload(t *testing.T) {
	t.Parallel()
	received := make(chan webhookPayload, 1)
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(
					t,
					"application/json",
					r.Header.Get("Content-Type"),
				)
				body, err := io.ReadAll(r.Body)
				assert.NoError(t, err)

				var payload webhookPayload
				assert.NoError(t, json.Unmarshal(body, &payload))
				received <- payload
				w.WriteHeader(http.StatusNoContent)
			},
		),
	)
	t.Cleanup(srv.Close)

	reporter := newTestReporter(t, srv.URL, nil)
	reporter.Report(
		context.Background(),
		errors.New("boom"),
		"Button Interaction: create_channel",
	)

	select {
	case payload := <-received:
		require.Len(t, payload.Embeds, 1)
		embed := payload.Embeds[0]
		assert.Equal(t, reporterEmbedTitle, embed.Title)
		assert.Equal(t, reporterEmbedColor, embed.Color)

		require.Len(t, embed.Fields, 3)
		assert.Equal(t, "Context", embed.Fields[0].Name)
		assert.Equal(
			t,
			"Button Interaction: create_channel",
			embed.Fields[0].Value,
		)
		assert.Equal(t, "Error message", embed.Fields[1].Name)
		assert.Equal(t, "boom", embed.Fields[1].Value)

		assert.Equal(t, "Stack trace", embed.Fields[2].Name)
		stack := embed.Fields[2].Value
		assert.True(t, strings.HasPrefix(stack, "```"))
		assert.True(t, strings.HasSuffix(stack, "```"))
		assert.LessOrEqual(
			t,
			utf8.RuneCountInString(stack),
			stackTraceMaxLength+len("``````"),
		)

		_, err := time.Parse(time.RFC3339, embed.Timestamp)
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for report")
	}
}

func TestReporterNilError(t *testing.T) {
	t.Parallel()
	received := make(chan webhookPayload, 1)
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				var payload webhookPayload
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
				received <- payload
			},
		),
	)
	t.Cleanup(srv.Close)

	reporter := newTestReporter(t, srv.URL, nil)
	reporter.Report(context.Background(), nil, "Somewhere")

	select {
	case payload := <-received:
		require.Len(t, payload.Embeds, 1)
		assert.Equal(t, "Unknown error", payload.Embeds[0].Fields[1].Value)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for report")
	}
}

func TestReporterSkipsWhenUnconfigured(t *testing.T) {
	t.Parallel()
	for _, url := range []string{"", reporterURLPlaceholder} {
		transport := &countingTransport{}
		reporter := newTestReporter(
			t,
			url,
			&http.Client{Transport: transport},
		)
		reporter.Report(context.Background(), errors.New("boom"), "Somewhere")
		assert.Zero(
			t,
			transport.count.Load(),
			"no delivery attempt for url %q", url,
		)
	}
}

// Report must never fail or panic regardless of what happens to the
// delivery itself.
func TestReporterSwallowsFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run(
		"transport error", func(t *testing.T) {
			t.Parallel()
			client := &http.Client{Transport: &failingTransport{}}
			reporter := newTestReporter(t, "http://localhost:1", client)
			reporter.Report(ctx, errors.New("boom"), "Somewhere")
		},
	)

	t.Run(
		"malformed url", func(t *testing.T) {
			t.Parallel()
			reporter := newTestReporter(t, "::not-a-url", nil)
			reporter.Report(ctx, errors.New("boom"), "Somewhere")
		},
	)

	t.Run(
		"rejected delivery", func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(
				http.HandlerFunc(
					func(w http.ResponseWriter, _ *http.Request) {
						w.WriteHeader(http.StatusInternalServerError)
					},
				),
			)
			t.Cleanup(srv.Close)
			reporter := newTestReporter(t, srv.URL, nil)
			reporter.Report(ctx, errors.New("boom"), "Somewhere")
		},
	)
}

type countingTransport struct {
	count atomic.Int64
}

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.count.Add(1)
	return nil, errors.New("transport should not have been used")
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}
