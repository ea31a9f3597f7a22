package xelenchu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/lmittmann/tint"
)

const (
	reporterEmbedTitle = "⚠️ An error occurred"
	reporterEmbedColor = 0xFF0000

	// stackTraceMaxLength caps the stack trace field in the report payload
	stackTraceMaxLength = 1000
)

// webhookEmbedField is one field of a report embed.
type webhookEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type webhookEmbed struct {
	Title     string              `json:"title"`
	Color     int                 `json:"color"`
	Fields    []webhookEmbedField `json:"fields"`
	Timestamp string              `json:"timestamp"`
}

type webhookPayload struct {
	Embeds []webhookEmbed `json:"embeds"`
}

// WebhookReporter delivers structured error reports to an external
// monitoring webhook. Delivery is strictly best-effort: Report never
// returns an error, never panics, and never retries - any failure is
// logged locally and swallowed.
type WebhookReporter struct {
	config     ReporterConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func newWebhookReporter(
	config ReporterConfig,
	httpClient *http.Client,
	handler slog.Handler,
) *WebhookReporter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	return &WebhookReporter{
		config:     config,
		httpClient: httpClient,
		logger:     slog.New(handler).With(loggerNameKey, "webhook_reporter"),
	}
}

// Report sends the given error to the configured webhook, tagged with a
// context label identifying where it came from (ex:
// "Button Interaction: create_channel"). The caller's stack trace is
// captured here, truncated to stackTraceMaxLength characters.
func (r *WebhookReporter) Report(
	ctx context.Context,
	reportErr error,
	contextLabel string,
) {
	logger := r.logger.With("context", contextLabel)

	if r.config.URL == "" || r.config.URL == reporterURLPlaceholder {
		logger.WarnContext(
			ctx,
			"reporter webhook URL not configured, skipping report",
			tint.Err(reportErr),
		)
		return
	}

	errMsg := "Unknown error"
	if reportErr != nil {
		errMsg = reportErr.Error()
	}

	payload := webhookPayload{
		Embeds: []webhookEmbed{
			{
				Title: reporterEmbedTitle,
				Color: reporterEmbedColor,
				Fields: []webhookEmbedField{
					{Name: "Context", Value: contextLabel},
					{Name: "Error message", Value: errMsg},
					{
						Name: "Stack trace",
						Value: fmt.Sprintf(
							"```%s```",
							truncate(string(debug.Stack()), stackTraceMaxLength),
						),
					},
				},
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		logger.ErrorContext(ctx, "error marshaling report payload", tint.Err(err))
		return
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		r.config.URL,
		bytes.NewReader(body),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error creating report request", tint.Err(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		logger.ErrorContext(ctx, "error delivering report", tint.Err(err))
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.ErrorContext(
			ctx,
			"report delivery rejected",
			"status_code", resp.StatusCode,
		)
		return
	}

	logger.DebugContext(ctx, "report delivered")
}
