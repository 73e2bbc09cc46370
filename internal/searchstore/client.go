// Package searchstore uploads analyzed content records to the external
// vector search index over its REST API.
package searchstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/edupipe/edupipe/internal/config"
	"github.com/edupipe/edupipe/internal/content"
	"github.com/edupipe/edupipe/internal/retry"
)

const apiVersion = "2023-11-01"

// FailedUpsert records one record the index rejected.
type FailedUpsert struct {
	ID     string
	Reason string
}

// UpsertReport tallies per-record outcomes of one Upsert call so failed
// ids can be queued for retry instead of silently lost.
type UpsertReport struct {
	Succeeded []string
	Failed    []FailedUpsert
}

// Client talks to the search index's document endpoint.
type Client struct {
	endpoint   string
	indexName  string
	apiKey     string
	batchSize  int
	httpClient *http.Client
	policy     retry.Policy
	log        *slog.Logger
}

func NewClient(cfg config.SearchStoreConfig, log *slog.Logger) *Client {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		indexName:  cfg.IndexName,
		apiKey:     cfg.APIKey,
		batchSize:  batch,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		policy:     retry.DefaultPolicy(),
		log:        log,
	}
}

// Upsert uploads the records in batches. A failing batch is bisected and
// each half retried, down to per-record uploads, so one bad record cannot
// sink its batch. The returned report covers every input record exactly
// once.
func (c *Client) Upsert(ctx context.Context, recs []*content.Record) (*UpsertReport, error) {
	report := &UpsertReport{}
	for start := 0; start < len(recs); start += c.batchSize {
		end := start + c.batchSize
		if end > len(recs) {
			end = len(recs)
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		c.upsertBisect(ctx, recs[start:end], report)
	}
	return report, nil
}

func (c *Client) upsertBisect(ctx context.Context, recs []*content.Record, report *UpsertReport) {
	err := c.uploadBatch(ctx, recs, report)
	if err == nil {
		return
	}
	if len(recs) == 1 {
		c.log.Warn("record rejected by search index", "id", recs[0].ID, "error", err)
		report.Failed = append(report.Failed, FailedUpsert{ID: recs[0].ID, Reason: err.Error()})
		return
	}

	c.log.Debug("batch upload failed, bisecting", "size", len(recs), "error", err)
	mid := len(recs) / 2
	c.upsertBisect(ctx, recs[:mid], report)
	c.upsertBisect(ctx, recs[mid:], report)
}

// indexPayload is the JSON body for POST .../docs/index.
type indexPayload struct {
	Value []document `json:"value"`
}

// indexResult is one per-document status in the response.
type indexResult struct {
	Key          string `json:"key"`
	Status       bool   `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	StatusCode   int    `json:"statusCode"`
}

type indexResponse struct {
	Value []indexResult `json:"value"`
}

// uploadBatch posts one batch and merges per-document statuses into the
// report. It returns an error only when the whole request failed and the
// caller should bisect.
func (c *Client) uploadBatch(ctx context.Context, recs []*content.Record, report *UpsertReport) error {
	docs := make([]document, len(recs))
	for i, rec := range recs {
		docs[i] = mapRecord(rec)
	}
	body, err := json.Marshal(indexPayload{Value: docs})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/indexes/%s/docs/index?api-version=%s", c.endpoint, c.indexName, apiVersion)

	resp, err := retry.Do(ctx, c.policy, func() (*indexResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("api-key", c.apiKey)

		res, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()

		switch {
		case res.StatusCode == http.StatusOK || res.StatusCode == http.StatusMultiStatus:
			var out indexResponse
			if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
				return nil, retry.Permanent(fmt.Errorf("decoding index response: %w", err))
			}
			return &out, nil
		case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
			return nil, fmt.Errorf("index upload: status %d", res.StatusCode)
		default:
			return nil, retry.Permanent(fmt.Errorf("index upload: status %d", res.StatusCode))
		}
	})
	if err != nil {
		return err
	}

	for _, result := range resp.Value {
		if result.Status {
			report.Succeeded = append(report.Succeeded, result.Key)
		} else {
			report.Failed = append(report.Failed, FailedUpsert{
				ID:     result.Key,
				Reason: fmt.Sprintf("status %d: %s", result.StatusCode, result.ErrorMessage),
			})
		}
	}
	return nil
}
