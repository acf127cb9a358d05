// Package sheets is the backup fallback path: when the primary remote
// store cannot take a write, a flattened attendance row and an
// error-log row are appended to a spreadsheet webhook (an Apps-Script
// style endpoint that appends one row per POST).
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client posts rows to the spreadsheet webhook.
type Client struct {
	WebhookURL string
	HTTP       *http.Client
}

// New creates a sheets client. An empty URL yields a disabled client.
func New(webhookURL string) *Client {
	return &Client{
		WebhookURL: webhookURL,
		HTTP:       &http.Client{Timeout: 15 * time.Second},
	}
}

// Enabled reports whether a webhook is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.WebhookURL != ""
}

// AttendanceRow is the flattened attendance shape the spreadsheet
// understands.
type AttendanceRow struct {
	SessionID     string    `json:"sessionId"`
	StudentID     string    `json:"studentId"`
	StudentName   string    `json:"studentName"`
	Subject       string    `json:"subject"`
	AcademicLevel string    `json:"academicLevel"`
	ScannedAt     time.Time `json:"scannedAt"`
	Status        string    `json:"status"`
	Score         int       `json:"score"`
}

// ErrorRow records why the primary write path was bypassed.
type ErrorRow struct {
	When   time.Time `json:"when"`
	Op     string    `json:"op"`
	Detail string    `json:"detail"`
}

type envelope struct {
	Sheet string `json:"sheet"`
	Row   any    `json:"row"`
}

// AppendAttendance appends one attendance row.
func (c *Client) AppendAttendance(ctx context.Context, row AttendanceRow) error {
	return c.post(ctx, envelope{Sheet: "attendance", Row: row})
}

// AppendErrorLog appends one error-log row.
func (c *Client) AppendErrorLog(ctx context.Context, row ErrorRow) error {
	return c.post(ctx, envelope{Sheet: "error_log", Row: row})
}

func (c *Client) post(ctx context.Context, body envelope) error {
	if !c.Enabled() {
		return nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("sheets: marshal row failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.WebhookURL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("sheets: create request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("sheets: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sheets: append failed (%d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}
