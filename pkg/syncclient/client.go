// Package syncclient is a Go client for the claim page protocol: it
// polls the status endpoint, merges server state into local edits
// without clobbering them, and resubmits clamped claims after losing
// an availability race.
//
// The pieces compose: a Poller feeds Status snapshots into a
// PageState via Merge, user edits go through SetDesired, and
// SubmitWithRetry pushes the desired quantities back with bounded
// auto-clamping.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmynk/tabsplit/internal/money"
)

// ErrFinalized is returned when the participant has already finalized
// and the server refuses further submissions.
var ErrFinalized = errors.New("participant has already finalized")

// Status is the poll payload from GET /claim/<slug>/status/.
type Status struct {
	Success           bool               `json:"success"`
	ViewerName        string             `json:"viewer_name"`
	IsFinalized       bool               `json:"is_finalized"`
	ParticipantTotals []ParticipantTotal `json:"participant_totals"`
	TotalClaimed      money.Cents        `json:"total_claimed"`
	TotalUnclaimed    money.Cents        `json:"total_unclaimed"`
	MyTotal           money.Cents        `json:"my_total"`
	ItemsWithClaims   []ItemStatus       `json:"items_with_claims"`
}

// ParticipantTotal pairs a participant with their current share.
type ParticipantTotal struct {
	Name   string      `json:"name"`
	Amount money.Cents `json:"amount"`
}

// ItemStatus is the claim state of one line item. Items nobody has
// claimed are omitted from the payload and are implied fully
// available.
type ItemStatus struct {
	ItemID            string      `json:"item_id"`
	AvailableQuantity int         `json:"available_quantity"`
	Claims            []ItemClaim `json:"claims"`
}

// ItemClaim is one participant's claim on an item.
type ItemClaim struct {
	ClaimerName     string `json:"claimer_name"`
	QuantityClaimed int    `json:"quantity_claimed"`
}

// Availability reports requested versus remaining quantity for an
// item that lost a claim race.
type Availability struct {
	ItemID    string `json:"item_id"`
	Name      string `json:"name"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// ConflictError is a lost availability race. The submission committed
// nothing; Availability says how far each offending item must be
// clamped for a resubmission to succeed.
type ConflictError struct {
	Message      string
	Availability []Availability
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("claim conflict: %s (%d items)", e.Message, len(e.Availability))
}

// SubmitResult reports a committed submission.
type SubmitResult struct {
	Finalized   bool
	ClaimsCount int
}

// Client talks to a tabsplit server on behalf of one participant.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the given server. The session token
// is empty until Join succeeds or SetToken restores a saved session.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetToken restores a previously issued session token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Token returns the current session token, empty before Join.
func (c *Client) Token() string {
	return c.token
}

// Join registers the participant on the receipt and stores the issued
// session token for subsequent calls.
func (c *Client) Join(ctx context.Context, receiptID, name string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.postJSON(ctx, fmt.Sprintf("/claim/%s/join/", receiptID),
		map[string]string{"name": name}, &resp)
	if err != nil {
		return err
	}
	c.token = resp.Token
	return nil
}

// FetchStatus polls the receipt's claim state. Polling never mutates
// anything server-side, so callers may repeat it freely.
func (c *Client) FetchStatus(ctx context.Context, receiptID string) (*Status, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/claim/%s/status/", receiptID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status poll failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read status response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, body)
	}

	var status Status
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &status, nil
}

// SubmitClaims sends the participant's complete desired allocation:
// every item they care about with its total desired quantity, zeros
// included so the server sees removals. A lost race comes back as a
// *ConflictError with nothing committed.
func (c *Client) SubmitClaims(ctx context.Context, receiptID string, desired map[string]int) (*SubmitResult, error) {
	type entry struct {
		LineItemID string `json:"line_item_id"`
		Quantity   int    `json:"quantity"`
	}
	payload := struct {
		Claims []entry `json:"claims"`
	}{Claims: []entry{}}
	for id, qty := range desired {
		payload.Claims = append(payload.Claims, entry{LineItemID: id, Quantity: qty})
	}

	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/claim/%s/", receiptID), payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("claim submission failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read claim response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var ok struct {
			Finalized   bool `json:"finalized"`
			ClaimsCount int  `json:"claims_count"`
		}
		if err := json.Unmarshal(body, &ok); err != nil {
			return nil, fmt.Errorf("failed to decode claim response: %w", err)
		}
		return &SubmitResult{Finalized: ok.Finalized, ClaimsCount: ok.ClaimsCount}, nil

	case http.StatusConflict:
		var conflict struct {
			Error         string         `json:"error"`
			PreserveInput bool           `json:"preserve_input"`
			Availability  []Availability `json:"availability"`
		}
		if err := json.Unmarshal(body, &conflict); err != nil {
			return nil, fmt.Errorf("failed to decode conflict response: %w", err)
		}
		if !conflict.PreserveInput {
			return nil, fmt.Errorf("%w: %s", ErrFinalized, conflict.Error)
		}
		return nil, &ConflictError{Message: conflict.Error, Availability: conflict.Availability}

	default:
		return nil, apiError(resp.StatusCode, body)
	}
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return apiError(resp.StatusCode, body)
	}
	return json.Unmarshal(body, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func apiError(status int, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("server returned %d: %s", status, e.Error)
	}
	return fmt.Errorf("server returned %d", status)
}
