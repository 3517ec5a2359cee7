// Package extract calls the receipt extraction API. The API takes a
// receipt image and returns structured fields; its output is noisy and
// is expected to go through reconcile.Correct before anyone sees it.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"path"
	"time"

	"github.com/mmynk/tabsplit/internal/money"
	"github.com/mmynk/tabsplit/internal/reconcile"
)

// Client calls the extraction API.
type Client struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates an extraction client. The timeout is generous
// because text extraction on a photo routinely takes tens of seconds.
func NewClient(apiURL, apiKey string) *Client {
	return &Client{
		apiURL: apiURL,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// wireResponse is the extraction API's response shape. Amounts arrive
// as dollar floats; conversion to cents happens here and nowhere else.
type wireResponse struct {
	MerchantName string     `json:"merchant_name"`
	Items        []wireItem `json:"items"`
	SubTotal     float64    `json:"sub_total"`
	Tax          float64    `json:"tax"`
	Tip          float64    `json:"tip"`
	Total        float64    `json:"total"`
}

type wireItem struct {
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Price     float64 `json:"price"`
}

// ExtractURL downloads the image at the given URL and extracts it.
// Upload flows hand us a hosted image URL rather than bytes.
func (c *Client) ExtractURL(ctx context.Context, imageURL string) (reconcile.Extracted, error) {
	var ex reconcile.Extracted

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return ex, fmt.Errorf("failed to create image request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ex, fmt.Errorf("failed to download image from %s: %w", imageURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ex, fmt.Errorf("bad status %s downloading %s", resp.Status, imageURL)
	}

	return c.Extract(ctx, resp.Body, path.Base(resp.Request.URL.Path))
}

// Extract uploads a receipt image and returns the parsed fields.
func (c *Client) Extract(ctx context.Context, image io.Reader, filename string) (reconcile.Extracted, error) {
	var ex reconcile.Extracted

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return ex, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return ex, fmt.Errorf("failed to copy image to form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return ex, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, body)
	if err != nil {
		return ex, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ex, fmt.Errorf("extraction request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ex, fmt.Errorf("failed to read extraction response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return ex, fmt.Errorf("extraction API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var wire wireResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return ex, fmt.Errorf("failed to unmarshal extraction response: %w", err)
	}

	ex = reconcile.Extracted{
		RestaurantName: wire.MerchantName,
		Subtotal:       centsFromDollars(wire.SubTotal),
		Tax:            centsFromDollars(wire.Tax),
		Tip:            centsFromDollars(wire.Tip),
		Total:          centsFromDollars(wire.Total),
	}
	for _, it := range wire.Items {
		ex.Items = append(ex.Items, reconcile.Item{
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  centsFromDollars(it.UnitPrice),
			TotalPrice: centsFromDollars(it.Price),
		})
	}

	slog.Info("Extraction complete",
		"merchant", ex.RestaurantName,
		"items", len(ex.Items),
		"total", ex.Total.String(),
	)
	return ex, nil
}

// centsFromDollars converts an API dollar amount to cents. The API
// speaks float; rounding here keeps floating point out of everything
// downstream.
func centsFromDollars(d float64) money.Cents {
	return money.Cents(math.Round(d * 100))
}
