// Package ledger is the HTTP adapter for the flip-tracking backend. It
// implements ports.LedgerService with rate limiting, bounded retries for
// transient failures and a single re-authentication retry on 401.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/geflip/internal/domain"
)

const (
	// El backend limita a 10 req/s por cuenta; nos quedamos por debajo.
	requestsPerSec = 8
	burst          = 16

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client habla con el backend del ledger. Seguro para uso concurrente: el
// dispatcher del reconciler lo invoca desde varias goroutines.
type Client struct {
	http    *http.Client
	base    string
	apiKey  string
	limiter *rate.Limiter

	mu    sync.Mutex
	token string
}

// NewClient builds a ledger client for the given base URL and API key.
func NewClient(base, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		base:    base,
		apiKey:  apiKey,
		limiter: rate.NewLimiter(requestsPerSec, burst),
	}
}

// RecordTransaction pushes one fill (or the zero-quantity order-opened
// record) to the backend feed.
func (c *Client) RecordTransaction(ctx context.Context, identity string, tx domain.Transaction) error {
	body := struct {
		Identity string `json:"identity"`
		domain.Transaction
	}{identity, tx}
	if err := c.do(ctx, http.MethodPost, "/v1/transactions", body, nil); err != nil {
		return fmt.Errorf("ledger.RecordTransaction: %w", err)
	}
	return nil
}

// SyncActiveFlip corrects the backend's view of an open flip's quantities.
func (c *Client) SyncActiveFlip(ctx context.Context, identity string, itemID int, itemName string, filled, order, unit int) error {
	body := struct {
		Identity     string `json:"identity"`
		ItemID       int    `json:"item_id"`
		ItemName     string `json:"item_name"`
		Filled       int    `json:"filled_quantity"`
		Order        int    `json:"order_quantity"`
		PricePerUnit int    `json:"price_per_unit"`
	}{identity, itemID, itemName, filled, order, unit}
	if err := c.do(ctx, http.MethodPost, "/v1/flips/sync", body, nil); err != nil {
		return fmt.Errorf("ledger.SyncActiveFlip: item %d: %w", itemID, err)
	}
	return nil
}

// DismissActiveFlip closes out a flip that ended without a sale.
func (c *Client) DismissActiveFlip(ctx context.Context, identity string, itemID int) error {
	body := struct {
		Identity string `json:"identity"`
		ItemID   int    `json:"item_id"`
	}{identity, itemID}
	if err := c.do(ctx, http.MethodPost, "/v1/flips/dismiss", body, nil); err != nil {
		return fmt.Errorf("ledger.DismissActiveFlip: item %d: %w", itemID, err)
	}
	return nil
}

// MarkActiveFlipSelling moves a flip into its sell phase.
func (c *Client) MarkActiveFlipSelling(ctx context.Context, identity string, itemID int) error {
	body := struct {
		Identity string `json:"identity"`
		ItemID   int    `json:"item_id"`
	}{identity, itemID}
	if err := c.do(ctx, http.MethodPost, "/v1/flips/selling", body, nil); err != nil {
		return fmt.Errorf("ledger.MarkActiveFlipSelling: item %d: %w", itemID, err)
	}
	return nil
}

// GetActiveFlips returns the backend's open flips for the identity.
func (c *Client) GetActiveFlips(ctx context.Context, identity string) ([]domain.ActiveFlip, error) {
	query := url.Values{"identity": {identity}}
	var flips []domain.ActiveFlip
	if err := c.do(ctx, http.MethodGet, "/v1/flips?"+query.Encode(), nil, &flips); err != nil {
		return nil, fmt.Errorf("ledger.GetActiveFlips: %w", err)
	}
	return flips, nil
}

// do ejecuta la request con rate limiting, retries con backoff para 429/5xx
// y EXACTAMENTE un retry de re-autenticación si el token expiró (401).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		payload = b
	}

	reauthed := false
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		token, err := c.ensureToken(ctx)
		if err != nil {
			return err
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			if reauthed {
				return fmt.Errorf("unauthorized after re-authentication: %s", respBody)
			}
			reauthed = true
			c.invalidateToken(token)
			slog.Warn("ledger: token rejected, re-authenticating once", "path", path)
			attempt-- // re-auth no consume un retry de transporte
			continue

		case resp.StatusCode == http.StatusTooManyRequests:
			slog.Warn("ledger: rate limited by backend", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue

		case resp.StatusCode >= 500:
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue

		case resp.StatusCode >= 400:
			return fmt.Errorf("client error %d: %s", resp.StatusCode, respBody)
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// ensureToken devuelve el token cacheado o hace login con la API key.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	body, err := json.Marshal(struct {
		APIKey string `json:"api_key"`
	}{c.apiKey})
	if err != nil {
		return "", fmt.Errorf("marshal login: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login status %d: %s", resp.StatusCode, respBody)
	}

	var auth struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(respBody, &auth); err != nil {
		return "", fmt.Errorf("parse login response: %w", err)
	}
	if auth.Token == "" {
		return "", fmt.Errorf("login returned empty token")
	}
	c.token = auth.Token
	return c.token, nil
}

// invalidateToken descarta el token solo si sigue siendo el que falló;
// otra goroutine puede haber renovado ya.
func (c *Client) invalidateToken(failed string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == failed {
		c.token = ""
	}
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
