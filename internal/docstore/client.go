package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lachiem1/budgetbell/internal/ledger"
	"github.com/lachiem1/budgetbell/internal/recurrence"
	"github.com/shopspring/decimal"
)

var ErrUnauthorized = errors.New("document store rejected credentials")

// Client talks to the remote document store that mirrors one user's items,
// payment history and monthly totals.
type Client struct {
	baseURL    string
	user       string
	token      string
	httpClient *http.Client
}

func New(baseURL, user, token string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("document store url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse document store url: %w", err)
	}
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, errors.New("document store user is required")
	}
	return &Client{
		baseURL: baseURL,
		user:    user,
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

// Ping calls GET /ping and returns nil only when status is 200.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/ping", nil, nil)
}

// PatchItem merges it into the remote copy. The write only lands while the
// remote document is still at expectedRevision; otherwise it fails with
// ledger.ErrConflict.
func (c *Client) PatchItem(ctx context.Context, it ledger.Item, expectedRevision int64) error {
	headers := http.Header{}
	headers.Set("If-Match", strconv.FormatInt(expectedRevision, 10))
	return c.do(ctx, http.MethodPatch, c.userPath("items", it.ID), itemDocFrom(it), headers)
}

func (c *Client) AppendHistory(ctx context.Context, p ledger.PaymentEntry) error {
	return c.do(ctx, http.MethodPost, c.userPath("history"), paymentDocFrom(p), nil)
}

func (c *Client) PutConfirmedIncome(ctx context.Context, month recurrence.Month, total decimal.Decimal) error {
	doc := totalsDoc{Month: month.String(), ConfirmedIncome: total.StringFixed(2)}
	return c.do(ctx, http.MethodPut, c.userPath("totals", month.String()), doc, nil)
}

func (c *Client) userPath(parts ...string) string {
	segs := make([]string, 0, len(parts)+2)
	segs = append(segs, "users", url.PathEscape(c.user))
	for _, p := range parts {
		segs = append(segs, url.PathEscape(p))
	}
	return "/" + strings.Join(segs, "/")
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers http.Header) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	detail := readErrorDetail(resp.Body)
	switch resp.StatusCode {
	case http.StatusPreconditionFailed, http.StatusConflict:
		return fmt.Errorf("%s %s: %w", method, path, ledger.ErrConflict)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	}
	if detail != "" {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, detail)
	}
	return fmt.Errorf("%s %s failed with status %d", method, path, resp.StatusCode)
}

func readErrorDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var e errorDoc
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(raw))
}
