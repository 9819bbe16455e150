package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/lachiem1/budgetbell/internal/ledger"
	"github.com/lachiem1/budgetbell/internal/recurrence"
	"github.com/shopspring/decimal"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	client, err := New("https://docs.example.test/v1/", "user one", "test-token")
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	client.httpClient = &http.Client{Transport: rt}
	return client
}

func sampleItem() ledger.Item {
	confirmed := time.Date(2024, time.March, 1, 9, 5, 0, 0, time.UTC)
	return ledger.Item{
		ID:              "item-1",
		Kind:            ledger.KindIncome,
		Label:           "Salary",
		Amount:          decimal.RequireFromString("2500.00"),
		Frequency:       recurrence.Biweekly,
		AnchorDate:      recurrence.Date(2024, time.March, 15),
		LastConfirmedAt: &confirmed,
		Revision:        4,
		UpdatedAt:       confirmed,
	}
}

func TestNewValidatesInput(t *testing.T) {
	t.Parallel()

	if _, err := New("", "user", "token"); err == nil {
		t.Fatal("New() with empty url error = nil, want non-nil")
	}
	if _, err := New("https://docs.example.test", " ", "token"); err == nil {
		t.Fatal("New() with empty user error = nil, want non-nil")
	}
}

func TestPatchItemSendsRevisionPrecondition(t *testing.T) {
	t.Parallel()

	var seenReq *http.Request
	var seenBody itemDoc
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		seenReq = req
		if err := json.NewDecoder(req.Body).Decode(&seenBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		return respond(http.StatusOK, `{}`), nil
	})

	if err := client.PatchItem(context.Background(), sampleItem(), 3); err != nil {
		t.Fatalf("PatchItem() unexpected error: %v", err)
	}
	if seenReq == nil {
		t.Fatal("no request captured")
	}
	if seenReq.Method != http.MethodPatch {
		t.Fatalf("method = %q, want %q", seenReq.Method, http.MethodPatch)
	}
	if seenReq.URL.EscapedPath() != "/v1/users/user%20one/items/item-1" {
		t.Fatalf("path = %q, want %q", seenReq.URL.EscapedPath(), "/v1/users/user%20one/items/item-1")
	}
	if got := seenReq.Header.Get("If-Match"); got != "3" {
		t.Fatalf("If-Match = %q, want %q", got, "3")
	}
	if got := seenReq.Header.Get("Authorization"); got != "Bearer test-token" {
		t.Fatalf("Authorization header = %q, want %q", got, "Bearer test-token")
	}
	if seenBody.AnchorDate != "2024-03-15" || seenBody.Amount != "2500" || seenBody.Revision != 4 {
		t.Fatalf("body = %+v, want anchor 2024-03-15 amount 2500 revision 4", seenBody)
	}
	if seenBody.LastConfirmedAt == nil {
		t.Fatal("body last_confirmed_at = nil, want set")
	}
}

func TestStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "precondition failed", status: http.StatusPreconditionFailed, want: ledger.ErrConflict},
		{name: "conflict", status: http.StatusConflict, want: ledger.ErrConflict},
		{name: "unauthorized", status: http.StatusUnauthorized, want: ErrUnauthorized},
		{name: "forbidden", status: http.StatusForbidden, want: ErrUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(*http.Request) (*http.Response, error) {
				return respond(tc.status, tc.body), nil
			})
			err := client.PatchItem(context.Background(), sampleItem(), 3)
			if !errors.Is(err, tc.want) {
				t.Fatalf("PatchItem() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestServerErrorIncludesDetail(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return respond(http.StatusInternalServerError, `{"error":"disk full"}`), nil
	})
	err := client.Ping(context.Background())
	if err == nil {
		t.Fatal("Ping() error = nil, want non-nil")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("Ping() error = %q, want detail %q", err, "disk full")
	}
}

func TestPutConfirmedIncome(t *testing.T) {
	t.Parallel()

	var seenReq *http.Request
	var seenBody totalsDoc
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		seenReq = req
		_ = json.NewDecoder(req.Body).Decode(&seenBody)
		return respond(http.StatusNoContent, ``), nil
	})

	month := recurrence.Month{Year: 2024, Month: time.March}
	if err := client.PutConfirmedIncome(context.Background(), month, decimal.RequireFromString("5000")); err != nil {
		t.Fatalf("PutConfirmedIncome() unexpected error: %v", err)
	}
	if seenReq.Method != http.MethodPut {
		t.Fatalf("method = %q, want %q", seenReq.Method, http.MethodPut)
	}
	if seenReq.URL.Path != "/v1/users/user one/totals/2024-03" {
		t.Fatalf("path = %q, want %q", seenReq.URL.Path, "/v1/users/user one/totals/2024-03")
	}
	if seenBody.ConfirmedIncome != "5000.00" {
		t.Fatalf("confirmed_income = %q, want %q", seenBody.ConfirmedIncome, "5000.00")
	}
}
