package ledger_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/geflip/internal/adapters/ledger"
	"github.com/alejandrodnm/geflip/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLedgerServer responde al login y delega el resto al handler dado.
func newLedgerServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			APIKey string `json:"api_key"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-key", body.APIKey)
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	})
	mux.HandleFunc("/", handler)
	return httptest.NewServer(mux)
}

func TestClient_RecordTransaction(t *testing.T) {
	var got struct {
		Identity string `json:"identity"`
		ItemID   int    `json:"item_id"`
		Quantity int    `json:"quantity"`
		IsBuy    bool   `json:"is_buy"`
	}
	srv := newLedgerServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transactions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	})
	defer srv.Close()

	c := ledger.NewClient(srv.URL, "test-key", time.Second)
	err := c.RecordTransaction(context.Background(), "player-1", domain.Transaction{
		ID: "tx-1", ItemID: 560, ItemName: "Death rune",
		IsBuy: true, Quantity: 40, PricePerUnit: 200, Slot: 2,
	})

	require.NoError(t, err)
	assert.Equal(t, "player-1", got.Identity)
	assert.Equal(t, 560, got.ItemID)
	assert.Equal(t, 40, got.Quantity)
	assert.True(t, got.IsBuy)
}

func TestClient_GetActiveFlips(t *testing.T) {
	srv := newLedgerServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/flips", r.URL.Path)
		assert.Equal(t, "player-1", r.URL.Query().Get("identity"))
		json.NewEncoder(w).Encode([]domain.ActiveFlip{
			{ItemID: 560, ItemName: "Death rune", BuyPrice: 200, Quantity: 40, Selling: false},
		})
	})
	defer srv.Close()

	c := ledger.NewClient(srv.URL, "test-key", time.Second)
	flips, err := c.GetActiveFlips(context.Background(), "player-1")

	require.NoError(t, err)
	require.Len(t, flips, 1)
	assert.Equal(t, 560, flips[0].ItemID)
	assert.False(t, flips[0].Selling)
}

func TestClient_ReauthenticatesOnceOn401(t *testing.T) {
	var (
		logins int32
		calls  int32
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&logins, 1)
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-" + string(rune('0'+n))})
	})
	mux.HandleFunc("/v1/flips/dismiss", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			// El primer token ya expiró.
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer tok-2", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := ledger.NewClient(srv.URL, "test-key", time.Second)
	err := c.DismissActiveFlip(context.Background(), "player-1", 560)

	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&logins))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_PersistentUnauthorizedFails(t *testing.T) {
	srv := newLedgerServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	defer srv.Close()

	c := ledger.NewClient(srv.URL, "test-key", time.Second)
	err := c.MarkActiveFlipSelling(context.Background(), "player-1", 560)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized after re-authentication")
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := newLedgerServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	c := ledger.NewClient(srv.URL, "test-key", time.Second)
	err := c.SyncActiveFlip(context.Background(), "player-1", 560, "Death rune", 40, 100, 200)

	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := newLedgerServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	defer srv.Close()

	c := ledger.NewClient(srv.URL, "test-key", time.Second)
	err := c.RecordTransaction(context.Background(), "player-1", domain.Transaction{ID: "tx-1"})

	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx no se reintenta")
}

func TestClient_FailedLoginSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := ledger.NewClient(srv.URL, "bad-key", time.Second)
	_, err := c.GetActiveFlips(context.Background(), "player-1")
	assert.Error(t, err)
}

func TestClient_GetActiveFlipsEscapesIdentity(t *testing.T) {
	var got string
	srv := newLedgerServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/flips", r.URL.Path)
		got = r.URL.Query().Get("identity")
		w.Write([]byte("[]"))
	})
	defer srv.Close()

	c := ledger.NewClient(srv.URL, "test-key", time.Second)
	_, err := c.GetActiveFlips(context.Background(), "Sir Flips & Co 2")

	require.NoError(t, err)
	assert.Equal(t, "Sir Flips & Co 2", got)
}
