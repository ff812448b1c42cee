package ledger_api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"ms-tiket/internal/auth"
	"ms-tiket/internal/ledger"
	"ms-tiket/internal/ledger/ledger_api"
	ledgerredis "ms-tiket/internal/ledger/redis"
	"ms-tiket/internal/logger"
	"ms-tiket/internal/models"
	qr "ms-tiket/internal/tickets/qr_generator"
	"ms-tiket/internal/sse"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	owner = "0xowner"
	userA = "0xuserA"
	userB = "0xuserB"
)

type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
	Error   string `json:"error"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

type fixture struct {
	ledger  *ledger.Ledger
	handler *ledger_api.Handler
	router  chi.Router
	tokens  *auth.HMACVerifier
}

func newFixture(t *testing.T, opts ...ledger.Option) *fixture {
	t.Helper()

	l, err := ledger.New(context.Background(), owner, opts...)
	require.NoError(t, err)

	tokens := auth.NewHMACVerifier("test-secret")
	h := ledger_api.NewHandler(l, logger.Discard())

	r := chi.NewRouter()
	h.RegisterRoutes(r, auth.Middleware(tokens, logger.Discard()))

	return &fixture{ledger: l, handler: h, router: r, tokens: tokens}
}

func (f *fixture) do(t *testing.T, method, path, caller string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		token, err := f.tokens.IssueToken(caller, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) registerVIP(t *testing.T) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/tickets/types", owner, map[string]interface{}{
		"name": "VIP", "price": "1", "unit": "ether", "total": 2, "uri": "ipfs://vip",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestTicketFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/tickets/types", owner, map[string]interface{}{
		"name": "VIP", "price": "1", "unit": "ether", "total": 2, "uri": "ipfs://vip",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.TicketType](t, rec)
	assert.True(t, created.Success)
	assert.Equal(t, int64(0), created.Data.ID)
	assert.True(t, created.Data.Price.Equal(decimal.RequireFromString("1000000000000000000")))

	rec = f.do(t, http.MethodGet, "/api/tickets/types", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	types := decode[[]models.TicketType](t, rec)
	require.Len(t, types.Data, 1)
	assert.Equal(t, "VIP", types.Data[0].Name)

	rec = f.do(t, http.MethodPost, "/api/tickets/types/0/purchase", userA, map[string]string{
		"payment": "1000000000000000000",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bought := decode[ledger_api.PurchaseResponse](t, rec)
	assert.Equal(t, int64(0), bought.Data.TicketID)
	assert.Equal(t, userA, bought.Data.Owner)

	rec = f.do(t, http.MethodGet, "/api/tickets/mine", userA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{0}, decode[[]int64](t, rec).Data)

	rec = f.do(t, http.MethodGet, "/api/tickets/mine", userB, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]int64](t, rec).Data)

	rec = f.do(t, http.MethodGet, "/api/tickets/0", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ticket := decode[models.TicketOwnership](t, rec)
	assert.Equal(t, userA, ticket.Data.Owner)

	rec = f.do(t, http.MethodGet, "/api/tickets/types/0", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[models.TicketType](t, rec).Data.Sold)

	rec = f.do(t, http.MethodGet, "/api/tickets/count", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ledger_api.CountResponse{TicketTypes: 1, Tickets: 1}, decode[ledger_api.CountResponse](t, rec).Data)

	rec = f.do(t, http.MethodGet, "/api/tickets/summary", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[ledger.Summary](t, rec)
	assert.Equal(t, int64(1), summary.Data.TicketsSold)

	rec = f.do(t, http.MethodPost, "/api/treasury/withdraw", owner, map[string]string{"amount": "0.25", "unit": "ether"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/treasury", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	treasury := decode[ledger_api.TreasuryResponse](t, rec)
	assert.Equal(t, owner, treasury.Data.Owner)
	assert.True(t, treasury.Data.Balance.Equal(models.MustParseUnits("0.75", models.EtherDecimals)))
	assert.Len(t, treasury.Data.Withdrawals, 1)
}

func TestStatusMapping(t *testing.T) {
	f := newFixture(t)
	f.registerVIP(t)

	for _, buyer := range []string{userA, userB} {
		rec := f.do(t, http.MethodPost, "/api/tickets/types/0/purchase", buyer, map[string]string{"payment": "1", "unit": "ether"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	tests := []struct {
		name   string
		method string
		path   string
		caller string
		body   interface{}
		want   int
	}{
		{"missing token", http.MethodPost, "/api/tickets/types/0/purchase", "", map[string]string{"payment": "1"}, http.StatusUnauthorized},
		{"register by non-owner", http.MethodPost, "/api/tickets/types", userA, map[string]interface{}{"name": "X", "price": "1", "total": 1, "uri": "u"}, http.StatusForbidden},
		{"withdraw by non-owner", http.MethodPost, "/api/treasury/withdraw", userA, map[string]string{"amount": "1"}, http.StatusForbidden},
		{"unknown type", http.MethodPost, "/api/tickets/types/7/purchase", userA, map[string]string{"payment": "1", "unit": "ether"}, http.StatusNotFound},
		{"unknown type lookup", http.MethodGet, "/api/tickets/types/7", "", nil, http.StatusNotFound},
		{"unknown ticket", http.MethodGet, "/api/tickets/99", "", nil, http.StatusNotFound},
		{"underpayment", http.MethodPost, "/api/tickets/types/0/purchase", userA, map[string]string{"payment": "0.5", "unit": "ether"}, http.StatusPaymentRequired},
		{"sold out", http.MethodPost, "/api/tickets/types/0/purchase", userA, map[string]string{"payment": "1", "unit": "ether"}, http.StatusConflict},
		{"overdraw", http.MethodPost, "/api/treasury/withdraw", owner, map[string]string{"amount": "3", "unit": "ether"}, http.StatusConflict},
		{"zero withdrawal", http.MethodPost, "/api/treasury/withdraw", owner, map[string]string{"amount": "0"}, http.StatusBadRequest},
		{"fractional wei", http.MethodPost, "/api/treasury/withdraw", owner, map[string]string{"amount": "0.5"}, http.StatusBadRequest},
		{"unparseable payment", http.MethodPost, "/api/tickets/types/0/purchase", userA, map[string]string{"payment": "lots"}, http.StatusBadRequest},
		{"unknown unit", http.MethodPost, "/api/tickets/types/0/purchase", userA, map[string]string{"payment": "1", "unit": "gwei"}, http.StatusBadRequest},
		{"missing payment", http.MethodPost, "/api/tickets/types/0/purchase", userA, map[string]string{}, http.StatusBadRequest},
		{"bad type id", http.MethodGet, "/api/tickets/types/abc", "", nil, http.StatusBadRequest},
		{"zero total", http.MethodPost, "/api/tickets/types", owner, map[string]interface{}{"name": "X", "price": "1", "total": 0, "uri": "u"}, http.StatusBadRequest},
		{"missing uri", http.MethodPost, "/api/tickets/types", owner, map[string]interface{}{"name": "X", "price": "1", "total": 1}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.caller, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	// failed requests leave the ledger untouched
	assert.Equal(t, int64(2), f.ledger.TicketCount())
	assert.Equal(t, int64(1), f.ledger.TypeCount())
	assert.True(t, f.ledger.Balance().Equal(models.MustParseUnits("2", models.EtherDecimals)))
}

func TestRegisterType_MalformedBody(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/tickets/types", strings.NewReader("{"))
	token, err := f.tokens.IssueToken(owner, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode[interface{}](t, rec)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Error)
}

func setupLocks(t *testing.T) (*ledgerredis.RequestLock, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return ledgerredis.NewRequestLock(client, "tiket", time.Minute), mr
}

func TestPurchase_IdempotencyKeyReplays(t *testing.T) {
	f := newFixture(t)
	locks, _ := setupLocks(t)
	f.handler.Locks = locks
	f.registerVIP(t)

	body := map[string]string{"payment": "1", "unit": "ether"}
	first := f.do(t, http.MethodPost, "/api/tickets/types/0/purchase", userA, body, ledger_api.IdempotencyHeader, "order-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := f.do(t, http.MethodPost, "/api/tickets/types/0/purchase", userA, body, ledger_api.IdempotencyHeader, "order-1")
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	replay := decode[ledger_api.PurchaseResponse](t, second)
	assert.True(t, replay.Data.Replayed)
	assert.Equal(t, decode[ledger_api.PurchaseResponse](t, first).Data.TicketID, replay.Data.TicketID)
	assert.Equal(t, int64(1), f.ledger.TicketCount())

	// the key is scoped to the caller
	other := f.do(t, http.MethodPost, "/api/tickets/types/0/purchase", userB, body, ledger_api.IdempotencyHeader, "order-1")
	require.Equal(t, http.StatusCreated, other.Code, other.Body.String())
	assert.Equal(t, int64(2), f.ledger.TicketCount())
}

func TestPurchase_IdempotencyKeyInFlight(t *testing.T) {
	f := newFixture(t)
	locks, _ := setupLocks(t)
	f.handler.Locks = locks
	f.registerVIP(t)

	acquired, err := locks.Acquire(context.Background(), userA, "order-2")
	require.NoError(t, err)
	require.True(t, acquired)

	rec := f.do(t, http.MethodPost, "/api/tickets/types/0/purchase", userA,
		map[string]string{"payment": "1", "unit": "ether"}, ledger_api.IdempotencyHeader, "order-2")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, int64(0), f.ledger.TicketCount())
}

func TestPurchase_FailureReleasesIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	locks, _ := setupLocks(t)
	f.handler.Locks = locks
	f.registerVIP(t)

	rec := f.do(t, http.MethodPost, "/api/tickets/types/0/purchase", userA,
		map[string]string{"payment": "0.1", "unit": "ether"}, ledger_api.IdempotencyHeader, "order-3")
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/tickets/types/0/purchase", userA,
		map[string]string{"payment": "1", "unit": "ether"}, ledger_api.IdempotencyHeader, "order-3")
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestPurchase_LockUnavailable(t *testing.T) {
	f := newFixture(t)
	locks, mr := setupLocks(t)
	f.handler.Locks = locks
	f.registerVIP(t)
	mr.Close()

	rec := f.do(t, http.MethodPost, "/api/tickets/types/0/purchase", userA,
		map[string]string{"payment": "1", "unit": "ether"}, ledger_api.IdempotencyHeader, "order-4")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, int64(0), f.ledger.TicketCount())
}

func TestTicketPass(t *testing.T) {
	f := newFixture(t)
	passes, err := qr.NewPassGenerator("pass-secret")
	require.NoError(t, err)
	f.handler.Passes = passes
	f.registerVIP(t)

	rec := f.do(t, http.MethodPost, "/api/tickets/types/0/purchase", userA, map[string]string{"payment": "1", "unit": "ether"})
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("png for the owner", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/tickets/0/qr", userA, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		_, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
		assert.NoError(t, err)
	})

	t.Run("denied to others", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/tickets/0/qr", userB, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown ticket", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/tickets/5/qr", userA, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("token verifies", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/tickets/0/qr?format=token", userA, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		token := decode[map[string]string](t, rec).Data["token"]
		require.NotEmpty(t, token)

		rec = f.do(t, http.MethodPost, "/api/tickets/verify", "", ledger_api.VerifyPassRequest{Token: token})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		verified := decode[ledger_api.VerifyPassResponse](t, rec)
		assert.True(t, verified.Data.Valid)
		assert.Equal(t, userA, verified.Data.Ticket.Owner)
	})

	t.Run("forged pass", func(t *testing.T) {
		forged, err := passes.EncryptPass(models.TicketPass{TicketID: 0, TypeID: 0, Owner: userB})
		require.NoError(t, err)
		rec := f.do(t, http.MethodPost, "/api/tickets/verify", "", ledger_api.VerifyPassRequest{Token: forged})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/tickets/verify", "", ledger_api.VerifyPassRequest{Token: "not-a-pass"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTicketPass_Disabled(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/tickets/verify", "", ledger_api.VerifyPassRequest{Token: "x"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStreamEvents(t *testing.T) {
	emitter := sse.NewLedgerEventEmitter()
	dispatcher := ledger.NewDispatcher([]ledger.Publisher{emitter})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		dispatcher.Close(ctx)
	})

	f := newFixture(t, ledger.WithEvents(dispatcher))
	f.handler.Events = emitter

	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/tickets/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	require.Eventually(t, func() bool { return emitter.ClientCount(-1) == 1 }, time.Second, 10*time.Millisecond)

	_, err = f.ledger.RegisterType(context.Background(), owner, "VIP", decimal.NewFromInt(100), 2, "ipfs://vip")
	require.NoError(t, err)

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed before AddTicket arrived")
			if line == "event: "+string(models.EventAddTicket) {
				data := <-lines
				require.True(t, strings.HasPrefix(data, "data: "))
				var event models.LedgerEvent
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &event))
				require.NotNil(t, event.AddTicket)
				assert.Equal(t, "VIP", event.AddTicket.Name)
				return
			}
		case <-timeout:
			t.Fatal("no AddTicket event received")
		}
	}
}

func TestStreamEvents_BadTypeFilter(t *testing.T) {
	f := newFixture(t)
	f.handler.Events = sse.NewLedgerEventEmitter()

	rec := f.do(t, http.MethodGet, "/api/tickets/events?type_id=-3", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
