package main

import (
	"context"
	"encoding/json"
	"ms-tiket/internal/catalog"
	"ms-tiket/internal/kafka"
	"ms-tiket/internal/logger"
	"ms-tiket/internal/models"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyEvent_SkipsMalformed(t *testing.T) {
	projection := catalog.NewProjection(logger.Discard())
	handle := applyEvent(projection)

	err := handle(context.Background(), models.LedgerEvent{EventID: "e1", Kind: models.EventAddTicket})
	assert.ErrorIs(t, err, kafka.ErrSkipEvent)
}

func TestCatalogRouter(t *testing.T) {
	projection := catalog.NewProjection(logger.Discard())
	event := models.NewAddTicketEvent(models.TicketType{
		ID: 0, Name: "VIP", Price: decimal.NewFromInt(100), Total: 2, URI: "ipfs://vip",
	}, time.Now())
	require.NoError(t, applyEvent(projection)(context.Background(), event))

	router := catalogRouter(projection)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/catalog", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []catalog.Entry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "VIP", body.Data[0].Name)
	assert.Equal(t, int64(2), body.Data[0].Remaining)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/catalog/0", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/catalog/9", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/catalog/x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
