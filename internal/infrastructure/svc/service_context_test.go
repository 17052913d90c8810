package svc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"targetwatch/internal/domain"
	"targetwatch/internal/infrastructure/config"
	"targetwatch/internal/infrastructure/storage"
)

func memoryConfig() *config.Config {
	cur := 104.0
	cfg := &config.Config{}
	cfg.Server.Addr = ":0"
	cfg.Targets.Percentages = []float64{1, 3, 5, 10}
	cfg.Store.Driver = config.StoreMemory
	cfg.Store.TimeoutSec = 2
	cfg.Positions.Driver = config.PositionsStatic
	cfg.Positions.TimeoutSec = 2
	cfg.Positions.Static = []config.StaticPosition{
		{ID: 1, Ticker: " acme ", Side: "LONG", Qty: 10, EntryPrice: 100, CurrentPrice: &cur},
	}
	cfg.Refresh.Schedule = "@every 1h"
	cfg.Refresh.Concurrency = 2
	return cfg
}

func TestNewWithMemoryDrivers(t *testing.T) {
	sc, err := New(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer sc.Close()

	_, inMemory := sc.Journal.(*storage.InMemoryJournal)
	assert.True(t, inMemory)
	assert.NotNil(t, sc.History)

	require.NoError(t, sc.Start(context.Background()))
	assert.Equal(t, []string{"ACME"}, sc.Engine.Tickers())

	rec := httptest.NewRecorder()
	sc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/targets/ACME/standard/3/toggle", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	recs, err := sc.History.ListTransitions(context.Background(), "ACME", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Active)
}

func TestNewRejectsUnknownStore(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store.Driver = "carrier-pigeon"
	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestCloseIsIdempotent(t *testing.T) {
	sc, err := New(context.Background(), memoryConfig())
	require.NoError(t, err)
	assert.NoError(t, sc.Close())
	assert.NoError(t, sc.Close())
}

func TestStaticPositions(t *testing.T) {
	exit := 45.0
	out := StaticPositions([]config.StaticPosition{
		{ID: 2, Ticker: "beta", Side: " Short ", Qty: 2, EntryPrice: 50, ExitPrice: &exit, Status: "CLOSED"},
	})
	require.Len(t, out, 1)
	assert.Equal(t, "BETA", out[0].Ticker)
	assert.Equal(t, domain.SideShort, out[0].Side)
	assert.Equal(t, domain.StatusClosed, out[0].Status)
	assert.True(t, out[0].IsClosed())

	b, err := json.Marshal(out[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), `"exit_price":45`)
}
