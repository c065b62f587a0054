package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/cardmarket/internal/catalog"
	"github.com/vladislavdragonenkov/cardmarket/internal/metrics"
	"github.com/vladislavdragonenkov/cardmarket/internal/service/listing"
	"github.com/vladislavdragonenkov/cardmarket/internal/service/order"
	"github.com/vladislavdragonenkov/cardmarket/internal/storage/memory"
	"github.com/vladislavdragonenkov/cardmarket/internal/transport/httpapi"
)

// newMarketServer поднимает HTTP API на in-memory хранилище.
func newMarketServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := log.New()
	logger.SetOutput(io.Discard)
	entry := log.NewEntry(logger)

	store := memory.NewStore(catalog.Seed()...)
	outbox := memory.NewOutboxRepository()
	m := metrics.NewMarketMetricsWithRegisterer(prometheus.NewRegistry())

	srv := httptest.NewServer(httpapi.NewRouter(httpapi.Options{
		Catalog:     store.Catalog(),
		Listings:    listing.NewManager(store.Listings(), store.Catalog(), outbox, m, entry),
		Orders:      order.NewManager(store.Orders(), store.Listings(), outbox, memory.NewTimelineRepository(), m, entry),
		Idempotency: memory.NewIdempotencyRepository(),
		Logger:      entry,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testLoadConfig(url string, mode loadMode) config {
	return config{
		baseURL:     url,
		total:       8,
		concurrency: 4,
		timeout:     5 * time.Second,
		mode:        mode,
		buyers:      4,
		catalogID:   defaultCatalogID,
		price:       12000,
		tag:         "test",
	}
}

func TestExecute_Modes(t *testing.T) {
	srv := newMarketServer(t)

	for _, mode := range []loadMode{modePurchase, modeLifecycle, modeRace} {
		t.Run(string(mode), func(t *testing.T) {
			result := execute(testLoadConfig(srv.URL, mode))

			require.Equal(t, int64(8), result.TotalScenarios)
			assert.Zero(t, result.FailedScenarios, "steps: %+v", result.Steps)
			assert.Equal(t, int64(8), result.Steps["listing"].Success)
			assert.Equal(t, int64(8), result.Steps["publish"].Success)
		})
	}
}

func TestExecute_RaceHasOneWinnerPerListing(t *testing.T) {
	srv := newMarketServer(t)

	result := execute(testLoadConfig(srv.URL, modeRace))

	orders := result.Steps["order"]
	assert.Equal(t, int64(8*4), orders.Calls)
	assert.Equal(t, int64(8), orders.Statuses["200"])
	assert.Equal(t, int64(8*3), orders.Statuses["409"])
	assert.Zero(t, orders.Failed)
}

func TestExecute_UnknownCatalogFails(t *testing.T) {
	srv := newMarketServer(t)
	cfg := testLoadConfig(srv.URL, modePurchase)
	cfg.catalogID = "missing"

	result := execute(cfg)

	assert.Equal(t, int64(8), result.FailedScenarios)
	assert.Equal(t, int64(8), result.Steps["listing"].Statuses["404"])
}

func TestExecute_TransportError(t *testing.T) {
	srv := newMarketServer(t)
	url := srv.URL
	srv.Close()

	cfg := testLoadConfig(url, modePurchase)
	cfg.total = 2
	result := execute(cfg)

	assert.Equal(t, int64(2), result.FailedScenarios)
	assert.Equal(t, int64(2), result.Steps["listing"].Statuses["transport_error"])
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig(flag.NewFlagSet("loadtest", flag.ContinueOnError),
		[]string{"-mode=race", "-buyers=3", "-total=10", "-duration=1m"})
	require.NoError(t, err)
	assert.Equal(t, modeRace, cfg.mode)
	assert.True(t, cfg.totalSet)
	assert.Equal(t, time.Minute, cfg.duration)

	_, err = parseConfig(flag.NewFlagSet("loadtest", flag.ContinueOnError),
		[]string{"-mode=chaos", "-concurrency=0", "-price=0"})
	require.Error(t, err)
	for _, want := range []string{"unsupported mode", "concurrency", "price"} {
		assert.Contains(t, err.Error(), want)
	}

	_, err = parseConfig(flag.NewFlagSet("loadtest", flag.ContinueOnError), []string{"-mode=race", "-buyers=1"})
	require.ErrorContains(t, err, "at least 2 buyers")
}

func TestDispatch(t *testing.T) {
	jobs := make(chan int, 10)
	dispatch(jobs, config{total: 3})
	var got []int
	for j := range jobs {
		got = append(got, j)
	}
	assert.Equal(t, []int{0, 1, 2}, got)

	bounded := make(chan int, 10)
	dispatch(bounded, config{duration: time.Second, total: 2, totalSet: true})
	assert.Len(t, bounded, 2)
}

func TestPercentileAndSummary(t *testing.T) {
	assert.Zero(t, percentile(nil, 50))
	assert.Equal(t, 7.0, percentile([]float64{7}, 99))
	assert.InDelta(t, 2.5, percentile([]float64{1, 2, 3, 4}, 50), 1e-9)

	s := summarize([]float64{4, 1, 3, 2})
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
	assert.Equal(t, 2.5, s.Avg)
}

func TestReportOutput(t *testing.T) {
	col := newCollector()
	col.record("order", 2*time.Millisecond, 200, true)
	col.record("order", 3*time.Millisecond, 409, false)
	col.record(stepScenario, 5*time.Millisecond, 0, true)
	result := col.build("purchase", time.Now(), time.Second)

	var buf bytes.Buffer
	printReport(&buf, result)
	assert.Contains(t, buf.String(), "mode=purchase scenarios=1 failed=0")
	assert.True(t, strings.Contains(buf.String(), "order"))

	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	require.NoError(t, writeReport("report.json", result))
	raw, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	var decoded report
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, int64(1), decoded.Steps["order"].Failed)

	require.Error(t, writeReport("../escape.json", result))
	require.Error(t, writeReport(".", result))
}
