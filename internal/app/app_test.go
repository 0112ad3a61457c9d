package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"median-fee-estimator/internal/config"
	"median-fee-estimator/internal/estimator"
	"median-fee-estimator/internal/storage"
)

// newTestNode serves full blocks of six transfers; block h pays 10*h each.
func newTestNode(t *testing.T, failing map[uint64]bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var height uint64
		if _, err := fmt.Sscanf(r.URL.Path, "/v1/blocks/%d", &height); err != nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"height": 3})
			return
		}
		if failing[height] {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "boom"})
			return
		}
		txs := make([]map[string]any, 0, 6)
		for i := 0; i < 6; i++ {
			txs = append(txs, map[string]any{
				"txid":    fmt.Sprintf("%d-%d", height, i),
				"origin":  "stacks",
				"payload": "token_transfer",
				"fee":     fmt.Sprint(10 * height),
				"tx_len":  200,
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"height": height, "hash": fmt.Sprintf("h%d", height), "transactions": txs})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, nodeURL string) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{
		Estimator: config.EstimatorConfig{Metric: "unit", WindowSize: 5},
		Storage:   config.StorageConfig{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "fees.sqlite")},
		Source:    config.SourceConfig{Kind: config.SourceHTTP, URL: nodeURL},
		Scheduler: config.SchedulerConfig{MaxBlocksPerTick: 10},
		Export:    config.ExportConfig{MaxDataPoints: 100},
	}
	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	return a, out
}

func TestBackfillEstimateShowExport(t *testing.T) {
	node := newTestNode(t, nil)
	a, out := newTestApp(t, node.URL)
	ctx := context.Background()

	require.NoError(t, a.Backfill(ctx, BackfillOptions{From: 1, To: 3}))
	assert.Contains(t, out.String(), "window estimate: low 20.000 middle 20.000 high 20.000")

	out.Reset()
	require.NoError(t, a.Estimate(ctx))
	var got estimator.FeeRateEstimate
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, estimator.FeeRateEstimate{High: 20, Middle: 20, Low: 20}, got)

	out.Reset()
	require.NoError(t, a.Show(ctx, ShowOptions{Limit: 2}))
	text := out.String()
	assert.Contains(t, text, "3/5")
	assert.Contains(t, text, "30.000")
	assert.NotContains(t, text, "10.000")

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "window.csv")
	pngPath := filepath.Join(dir, "out", "window.png")
	require.NoError(t, a.Export(ctx, ExportOptions{CSVPath: csvPath, PNGPath: pngPath}))

	csvBody, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csvBody)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "measure_key,high,middle,low", lines[0])
	assert.Equal(t, "1,10,10,10", lines[1])
	assert.Equal(t, "3,30,30,30", lines[3])

	info, err := os.Stat(pngPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestBackfillDryRunKeepsStoreEmpty(t *testing.T) {
	node := newTestNode(t, nil)
	a, out := newTestApp(t, node.URL)
	ctx := context.Background()

	require.NoError(t, a.Backfill(ctx, BackfillOptions{From: 1, To: 2, DryRun: true}))
	assert.Contains(t, out.String(), "high 15.000")

	err := a.Estimate(ctx)
	assert.True(t, errors.Is(err, estimator.ErrNoEstimateAvailable))

	out.Reset()
	require.NoError(t, a.Show(ctx, ShowOptions{}))
	assert.Contains(t, out.String(), "no estimates recorded")
}

func TestBackfillReportsFailures(t *testing.T) {
	node := newTestNode(t, map[uint64]bool{2: true})
	a, _ := newTestApp(t, node.URL)
	ctx := context.Background()

	err := a.Backfill(ctx, BackfillOptions{From: 1, To: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3")

	store, err := storage.OpenSQLite(ctx, a.Config.Storage.Path, 5)
	require.NoError(t, err)
	defer store.Close()
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestBackfillRejectsEmptyRange(t *testing.T) {
	a, _ := newTestApp(t, "http://unused")
	assert.Error(t, a.Backfill(context.Background(), BackfillOptions{From: 5, To: 4}))
}

func TestExportRequiresTarget(t *testing.T) {
	a, _ := newTestApp(t, "http://unused")
	assert.Error(t, a.Export(context.Background(), ExportOptions{}))
}

func TestSimulateIsDeterministic(t *testing.T) {
	a, out := newTestApp(t, "http://unused")
	a.Config.Estimator.Metric = "proportion_dot_product"
	a.Config.Estimator.BlockSizeLimit = 2 * 1024 * 1024
	ctx := context.Background()

	opts := SimulateOptions{Blocks: 8, Txs: 40, Seed: 7}
	require.NoError(t, a.Simulate(ctx, opts))
	first := out.String()

	out.Reset()
	require.NoError(t, a.Simulate(ctx, opts))
	assert.Equal(t, first, out.String())

	lines := strings.Split(strings.TrimSpace(first), "\n")
	assert.Len(t, lines, 9)
}

func TestSimulateAlertRequiresAlerting(t *testing.T) {
	a, _ := newTestApp(t, "http://unused")
	err := a.Simulate(context.Background(), SimulateOptions{Blocks: 1, Alert: true})
	assert.Error(t, err)

	a.Config.Alerting.Enabled = true
	a.Config.Alerting.ThresholdRate = 1
	assert.NoError(t, a.Simulate(context.Background(), SimulateOptions{Blocks: 2, Txs: 3, Alert: true}))
}

func TestDownsampleRows(t *testing.T) {
	rows := make([]storage.Measurement, 10)
	for i := range rows {
		rows[i].Key = int64(i + 1)
	}

	assert.Len(t, downsampleRows(rows, 0), 10)
	assert.Len(t, downsampleRows(rows, 20), 10)

	picked := downsampleRows(rows, 4)
	require.Len(t, picked, 4)
	assert.Equal(t, int64(1), picked[0].Key)
	assert.Equal(t, int64(10), picked[3].Key)

	single := downsampleRows(rows, 1)
	require.Len(t, single, 1)
	assert.Equal(t, int64(10), single[0].Key)
}
