package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
	"github.com/JakeFAU/menu-catalog-sync/internal/reconcile"
)

type fakeApp struct {
	result    catalog.SyncRunResult
	limit     int
	diagnosed string
	served    bool
	closed    bool
}

func (f *fakeApp) Serve(context.Context) error { f.served = true; return nil }

func (f *fakeApp) Sync(_ context.Context, limit int) catalog.SyncRunResult {
	f.limit = limit
	return f.result
}

func (f *fakeApp) Diagnose(_ context.Context, testURL string) reconcile.Diagnosis {
	f.diagnosed = testURL
	return reconcile.Diagnosis{Success: true}
}

func (f *fakeApp) Close(context.Context) error { f.closed = true; return nil }

func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }

// withApp swaps the factory for one test; callers must not run in parallel.
func withApp(t *testing.T, app *fakeApp, factoryErr error) *string {
	t.Helper()
	orig := newApp
	var gotPath string
	newApp = func(_ context.Context, cfgPath string) (App, error) {
		gotPath = cfgPath
		if factoryErr != nil {
			return nil, factoryErr
		}
		return app, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &gotPath
}

func execute(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSyncCommandPrintsResult(t *testing.T) {
	app := &fakeApp{result: catalog.SyncRunResult{
		RunID: "run-1", Status: catalog.RunStatusPartial, Success: true, Synced: 2, Errors: []string{"fetch failed"},
	}}
	path := withApp(t, app, nil)

	out, err := execute("sync", "--limit", "5", "--config", "cfg.yaml")
	require.NoError(t, err)
	require.Equal(t, 5, app.limit)
	require.Equal(t, "cfg.yaml", *path)
	require.True(t, app.closed)

	var got catalog.SyncRunResult
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, "run-1", got.RunID)
	require.Equal(t, 2, got.Synced)
}

func TestSyncCommandFailsOnErrorStatus(t *testing.T) {
	app := &fakeApp{result: catalog.SyncRunResult{Status: catalog.RunStatusError, Errors: []string{"no urls"}}}
	withApp(t, app, nil)

	out, err := execute("sync")
	require.ErrorIs(t, err, errRunFailed)
	require.Contains(t, out, `"status": "error"`)
}

func TestSyncCommandRejectsNegativeLimit(t *testing.T) {
	withApp(t, &fakeApp{}, nil)

	_, err := execute("sync", "--limit", "-1")
	require.Error(t, err)
}

func TestDiagnoseCommand(t *testing.T) {
	app := &fakeApp{}
	withApp(t, app, nil)

	out, err := execute("diagnose", "--url", "https://shop.example/product/a")
	require.NoError(t, err)
	require.Equal(t, "https://shop.example/product/a", app.diagnosed)
	require.Contains(t, out, `"success": true`)

	_, err = execute("diagnose", "--url", "ftp://shop.example")
	require.Error(t, err)
}

func TestServeCommand(t *testing.T) {
	app := &fakeApp{}
	withApp(t, app, nil)

	_, err := execute("serve")
	require.NoError(t, err)
	require.True(t, app.served)
	require.True(t, app.closed)
}

func TestFactoryErrorAborts(t *testing.T) {
	withApp(t, nil, errors.New("bad config"))

	_, err := execute("sync")
	require.ErrorContains(t, err, "bad config")
}
