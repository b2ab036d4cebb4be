package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bounty-overlay/internal/aggregate"
	"bounty-overlay/internal/bounty"
	"bounty-overlay/internal/config"
	"bounty-overlay/internal/locate"
	"bounty-overlay/internal/overlay"
	"bounty-overlay/internal/registry"
	"bounty-overlay/internal/store"
	"bounty-overlay/internal/webmap"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCells() []bounty.Cell {
	return []bounty.Cell{
		{Index: "k1", Center: bounty.Point{Lat: -1, Lon: 37}, CountryCode: "KE", CountryName: "Kenya"},
		{Index: "k2", Center: bounty.Point{Lat: -1, Lon: 37}, CountryCode: "KE", CountryName: "Kenya"},
		{Index: "g1", Center: bounty.Point{Lat: 5.6, Lon: -0.2}, CountryCode: "GH", CountryName: "Ghana"},
	}
}

func testDeps() Deps {
	reg := registry.New()
	reg.Swap(registry.Build(registry.SourceSeed, testCells()))
	return Deps{
		Registry: reg,
		Locator:  locate.New(nil, reg, webmap.Camera{Center: orb.Point{37, -1}, Zoom: 5}),
		Overlay: config.OverlayConfig{
			EdgePadding: 24, IndicatorOffset: 48, Spacing: 52, DrawerWidth: 440, Capacity: 3,
		},
		AdminToken: "secret",
	}
}

type fakeRefresher struct {
	snap  *registry.Snapshot
	err   error
	calls int
}

func (f *fakeRefresher) Refresh(context.Context) (*registry.Snapshot, error) {
	f.calls++
	return f.snap, f.err
}

func TestCountriesSearch(t *testing.T) {
	h := BuildRoutes(testDeps())

	cases := []struct {
		q     string
		codes []string
	}{
		{"", []string{"KE", "GH"}},
		{"ken", []string{"KE"}},
		{"gh", []string{"GH"}},
		{"zz", []string{}},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/countries?q="+tc.q, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Countries []aggregate.Cluster `json:"countries"`
			Source    string              `json:"source"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		codes := []string{}
		for _, c := range body.Countries {
			codes = append(codes, c.Code)
		}
		assert.Equal(t, tc.codes, codes, "q=%q", tc.q)
		assert.Equal(t, registry.SourceSeed, body.Source)
	}
}

func TestCellsCollections(t *testing.T) {
	h := BuildRoutes(testDeps())

	for _, path := range []string{"/cells", "/cells/heatmap"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Header().Get("content-type"), "geo+json")
		var fc struct {
			Type     string            `json:"type"`
			Features []json.RawMessage `json:"features"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
		assert.Equal(t, "FeatureCollection", fc.Type)
		assert.Len(t, fc.Features, 3, path)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cells", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func postLayout(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/layout", bytes.NewReader(b)))
	return rec
}

func TestStatelessLayout(t *testing.T) {
	h := BuildRoutes(testDeps())

	rec := postLayout(t, h, layoutRequest{
		Width: 800, Height: 600, Center: [2]float64{37, -1}, Zoom: 5,
		Selected: []string{"KE", "GH", "NOPE"}, Focused: "KE",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var res layoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	require.Len(t, res.Labels, 1)
	assert.Equal(t, "KE", res.Labels[0].ID)
	assert.True(t, res.Labels[0].Highlighted)
	assert.InDelta(t, 400, res.Labels[0].Position.X, 1e-6)
	assert.InDelta(t, 300, res.Labels[0].Position.Y, 1e-6)

	require.Len(t, res.Indicators, 1)
	assert.Equal(t, "GH", res.Indicators[0].ID)
	assert.Equal(t, overlay.SideLeft, res.Indicators[0].Side)
	assert.Equal(t, 24.0, res.Context.XMin)
}

func TestStatelessLayoutDrawerAndSelectAll(t *testing.T) {
	h := BuildRoutes(testDeps())

	rec := postLayout(t, h, layoutRequest{
		Width: 800, Height: 600, Center: [2]float64{37, -1}, Zoom: 5,
		SelectAll: true, DrawerOpen: true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var res layoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 464.0, res.Context.XMin)
	assert.Len(t, res.Labels, 1)
	assert.Len(t, res.Indicators, 1)

	rec = postLayout(t, h, layoutRequest{
		Width: 800, Height: 600, Center: [2]float64{37, -1}, Zoom: 5,
		DrawerOpen: true, Compact: true,
	})
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 24.0, res.Context.XMin)
	assert.Empty(t, res.Labels)
	assert.Empty(t, res.Indicators)
}

func TestStatelessLayoutRejectsBadInput(t *testing.T) {
	h := BuildRoutes(testDeps())

	rec := postLayout(t, h, layoutRequest{Width: 0, Height: 600})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/layout", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/layout", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRefreshRequiresAdminToken(t *testing.T) {
	d := testDeps()
	fr := &fakeRefresher{snap: registry.Build(registry.SourceAPI, testCells())}
	d.Refresher = fr
	h := BuildRoutes(d)

	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/refresh", nil)
	req.Header.Set("x-admin-token", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, fr.calls)

	req = httptest.NewRequest(http.MethodPost, "/refresh", nil)
	req.Header.Set("x-admin-token", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fr.calls)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "api", body["source"])
	assert.Equal(t, float64(3), body["cells"])
	assert.Equal(t, float64(2), body["clusters"])
}

func TestRefreshErrorAndUnconfiguredToken(t *testing.T) {
	d := testDeps()
	d.Refresher = &fakeRefresher{err: errors.New("upstream down")}
	h := BuildRoutes(d)

	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	req.Header.Set("x-admin-token", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	d.AdminToken = ""
	h = BuildRoutes(d)
	req = httptest.NewRequest(http.MethodPost, "/refresh", nil)
	req.Header.Set("x-admin-token", "")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCheckAdmin(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	assert.ErrorIs(t, checkAdmin(r, ""), ErrUnauthorized)
	r.Header.Set("x-admin-token", "t")
	assert.NoError(t, checkAdmin(r, "t"))
}

type fakeStatus struct {
	info *store.RefreshInfo
	err  error
}

func (f fakeStatus) LastRefresh(context.Context) (*store.RefreshInfo, error) { return f.info, f.err }

func TestCountriesCarryCountLabel(t *testing.T) {
	rec := httptest.NewRecorder()
	BuildRoutes(testDeps()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/countries?q=ken", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Countries []struct {
			Code  string `json:"code"`
			Count int    `json:"count"`
			Label string `json:"label"`
		} `json:"countries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Countries, 1)
	assert.Equal(t, 2, body.Countries[0].Count)
	assert.Equal(t, "Active cell bounties: 2", body.Countries[0].Label)
}

func TestStatusReportsLastRefresh(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	type statusBody struct {
		Source      string             `json:"source"`
		Cells       int                `json:"cells"`
		Clusters    int                `json:"clusters"`
		LastRefresh *store.RefreshInfo `json:"last_refresh"`
	}
	get := func(d Deps) statusBody {
		rec := httptest.NewRecorder()
		BuildRoutes(d).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var b statusBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
		return b
	}

	d := testDeps()
	b := get(d)
	assert.Equal(t, registry.SourceSeed, b.Source)
	assert.Equal(t, 3, b.Cells)
	assert.Equal(t, 2, b.Clusters)
	assert.Nil(t, b.LastRefresh)

	d.Status = fakeStatus{info: &store.RefreshInfo{Source: "api", Cells: 9, RefreshedAt: at}}
	b = get(d)
	require.NotNil(t, b.LastRefresh)
	assert.Equal(t, "api", b.LastRefresh.Source)
	assert.Equal(t, 9, b.LastRefresh.Cells)
	assert.True(t, at.Equal(b.LastRefresh.RefreshedAt))

	// 读库失败不影响内存快照状态
	d.Status = fakeStatus{err: errors.New("db down")}
	b = get(d)
	assert.Nil(t, b.LastRefresh)
	assert.Equal(t, 3, b.Cells)

	rec := httptest.NewRecorder()
	BuildRoutes(d).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
