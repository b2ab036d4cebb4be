package attribution

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"bounty-overlay/internal/bounty"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	name  string
	code  string
	cname string
	err   error
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) ReverseCountry(context.Context, float64, float64) (string, string, error) {
	s.calls++
	return s.code, s.cname, s.err
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

func TestChainFirstSuccessWins(t *testing.T) {
	failing := &stubSource{name: "local", err: errors.New("boom")}
	empty := &stubSource{name: "empty"}
	remote := &stubSource{name: "remote", code: "DE", cname: "Germany"}
	never := &stubSource{name: "never", code: "FR"}
	c := NewChain(failing, nil, empty, remote, never)
	assert.Equal(t, 4, c.Len())

	r, err := c.Resolve(context.Background(), 52.5, 13.4)
	require.NoError(t, err)
	assert.Equal(t, Result{Code: "DE", Name: "Germany", Source: "remote"}, r)
	assert.Equal(t, 0, never.calls)
}

func TestChainAllFail(t *testing.T) {
	c := NewChain(&stubSource{name: "a", err: errors.New("down")}, &stubSource{name: "b"})
	_, err := c.Resolve(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ErrNoSource)
	assert.Contains(t, err.Error(), "a: down")

	_, err = NewChain().Resolve(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ErrNoSource)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Resolve(ctx, 0, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLookupWritesAndReadsCache(t *testing.T) {
	mr, rc := newRedis(t)
	src := &stubSource{name: "revgeo", code: "ke", cname: "Kenya"}
	a := New(NewChain(src), rc, 10*time.Minute)

	r, err := a.Lookup(context.Background(), -1.28333, 36.81667)
	require.NoError(t, err)
	assert.Equal(t, Result{Code: "KE", Name: "Kenya", Source: "revgeo"}, r)

	raw, err := mr.Get("revgeo:-1.283:36.817")
	require.NoError(t, err)
	var cached Result
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	assert.Equal(t, r, cached)
	assert.Equal(t, 10*time.Minute, mr.TTL("revgeo:-1.283:36.817"))

	r2, err := a.Lookup(context.Background(), -1.2831, 36.8169)
	require.NoError(t, err)
	assert.Equal(t, r, r2)
	assert.Equal(t, 1, src.calls)
}

func TestLookupIgnoresCorruptCache(t *testing.T) {
	mr, rc := newRedis(t)
	require.NoError(t, mr.Set("revgeo:1.000:2.000", "{not json"))
	src := &stubSource{name: "revgeo", code: "GH", cname: "Ghana"}
	a := New(NewChain(src), rc, 0)

	r, err := a.Lookup(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "GH", r.Code)
	assert.Equal(t, 1, src.calls)
}

func TestLookupWithoutRedis(t *testing.T) {
	src := &stubSource{name: "revgeo", code: "GR", cname: "Greece"}
	a := New(NewChain(src), nil, 0)
	_, err := a.Lookup(context.Background(), 38, 23.7)
	require.NoError(t, err)
	_, err = a.Lookup(context.Background(), 38, 23.7)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestAttributeFillsOnlyMissing(t *testing.T) {
	_, rc := newRedis(t)
	src := &stubSource{name: "revgeo", code: "NL", cname: "Netherlands"}
	a := New(NewChain(src), rc, time.Hour)
	cells := []bounty.Cell{
		{Index: "a", CountryCode: "de", CountryName: "Germany", Center: bounty.Point{Lat: 52, Lon: 13}},
		{Index: "b", Center: bounty.Point{Lat: 52.37, Lon: 4.9}},
		{Index: "c", CountryCode: "  ", Center: bounty.Point{Lat: 52.37, Lon: 4.9}},
		{Index: "d", Center: bounty.Point{Lat: math.NaN(), Lon: 4.9}},
	}

	out, st, err := a.Attribute(context.Background(), cells)
	require.NoError(t, err)
	assert.Equal(t, Stats{Filled: 2, Skipped: 1}, st)
	assert.Equal(t, "de", out[0].CountryCode)
	assert.Equal(t, "NL", out[1].CountryCode)
	assert.Equal(t, "Netherlands", out[1].CountryName)
	assert.Equal(t, "NL", out[2].CountryCode)
	assert.Empty(t, out[3].CountryCode)
	assert.Equal(t, 1, src.calls, "same coordinate resolved once per batch")
	assert.Empty(t, cells[1].CountryCode, "input slice untouched")
}

func TestAttributeFailureLeavesCellEmpty(t *testing.T) {
	a := New(NewChain(&stubSource{name: "revgeo", err: errors.New("not found")}), nil, 0)
	out, st, err := a.Attribute(context.Background(), []bounty.Cell{{Index: "x", Center: bounty.Point{Lat: -60, Lon: 150}}})
	require.NoError(t, err)
	assert.Equal(t, Stats{Missing: 1}, st)
	assert.Empty(t, out[0].CountryCode)
}

func TestAttributeStopsOnCancel(t *testing.T) {
	a := New(NewChain(&stubSource{name: "revgeo", code: "US"}), nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, st, err := a.Attribute(ctx, []bounty.Cell{{Index: "x"}, {Index: "y"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, out, 2)
	assert.Equal(t, 0, st.Filled)
}
