package revgeo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const boundaries = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"iso_a2": "aa", "name": "Alpha"},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[10,0],[10,10],[0,10],[0,0]]]}},
    {"type": "Feature", "properties": {"ISO_A2": "BB", "NAME": "Bravo"},
     "geometry": {"type": "MultiPolygon", "coordinates": [[
       [[20,0],[30,0],[30,10],[20,10],[20,0]],
       [[24,4],[26,4],[26,6],[24,6],[24,4]]
     ]]}},
    {"type": "Feature", "properties": {"iso_a2": "-99", "name": "Disputed"},
     "geometry": {"type": "Polygon", "coordinates": [[[40,0],[41,0],[41,1],[40,1],[40,0]]]}},
    {"type": "Feature", "properties": {"iso_a2": "CC", "name": "Point"},
     "geometry": {"type": "Point", "coordinates": [50, 50]}}
  ]
}`

func testGeocoder(t *testing.T) *Geocoder {
	t.Helper()
	cs, err := ParseBoundaries([]byte(boundaries))
	require.NoError(t, err)
	return New(&Snapshot{Countries: cs, Centroids: DeriveCentroids(cs)}, Options{MaxRadiusKm: 300})
}

func TestParseBoundaries(t *testing.T) {
	cs, err := ParseBoundaries([]byte(boundaries))
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, "AA", cs[0].Code)
	assert.Equal(t, "Alpha", cs[0].Name)
	assert.Equal(t, "Bravo", cs[1].Name)
	assert.Equal(t, orb.Bound{Min: orb.Point{20, 0}, Max: orb.Point{30, 10}}, cs[1].Bound)

	_, err = ParseBoundaries([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestLookupPolygonHit(t *testing.T) {
	g := testGeocoder(t)
	r, err := g.Lookup(5, 5)
	require.NoError(t, err)
	assert.Equal(t, Result{Code: "AA", Name: "Alpha", Confidence: 0.9}, r)

	code, name, err := g.ReverseCountry(context.Background(), 2, 28)
	require.NoError(t, err)
	assert.Equal(t, "BB", code)
	assert.Equal(t, "Bravo", name)
}

func TestLookupHoleFallsBackToNearest(t *testing.T) {
	g := testGeocoder(t)
	r, err := g.Lookup(5, 25)
	require.NoError(t, err)
	assert.Equal(t, "BB", r.Code)
	assert.True(t, r.Approx)
	assert.Equal(t, 0.6, r.Confidence)
}

func TestLookupMissAndInvalid(t *testing.T) {
	g := testGeocoder(t)
	_, err := g.Lookup(-60, 150)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = g.Lookup(91, 0)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)

	empty := New(nil, Options{})
	_, err = empty.Lookup(5, 5)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, empty.Size())
}

func TestLookupCachesHits(t *testing.T) {
	g := testGeocoder(t)
	_, err := g.Lookup(5, 5)
	require.NoError(t, err)
	_, err = g.Lookup(-60, 150)
	require.Error(t, err)
	assert.Equal(t, 1, g.cache.Len())

	r, err := g.Lookup(5.0001, 5.0001)
	require.NoError(t, err)
	assert.Equal(t, "AA", r.Code)
	assert.Equal(t, 1, g.cache.Len())
}

func TestLoadSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "world.GeoJSON"), []byte(boundaries), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.geojson"), []byte("nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "country_centroids.json"),
		[]byte(`[{"code":"AA","name":"Alpha","lat":5,"lon":5}]`), 0o644))

	snap, err := LoadSnapshot(dir)
	require.NoError(t, err)
	assert.Len(t, snap.Countries, 2)
	assert.Equal(t, []Centroid{{Code: "AA", Name: "Alpha", Lat: 5, Lon: 5}}, snap.Centroids)
	assert.False(t, snap.BuiltAt.IsZero())

	_, err = LoadSnapshot(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestDeriveCentroids(t *testing.T) {
	cs, err := ParseBoundaries([]byte(boundaries))
	require.NoError(t, err)
	cents := DeriveCentroids(cs)
	require.Len(t, cents, 2)
	assert.InDelta(t, 5, cents[0].Lat, 1e-9)
	assert.InDelta(t, 5, cents[0].Lon, 1e-9)
	assert.InDelta(t, 25, cents[1].Lon, 1e-9)
}

func TestNearestMatchesBruteForce(t *testing.T) {
	cents := []Centroid{
		{Code: "A", Lat: 0, Lon: 0}, {Code: "B", Lat: 10, Lon: 10}, {Code: "C", Lat: -20, Lon: 35},
		{Code: "D", Lat: 45, Lon: -75}, {Code: "E", Lat: 51, Lon: 0}, {Code: "F", Lat: -33, Lon: 151},
		{Code: "G", Lat: 35, Lon: 139}, {Code: "H", Lat: 1, Lon: 103},
	}
	tree := buildKD(append([]Centroid(nil), cents...), 0)
	queries := []orb.Point{{2, 48}, {100, 5}, {-70, 40}, {140, -30}, {20, -15}, {0.5, 0.5}}
	for _, q := range queries {
		got, d := nearest(tree, q)
		best, bestD := Centroid{}, 1e18
		for _, c := range cents {
			if dd := geo.DistanceHaversine(q, orb.Point{c.Lon, c.Lat}) / 1000; dd < bestD {
				best, bestD = c, dd
			}
		}
		assert.Equal(t, best.Code, got.Code, "query %v", q)
		assert.InDelta(t, bestD, d, 1e-6)
	}
}

func TestEncodeGeohash(t *testing.T) {
	assert.Equal(t, "u4pruy", encodeGeohash(57.64911, 10.40744, 6))
	assert.Equal(t, "s00000", encodeGeohash(0, 0, 6))
}

func TestLRUEvictionAndExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewLRU(2, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("a", Result{Code: "A"})
	c.Set("b", Result{Code: "B"})
	_, ok := c.Get("a")
	require.True(t, ok)
	c.Set("c", Result{Code: "C"})
	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("c")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}
