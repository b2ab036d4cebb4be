package locate

import (
	"errors"
	"net"
	"net/http/httptest"
	"testing"

	"bounty-overlay/internal/bounty"
	"bounty-overlay/internal/registry"
	"bounty-overlay/internal/webmap"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticResolver map[string]string

func (s staticResolver) CountryCode(ip net.IP) (string, error) {
	if c, ok := s[ip.String()]; ok {
		return c, nil
	}
	return "", errors.New("not found")
}

func testRegistry() *registry.Registry {
	r := registry.New()
	r.Swap(registry.Build(registry.SourceSeed, []bounty.Cell{
		{Index: "a", Center: bounty.Point{Lat: -1, Lon: 37}, CountryCode: "KE", CountryName: "Kenya"},
		{Index: "b", Center: bounty.Point{Lat: -3, Lon: 39}, CountryCode: "KE", CountryName: "Kenya"},
	}))
	return r
}

func TestInitialCamera(t *testing.T) {
	fallback := webmap.Camera{Center: orb.Point{10, 20}, Zoom: 2}
	l := New(staticResolver{"41.90.0.1": "KE", "8.8.8.8": "US"}, testRegistry(), fallback)

	cam, code := l.InitialCamera("41.90.0.1")
	assert.Equal(t, "KE", code)
	assert.Equal(t, orb.Point{38, -2}, cam.Center)
	assert.Equal(t, 4.0, cam.Zoom)

	cam, code = l.InitialCamera("8.8.8.8")
	assert.Equal(t, "US", code)
	assert.Equal(t, fallback, cam)

	for _, ip := range []string{"10.0.0.1", "127.0.0.1", "garbage", "1.1.1.1"} {
		cam, code = l.InitialCamera(ip)
		assert.Empty(t, code, ip)
		assert.Equal(t, fallback, cam, ip)
	}

	cam, _ = New(nil, testRegistry(), fallback).InitialCamera("41.90.0.1")
	assert.Equal(t, fallback, cam)
}

func TestOpenGeoIPMissing(t *testing.T) {
	g, err := OpenGeoIP("")
	require.NoError(t, err)
	assert.Nil(t, g)
	g, err = OpenGeoIP("/nonexistent/GeoLite2-Country.mmdb")
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestVisitorIP(t *testing.T) {
	cases := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"forwarded-for chain", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "10.0.0.2:1234", "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.2:1234", "198.51.100.7"},
		{"forwarded ipv6", map[string]string{"Forwarded": `for="[2001:db8::1]";proto=https`}, "10.0.0.2:1234", "2001:db8::1"},
		{"remote addr", nil, "192.0.2.4:5678", "192.0.2.4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tc.remote
			for k, v := range tc.header {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, VisitorIP(r))
		})
	}
}
