// 包 locate：按访问者 IP 选择覆盖层会话的初始地图视角
// 背景：访问者所在国家若有赏金蜂窝，初始视角直接落在该国家簇；否则使用默认视角。
package locate

import (
	"errors"
	"net"
	"os"

	"bounty-overlay/internal/logger"
	"bounty-overlay/internal/registry"
	"bounty-overlay/internal/webmap"

	"github.com/oschwald/geoip2-golang"
)

// CountryResolver：IP → ISO 国家代码
type CountryResolver interface {
	CountryCode(ip net.IP) (string, error)
}

// GeoIP：基于 MMDB 的国家解析
type GeoIP struct {
	db *geoip2.Reader
}

// OpenGeoIP：打开 MMDB；路径为空或文件不存在时返回 nil, nil
func OpenGeoIP(path string) (*GeoIP, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.L().Info("geoip_missing", "path", path)
		return nil, nil
	}
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &GeoIP{db: db}, nil
}

func (g *GeoIP) CountryCode(ip net.IP) (string, error) {
	rec, err := g.db.Country(ip)
	if err != nil {
		return "", err
	}
	return rec.Country.IsoCode, nil
}

func (g *GeoIP) Close() error { return g.db.Close() }

// Locator：初始视角选择
type Locator struct {
	resolver CountryResolver
	reg      *registry.Registry
	fallback webmap.Camera
	zoom     float64
}

// New：resolver 可为 nil，此时总是返回默认视角
func New(resolver CountryResolver, reg *registry.Registry, fallback webmap.Camera) *Locator {
	return &Locator{resolver: resolver, reg: reg, fallback: fallback, zoom: 4}
}

// InitialCamera：返回初始相机与解析出的国家代码（未解析为空）
// 约束：私有与回环地址不查询
func (l *Locator) InitialCamera(remote string) (webmap.Camera, string) {
	if l.resolver == nil {
		return l.fallback, ""
	}
	ip := net.ParseIP(remote)
	if ip == nil || ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() {
		return l.fallback, ""
	}
	code, err := l.resolver.CountryCode(ip)
	if err != nil || code == "" {
		logger.L().Debug("locate_miss", "ip", remote, "err", err)
		return l.fallback, ""
	}
	c, ok := l.reg.Current().Cluster(code)
	if !ok {
		return l.fallback, code
	}
	return webmap.Camera{Center: c.Centroid.Orb(), Zoom: l.zoom}, code
}
