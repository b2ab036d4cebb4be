// 包 config：集中读取环境变量并给出默认值；主入口与工具命令共用，避免各处重复解析
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"bounty-overlay/internal/overlay"

	"github.com/joho/godotenv"
)

// Config：进程级配置
type Config struct {
	Addr       string
	APIBase    string
	AdminToken string
	UIDir      string

	WXM       WXMConfig
	Bounty    BountyConfig
	RevGeo    RevGeoConfig
	Nominatim NominatimConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Overlay   OverlayConfig
	TLS       TLSConfig

	GeoIPPath        string
	RateLimitEnabled bool
	RateLimitQPS     int
}

// WXMConfig：上游网络 API
type WXMConfig struct {
	BaseURL    string
	BountyPath string
	ClientID   string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
}

// BountyConfig：赏金单元刷新
type BountyConfig struct {
	RefreshInterval time.Duration
	SeedPath        string
}

type RevGeoConfig struct {
	Dir         string
	CacheTTL    time.Duration
	MaxRadiusKm float64
}

type NominatimConfig struct {
	Enabled bool
	BaseURL string
	QPS     float64
}

// PostgresConfig：快照持久化；未启用时仅保留内存快照
type PostgresConfig struct {
	Enabled      bool
	Host         string
	Port         string
	User         string
	Password     string
	DB           string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled bool
	Host    string
	Port    string
	Pass    string
	DB      int
}

// TLSConfig：可选 HTTPS 监听；证书缺失时生成自签名证书
type TLSConfig struct {
	Enabled  bool
	CertPath string
	KeyPath  string
	Host     string
}

// OverlayConfig：覆盖层布局常量（像素）
// 约束：与前端样式联调后的取值，调整需同步指示器尺寸
type OverlayConfig struct {
	EdgePadding     float64
	IndicatorOffset float64
	Spacing         float64
	DrawerWidth     float64
	Capacity        int
	FrameInterval   time.Duration
}

// DSN：构建 lib/pq 连接串
func (p PostgresConfig) DSN() string {
	dsn := "postgres://" + p.User
	if p.Password != "" {
		dsn += ":" + p.Password
	}
	return dsn + "@" + p.Host + ":" + p.Port + "/" + p.DB + "?sslmode=" + p.SSLMode
}

// Params：转为布局常量；非正数项回退到默认值
func (o OverlayConfig) Params() overlay.Params {
	p := overlay.DefaultParams()
	if o.EdgePadding > 0 {
		p.EdgePadding = o.EdgePadding
	}
	if o.IndicatorOffset > 0 {
		p.IndicatorOffset = o.IndicatorOffset
	}
	if o.Spacing > 0 {
		p.Spacing = o.Spacing
	}
	if o.Capacity > 0 {
		p.Capacity = o.Capacity
	}
	return p
}

// Addr：Redis 地址
func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

// LoadEnvFiles：依次加载 .env 与 data/env/.env，文件缺失时静默跳过
func LoadEnvFiles() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
}

// Load：从环境变量读取配置
func Load() *Config {
	return &Config{
		Addr:       getEnv("ADDR", ":8080"),
		APIBase:    apiBase(os.Getenv("API_BASE")),
		AdminToken: os.Getenv("ADMIN_TOKEN"),
		UIDir:      getEnv("UI_DIST", filepath.Join("ui", "dist")),
		WXM: WXMConfig{
			BaseURL:    strings.TrimRight(getEnv("WXM_API_BASE", "https://api.weatherxm.com"), "/"),
			BountyPath: getEnv("WXM_BOUNTY_PATH", "/api/v1/cells/bounties"),
			ClientID:   os.Getenv("WXM_CLIENT_ID"),
			UserAgent:  getEnv("WXM_USER_AGENT", "bounty-overlay"),
			Timeout:    time.Duration(getInt("WXM_TIMEOUT_MS", 5000)) * time.Millisecond,
			MaxRetries: getInt("WXM_MAX_RETRIES", 2),
		},
		Bounty: BountyConfig{
			RefreshInterval: time.Duration(getInt("BOUNTY_REFRESH_MIN", 30)) * time.Minute,
			SeedPath:        os.Getenv("BOUNTY_SEED_PATH"),
		},
		RevGeo: RevGeoConfig{
			Dir:         getEnv("REVGEO_DIR", filepath.Join("data", "revgeo")),
			CacheTTL:    time.Duration(getInt("REVGEO_CACHE_TTL_S", 3600)) * time.Second,
			MaxRadiusKm: getFloat("REVGEO_RADIUS_KM", 300),
		},
		Nominatim: NominatimConfig{
			Enabled: os.Getenv("NOMINATIM_ENABLED") == "true",
			BaseURL: strings.TrimRight(getEnv("NOMINATIM_BASE", "https://nominatim.openstreetmap.org"), "/"),
			QPS:     getFloat("NOMINATIM_QPS", 1),
		},
		Postgres: PostgresConfig{
			Enabled:      os.Getenv("PG_ENABLED") == "true",
			Host:         getEnv("PG_HOST", "localhost"),
			Port:         getEnv("PG_PORT", "5432"),
			User:         getEnv("PG_USER", "postgres"),
			Password:     os.Getenv("PG_PASSWORD"),
			DB:           getEnv("PG_DB", "bounty"),
			SSLMode:      getEnv("PG_SSLMODE", "disable"),
			MaxOpenConns: getInt("PG_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getInt("PG_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Enabled: os.Getenv("REDIS_ENABLED") == "true",
			Host:    getEnv("REDIS_HOST", "127.0.0.1"),
			Port:    getEnv("REDIS_PORT", "6379"),
			Pass:    os.Getenv("REDIS_PASS"),
			DB:      getInt("REDIS_DB", 0),
		},
		Overlay: OverlayConfig{
			EdgePadding:     getFloat("OVERLAY_EDGE_PADDING", 24),
			IndicatorOffset: getFloat("OVERLAY_INDICATOR_OFFSET", 48),
			Spacing:         getFloat("OVERLAY_SPACING", 52),
			DrawerWidth:     getFloat("OVERLAY_DRAWER_WIDTH", 440),
			Capacity:        getInt("OVERLAY_EDGE_CAPACITY", 3),
			FrameInterval:   time.Duration(getInt("OVERLAY_FRAME_MS", 16)) * time.Millisecond,
		},
		TLS: TLSConfig{
			Enabled:  os.Getenv("TLS_ENABLE") == "true",
			CertPath: getEnv("TLS_CERT_PATH", filepath.Join("data", "certs", "server.crt")),
			KeyPath:  getEnv("TLS_KEY_PATH", filepath.Join("data", "certs", "server.key")),
			Host:     getEnv("TLS_HOST", "bounty-overlay.local"),
		},
		GeoIPPath:        os.Getenv("GEOIP_PATH"),
		RateLimitEnabled: os.Getenv("RATE_LIMIT_ENABLED") == "true",
		RateLimitQPS:     getInt("RATE_LIMIT_QPS", 200),
	}
}

// apiBase：去掉结尾斜杠；约束：不能为空，否则与静态资源的 "/" 路由冲突
func apiBase(v string) string {
	v = strings.TrimRight(v, "/")
	if v == "" {
		return "/api"
	}
	return v
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getInt：解析失败或非正数时回退默认值（REDIS_DB 允许 0）
func getInt(k string, def int) int {
	if s := os.Getenv(k); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func getFloat(k string, def float64) float64 {
	if s := os.Getenv(k); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
			return f
		}
	}
	return def
}
