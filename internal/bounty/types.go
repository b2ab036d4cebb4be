// 包 bounty：赏金单元（cell bounty）的数据模型与 GeoJSON 转换
package bounty

import "github.com/paulmach/orb"

// Point：WGS84 坐标（不可变值）
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Orb：转换为 orb 坐标（经度在前）
func (p Point) Orb() orb.Point { return orb.Point{p.Lon, p.Lat} }

// Cell：网络 API 返回的赏金单元记录
// 约束：polygon 为 [lat, lon] 对；奖励与周期字段对本服务不透明，仅透传给地图层
type Cell struct {
	Index                    string       `json:"index"`
	DevicesAccepted          int          `json:"devices_accepted"`
	TotalRewards             float64      `json:"total_rewards"`
	ActivationPeriodStart    string       `json:"activation_period_start"`
	ActivationPeriodEnd      string       `json:"activation_period_end"`
	DistributionPeriodInDays int          `json:"distribution_period_in_days"`
	Center                   Point        `json:"center"`
	Polygon                  [][2]float64 `json:"polygon"`
	CountryCode              string       `json:"country_code,omitempty"`
	CountryName              string       `json:"country_name,omitempty"`
}

// Feature：聚合器的只读输入
// 背景：由 API 记录或 GeoJSON 转换而来；国家归属由反地理编码外部解析后写入
type Feature struct {
	Index       string
	Center      *Point
	Geometry    orb.Geometry
	CountryCode string
	CountryName string
}
