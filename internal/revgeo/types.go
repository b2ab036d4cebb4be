// 包 revgeo：国家级离线反地理编码
// 背景：赏金蜂窝数据偶有缺失国家归属，聚合前需由坐标补齐；离线索引避免逐格调用外部服务。
// 约束：几何仅支持 Polygon/MultiPolygon；坐标按 WGS84 经纬度处理。
package revgeo

import (
	"errors"
	"time"

	"github.com/paulmach/orb"
)

// ErrNotFound：坐标不落在任何已加载国家内，且最近邻超出半径
var ErrNotFound = errors.New("revgeo: no country for coordinate")

// Country：国家边界
type Country struct {
	Code     string
	Name     string
	Geometry orb.MultiPolygon
	Bound    orb.Bound
}

// Centroid：国家质心（KD-Tree 最近邻兜底）
type Centroid struct {
	Code string  `json:"code"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// Snapshot：加载结果快照，只读共享
type Snapshot struct {
	Countries []Country
	Centroids []Centroid
	BuiltAt   time.Time
}

// Result：查询结果；Approx 表示非多边形精确命中（最近邻）
type Result struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Approx     bool    `json:"approx"`
}
