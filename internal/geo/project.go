// 包 geo：球面 Web Mercator 投影与瓦片键计算，纯函数无外部依赖
package geo

import (
	"fmt"
	"math"
	"regexp"
)

const (
	// TileSize：单瓦片边长（像素）
	TileSize = 256
	// GridDim：全球瓦片网格边长（128×128）
	GridDim = 128
	// MapDim：投影后地图边长 = 256 像素 × 128 瓦片
	MapDim = TileSize * GridDim
	// MaxMercatorLat：Mercator 可投影纬度上限，超出返回不可投影哨兵值
	MaxMercatorLat = 85.0511287798066
)

var tileKeyRe = regexp.MustCompile(`^[0-9]{3}_[0-9]{3}$`)

// Project：经纬度 → 全球像素坐标
// 背景：经度先做 [-180,180) 归一化以处理翻转输入；纬度超限返回 (NaN,NaN)
func Project(lat, lon float64) (float64, float64) {
	if math.Abs(lat) > MaxMercatorLat {
		return math.NaN(), math.NaN()
	}
	lon = math.Mod(math.Mod(lon, 360)+540, 360) - 180
	latRad := lat * math.Pi / 180
	mercN := math.Log(math.Tan(math.Pi/4 + latRad/2))
	x := (lon + 180) * (MapDim / 360.0)
	y := (MapDim / 2.0) - (MapDim * mercN / (2 * math.Pi))
	return x, y
}

// TileKeyOf：像素坐标 → 瓦片键 "ccc_rrr"；不可投影输入返回空串
func TileKeyOf(x, y float64) string {
	if math.IsNaN(x) || math.IsNaN(y) {
		return ""
	}
	return fmt.Sprintf("%03d_%03d", int(math.Floor(x/TileSize)), int(math.Floor(y/TileSize)))
}

// PixelOffset：像素坐标 → 瓦片内偏移 (0..255, 0..255)
func PixelOffset(x, y float64) (int, int) {
	return int(math.Floor(x)) % TileSize, int(math.Floor(y)) % TileSize
}

// IsValidTileKey：校验瓦片键格式（3 位数字_3 位数字）
func IsValidTileKey(s string) bool { return tileKeyRe.MatchString(s) }
