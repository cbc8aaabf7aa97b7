// 包 refdata：主数据装载（主瓦片键集合、都会城市字典、颜色→城市 id 表）
// 背景：三份主数据由上游内容仓库发布，进程启动时装载一次，生命周期内只读；
// 数据更新仅通过进程重启生效，运行期的瓦片变化走 webhook 失效链路。
package refdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cafread/metrocity-api/internal/logger"
)

const (
	defaultBaseURL = "https://raw.githubusercontent.com/cafread/metrocity2024/main"
	// 上游仓库内的资源路径，与 webhook 载荷中的文件路径保持一致
	MastTileKeysFile = "res/mastTileKeys.json"
	CityDataFile     = "res/2020cities15k_trimmed.json"
	ColorToIDFile    = "res/colorToId.json"
)

// City：都会城市条目（上游 JSON 字段为单字母缩写）
type City struct {
	ID   int     `json:"i"`
	Pop  int     `json:"p"`
	Name string  `json:"n"`
	Lat  float64 `json:"la"`
	Lon  float64 `json:"lo"`
}

// Set：进程级只读主数据快照
type Set struct {
	Cities      map[int]City
	TileKeyList []string
	tileKeys    map[string]struct{}
	ColorToID   map[uint32]int
}

// PackRGB：颜色表键（0xRRGGBB）
func PackRGB(r, g, b int) uint32 {
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// Load：装载主数据
// 背景：默认从上游仓库拉取；REFDATA_DIR 指向本地目录时改读同名文件（离线与测试场景）
func Load(ctx context.Context) (*Set, error) {
	read := remoteReader(ctx)
	if dir := os.Getenv("REFDATA_DIR"); dir != "" {
		logger.L().Info("refdata_local", "dir", dir)
		read = func(name string) ([]byte, error) { return os.ReadFile(filepath.Join(dir, filepath.Base(name))) }
	}
	var keys []string
	if err := loadJSON(read, MastTileKeysFile, &keys); err != nil {
		return nil, fmt.Errorf("load master tile keys: %w", err)
	}
	var cities []City
	if err := loadJSON(read, CityDataFile, &cities); err != nil {
		return nil, fmt.Errorf("load city data: %w", err)
	}
	var colors map[string]int
	if err := loadJSON(read, ColorToIDFile, &colors); err != nil {
		return nil, fmt.Errorf("load color table: %w", err)
	}
	s := NewSet(keys, cities, colors)
	logger.L().Info("refdata_loaded", "tiles", len(s.TileKeyList), "cities", len(s.Cities), "colors", len(s.ColorToID))
	return s, nil
}

// NewSet：由已解析数据构建快照（测试直接调用）
// 约束：颜色键为上游格式 "rgba(r,g,b,1)"，解析失败的条目记日志后跳过
func NewSet(tileKeys []string, cities []City, colors map[string]int) *Set {
	s := &Set{
		Cities:      make(map[int]City, len(cities)),
		TileKeyList: tileKeys,
		tileKeys:    make(map[string]struct{}, len(tileKeys)),
		ColorToID:   make(map[uint32]int, len(colors)),
	}
	for _, k := range tileKeys {
		s.tileKeys[k] = struct{}{}
	}
	for _, c := range cities {
		s.Cities[c.ID] = c
	}
	for code, id := range colors {
		var r, g, b int
		if _, err := fmt.Sscanf(code, "rgba(%d,%d,%d,1)", &r, &g, &b); err != nil {
			logger.L().Warn("refdata_color_parse_error", "code", code)
			continue
		}
		s.ColorToID[PackRGB(r, g, b)] = id
	}
	return s
}

// HasTile：瓦片键是否在主集合内；不在集合内的键恒定解析为空结果
func (s *Set) HasTile(key string) bool {
	_, ok := s.tileKeys[key]
	return ok
}

// CityName：城市 id → 名称；未知 id（含 0）返回空串
func (s *Set) CityName(id int) string {
	return s.Cities[id].Name
}

func remoteReader(ctx context.Context) func(string) ([]byte, error) {
	base := os.Getenv("DATA_BASE_URL")
	if base == "" {
		base = defaultBaseURL
	}
	hc := &http.Client{Timeout: 30 * time.Second}
	return func(name string) ([]byte, error) {
		url := base + "/" + name
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := hc.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}
}

func loadJSON(read func(string) ([]byte, error), name string, v any) error {
	b, err := read(name)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
