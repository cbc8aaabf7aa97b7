// 包 tile：调色板索引式瓦片编解码
// 背景：原始瓦片为 256×256 RGB 像素（约 192KiB），而键值服务的单值上限远小于此；
// 单瓦片实际只含少量城市，调色板（去重 id 列表）+ 索引数组 + 压缩后体积缩小两个数量级。
// 约束：不要求还原像素本身，只要求城市 id 还原无损。
package tile

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cafread/metrocity-api/internal/geo"
	"github.com/cafread/metrocity-api/internal/logger"
	"github.com/cafread/metrocity-api/internal/refdata"
)

// PixelCount：单瓦片像素数
const PixelCount = geo.TileSize * geo.TileSize

// CacheEntry：瓦片缓存条目，JSON 序列化后写入键值服务
// 约束：IDMap 首项恒为 0（无城市）；DatStr 解码展开后恰为 PixelCount 个城市 id
type CacheEntry struct {
	IDMap    []int  `json:"idMap"`
	DatStr   string `json:"datStr"`
	CachedAt int64  `json:"cachedAt,omitempty"`
}

// Codec：持有颜色表的编解码器
type Codec struct {
	colorToID map[uint32]int
}

func NewCodec(ref *refdata.Set) *Codec { return &Codec{colorToID: ref.ColorToID} }

// RGBToID：像素颜色 → 城市 id
// 背景：瓦片历史上经历过有损再编码，像素颜色可能与颜色表偏差 ±1/通道；
// 精确匹配失败后按固定顺序尝试 26 种扰动组合。上游数据据信已修复，该回退视为残留保护。
// 约束：纯黑/纯白与所有未匹配颜色归 0（海洋/未分配）
func (c *Codec) RGBToID(r, g, b int) int {
	if r == 0 && g == 0 && b == 0 {
		return 0
	}
	if r == 255 && g == 255 && b == 255 {
		return 0
	}
	if id, ok := c.colorToID[refdata.PackRGB(r, g, b)]; ok {
		return id
	}
	for _, dr := range []int{-1, 0, 1} {
		for _, dg := range []int{-1, 0, 1} {
			for _, db := range []int{-1, 0, 1} {
				if dr == 0 && dg == 0 && db == 0 {
					continue
				}
				pr, pg, pb := r+dr, g+dg, b+db
				if pr < 0 || pr > 255 || pg < 0 || pg > 255 || pb < 0 || pb > 255 {
					continue
				}
				if id, ok := c.colorToID[refdata.PackRGB(pr, pg, pb)]; ok {
					return id
				}
			}
		}
	}
	logger.L().Debug("tile_color_unmatched", "r", r, "g", g, "b", b)
	return 0
}

// Encode：RGB 像素缓冲 → 缓存条目
// 参数：pixels 长度必须为 PixelCount*3，按行主序排列
// 约束：调色板按首见顺序构建，0 恒在首位；索引以单字节存储，
// 实际瓦片城市数远小于 256，超出视为数据异常
func (c *Codec) Encode(pixels []byte) (CacheEntry, error) {
	if len(pixels) != PixelCount*3 {
		return CacheEntry{}, fmt.Errorf("tile: pixel buffer length %d, want %d", len(pixels), PixelCount*3)
	}
	ids := []int{0}
	idx := make(map[int]int, 16)
	idx[0] = 0
	raw := make([]byte, PixelCount)
	for i := 0; i < PixelCount; i++ {
		mcid := c.RGBToID(int(pixels[i*3]), int(pixels[i*3+1]), int(pixels[i*3+2]))
		pos, ok := idx[mcid]
		if !ok {
			pos = len(ids)
			if pos > 255 {
				return CacheEntry{}, errors.New("tile: palette overflow")
			}
			ids = append(ids, mcid)
			idx[mcid] = pos
		}
		raw[i] = byte(pos)
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return CacheEntry{}, err
	}
	if err := zw.Close(); err != nil {
		return CacheEntry{}, err
	}
	return CacheEntry{
		IDMap:    ids,
		DatStr:   base64.StdEncoding.EncodeToString(buf.Bytes()),
		CachedAt: time.Now().UnixMilli(),
	}, nil
}

// Decode：缓存条目 → PixelCount 个城市 id（行主序）
func Decode(e CacheEntry) ([]int, error) {
	comp, err := base64.StdEncoding.DecodeString(e.DatStr)
	if err != nil {
		return nil, err
	}
	zr, err := zlib.NewReader(bytes.NewReader(comp))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	if len(raw) != PixelCount {
		return nil, fmt.Errorf("tile: decoded length %d, want %d", len(raw), PixelCount)
	}
	out := make([]int, PixelCount)
	for i, v := range raw {
		if int(v) >= len(e.IDMap) {
			return nil, fmt.Errorf("tile: palette index %d out of range", v)
		}
		out[i] = e.IDMap[v]
	}
	return out, nil
}
