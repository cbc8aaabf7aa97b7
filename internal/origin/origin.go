// 包 origin：上游瓦片制品的拉取与解码
// 背景：瓦片以 PNG 发布在上游静态站点；此处拉取后解码为 256×256 RGB 缓冲交给编码层。
// 约束：客户端超时 10s，不重试；失败视为该瓦片暂不可用，由调用方降级。
package origin

import (
	"context"
	"fmt"
	"image"
	_ "image/png"
	"net/http"
	"os"
	"time"

	"github.com/cafread/metrocity-api/internal/geo"
	"github.com/cafread/metrocity-api/internal/metrics"
)

const defaultBaseURL = "https://cafread.github.io/metrocity2024"

// Client：上游瓦片客户端
type Client struct {
	base string
	hc   *http.Client
}

// NewFromEnv：按环境变量构建；TILE_BASE_URL 覆盖上游地址
func NewFromEnv() *Client {
	base := os.Getenv("TILE_BASE_URL")
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{base: base, hc: &http.Client{Timeout: 10 * time.Second}}
}

// URL：瓦片键 → 上游制品地址
func (c *Client) URL(tileKey string) string {
	return c.base + "/tiles/" + tileKey + ".png"
}

// FetchTile：拉取并解码单瓦片
// 返回：长度 256*256*3 的行主序 RGB 缓冲
func (c *Client) FetchTile(ctx context.Context, tileKey string) ([]byte, error) {
	metrics.OriginFetchTotal.Inc()
	start := time.Now()
	pixels, err := c.fetch(ctx, tileKey)
	metrics.OriginFetchDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.OriginFetchFailTotal.Inc()
	}
	return pixels, err
}

func (c *Client) fetch(ctx context.Context, tileKey string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(tileKey), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("origin: tile %s status %d", tileKey, resp.StatusCode)
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("origin: tile %s decode: %w", tileKey, err)
	}
	b := img.Bounds()
	if b.Dx() != geo.TileSize || b.Dy() != geo.TileSize {
		return nil, fmt.Errorf("origin: tile %s size %dx%d, want %dx%d", tileKey, b.Dx(), b.Dy(), geo.TileSize, geo.TileSize)
	}
	out := make([]byte, geo.TileSize*geo.TileSize*3)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out[i] = byte(r >> 8)
			out[i+1] = byte(g >> 8)
			out[i+2] = byte(bl >> 8)
			i += 3
		}
	}
	return out, nil
}
