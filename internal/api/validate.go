// 包 api：HTTP 路由注册与请求载荷校验
package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	"github.com/cafread/metrocity-api/internal/resolve"
)

// rejection：带状态码的客户端输入拒绝
type rejection struct {
	status int
	msg    string
}

// parseBatch：显式模式校验，返回合法批次或具体拒绝原因
// 背景：校验全部同步完成，任何一条不合法即整批拒绝，不做部分处理。
// 约束：批量上限先于逐条校验（超限批次一律 413，不再看内容）；
// 元素为纯对象、至多 4 个键、id/lat/lon 必填、|lat|≤90、非零岛、
// id 批内唯一；id 接受字符串或数字，统一归一化为字符串，空串与数字 0 按缺失处理。
func parseBatch(body []byte, limit int) ([]resolve.Input, *rejection) {
	var rawArr []json.RawMessage
	if err := json.Unmarshal(body, &rawArr); err != nil {
		return nil, &rejection{http.StatusBadRequest, "Request is not array"}
	}
	if len(rawArr) > limit {
		return nil, &rejection{http.StatusRequestEntityTooLarge, fmt.Sprintf("Limit of %d locs", limit)}
	}
	out := make([]resolve.Input, 0, len(rawArr))
	seen := make(map[string]struct{}, len(rawArr))
	for _, raw := range rawArr {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, &rejection{http.StatusBadRequest, "Invalid request data"}
		}
		if len(obj) > 4 {
			return nil, &rejection{http.StatusBadRequest, "Invalid request keys"}
		}
		idRaw, hasID := obj["id"]
		latRaw, hasLat := obj["lat"]
		lonRaw, hasLon := obj["lon"]
		if !hasID || !hasLat || !hasLon {
			return nil, &rejection{http.StatusBadRequest, "Invalid request keys"}
		}
		id, idRej := parseID(idRaw)
		if idRej != nil {
			return nil, idRej
		}
		var lat, lon float64
		if json.Unmarshal(latRaw, &lat) != nil || json.Unmarshal(lonRaw, &lon) != nil {
			return nil, &rejection{http.StatusBadRequest, "Invalid request data"}
		}
		var cc string
		if ccRaw, hasCC := obj["cc"]; hasCC {
			if json.Unmarshal(ccRaw, &cc) != nil {
				return nil, &rejection{http.StatusBadRequest, "Invalid request data"}
			}
		}
		if math.Abs(lat) > 90 {
			return nil, &rejection{http.StatusUnprocessableEntity, "Out of bounds latitude"}
		}
		if lat == 0 && lon == 0 {
			return nil, &rejection{http.StatusUnprocessableEntity, "Null island found"}
		}
		if _, dup := seen[id]; dup {
			return nil, &rejection{http.StatusBadRequest, "Element ids not unique"}
		}
		seen[id] = struct{}{}
		out = append(out, resolve.Input{ID: id, Lat: lat, Lon: lon, CC: cc})
	}
	return out, nil
}

// parseID：id 接受 JSON 字符串或数字
// 约束：空串与数字 0 视同 id 缺失（字符串 "0" 合法）；其余类型为数据错误
func parseID(raw json.RawMessage) (string, *rejection) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", &rejection{http.StatusBadRequest, "Invalid request keys"}
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if f, ferr := n.Float64(); ferr == nil && f == 0 {
			return "", &rejection{http.StatusBadRequest, "Invalid request keys"}
		}
		return n.String(), nil
	}
	return "", &rejection{http.StatusBadRequest, "Invalid request data"}
}
