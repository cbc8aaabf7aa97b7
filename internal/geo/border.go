package geo

// 文档注释：跨境披露规则
// 背景：请求方国家与城市归属国不一致时，默认不披露外国都会区名称；
// 但部分边境都会区横跨国界（如底特律/温莎），需按固定例外表改写为请求方一侧的名称。
// 约束：规则按序求值，首个命中生效；表为进程生命周期常量。

// openBorders：开放边界集合，键为请求方国家，值为可直接披露的城市归属国
// 背景：微型国家与其包围国之间都会区天然连续，按原样披露
var openBorders = map[string][]string{
	"AD": {"ES", "FR"},
	"AT": {"DE", "LI", "CH"},
	"BE": {"NL", "LU"},
	"CH": {"DE", "FR", "IT", "AT", "LI"},
	"GB": {"IE"},
	"IE": {"GB"},
	"LI": {"AT", "CH"},
	"LU": {"BE", "DE", "FR"},
	"MC": {"FR"},
	"NL": {"BE"},
	"SM": {"IT"},
	"VA": {"IT"},
}

// borderException：例外表键（请求方国家 + 已解析的城市名）
type borderException struct {
	cc string
	mc string
}

// borderExceptions：跨境都会区例外表，对已解析名称做字面匹配
var borderExceptions = map[borderException]string{
	{"CG", "Kinshasa, CD"}:        "Brazzaville, CG",
	{"MX", "San Diego, (CA), US"}: "Tijuana, MX",
	{"US", "Juarez, MX"}:          "El Paso, (TX), US",
	{"US", "Hamilton, (ON), CA"}:  "Buffalo, (NY), US",
	{"US", "Windsor, (ON), CA"}:   "Detroit, (MI), US",
	{"US", "London, (ON), CA"}:    "Detroit, (MI), US",
	{"CA", "Detroit, (MI), US"}:   "Windsor, (ON), CA",
	{"CN", "Hong Kong, HK"}:       "Shenzhen, (GD), CN",
	// 单向例外：北塞浦路斯一侧请求尼科西亚按原样披露
	{"TR", "Nicosia, CY"}: "Nicosia, CY",
}

// ValidateBorder：跨境披露判定
// 参数：cc 请求方国家码（大写），mcCC 城市名尾部国家码，mc 已解析城市名
// 返回：最终披露名称；无规则命中返回空串（不披露外国都会区）
func ValidateBorder(cc, mcCC, mc string) string {
	if cc == "" {
		return mc
	}
	switch cc {
	case "SG":
		return "Singapore, SG"
	case "HK":
		return "Hong Kong, HK"
	case "MO":
		return "Macau, (MO), CN"
	}
	if cc == "MY" && mcCC == "SG" {
		return "Johor Bahru, MY"
	}
	if cc == mcCC {
		return mc
	}
	for _, open := range openBorders[cc] {
		if open == mcCC {
			return mc
		}
	}
	if over, ok := borderExceptions[borderException{cc, mc}]; ok {
		return over
	}
	return ""
}
