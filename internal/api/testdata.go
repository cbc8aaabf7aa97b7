package api

import "github.com/cafread/metrocity-api/internal/resolve"

// testData：空批次时的演练数据，覆盖常见都会区与一处海洋点
var testData = []resolve.Input{
	{ID: "london", Lat: 51.5007, Lon: -0.1246, CC: "GB"},
	{ID: "tokyo", Lat: 35.6762, Lon: 139.6503, CC: "JP"},
	{ID: "nyc", Lat: 40.7128, Lon: -74.0060, CC: "US"},
	{ID: "sao_paulo", Lat: -23.5505, Lon: -46.6333, CC: "BR"},
	{ID: "johor", Lat: 1.3521, Lon: 103.8198, CC: "MY"},
	{ID: "windsor", Lat: 42.3314, Lon: -83.0458, CC: "CA"},
	{ID: "mid_atlantic", Lat: 0.0, Lon: -30.0},
}
