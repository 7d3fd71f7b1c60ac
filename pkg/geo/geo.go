// Package geo 提供经纬度距离计算
package geo

import "math"

// EarthRadiusKm 地球平均半径（千米）
const EarthRadiusKm = 6371.0

// Point 经纬度坐标
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid 判断坐标是否在合法范围内
func (p Point) Valid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// Haversine 计算两点间的大圆距离，单位千米
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// DistanceKm 计算两点距离并保留两位小数
func DistanceKm(from, to Point) float64 {
	d := Haversine(from.Latitude, from.Longitude, to.Latitude, to.Longitude)
	return math.Round(d*100) / 100
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
