package geo

import (
	"math"
	"testing"
)

func TestDistanceKm(t *testing.T) {
	tests := []struct {
		name     string
		from, to Point
		want     float64
	}{
		{"same point", Point{40.7128, -74.0060}, Point{40.7128, -74.0060}, 0},
		{"manhattan to williamsburg", Point{40.7128, -74.0060}, Point{40.7306, -73.9352}, 6.29},
		{"one degree on equator", Point{0, 0}, Point{0, 1}, 111.19},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DistanceKm(tt.from, tt.to); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHaversineSymmetric(t *testing.T) {
	a := Haversine(51.5074, -0.1278, 48.8566, 2.3522)
	b := Haversine(48.8566, 2.3522, 51.5074, -0.1278)
	if math.Abs(a-b) > 1e-9 {
		t.Fatalf("asymmetric: %v vs %v", a, b)
	}
	if a < 340 || a > 345 {
		t.Fatalf("london-paris out of range: %v", a)
	}
}

func TestPointValid(t *testing.T) {
	if !(Point{45, 170}).Valid() {
		t.Fatal("expected valid")
	}
	if (Point{91, 0}).Valid() || (Point{0, -181}).Valid() {
		t.Fatal("expected invalid")
	}
}
