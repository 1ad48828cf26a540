package geometry

import "math"

// IsConvex returns true if the polygon vertices form a convex polygon with
// non-zero area. Collinear consecutive vertices are tolerated.
func IsConvex(polygon []Point2D) bool {
	if len(polygon) < 3 {
		return false
	}
	if math.Abs(PolygonArea(polygon)) < 1e-9 {
		return false
	}

	n := len(polygon)
	var sign int

	for i := 0; i < n; i++ {
		cross := crossProduct(
			polygon[i],
			polygon[(i+1)%n],
			polygon[(i+2)%n],
		)

		if cross != 0 {
			currentSign := 1
			if cross < 0 {
				currentSign = -1
			}

			if sign == 0 {
				sign = currentSign
			} else if currentSign != sign {
				return false
			}
		}
	}

	return true
}

// PolygonArea returns the signed area of a simple polygon (shoelace formula).
// Counter-clockwise vertices in a y-up frame give a positive area.
func PolygonArea(polygon []Point2D) float64 {
	var sum float64
	n := len(polygon)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += polygon[i].X*polygon[j].Y - polygon[j].X*polygon[i].Y
	}
	return sum / 2
}

// crossProduct computes the cross product of vectors OA and OB.
func crossProduct(o, a, b Point2D) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}
