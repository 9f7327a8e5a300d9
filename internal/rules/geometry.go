package rules

import (
	"math"

	"geoqa/internal/arcgis"
	"geoqa/internal/qa"
)

// geomCheck is the structural verdict for one geometry payload.
type geomCheck struct {
	empty   bool
	valid   bool
	kind    qa.GeometryKind
	problem string
}

// checkGeometry validates one esri-JSON geometry structurally: finite
// coordinates, minimum vertex counts, closed rings. Topology is out of scope.
func checkGeometry(g *arcgis.Geometry) geomCheck {
	if g.IsEmpty() {
		return geomCheck{empty: true}
	}

	switch {
	case g.X != nil || g.Y != nil:
		if g.X == nil || g.Y == nil {
			return geomCheck{kind: qa.GeometryPoint, problem: "point missing x or y"}
		}
		if !finite(*g.X) || !finite(*g.Y) {
			return geomCheck{kind: qa.GeometryPoint, problem: "point coordinate not finite"}
		}
		return geomCheck{valid: true, kind: qa.GeometryPoint}

	case len(g.Points) > 0:
		for _, p := range g.Points {
			if !finiteCoord(p) {
				return geomCheck{kind: qa.GeometryPoint, problem: "multipoint coordinate invalid"}
			}
		}
		return geomCheck{valid: true, kind: qa.GeometryPoint}

	case len(g.Paths) > 0:
		for _, path := range g.Paths {
			if len(path) < 2 {
				return geomCheck{kind: qa.GeometryLine, problem: "path has fewer than 2 points"}
			}
			for _, p := range path {
				if !finiteCoord(p) {
					return geomCheck{kind: qa.GeometryLine, problem: "path coordinate invalid"}
				}
			}
		}
		return geomCheck{valid: true, kind: qa.GeometryLine}

	case len(g.Rings) > 0:
		for _, ring := range g.Rings {
			if len(ring) < 4 {
				return geomCheck{kind: qa.GeometryPolygon, problem: "ring has fewer than 4 points"}
			}
			for _, p := range ring {
				if !finiteCoord(p) {
					return geomCheck{kind: qa.GeometryPolygon, problem: "ring coordinate invalid"}
				}
			}
			first, last := ring[0], ring[len(ring)-1]
			if first[0] != last[0] || first[1] != last[1] {
				return geomCheck{kind: qa.GeometryPolygon, problem: "ring not closed"}
			}
		}
		return geomCheck{valid: true, kind: qa.GeometryPolygon}
	}

	return geomCheck{problem: "unrecognized geometry shape"}
}

// finiteCoord requires at least an x and y, both finite. Extra members
// (z, m) are tolerated.
func finiteCoord(p []float64) bool {
	if len(p) < 2 {
		return false
	}
	return finite(p[0]) && finite(p[1])
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
