package world

import (
	"fmt"
	"sort"
	"strings"
)

// Point is a grid cell. X is the row (grows downwards), Y the column.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string { return fmt.Sprintf("[%d, %d]", p.X, p.Y) }

// Add returns p shifted by d.
func (p Point) Add(d Point) Point { return Point{p.X + d.X, p.Y + d.Y} }

// Near reports whether q lies in the 3x3 square centred on p.
func (p Point) Near(q Point) bool {
	return abs(p.X-q.X) <= 1 && abs(p.Y-q.Y) <= 1
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Grid is a square board whose outermost ring is wall. Cells hold at most
// one occupant.
type Grid struct {
	dim int
	occ map[Point]string
}

// NewGrid creates a board of dim x dim cells, including the wall ring.
func NewGrid(dim int) *Grid {
	return &Grid{dim: dim, occ: make(map[Point]string)}
}

// Dim returns the board size including walls.
func (g *Grid) Dim() int { return g.dim }

// Walkable reports whether p is inside the walls.
func (g *Grid) Walkable(p Point) bool {
	return p.X > 0 && p.Y > 0 && p.X < g.dim-1 && p.Y < g.dim-1
}

// At returns the occupant of p, if any.
func (g *Grid) At(p Point) (string, bool) {
	name, ok := g.occ[p]
	return name, ok
}

// Place puts name on p.
func (g *Grid) Place(name string, p Point) error {
	if !g.Walkable(p) {
		return fmt.Errorf("place %s: %s is out of range", name, p)
	}
	if other, ok := g.occ[p]; ok {
		return fmt.Errorf("place %s: %s is occupied by %s", name, p, other)
	}
	g.occ[p] = name
	return nil
}

// Move relocates whatever stands on from to to.
func (g *Grid) Move(from, to Point) error {
	name, ok := g.occ[from]
	if !ok {
		return fmt.Errorf("move: nobody at %s", from)
	}
	if err := g.Place(name, to); err != nil {
		return err
	}
	delete(g.occ, from)
	return nil
}

// Remove clears p.
func (g *Grid) Remove(p Point) { delete(g.occ, p) }

// Neighbours lists the occupants of the 3x3 square around p, excluding p
// itself, scanning rows then columns.
func (g *Grid) Neighbours(p Point) []string {
	var out []string
	for x := p.X - 1; x <= p.X+1; x++ {
		for y := p.Y - 1; y <= p.Y+1; y++ {
			q := Point{x, y}
			if q == p {
				continue
			}
			if name, ok := g.occ[q]; ok {
				out = append(out, name)
			}
		}
	}
	return out
}

// Render draws the board with '#' walls, '.' floor and the first letter of
// each occupant, followed by a legend.
func (g *Grid) Render() string {
	var sb strings.Builder
	for x := 0; x < g.dim; x++ {
		for y := 0; y < g.dim; y++ {
			p := Point{x, y}
			switch name, ok := g.occ[p]; {
			case ok:
				sb.WriteByte(symbol(name))
			case !g.Walkable(p):
				sb.WriteByte('#')
			default:
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	names := make([]string, 0, len(g.occ))
	pos := make(map[string]Point, len(g.occ))
	for p, n := range g.occ {
		names = append(names, n)
		pos[n] = p
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(&sb, "%c %s %s\n", symbol(n), n, pos[n])
	}
	return sb.String()
}

func symbol(name string) byte {
	if name == "" {
		return '?'
	}
	return strings.ToUpper(name[:1])[0]
}
