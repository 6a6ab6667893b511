package digraph

import (
	"strings"

	"github.com/cycleflow-dev/cycleflow/internal/cycling"
)

// Validation expands the graph over a bounded horizon and searches the hard
// (non-suicide) edge set for self-edges and circular dependency chains.
// It is a gate: it runs to completion before any scheduling starts, and a
// detected cycle is a terminal configuration error.

type nodeKey struct {
	name  string
	point string
}

type cycleNode struct {
	out []int  // adjacent node ids, discovery order
	via []Edge // edge carrying each adjacency
}

// Validate checks the graph over its default horizon: twice every
// recurrence step plus twice every inter-cycle offset beyond the initial
// point, clamped to the final point. That covers any cycle reachable within
// one recurrence period each side, including year-scale offsets.
func (g *Graph) Validate() error {
	return g.ValidateTo(g.defaultHorizonEnd())
}

// ValidateTo checks the graph expanded over [initial, hi].
func (g *Graph) ValidateTo(hi cycling.Point) error {
	edges, err := g.ExpandWindow(g.cfg.Initial, hi)
	if err != nil {
		return err
	}

	ids := map[nodeKey]int{}
	var arena []cycleNode
	intern := func(name string, point cycling.Point) int {
		key := nodeKey{name: name, point: point.String()}
		if id, ok := ids[key]; ok {
			return id
		}
		id := len(arena)
		ids[key] = id
		arena = append(arena, cycleNode{})
		return id
	}

	for _, e := range edges {
		if e.Suicide {
			continue
		}
		up := intern(e.Up.Task, e.Up.Point)
		down := intern(e.DownTask, e.DownPoint)
		arena[up].out = append(arena[up].out, down)
		arena[up].via = append(arena[up].via, e)
	}

	if cycle := findCycle(arena); len(cycle) > 0 {
		texts := make([]string, len(cycle))
		for i, e := range cycle {
			texts[i] = e.String()
		}
		return configErrorf("circular edges detected:  %s", strings.Join(texts, "  "))
	}
	return nil
}

const (
	colorWhite = iota
	colorGray
	colorBlack
)

type frame struct {
	node int
	edge int // next adjacency to visit
}

// findCycle runs an iterative DFS and returns the first cycle's edges in
// discovery order, or nil. Traversal order follows edge discovery order, so
// the reported cycle is deterministic.
func findCycle(arena []cycleNode) []Edge {
	color := make([]int, len(arena))
	for root := range arena {
		if color[root] != colorWhite {
			continue
		}
		stack := []frame{{node: root}}
		color[root] = colorGray
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.edge >= len(arena[top.node].out) {
				color[top.node] = colorBlack
				stack = stack[:len(stack)-1]
				continue
			}
			next := arena[top.node].out[top.edge]
			top.edge++
			switch color[next] {
			case colorWhite:
				color[next] = colorGray
				stack = append(stack, frame{node: next})
			case colorGray:
				// Back edge: the cycle runs from next's frame to the
				// top of the stack, closed by this edge.
				start := 0
				for i, f := range stack {
					if f.node == next {
						start = i
						break
					}
				}
				var cycle []Edge
				for i := start; i < len(stack)-1; i++ {
					// frame i's edge counter has advanced past the
					// adjacency leading to frame i+1
					cycle = append(cycle, arena[stack[i].node].via[stack[i].edge-1])
				}
				cycle = append(cycle, arena[top.node].via[top.edge-1])
				return cycle
			}
		}
	}
	return nil
}

// defaultHorizonEnd picks the validation horizon: from the initial point,
// advance twice per recurrence step and twice per distinct offset
// magnitude, clamped to the final point. Overflow clamps at the last
// representable point.
func (g *Graph) defaultHorizonEnd() cycling.Point {
	hi := g.cfg.Initial

	advance := func(iv cycling.Interval) {
		if iv.IsZero() {
			return
		}
		if iv.Negative() {
			iv = iv.Negated()
		}
		for i := 0; i < 2; i++ {
			next, err := hi.Add(iv)
			if err != nil {
				return // clamp at representable bound
			}
			hi = next
		}
	}

	for _, sec := range g.sections {
		advance(sec.rec.Step())
		if start := sec.rec.Start(); hi.Before(start) {
			hi = start
		}
		for _, dep := range sec.deps {
			for _, lf := range dep.trig.leaves() {
				advance(lf.offset)
			}
		}
	}

	if !g.cfg.Final.IsZero() && g.cfg.Final.Before(hi) {
		hi = g.cfg.Final
	}
	return hi
}
