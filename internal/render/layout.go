package render

// Box geometry in abstract units shared by the bitmap and PDF renderers.
const (
	boxWidth  = 120
	boxHeight = 48
	rankGap   = 60
	slotGap   = 24
	margin    = 32
	titleBand = 28
)

type box struct {
	node Node
	x, y int
}

type layout struct {
	boxes  []box
	index  map[string]int
	width  int
	height int
}

// computeLayout places nodes in ranks by longest path from a source. Cycles
// are broken by capping relaxation at len(nodes) rounds.
func computeLayout(g *Graph) layout {
	rank := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		rank[n.ID] = 0
	}
	for round := 0; round < len(g.Nodes); round++ {
		changed := false
		for _, e := range g.Edges {
			if e.From == e.To {
				continue
			}
			if r := rank[e.From] + 1; r > rank[e.To] && r < len(g.Nodes) {
				rank[e.To] = r
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	slots := make(map[int]int)
	maxRank, maxSlot := 0, 0
	l := layout{index: make(map[string]int, len(g.Nodes))}
	for _, n := range g.Nodes {
		r := rank[n.ID]
		s := slots[r]
		slots[r]++
		maxRank = max(maxRank, r)
		maxSlot = max(maxSlot, s)

		var x, y int
		if g.Direction == DirectionTB {
			x = margin + s*(boxWidth+slotGap)
			y = margin + titleBand + r*(boxHeight+rankGap)
		} else {
			x = margin + r*(boxWidth+rankGap)
			y = margin + titleBand + s*(boxHeight+slotGap)
		}
		l.index[n.ID] = len(l.boxes)
		l.boxes = append(l.boxes, box{node: n, x: x, y: y})
	}

	ranks, spread := maxRank+1, maxSlot+1
	if g.Direction == DirectionTB {
		l.width = 2*margin + spread*boxWidth + (spread-1)*slotGap
		l.height = 2*margin + titleBand + ranks*boxHeight + (ranks-1)*rankGap
	} else {
		l.width = 2*margin + ranks*boxWidth + (ranks-1)*rankGap
		l.height = 2*margin + titleBand + spread*boxHeight + (spread-1)*slotGap
	}
	return l
}

// anchors returns the edge endpoints between two boxes.
func (l layout) anchors(e Edge, direction string) (x1, y1, x2, y2 int) {
	a := l.boxes[l.index[e.From]]
	b := l.boxes[l.index[e.To]]
	if direction == DirectionTB {
		return a.x + boxWidth/2, a.y + boxHeight, b.x + boxWidth/2, b.y
	}
	return a.x + boxWidth, a.y + boxHeight/2, b.x, b.y + boxHeight/2
}

func nodeText(n Node) string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}
