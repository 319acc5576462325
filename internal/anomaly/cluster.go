package anomaly

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/stat"

	"github.com/chrissnell/climatology/internal/grid"
)

// Cluster is one 8-connected group of anomalous cells.
type Cluster struct {
	ID        int            `json:"id" msgpack:"id"`
	Cells     []grid.Anomaly `json:"cells" msgpack:"cells"`
	MinRow    int            `json:"min_row" msgpack:"min_row"`
	MinCol    int            `json:"min_col" msgpack:"min_col"`
	MaxRow    int            `json:"max_row" msgpack:"max_row"`
	MaxCol    int            `json:"max_col" msgpack:"max_col"`
	MeanValue float64        `json:"mean_value" msgpack:"mean_value"`
	MeanZ     float64        `json:"mean_z_score" msgpack:"mean_z_score"`
	MaxAbsZ   float64        `json:"max_abs_z_score" msgpack:"max_abs_z_score"`
}

// Size returns the number of cells in the cluster.
func (c Cluster) Size() int { return len(c.Cells) }

// Clusters groups the anomalies of ag into 8-connected components. Clusters
// are ordered by their first cell in row-major order and numbered from 1.
func Clusters(ag *grid.AnomalyGrid) []Cluster {
	if ag == nil || ag.Len() == 0 {
		return nil
	}

	cols := int64(ag.Cols())
	g := simple.NewUndirectedGraph()
	cells := ag.Cells()
	byID := make(map[int64]grid.Anomaly, len(cells))
	for _, an := range cells {
		id := int64(an.Row)*cols + int64(an.Col)
		byID[id] = an
		g.AddNode(simple.Node(id))
	}

	// forward half of the neighbourhood is enough for an undirected graph
	for _, an := range cells {
		from := int64(an.Row)*cols + int64(an.Col)
		for _, off := range neighbourOffsets[4:] {
			nr, nc := an.Row+off[0], an.Col+off[1]
			if nc < 0 || nc >= ag.Cols() || !ag.Contains(nr, nc) {
				continue
			}
			g.SetEdge(simple.Edge{F: simple.Node(from), T: simple.Node(int64(nr)*cols + int64(nc))})
		}
	}

	var out []Cluster
	for _, comp := range topo.ConnectedComponents(g) {
		ids := make([]int64, len(comp))
		for i, n := range comp {
			ids[i] = n.ID()
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		members := make([]grid.Anomaly, len(ids))
		for i, id := range ids {
			members[i] = byID[id]
		}
		out = append(out, summarise(members))
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Cells[0], out[j].Cells[0]
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		return a.Col < b.Col
	})
	for i := range out {
		out[i].ID = i + 1
	}
	return out
}

func summarise(members []grid.Anomaly) Cluster {
	c := Cluster{
		Cells:  members,
		MinRow: members[0].Row,
		MinCol: members[0].Col,
		MaxRow: members[0].Row,
		MaxCol: members[0].Col,
	}
	values := make([]float64, len(members))
	zs := make([]float64, len(members))
	for i, an := range members {
		values[i] = an.Value
		zs[i] = an.ZScore
		c.MinRow = min(c.MinRow, an.Row)
		c.MinCol = min(c.MinCol, an.Col)
		c.MaxRow = max(c.MaxRow, an.Row)
		c.MaxCol = max(c.MaxCol, an.Col)
		if z := math.Abs(an.ZScore); z > c.MaxAbsZ {
			c.MaxAbsZ = z
		}
	}
	c.MeanValue = stat.Mean(values, nil)
	c.MeanZ = stat.Mean(zs, nil)
	return c
}
