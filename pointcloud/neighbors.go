package pointcloud

import (
	"context"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/kdtree"

	"go.viam.com/registration/utils"
)

// NearestNeighbors returns, for every point, the indices of its k nearest other points ordered by
// increasing distance, ties broken by index. Clouds with fewer than k+1 points yield shorter lists.
// The neighborhoods are suitable input for EstimateColorGradients.
func NearestNeighbors(ctx context.Context, cloud *PointCloud, k int) ([][]int, error) {
	if k < 1 {
		return nil, errors.Errorf("neighbor count must be positive, got %d", k)
	}
	positions, err := cloud.Vectors(PositionsAttr)
	if err != nil {
		return nil, err
	}
	points := make(indexedPoints, len(positions))
	for i, p := range positions {
		points[i] = indexedPoint{Vector: p, index: i}
	}
	// kdtree.New reorders its input, so queries use their own copy.
	queries := append(indexedPoints(nil), points...)
	tree := kdtree.New(points, false)

	neighbors := make([][]int, len(queries))
	err = utils.GroupWorkParallel(ctx, len(queries), nil, func(_, _, _, _ int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
		return func(_, i int) {
			neighbors[i] = nearest(tree, queries[i], k)
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return neighbors, nil
}

func nearest(tree *kdtree.Tree, q indexedPoint, k int) []int {
	keeper := kdtree.NewNKeeper(k + 1)
	tree.NearestSet(keeper, q)

	found := make([]kdtree.ComparableDist, 0, len(keeper.Heap))
	for _, c := range keeper.Heap {
		if c.Comparable == nil || c.Comparable.(indexedPoint).index == q.index {
			continue
		}
		found = append(found, c)
	}
	sort.Slice(found, func(a, b int) bool {
		if found[a].Dist != found[b].Dist {
			return found[a].Dist < found[b].Dist
		}
		return found[a].Comparable.(indexedPoint).index < found[b].Comparable.(indexedPoint).index
	})
	if len(found) > k {
		found = found[:k]
	}
	hood := make([]int, len(found))
	for i, c := range found {
		hood[i] = c.Comparable.(indexedPoint).index
	}
	return hood
}

// indexedPoint is a position that remembers its row in the cloud.
type indexedPoint struct {
	r3.Vector
	index int
}

func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

func (p indexedPoint) Dims() int { return 3 }

// Distance returns the squared euclidean distance.
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	return p.Sub(c.(indexedPoint).Vector).Norm2()
}

type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p indexedPoints) Len() int                              { return len(p) }
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p indexedPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(plane{indexedPoints: p, Dim: d}, kdtree.MedianOfRandoms(plane{indexedPoints: p, Dim: d}, 100))
}

// plane sorts points along one dimension.
type plane struct {
	indexedPoints
	kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	return p.indexedPoints[i].Compare(p.indexedPoints[j], p.Dim) < 0
}

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{indexedPoints: p.indexedPoints[start:end], Dim: p.Dim}
}

func (p plane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}
