package pointcloud

import (
	"context"
	"math/rand"
	"sort"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gorgonia.org/tensor"
)

func bruteForceNeighbors(points []r3.Vector, k int) [][]int {
	out := make([][]int, len(points))
	for i, p := range points {
		var others []int
		for j := range points {
			if j != i {
				others = append(others, j)
			}
		}
		sort.SliceStable(others, func(a, b int) bool {
			return points[others[a]].Sub(p).Norm2() < points[others[b]].Sub(p).Norm2()
		})
		if len(others) > k {
			others = others[:k]
		}
		out[i] = others
	}
	return out
}

func TestNearestNeighbors(t *testing.T) {
	points := []r3.Vector{{X: 0}, {X: 1}, {X: 3}, {X: 7}}
	cloud, err := NewFromVectors(points, tensor.Float64, DefaultDevice)
	test.That(t, err, test.ShouldBeNil)

	neighbors, err := NearestNeighbors(context.Background(), cloud, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, neighbors, test.ShouldResemble, [][]int{{1, 2}, {0, 2}, {1, 0}, {2, 1}})

	neighbors, err = NearestNeighbors(context.Background(), cloud, 10)
	test.That(t, err, test.ShouldBeNil)
	for i, hood := range neighbors {
		test.That(t, len(hood), test.ShouldEqual, 3)
		test.That(t, hood, test.ShouldNotContain, i)
	}

	_, err = NearestNeighbors(context.Background(), cloud, 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNearestNeighborsMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	points := make([]r3.Vector, 500)
	for i := range points {
		points[i] = r3.Vector{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}
	}
	cloud, err := NewFromVectors(points, tensor.Float32, DefaultDevice)
	test.That(t, err, test.ShouldBeNil)
	// compare against the positions the cloud actually stores
	stored, err := cloud.Vectors(PositionsAttr)
	test.That(t, err, test.ShouldBeNil)

	neighbors, err := NearestNeighbors(context.Background(), cloud, 8)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, neighbors, test.ShouldResemble, bruteForceNeighbors(stored, 8))
}

func TestNearestNeighborsFeedGradients(t *testing.T) {
	cloud, _ := gradientGrid(t)
	neighbors, err := NearestNeighbors(context.Background(), cloud, 8)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, EstimateColorGradients(cloud, neighbors), test.ShouldBeNil)
	gradients, err := cloud.Vectors(ColorGradientsAttr)
	test.That(t, err, test.ShouldBeNil)
	for _, g := range gradients {
		test.That(t, g.X, test.ShouldAlmostEqual, 0.1, 1e-9)
		test.That(t, g.Y, test.ShouldAlmostEqual, 0, 1e-9)
	}
}
