package losses

import (
	"testing"

	"github.com/gomlx/scalargrad/pkg/core/graph"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSquaredErrors(t *testing.T) {
	g := graph.NewGraph("losses")
	predictions := []*graph.Node{graph.Leaf(g, 1), graph.Leaf(g, -2)}
	labels := []float64{3, -1}

	// Errors: (1-3)^2 = 4 and (-2+1)^2 = 1.
	mse := MeanSquaredError(labels, predictions)
	assert.Equal(t, 2.5, mse.Value())
	sse := SumSquaredError(labels, predictions)
	assert.Equal(t, 5.0, sse.Value())

	// d(mse)/d(prediction_i) = 2*(prediction_i - label_i)/n.
	grads := graph.Gradient(mse, predictions...)
	assert.Equal(t, []float64{-2, -1}, grads)

	require.Panics(t, func() { MeanSquaredError(labels[:1], predictions) })
	require.Panics(t, func() { SumSquaredError(nil, nil) })
}

func TestFromContext(t *testing.T) {
	ctx := context.New()
	g := ctx.Graph()
	predictions := []*graph.Node{graph.Leaf(g, 1), graph.Leaf(g, 2)}
	labels := []float64{0, 0}
	assert.Equal(t, 2.5, FromContext(ctx)(labels, predictions).Value())
	ctx.SetParam(ParamLoss, "sse")
	assert.Equal(t, 5.0, FromContext(ctx)(labels, predictions).Value())
	require.Panics(t, func() { FromName("hinge") })
}
