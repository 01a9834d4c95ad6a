// Package fnn implements a generic FNN (Feedforward Neural Network) of scalar neurons, with various configurations.
//
// Each neuron computes `activation(Σ w_i * x_i + b)`, where the weights `w_<i>` and bias `b` are variables stored
// in the context under the scope `layer_<l>/neuron_<n>`.
//
// It also provides support for various hyperparameter configuration -- so the defaults can be given by
// the context parameters.
//
// E.g: A FNN for a regression model with one output.
//
//	func MyModel(ctx *context.Context, inputs []*Node) *Node {
//		return fnn.New(ctx.In("model"), inputs, 1).
//			NumHiddenLayers(2, 4).
//			Activation(activations.TypeTanh).
//			Done()[0]
//	}
package fnn

import (
	"fmt"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/scalargrad/pkg/core/graph"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/initializer"
	"github.com/gomlx/scalargrad/pkg/ml/layers/activations"
)

const (
	// ParamNumHiddenLayers is the hyperparameter that defines the default number of hidden layers.
	// The default is 0 (int), so no hidden layers.
	ParamNumHiddenLayers = "fnn_num_hidden_layers"

	// ParamNumHiddenNodes is the hyperparameter that defines the default number of neurons in each hidden layer.
	// The default is 10 (int).
	ParamNumHiddenNodes = "fnn_num_hidden_nodes"

	// ParamOutputActivation is the hyperparameter that defines the activation of the output layer.
	// The default is "none" (string), so the output layer is linear.
	ParamOutputActivation = "fnn_output_activation"

	// ParamInitializer is the hyperparameter that defines the initializer of the weights and biases, see
	// initializer.FromName for valid values.
	// The default is "uniform" (string), that is, uniform in [-1, 1).
	ParamInitializer = "fnn_initializer"
)

// WeightPrefix is the prefix of the name of the weight variables of a neuron, followed by the input index.
const WeightPrefix = "w_"

// BiasName is the name of the bias variable of a neuron.
const BiasName = "b"

// Config is created with New and can be configured with its methods, or simply setting the corresponding
// hyperparameters in the context.
type Config struct {
	ctx                             *context.Context
	inputs                          []*Node
	numOutputs                      int
	numHiddenLayers, numHiddenNodes int
	activation, outputActivation    activations.Type
	initializerName                 string
	useBias                         bool
}

// New creates a configuration for a FNN (Feedforward Neural Network) over the given inputs, with numOutputs
// neurons in its output layer.
// This can be further configured through various methods and when finished,
// call Done to actually add the FNN computation graph and get the outputs.
//
// Configuration options have defaults, but can also be configured through hyperparameters
// set in the context. See corresponding configuration methods for details.
func New(ctx *context.Context, inputs []*Node, numOutputs int) *Config {
	if len(inputs) == 0 {
		exceptions.Panicf("fnn: at least one input must be given")
	}
	if numOutputs <= 0 {
		exceptions.Panicf("fnn: numOutputs must be > 0, got %d", numOutputs)
	}
	c := &Config{
		ctx:              ctx,
		inputs:           inputs,
		numOutputs:       numOutputs,
		numHiddenLayers:  context.GetParamOr(ctx, ParamNumHiddenLayers, 0),
		numHiddenNodes:   context.GetParamOr(ctx, ParamNumHiddenNodes, 10),
		activation:       activations.FromName(context.GetParamOr(ctx, activations.ParamActivation, "relu")),
		outputActivation: activations.FromName(context.GetParamOr(ctx, ParamOutputActivation, "none")),
		initializerName:  context.GetParamOr(ctx, ParamInitializer, "uniform"),
		useBias:          true,
	}
	return c
}

// NumHiddenLayers configure the number of hidden layers between the input and the output.
// Each layer will have numHiddenNodes neurons.
//
// The default is 0 (no hidden layers), but it will be overridden if the hyperparameter
// ParamNumHiddenLayers is set in the context (ctx).
// The value for numHiddenNodes can also be configured with the hyperparameter ParamNumHiddenNodes.
func (c *Config) NumHiddenLayers(numLayers, numHiddenNodes int) *Config {
	if numLayers < 0 || (numLayers > 0 && numHiddenNodes < 1) {
		exceptions.Panicf("fnn: numHiddenLayers (%d) must be greater or equal to 0 and numHiddenNodes (%d) must be greater or equal to 1",
			numLayers, numHiddenNodes)
	}
	c.numHiddenLayers = numLayers
	c.numHiddenNodes = numHiddenNodes
	return c
}

// UseBias configures whether to add a bias term to each neuron.
// Almost always you want this to be true, and that is the default.
func (c *Config) UseBias(useBias bool) *Config {
	c.useBias = useBias
	return c
}

// Activation sets the activation of the hidden layers.
//
// The default is "relu", but it can be overridden by setting the hyperparameter activations.ParamActivation (="activation")
// in the context.
func (c *Config) Activation(activation activations.Type) *Config {
	c.activation = activation
	return c
}

// OutputActivation sets the activation of the output layer.
//
// The default is activations.TypeNone (linear output), but it can be overridden by setting the hyperparameter
// ParamOutputActivation in the context.
func (c *Config) OutputActivation(activation activations.Type) *Config {
	c.outputActivation = activation
	return c
}

// Initializer sets the name of the initializer used for new weights and biases. See initializer.FromName.
//
// The default is "uniform", but it can be overridden by setting the hyperparameter ParamInitializer in the context.
func (c *Config) Initializer(name string) *Config {
	c.initializerName = name
	return c
}

// Done takes the configuration and apply the FNN as configured. It returns one node per output neuron.
func (c *Config) Done() []*Node {
	x := c.inputs
	for ii := range c.numHiddenLayers + 1 {
		numNeurons, activation := c.numHiddenNodes, c.activation
		if ii == c.numHiddenLayers {
			numNeurons, activation = c.numOutputs, c.outputActivation
		}
		layerCtx := c.ctx.Inf("layer_%d", ii).
			WithInitializer(initializer.FromName(c.initializerName, len(x), numNeurons))
		x = Layer(layerCtx, x, numNeurons, activation, c.useBias)
	}
	return x
}

// Layer applies numNeurons neurons (see Neuron) to the same inputs, each under the scope `neuron_<n>`.
func Layer(ctx *context.Context, inputs []*Node, numNeurons int, activation activations.Type, useBias bool) []*Node {
	outputs := make([]*Node, numNeurons)
	for ii := range outputs {
		outputs[ii] = Neuron(ctx.Inf("neuron_%d", ii), inputs, activation, useBias)
	}
	return outputs
}

// Neuron computes `activation(Σ w_i * x_i + b)`, with the weights and the bias stored as variables
// in the current scope of ctx.
//
// If the neuron already has weights (from a previous forward pass), their number must match the number
// of inputs, otherwise it panics.
func Neuron(ctx *context.Context, inputs []*Node, activation activations.Type, useBias bool) *Node {
	if len(inputs) == 0 {
		exceptions.Panicf("fnn: neuron in scope %q given no inputs", ctx.Scope())
	}
	if numWeights := NumWeights(ctx); numWeights > 0 && numWeights != len(inputs) {
		exceptions.Panicf("fnn: neuron in scope %q has %d weights, but %d inputs were given",
			ctx.Scope(), numWeights, len(inputs))
	}
	weights := make([]*Node, len(inputs))
	for ii := range weights {
		weights[ii] = ctx.VariableWithInitializer(fmt.Sprintf("%s%d", WeightPrefix, ii)).Node()
	}
	x := Dot(weights, inputs)
	if useBias {
		x = Add(x, ctx.VariableWithInitializer(BiasName).Node())
	}
	return activations.Apply(activation, x)
}

// NumWeights returns the number of weight variables of the neuron in the current scope of ctx.
func NumWeights(ctx *context.Context) int {
	count := 0
	for ctx.GetVariable(fmt.Sprintf("%s%d", WeightPrefix, count)) != nil {
		count++
	}
	return count
}

// NumParameters returns the total number of trainable parameters under the current scope of ctx,
// e.g.: the weights and biases of a FNN created with the same ctx.
func NumParameters(ctx *context.Context) int {
	total := 0
	for v := range ctx.IterVariablesInScope() {
		if v.Trainable {
			total++
		}
	}
	return total
}
