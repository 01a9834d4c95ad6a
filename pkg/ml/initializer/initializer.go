// Package initializer provides variable initializers for context.Context, see Context.WithInitializer.
package initializer

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/ml/context"
)

// Initializer is the type of variable initializers, defined in context.VariableInitializer as
//
//	func(rng *rand.Rand) float64
type Initializer = context.VariableInitializer

var (
	// Zero initializes variables with zero.
	Zero Initializer = func(_ *rand.Rand) float64 { return 0 }

	// One initializes variables with one.
	One Initializer = func(_ *rand.Rand) float64 { return 1 }
)

// Constant returns an initializer that always returns value.
func Constant(value float64) Initializer {
	return func(_ *rand.Rand) float64 { return value }
}

// Uniform returns an initializer that generates random uniform values from [minValue, maxValue).
func Uniform(minValue, maxValue float64) Initializer {
	if maxValue < minValue {
		exceptions.Panicf("initializer.Uniform(%g, %g): maxValue must be >= minValue", minValue, maxValue)
	}
	return func(rng *rand.Rand) float64 {
		return minValue + (maxValue-minValue)*rng.Float64()
	}
}

// Normal returns an initializer that generates random normal values with the given standard deviation
// and mean set to 0.
func Normal(stddev float64) Initializer {
	return func(rng *rand.Rand) float64 {
		return stddev * rng.NormFloat64()
	}
}

// XavierUniform returns an initializer that generates random values with a uniform distribution with a range
// defined by +/- sqrt(6 / (fanIn+fanOut)).
// See description in https://paperswithcode.com/method/xavier-initialization
func XavierUniform(fanIn, fanOut int) Initializer {
	scale := max(1.0, float64(fanIn+fanOut))
	limit := math.Sqrt(6.0 / scale)
	return Uniform(-limit, limit)
}

// He returns the initializer that tries to preserve the variance of 1, calculated for the Relu activation functions.
//
// [1] https://arxiv.org/pdf/1502.01852
func He(fanIn int) Initializer {
	scale := max(1.0, float64(fanIn))
	return Normal(math.Sqrt(2.0 / scale))
}

// FromName returns the initializer for the given name, for layers that know their fan-in and fan-out:
// "uniform" (the context default, uniform in [-1, 1)), "xavier", "he" or "zero".
func FromName(name string, fanIn, fanOut int) Initializer {
	switch name {
	case "", "uniform":
		return context.DefaultInitializer
	case "xavier":
		return XavierUniform(fanIn, fanOut)
	case "he":
		return He(fanIn)
	case "zero":
		return Zero
	default:
		exceptions.Panicf("unknown initializer %q: valid values are \"uniform\", \"xavier\", \"he\" or \"zero\"", name)
	}
	return nil
}
