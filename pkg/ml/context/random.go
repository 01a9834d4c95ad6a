package context

import (
	"math/rand/v2"
	"time"

	"k8s.io/klog/v2"
)

var (
	// ParamInitialSeed is the key for the hyperparameter to use for initial seed (int). The default is 0,
	// which makes it non-deterministic. Set it to a value different from 0 for a deterministic (as long
	// as the model doesn't change) initialization.
	ParamInitialSeed = "initializers_seed"
)

// RandomSource returns the random number generator used by the variable initializers of the context.
//
// It is created on first use, seeded with ParamInitialSeed if set, or the clock otherwise.
func (ctx *Context) RandomSource() *rand.Rand {
	if ctx.data.rng == nil {
		ctx.RngStateReset()
	}
	return ctx.data.rng
}

// RngStateReset resets the context random number generator (RNG), using ParamInitialSeed
// if set (and different from 0), or the nanosecond clock otherwise.
func (ctx *Context) RngStateReset() {
	seed := uint64(GetParamOr(ctx, ParamInitialSeed, 0))
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
		klog.V(1).Infof("Context random number generator seeded from the clock")
	}
	ctx.data.rng = rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
}

// DefaultInitializer initializes variables with a random uniform value in [-1, 1).
func DefaultInitializer(rng *rand.Rand) float64 {
	return 2*rng.Float64() - 1
}
