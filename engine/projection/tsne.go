package projection

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

const (
	DefaultPerplexity = 5.0
	DefaultSeed       = 42

	// LearningRate is fixed; the projection exposes no tuning surface for it.
	LearningRate = 100.0
	Iterations   = 1000

	exaggeration     = 12.0
	exaggerationIter = 250
	initialMomentum  = 0.5
	finalMomentum    = 0.8
	minGain          = 0.01
	perplexityTol    = 1e-5
	perplexitySteps  = 50
	initScale        = 1e-4
	probFloor        = 1e-12
)

// ErrDimensionMismatch is returned when embeddings differ in length.
var ErrDimensionMismatch = errors.New("projection: embedding dimensions differ")

// Options configures Project. Zero values select the defaults.
type Options struct {
	Perplexity float64 // upper bound; clamped to N-1
	Seed       uint64  // 0 selects DefaultSeed; seed 0 itself is not reachable
	Iterations int
}

func (o Options) withDefaults() Options {
	if o.Perplexity <= 0 {
		o.Perplexity = DefaultPerplexity
	}
	if o.Seed == 0 {
		o.Seed = DefaultSeed
	}
	if o.Iterations <= 0 {
		o.Iterations = Iterations
	}
	return o
}

// EffectivePerplexity clamps the configured perplexity below the sample count.
func EffectivePerplexity(configured float64, n int) float64 {
	return math.Min(configured, float64(n-1))
}

// Projection holds 2D coordinates aligned with the input rows.
type Projection struct {
	Coords       [][2]float64
	Perplexity   float64
	Insufficient bool
}

// Project embeds data into two dimensions with exact t-SNE. Fewer than two
// rows yield an Insufficient projection rather than an error. Initialization
// draws from a PCG source seeded with opts.Seed, so equal inputs and seeds
// give equal coordinates.
func Project(ctx context.Context, data [][]float64, opts Options) (Projection, error) {
	n := len(data)
	if n < 2 {
		return Projection{Insufficient: true}, nil
	}
	dim := len(data[0])
	for i, row := range data {
		if len(row) != dim {
			return Projection{}, fmt.Errorf("%w: row %d has %d values, row 0 has %d", ErrDimensionMismatch, i, len(row), dim)
		}
	}

	opts = opts.withDefaults()
	perp := EffectivePerplexity(opts.Perplexity, n)
	p := jointProbabilities(pairwiseSqDist(data), perp)

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	y := make([][2]float64, n)
	for i := range y {
		y[i] = [2]float64{rng.NormFloat64() * initScale, rng.NormFloat64() * initScale}
	}

	update := make([][2]float64, n)
	gains := make([][2]float64, n)
	for i := range gains {
		gains[i] = [2]float64{1, 1}
	}
	grad := make([][2]float64, n)
	num := make([]float64, n*n)

	for iter := 0; iter < opts.Iterations; iter++ {
		if iter%50 == 0 {
			if err := ctx.Err(); err != nil {
				return Projection{}, err
			}
		}
		exag, momentum := 1.0, finalMomentum
		if iter < exaggerationIter {
			exag, momentum = exaggeration, initialMomentum
		}

		// Student-t kernel.
		var sumQ float64
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				dx, dy := y[i][0]-y[j][0], y[i][1]-y[j][1]
				q := 1 / (1 + dx*dx + dy*dy)
				num[i*n+j], num[j*n+i] = q, q
				sumQ += 2 * q
			}
		}

		for i := 0; i < n; i++ {
			var gx, gy float64
			for j := 0; j < n; j++ {
				if i == j {
					continue
				}
				q := math.Max(num[i*n+j]/sumQ, probFloor)
				mult := (exag*p[i*n+j] - q) * num[i*n+j]
				gx += mult * (y[i][0] - y[j][0])
				gy += mult * (y[i][1] - y[j][1])
			}
			grad[i] = [2]float64{4 * gx, 4 * gy}
		}

		for i := 0; i < n; i++ {
			for d := 0; d < 2; d++ {
				if grad[i][d]*update[i][d] < 0 {
					gains[i][d] += 0.2
				} else {
					gains[i][d] *= 0.8
				}
				gains[i][d] = math.Max(gains[i][d], minGain)
				update[i][d] = momentum*update[i][d] - LearningRate*gains[i][d]*grad[i][d]
				y[i][d] += update[i][d]
			}
		}
		center(y)
	}

	return Projection{Coords: y, Perplexity: perp}, nil
}

func pairwiseSqDist(data [][]float64) []float64 {
	n := len(data)
	d := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var s float64
			for k := range data[i] {
				diff := data[i][k] - data[j][k]
				s += diff * diff
			}
			d[i*n+j], d[j*n+i] = s, s
		}
	}
	return d
}

// jointProbabilities computes the symmetrized affinity matrix P. Each row's
// Gaussian precision is found by bisection so its entropy matches log(perp).
func jointProbabilities(dist []float64, perp float64) []float64 {
	n := int(math.Sqrt(float64(len(dist))))
	target := math.Log(perp)
	cond := make([]float64, n*n)
	row := make([]float64, n)

	for i := 0; i < n; i++ {
		beta, lo, hi := 1.0, math.Inf(-1), math.Inf(1)
		for step := 0; step < perplexitySteps; step++ {
			h := rowEntropy(dist[i*n:(i+1)*n], i, beta, row)
			diff := h - target
			if math.Abs(diff) < perplexityTol {
				break
			}
			if diff > 0 {
				lo = beta
				if math.IsInf(hi, 1) {
					beta *= 2
				} else {
					beta = (beta + hi) / 2
				}
			} else {
				hi = beta
				if math.IsInf(lo, -1) {
					beta /= 2
				} else {
					beta = (beta + lo) / 2
				}
			}
		}
		rowEntropy(dist[i*n:(i+1)*n], i, beta, row)
		copy(cond[i*n:(i+1)*n], row)
	}

	p := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			p[i*n+j] = math.Max((cond[i*n+j]+cond[j*n+i])/(2*float64(n)), probFloor)
		}
	}
	return p
}

// rowEntropy fills out with the conditional probabilities of row i at
// precision beta and returns their Shannon entropy.
func rowEntropy(dist []float64, i int, beta float64, out []float64) float64 {
	// Shift by the smallest off-diagonal distance so exp never underflows to all zeros.
	minD := math.Inf(1)
	for j, d := range dist {
		if j != i && d < minD {
			minD = d
		}
	}
	var sum float64
	for j, d := range dist {
		if j == i {
			out[j] = 0
			continue
		}
		out[j] = math.Exp(-(d - minD) * beta)
		sum += out[j]
	}
	var h float64
	for j := range out {
		if j == i {
			continue
		}
		out[j] /= sum
		if out[j] > 0 {
			h -= out[j] * math.Log(out[j])
		}
	}
	return h
}

func center(y [][2]float64) {
	var mx, my float64
	for _, p := range y {
		mx += p[0]
		my += p[1]
	}
	mx /= float64(len(y))
	my /= float64(len(y))
	for i := range y {
		y[i][0] -= mx
		y[i][1] -= my
	}
}
