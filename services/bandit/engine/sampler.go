// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"math"
	"math/rand/v2"
)

// -----------------------------------------------------------------------------
// Randomness Source
// -----------------------------------------------------------------------------

// RNG is the randomness source for posterior draws.
//
// Description:
//
//	Callers inject an RNG to make Thompson Sampling reproducible in
//	tests; *rand.Rand from math/rand/v2 satisfies the interface.
//	When a caller passes nil, the engine falls back to the process-wide
//	source, which is safe for concurrent use but not reproducible.
type RNG interface {
	// Float64 returns a value in [0, 1).
	Float64() float64

	// NormFloat64 returns a standard-normal value.
	NormFloat64() float64
}

// processRNG adapts the process-wide math/rand/v2 source to RNG.
type processRNG struct{}

func (processRNG) Float64() float64     { return rand.Float64() }
func (processRNG) NormFloat64() float64 { return rand.NormFloat64() }

// NewSeededRNG returns a reproducible RNG for the given seed.
func NewSeededRNG(seed uint64) RNG {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// orProcess returns rng, or the process-wide source when rng is nil.
func orProcess(rng RNG) RNG {
	if rng == nil {
		return processRNG{}
	}
	return rng
}

// -----------------------------------------------------------------------------
// Beta / Gamma Sampling
// -----------------------------------------------------------------------------

// SampleBeta draws one sample from Beta(alpha, beta).
//
// Description:
//
//	Uses the ratio of two independent Gamma draws:
//	X ~ Gamma(alpha), Y ~ Gamma(beta), X/(X+Y) ~ Beta(alpha, beta).
//	The variance of the draw shrinks as alpha+beta grows, which is the
//	engine's only exploration mechanism: low-pulls arms produce wide
//	draws and keep getting sampled.
//
// Inputs:
//   - rng: Randomness source. Must not be nil (see orProcess).
//   - alpha, beta: Posterior parameters. Must be positive.
//
// Outputs:
//   - float64: A value in (0, 1).
func SampleBeta(rng RNG, alpha, beta float64) float64 {
	x := sampleGamma(rng, alpha)
	y := sampleGamma(rng, beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws from Gamma(shape, 1) using Marsaglia-Tsang squeeze
// rejection. Shapes below 1 use the boost identity
// Gamma(a) = Gamma(a+1) * U^(1/a).
func sampleGamma(rng RNG, shape float64) float64 {
	if shape < 1 {
		u := rng.Float64()
		for u == 0 {
			u = rng.Float64()
		}
		return sampleGamma(rng, shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		x := rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v

		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if u > 0 && math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// -----------------------------------------------------------------------------
// Credible Interval
// -----------------------------------------------------------------------------

// CredibleInterval holds a central Bayesian interval for a pattern's
// true success rate.
type CredibleInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Level float64 `json:"level"`
}

// Width returns Upper - Lower.
func (ci CredibleInterval) Width() float64 {
	return ci.Upper - ci.Lower
}

// zScores maps the supported credible levels to standard-normal
// quantiles. Config validation restricts levels to these keys.
var zScores = map[float64]float64{
	0.90: 1.6449,
	0.95: 1.9600,
	0.99: 2.5758,
}

// BetaCredibleInterval returns the central credible interval for
// Beta(alpha, beta) at the given level.
//
// Description:
//
//	Uses the normal approximation to the Beta distribution, clamped to
//	[0, 1]. Adequate for ranking and rationale output; this is an
//	online estimator, not an inference service.
func BetaCredibleInterval(alpha, beta, level float64) CredibleInterval {
	z, ok := zScores[level]
	if !ok {
		z = zScores[0.95]
		level = 0.95
	}

	total := alpha + beta
	mean := alpha / total
	sd := math.Sqrt(alpha * beta / (total * total * (total + 1)))

	return CredibleInterval{
		Lower: math.Max(0, mean-z*sd),
		Upper: math.Min(1, mean+z*sd),
		Level: level,
	}
}
