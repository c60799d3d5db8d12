package analytics

import "math"

// garchForecasts fits GARCH(1,1) on the last 252 returns (scaled by 100) and
// returns annualized 7- and 28-day forecasts in percent. On a failed fit it
// falls back to realized vol over the same window.
func garchForecasts(returns []float64) (garch7, garch28 float64) {
	window := tail(returns, MinHistoryDays)
	params, ok := fitGARCH(window)
	if !ok {
		rv := realizedVol(returns, MinHistoryDays)
		return rv, rv
	}
	return params.forecast(window, 7), params.forecast(window, 28)
}

type garchParams struct {
	omega, alpha, beta float64
}

// fitGARCH maximizes the Gaussian log-likelihood with a coarse grid over
// (alpha, beta) refined once, with omega implied by variance targeting.
// Returns ok=false when no stationary parameterization improves on the
// unconditional fit.
func fitGARCH(returns []float64) (garchParams, bool) {
	if len(returns) < 60 {
		return garchParams{}, false
	}
	scaled := make([]float64, len(returns))
	for i, r := range returns {
		scaled[i] = r * 100
	}
	uncond := variance(scaled)
	if uncond <= 0 {
		return garchParams{}, false
	}

	best := garchParams{}
	bestLL := math.Inf(-1)
	found := false

	search := func(alphas, betas []float64) {
		for _, a := range alphas {
			for _, b := range betas {
				if a+b >= 0.999 {
					continue
				}
				p := garchParams{omega: uncond * (1 - a - b), alpha: a, beta: b}
				ll := p.logLikelihood(scaled, uncond)
				if ll > bestLL {
					bestLL = ll
					best = p
					found = true
				}
			}
		}
	}

	search(
		[]float64{0.02, 0.05, 0.08, 0.12, 0.16, 0.20, 0.25},
		[]float64{0.60, 0.70, 0.78, 0.84, 0.88, 0.92, 0.95},
	)
	if found {
		// Refine around the coarse optimum.
		a0, b0 := best.alpha, best.beta
		var alphas, betas []float64
		for _, d := range []float64{-0.02, -0.01, 0, 0.01, 0.02} {
			if a := a0 + d; a > 0 {
				alphas = append(alphas, a)
			}
			if b := b0 + d; b > 0 {
				betas = append(betas, b)
			}
		}
		search(alphas, betas)
	}
	return best, found
}

func (p garchParams) logLikelihood(scaled []float64, initVar float64) float64 {
	h := initVar
	ll := 0.0
	for _, r := range scaled {
		if h <= 0 {
			return math.Inf(-1)
		}
		ll += -0.5 * (math.Log(2*math.Pi) + math.Log(h) + r*r/h)
		h = p.omega + p.alpha*r*r + p.beta*h
	}
	return ll
}

// forecast returns the annualized vol (percent) implied by the mean
// conditional variance over the next `horizon` days.
func (p garchParams) forecast(returns []float64, horizon int) float64 {
	scaled := make([]float64, len(returns))
	for i, r := range returns {
		scaled[i] = r * 100
	}

	// Filter the conditional variance through the sample.
	h := variance(scaled)
	for _, r := range scaled {
		h = p.omega + p.alpha*r*r + p.beta*h
	}

	persistence := p.alpha + p.beta
	longRun := p.omega / (1 - persistence)

	var sum float64
	hk := h
	for k := 0; k < horizon; k++ {
		sum += hk
		hk = longRun + persistence*(hk-longRun)
	}
	meanVar := sum / float64(horizon)

	// Variance is on the ×100 return scale, so the result is already in
	// percent after annualizing.
	return math.Sqrt(meanVar * annualization)
}

func variance(s []float64) float64 {
	sd := stdev(s)
	return sd * sd
}
