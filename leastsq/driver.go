// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leastsq

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/grainfit/numdiff"
)

// lmDriver runs the outer Jacobian iterations and the inner trust region
// trials of one fit.
type lmDriver struct {
	optimizer *Optimizer
	workspace *Workspace
	location  *lmLoc
}

func (d *lmDriver) evaluate(x, f []float64) error {
	d.workspace.nfev++
	return d.optimizer.eval(x, f)
}

// jacobian estimates the Jacobian at the current point and refreshes the
// column norms.
func (d *lmDriver) jacobian() error {
	o, w, loc := d.optimizer, d.workspace, d.location
	n, m := o.n, o.m

	w.approx.N, w.approx.M = n, m
	w.approx.Method = o.method
	w.approx.RelStep = o.relStp
	if o.method == numdiff.Central {
		w.approx.RelStep = 0
	}
	w.approx.Object = numdiff.Function(o.eval)

	err := w.approx.DiffAt(loc.x, loc.fvec, w.fjac)
	w.nfev += w.approx.NumEval
	if err != nil {
		return err
	}

	for j := 0; j < n; j++ {
		s := zero
		for i := 0; i < m; i++ {
			s += w.fjac[i*n+j] * w.fjac[i*n+j]
		}
		w.cnorm[j] = math.Sqrt(s)
	}
	return nil
}

// factorize computes the SVD of the Jacobian in the scaled variables D·x.
func (d *lmDriver) factorize() bool {
	o, w, loc := d.optimizer, d.workspace, d.location
	n, m := o.n, o.m

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			w.jac.Set(i, j, w.fjac[i*n+j]/w.diag[j])
		}
	}
	if !w.svd.Factorize(&w.jac, mat.SVDThin) {
		return false
	}
	w.svd.UTo(&w.u)
	w.svd.VTo(&w.v)
	w.svd.Values(w.sv)

	f := mat.NewVecDense(m, loc.fvec)
	utf := mat.NewVecDense(n, w.utf)
	utf.MulVec(w.u.T(), f)
	return true
}

// gradNorm returns the largest cosine between the residual and a Jacobian
// column.
func (d *lmDriver) gradNorm() float64 {
	o, w, loc := d.optimizer, d.workspace, d.location
	n, m := o.n, o.m

	gnorm := zero
	if loc.fnorm == zero {
		return gnorm
	}
	for j := 0; j < n; j++ {
		if w.cnorm[j] == zero {
			continue
		}
		s := zero
		for i := 0; i < m; i++ {
			s += w.fjac[i*n+j] * loc.fvec[i]
		}
		gnorm = math.Max(gnorm, math.Abs(s/(loc.fnorm*w.cnorm[j])))
	}
	return gnorm
}

func (d *lmDriver) scaledNorm(x []float64) float64 {
	s := zero
	for j, v := range x {
		t := d.workspace.diag[j] * v
		s += t * t
	}
	return math.Sqrt(s)
}

// mainLoop is the main execution loop of the iteration process.
func (d *lmDriver) mainLoop() (status Status, err error) {

	o, w, loc := d.optimizer, d.workspace, d.location
	stop := o.stop

	defer func() { d.printExit(status) }()

	if err = d.evaluate(loc.x, loc.fvec); err != nil {
		return HaltEvalError, err
	}
	loc.fnorm = floats.Norm(loc.fvec, 2)

	var xnorm float64
	for outer := 0; ; outer++ {

		if err = d.jacobian(); err != nil {
			return HaltEvalError, err
		}

		if outer == 0 {
			if o.diag != nil {
				copy(w.diag, o.diag)
			} else {
				for j, c := range w.cnorm {
					w.diag[j] = c
					if c == zero {
						w.diag[j] = one
					}
				}
			}
			xnorm = d.scaledNorm(loc.x)
			w.delta = o.factor * xnorm
			if w.delta == zero {
				w.delta = o.factor
			}
		} else if o.diag == nil {
			for j, c := range w.cnorm {
				w.diag[j] = math.Max(w.diag[j], c)
			}
		}

		gnorm := d.gradNorm()
		if gnorm <= stop.GTol {
			return ConvGTol, nil
		}

		if !d.factorize() {
			return HaltSingular, nil
		}

		for {
			pnorm, jpnorm := d.lmpar()

			for j := range loc.x {
				w.xt[j] = loc.x[j] + w.step[j]
			}

			if outer == 0 {
				w.delta = math.Min(w.delta, pnorm)
			}

			if err = d.evaluate(w.xt, w.ft); err != nil {
				return HaltEvalError, err
			}
			fnorm1 := floats.Norm(w.ft, 2)

			actred := -one
			if p1*fnorm1 < loc.fnorm {
				actred = one - (fnorm1/loc.fnorm)*(fnorm1/loc.fnorm)
			}

			// predicted reduction and directional derivative
			prered, dirder := zero, zero
			if loc.fnorm > zero {
				temp1 := jpnorm / loc.fnorm
				temp2 := math.Sqrt(w.par) * pnorm / loc.fnorm
				prered = temp1*temp1 + temp2*temp2/p5
				dirder = -(temp1*temp1 + temp2*temp2)
			}

			ratio := zero
			if prered != zero {
				ratio = actred / prered
			}

			if ratio <= p25 {
				temp := p5
				if actred < zero {
					temp = p5 * dirder / (dirder + p5*actred)
				}
				if p1*fnorm1 >= loc.fnorm || temp < p1 {
					temp = p1
				}
				w.delta = temp * math.Min(w.delta, pnorm/p1)
				w.par /= temp
			} else if w.par == zero || ratio >= p75 {
				w.delta = pnorm / p5
				w.par *= p5
			}

			accepted := ratio >= p0001
			if accepted {
				copy(loc.x, w.xt)
				copy(loc.fvec, w.ft)
				xnorm = d.scaledNorm(loc.x)
				loc.fnorm = fnorm1
				w.iter++
			}

			d.printTrial(accepted, ratio)

			switch {
			case math.Abs(actred) <= stop.FTol && prered <= stop.FTol && p5*ratio <= one &&
				w.delta <= stop.XTol*xnorm:
				return ConvBoth, nil
			case math.Abs(actred) <= stop.FTol && prered <= stop.FTol && p5*ratio <= one:
				return ConvFTol, nil
			case w.delta <= stop.XTol*xnorm:
				return ConvXTol, nil
			case w.nfev >= stop.MaxEvaluations:
				return OverEvalLimit, nil
			case math.Abs(actred) <= epsmch && prered <= epsmch && p5*ratio <= one:
				return FTolTooSmall, nil
			case w.delta <= epsmch*xnorm:
				return XTolTooSmall, nil
			case gnorm <= epsmch:
				return GTolTooSmall, nil
			}

			if accepted {
				break
			}
		}
	}
}

func (d *lmDriver) printTrial(accepted bool, ratio float64) {
	o, w, loc := d.optimizer, d.workspace, d.location
	log := o.logger
	switch {
	case log.enable(LogTrace):
		log.out("%4d %5d %t %12.5e %10.3e %10.3e %10.3e\n",
			w.iter, w.nfev, accepted, loc.fnorm, w.delta, w.par, ratio)
	case log.enable(LogEval) && accepted:
		log.out("%4d %5d %12.5e\n", w.iter, w.nfev, loc.fnorm)
	}
	if log.enable(LogVerbose) && accepted {
		log.out(" X =")
		for _, v := range loc.x {
			log.out(" %.6e", v)
		}
		log.out("\n")
	}
}

// printExit logs the final statistics and exit conditions of the optimization process.
func (d *lmDriver) printExit(status Status) {
	o, w, loc := d.optimizer, d.workspace, d.location
	log := o.logger
	if !log.enable(LogLast) {
		return
	}
	log.log("\n   N      M    Nit    Nfev      Fnorm\n")
	log.log("%4d %6d %6d %7d %12.5e\n", o.n, o.m, w.iter, w.nfev, loc.fnorm)
	log.log("\n%s\n", status)
}
