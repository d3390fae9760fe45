// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leastsq

import (
	"math"
)

var dwarf = math.SmallestNonzeroFloat64 * (1 << 52)

// lmpar determines the Levenberg-Marquardt parameter par such that the
// solution y of
//
//	min ‖J·D⁻¹·y + f‖² + par·‖y‖²
//
// satisfies ‖y‖ ≤ Δ, within 10% of Δ when par > 0. With the thin SVD
// J·D⁻¹ = U·S·Vᵀ and c = Uᵀ·f the solution is y = -V·z, zᵢ = sᵢcᵢ/(sᵢ²+par),
// so each trial costs O(n) and the secular equation ‖y(par)‖ = Δ is solved
// with Moré's safeguarded Newton iteration.
//
// The step in x is left in workspace.step; lmpar returns ‖D·step‖ and
// ‖J·step‖.
func (d *lmDriver) lmpar() (pnorm, jpnorm float64) {
	o, w := d.optimizer, d.workspace
	n := o.n
	s, c, delta := w.sv, w.utf, w.delta

	// singular values below tol are treated as zero at par = 0
	tol := zero
	if len(s) > 0 {
		tol = s[0] * epsmch * float64(max(o.m, n))
	}

	norms := func(par float64) (ynorm, dphi float64) {
		y2, d3 := zero, zero
		for i, si := range s {
			den := si*si + par
			if par == zero && si <= tol || den == zero {
				continue
			}
			z := si * c[i] / den
			y2 += z * z
			d3 += z * z / den
		}
		return math.Sqrt(y2), d3
	}

	gnorm := zero // ‖(J·D⁻¹)ᵀ·f‖
	for i, si := range s {
		gnorm += (si * c[i]) * (si * c[i])
	}
	gnorm = math.Sqrt(gnorm)

	par := zero
	dxnorm, _ := norms(zero)
	if fp := dxnorm - delta; fp > p1*delta {
		parl, paru := zero, gnorm/delta
		if paru == zero {
			paru = dwarf / math.Min(delta, p1)
		}
		par = math.Min(math.Max(w.par, parl), paru)
		if par == zero {
			par = gnorm / dxnorm
		}
		for iter := 0; ; iter++ {
			if par == zero {
				par = math.Max(dwarf, 0.001*paru)
			}
			var d3 float64
			dxnorm, d3 = norms(par)
			fp = dxnorm - delta
			if math.Abs(fp) <= p1*delta || iter == 10 || d3 == zero {
				break
			}
			// Newton correction of 1/‖y‖ - 1/Δ
			parc := fp * dxnorm * dxnorm / (delta * d3)
			if fp > zero {
				parl = math.Max(parl, par)
			}
			if fp < zero {
				paru = math.Min(paru, par)
			}
			par = math.Max(parl, par+parc)
		}
	}
	w.par = par

	var jp2 float64
	for j := 0; j < n; j++ {
		w.step[j] = zero
	}
	for i, si := range s {
		den := si*si + par
		if par == zero && si <= tol || den == zero {
			continue
		}
		z := si * c[i] / den
		jp2 += (si * z) * (si * z)
		pnorm += z * z
		for j := 0; j < n; j++ {
			w.step[j] -= w.v.At(j, i) * z
		}
	}
	for j := 0; j < n; j++ {
		w.step[j] /= w.diag[j]
	}
	return math.Sqrt(pnorm), math.Sqrt(jp2)
}
