package pipeline

import "math"

// Catalogue codes the calculator reads; kept as named constants so the
// formulas below read as physics, not string literals.
const (
	paramProbeUpstreamCM   = "parameter_probe_spacing_upstream_cm"
	paramProbeDownstreamCM = "parameter_probe_spacing_downstream_cm"
	paramHeatPulseS        = "parameter_heat_pulse_duration_s"
	paramWoodDensity       = "parameter_wood_density_kg_m3"
	paramWoodSpecificHeat  = "parameter_wood_specific_heat_j_kgk"
	paramSapSpecificHeat   = "parameter_sapwood_specific_heat_j_kgk"
	paramDiffusivity       = "parameter_diffusivity_cm2_s"
	paramWoundA            = "parameter_wound_correction_a"
	paramWoundB            = "parameter_wound_correction_b"
	paramWoundC            = "parameter_wound_correction_c"
	paramWoundD            = "parameter_wound_correction_d"
)

// Calculate implements the DMA-Péclet stage: heat velocity via
// the Heat-Ratio Method when beta <= 1, else the Tmax method; wound
// correction by a cubic polynomial in heat velocity; conversion to sap flux
// density. Any null input propagates to a null result with no silent
// substitution.
func Calculate(in Frame) Frame {
	out := make([]Row, len(in.Rows))
	for i, r := range in.Rows {
		out[i] = calculateRow(r)
	}
	return Frame{Rows: out}
}

func calculateRow(r Row) Row {
	row := r
	if r.Beta == nil {
		return row
	}

	var heatVelocity *float64
	if *r.Beta <= 1 {
		row.CalculationMethodUsed = "HRM"
		heatVelocity = heatRatioVelocity(r)
	} else {
		row.CalculationMethodUsed = "Tmax"
		heatVelocity = tmaxVelocity(r)
	}
	row.HeatVelocityCmHr = heatVelocity
	if heatVelocity == nil {
		return row
	}

	corrected := woundCorrect(*heatVelocity, r)
	flux := sapFluxDensity(corrected, r)
	row.SapFluxDensityCmHr = flux
	return row
}

// heatRatioVelocity implements the Heat-Ratio Method: the log of the
// downstream/upstream temperature-rise ratio (alpha), scaled by
// diffusivity over the mean probe spacing.
func heatRatioVelocity(r Row) *float64 {
	if r.Alpha == nil || *r.Alpha <= 0 {
		return nil
	}
	diffusivity := r.Float(paramDiffusivity)
	upstream := r.Float(paramProbeUpstreamCM)
	downstream := r.Float(paramProbeDownstreamCM)
	if diffusivity == nil || upstream == nil || downstream == nil {
		return nil
	}
	meanSpacing := (*upstream + *downstream) / 2
	v := (*diffusivity / meanSpacing) * math.Log(*r.Alpha) * 3600
	return &v
}

// tmaxVelocity implements the Tmax (maximum-temperature) method: valid only
// when the time to peak temperature exceeds the heat pulse duration.
func tmaxVelocity(r Row) *float64 {
	if r.TimeToMaxS == nil {
		return nil
	}
	t0 := r.Float(paramHeatPulseS)
	diffusivity := r.Float(paramDiffusivity)
	if t0 == nil || diffusivity == nil {
		return nil
	}
	tm := *r.TimeToMaxS
	if tm <= *t0 {
		return nil
	}
	logArg := tm / (tm - *t0)
	if logArg < 0 {
		return nil
	}
	v := math.Sqrt((4 * *diffusivity / tm) * math.Log(logArg)) * 3600
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// woundCorrect applies the cubic wound-correction polynomial.
func woundCorrect(v float64, r Row) float64 {
	a, b, c, d := r.Float(paramWoundA), r.Float(paramWoundB), r.Float(paramWoundC), r.Float(paramWoundD)
	if a == nil || b == nil || c == nil || d == nil {
		// Coefficients come from the compiled-in catalogue, so they are
		// always present; a missing one means no correction, not a guess.
		return v
	}
	return *a + *b*v + *c*v*v + *d*v*v*v
}

// sapFluxDensity converts corrected heat velocity to sap flux density using
// the wood/sap heat-capacity ratio.
func sapFluxDensity(correctedV float64, r Row) *float64 {
	woodDensity := r.Float(paramWoodDensity)
	woodHeat := r.Float(paramWoodSpecificHeat)
	sapHeat := r.Float(paramSapSpecificHeat)
	if woodDensity == nil || woodHeat == nil || sapHeat == nil || *sapHeat == 0 {
		return nil
	}
	j := correctedV * (*woodDensity * *woodHeat) / *sapHeat
	return &j
}
