// Package catalog is the compile-time parameter dictionary: canonical
// parameter codes, their default values, and their
// type kinds. It is immutable within a running process.
package catalog

import "github.com/sapflux-io/pipeline/internal/metadata"

// ParameterDef is one catalogue entry.
type ParameterDef struct {
	Code         string
	Kind         metadata.ParameterValueKind
	DefaultFloat float64
	DefaultInt   int64
	DefaultStr   string
	Description  string
}

// Physics input parameters.
var physicsParameters = []ParameterDef{
	{Code: "parameter_probe_spacing_upstream_cm", Kind: metadata.KindFloat, DefaultFloat: 0.5, Description: "Distance from heater to upstream thermistor"},
	{Code: "parameter_probe_spacing_downstream_cm", Kind: metadata.KindFloat, DefaultFloat: 0.5, Description: "Distance from heater to downstream thermistor"},
	{Code: "parameter_heat_pulse_duration_s", Kind: metadata.KindFloat, DefaultFloat: 3.0, Description: "Duration of the heat pulse"},
	{Code: "parameter_wood_density_kg_m3", Kind: metadata.KindFloat, DefaultFloat: 850.0, Description: "Fresh wood density"},
	{Code: "parameter_wood_specific_heat_j_kgk", Kind: metadata.KindFloat, DefaultFloat: 1200.0, Description: "Specific heat capacity of fresh wood"},
	{Code: "parameter_sapwood_specific_heat_j_kgk", Kind: metadata.KindFloat, DefaultFloat: 4186.0, Description: "Specific heat capacity of sap (water)"},
	{Code: "parameter_diffusivity_cm2_s", Kind: metadata.KindFloat, DefaultFloat: 0.0025, Description: "Thermal diffusivity of green wood"},
	{Code: "parameter_wound_correction_a", Kind: metadata.KindFloat, DefaultFloat: 0.0, Description: "Cubic wound-correction coefficient, order 0"},
	{Code: "parameter_wound_correction_b", Kind: metadata.KindFloat, DefaultFloat: 1.0, Description: "Cubic wound-correction coefficient, order 1 (1.0 = no correction)"},
	{Code: "parameter_wound_correction_c", Kind: metadata.KindFloat, DefaultFloat: 0.0, Description: "Cubic wound-correction coefficient, order 2"},
	{Code: "parameter_wound_correction_d", Kind: metadata.KindFloat, DefaultFloat: 0.0, Description: "Cubic wound-correction coefficient, order 3"},
}

// Quality filter thresholds.
var qualityParameters = []ParameterDef{
	{Code: "quality_gap_years", Kind: metadata.KindFloat, DefaultFloat: 1.0, Description: "Record-gap threshold, in years, for flagging a discontinuity"},
	{Code: "quality_min_flux_cm_hr", Kind: metadata.KindFloat, DefaultFloat: -10.0, Description: "Lower bound on plausible sap flux density"},
	{Code: "quality_max_flux_cm_hr", Kind: metadata.KindFloat, DefaultFloat: 100.0, Description: "Upper bound on plausible sap flux density"},
}

// All returns every catalogue entry (physics + quality parameters).
func All() []ParameterDef {
	out := make([]ParameterDef, 0, len(physicsParameters)+len(qualityParameters))
	out = append(out, physicsParameters...)
	out = append(out, qualityParameters...)
	return out
}

// byCode is built once at package init for O(1) lookups.
var byCode = func() map[string]ParameterDef {
	m := make(map[string]ParameterDef)
	for _, p := range All() {
		m[p.Code] = p
	}
	return m
}()

// Lookup returns the catalogue entry for code, or false if code is unknown.
func Lookup(code string) (ParameterDef, bool) {
	p, ok := byCode[code]
	return p, ok
}

// Codes returns every catalogue parameter code.
func Codes() []string {
	out := make([]string, 0, len(byCode))
	for _, p := range All() {
		out = append(out, p.Code)
	}
	return out
}
