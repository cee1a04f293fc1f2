package pipeline

import (
	"github.com/sapflux-io/pipeline/internal/catalog"
	"github.com/sapflux-io/pipeline/internal/metadata"
)

// overrideIndex is a single scan's worth of parameter_overrides, organized
// for O(1) lookup by (code, scope, entity id) plus a global fallback, so
// the cascade is one coalesce per parameter rather than a query per row.
type overrideIndex struct {
	scoped map[string]map[metadata.ParameterScope]map[string]metadata.ParameterOverride
	global map[string]metadata.ParameterOverride
}

func buildOverrideIndex(overrides []metadata.ParameterOverride) *overrideIndex {
	idx := &overrideIndex{
		scoped: make(map[string]map[metadata.ParameterScope]map[string]metadata.ParameterOverride),
		global: make(map[string]metadata.ParameterOverride),
	}
	for _, o := range overrides {
		if o.Scope == metadata.ScopeGlobal {
			idx.global[o.ParameterCode] = o
			continue
		}
		byScope, ok := idx.scoped[o.ParameterCode]
		if !ok {
			byScope = make(map[metadata.ParameterScope]map[string]metadata.ParameterOverride)
			idx.scoped[o.ParameterCode] = byScope
		}
		byEntity, ok := byScope[o.Scope]
		if !ok {
			byEntity = make(map[string]metadata.ParameterOverride)
			byScope[o.Scope] = byEntity
		}
		byEntity[o.ScopeEntityID] = o
	}
	return idx
}

// entityIDForScope returns the row's hierarchy id for a given scope, so the
// cascade can be expressed as a single loop over metadata.ScopePrecedence.
func entityIDForScope(r Row, scope metadata.ParameterScope) string {
	switch scope {
	case metadata.ScopeDeployment:
		return r.DeploymentID
	case metadata.ScopeStem:
		return r.StemID
	case metadata.ScopePlant:
		return r.PlantID
	case metadata.ScopePlot:
		return r.PlotID
	case metadata.ScopeZone:
		return r.ZoneID
	case metadata.ScopeSpecies:
		return r.SpeciesID
	case metadata.ScopeSite:
		return r.SiteID
	default:
		return ""
	}
}

// sourceLabel renders the provenance column:
// "deployment_override", "stem_override", ..., "site_override", "default".
func sourceLabel(scope metadata.ParameterScope) string {
	return string(scope) + "_override"
}

// ResolveParameters implements the parameter cascade: for each row and each
// catalogue code, coalesce the most specific matching override, recording
// both the typed value and its provenance. parameter_* and quality_* codes
// go through the identical mechanism (the prefix is just part of the code
// string).
func ResolveParameters(in Frame, ec *metadata.ExecutionContext) Frame {
	idx := buildOverrideIndex(ec.Overrides)
	defs := catalog.All()

	out := make([]Row, len(in.Rows))
	for i, r := range in.Rows {
		row := r
		row.Parameters = make(map[string]ParamValue, len(defs))
		row.ParameterSource = make(map[string]string, len(defs))
		for _, def := range defs {
			val, source := resolveOne(row, def, idx)
			row.Parameters[def.Code] = val
			row.ParameterSource[def.Code] = source
		}
		out[i] = row
	}
	return Frame{Rows: out}
}

func resolveOne(r Row, def catalog.ParameterDef, idx *overrideIndex) (ParamValue, string) {
	byScope := idx.scoped[def.Code]
	for _, scope := range metadata.ScopePrecedence {
		if scope == metadata.ScopeGlobal {
			continue
		}
		entityID := entityIDForScope(r, scope)
		if entityID == "" {
			continue
		}
		byEntity, ok := byScope[scope]
		if !ok {
			continue
		}
		if o, ok := byEntity[entityID]; ok {
			return paramValueFromOverride(def, o), sourceLabel(scope)
		}
	}
	if o, ok := idx.global[def.Code]; ok {
		return paramValueFromOverride(def, o), sourceLabel(metadata.ScopeGlobal)
	}
	return defaultParamValue(def), "default"
}

func paramValueFromOverride(def catalog.ParameterDef, o metadata.ParameterOverride) ParamValue {
	switch def.Kind {
	case metadata.KindInt:
		return ParamValue{Int: o.ValueInt}
	case metadata.KindString:
		return ParamValue{Str: o.ValueString}
	default:
		return ParamValue{Float: o.ValueFloat}
	}
}

func defaultParamValue(def catalog.ParameterDef) ParamValue {
	switch def.Kind {
	case metadata.KindInt:
		v := def.DefaultInt
		return ParamValue{Int: &v}
	case metadata.KindString:
		v := def.DefaultStr
		return ParamValue{Str: &v}
	default:
		v := def.DefaultFloat
		return ParamValue{Float: &v}
	}
}

// ParameterSourceCounts tallies, per catalogue code, how many rows resolved
// from each provenance label. Supplements the per-row
// parameter_source_<code> columns with a batch-level summary the receipt
// (C9) surfaces, useful for catching "this override silently stopped
// applying" regressions.
func ParameterSourceCounts(f Frame) map[string]map[string]int {
	counts := make(map[string]map[string]int)
	for _, r := range f.Rows {
		for code, source := range r.ParameterSource {
			if counts[code] == nil {
				counts[code] = make(map[string]int)
			}
			counts[code][source]++
		}
	}
	return counts
}

// Float looks up a resolved float parameter by code, returning nil if the
// code is absent or not float-kinded (programmer error; callers pass codes
// from the compiled-in catalogue so this should never miss).
func (r Row) Float(code string) *float64 {
	if v, ok := r.Parameters[code]; ok {
		return v.Float
	}
	return nil
}
