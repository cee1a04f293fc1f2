package pipeline

import (
	"testing"

	"github.com/sapflux-io/pipeline/internal/metadata"
)

func TestResolveParametersDefaultWhenNoOverride(t *testing.T) {
	ec := &metadata.ExecutionContext{}
	rows := []Row{{}}
	out := ResolveParameters(Frame{Rows: rows}, ec)
	src := out.Rows[0].ParameterSource["parameter_heat_pulse_duration_s"]
	if src != "default" {
		t.Fatalf("source = %q, want \"default\" with no overrides present", src)
	}
}

func TestResolveParametersCascadePrecedence(t *testing.T) {
	ec := &metadata.ExecutionContext{
		Overrides: []metadata.ParameterOverride{
			{ParameterCode: "parameter_wood_density_kg_m3", Scope: metadata.ScopeSite, ScopeEntityID: "site-1", ValueFloat: f64(700)},
			{ParameterCode: "parameter_wood_density_kg_m3", Scope: metadata.ScopeDeployment, ScopeEntityID: "dep-1", ValueFloat: f64(900)},
		},
	}
	row := Row{SiteID: "site-1", DeploymentID: "dep-1"}
	out := ResolveParameters(Frame{Rows: []Row{row}}, ec)
	got := out.Rows[0].Parameters["parameter_wood_density_kg_m3"]
	if got.Float == nil || *got.Float != 900 {
		t.Fatalf("expected the deployment-scoped override (900) to win over the site-scoped one (700), got %+v", got)
	}
	if out.Rows[0].ParameterSource["parameter_wood_density_kg_m3"] != "deployment_override" {
		t.Fatalf("source = %q, want deployment_override", out.Rows[0].ParameterSource["parameter_wood_density_kg_m3"])
	}
}

func TestResolveParametersFallsBackWhenMostSpecificScopeAbsent(t *testing.T) {
	ec := &metadata.ExecutionContext{
		Overrides: []metadata.ParameterOverride{
			{ParameterCode: "parameter_wood_density_kg_m3", Scope: metadata.ScopeSite, ScopeEntityID: "site-1", ValueFloat: f64(700)},
		},
	}
	row := Row{SiteID: "site-1", DeploymentID: "dep-1"} // no deployment-scoped override exists
	out := ResolveParameters(Frame{Rows: []Row{row}}, ec)
	got := out.Rows[0].Parameters["parameter_wood_density_kg_m3"]
	if got.Float == nil || *got.Float != 700 {
		t.Fatalf("expected fallback to the site override (700), got %+v", got)
	}
}

func TestParameterSourceCountsTallies(t *testing.T) {
	f := Frame{Rows: []Row{
		{ParameterSource: map[string]string{"parameter_x": "default"}},
		{ParameterSource: map[string]string{"parameter_x": "site_override"}},
		{ParameterSource: map[string]string{"parameter_x": "default"}},
	}}
	counts := ParameterSourceCounts(f)
	if counts["parameter_x"]["default"] != 2 || counts["parameter_x"]["site_override"] != 1 {
		t.Fatalf("unexpected counts: %+v", counts["parameter_x"])
	}
}
