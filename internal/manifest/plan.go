package manifest

import "github.com/sapflux-io/pipeline/internal/metadata"

// patchOp is one resolved Update: an existing row's ID plus the patch to
// apply, as normalized by Preflight (see Patch for what is checked).
type patchOp struct {
	ID    string
	Patch map[string]any
}

// Plan is the fully resolved, dependency-ordered result of Preflight: every
// add carries a generated ID and every parent reference has already been
// resolved to that ID, so Apply only has to call the matching Tx method in
// order.
type Plan struct {
	Projects []metadata.Project
	Sites    []metadata.Site
	Zones    []metadata.Zone
	Plots    []metadata.Plot

	Species []metadata.Species
	Plants  []metadata.Plant
	Stems   []metadata.Stem

	DataloggerTypes   []metadata.DataloggerType
	Dataloggers       []metadata.Datalogger
	DataloggerAliases []metadata.DataloggerAlias

	SensorTypes     []metadata.SensorType
	ThermistorPairs []metadata.SensorThermistorPair

	Deployments        []metadata.Deployment
	ParameterOverrides []metadata.ParameterOverride

	ProjectUpdates         []patchOp
	SiteUpdates            []patchOp
	ZoneUpdates            []patchOp
	PlotUpdates            []patchOp
	PlantUpdates           []patchOp
	StemUpdates            []patchOp
	DataloggerUpdates      []patchOp
	DataloggerAliasUpdates []patchOp
	DeploymentUpdates      []patchOp
}
