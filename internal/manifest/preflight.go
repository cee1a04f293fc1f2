package manifest

import (
	"fmt"
	"strings"

	paramcatalog "github.com/sapflux-io/pipeline/internal/catalog"

	"github.com/sapflux-io/pipeline/internal/idgen"
	"github.com/sapflux-io/pipeline/internal/metadata"
)

// preflighter accumulates validation errors across the whole manifest
// instead of failing fast, so an operator
// should see every problem a submission has, not just the first.
type preflighter struct {
	cat   *catalog
	newID idgen.Generator
	errs  []ValidationError
	plan  Plan
}

func fail(errs *[]ValidationError, path, msg string) {
	*errs = append(*errs, ValidationError{Kind: "ManifestValidation", Path: path, Message: msg})
}

// patchColumnAliases maps manifest-facing patch keys to their storage
// column names, so operators can write the field names the manifest's add
// blocks use without knowing the schema's exact spelling.
var patchColumnAliases = map[string]string{
	"start_timestamp_utc": "start_utc",
	"end_timestamp_utc":   "end_utc",
	"boundary":            "boundary_gj",
	"diameter":            "diameter_mm",
}

// patchableColumns is the per-entity allowlist of updatable columns. A
// patch naming any other key rejects at preflight, which also keeps the
// identifier interpolation in the storage layer's UPDATE builder confined
// to this fixed set.
var patchableColumns = map[string]map[string]bool{
	"projects":           {"name": true},
	"sites":              {"name": true, "timezone": true, "boundary_gj": true},
	"zones":              {"name": true, "boundary_gj": true},
	"plots":              {"name": true, "boundary_gj": true},
	"plants":             {"code": true},
	"stems":              {"code": true, "diameter_mm": true},
	"dataloggers":        {"code": true},
	"datalogger_aliases": {"alias": true, "start_utc": true, "end_utc": true},
	"deployments":        {"notes": true, "include_in_pipeline": true, "start_utc": true, "end_utc": true, "installation_metadata": true},
}

// normalizePatch resolves key aliases, rejects non-updatable columns, and
// parses *_utc string values into time.Time so the storage layer receives
// typed timestamps rather than raw text.
func (p *preflighter) normalizePatch(path, entity string, patch Patch) map[string]any {
	allowed := patchableColumns[entity]
	out := make(map[string]any, len(patch))
	for k, v := range patch {
		col := k
		if a, ok := patchColumnAliases[k]; ok {
			col = a
		}
		if !allowed[col] {
			fail(&p.errs, path+".patch."+k, fmt.Sprintf("column %q is not updatable on %s", k, entity))
			continue
		}
		if strings.HasSuffix(col, "_utc") {
			s, ok := v.(string)
			if !ok {
				fail(&p.errs, path+".patch."+k, "timestamp patch value must be an RFC3339 string")
				continue
			}
			t, err := parseRFC3339(s)
			if err != nil {
				fail(&p.errs, path+".patch."+k, err.Error())
				continue
			}
			out[col] = t
			continue
		}
		out[col] = v
	}
	return out
}

// Preflight validates m against snap in dependency order and returns a fully
// resolved Plan. A non-nil, non-empty error slice means the plan must be
// discarded; Apply must never run against a plan built from a failed
// preflight.
func Preflight(snap *metadata.StoreSnapshot, m *Manifest, newID idgen.Generator) (*Plan, []ValidationError) {
	p := &preflighter{cat: newCatalog(snap), newID: newID}

	p.projects(m)
	p.sites(m)
	p.zones(m)
	p.plots(m)

	p.species(m)
	p.plants(m)
	p.stems(m)

	p.dataloggerTypes(m)
	p.dataloggers(m)
	p.dataloggerAliases(m)

	p.sensorTypes(m)
	p.thermistorPairs(m)

	p.deployments(m)
	p.parameterOverrides(m)

	if len(p.errs) > 0 {
		return nil, p.errs
	}
	return &p.plan, nil
}

func (p *preflighter) projects(m *Manifest) {
	seen := map[string]bool{}
	for i, a := range m.Projects.Add {
		path := fmt.Sprintf("projects.add[%d]", i)
		if a.Name == "" {
			fail(&p.errs, path+".name", "name is required")
			continue
		}
		if _, exists := p.cat.projectByName[a.Name]; exists || seen[a.Name] {
			fail(&p.errs, path+".name", fmt.Sprintf("project %q already exists", a.Name))
			continue
		}
		seen[a.Name] = true
		id := p.newID()
		p.cat.projectByName[a.Name] = id
		p.plan.Projects = append(p.plan.Projects, metadata.Project{ID: id, Name: a.Name})
	}
}

func (p *preflighter) sites(m *Manifest) {
	seen := map[[2]string]bool{}
	for i, a := range m.Sites.Add {
		path := fmt.Sprintf("sites.add[%d]", i)
		projectID, ok := p.cat.projectByName[a.Project]
		if !ok {
			fail(&p.errs, path+".project", fmt.Sprintf("unknown project %q", a.Project))
			continue
		}
		if err := validateTimezone(a.Timezone); err != nil {
			fail(&p.errs, path+".timezone", err.Error())
			continue
		}
		if err := validateGeoJSON(a.Boundary); err != nil {
			fail(&p.errs, path+".boundary", err.Error())
			continue
		}
		key := [2]string{projectID, a.Name}
		if _, exists := p.cat.siteByProjectName[key]; exists || seen[key] {
			fail(&p.errs, path+".name", fmt.Sprintf("site %q already exists in this project", a.Name))
			continue
		}
		seen[key] = true
		id := p.newID()
		p.cat.siteByProjectName[key] = id
		p.plan.Sites = append(p.plan.Sites, metadata.Site{
			ID: id, ProjectID: projectID, Name: a.Name, Timezone: a.Timezone,
			BoundaryGJ: []byte(orNullJSON(a.Boundary)),
		})
	}
	for i, u := range m.Sites.Update {
		path := fmt.Sprintf("sites.update[%d]", i)
		id := p.resolveSelector(path, u.Selector, snapshotSiteKeys(p.cat))
		if id == "" {
			continue
		}
		if tz, ok := u.Patch["timezone"].(string); ok {
			if err := validateTimezone(tz); err != nil {
				fail(&p.errs, path+".patch.timezone", err.Error())
				continue
			}
		}
		p.plan.SiteUpdates = append(p.plan.SiteUpdates, patchOp{ID: id, Patch: p.normalizePatch(path, "sites", u.Patch)})
	}
}

func (p *preflighter) zones(m *Manifest) {
	seen := map[[2]string]bool{}
	for i, a := range m.Zones.Add {
		path := fmt.Sprintf("zones.add[%d]", i)
		siteID, ok := lookupByTwoPartName(p.cat.siteByProjectName, a.Site)
		if !ok {
			fail(&p.errs, path+".site", fmt.Sprintf("unknown site %q", a.Site))
			continue
		}
		if err := validateGeoJSON(a.Boundary); err != nil {
			fail(&p.errs, path+".boundary", err.Error())
			continue
		}
		key := [2]string{siteID, a.Name}
		if _, exists := p.cat.zoneBySiteName[key]; exists || seen[key] {
			fail(&p.errs, path+".name", fmt.Sprintf("zone %q already exists in this site", a.Name))
			continue
		}
		seen[key] = true
		id := p.newID()
		p.cat.zoneBySiteName[key] = id
		p.plan.Zones = append(p.plan.Zones, metadata.Zone{ID: id, SiteID: siteID, Name: a.Name, BoundaryGJ: []byte(orNullJSON(a.Boundary))})
	}
	for i, u := range m.Zones.Update {
		path := fmt.Sprintf("zones.update[%d]", i)
		id := p.resolveSelectorGeneric(path, u.Selector, p.zoneIndex())
		if id == "" {
			continue
		}
		p.plan.ZoneUpdates = append(p.plan.ZoneUpdates, patchOp{ID: id, Patch: p.normalizePatch(path, "zones", u.Patch)})
	}
}

func (p *preflighter) plots(m *Manifest) {
	seen := map[[2]string]bool{}
	for i, a := range m.Plots.Add {
		path := fmt.Sprintf("plots.add[%d]", i)
		zoneID, ok := lookupByTwoPartName(p.cat.zoneBySiteName, a.Zone)
		if !ok {
			fail(&p.errs, path+".zone", fmt.Sprintf("unknown zone %q", a.Zone))
			continue
		}
		if err := validateGeoJSON(a.Boundary); err != nil {
			fail(&p.errs, path+".boundary", err.Error())
			continue
		}
		key := [2]string{zoneID, a.Name}
		if _, exists := p.cat.plotByZoneName[key]; exists || seen[key] {
			fail(&p.errs, path+".name", fmt.Sprintf("plot %q already exists in this zone", a.Name))
			continue
		}
		seen[key] = true
		id := p.newID()
		p.cat.plotByZoneName[key] = id
		p.plan.Plots = append(p.plan.Plots, metadata.Plot{ID: id, ZoneID: zoneID, Name: a.Name, BoundaryGJ: []byte(orNullJSON(a.Boundary))})
	}
	for i, u := range m.Plots.Update {
		path := fmt.Sprintf("plots.update[%d]", i)
		id := p.resolveSelectorGeneric(path, u.Selector, p.plotIndex())
		if id == "" {
			continue
		}
		p.plan.PlotUpdates = append(p.plan.PlotUpdates, patchOp{ID: id, Patch: p.normalizePatch(path, "plots", u.Patch)})
	}
}

func (p *preflighter) species(m *Manifest) {
	seen := map[string]bool{}
	for i, a := range m.Species.Add {
		path := fmt.Sprintf("species.add[%d]", i)
		if a.ScientificName == "" {
			fail(&p.errs, path+".scientific_name", "scientific_name is required")
			continue
		}
		if _, exists := p.cat.speciesByName[a.ScientificName]; exists || seen[a.ScientificName] {
			fail(&p.errs, path+".scientific_name", fmt.Sprintf("species %q already exists", a.ScientificName))
			continue
		}
		seen[a.ScientificName] = true
		id := p.newID()
		p.cat.speciesByName[a.ScientificName] = id
		p.plan.Species = append(p.plan.Species, metadata.Species{ID: id, ScientificName: a.ScientificName, CommonName: a.CommonName})
	}
}

func (p *preflighter) plants(m *Manifest) {
	seen := map[[2]string]bool{}
	for i, a := range m.Plants.Add {
		path := fmt.Sprintf("plants.add[%d]", i)
		plotID, ok := lookupByTwoPartName(p.cat.plotByZoneName, a.Plot)
		if !ok {
			fail(&p.errs, path+".plot", fmt.Sprintf("unknown plot %q", a.Plot))
			continue
		}
		speciesID, ok := p.cat.speciesByName[a.Species]
		if !ok {
			fail(&p.errs, path+".species", fmt.Sprintf("unknown species %q", a.Species))
			continue
		}
		key := [2]string{plotID, a.Code}
		if _, exists := p.cat.plantByPlotCode[key]; exists || seen[key] {
			fail(&p.errs, path+".code", fmt.Sprintf("plant %q already exists in this plot", a.Code))
			continue
		}
		seen[key] = true
		id := p.newID()
		p.cat.plantByPlotCode[key] = id
		p.plan.Plants = append(p.plan.Plants, metadata.Plant{ID: id, PlotID: plotID, SpeciesID: speciesID, Code: a.Code})
	}
	for i, u := range m.Plants.Update {
		path := fmt.Sprintf("plants.update[%d]", i)
		id := p.resolveSelectorGeneric(path, u.Selector, p.plantIndex())
		if id == "" {
			continue
		}
		p.plan.PlantUpdates = append(p.plan.PlantUpdates, patchOp{ID: id, Patch: p.normalizePatch(path, "plants", u.Patch)})
	}
}

func (p *preflighter) stems(m *Manifest) {
	seen := map[[2]string]bool{}
	for i, a := range m.Stems.Add {
		path := fmt.Sprintf("stems.add[%d]", i)
		plantID, ok := lookupByTwoPartCode(p.cat.plantByPlotCode, a.Plant)
		if !ok {
			fail(&p.errs, path+".plant", fmt.Sprintf("unknown plant %q", a.Plant))
			continue
		}
		key := [2]string{plantID, a.Code}
		if _, exists := p.cat.stemByPlantCode[key]; exists || seen[key] {
			fail(&p.errs, path+".code", fmt.Sprintf("stem %q already exists on this plant", a.Code))
			continue
		}
		seen[key] = true
		id := p.newID()
		p.cat.stemByPlantCode[key] = id
		p.plan.Stems = append(p.plan.Stems, metadata.Stem{ID: id, PlantID: plantID, Code: a.Code, Diameter: a.DiameterMM})
	}
	for i, u := range m.Stems.Update {
		path := fmt.Sprintf("stems.update[%d]", i)
		id := p.resolveSelectorGeneric(path, u.Selector, p.stemIndex())
		if id == "" {
			continue
		}
		p.plan.StemUpdates = append(p.plan.StemUpdates, patchOp{ID: id, Patch: p.normalizePatch(path, "stems", u.Patch)})
	}
}

func (p *preflighter) dataloggerTypes(m *Manifest) {
	seen := map[string]bool{}
	for i, a := range m.DataloggerTypes.Add {
		path := fmt.Sprintf("datalogger_types.add[%d]", i)
		if _, exists := p.cat.dataloggerTypeByModel[a.Model]; exists || seen[a.Model] {
			fail(&p.errs, path+".model", fmt.Sprintf("datalogger type %q already exists", a.Model))
			continue
		}
		seen[a.Model] = true
		id := p.newID()
		p.cat.dataloggerTypeByModel[a.Model] = id
		p.plan.DataloggerTypes = append(p.plan.DataloggerTypes, metadata.DataloggerType{ID: id, Model: a.Model})
	}
}

func (p *preflighter) dataloggers(m *Manifest) {
	seen := map[string]bool{}
	for i, a := range m.Dataloggers.Add {
		path := fmt.Sprintf("dataloggers.add[%d]", i)
		typeID, ok := p.cat.dataloggerTypeByModel[a.DataloggerType]
		if !ok {
			fail(&p.errs, path+".datalogger_type", fmt.Sprintf("unknown datalogger type %q", a.DataloggerType))
			continue
		}
		if _, exists := p.cat.dataloggerByCode[a.Code]; exists || seen[a.Code] {
			fail(&p.errs, path+".code", fmt.Sprintf("datalogger %q already exists", a.Code))
			continue
		}
		seen[a.Code] = true
		id := p.newID()
		p.cat.dataloggerByCode[a.Code] = id
		p.plan.Dataloggers = append(p.plan.Dataloggers, metadata.Datalogger{ID: id, DataloggerTypeID: typeID, Code: a.Code})
	}
	for i, u := range m.Dataloggers.Update {
		path := fmt.Sprintf("dataloggers.update[%d]", i)
		id := p.resolveSelectorGeneric(path, u.Selector, uniqueIndex(p.cat.dataloggerByCode))
		if id == "" {
			continue
		}
		p.plan.DataloggerUpdates = append(p.plan.DataloggerUpdates, patchOp{ID: id, Patch: p.normalizePatch(path, "dataloggers", u.Patch)})
	}
}

func (p *preflighter) dataloggerAliases(m *Manifest) {
	for i, a := range m.DataloggerAliases.Add {
		path := fmt.Sprintf("datalogger_aliases.add[%d]", i)
		dataloggerID, ok := p.cat.dataloggerByCode[a.Datalogger]
		if !ok {
			fail(&p.errs, path+".datalogger", fmt.Sprintf("unknown datalogger %q", a.Datalogger))
			continue
		}
		start, err := parseRFC3339(a.StartUTC)
		if err != nil {
			fail(&p.errs, path+".start_utc", err.Error())
			continue
		}
		end, err := parseOptionalRFC3339(a.EndUTC)
		if err != nil {
			fail(&p.errs, path+".end_utc", err.Error())
			continue
		}
		iv := metadata.Interval{Start: start, End: end}
		existing := p.cat.aliasIntervals[a.Alias]
		conflict := false
		for _, other := range existing {
			if iv.Overlaps(other.Interval) || iv.Adjacent(other.Interval) {
				fail(&p.errs, path, fmt.Sprintf("interval for alias %q overlaps or is adjacent to an existing interval", a.Alias))
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		id := p.newID()
		alias := metadata.DataloggerAlias{ID: id, Alias: a.Alias, DataloggerID: dataloggerID, Interval: iv}
		p.cat.aliasIntervals[a.Alias] = append(p.cat.aliasIntervals[a.Alias], alias)
		p.plan.DataloggerAliases = append(p.plan.DataloggerAliases, alias)
	}
	for i, u := range m.DataloggerAliases.Update {
		path := fmt.Sprintf("datalogger_aliases.update[%d]", i)
		id := p.resolveAliasSelector(path, u.Selector)
		if id == "" {
			continue
		}
		p.plan.DataloggerAliasUpdates = append(p.plan.DataloggerAliasUpdates, patchOp{ID: id, Patch: p.normalizePatch(path, "datalogger_aliases", u.Patch)})
	}
}

func (p *preflighter) sensorTypes(m *Manifest) {
	seen := map[string]bool{}
	for i, a := range m.SensorTypes.Add {
		path := fmt.Sprintf("sensor_types.add[%d]", i)
		if _, exists := p.cat.sensorTypeByName[a.Name]; exists || seen[a.Name] {
			fail(&p.errs, path+".name", fmt.Sprintf("sensor type %q already exists", a.Name))
			continue
		}
		seen[a.Name] = true
		id := p.newID()
		p.cat.sensorTypeByName[a.Name] = id
		p.plan.SensorTypes = append(p.plan.SensorTypes, metadata.SensorType{ID: id, Name: a.Name})
	}
}

func (p *preflighter) thermistorPairs(m *Manifest) {
	seen := map[[2]string]bool{}
	for i, a := range m.SensorThermistorPairs.Add {
		path := fmt.Sprintf("sensor_thermistor_pairs.add[%d]", i)
		sensorTypeID, ok := p.cat.sensorTypeByName[a.SensorType]
		if !ok {
			fail(&p.errs, path+".sensor_type", fmt.Sprintf("unknown sensor type %q", a.SensorType))
			continue
		}
		key := [2]string{sensorTypeID, a.Name}
		if _, exists := p.cat.pairBySensorTypeName[key]; exists || seen[key] {
			fail(&p.errs, path+".name", fmt.Sprintf("thermistor pair %q already exists for this sensor type", a.Name))
			continue
		}
		seen[key] = true
		id := p.newID()
		p.cat.pairBySensorTypeName[key] = id
		p.plan.ThermistorPairs = append(p.plan.ThermistorPairs, metadata.SensorThermistorPair{
			ID: id, SensorTypeID: sensorTypeID, Name: a.Name, DepthMM: a.DepthMM,
		})
	}
}

func (p *preflighter) deployments(m *Manifest) {
	for i, a := range m.Deployments.Add {
		path := fmt.Sprintf("deployments.add[%d]", i)
		stemID, ok := lookupByTwoPartCode(p.cat.stemByPlantCode, a.Stem)
		if !ok {
			fail(&p.errs, path+".stem", fmt.Sprintf("unknown stem %q", a.Stem))
			continue
		}
		dataloggerID, ok := p.cat.dataloggerByCode[a.Datalogger]
		if !ok {
			fail(&p.errs, path+".datalogger", fmt.Sprintf("unknown datalogger %q", a.Datalogger))
			continue
		}
		sensorTypeID, ok := p.cat.sensorTypeByName[a.SensorType]
		if !ok {
			fail(&p.errs, path+".sensor_type", fmt.Sprintf("unknown sensor type %q", a.SensorType))
			continue
		}
		if err := validateSDI12(a.SDI12Address); err != nil {
			fail(&p.errs, path+".sdi12_address", err.Error())
			continue
		}
		start, err := parseRFC3339(a.StartUTC)
		if err != nil {
			fail(&p.errs, path+".start_utc", err.Error())
			continue
		}
		end, err := parseOptionalRFC3339(a.EndUTC)
		if err != nil {
			fail(&p.errs, path+".end_utc", err.Error())
			continue
		}
		iv := metadata.Interval{Start: start, End: end}
		key := [2]string{dataloggerID, a.SDI12Address}
		existing := p.cat.deploymentIntervals[key]
		conflict := false
		for _, other := range existing {
			if iv.Overlaps(other.Interval) {
				fail(&p.errs, path, "interval overlaps an existing deployment on the same datalogger and sdi12 address")
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		id := p.newID()
		dep := metadata.Deployment{
			ID: id, StemID: stemID, DataloggerID: dataloggerID, SensorTypeID: sensorTypeID,
			SDI12Address: a.SDI12Address, Interval: iv, Notes: a.Notes,
			InstallationMetadata: a.InstallationMetadata, IncludeInPipeline: true,
		}
		p.cat.deploymentIntervals[key] = append(p.cat.deploymentIntervals[key], dep)
		p.plan.Deployments = append(p.plan.Deployments, dep)
	}
	for i, u := range m.Deployments.Update {
		path := fmt.Sprintf("deployments.update[%d]", i)
		id := p.resolveDeploymentSelector(path, u.Selector)
		if id == "" {
			continue
		}
		p.plan.DeploymentUpdates = append(p.plan.DeploymentUpdates, patchOp{ID: id, Patch: p.normalizePatch(path, "deployments", u.Patch)})
	}
}

func (p *preflighter) parameterOverrides(m *Manifest) {
	for i, a := range m.ParameterOverrides {
		path := fmt.Sprintf("parameter_overrides[%d]", i)
		def, known := paramcatalog.Lookup(a.ParameterCode)
		if !known {
			fail(&p.errs, path+".parameter_code", fmt.Sprintf("unknown parameter code %q", a.ParameterCode))
			continue
		}
		scope := metadata.ParameterScope(a.Scope)
		valid := false
		for _, s := range metadata.ScopePrecedence {
			if s == scope {
				valid = true
				break
			}
		}
		if !valid {
			fail(&p.errs, path+".scope", fmt.Sprintf("unrecognized scope %q", a.Scope))
			continue
		}
		scopeEntityID := ""
		if scope != metadata.ScopeGlobal {
			id, ok := p.resolveScopeRef(scope, a.ScopeRef)
			if !ok {
				msg := fmt.Sprintf("unknown %s %q", scope, a.ScopeRef)
				if scope == metadata.ScopeDeployment {
					msg += ` (expected "<datalogger>/<sdi12_address>/<start_utc>")`
				}
				fail(&p.errs, path+".scope_ref", msg)
				continue
			}
			scopeEntityID = id
		}
		valueCount := 0
		if a.ValueFloat != nil {
			valueCount++
		}
		if a.ValueInt != nil {
			valueCount++
		}
		if a.ValueString != nil {
			valueCount++
		}
		if valueCount != 1 {
			fail(&p.errs, path, "exactly one of value_float, value_int, value_string must be set")
			continue
		}
		kindOK := (def.Kind == metadata.KindFloat && a.ValueFloat != nil) ||
			(def.Kind == metadata.KindInt && a.ValueInt != nil) ||
			(def.Kind == metadata.KindString && a.ValueString != nil)
		if !kindOK {
			fail(&p.errs, path, fmt.Sprintf("parameter %q is declared %s in the catalogue; the matching value field must be set", a.ParameterCode, def.Kind))
			continue
		}
		id := p.newID()
		p.plan.ParameterOverrides = append(p.plan.ParameterOverrides, metadata.ParameterOverride{
			ID: id, ParameterCode: a.ParameterCode, Scope: scope, ScopeEntityID: scopeEntityID,
			ValueFloat: a.ValueFloat, ValueInt: a.ValueInt, ValueString: a.ValueString,
		})
	}
}

func (p *preflighter) resolveScopeRef(scope metadata.ParameterScope, ref string) (string, bool) {
	switch scope {
	case metadata.ScopeSite:
		id, ok := lookupByTwoPartName(p.cat.siteByProjectName, ref)
		return id, ok
	case metadata.ScopeSpecies:
		id, ok := p.cat.speciesByName[ref]
		return id, ok
	case metadata.ScopeZone:
		id, ok := lookupByTwoPartName(p.cat.zoneBySiteName, ref)
		return id, ok
	case metadata.ScopePlot:
		id, ok := lookupByTwoPartName(p.cat.plotByZoneName, ref)
		return id, ok
	case metadata.ScopePlant:
		id, ok := lookupByTwoPartCode(p.cat.plantByPlotCode, ref)
		return id, ok
	case metadata.ScopeStem:
		id, ok := lookupByTwoPartCode(p.cat.stemByPlantCode, ref)
		return id, ok
	case metadata.ScopeDeployment:
		return p.resolveDeploymentRef(ref)
	default:
		return "", false
	}
}

// resolveDeploymentRef resolves a deployment scope_ref of the form
// "<datalogger>/<sdi12_address>/<start_utc>" — the same natural key
// deployments.update selectors use — against both pre-existing deployments
// and ones added earlier in this manifest. Deployment IDs are generated
// during preflight, so a manifest author can never reference one directly.
func (p *preflighter) resolveDeploymentRef(ref string) (string, bool) {
	parts := strings.SplitN(ref, "/", 3)
	if len(parts) != 3 {
		return "", false
	}
	dataloggerID, ok := p.cat.dataloggerByCode[parts[0]]
	if !ok {
		return "", false
	}
	start, err := parseRFC3339(parts[2])
	if err != nil {
		return "", false
	}
	var match string
	count := 0
	for _, d := range p.cat.deploymentIntervals[[2]string{dataloggerID, parts[1]}] {
		if d.Interval.Start.Equal(start) {
			match = d.ID
			count++
		}
	}
	if count != 1 {
		return "", false
	}
	return match, true
}
