package manifest

import "github.com/sapflux-io/pipeline/internal/metadata"

// catalog indexes a metadata.StoreSnapshot (plus rows added earlier in the
// same manifest) by natural key, so later blocks can resolve parent
// references by code/name without a round trip per reference.
type catalog struct {
	projectByName      map[string]string
	siteByProjectName  map[[2]string]string
	zoneBySiteName     map[[2]string]string
	plotByZoneName     map[[2]string]string
	speciesByName      map[string]string
	plantByPlotCode    map[[2]string]string
	stemByPlantCode    map[[2]string]string
	dataloggerTypeByModel map[string]string
	dataloggerByCode   map[string]string
	sensorTypeByName   map[string]string
	pairBySensorTypeName map[[2]string]string

	aliasIntervals      map[string][]metadata.DataloggerAlias // by alias string
	deploymentIntervals map[[2]string][]metadata.Deployment    // by (datalogger_id, sdi12)
}

func newCatalog(snap *metadata.StoreSnapshot) *catalog {
	c := &catalog{
		projectByName:         map[string]string{},
		siteByProjectName:     map[[2]string]string{},
		zoneBySiteName:        map[[2]string]string{},
		plotByZoneName:        map[[2]string]string{},
		speciesByName:         map[string]string{},
		plantByPlotCode:       map[[2]string]string{},
		stemByPlantCode:       map[[2]string]string{},
		dataloggerTypeByModel: map[string]string{},
		dataloggerByCode:      map[string]string{},
		sensorTypeByName:      map[string]string{},
		pairBySensorTypeName:  map[[2]string]string{},
		aliasIntervals:        map[string][]metadata.DataloggerAlias{},
		deploymentIntervals:   map[[2]string][]metadata.Deployment{},
	}
	for _, p := range snap.Projects {
		c.projectByName[p.Name] = p.ID
	}
	for _, s := range snap.Sites {
		c.siteByProjectName[[2]string{s.ProjectID, s.Name}] = s.ID
	}
	for _, z := range snap.Zones {
		c.zoneBySiteName[[2]string{z.SiteID, z.Name}] = z.ID
	}
	for _, p := range snap.Plots {
		c.plotByZoneName[[2]string{p.ZoneID, p.Name}] = p.ID
	}
	for _, s := range snap.Species {
		c.speciesByName[s.ScientificName] = s.ID
	}
	for _, p := range snap.Plants {
		c.plantByPlotCode[[2]string{p.PlotID, p.Code}] = p.ID
	}
	for _, s := range snap.Stems {
		c.stemByPlantCode[[2]string{s.PlantID, s.Code}] = s.ID
	}
	for _, d := range snap.DataloggerTypes {
		c.dataloggerTypeByModel[d.Model] = d.ID
	}
	for _, d := range snap.Dataloggers {
		c.dataloggerByCode[d.Code] = d.ID
	}
	for _, s := range snap.SensorTypes {
		c.sensorTypeByName[s.Name] = s.ID
	}
	for _, p := range snap.ThermistorPairs {
		c.pairBySensorTypeName[[2]string{p.SensorTypeID, p.Name}] = p.ID
	}
	for _, a := range snap.DataloggerAliases {
		c.aliasIntervals[a.Alias] = append(c.aliasIntervals[a.Alias], a)
	}
	for _, d := range snap.Deployments {
		key := [2]string{d.DataloggerID, d.SDI12Address}
		c.deploymentIntervals[key] = append(c.deploymentIntervals[key], d)
	}
	return c
}
