package manifest

import (
	"fmt"
)

// lookupByTwoPartName resolves a bare name against a map keyed by
// [parentID, name], returning the ID only when exactly one parent's child
// carries that name. A name duplicated under two different parents is
// rejected as ambiguous rather than guessed at.
func lookupByTwoPartName(index map[[2]string]string, name string) (string, bool) {
	var found string
	count := 0
	for k, id := range index {
		if k[1] == name {
			found = id
			count++
		}
	}
	if count != 1 {
		return "", false
	}
	return found, true
}

// lookupByTwoPartCode is the code-keyed twin of lookupByTwoPartName, used
// for plant/stem references that manifests address by code alone.
func lookupByTwoPartCode(index map[[2]string]string, code string) (string, bool) {
	return lookupByTwoPartName(index, code)
}

// flatten collapses a two-part index down to its second component, for use
// as a selector index by entities whose Update selector addresses rows by
// name/code alone. A name that recurs under more than one parent keeps
// every candidate ID, so selector resolution can reject it as ambiguous
// rather than silently picking one.
func flatten(index map[[2]string]string) map[string][]string {
	out := make(map[string][]string, len(index))
	for k, id := range index {
		out[k[1]] = append(out[k[1]], id)
	}
	return out
}

// uniqueIndex adapts a naturally-unique code index (datalogger codes) to
// the candidate-list shape flatten produces.
func uniqueIndex(index map[string]string) map[string][]string {
	out := make(map[string][]string, len(index))
	for k, id := range index {
		out[k] = []string{id}
	}
	return out
}

func (p *preflighter) zoneIndex() map[string][]string  { return flatten(p.cat.zoneBySiteName) }
func (p *preflighter) plotIndex() map[string][]string  { return flatten(p.cat.plotByZoneName) }
func (p *preflighter) plantIndex() map[string][]string { return flatten(p.cat.plantByPlotCode) }
func (p *preflighter) stemIndex() map[string][]string  { return flatten(p.cat.stemByPlantCode) }

func snapshotSiteKeys(cat *catalog) map[string][]string { return flatten(cat.siteByProjectName) }

// resolveSelectorGeneric resolves a Selector with a single "name" (or
// "code") key against a flat name/code index, failing if the selector is
// missing the key or the key doesn't resolve to exactly one row.
func (p *preflighter) resolveSelectorGeneric(path string, sel Selector, index map[string][]string) string {
	key := sel["name"]
	if key == "" {
		key = sel["code"]
	}
	if key == "" {
		fail(&p.errs, path+".selector", "selector must include a name or code")
		return ""
	}
	ids := index[key]
	switch len(ids) {
	case 0:
		fail(&p.errs, path+".selector", fmt.Sprintf("no row matches selector %v", sel))
		return ""
	case 1:
		return ids[0]
	default:
		fail(&p.errs, path+".selector", fmt.Sprintf("selector matched %d rows, want exactly 1", len(ids)))
		return ""
	}
}

// resolveSelector is the sites.update variant: the flat index is keyed by
// site name alone (collapsing across projects), matching resolveSelectorGeneric.
func (p *preflighter) resolveSelector(path string, sel Selector, index map[string][]string) string {
	return p.resolveSelectorGeneric(path, sel, index)
}

// resolveAliasSelector resolves a datalogger_aliases.update selector by
// alias string plus start_utc, since an alias string alone may have many
// historical intervals.
func (p *preflighter) resolveAliasSelector(path string, sel Selector) string {
	alias := sel["alias"]
	startUTC := sel["start_utc"]
	if alias == "" || startUTC == "" {
		fail(&p.errs, path+".selector", "selector must include alias and start_utc")
		return ""
	}
	start, err := parseRFC3339(startUTC)
	if err != nil {
		fail(&p.errs, path+".selector.start_utc", err.Error())
		return ""
	}
	var match string
	count := 0
	for _, a := range p.cat.aliasIntervals[alias] {
		if a.Interval.Start.Equal(start) {
			match = a.ID
			count++
		}
	}
	if count != 1 {
		fail(&p.errs, path+".selector", fmt.Sprintf("selector matched %d rows, want exactly 1", count))
		return ""
	}
	return match
}

// resolveDeploymentSelector resolves a deployments.update selector by
// datalogger code, sdi12_address, and start_utc.
func (p *preflighter) resolveDeploymentSelector(path string, sel Selector) string {
	dataloggerCode := sel["datalogger"]
	sdi12 := sel["sdi12_address"]
	startUTC := sel["start_utc"]
	if dataloggerCode == "" || sdi12 == "" || startUTC == "" {
		fail(&p.errs, path+".selector", "selector must include datalogger, sdi12_address, and start_utc")
		return ""
	}
	dataloggerID, ok := p.cat.dataloggerByCode[dataloggerCode]
	if !ok {
		fail(&p.errs, path+".selector.datalogger", fmt.Sprintf("unknown datalogger %q", dataloggerCode))
		return ""
	}
	start, err := parseRFC3339(startUTC)
	if err != nil {
		fail(&p.errs, path+".selector.start_utc", err.Error())
		return ""
	}
	var match string
	count := 0
	for _, d := range p.cat.deploymentIntervals[[2]string{dataloggerID, sdi12}] {
		if d.Interval.Start.Equal(start) {
			match = d.ID
			count++
		}
	}
	if count != 1 {
		fail(&p.errs, path+".selector", fmt.Sprintf("selector matched %d rows, want exactly 1", count))
		return ""
	}
	return match
}

// orNullJSON returns "null" for an empty GeoJSON string so it round-trips
// through json.RawMessage as SQL NULL rather than an empty byte slice.
func orNullJSON(raw string) string {
	if raw == "" {
		return "null"
	}
	return raw
}
