package manifest

import (
	"context"
	"fmt"

	"github.com/sapflux-io/pipeline/internal/metadata"
)

// Apply executes a Plan produced by Preflight against an open metadata.Tx,
// in the same dependency order preflight validated against. The caller owns
// the transaction: on the first error here, it must roll back rather than
// attempt partial recovery.
func Apply(ctx context.Context, tx metadata.Tx, plan *Plan) error {
	for i := range plan.Projects {
		row := &plan.Projects[i]
		if err := tx.InsertProject(ctx, row); err != nil {
			return fmt.Errorf("apply project %q: %w", row.Name, err)
		}
	}
	for i := range plan.Sites {
		row := &plan.Sites[i]
		if err := tx.InsertSite(ctx, row); err != nil {
			return fmt.Errorf("apply site %q: %w", row.Name, err)
		}
	}
	for i := range plan.Zones {
		row := &plan.Zones[i]
		if err := tx.InsertZone(ctx, row); err != nil {
			return fmt.Errorf("apply zone %q: %w", row.Name, err)
		}
	}
	for i := range plan.Plots {
		row := &plan.Plots[i]
		if err := tx.InsertPlot(ctx, row); err != nil {
			return fmt.Errorf("apply plot %q: %w", row.Name, err)
		}
	}

	for i := range plan.Species {
		row := &plan.Species[i]
		if err := tx.InsertSpecies(ctx, row); err != nil {
			return fmt.Errorf("apply species %q: %w", row.ScientificName, err)
		}
	}
	for i := range plan.Plants {
		row := &plan.Plants[i]
		if err := tx.InsertPlant(ctx, row); err != nil {
			return fmt.Errorf("apply plant %q: %w", row.Code, err)
		}
	}
	for i := range plan.Stems {
		row := &plan.Stems[i]
		if err := tx.InsertStem(ctx, row); err != nil {
			return fmt.Errorf("apply stem %q: %w", row.Code, err)
		}
	}

	for i := range plan.DataloggerTypes {
		row := &plan.DataloggerTypes[i]
		if err := tx.InsertDataloggerType(ctx, row); err != nil {
			return fmt.Errorf("apply datalogger type %q: %w", row.Model, err)
		}
	}
	for i := range plan.Dataloggers {
		row := &plan.Dataloggers[i]
		if err := tx.InsertDatalogger(ctx, row); err != nil {
			return fmt.Errorf("apply datalogger %q: %w", row.Code, err)
		}
	}
	for i := range plan.DataloggerAliases {
		row := &plan.DataloggerAliases[i]
		if err := tx.InsertDataloggerAlias(ctx, row); err != nil {
			return fmt.Errorf("apply datalogger alias %q: %w", row.Alias, err)
		}
	}

	for i := range plan.SensorTypes {
		row := &plan.SensorTypes[i]
		if err := tx.InsertSensorType(ctx, row); err != nil {
			return fmt.Errorf("apply sensor type %q: %w", row.Name, err)
		}
	}
	for i := range plan.ThermistorPairs {
		row := &plan.ThermistorPairs[i]
		if err := tx.InsertSensorThermistorPair(ctx, row); err != nil {
			return fmt.Errorf("apply thermistor pair %q: %w", row.Name, err)
		}
	}

	for i := range plan.Deployments {
		row := &plan.Deployments[i]
		if err := tx.InsertDeployment(ctx, row); err != nil {
			return fmt.Errorf("apply deployment (stem=%s): %w", row.StemID, err)
		}
	}
	for i := range plan.ParameterOverrides {
		row := &plan.ParameterOverrides[i]
		if err := tx.InsertParameterOverride(ctx, row); err != nil {
			return fmt.Errorf("apply parameter override %q: %w", row.ParameterCode, err)
		}
	}

	if err := applyUpdates(ctx, tx.UpdateProject, plan.ProjectUpdates); err != nil {
		return err
	}
	if err := applyUpdates(ctx, tx.UpdateSite, plan.SiteUpdates); err != nil {
		return err
	}
	if err := applyUpdates(ctx, tx.UpdateZone, plan.ZoneUpdates); err != nil {
		return err
	}
	if err := applyUpdates(ctx, tx.UpdatePlot, plan.PlotUpdates); err != nil {
		return err
	}
	if err := applyUpdates(ctx, tx.UpdatePlant, plan.PlantUpdates); err != nil {
		return err
	}
	if err := applyUpdates(ctx, tx.UpdateStem, plan.StemUpdates); err != nil {
		return err
	}
	if err := applyUpdates(ctx, tx.UpdateDatalogger, plan.DataloggerUpdates); err != nil {
		return err
	}
	if err := applyUpdates(ctx, tx.UpdateDataloggerAlias, plan.DataloggerAliasUpdates); err != nil {
		return err
	}
	if err := applyUpdates(ctx, tx.UpdateDeployment, plan.DeploymentUpdates); err != nil {
		return err
	}

	return nil
}

func applyUpdates(ctx context.Context, update func(context.Context, string, map[string]any) error, ops []patchOp) error {
	for _, op := range ops {
		if err := update(ctx, op.ID, op.Patch); err != nil {
			return fmt.Errorf("apply update %s: %w", op.ID, err)
		}
	}
	return nil
}
