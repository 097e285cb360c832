package features

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"marketflow/pkg/errors"
	"marketflow/pkg/models"
)

const (
	CatalogTable = "FEATURE_CATALOG"
	CatalogStep  = "register_feature_catalog"
)

//go:embed catalog.yaml
var catalogYAML []byte

const createCatalogSQL = `CREATE TABLE IF NOT EXISTS FEATURE_CATALOG (
    feature_id NUMBER AUTOINCREMENT START 1 INCREMENT 1,
    feature_name VARCHAR NOT NULL UNIQUE,
    description VARCHAR,
    data_type VARCHAR,
    source_table VARCHAR,
    transformation_summary VARCHAR,
    update_frequency VARCHAR,
    quality_metrics VARCHAR,
    created_at TIMESTAMP_LTZ DEFAULT CURRENT_TIMESTAMP(),
    last_updated_at TIMESTAMP_LTZ
)`

const mergeCatalogSQL = `MERGE INTO FEATURE_CATALOG AS target
USING (
    SELECT ? AS feature_name, ? AS description, ? AS data_type, ? AS source_table,
           ? AS transformation_summary, ? AS update_frequency, ? AS quality_metrics
) AS source
ON target.feature_name = source.feature_name
WHEN MATCHED THEN UPDATE SET
    target.description = source.description,
    target.data_type = source.data_type,
    target.source_table = source.source_table,
    target.transformation_summary = source.transformation_summary,
    target.update_frequency = source.update_frequency,
    target.quality_metrics = source.quality_metrics,
    target.last_updated_at = CURRENT_TIMESTAMP()
WHEN NOT MATCHED THEN INSERT
    (feature_name, description, data_type, source_table, transformation_summary, update_frequency, quality_metrics, created_at, last_updated_at)
VALUES
    (source.feature_name, source.description, source.data_type, source.source_table,
     source.transformation_summary, source.update_frequency, source.quality_metrics, CURRENT_TIMESTAMP(), CURRENT_TIMESTAMP())`

const lookupFeatureIDSQL = `SELECT feature_id FROM FEATURE_CATALOG WHERE feature_name = ?`

// DefaultDefinitions returns the feature definitions shipped with the binary
func DefaultDefinitions() ([]models.FeatureDefinition, error) {
	return ParseDefinitions(catalogYAML)
}

// ParseDefinitions decodes a YAML list of feature definitions. Names must be
// present and unique.
func ParseDefinitions(data []byte) ([]models.FeatureDefinition, error) {
	var defs []models.FeatureDefinition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse feature definitions: %w", err)
	}

	seen := make(map[string]bool, len(defs))
	for i, d := range defs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("feature definition %d has no name", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("feature %s is defined more than once", name)
		}
		seen[name] = true
		defs[i].Name = name
	}
	return defs, nil
}

// RegisterCatalog creates FEATURE_CATALOG if needed and upserts one row per
// definition, keyed by feature name. Existing rows keep their feature_id and
// created_at.
func (e *Engineer) RegisterCatalog(ctx context.Context) error {
	if _, err := e.session.ExecContext(ctx, createCatalogSQL); err != nil {
		return e.fail(ctx, CatalogStep, "Failed to register feature catalog",
			errors.LoadError(errors.ErrCodeFeatureFailed, "Failed to create FEATURE_CATALOG", createCatalogSQL, err))
	}

	for _, d := range e.opts.Definitions {
		_, err := e.session.ExecContext(ctx, mergeCatalogSQL,
			d.Name, d.Description, d.DataType, d.SourceTable,
			d.TransformationSummary, d.UpdateFrequency, d.QualityMetrics)
		if err != nil {
			return e.fail(ctx, CatalogStep, "Failed to register feature catalog",
				errors.LoadError(errors.ErrCodeFeatureFailed,
					fmt.Sprintf("Failed to register feature %s", d.Name), mergeCatalogSQL, err).
					WithContext("feature", d.Name))
		}
		e.log.Debug("registered feature", zap.String("feature", d.Name))
	}

	n := int64(len(e.opts.Definitions))
	e.runLog.Loaded(ctx, CatalogStep, fmt.Sprintf("Registered %d features in %s", n, CatalogTable), n)
	return nil
}
