package pipeline

import (
	"fmt"
	"strings"

	"github.com/maxkimambo/bqflow/internal/gcp"
)

// NormalizeTarget lower-cases target and turns spaces into underscores.
// Anything else outside [a-z0-9_-] also becomes an underscore.
func NormalizeTarget(target string) string {
	target = strings.ToLower(strings.TrimSpace(target))
	return strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '_'
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, target)
}

// TransformRef is the per-target table filtered out of the staging table
func (c Config) TransformRef(target string) gcp.TableRef {
	return gcp.TableRef{Project: c.Project, Dataset: c.TransformDataset, Table: NormalizeTarget(target) + "_data"}
}

// ViewRef is the per-target reporting view
func (c Config) ViewRef(target string) gcp.TableRef {
	return gcp.TableRef{Project: c.Project, Dataset: c.ReportingDataset, Table: NormalizeTarget(target) + "_view"}
}

// TransformSQL rebuilds the target's table from the staging table
func TransformSQL(c Config, target string) string {
	return fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s AS\nSELECT * FROM %s\nWHERE LOWER(country) = '%s'",
		quoteTable(c.TransformRef(target)),
		quoteTable(c.StagingRef()),
		escapeString(strings.ToLower(strings.TrimSpace(target))),
	)
}

var viewColumns = []string{"Country", "Year", "`Disease Name`", "`Disease Category`", "`Prevalence Rate`"}

// ViewSQL exposes the reporting columns of the target's table
func ViewSQL(c Config, target string) string {
	return fmt.Sprintf(
		"CREATE OR REPLACE VIEW %s AS\nSELECT\n  %s\nFROM %s",
		quoteTable(c.ViewRef(target)),
		strings.Join(viewColumns, ",\n  "),
		quoteTable(c.TransformRef(target)),
	)
}

func quoteTable(ref gcp.TableRef) string {
	return "`" + ref.String() + "`"
}

// escapeString escapes a value for a single-quoted GoogleSQL string literal
func escapeString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
