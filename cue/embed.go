// Package cue embeds the CUE module catalog and the project settings schema.
package cue

import "embed"

// CatalogFS contains the embedded catalog schema and module declarations.
//
//go:embed catalog/*.cue
var CatalogFS embed.FS

// CatalogDir is the root directory within CatalogFS.
const CatalogDir = "catalog"

// SchemaFile and ModulesFile are the catalog files within CatalogDir.
const (
	SchemaFile  = "schema.cue"
	ModulesFile = "modules.cue"
)

// ProjectFS contains the schema of qudag.cue project files.
//
//go:embed project/schema.cue
var ProjectFS embed.FS

// ProjectSchemaFile is the project schema path within ProjectFS.
const ProjectSchemaFile = "project/schema.cue"
