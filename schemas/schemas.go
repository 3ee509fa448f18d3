// Package schemas holds the embedded JSON Schemas for files this
// application persists or consumes: the session document, the recovery
// wrapper, and the battery definition.
package schemas

import _ "embed"

//go:embed session.schema.json
var SessionSchemaJSON string

//go:embed recovery.schema.json
var RecoverySchemaJSON string

//go:embed battery.schema.json
var BatterySchemaJSON string
