// Package export provides layer backup and restore.
//
// A JSON backup preserves every feature (identifier, coordinates, spatial
// index, speeds, timestamp, attributes) plus metadata about the export, and
// can be re-imported with ImportFromJSON, which replaces the target layer's
// contents atomically. CSV is a flattened, export-only format for analysis
// in spreadsheets or pandas; attribute columns are derived from the data.
//
// Export endpoint: GET /v1/export?layer=<name>&format=json|csv
// Import endpoint: POST /v1/import?layer=<name> with a JSON backup body.
//
// Typical uses are seeding a development feature store from production data
// and keeping restorable snapshots of published layers.
package export
