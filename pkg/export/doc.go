// Package export provides backup and restore of stored partitions.
//
// # Supported Formats
//
// JSON Format:
//   - One entry per partition day with its readings in append order
//   - Each partition carries an xxhash64 checksum of its readings
//   - Can be re-imported; readings are appended to their partition
//
// CSV Format:
//   - The partition table columns prefixed with the partition date
//   - Export-only
//
// XLSX Format:
//   - A single day, laid out like the data_log_ spreadsheets
//   - Available for every storage backend
//
// # HTTP API
//
// Export endpoint: GET /v1/export
//
//	curl "http://localhost:8080/v1/export?format=json&from=2024-03-01&to=2024-03-07" \
//	  -o backup.json
//	curl "http://localhost:8080/v1/export?format=xlsx&date=2024-03-01" -o day.xlsx
//
// Import endpoint: POST /v1/import
//
//	curl -X POST "http://localhost:8080/v1/import" \
//	  -H "Content-Type: application/json" \
//	  -d @backup.json
//
// # Usage Limits
//
//   - Maximum export range: 90 days
//   - Default export range: yesterday and today
//   - Import body limit: 32 MB
//   - Partitions dated more than a day in the future are rejected
//
// # Error Handling
//
// Imports skip invalid partitions and readings rather than failing as a
// whole. Each skip is listed in ImportResult.Errors.
package export
