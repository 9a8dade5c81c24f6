// Package export provides observation backup and restore.
//
// # Formats
//
// JSON exports wrap the observations in a metadata envelope:
//
//	{
//	  "metadata": {
//	    "exported_at": "2024-02-01T03:00:00Z",
//	    "start_time": "0001-01-01T00:00:00Z",
//	    "end_time": "0001-01-01T00:00:00Z",
//	    "observation_count": 3600,
//	    "format": "json",
//	    "version": "1.0"
//	  },
//	  "observations": [
//	    {
//	      "entity": "SalesPortal",
//	      "resource": "Amazon S3",
//	      "cost": 812.4,
//	      "day": 0,
//	      "timestamp": "2024-01-01T00:00:00Z"
//	    }
//	  ]
//	}
//
// CSV exports use the columns entity, resource, cost, day and timestamp.
// CSV imports also accept application_name, product_name and
// eur_total_costs in place of the first three; day and timestamp are
// optional.
//
// # HTTP API
//
// Export endpoint: GET /v1/export?format=json|csv&entity=...&resource=...
//
//	curl "http://localhost:8080/v1/export?format=csv" -o costs.csv
//
// Import endpoint: POST /v1/import with Content-Type application/json or
// text/csv.
//
//	curl -X POST "http://localhost:8080/v1/import" \
//	  -H "Content-Type: text/csv" --data-binary @costs.csv
//
// # Validation
//
// Imports validate every observation and skip invalid ones rather than
// failing the whole import; the messages are returned in
// ImportResult.Errors. Valid observations are written in batches of
// config.MaxImportBatchSize.
package export
