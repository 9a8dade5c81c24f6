/*
Package compaction merges old cost observations that share an entity,
resource, day index and calendar date into a single observation.

Repeated ingestion (hourly billing exports, re-imports of the same report)
leaves many small observations per day. The cost matrix only ever sums
them, so replacing each group by one observation carrying the group's sum
shrinks the store without changing any matrix built from it:

	Before: SalesPortal, Amazon S3, day 3, 2024-01-04 01:00  cost=4.10
	        SalesPortal, Amazon S3, day 3, 2024-01-04 13:00  cost=5.90
	After:  SalesPortal, Amazon S3, day 3, 2024-01-04 00:00  cost=10.00

Only observations older than a cutoff are touched, so late arrivals for
recent days are never split across a compacted and an uncompacted copy.
Compaction is idempotent: a second pass over the same range finds nothing
to merge and writes nothing.

Per-cell count, min and max statistics in pkg/aggregate reflect the merged
observations afterwards; sums and therefore totals are exact.
*/
package compaction
