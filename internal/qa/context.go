package qa

import "geoqa/internal/arcgis"

// AcquisitionContext is everything acquired for one layer, consumed uniformly
// by every rule. It is built fresh per layer, owned by the orchestrator, and
// not mutated once the rule phase begins. Absent data stays nil; the ordered
// error list explains why.
type AcquisitionContext struct {
	Metadata      *arcgis.LayerMetadata
	Features      []Feature
	SampleFetched bool
	TotalEstimate *int64
	Pagination    *arcgis.PageProbe
	Errors        []AcquisitionError
}

// Feature aliases the client's feature record; rules never reach deeper into
// the transport layer than this.
type Feature = arcgis.Feature

// RecordError appends an acquisition failure in the order it occurred.
func (c *AcquisitionContext) RecordError(op, kind, message string) {
	c.Errors = append(c.Errors, AcquisitionError{Op: op, Kind: kind, Message: message})
}
