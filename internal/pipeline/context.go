package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"geoqa/internal/arcgis"
	"geoqa/internal/qa"
)

// Acquisition op names recorded in the context error list.
const (
	opFetchMetadata   = "fetch_metadata"
	opCountFeatures   = "count_features"
	opFetchSample     = "fetch_sample"
	opProbePagination = "probe_pagination"
	opOrchestrator    = "orchestrator"
)

// BuildContext sequences the three client calls for one layer, catching each
// failure independently: a metadata failure leaves sample and probe unset; a
// sample failure keeps any metadata already fetched. Every caught error is
// appended in order so rules can cite it as evidence.
func BuildContext(ctx context.Context, client *arcgis.Client, layer qa.LayerConfig, log *zap.Logger) *qa.AcquisitionContext {
	acq := &qa.AcquisitionContext{}

	meta, err := client.FetchMetadata(ctx, layer.ServiceURL)
	if err != nil {
		recordAcqError(acq, opFetchMetadata, err)
		log.Warn("metadata fetch failed",
			zap.String("layer", layer.Name), zap.Error(err))
		return acq
	}
	acq.Metadata = meta

	// A failed count degrades to an unknown estimate; the error stays on the
	// record so rules can cite it.
	estimate, err := client.CountFeatures(ctx, layer.ServiceURL)
	if err != nil {
		recordAcqError(acq, opCountFeatures, err)
		log.Warn("feature count query failed, continuing without estimate",
			zap.String("layer", layer.Name), zap.Error(err))
	}
	acq.TotalEstimate = estimate

	features, err := client.FetchSample(ctx, layer.ServiceURL, client.SampleSize())
	if err != nil {
		recordAcqError(acq, opFetchSample, err)
		log.Warn("sample fetch failed",
			zap.String("layer", layer.Name), zap.Error(err))
		return acq
	}
	acq.Features = features
	acq.SampleFetched = true

	pageSize := client.SampleSize()
	if meta.MaxRecordCount != nil && *meta.MaxRecordCount > 0 && *meta.MaxRecordCount < pageSize {
		pageSize = *meta.MaxRecordCount
	}
	if estimate != nil && *estimate > int64(pageSize) {
		probe, err := client.ProbeSecondPage(ctx, layer.ServiceURL, pageSize)
		if err != nil {
			recordAcqError(acq, opProbePagination, err)
			log.Warn("pagination probe failed",
				zap.String("layer", layer.Name), zap.Error(err))
			return acq
		}
		acq.Pagination = probe
	}

	return acq
}

// recordAcqError translates a typed client error into context state.
func recordAcqError(acq *qa.AcquisitionContext, op string, err error) {
	kind := "error"
	var se *arcgis.ServiceError
	var pe *arcgis.ParseError
	switch {
	case errors.As(err, &se):
		kind = string(se.Kind)
	case errors.As(err, &pe):
		kind = "parse_error"
	}
	acq.RecordError(op, kind, err.Error())
}
