package arcgis

import "encoding/json"

// LayerMetadata is the decoded "layer info" document of a FeatureServer layer
// endpoint. Fields the service did not report stay nil/zero so rules can tell
// absence from an empty value.
type LayerMetadata struct {
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	GeometryType   string         `json:"geometryType"`
	Extent         *Extent        `json:"extent"`
	Fields         []FieldInfo    `json:"fields"`
	Capabilities   string         `json:"capabilities"`
	MaxRecordCount *int           `json:"maxRecordCount"`
	AdvancedQuery  *AdvancedQuery `json:"advancedQueryCapabilities"`
	EditingInfo    *EditingInfo   `json:"editingInfo"`
	EditFieldsInfo *EditFields    `json:"editFieldsInfo"`
}

// SupportsPagination reports whether the layer advertises offset paging.
func (m *LayerMetadata) SupportsPagination() bool {
	if m == nil || m.AdvancedQuery == nil {
		return false
	}
	return m.AdvancedQuery.SupportsPagination || m.AdvancedQuery.SupportsQueryWithPagination
}

// WKID returns the spatial-reference well-known ID, preferring the canonical
// code over latestWkid. The second return is false when none is reported.
func (m *LayerMetadata) WKID() (int, bool) {
	if m == nil || m.Extent == nil || m.Extent.SpatialReference == nil {
		return 0, false
	}
	sr := m.Extent.SpatialReference
	if sr.WKID != nil {
		return *sr.WKID, true
	}
	if sr.LatestWKID != nil {
		return *sr.LatestWKID, true
	}
	return 0, false
}

// LastEditMillis returns the last-edit timestamp in epoch milliseconds, if
// the service reports one.
func (m *LayerMetadata) LastEditMillis() (int64, bool) {
	if m == nil || m.EditingInfo == nil || m.EditingInfo.LastEditDate == nil {
		return 0, false
	}
	return *m.EditingInfo.LastEditDate, true
}

// EditDateField returns the advertised edit-date field name, if any.
func (m *LayerMetadata) EditDateField() string {
	if m == nil || m.EditFieldsInfo == nil {
		return ""
	}
	return m.EditFieldsInfo.EditDateField
}

// Extent is the layer's spatial envelope.
type Extent struct {
	XMin             *float64          `json:"xmin"`
	YMin             *float64          `json:"ymin"`
	XMax             *float64          `json:"xmax"`
	YMax             *float64          `json:"ymax"`
	SpatialReference *SpatialReference `json:"spatialReference"`
}

// SpatialReference carries the coordinate system identifiers.
type SpatialReference struct {
	WKID       *int   `json:"wkid"`
	LatestWKID *int   `json:"latestWkid"`
	WKT        string `json:"wkt"`
}

// FieldInfo describes one attribute field of the layer schema.
type FieldInfo struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Alias string `json:"alias"`
}

// AdvancedQuery mirrors advancedQueryCapabilities.
type AdvancedQuery struct {
	SupportsPagination          bool `json:"supportsPagination"`
	SupportsQueryWithPagination bool `json:"supportsQueryWithPagination"`
}

// EditingInfo mirrors editingInfo. LastEditDate is epoch milliseconds.
type EditingInfo struct {
	LastEditDate *int64 `json:"lastEditDate"`
}

// EditFields mirrors editFieldsInfo.
type EditFields struct {
	EditDateField string `json:"editDateField"`
}

// Feature is one sampled record: a loose attribute mapping plus an optional
// esri-JSON geometry payload.
type Feature struct {
	Attributes map[string]any `json:"attributes"`
	Geometry   *Geometry      `json:"geometry"`
}

// Geometry is the structural union of esri-JSON geometry shapes. Exactly one
// member group is populated for a well-formed payload.
type Geometry struct {
	X      *float64      `json:"x"`
	Y      *float64      `json:"y"`
	Points [][]float64   `json:"points"`
	Paths  [][][]float64 `json:"paths"`
	Rings  [][][]float64 `json:"rings"`
}

// IsEmpty reports whether no geometry member is populated.
func (g *Geometry) IsEmpty() bool {
	if g == nil {
		return true
	}
	return g.X == nil && g.Y == nil && len(g.Points) == 0 && len(g.Paths) == 0 && len(g.Rings) == 0
}

// PageProbe is the diagnostic of the two-page pagination test: how many
// features each page window requested and returned.
type PageProbe struct {
	PageSize            int  `json:"page_size"`
	FirstReturned       int  `json:"first_returned"`
	SecondReturned      int  `json:"second_returned"`
	ExceededLimitFirst  bool `json:"exceeded_limit_first"`
	ExceededLimitSecond bool `json:"exceeded_limit_second"`
}

// queryResponse is the wire shape of a /query result. The error envelope is
// how ArcGIS reports application errors inside an HTTP 200.
type queryResponse struct {
	Features              []Feature      `json:"features"`
	Count                 *int64         `json:"count"`
	ExceededTransferLimit bool           `json:"exceededTransferLimit"`
	Error                 *errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}
