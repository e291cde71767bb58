/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator struct tags; handlers run
  the validator before touching the engine, so malformed input never
  reaches the saga. Semantic validation (units summing, stock levels)
  stays in the engine.

SEE ALSO:
  - handlers.go: Uses these types
  - lineage/types.go: The domain types these mirror
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/verdant/batch-engine/lineage"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// SplitRequestDTO is the request body for splitting a batch.
type SplitRequestDTO struct {
	RequestID         string `json:"request_id" validate:"required"`
	TargetSizeSpec    string `json:"target_size_spec" validate:"required"`
	TargetLocation    string `json:"target_location" validate:"required"`
	Containers        int    `json:"containers" validate:"required,gt=0"`
	UnitsPerContainer int    `json:"units_per_container" validate:"required,gt=0"`
	AutoArchiveParent bool   `json:"auto_archive_parent"`
}

// MergeSourceDTO is one contributing batch of a merge request.
type MergeSourceDTO struct {
	BatchID            string `json:"batch_id" validate:"required"`
	Units              int    `json:"units" validate:"required,gt=0"`
	AutoArchiveIfEmpty bool   `json:"auto_archive_if_empty"`
}

// MergeRequestDTO is the request body for merging batches.
type MergeRequestDTO struct {
	RequestID      string           `json:"request_id" validate:"required"`
	TargetSizeSpec string           `json:"target_size_spec" validate:"required"`
	TargetLocation string           `json:"target_location" validate:"required"`
	TargetVariety  string           `json:"target_variety" validate:"required"`
	RequiredUnits  int              `json:"required_units" validate:"required,gt=0"`
	Sources        []MergeSourceDTO `json:"sources" validate:"required,min=1,dive"`
}

// IntakeRequestDTO is the request body for creating a root batch.
type IntakeRequestDTO struct {
	RequestID string `json:"request_id" validate:"required"`
	VarietyID string `json:"variety_id" validate:"required"`
	SizeSpec  string `json:"size_spec" validate:"required"`
	Location  string `json:"location" validate:"required"`
	Units     int    `json:"units" validate:"required,gt=0"`
	Note      string `json:"note"`
}

// CreateSizeSpecRequest is the request to register a size spec.
type CreateSizeSpecRequest struct {
	ID            string `json:"id" validate:"required"`
	Name          string `json:"name" validate:"required"`
	ContainerKind string `json:"container_kind" validate:"required,oneof=pot tray"`
	CellCount     int    `json:"cell_count" validate:"required,gt=0"`
}

// CreateLocationRequest is the request to register a location.
type CreateLocationRequest struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// BatchDTO represents a batch in API responses.
type BatchDTO struct {
	ID              string `json:"id"`
	Number          string `json:"number"`
	OrgID           string `json:"org_id"`
	VarietyID       string `json:"variety_id"`
	SizeSpecID      string `json:"size_spec_id"`
	LocationID      string `json:"location_id"`
	Phase           string `json:"phase"`
	Status          string `json:"status"`
	Quantity        int    `json:"quantity"`
	InitialQuantity int    `json:"initial_quantity"`
	CreatedAt       string `json:"created_at"`
	ArchivedAt      string `json:"archived_at,omitempty"`
}

// SplitResponseDTO is returned after a successful split.
type SplitResponseDTO struct {
	Child           BatchDTO `json:"child"`
	ParentRemaining int      `json:"parent_remaining"`
}

// MergeResponseDTO is returned after a successful merge.
type MergeResponseDTO struct {
	Child BatchDTO `json:"child"`
}

// EventDTO represents one batch event.
type EventDTO struct {
	ID                string `json:"id"`
	BatchID           string `json:"batch_id"`
	Type              string `json:"type"`
	CounterpartID     string `json:"counterpart_id,omitempty"`
	CounterpartNumber string `json:"counterpart_number,omitempty"`
	Units             int    `json:"units,omitempty"`
	Note              string `json:"note,omitempty"`
	ActorID           string `json:"actor_id,omitempty"`
	RequestID         string `json:"request_id"`
	At                string `json:"at"`
}

// EdgeDTO represents one ancestry edge.
type EdgeDTO struct {
	ParentID   string  `json:"parent_id"`
	ChildID    string  `json:"child_id"`
	Proportion float64 `json:"proportion"`
}

// OriginDTO is one root attribution from a lineage trace.
type OriginDTO struct {
	BatchID    string  `json:"batch_id"`
	Proportion float64 `json:"proportion"`
}

// LineageDTO is the response of a lineage trace.
type LineageDTO struct {
	BatchID string      `json:"batch_id"`
	Parents []EdgeDTO   `json:"parents"`
	Origins []OriginDTO `json:"origins"`
}

// SizeSpecDTO represents a size spec.
type SizeSpecDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContainerKind string `json:"container_kind"`
	CellCount     int    `json:"cell_count"`
	Phase         string `json:"phase"` // classification of this spec
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toBatchDTO(b lineage.Batch) BatchDTO {
	dto := BatchDTO{
		ID:              string(b.ID),
		Number:          string(b.Number),
		OrgID:           string(b.OrgID),
		VarietyID:       string(b.VarietyID),
		SizeSpecID:      string(b.SizeSpecID),
		LocationID:      string(b.LocationID),
		Phase:           string(b.Phase),
		Status:          string(b.Status),
		Quantity:        b.Quantity,
		InitialQuantity: b.InitialQuantity,
		CreatedAt:       b.CreatedAt.Format(time.RFC3339),
	}
	if b.ArchivedAt != nil {
		dto.ArchivedAt = b.ArchivedAt.Format(time.RFC3339)
	}
	return dto
}

func toEventDTO(ev lineage.BatchEvent) EventDTO {
	return EventDTO{
		ID:                string(ev.ID),
		BatchID:           string(ev.BatchID),
		Type:              string(ev.Type),
		CounterpartID:     string(ev.Payload.CounterpartID),
		CounterpartNumber: string(ev.Payload.CounterpartNumber),
		Units:             ev.Payload.Units,
		Note:              ev.Payload.Note,
		ActorID:           ev.ActorID,
		RequestID:         ev.RequestID,
		At:                ev.At.Format(time.RFC3339),
	}
}

func toEdgeDTO(e lineage.AncestryEdge) EdgeDTO {
	p, _ := e.Proportion.Float64()
	return EdgeDTO{
		ParentID:   string(e.ParentID),
		ChildID:    string(e.ChildID),
		Proportion: p,
	}
}

func toOriginDTOs(origins map[lineage.BatchID]decimal.Decimal) []OriginDTO {
	dtos := make([]OriginDTO, 0, len(origins))
	for id, prop := range origins {
		p, _ := prop.Float64()
		dtos = append(dtos, OriginDTO{BatchID: string(id), Proportion: p})
	}
	return dtos
}
