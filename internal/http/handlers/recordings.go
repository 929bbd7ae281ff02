package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/service"
)

// RecordingHandler handles recording and stream endpoints.
type RecordingHandler struct {
	recordings *service.RecordingService
}

// NewRecordingHandler creates a new recording handler.
func NewRecordingHandler(recordings *service.RecordingService) *RecordingHandler {
	return &RecordingHandler{recordings: recordings}
}

// Register registers the recording routes with the API.
func (h *RecordingHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listRecordings",
		Method:      "GET",
		Path:        "/api/v1/recordings",
		Summary:     "List recordings",
		Tags:        []string{"Recordings"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getRecording",
		Method:      "GET",
		Path:        "/api/v1/recordings/{id}",
		Summary:     "Get a recording with its processing state",
		Tags:        []string{"Recordings"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "deleteStream",
		Method:      "DELETE",
		Path:        "/api/v1/streams/{id}",
		Summary:     "Delete a stream and its artifacts",
		Description: "Queues removal of the stream's MP4, sidecars, and database rows. Live streams must be stopped first.",
		Tags:        []string{"Recordings"},
	}, h.DeleteStream)
}

// ListRecordingsInput filters the recording list.
type ListRecordingsInput struct {
	Status string `query:"status" enum:"recording,completed,failed,cancelled," doc:"Filter by status"`
	Limit  int    `query:"limit" minimum:"1" maximum:"500" default:"100" doc:"Maximum rows returned"`
}

// ListRecordingsOutput is the output for listing recordings.
type ListRecordingsOutput struct {
	Body struct {
		Items []*models.Recording `json:"items"`
		Total int                 `json:"total"`
	}
}

// List returns recordings newest first.
func (h *RecordingHandler) List(ctx context.Context, input *ListRecordingsInput) (*ListRecordingsOutput, error) {
	var status *models.RecordingStatus
	if input.Status != "" {
		s := models.RecordingStatus(input.Status)
		status = &s
	}
	recordings, err := h.recordings.List(ctx, status, input.Limit)
	if err != nil {
		return nil, mapError(err)
	}
	resp := &ListRecordingsOutput{}
	resp.Body.Items = recordings
	resp.Body.Total = len(recordings)
	return resp, nil
}

// RecordingIDInput identifies a recording by path id.
type RecordingIDInput struct {
	ID string `path:"id" doc:"Recording ID (ULID)"`
}

// RecordingDetailOutput wraps a recording with its pipeline state.
type RecordingDetailOutput struct {
	Body *service.RecordingDetail
}

// Get returns one recording joined with its processing state.
func (h *RecordingHandler) Get(ctx context.Context, input *RecordingIDInput) (*RecordingDetailOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid recording ID format", err)
	}
	detail, err := h.recordings.Get(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	return &RecordingDetailOutput{Body: detail}, nil
}

// StreamIDInput identifies a stream by path id.
type StreamIDInput struct {
	ID string `path:"id" doc:"Stream ID (ULID)"`
}

// DeleteStreamOutput reports the queued cleanup task.
type DeleteStreamOutput struct {
	Body struct {
		TaskID string `json:"task_id" doc:"ID of the queued deletion task"`
	}
}

// DeleteStream queues removal of a stream and everything derived from it.
func (h *RecordingHandler) DeleteStream(ctx context.Context, input *StreamIDInput) (*DeleteStreamOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid stream ID format", err)
	}
	task, err := h.recordings.DeleteStream(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	resp := &DeleteStreamOutput{}
	resp.Body.TaskID = task.ID.String()
	return resp, nil
}
