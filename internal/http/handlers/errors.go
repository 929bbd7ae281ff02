package handlers

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vodarr/internal/recerr"
)

// mapError translates a service error into a typed huma error. Precondition
// kinds map to 4xx; everything else is a 500.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var re *recerr.Error
	if errors.As(err, &re) {
		switch re.Kind {
		case recerr.KindStreamerNotFound, recerr.KindStreamNotFound,
			recerr.KindRecordingNotFound, recerr.KindNotFound:
			return huma.Error404NotFound(err.Error())
		case recerr.KindRecordingAlreadyActive:
			return huma.Error409Conflict(err.Error())
		case recerr.KindConfig:
			return huma.Error400BadRequest(err.Error())
		case recerr.KindWebhookVerification:
			return huma.Error403Forbidden(err.Error())
		}
	}
	return huma.Error500InternalServerError("internal error", err)
}
