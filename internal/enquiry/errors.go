package enquiry

import (
	"errors"

	commonerrors "enquiry-workers/internal/common/errors"
	"enquiry-workers/internal/common/filestore"
	"enquiry-workers/internal/common/lock"
	"enquiry-workers/internal/common/sheets"
)

// ToStandardError maps domain failures onto the workflow error codes.
func ToStandardError(operation string, err error) *commonerrors.StandardError {
	var (
		stdErr   *commonerrors.StandardError
		tooLarge *filestore.TooLargeError
		notFound *RowNotFoundError
	)

	switch {
	case errors.As(err, &stdErr):
		return stdErr
	case errors.Is(err, sheets.ErrRemoteUnreachable):
		return commonerrors.NewRemoteUnreachableError(operation, err)
	case errors.Is(err, sheets.ErrRemoteRejected):
		return commonerrors.NewRemoteRejectedError(operation, err.Error())
	case errors.As(err, &tooLarge):
		return commonerrors.NewFileTooLargeError(tooLarge.Name, tooLarge.Size, tooLarge.Limit)
	case errors.As(err, &notFound):
		return commonerrors.NewRowNotFoundError(notFound.Key)
	case errors.Is(err, ErrInvalidSubmission):
		return commonerrors.NewValidationFailedError(err.Error())
	case errors.Is(err, lock.ErrLockNotObtained):
		return commonerrors.NewLockNotObtainedError(SubmitLockKey)
	case errors.Is(err, ErrJournalFailed):
		return commonerrors.NewJournalFailedError(err)
	default:
		return commonerrors.NewInternalError(err)
	}
}
