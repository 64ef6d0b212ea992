package cli

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/grovetools/virtsession/errors"
)

// ErrorHandler prints user-friendly error messages.
type ErrorHandler struct {
	Verbose bool
	Out     io.Writer
}

// NewErrorHandler creates a new error handler writing to stderr.
func NewErrorHandler(verbose bool) *ErrorHandler {
	return &ErrorHandler{Verbose: verbose, Out: os.Stderr}
}

// Handle prints err with a hint based on its code and returns it.
func (h *ErrorHandler) Handle(err error) error {
	if err == nil {
		return nil
	}
	w := h.Out
	var se *errors.SessionError
	stderrors.As(err, &se)

	switch errors.GetCode(err) {
	case errors.ErrCodeDaemonNotRunning:
		fmt.Fprintf(w, "❌ No session is running.\n")
		fmt.Fprintf(w, "Start one with 'virtsession run'.\n")

	case errors.ErrCodeUnknownConnection:
		fmt.Fprintf(w, "❌ %s\n", message(err, se))
		fmt.Fprintf(w, "Run 'virtsession connections list' to see registered connections.\n")

	case errors.ErrCodeDuplicateConnection:
		fmt.Fprintf(w, "❌ %s\n", message(err, se))

	case errors.ErrCodeConfigInvalid:
		fmt.Fprintf(w, "❌ %s\n", message(err, se))
		fmt.Fprintf(w, "Check it with 'virtsession config validate'.\n")

	case errors.ErrCodeJobFailure:
		fmt.Fprintf(w, "❌ %s\n", message(err, se))
		if se != nil {
			if detail, ok := se.Details["trace"].(string); ok && detail != "" {
				fmt.Fprintf(w, "\n%s\n", detail)
			}
		}

	default:
		fmt.Fprintf(w, "❌ Error: %v\n", err)
	}

	if h.Verbose && se != nil {
		fmt.Fprintf(w, "\nError details:\n%s\n", se.ToJSON())
	}
	return err
}

func message(err error, se *errors.SessionError) string {
	if se != nil {
		return se.Message
	}
	return err.Error()
}
