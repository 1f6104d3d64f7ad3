package odoorpc

import (
	"regexp"
	"strconv"
	"strings"

	"odoo-mcp-gateway/internal/apperror"
)

var (
	faultPattern      = regexp.MustCompile(`Fault (\d+): '(.*?)'`)
	methodNotOnModel  = regexp.MustCompile(`The method '([^']+)' does not exist on the model '([^']+)'`)
	recordNotExist    = regexp.MustCompile(`(?i)record(?:s)?.* does not exist`)
	aggregationItalia = regexp.MustCompile(`(?i)Funzione di aggregazione .* non valida`)
)

// classifyFault turns an opaque XML-RPC/JSON-RPC fault string into a
// typed *apperror.Error, matching on the substrings Odoo's tracebacks are
// known to contain rather than any stable error code. The cases cover the
// fault kinds SPEC_FULL §4.1's design rules name; access and
// authentication faults are checked first, before the method,
// validation and record cases.
func classifyFault(err error) *apperror.Error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	faultMessage := msg

	if matches := faultPattern.FindStringSubmatch(msg); len(matches) == 3 {
		faultMessage = matches[2]
	} else if strings.HasPrefix(msg, "XML-RPC fault: ") {
		faultMessage = strings.TrimPrefix(msg, "XML-RPC fault: ")
	}

	switch {
	case strings.Contains(faultMessage, "AccessDenied"),
		strings.Contains(faultMessage, "Access denied"),
		strings.Contains(faultMessage, "AccessError"),
		strings.Contains(faultMessage, "authentication"):
		return apperror.Wrap(err, apperror.KindAuth, "odoo denied access").WithDetails("fault", faultMessage)

	case methodNotOnModel.MatchString(faultMessage):
		m := methodNotOnModel.FindStringSubmatch(faultMessage)
		return apperror.Wrap(err, apperror.KindNotFoundMethod, "odoo method does not exist on model").
			WithDetails("fault", faultMessage).
			WithDetails("method", m[1]).
			WithDetails("model", m[2])

	case aggregationItalia.MatchString(faultMessage):
		return apperror.Wrap(err, apperror.KindValidationAggregation, "invalid aggregation function").
			WithDetails("fault", faultMessage)

	case strings.Contains(faultMessage, "UserError"), strings.Contains(faultMessage, "ValidationError"):
		return apperror.Wrap(err, apperror.KindValidationGeneric, "odoo rejected the request").
			WithDetails("fault", faultMessage)

	case strings.Contains(faultMessage, "The model does not exist"),
		strings.Contains(faultMessage, "No model named"),
		strings.Contains(faultMessage, "not found in registry"),
		strings.Contains(faultMessage, "Object has no method"),
		strings.Contains(faultMessage, "method does not exist"),
		strings.Contains(faultMessage, "missing 1 required positional argument"):
		return apperror.Wrap(err, apperror.KindNotFoundMethod, "unknown odoo method or model").WithDetails("fault", faultMessage)

	case recordNotExist.MatchString(faultMessage):
		return apperror.Wrap(err, apperror.KindNotFoundRecord, "odoo record not found").WithDetails("fault", faultMessage)

	default:
		return apperror.Wrap(err, apperror.KindProtocol, "odoo rpc call failed").WithDetails("fault", faultMessage)
	}
}

// faultCode extracts the numeric fault code from a fault string, if present.
func faultCode(msg string) int {
	matches := faultPattern.FindStringSubmatch(msg)
	if len(matches) != 3 {
		return 0
	}
	code, _ := strconv.Atoi(matches[1])
	return code
}
