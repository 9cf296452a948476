package api

import "net/http"

const (
	codePathNotFound     = "path_not_found"
	codeWatchSetupFailed = "watch_setup_failed"
	codeRevealFailed     = "reveal_failed"
)

func errorCode(err *apiError) string {
	if err == nil {
		return ""
	}
	if err.Code != "" {
		return err.Code
	}
	return errorCodeForStatus(err.Status)
}

func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	default:
		if status >= http.StatusInternalServerError {
			return "internal_error"
		}
	}
	return ""
}
