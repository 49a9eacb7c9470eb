package modules

const (
	codeInvalidParams = -32602
	codeServerError   = -32000
	codeConflict      = -32009
	codeUnavailable   = -32012
)

// ModuleError carries a JSON-RPC error alongside the HTTP status the server
// should write for it.
type ModuleError struct {
	HTTPStatus int
	Code       int
	Message    string
	Data       interface{}
}

func (e *ModuleError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}
