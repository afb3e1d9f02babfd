// Package actions holds the form-facing layer: it validates submitted forms,
// calls one auth.Service operation and turns the outcome into a Result the
// page can act on.
package actions

// Result is the outcome of an action: exactly one of Redirect, Failure or
// Success.
type Result interface {
	isResult()
}

// Redirect sends the browser to To.
type Redirect struct {
	To string
}

// Failure is a UI-facing error. Fields holds per-field messages when the
// form itself was rejected.
type Failure struct {
	Message string            `json:"error"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Success keeps the user on the page with a confirmation message.
type Success struct {
	Message string `json:"message"`
}

func (Redirect) isResult() {}
func (Failure) isResult()  {}
func (Success) isResult()  {}
