package tasks

// ActionError is returned when persistence fails during an action. The
// message never carries the cause; use errors.Unwrap to inspect it.
type ActionError struct {
	Action string
	Err    error
}

func (e *ActionError) Error() string { return "failed to " + e.Action }

func (e *ActionError) Unwrap() error { return e.Err }
