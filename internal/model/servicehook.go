package model

const (
	HookEventCreated = "event.created"
	HookEventAlert   = "event.alert"
	HookErrorCreated = "error.created"
)

// ServiceHook is an external subscriber registered on a project.
type ServiceHook struct {
	ID     int64
	Events []string
}

// Subscribes reports whether the hook listens to any event type in allowed.
func (h ServiceHook) Subscribes(allowed map[string]struct{}) bool {
	for _, e := range h.Events {
		if _, ok := allowed[e]; ok {
			return true
		}
	}
	return false
}
