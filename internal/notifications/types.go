package notifications

import "time"

// NotifyType identifies the kind of event a Notification carries.
type NotifyType string

const (
	// NotifyRequestStarted fires once per request, the first time the
	// Retrieval Executor begins staging files for it.
	NotifyRequestStarted NotifyType = "request_started"
	// NotifyFirstFileOnDisk fires the first time any file belonging to
	// a request reaches RESTORED.
	NotifyFirstFileOnDisk NotifyType = "first_file_on_disk"
	// NotifyLastFileOnDisk fires when the final file of a request
	// reaches RESTORED (request complete).
	NotifyLastFileOnDisk NotifyType = "last_file_on_disk"
	// NotifyRequestFailed marks a "request could not be completed"
	// message, sent through RequestNotifier.SendRequestFailed. The
	// Retrieval Executor does not send it.
	NotifyRequestFailed NotifyType = "request_failed"
)

// Notification is a single event to be rendered and delivered by a
// notification channel (currently email).
type Notification struct {
	Type      NotifyType
	Title     string
	Message   string
	Priority  string // "normal", "high", "urgent"
	Timestamp time.Time
	Data      map[string]interface{}
}
