package turn

import "github.com/charmbracelet/log"

// Notification is a transient message for the user, such as a toast.
type Notification struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Variant     string `json:"variant,omitempty"`
}

const VariantDestructive = "destructive"

// Notifier renders notifications. Rendering is up to the caller.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// LogNotifier writes notifications to the log; used when no UI is attached.
type LogNotifier struct {
	Log *log.Logger
}

func (l LogNotifier) Notify(n Notification) {
	if l.Log == nil {
		return
	}
	if n.Variant == VariantDestructive {
		l.Log.Warn(n.Title, "description", n.Description)
		return
	}
	l.Log.Info(n.Title, "description", n.Description)
}

var (
	notifyResponse = Notification{Title: "Response generated", Description: "AI has responded to your message"}
	notifyImage    = Notification{Title: "Image generated", Description: "Your image is ready"}
	notifySearch   = Notification{Title: "Search completed", Description: "Web results are ready"}
	notifyFailure  = Notification{Title: "Error", Description: "Failed to get AI response. Please try again.", Variant: VariantDestructive}
)
