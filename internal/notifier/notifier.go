// Package notifier reports failures that happen outside an interactive request, e.g. an MQTT command that
// could not be executed.
package notifier

type Notifier interface {
	Notify(string)
}

type Notifiers []Notifier

func (n Notifiers) Notify(msg string) {
	for _, l := range n {
		l.Notify(msg)
	}
}
