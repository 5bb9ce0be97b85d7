package session

import "time"

type NoticeKind string

const (
	NoticeAdd    NoticeKind = "add"
	NoticeRemove NoticeKind = "remove"
	NoticeInfo   NoticeKind = "info"
)

// Notice is a short message for the shopper, shown as a toast by the UI.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}
