// Package notify presents task reminders to the user.
package notify

import (
	"context"
	"time"
)

// Permission mirrors the permission states of a notification surface.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// Notification is a single reminder to present.
type Notification struct {
	ID     string
	Title  string
	Body   string
	DueAt  time.Time
	FireAt time.Time
}

// Notifier presents notifications on some surface.
type Notifier interface {
	Supported() bool
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
	Show(ctx context.Context, n Notification) error
	Cancel(ctx context.Context, id string) error
	CancelAll(ctx context.Context) error
}
