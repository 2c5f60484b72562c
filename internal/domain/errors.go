package domain

import (
	"fmt"
	"time"
)

// ErrorCode identifies a validation failure.
type ErrorCode string

const (
	CodeEmptyText         ErrorCode = "EmptyText"
	CodeTextTooLong       ErrorCode = "TextTooLong"
	CodeDueDateRequired   ErrorCode = "DueDateRequired"
	CodeInvalidDateFormat ErrorCode = "InvalidDateFormat"
	CodeDueDateInPast     ErrorCode = "DueDateInPast"
	CodeInvalidType       ErrorCode = "InvalidType"
	CodeInvalidReminder   ErrorCode = "InvalidReminder"
)

// ValidationError is returned when task input fails a rule.
type ValidationError struct {
	Field string
	Code  ErrorCode
}

func (e *ValidationError) Error() string {
	switch e.Code {
	case CodeEmptyText:
		return "task text must not be empty"
	case CodeTextTooLong:
		return fmt.Sprintf("task text must be at most %d characters", MaxTextLength)
	case CodeDueDateRequired:
		return "due date is required for one-time tasks"
	case CodeInvalidDateFormat:
		return "due date must be an ISO 8601 timestamp"
	case CodeDueDateInPast:
		return "due date must be in the future"
	case CodeInvalidType:
		return "task type must be one-time or daily"
	case CodeInvalidReminder:
		return "reminder minutes must not be negative"
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Code)
}

// TaskNotFoundError is returned when a task ID does not exist.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// InvalidTransitionError is returned when an action is not legal from the
// task's current state.
type InvalidTransitionError struct {
	TaskID string
	State  State
	Action Action
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s task %s in state %s", e.Action, e.TaskID, e.State)
}

// TaskNotEditableError is returned when an update targets a closed task.
type TaskNotEditableError struct {
	TaskID string
	State  State
}

func (e *TaskNotEditableError) Error() string {
	return fmt.Sprintf("task %s is %s and cannot be edited", e.TaskID, e.State)
}

// AlreadyNotifiedError is returned when a reminder is marked delivered twice.
type AlreadyNotifiedError struct {
	TaskID     string
	NotifiedAt time.Time
}

func (e *AlreadyNotifiedError) Error() string {
	return fmt.Sprintf("task %s already notified at %s", e.TaskID, e.NotifiedAt.Format(time.RFC3339))
}

// RateLimitExceededError is returned when a reminder channel exceeds its rate limit.
type RateLimitExceededError struct {
	Channel string
	Limit   int
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for channel %q: limit is %d", e.Channel, e.Limit)
}

// InvalidChannelError is returned when no handler is registered for a reminder channel.
type InvalidChannelError struct {
	Channel string
}

func (e *InvalidChannelError) Error() string {
	return fmt.Sprintf("no handler registered for reminder channel %q", e.Channel)
}
