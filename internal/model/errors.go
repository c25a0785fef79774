package model

import (
	"errors"
	"fmt"
)

// ErrCaptcha is returned (or wrapped) when the source presents a challenge.
// It must pause scanning, never be retried within the cycle.
var ErrCaptcha = errors.New("captcha challenge detected")

// TransientError marks a network/timeout failure worth retrying next cycle.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// MalformedRecordError means a raw record is missing a required field.
// The record is dropped and logged; the batch is not failed.
type MalformedRecordError struct {
	Field string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record: missing %s", e.Field)
}

// FilterValidationError rejects a rule at creation time so the match path
// never sees a malformed filter.
type FilterValidationError struct {
	Name   string
	Reason string
}

func (e *FilterValidationError) Error() string {
	return fmt.Sprintf("invalid filter %q: %s", e.Name, e.Reason)
}

// DispatchError records a failed auto-response submission. It is reported to
// the subscriber as a failure notice, never silently swallowed.
type DispatchError struct {
	SubscriberID int64
	ExternalID   string
	Err          error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("auto-respond for listing %s (subscriber %d): %v", e.ExternalID, e.SubscriberID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// PersistenceError means the store was unavailable. The cycle aborts without
// committing partial dedup state so records are re-evaluated next cycle.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
