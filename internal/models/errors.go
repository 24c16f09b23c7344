// Package models defines the error taxonomy of the SDR agent core.
package models

import "errors"

var (
	// ErrInvalidConversationKey indicates a malformed conversation key.
	// Rejected at the system boundary; never reaches the buffer.
	ErrInvalidConversationKey = errors.New("invalid conversation key")

	// ErrGenerationUnavailable indicates the external response generator
	// failed or timed out. Recoverable: the profile is left unchanged and a
	// generic retry reply is produced instead.
	ErrGenerationUnavailable = errors.New("response generation unavailable")

	// ErrDeliveryAborted indicates an in-flight fragment delivery was
	// superseded by newer inbound input. Expected, not logged as an error.
	ErrDeliveryAborted = errors.New("delivery aborted")

	// ErrArchivalFailed indicates the CRM collaborator rejected an archive
	// request. Logged; never rolls back conversational state.
	ErrArchivalFailed = errors.New("archival failed")
)
