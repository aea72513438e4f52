package core

import "errors"

var (
	// ErrMissingDocument is returned when an operation needs an uploaded document.
	ErrMissingDocument = errors.New("quicksign: no document uploaded")
	// ErrTemplateIndexOutOfRange is returned when selecting a template index outside the store.
	ErrTemplateIndexOutOfRange = errors.New("quicksign: template index out of range")
	// ErrDeliveryFailed matches every DeliveryFailure reported by the delivery relay.
	ErrDeliveryFailed = errors.New("quicksign: delivery failed")
	// ErrDialogClosed is returned when sending while the delivery dialog is closed.
	ErrDialogClosed = errors.New("quicksign: delivery dialog is not open")
	// ErrSendInFlight is returned when a send is requested while another is pending.
	ErrSendInFlight = errors.New("quicksign: a delivery is already in flight")
	// ErrWidgetNotFound is returned for unknown widget ids.
	ErrWidgetNotFound = errors.New("quicksign: widget not found")
	// ErrArtifactNotFound is returned by artifact stores for unknown ids.
	ErrArtifactNotFound = errors.New("quicksign: artifact not found")
	// ErrHandleNotFound is returned for released or unknown display handles.
	ErrHandleNotFound = errors.New("quicksign: display handle not found")
)
