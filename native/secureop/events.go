package secureop

import (
	"encoding/hex"
	"strconv"

	"guardian/core/events"
	"guardian/native/txrecord"
)

const (
	// EventTypeRequested is emitted when a new operation record is created.
	EventTypeRequested = "secureop.requested"
	// EventTypeCompleted is emitted when a record reaches COMPLETED.
	EventTypeCompleted = "secureop.completed"
	// EventTypeCancelled is emitted when a record reaches CANCELLED.
	EventTypeCancelled = "secureop.cancelled"
	// EventTypeFailed is emitted when the target action of an authorized
	// operation fails and the record is marked FAILED.
	EventTypeFailed = "secureop.failed"
)

func recordAttributes(def *OperationDefinition, rec *txrecord.TxRecord) map[string]string {
	attrs := make(map[string]string)
	if rec == nil {
		return attrs
	}
	attrs["txId"] = strconv.FormatUint(rec.TxID, 10)
	attrs["status"] = rec.Status.String()
	attrs["requester"] = hex.EncodeToString(rec.Params.Requester[:])
	attrs["target"] = hex.EncodeToString(rec.Params.Target[:])
	attrs["releaseTime"] = strconv.FormatInt(rec.ReleaseTime, 10)
	if def != nil {
		attrs["operation"] = def.Name
		attrs["workflow"] = def.Workflow.String()
	}
	return attrs
}

func newRequestedEvent(def *OperationDefinition, rec *txrecord.TxRecord) *events.Event {
	return &events.Event{Type: EventTypeRequested, Attributes: recordAttributes(def, rec)}
}

func newCompletedEvent(def *OperationDefinition, rec *txrecord.TxRecord) *events.Event {
	return &events.Event{Type: EventTypeCompleted, Attributes: recordAttributes(def, rec)}
}

func newCancelledEvent(def *OperationDefinition, rec *txrecord.TxRecord) *events.Event {
	return &events.Event{Type: EventTypeCancelled, Attributes: recordAttributes(def, rec)}
}

func newFailedEvent(def *OperationDefinition, rec *txrecord.TxRecord, execErr error) *events.Event {
	attrs := recordAttributes(def, rec)
	if execErr != nil {
		attrs["error"] = execErr.Error()
	}
	return &events.Event{Type: EventTypeFailed, Attributes: attrs}
}
