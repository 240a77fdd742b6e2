package worker

import (
	"encoding/json"

	"github.com/paygateway/server/internal/storage"
)

func toRawMessage(r storage.RawJSON) json.RawMessage { return json.RawMessage(r) }

// paymentNotificationPayload mirrors the "payment" topic event exactly:
// handler owners see the same body topic consumers see.
type paymentNotificationPayload struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	ExtraData json.RawMessage `json:"extra_data"`
}

// refundNotificationPayload mirrors the "refund" topic event, which is the
// only schema that carries the provider's cancellation reason.
type refundNotificationPayload struct {
	ID                         string          `json:"id"`
	Status                     string          `json:"status"`
	ExternalCancellationReason *string         `json:"external_cancellation_reason"`
	ExtraData                  json.RawMessage `json:"extra_data"`
}

func buildPaymentNotificationPayload(id, status string, extraData storage.RawJSON) storage.RawJSON {
	return marshalNotificationPayload(paymentNotificationPayload{
		ID:        id,
		Status:    status,
		ExtraData: json.RawMessage(extraData),
	})
}

func buildRefundNotificationPayload(id, status string, cancellationReason *string, extraData storage.RawJSON) storage.RawJSON {
	return marshalNotificationPayload(refundNotificationPayload{
		ID:                         id,
		Status:                     status,
		ExternalCancellationReason: cancellationReason,
		ExtraData:                  json.RawMessage(extraData),
	})
}

func marshalNotificationPayload(payload any) storage.RawJSON {
	encoded, err := json.Marshal(payload)
	if err != nil {
		// Marshaling structs of strings and a json.RawMessage only fails
		// if ExtraData itself is malformed, which would have already
		// failed at admission time.
		return storage.RawJSON(`{}`)
	}
	return storage.RawJSON(encoded)
}
