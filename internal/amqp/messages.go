package amqp

import (
	"encoding/json"
	"time"
)

// Reasons carried by GroupChangedMessage.
const (
	ReasonExpenseAdded   = "expense_added"
	ReasonExpenseUpdated = "expense_updated"
	ReasonExpenseDeleted = "expense_deleted"
	ReasonPaymentAdded   = "payment_added"
	ReasonPaymentUpdated = "payment_updated"
	ReasonPaymentDeleted = "payment_deleted"
	ReasonMembersChanged = "members_changed"
	ReasonGroupRenamed   = "group_renamed"
	ReasonReconciled     = "reconciled"
)

// GroupChangedMessage announces that a group's balances reached Version.
// Consumers read the current state from storage and drop messages whose
// version is older than what they already processed.
type GroupChangedMessage struct {
	GroupID   int64     `json:"group_id"`
	Version   int64     `json:"version"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func NewGroupChangedMessage(groupID, version int64, reason string) *GroupChangedMessage {
	return &GroupChangedMessage{
		GroupID:   groupID,
		Version:   version,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

func (m *GroupChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func GroupChangedMessageFromJSON(data []byte) (*GroupChangedMessage, error) {
	var msg GroupChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
