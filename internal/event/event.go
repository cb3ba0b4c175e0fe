package event

import "strconv"

// Kind identifies one of the recognized live-room notification commands.
type Kind string

const (
	// KindGiftSend is a single gift send.
	KindGiftSend Kind = "SEND_GIFT"
	// KindComboSend is a batched/combo gift send. Combo delivery arrives as a
	// rapid burst of sub-events for one physical contribution.
	KindComboSend Kind = "COMBO_SEND"
	// KindMembership is a membership (guard) purchase.
	KindMembership Kind = "GUARD_BUY"
	// KindUnknown covers everything else; unknown payloads are dropped.
	KindUnknown Kind = ""
)

// Recognized reports whether the kind is part of the closed vocabulary
// the normalizer accepts.
func (k Kind) Recognized() bool {
	switch k {
	case KindGiftSend, KindComboSend, KindMembership:
		return true
	}
	return false
}

// GiftEvent is the canonical form of one live-room contribution.
// It is immutable once built and flows through the pipeline by value.
type GiftEvent struct {
	Kind       Kind
	Timestamp  int64 // unix seconds
	RoomID     int64
	ActorID    int64 // 0 for anonymous actors; key by ActorName then
	ActorName  string
	ItemID     int64
	ItemName   string
	Quantity   int
	TotalValue int64 // platform currency units
	Raw        string
}

// ActorKey returns the key used for cooldown/debounce bookkeeping.
// Anonymous actors (no id) are keyed by display name.
func (g GiftEvent) ActorKey() string {
	if g.ActorID != 0 {
		return "uid:" + strconv.FormatInt(g.ActorID, 10)
	}
	return "guest:" + g.ActorName
}
