package event

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Membership tiers use fixed display names; anything out of range falls
// back to the generic label.
var tierNames = map[int64]string{1: "总督", 2: "提督", 3: "舰长"}

const genericTierName = "大航海"

// Payload is one decoded inbound notification: a command tag plus the
// unwrapped data object. The normalizer is a total function over Payload;
// unrecognized kinds simply normalize to nothing.
type Payload struct {
	Kind Kind
	Data map[string]any
	raw  map[string]any
}

// Decode classifies a raw inbound object and unwraps its envelope(s).
//
// Two wrapper shapes are tolerated:
//   - the dispatcher re-wrap {"name": "<cmd>", "data": [<event>]}
//   - the transport nesting {"cmd": ..., "data": {"data": {...}}}
func Decode(raw map[string]any) Payload {
	if raw == nil {
		return Payload{}
	}

	// Envelope form: {"name": cmd, "data": [inner]}.
	if name, ok := raw["name"].(string); ok {
		if seq, ok := raw["data"].([]any); ok && len(seq) > 0 {
			if inner, ok := seq[0].(map[string]any); ok {
				ev := make(map[string]any, len(inner)+1)
				for k, v := range inner {
					ev[k] = v
				}
				if _, has := ev["cmd"]; !has && name != "" {
					ev["cmd"] = name
				}
				raw = ev
			}
		}
	}

	cmd := firstString(raw, "cmd", "command", "type")

	data := raw
	if outer, ok := raw["data"].(map[string]any); ok {
		data = outer
		// Some transports nest the real payload one level deeper.
		if inner, ok := outer["data"].(map[string]any); ok {
			data = inner
		}
	}

	return Payload{Kind: Kind(cmd), Data: data, raw: raw}
}

// Normalize coerces a payload into a canonical GiftEvent.
// The second return is false when the payload should be dropped:
// unrecognized kind, or actor/item identity unresolvable.
func Normalize(p Payload, roomID int64) (GiftEvent, bool) {
	switch p.Kind {
	case KindGiftSend, KindComboSend:
		return normalizeGift(p, roomID)
	case KindMembership:
		return normalizeMembership(p, roomID)
	default:
		return GiftEvent{}, false
	}
}

func normalizeGift(p Payload, roomID int64) (GiftEvent, bool) {
	data := p.Data
	if data == nil {
		return GiftEvent{}, false
	}

	actorName := strings.TrimSpace(firstString(data, "uname", "name", "username"))

	var giftObj map[string]any
	if g, ok := data["gift"].(map[string]any); ok {
		giftObj = g
	}
	itemName := strings.TrimSpace(firstString(data, "giftName", "gift_name"))
	if itemName == "" && giftObj != nil {
		itemName = strings.TrimSpace(firstString(giftObj, "giftName", "gift_name"))
	}
	itemID := firstInt(data, 0, "giftId", "gift_id")
	if itemID == 0 && giftObj != nil {
		itemID = firstInt(giftObj, 0, "giftId", "gift_id")
	}

	if actorName == "" || itemName == "" {
		return GiftEvent{}, false
	}

	ev := GiftEvent{
		Kind:       p.Kind,
		RoomID:     roomID,
		ActorID:    firstInt(data, 0, "uid"),
		ActorName:  actorName,
		ItemID:     itemID,
		ItemName:   itemName,
		Quantity:   int(firstInt(data, 1, "num", "total_num", "combo_num")),
		TotalValue: firstInt(data, 0, "total_coin", "totalCoin", "price", "giftPrice", "combo_total_coin"),
		Timestamp:  eventTimestamp(p, data),
		Raw:        marshalRaw(p),
	}
	if ev.Quantity < 1 {
		ev.Quantity = 1
	}
	if ev.TotalValue < 0 {
		ev.TotalValue = 0
	}
	return ev, true
}

func normalizeMembership(p Payload, roomID int64) (GiftEvent, bool) {
	data := p.Data
	if data == nil {
		return GiftEvent{}, false
	}

	actorName := strings.TrimSpace(firstString(data, "username", "uname"))

	// Membership events reuse the gift_id slot for the tier level.
	tier := firstInt(data, 0, "guard_level", "gift_id")
	itemName := strings.TrimSpace(firstString(data, "gift_name"))
	if itemName == "" {
		itemName = tierName(tier)
	}

	if actorName == "" || itemName == "" {
		return GiftEvent{}, false
	}

	qty := int(firstInt(data, 1, "num"))
	if qty < 1 {
		qty = 1
	}
	unitPrice := firstInt(data, 0, "price")
	if unitPrice < 0 {
		unitPrice = 0
	}

	ts := firstInt(data, 0, "start_time", "timestamp")
	if ts == 0 {
		ts = firstInt(p.raw, time.Now().Unix(), "timestamp")
	}

	return GiftEvent{
		Kind:       KindMembership,
		RoomID:     roomID,
		ActorID:    firstInt(data, 0, "uid"),
		ActorName:  actorName,
		ItemID:     tier,
		ItemName:   itemName,
		Quantity:   qty,
		TotalValue: unitPrice * int64(qty),
		Timestamp:  ts,
		Raw:        marshalRaw(p),
	}, true
}

func tierName(tier int64) string {
	if name, ok := tierNames[tier]; ok {
		return name
	}
	return genericTierName
}

func eventTimestamp(p Payload, data map[string]any) int64 {
	if ts := firstInt(data, 0, "timestamp"); ts != 0 {
		return ts
	}
	if ts := firstInt(p.raw, 0, "timestamp"); ts != 0 {
		return ts
	}
	return time.Now().Unix()
}

func marshalRaw(p Payload) string {
	src := p.raw
	if src == nil {
		src = p.Data
	}
	b, err := json.Marshal(src)
	if err != nil {
		return ""
	}
	return string(b)
}

// firstString returns the first non-empty string value among the keys.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// firstInt returns the first parseable integer among the keys, else def.
// Upstream transports are loose about number encoding, so accept float64
// (json), integer types, and numeric strings.
func firstInt(m map[string]any, def int64, keys ...string) int64 {
	if m == nil {
		return def
	}
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		if n, ok := asInt(v); ok {
			return n
		}
	}
	return def
}

func asInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		return int64(x), true
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			f, ferr := x.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return n, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
