package store

import (
	"context"
	"testing"

	"giftwatch/internal/event"
)

func seedGift(t *testing.T, s *Store, ts int64, uname, gift string, num int) int64 {
	t.Helper()
	id, err := s.InsertGift(context.Background(), event.GiftEvent{
		Kind:      event.KindGiftSend,
		Timestamp: ts,
		RoomID:    testRoom,
		ActorName: uname,
		ItemName:  gift,
		Quantity:  num,
		Raw:       `{}`,
	})
	if err != nil {
		t.Fatalf("InsertGift: %v", err)
	}
	return id
}

func TestInsertAndQueryGifts(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	seedGift(t, s, 100, "alice", "Star", 10)
	seedGift(t, s, 200, "bob", "Rose", 1)
	seedGift(t, s, 300, "alice", "Rose", 2)

	all, err := s.Gifts(ctx, testRoom, GiftQuery{})
	if err != nil {
		t.Fatalf("Gifts: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].Timestamp != 300 {
		t.Fatalf("expected newest first, got ts=%d", all[0].Timestamp)
	}

	alice, err := s.Gifts(ctx, testRoom, GiftQuery{ActorName: "alice"})
	if err != nil {
		t.Fatalf("Gifts: %v", err)
	}
	if len(alice) != 2 {
		t.Fatalf("alice rows = %d, want 2", len(alice))
	}

	filtered, err := s.Gifts(ctx, testRoom, GiftQuery{ActorName: "alice", ItemName: "Rose", StartTS: 150})
	if err != nil {
		t.Fatalf("Gifts: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Timestamp != 300 {
		t.Fatalf("filtered = %+v", filtered)
	}

	// Other rooms see nothing.
	other, err := s.Gifts(ctx, testRoom+1, GiftQuery{})
	if err != nil {
		t.Fatalf("Gifts: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("cross-room leak: %+v", other)
	}
}

func TestGiftByIDAndDelete(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	id := seedGift(t, s, 100, "alice", "Star", 10)

	g, ok, err := s.GiftByID(ctx, id)
	if err != nil || !ok {
		t.Fatalf("GiftByID: ok=%v err=%v", ok, err)
	}
	if g.ActorName != "alice" || g.Quantity != 10 {
		t.Fatalf("row = %+v", g)
	}

	deleted, err := s.DeleteGift(ctx, id)
	if err != nil || !deleted {
		t.Fatalf("DeleteGift: %v %v", deleted, err)
	}
	if _, ok, _ := s.GiftByID(ctx, id); ok {
		t.Fatal("row still present after delete")
	}
	if deleted, _ := s.DeleteGift(ctx, id); deleted {
		t.Fatal("second delete should report false")
	}
}
