package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"giftwatch/internal/event"
)

// GiftRecord is one persisted contribution row.
type GiftRecord struct {
	ID         int64  `json:"id"`
	Timestamp  int64  `json:"ts"`
	RoomID     int64  `json:"room_id"`
	Kind       string `json:"kind"`
	ActorID    int64  `json:"uid"`
	ActorName  string `json:"uname"`
	ItemID     int64  `json:"gift_id"`
	ItemName   string `json:"gift_name"`
	Quantity   int    `json:"num"`
	TotalValue int64  `json:"total_price"`
}

// GiftQuery filters history reads. Zero fields mean "no filter".
type GiftQuery struct {
	ActorName string
	ItemName  string
	StartTS   int64
	EndTS     int64
	Limit     int
}

// InsertGift appends one normalized event to the history, independent of
// any notification decision. Returns the assigned row id.
func (s *Store) InsertGift(ctx context.Context, ev event.GiftEvent) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO gifts(ts, room_id, kind, uid, uname, gift_id, gift_name, num, total_price, raw_json)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		ev.Timestamp, ev.RoomID, string(ev.Kind), ev.ActorID, ev.ActorName,
		ev.ItemID, ev.ItemName, ev.Quantity, ev.TotalValue, nullStr(ev.Raw),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Gifts returns history rows for one room, newest first.
func (s *Store) Gifts(ctx context.Context, roomID int64, q GiftQuery) ([]GiftRecord, error) {
	where := []string{"room_id = ?"}
	args := []any{roomID}
	if q.ActorName != "" {
		where = append(where, "uname = ?")
		args = append(args, q.ActorName)
	}
	if q.ItemName != "" {
		where = append(where, "gift_name = ?")
		args = append(args, q.ItemName)
	}
	if q.StartTS > 0 {
		where = append(where, "ts >= ?")
		args = append(args, q.StartTS)
	}
	if q.EndTS > 0 {
		where = append(where, "ts <= ?")
		args = append(args, q.EndTS)
	}
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, room_id, kind, COALESCE(uid,0), COALESCE(uname,''), COALESCE(gift_id,0),
		        COALESCE(gift_name,''), COALESCE(num,1), COALESCE(total_price,0)
		 FROM gifts WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY ts DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GiftRecord
	for rows.Next() {
		var g GiftRecord
		if err := rows.Scan(&g.ID, &g.Timestamp, &g.RoomID, &g.Kind, &g.ActorID, &g.ActorName,
			&g.ItemID, &g.ItemName, &g.Quantity, &g.TotalValue); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GiftByID returns one row; ok is false when the id does not exist.
func (s *Store) GiftByID(ctx context.Context, id int64) (GiftRecord, bool, error) {
	var g GiftRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, ts, room_id, kind, COALESCE(uid,0), COALESCE(uname,''), COALESCE(gift_id,0),
		        COALESCE(gift_name,''), COALESCE(num,1), COALESCE(total_price,0)
		 FROM gifts WHERE id = ?`, id).
		Scan(&g.ID, &g.Timestamp, &g.RoomID, &g.Kind, &g.ActorID, &g.ActorName,
			&g.ItemID, &g.ItemName, &g.Quantity, &g.TotalValue)
	if errors.Is(err, sql.ErrNoRows) {
		return GiftRecord{}, false, nil
	}
	if err != nil {
		return GiftRecord{}, false, err
	}
	return g, true, nil
}

// DeleteGift removes one row; reports whether anything was deleted.
func (s *Store) DeleteGift(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM gifts WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
