package store

import (
	"context"
)

func (d *DB) CreateNotification(ctx context.Context, n *Notification) error {
	now := d.now()

	if n.PayloadJSON == "" {
		n.PayloadJSON = "{}"
	}

	id, err := d.insert(ctx,
		"INSERT INTO notifications (user_id, type, title, body, payload_json, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		n.UserID, n.Type, n.Title, n.Body, n.PayloadJSON, now,
	)
	if err != nil {
		return err
	}

	n.ID, n.CreatedAt = id, now

	return nil
}

// ListNotifications returns the newest notifications of a user first.
func (d *DB) ListNotifications(ctx context.Context, userID int64, limit int) ([]Notification, error) {
	var ns []Notification

	err := d.selectAll(ctx, &ns,
		"SELECT id, user_id, type, title, body, payload_json, read_at, created_at FROM notifications "+
			"WHERE user_id = ? ORDER BY id DESC LIMIT ?",
		userID, limit,
	)

	return ns, err
}
