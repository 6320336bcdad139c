package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"whatsrelay/internal/constants"
	"whatsrelay/internal/errors"
	"whatsrelay/internal/models"
	"whatsrelay/internal/tenant"
)

// Insert stores msg unless a row with the same id already exists.
// It reports whether a new row was written; a duplicate is not an error.
func (d *Database) Insert(ctx context.Context, table tenant.Table, msg *models.Message) (bool, error) {
	name, err := d.allowed(table)
	if err != nil {
		return false, errors.NewDatabaseError("insert", err)
	}

	body, err := d.encryptor.Encrypt(msg.Body)
	if err != nil {
		return false, errors.NewDatabaseError("insert", fmt.Errorf("failed to encrypt body: %w", err))
	}

	query := rebind(d.dialect, forTable(insertMessageQuery, name))
	var inserted bool
	err = retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, query,
			msg.ID,
			msg.WaID,
			msg.Name,
			string(msg.Type),
			body,
			msg.Timestamp.UnixMilli(),
			string(msg.Direction),
			string(msg.Status),
			msg.Read,
			nullString(msg.ImageURL),
			nullString(msg.ImageID),
			d.now().UnixMilli(),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0
		return nil
	}, "insert message")
	if err != nil {
		return false, errors.NewDatabaseError("insert", err)
	}
	return inserted, nil
}

// UpdateStatus sets the provider status of message id. The read flag is only
// ever raised, never cleared. An unknown id is a no-op and returns 0.
func (d *Database) UpdateStatus(ctx context.Context, table tenant.Table, id string, status models.DeliveryStatus, read bool) (int64, error) {
	name, err := d.allowed(table)
	if err != nil {
		return 0, errors.NewDatabaseError("update_status", err)
	}

	query := rebind(d.dialect, forTable(updateStatusQuery, name))
	var affected int64
	err = retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, query, string(status), read, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	}, "update status")
	if err != nil {
		return 0, errors.NewDatabaseError("update_status", err)
	}
	return affected, nil
}

// ListChats returns one summary per conversation, most recent first.
func (d *Database) ListChats(ctx context.Context, table tenant.Table) ([]models.ChatSummary, error) {
	name, err := d.allowed(table)
	if err != nil {
		return nil, errors.NewDatabaseError("list_chats", err)
	}

	query := rebind(d.dialect, forTable(selectChatsQuery, name))
	rows, err := d.db.QueryContext(ctx, query,
		string(models.DirectionInbound),
		string(models.DirectionInbound),
		false,
	)
	if err != nil {
		return nil, errors.NewDatabaseError("list_chats", err)
	}
	defer func() { _ = rows.Close() }()

	chats := make([]models.ChatSummary, 0)
	for rows.Next() {
		var (
			chat   models.ChatSummary
			lastMs int64
			body   string
		)
		if err := rows.Scan(&chat.WaID, &chat.Name, &lastMs, &body, &chat.UnreadCount); err != nil {
			return nil, errors.NewDatabaseError("list_chats", err)
		}
		if chat.LastBody, err = d.encryptor.Decrypt(body); err != nil {
			return nil, errors.NewDatabaseError("list_chats", err)
		}
		if chat.Name == "" {
			chat.Name = fmt.Sprintf("%s (%s)", constants.DefaultContactName, chat.WaID)
		}
		chat.LastMessageTimestamp = time.UnixMilli(lastMs).UTC()
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("list_chats", err)
	}
	return chats, nil
}

// ListMessages returns the conversation with waID in ascending time order.
func (d *Database) ListMessages(ctx context.Context, table tenant.Table, waID string) ([]models.Message, error) {
	name, err := d.allowed(table)
	if err != nil {
		return nil, errors.NewDatabaseError("list_messages", err)
	}

	rows, err := d.db.QueryContext(ctx, rebind(d.dialect, forTable(selectMessagesQuery, name)), waID)
	if err != nil {
		return nil, errors.NewDatabaseError("list_messages", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var (
			msg              models.Message
			msgType, dir, st string
			body             string
			tsMs             int64
			imageURL         sql.NullString
			imageID          sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.WaID, &msg.Name, &msgType, &body, &tsMs,
			&dir, &st, &msg.Read, &imageURL, &imageID); err != nil {
			return nil, errors.NewDatabaseError("list_messages", err)
		}
		if msg.Body, err = d.encryptor.Decrypt(body); err != nil {
			return nil, errors.NewDatabaseError("list_messages", err)
		}
		msg.Type = models.MessageType(msgType)
		msg.Direction = models.Direction(dir)
		msg.Status = models.DeliveryStatus(st)
		msg.Timestamp = time.UnixMilli(tsMs).UTC()
		msg.ImageURL = stringPtr(imageURL)
		msg.ImageID = stringPtr(imageID)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("list_messages", err)
	}
	return messages, nil
}

// MarkRead flags every unread inbound message from waID as read and returns
// how many rows changed. A second call changes nothing.
func (d *Database) MarkRead(ctx context.Context, table tenant.Table, waID string) (int64, error) {
	name, err := d.allowed(table)
	if err != nil {
		return 0, errors.NewDatabaseError("mark_read", err)
	}

	query := rebind(d.dialect, forTable(markReadQuery, name))
	var affected int64
	err = retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, query, true, waID, string(models.DirectionInbound), false)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	}, "mark read")
	if err != nil {
		return 0, errors.NewDatabaseError("mark_read", err)
	}
	return affected, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
