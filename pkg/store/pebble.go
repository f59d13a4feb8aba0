package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/cockroachdb/pebble"

	"chatwire/pkg/logger"
	"chatwire/pkg/models"
)

var (
	db     *pebble.DB
	dbPath string
)

// Key layout, all per session:
//
//	session:<id>:meta           session metadata JSON (includes last seq)
//	session:<id>:msg:<seq>      message JSON, seq zero-padded so iteration
//	                            order equals seq order
//	session:<id>:msgid:<msgid>  message id -> zero-padded seq
//	session:<id>:cursor:<user>  read cursor JSON
const seqWidth = 20

func msgKey(sessionID string, seq int64) []byte {
	return []byte(fmt.Sprintf("session:%s:msg:%0*d", sessionID, seqWidth, seq))
}

func msgPrefix(sessionID string) []byte {
	return []byte("session:" + sessionID + ":msg:")
}

func metaKey(sessionID string) []byte {
	return []byte("session:" + sessionID + ":meta")
}

func msgIDKey(sessionID, msgID string) []byte {
	return []byte("session:" + sessionID + ":msgid:" + msgID)
}

func cursorKey(sessionID, userID string) []byte {
	return []byte("session:" + sessionID + ":cursor:" + userID)
}

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

// IsNotFound reports whether err is the store's missing-key error, so
// callers do not need to import pebble.
func IsNotFound(err error) bool {
	return errors.Is(err, pebble.ErrNotFound)
}

// SaveSession persists session metadata under its reserved key.
func SaveSession(s *models.Session) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := db.Set(metaKey(s.ID), data, pebble.Sync); err != nil {
		logger.Error("save_session_failed", "session", s.ID, "error", err)
		return err
	}
	logger.Info("session_saved", "session", s.ID, "status", s.Status)
	return nil
}

// GetSession returns the stored session for the given id.
func GetSession(id string) (*models.Session, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(metaKey(id))
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	var s models.Session
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, fmt.Errorf("invalid session metadata: %w", err)
	}
	return &s, nil
}

// ListSessions returns all stored sessions in key order.
func ListSessions() ([]models.Session, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("session:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Session
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.HasSuffix(iter.Key(), []byte(":meta")) {
			continue
		}
		var s models.Session
		if err := json.Unmarshal(iter.Value(), &s); err != nil {
			logger.Warn("list_sessions_bad_meta", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, s)
	}
	return out, iter.Error()
}

// AppendMessage writes a message, its id index and the updated session
// metadata as one atomic batch. The caller has already advanced
// sess.LastSeq to msg.Seq; nothing is visible unless the whole batch
// commits.
func AppendMessage(sess *models.Session, msg *models.Message) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	meta, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	b := db.NewBatch()
	defer b.Close()
	if err := b.Set(msgKey(sess.ID, msg.Seq), data, nil); err != nil {
		return err
	}
	seqVal := []byte(fmt.Sprintf("%0*d", seqWidth, msg.Seq))
	if err := b.Set(msgIDKey(sess.ID, msg.ID), seqVal, nil); err != nil {
		return err
	}
	if err := b.Set(metaKey(sess.ID), meta, nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("append_message_failed", "session", sess.ID, "seq", msg.Seq, "error", err)
		return err
	}
	logger.Info("message_saved", "session", sess.ID, "seq", msg.Seq, "msg_id", msg.ID)
	return nil
}

// ListMessagesAfter returns up to limit messages with seq strictly greater
// than afterSeq, in ascending seq order. A limit <= 0 means no cap.
func ListMessagesAfter(sessionID string, afterSeq int64, limit int) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := msgPrefix(sessionID)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(msgKey(sessionID, afterSeq+1)); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("invalid message JSON at %s: %w", iter.Key(), err)
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// ListRecentMessages returns the newest limit messages in ascending seq
// order, for the first-join backlog window.
func ListRecentMessages(sessionID string, limit int) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := msgPrefix(sessionID)
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for ok := iter.Last(); ok; ok = iter.Prev() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("invalid message JSON at %s: %w", iter.Key(), err)
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	// collected newest-first; reverse to ascending
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, iter.Error()
}

// GetMessageSeq resolves a message id to its seq within the session.
func GetMessageSeq(sessionID, msgID string) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(msgIDKey(sessionID, msgID))
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	seq, err := strconv.ParseInt(string(bytes.TrimLeft(v, "0")), 10, 64)
	if err != nil {
		// all-zero value trims to empty
		if len(bytes.Trim(v, "0")) == 0 {
			return 0, nil
		}
		return 0, fmt.Errorf("invalid seq index at %s: %w", msgIDKey(sessionID, msgID), err)
	}
	return seq, nil
}

// MaxSeqForSession returns the highest message seq stored for the session,
// or 0 when it has no messages. Used by migrations to reconcile session
// metadata against the message log.
func MaxSeqForSession(sessionID string) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := msgPrefix(sessionID)
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, iter.Error()
	}
	tail := iter.Key()[len(prefix):]
	seq, err := strconv.ParseInt(string(bytes.TrimLeft(tail, "0")), 10, 64)
	if err != nil {
		if len(bytes.Trim(tail, "0")) == 0 {
			return 0, nil
		}
		return 0, fmt.Errorf("invalid message key %s: %w", iter.Key(), err)
	}
	return seq, nil
}

// SaveCursor persists a read cursor. Monotonicity is enforced by the
// session writer before calling.
func SaveCursor(c *models.ReadCursor) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal cursor: %w", err)
	}
	if err := db.Set(cursorKey(c.SessionID, c.UserID), data, pebble.Sync); err != nil {
		logger.Error("save_cursor_failed", "session", c.SessionID, "user", c.UserID, "error", err)
		return err
	}
	logger.Debug("cursor_saved", "session", c.SessionID, "user", c.UserID, "seq", c.Seq)
	return nil
}

// GetCursor returns the stored read cursor for (session, user).
func GetCursor(sessionID, userID string) (*models.ReadCursor, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(cursorKey(sessionID, userID))
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	var c models.ReadCursor
	if err := json.Unmarshal(v, &c); err != nil {
		return nil, fmt.Errorf("invalid cursor JSON: %w", err)
	}
	return &c, nil
}

// ListKeys returns all keys (as strings) that start with the given prefix.
// If prefix is empty it returns all keys in the DB.
func ListKeys(prefix string) ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	if prefix == "" {
		for iter.First(); iter.Valid(); iter.Next() {
			out = append(out, string(iter.Key()))
		}
		return out, iter.Error()
	}
	pfx := []byte(prefix)
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		out = append(out, string(iter.Key()))
	}
	return out, iter.Error()
}

// GetKey returns the raw value for the given key.
func GetKey(key string) (string, error) {
	if db == nil {
		return "", fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get([]byte(key))
	if err != nil {
		return "", err
	}
	defer closer.Close()
	return string(v), nil
}

// DBSet writes a raw key (bytes) into the DB. This is a low-level helper
// used by admin utilities and tests.
func DBSet(key, value []byte) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.Set(key, value, pebble.Sync)
}

// DeleteKey removes a raw key with a synced write.
func DeleteKey(key string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.Delete([]byte(key), pebble.Sync)
}

// keyUpperBound returns the smallest key greater than every key with the
// given prefix, for bounded reverse iteration.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // unreachable for ascii prefixes
}
