package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatwire/pkg/models"
	"chatwire/pkg/utils"
)

func openTestStore(t *testing.T) {
	t.Helper()
	require.NoError(t, Open(filepath.Join(t.TempDir(), "db")))
	t.Cleanup(func() { _ = Close() })
}

func seedSession(t *testing.T, id string) *models.Session {
	t.Helper()
	s := &models.Session{
		ID:           id,
		Subject:      "printer on fire",
		Status:       models.StatusPending,
		CustomerID:   "cust-1",
		CustomerName: "Cara",
		CreatedTS:    time.Now().UnixNano(),
		LastActiveTS: time.Now().UnixNano(),
	}
	require.NoError(t, SaveSession(s))
	return s
}

// appendN appends n text messages the way the coordinator does: advance
// LastSeq on the session, then commit both in one batch.
func appendN(t *testing.T, s *models.Session, n int) []models.Message {
	t.Helper()
	out := make([]models.Message, 0, n)
	for i := 0; i < n; i++ {
		s.LastSeq++
		m := models.Message{
			ID:         utils.NewID(),
			SessionID:  s.ID,
			Seq:        s.LastSeq,
			SenderID:   "cust-1",
			SenderRole: models.RoleCustomer,
			Type:       models.TypeText,
			Content:    fmt.Sprintf("message %d", s.LastSeq),
			TS:         time.Now().UnixNano(),
		}
		require.NoError(t, AppendMessage(s, &m))
		out = append(out, m)
	}
	return out
}

func TestSessionRoundTripAndList(t *testing.T) {
	openTestStore(t)

	a := seedSession(t, "sess-a")
	seedSession(t, "sess-b")

	got, err := GetSession("sess-a")
	require.NoError(t, err)
	assert.Equal(t, a.Subject, got.Subject)
	assert.Equal(t, models.StatusPending, got.Status)

	_, err = GetSession("sess-missing")
	assert.True(t, IsNotFound(err))

	// messages and cursors under the same prefix must not leak into the list
	appendN(t, a, 3)
	require.NoError(t, SaveCursor(&models.ReadCursor{SessionID: "sess-a", UserID: "cust-1", Seq: 2}))

	all, err := ListSessions()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListMessagesAfterPagesInOrder(t *testing.T) {
	openTestStore(t)
	s := seedSession(t, "sess-page")
	msgs := appendN(t, s, 5)

	// everything after seq 2, capped at 2
	page, err := ListMessagesAfter(s.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].Seq)
	assert.Equal(t, int64(4), page[1].Seq)

	// tail page
	page, err = ListMessagesAfter(s.ID, 4, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, msgs[4].ID, page[0].ID)

	// past the end
	page, err = ListMessagesAfter(s.ID, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	// limit <= 0 means the whole tail
	page, err = ListMessagesAfter(s.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, page, 5)
}

func TestListRecentMessagesReturnsNewestWindowAscending(t *testing.T) {
	openTestStore(t)
	s := seedSession(t, "sess-recent")
	appendN(t, s, 7)

	recent, err := ListRecentMessages(s.ID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, int64(5), recent[0].Seq)
	assert.Equal(t, int64(6), recent[1].Seq)
	assert.Equal(t, int64(7), recent[2].Seq)

	// window larger than the log returns everything
	recent, err = ListRecentMessages(s.ID, 50)
	require.NoError(t, err)
	assert.Len(t, recent, 7)

	recent, err = ListRecentMessages("sess-empty", 3)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestGetMessageSeqResolvesIDs(t *testing.T) {
	openTestStore(t)
	s := seedSession(t, "sess-ids")
	msgs := appendN(t, s, 3)

	seq, err := GetMessageSeq(s.ID, msgs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)

	_, err = GetMessageSeq(s.ID, "ghost")
	assert.True(t, IsNotFound(err))
}

func TestCursorRoundTrip(t *testing.T) {
	openTestStore(t)
	seedSession(t, "sess-cur")

	_, err := GetCursor("sess-cur", "cust-1")
	assert.True(t, IsNotFound(err))

	require.NoError(t, SaveCursor(&models.ReadCursor{
		SessionID: "sess-cur",
		UserID:    "cust-1",
		Seq:       4,
		ReadTS:    time.Now().UnixNano(),
	}))
	c, err := GetCursor("sess-cur", "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), c.Seq)
}

func TestMaxSeqForSession(t *testing.T) {
	openTestStore(t)
	s := seedSession(t, "sess-max")

	max, err := MaxSeqForSession(s.ID)
	require.NoError(t, err)
	assert.Zero(t, max)

	appendN(t, s, 4)
	max, err = MaxSeqForSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), max)
}

func TestRawKeyHelpers(t *testing.T) {
	openTestStore(t)

	require.NoError(t, DBSet([]byte("system:flag"), []byte("on")))
	v, err := GetKey("system:flag")
	require.NoError(t, err)
	assert.Equal(t, "on", v)

	keys, err := ListKeys("system:")
	require.NoError(t, err)
	assert.Equal(t, []string{"system:flag"}, keys)

	require.NoError(t, DeleteKey("system:flag"))
	_, err = GetKey("system:flag")
	assert.True(t, IsNotFound(err))

	// deleting a missing key is not an error
	require.NoError(t, DeleteKey("system:flag"))
}

func TestReadyTracksOpenClose(t *testing.T) {
	assert.False(t, Ready())
	openTestStore(t)
	assert.True(t, Ready())
	require.NoError(t, Close())
	assert.False(t, Ready())
}
