package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/models"
)

type fakeSender struct {
	notes    []string
	messages []string
	err      error
	// during runs once, while the next note is being sent
	during func()
}

func (f *fakeSender) SendJobNote(ctx context.Context, jobID int64, m *models.Message) error {
	if f.during != nil {
		during := f.during
		f.during = nil
		during()
	}
	if f.err != nil {
		return f.err
	}
	f.notes = append(f.notes, m.Content)
	return nil
}

func (f *fakeSender) SendCoworkerMessage(ctx context.Context, jobID int64, m *models.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, m.RecipientID+":"+m.Content)
	return nil
}

func TestAddJobNote_QueuesAndReportsOffline(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.messaging.AddJobNote(ctx, 100, "dog in backyard")
	require.NoError(t, err)
	assert.False(t, res.Offline)
	assert.Equal(t, models.MessageStatusPendingSync, res.Message.Status)

	e.net.online = false
	res, err = e.messaging.SendCoworkerMessage(ctx, 100, "emp-2", "running late")
	require.NoError(t, err)
	assert.True(t, res.Offline)
	assert.Equal(t, models.MessageTypeCoworkerMessage, res.Message.MessageType)

	q := e.queue(t, 100)
	require.Len(t, q, 2)
	for _, entry := range q {
		assert.Equal(t, models.OperationMessageSend, entry.OperationType)
	}

	n, err := e.messaging.GetPendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDrafts_StayLocalUntilSent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	d, err := e.messaging.SaveDraftMessage(ctx, 100, "emp-2", "first")
	require.NoError(t, err)
	assert.Empty(t, e.queue(t, 100))

	d, err = e.messaging.UpdateDraftMessage(ctx, d.ID, "second")
	require.NoError(t, err)
	assert.Equal(t, "second", d.Content)
	assert.Empty(t, e.queue(t, 100))

	res, err := e.messaging.SendDraftMessage(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusPendingSync, res.Message.Status)
	assert.Equal(t, models.MessageTypeCoworkerMessage, res.Message.MessageType)
	assert.Len(t, e.queue(t, 100), 1)

	_, err = e.messaging.SendDraftMessage(ctx, d.ID)
	require.ErrorIs(t, err, common.ErrNotADraft)

	_, err = e.messaging.UpdateDraftMessage(ctx, d.ID, "third")
	require.ErrorIs(t, err, common.ErrInvalidState)
	require.ErrorIs(t, e.messaging.DeleteDraftMessage(ctx, d.ID), common.ErrInvalidState)

	_, err = e.messaging.UpdateDraftMessage(ctx, "missing", "x")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestDeleteDraftMessage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	d, err := e.messaging.SaveDraftMessage(ctx, 100, "", "note draft")
	require.NoError(t, err)
	require.NoError(t, e.messaging.DeleteDraftMessage(ctx, d.ID))

	list, err := e.messaging.GetMessagesForJob(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSendDraft_WithoutRecipientBecomesNote(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	d, err := e.messaging.SaveDraftMessage(ctx, 100, "", "note draft")
	require.NoError(t, err)
	res, err := e.messaging.SendDraftMessage(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageTypeJobNote, res.Message.MessageType)
}

func TestJobNotes_EditableUntilSynced(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.messaging.AddJobNote(ctx, 100, "v1")
	require.NoError(t, err)
	id := res.Message.ID

	_, err = e.messaging.UpdateJobNote(ctx, id, "v2")
	require.NoError(t, err)

	q := e.queue(t, 100)
	require.Len(t, q, 1)
	require.NoError(t, e.messaging.SyncMessage(ctx, q[0]))
	assert.Equal(t, []string{"v2"}, e.sender.notes)

	_, err = e.messaging.UpdateJobNote(ctx, id, "v3")
	require.ErrorIs(t, err, common.ErrAlreadySynced)
	require.ErrorIs(t, e.messaging.DeleteJobNote(ctx, id), common.ErrAlreadySynced)

	coworker, err := e.messaging.SendCoworkerMessage(ctx, 100, "emp-2", "hi")
	require.NoError(t, err)
	_, err = e.messaging.UpdateJobNote(ctx, coworker.Message.ID, "edit")
	require.ErrorIs(t, err, common.ErrInvalidState)
}

func TestDeleteJobNote_QueuedSendBecomesNoop(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.messaging.AddJobNote(ctx, 100, "oops")
	require.NoError(t, err)
	require.NoError(t, e.messaging.DeleteJobNote(ctx, res.Message.ID))

	q := e.queue(t, 100)
	require.Len(t, q, 1)
	require.NoError(t, e.messaging.SyncMessage(ctx, q[0]))
	assert.Empty(t, e.sender.notes)
}

func TestSyncMessage_NoteEditedDuringSendIsResent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.messaging.AddJobNote(ctx, 100, "old")
	require.NoError(t, err)
	id := res.Message.ID
	entry := e.queue(t, 100)[0]

	var editErr error
	e.sender.during = func() {
		_, editErr = e.messaging.UpdateJobNote(ctx, id, "new")
	}
	err = e.messaging.SyncMessage(ctx, entry)
	require.NoError(t, editErr)
	require.ErrorIs(t, err, common.ErrStale)
	assert.True(t, common.CanContinue(err))

	list, err := e.messaging.GetMessagesForJob(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "new", list[0].Content)
	assert.Equal(t, models.MessageStatusPendingSync, list[0].Status)

	require.NoError(t, e.messaging.SyncMessage(ctx, entry))
	assert.Equal(t, []string{"old", "new"}, e.sender.notes)

	list, err = e.messaging.GetMessagesForJob(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "new", list[0].Content)
	assert.Equal(t, models.MessageStatusSynced, list[0].Status)
}

func TestSyncMessage_NoteDeletedDuringSend(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.messaging.AddJobNote(ctx, 100, "oops")
	require.NoError(t, err)
	entry := e.queue(t, 100)[0]

	e.sender.during = func() {
		require.NoError(t, e.messaging.DeleteJobNote(ctx, res.Message.ID))
	}
	err = e.messaging.SyncMessage(ctx, entry)
	assert.True(t, common.CanContinue(err))

	require.NoError(t, e.messaging.SyncMessage(ctx, entry))
	assert.Equal(t, []string{"oops"}, e.sender.notes)

	list, err := e.messaging.GetMessagesForJob(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSyncMessage_ErrorClasses(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.messaging.SendCoworkerMessage(ctx, 100, "emp-2", "hello")
	require.NoError(t, err)
	entry := e.queue(t, 100)[0]

	e.sender.err = common.NewRetryableError(errors.New("timeout"))
	err = e.messaging.SyncMessage(ctx, entry)
	require.Error(t, err)
	assert.True(t, common.CanContinue(err))

	list, err := e.messaging.GetMessagesForJob(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusPendingSync, list[0].Status)
	assert.Contains(t, list[0].LastError, "timeout")

	e.sender.err = errors.New("400 recipient does not exist")
	err = e.messaging.SyncMessage(ctx, entry)
	require.Error(t, err)
	assert.False(t, common.CanContinue(err))

	list, err = e.messaging.GetMessagesForJob(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusFailed, list[0].Status)
	assert.Equal(t, res.Message.ID, list[0].ID)
}

func TestSyncMessage_UnknownType(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	d, err := e.messaging.SaveDraftMessage(ctx, 100, "emp-2", "draft")
	require.NoError(t, err)

	entry, err := models.NewQueueEntry(100, models.OperationMessageSend,
		models.MessagePayload{MessageID: d.ID, MessageType: d.MessageType})
	require.NoError(t, err)

	err = e.messaging.SyncMessage(ctx, entry)
	require.ErrorIs(t, err, common.ErrUnknownMessageType)
	assert.Empty(t, e.sender.messages)
}

func TestGetMessagesForJob_Chronological(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.messaging.AddJobNote(ctx, 100, "first")
	require.NoError(t, err)
	e.clock.Advance(time.Minute)
	_, err = e.messaging.AddJobNote(ctx, 100, "second")
	require.NoError(t, err)
	_, err = e.messaging.AddJobNote(ctx, 200, "other job")
	require.NoError(t, err)

	list, err := e.messaging.GetMessagesForJob(ctx, 100)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].Content)
	assert.Equal(t, "second", list[1].Content)
}

func TestCleanupSyncedMessages(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	old, err := e.messaging.AddJobNote(ctx, 100, "old")
	require.NoError(t, err)
	require.NoError(t, e.messaging.SyncMessage(ctx, e.queue(t, 100)[0]))

	e.clock.Advance(23 * time.Hour)
	_, err = e.messaging.AddJobNote(ctx, 100, "pending")
	require.NoError(t, err)

	e.clock.Advance(2 * time.Hour)
	n, err := e.messaging.CleanupSyncedMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := e.messaging.GetMessagesForJob(ctx, 100)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.NotEqual(t, old.Message.ID, list[0].ID)
}
