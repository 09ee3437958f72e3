package connect_test

import (
	"context"
	"testing"

	connect "github.com/goliatone/go-connect"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func TestConnectionRequestsRepository(t *testing.T) {
	repo := connect.NewRepositoryManager(newTestDB(t))
	ctx := context.Background()

	alice := seedUser(t, repo, "alice@example.com", "Alice")
	bob := seedUser(t, repo, "bob@example.com", "Bob")
	requests := repo.ConnectionRequests()

	record, err := requests.Open(ctx, &connect.ConnectionRequest{RequesterID: alice.ID, ReceiverID: bob.ID})
	require.NoError(t, err)
	assert.Equal(t, connect.ConnectionPending, record.Status)
	assert.NotNil(t, record.CreatedAt)

	_, err = requests.Open(ctx, &connect.ConnectionRequest{RequesterID: alice.ID, ReceiverID: bob.ID})
	assert.ErrorIs(t, err, connect.ErrConnectionExists)

	loaded, err := requests.GetWithParticipants(ctx, record.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.Requester)
	require.NotNil(t, loaded.Receiver)
	assert.Equal(t, "alice@example.com", loaded.Requester.Email)
	assert.Equal(t, "bob@example.com", loaded.Receiver.Email)

	between, err := requests.GetBetween(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, between.ID)

	_, err = requests.GetBetween(ctx, bob.ID, alice.ID)
	assert.True(t, connect.IsNotFound(err))

	_, err = requests.GetWithParticipants(ctx, uuid.New())
	assert.True(t, connect.IsNotFound(err))
}

func TestConnectionRequestsRepository_UpdateInTx(t *testing.T) {
	db := newTestDB(t)
	repo := connect.NewRepositoryManager(db)
	ctx := context.Background()

	alice := seedUser(t, repo, "alice@example.com", "")
	bob := seedUser(t, repo, "bob@example.com", "")
	record, err := repo.ConnectionRequests().Open(ctx, &connect.ConnectionRequest{
		RequesterID: alice.ID,
		ReceiverID:  bob.ID,
		Message:     "hi",
	})
	require.NoError(t, err)

	err = repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record.Status = connect.ConnectionAccepted
		record.Message = "ignored"
		_, err := repo.ConnectionRequests().UpdateColumnsTx(ctx, tx, record, "status")
		return err
	})
	require.NoError(t, err)

	list, err := repo.ConnectionRequests().ListForUser(ctx, bob.ID, connect.ConnectionAccepted)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "hi", list[0].Message)

	list, err = repo.ConnectionRequests().ListForUser(ctx, alice.ID, connect.ConnectionPending)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = repo.ConnectionRequests().UpdateColumnsTx(ctx, db, &connect.ConnectionRequest{ID: uuid.New()}, "status")
	assert.True(t, connect.IsNotFound(err))
}
