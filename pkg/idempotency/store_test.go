package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

func TestSeenFirstTime(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewStore(db, time.Hour)

	mock.ExpectSetNX("dedupe:ev-1", "1", time.Hour).SetVal(true)

	seen, err := store.Seen(context.Background(), "ev-1")
	assert.NoError(t, err)
	assert.False(t, seen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeenDuplicate(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewStore(db, time.Hour)

	mock.ExpectSetNX("dedupe:ev-1", "1", time.Hour).SetVal(false)

	seen, err := store.Seen(context.Background(), "ev-1")
	assert.NoError(t, err)
	assert.True(t, seen)
	assert.NoError(t, mock.ExpectationsWereMet())
}
