package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScore tests scoring against word and person priorities
func TestScore(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	ctx := context.Background()

	AdmitTestMessages(t, db,
		CreateTestAdmission("s1@example.com", "boss@example.com", "hello hello hello hello hello", baseTime))

	scored, err := db.Score(ctx, "s1@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, scored.Score, "no rules yet")

	require.NoError(t, db.SetWordPriority(ctx, "Hello", 1))
	scored, err = db.Score(ctx, "s1@example.com")
	require.NoError(t, err)
	assert.Equal(t, 5, scored.Score, "five occurrences at priority 1")

	require.NoError(t, db.SetWordPriority(ctx, "hello", 3))
	require.NoError(t, db.SetPersonPriority(ctx, "boss@EXAMPLE.com", 40))
	scored, err = db.Score(ctx, "s1@example.com")
	require.NoError(t, err)
	assert.Equal(t, 55, scored.Score)

	_, err = db.Score(ctx, "missing@example.com")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

// TestPriorityBounds tests rejecting priorities outside 1..100
func TestPriorityBounds(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	ctx := context.Background()

	tests := []struct {
		name     string
		priority int
		wantErr  bool
	}{
		{name: "zero", priority: 0, wantErr: true},
		{name: "minimum", priority: 1},
		{name: "maximum", priority: 100},
		{name: "above maximum", priority: 101, wantErr: true},
		{name: "negative", priority: -5, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wordErr := db.SetWordPriority(ctx, "urgent", tt.priority)
			personErr := db.SetPersonPriority(ctx, "vip@example.com", tt.priority)
			if tt.wantErr {
				assert.ErrorIs(t, wordErr, ErrPriorityOutOfRange)
				assert.ErrorIs(t, personErr, ErrPriorityOutOfRange)
			} else {
				assert.NoError(t, wordErr)
				assert.NoError(t, personErr)
			}
		})
	}

	assert.Error(t, db.SetWordPriority(ctx, "   ", 10), "blank word should be rejected")
}

// TestRankMessages tests ordering by score, then most recent, then Message-ID
func TestRankMessages(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	ctx := context.Background()

	AdmitTestMessages(t, db,
		CreateTestAdmission("old@example.com", "", "nothing here", baseTime),
		CreateTestAdmission("new@example.com", "", "nothing here", baseTime.Add(time.Hour)),
		CreateTestAdmission("b@example.com", "", "nothing", baseTime.Add(-time.Hour)),
		CreateTestAdmission("a@example.com", "", "nothing", baseTime.Add(-time.Hour)),
		CreateTestAdmission("hot@example.com", "ceo@example.com", "deadline deadline", baseTime.Add(-48*time.Hour)),
	)
	require.NoError(t, db.SetWordPriority(ctx, "deadline", 10))
	require.NoError(t, db.SetPersonPriority(ctx, "ceo@example.com", 5))

	ranked, err := db.RankMessages(ctx, 0, 0)
	require.NoError(t, err)

	var ids []string
	for _, m := range ranked {
		ids = append(ids, m.MessageID)
	}
	assert.Equal(t, []string{
		"hot@example.com",
		"new@example.com",
		"old@example.com",
		"a@example.com",
		"b@example.com",
	}, ids)
	assert.Equal(t, 25, ranked[0].Score)

	scored, err := db.Score(ctx, "hot@example.com")
	require.NoError(t, err)
	assert.Equal(t, ranked[0].Score, scored.Score, "SQL ranking and Score agree")

	page, err := db.RankMessages(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "new@example.com", page[0].MessageID)
	assert.Equal(t, "old@example.com", page[1].MessageID)
}

// TestRankMessages_Monotonic tests that raising a priority never lowers a score
func TestRankMessages_Monotonic(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	ctx := context.Background()

	AdmitTestMessages(t, db, CreateTestAdmission("m@example.com", "x@example.com", "alpha beta beta", baseTime))

	last := -1
	for _, p := range []int{1, 2, 50, 100} {
		require.NoError(t, db.SetWordPriority(ctx, "beta", p))
		scored, err := db.Score(ctx, "m@example.com")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, scored.Score, last)
		last = scored.Score
	}
	assert.Equal(t, 200, last)
}
