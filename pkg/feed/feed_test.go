package feed

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/decision-zk/decisiond/pkg/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewService(st), st
}

func TestSeededFeed(t *testing.T) {
	s, _ := newTestService(t)
	items := s.Items("")
	require.Len(t, items, 4)
	assert.NotNil(t, items[0].Dilemma)
	assert.NotNil(t, items[2].PaidPost)
}

func TestLockedPostHidesContent(t *testing.T) {
	s, _ := newTestService(t)
	items := s.Items("aleo1abc")
	post := items[2].PaidPost
	require.NotNil(t, post)
	assert.False(t, post.Unlocked)
	assert.Empty(t, post.HiddenContent)
	assert.NotEmpty(t, post.Teaser)
}

func TestUnlockedPostShowsContentPerAddress(t *testing.T) {
	s, st := newTestService(t)
	require.NoError(t, st.SaveUnlock(context.Background(), "aleo1abc", store.UnlockRecord{PostID: "3"}))

	post := s.Items("aleo1abc")[2].PaidPost
	require.True(t, post.Unlocked)
	assert.Contains(t, post.HiddenContent, "Coinbase")

	other := s.Items("aleo1other")[2].PaidPost
	assert.False(t, other.Unlocked)
}

func TestItemsCarryViewerChoice(t *testing.T) {
	s, st := newTestService(t)
	require.NoError(t, st.SaveVote(context.Background(), "aleo1abc", store.VoteRecord{ProposalID: "1", Choice: "Support"}))

	d := s.Items("aleo1abc")[0].Dilemma
	assert.Equal(t, "Support", d.UserChoice)
	assert.Empty(t, s.Items("")[0].Dilemma.UserChoice)
}

func TestCheckVotable(t *testing.T) {
	s, _ := newTestService(t)
	assert.NoError(t, s.CheckVotable(1))
	assert.ErrorIs(t, s.CheckVotable(4), ErrClosed)
	assert.ErrorIs(t, s.CheckVotable(3), ErrNotDilemma)
	assert.ErrorIs(t, s.CheckVotable(99), ErrNotFound)
}

func TestApplyVote(t *testing.T) {
	s, _ := newTestService(t)
	before, err := s.Dilemma(1)
	require.NoError(t, err)

	require.NoError(t, s.ApplyVote(1, false))
	require.NoError(t, s.ApplyVote(1, true))

	after, err := s.Dilemma(1)
	require.NoError(t, err)
	assert.Equal(t, before.Votes+1, after.Votes)
	assert.Equal(t, before.Participants+1, after.Participants)

	assert.ErrorIs(t, s.ApplyVote(4, false), ErrClosed)
}

func TestCreateDilemma(t *testing.T) {
	s, _ := newTestService(t)
	d := s.CreateDilemma("Fund audits?", "Annual security audits.", "Security", nil)
	assert.Equal(t, 5, d.ID)
	assert.Equal(t, DilemmaActive, d.Status)

	items := s.Items("")
	assert.Len(t, items, 5)
}

func TestCreatePost(t *testing.T) {
	s, st := newTestService(t)
	p := s.CreatePost("Leak", "teaser", "secret", 25, "aleo1author")
	assert.Equal(t, 5, p.ID)

	// Author unlock is the caller's job; verify the view honors it.
	require.NoError(t, st.SaveUnlock(context.Background(), "aleo1author", store.UnlockRecord{PostID: "5"}))
	view := s.Items("aleo1author")
	assert.True(t, view[4].PaidPost.Unlocked)
}

func TestAddCommentNewestFirst(t *testing.T) {
	s, _ := newTestService(t)
	_, err := s.AddComment(1, "aleo1abc", "first", "1m ago")
	require.NoError(t, err)
	c, err := s.AddComment(1, "aleo1abc", "second", "now")
	require.NoError(t, err)

	d, err := s.Dilemma(1)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(d.Comments), 2)
	assert.Equal(t, c.ID, d.Comments[0].ID)
	assert.Equal(t, "second", d.Comments[0].Text)
}

func TestAddCommentClosedDilemmaRejected(t *testing.T) {
	s, _ := newTestService(t)
	_, err := s.AddComment(4, "aleo1abc", "late", "now")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestItemJSONCarriesTypeTag(t *testing.T) {
	s, _ := newTestService(t)
	raw, err := json.Marshal(s.Items(""))
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "dilemma", decoded[0]["type"])
	assert.Equal(t, "paid_post", decoded[2]["type"])
}
