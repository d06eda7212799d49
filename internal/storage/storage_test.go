// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatai/internal/model"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "chatai.db")
	store, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func exchange(prompt, reply string) (model.Message, model.Message) {
	stats := &model.GenerationStats{LoadDuration: 200_000_000, TotalDuration: 1_500_000_000, EvalCount: 42, EvalDuration: 1_000_000_000}
	return model.NewUserMessage(prompt), model.NewAssistantMessage(reply, stats)
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestOpen_CreatesDirectoryAndSchema(t *testing.T) {
	store, path := openTestStore(t)
	require.NoError(t, store.Ping(context.Background()))
	assert.FileExists(t, path)

	// Reopening applies the schema again without error.
	again, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestConversationStore_SaveAndLoad(t *testing.T) {
	store, _ := openTestStore(t)
	convs := store.Conversations()
	ctx := context.Background()
	id := NewConversationID()

	u1, a1 := exchange("What is   the capital\nof France?", "Paris.")
	u2, a2 := exchange("And Germany?", "Berlin.")
	a2.Meta = nil

	require.NoError(t, convs.SaveExchange(ctx, id, "llama3.2", u1, a1))
	require.NoError(t, convs.SaveExchange(ctx, id, "", u2, a2))

	conv, err := convs.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, conv.ID)
	assert.Equal(t, "What is the capital of France?", conv.Title)
	assert.Equal(t, "llama3.2", conv.Model, "an empty model keeps the stored one")
	assert.Equal(t, 4, conv.MessageCount)

	require.Len(t, conv.Messages, 4)
	roles := []model.Role{model.RoleUser, model.RoleAssistant, model.RoleUser, model.RoleAssistant}
	for i, msg := range conv.Messages {
		assert.Equal(t, roles[i], msg.Role)
	}
	assert.Equal(t, u1.ID, conv.Messages[0].ID)
	assert.Equal(t, "Paris.", conv.Messages[1].Content)
	require.NotNil(t, conv.Messages[1].Meta)
	assert.Equal(t, 42, conv.Messages[1].Meta.EvalCount)
	assert.Equal(t, int64(1_500_000_000), conv.Messages[1].Meta.TotalDuration)
	assert.Nil(t, conv.Messages[3].Meta)
	assert.True(t, conv.Messages[0].Timestamp.Equal(u1.Timestamp))
}

func TestConversationStore_SaveExchangeValidation(t *testing.T) {
	store, _ := openTestStore(t)
	convs := store.Conversations()
	ctx := context.Background()
	u, a := exchange("q", "a")

	assert.Error(t, convs.SaveExchange(ctx, "", "m", u, a))
	assert.ErrorIs(t, convs.SaveExchange(ctx, "id", "m", a, u), model.ErrInvalidExchange)

	_, err := convs.Load(ctx, "id")
	assert.ErrorIs(t, err, ErrConversationNotFound, "a rejected exchange creates nothing")
}

func TestConversationStore_LoadNotFound(t *testing.T) {
	store, _ := openTestStore(t)
	_, err := store.Conversations().Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Conversations().LoadTranscript(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestConversationStore_LoadTranscript(t *testing.T) {
	store, _ := openTestStore(t)
	convs := store.Conversations()
	ctx := context.Background()
	id := NewConversationID()

	u, a := exchange("hi", "hello")
	require.NoError(t, convs.SaveExchange(ctx, id, "m", u, a))

	tr, err := convs.LoadTranscript(ctx, id)
	require.NoError(t, err)
	msgs := tr.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "hello", msgs[1].Content)
}

func TestConversationStore_ListAndSearch(t *testing.T) {
	store, _ := openTestStore(t)
	convs := store.Conversations()
	ctx := context.Background()

	list, err := convs.ListConversations(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	first, second := NewConversationID(), NewConversationID()
	u, a := exchange("tell me about go", "Go is a language")
	require.NoError(t, convs.SaveExchange(ctx, first, "m", u, a))
	time.Sleep(2 * time.Millisecond)
	u, a = exchange("weather today", "100% sunny_ish")
	require.NoError(t, convs.SaveExchange(ctx, second, "m", u, a))

	list, err = convs.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID, "most recently updated first")
	assert.Equal(t, 2, list[0].MessageCount)

	found, err := convs.Search(ctx, "LANGUAGE")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, first, found[0].ID)

	found, err = convs.Search(ctx, "100%")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, second, found[0].ID)

	found, err = convs.Search(ctx, "_")
	require.NoError(t, err)
	assert.Len(t, found, 1, "underscore matches literally")

	found, err = convs.Search(ctx, "  ")
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestConversationStore_Delete(t *testing.T) {
	store, _ := openTestStore(t)
	convs := store.Conversations()
	ctx := context.Background()
	id := NewConversationID()

	u, a := exchange("q", "a")
	require.NoError(t, convs.SaveExchange(ctx, id, "m", u, a))
	require.NoError(t, convs.DeleteConversation(ctx, id))

	_, err := convs.Load(ctx, id)
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.ErrorIs(t, convs.DeleteConversation(ctx, id), ErrConversationNotFound)

	var n int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n))
	assert.Zero(t, n, "messages are removed with their conversation")
}

func TestConversationStore_UnicodeContent(t *testing.T) {
	store, _ := openTestStore(t)
	convs := store.Conversations()
	ctx := context.Background()
	id := NewConversationID()

	u, a := exchange("héllo wörld ✓", "🌍 こんにちは")
	require.NoError(t, convs.SaveExchange(ctx, id, "m", u, a))

	conv, err := convs.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "héllo wörld ✓", conv.Messages[0].Content)
	assert.Equal(t, "🌍 こんにちは", conv.Messages[1].Content)
}

func TestConversationError_Is(t *testing.T) {
	err := &ConversationError{Message: "conversation not found"}
	assert.True(t, errors.Is(err, ErrConversationNotFound))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(&ConversationError{Message: "other"}, ErrConversationNotFound))
	assert.False(t, errors.Is(&ConversationError{Message: "other"}, ErrNotFound))
}

// =============================================================================
// PERSISTENT TRANSCRIPT TESTS
// =============================================================================

func TestPersistentTranscript_PersistsAcrossReopen(t *testing.T) {
	store, path := openTestStore(t)
	ctx := context.Background()
	id := NewConversationID()

	tr, err := store.Conversations().OpenTranscript(ctx, id, "llama3.2")
	require.NoError(t, err)
	assert.Equal(t, id, tr.ID())
	assert.Zero(t, tr.Len())

	u, a := exchange("q1", "a1")
	require.NoError(t, tr.AppendExchange(u, a))
	assert.Equal(t, 2, tr.Len())
	require.NoError(t, store.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	tr2, err := reopened.Conversations().OpenTranscript(ctx, id, "llama3.2")
	require.NoError(t, err)
	msgs := tr2.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "a1", msgs[1].Content)
}

func TestPersistentTranscript_RejectsBadExchange(t *testing.T) {
	store, _ := openTestStore(t)
	tr, err := store.Conversations().OpenTranscript(context.Background(), NewConversationID(), "m")
	require.NoError(t, err)

	u, a := exchange("q", "a")
	assert.ErrorIs(t, tr.AppendExchange(a, u), model.ErrInvalidExchange)
	assert.Zero(t, tr.Len())

	_, err = store.Conversations().OpenTranscript(context.Background(), "", "m")
	assert.Error(t, err)
}

func TestPersistentTranscript_WriteFailureCommitsNothing(t *testing.T) {
	store, _ := openTestStore(t)
	tr, err := store.Conversations().OpenTranscript(context.Background(), NewConversationID(), "m")
	require.NoError(t, err)

	require.NoError(t, store.Close())

	u, a := exchange("q", "a")
	assert.Error(t, tr.AppendExchange(u, a))
	assert.Zero(t, tr.Len())
	assert.Empty(t, tr.Messages())
}

// =============================================================================
// ACCOUNT TESTS
// =============================================================================

func TestAccounts_RecordSignIn(t *testing.T) {
	store, _ := openTestStore(t)
	accounts := store.Accounts()
	ctx := context.Background()

	id, err := accounts.RecordSignIn(ctx, SignIn{SSOID: "sso-1", Email: "ada@example.com", Name: "Ada", Provider: "github"})
	require.NoError(t, err)
	assert.Positive(t, id)

	user, err := accounts.User(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "sso-1", user.SSOID)
	assert.Equal(t, "Ada", user.Name)
	assert.Zero(t, user.Credits)
	firstLogin := user.LastLogin

	time.Sleep(2 * time.Millisecond)
	again, err := accounts.RecordSignIn(ctx, SignIn{SSOID: "sso-2", Email: "ada@example.com", Provider: "github"})
	require.NoError(t, err)
	assert.Equal(t, id, again, "same email and provider is the same user")

	user, err = accounts.User(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "sso-2", user.SSOID, "sso_id follows the latest sign-in")
	assert.Equal(t, "Ada", user.Name, "name is kept")
	assert.True(t, user.LastLogin.After(firstLogin))

	other, err := accounts.RecordSignIn(ctx, SignIn{Email: "ada@example.com", Provider: "google"})
	require.NoError(t, err)
	assert.NotEqual(t, id, other, "a different provider is a different user")

	var credits int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM credits`).Scan(&credits))
	assert.Equal(t, 2, credits, "one credits row per created user")
}

func TestAccounts_RecordSignInDeniesMissingIdentity(t *testing.T) {
	store, _ := openTestStore(t)
	accounts := store.Accounts()
	ctx := context.Background()

	tests := []SignIn{
		{Provider: "github"},
		{Email: "ada@example.com"},
		{Email: "  ", Provider: "github"},
	}
	for _, in := range tests {
		_, err := accounts.RecordSignIn(ctx, in)
		assert.ErrorIs(t, err, ErrMissingIdentity)
	}

	var n int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n))
	assert.Zero(t, n)
}

func TestAccounts_LookupUserID(t *testing.T) {
	store, _ := openTestStore(t)
	accounts := store.Accounts()
	ctx := context.Background()

	_, err := accounts.LookupUserID(ctx, "ada@example.com", "github")
	assert.ErrorIs(t, err, ErrNotFound)

	id, err := accounts.RecordSignIn(ctx, SignIn{Email: "ada@example.com", Provider: "github"})
	require.NoError(t, err)

	got, err := accounts.LookupUserID(ctx, "ada@example.com", "github")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = accounts.User(ctx, id+100)
	assert.ErrorIs(t, err, ErrNotFound)
}
