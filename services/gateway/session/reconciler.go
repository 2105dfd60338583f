// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sitechat-ai/sitechat/services/gateway/datatypes"
	"github.com/sitechat-ai/sitechat/services/gateway/observability"
	"github.com/sitechat-ai/sitechat/services/gateway/scrape"
	"github.com/sitechat-ai/sitechat/services/gateway/store"
	"github.com/sitechat-ai/sitechat/services/llm"
)

var tracer = otel.Tracer("sitechat/services/gateway/session")

// defaultChatTitle is used when a chat is created without any URLs to name
// it after.
const defaultChatTitle = "Chat"

// DocumentSource assembles the scraped document for a URL list.
type DocumentSource interface {
	BuildDocument(ctx context.Context, urls []string) (string, error)
}

// TurnRequest is one incoming question against a new or existing chat.
type TurnRequest struct {
	UserID   string
	ChatID   string
	Question string
	URLs     []string
}

// TurnSink receives the outputs of a turn in order: zero or more answer
// fragments, then exactly one metadata emission on success. A sink error
// aborts the turn.
type TurnSink interface {
	Fragment(text string) error
	Metadata(chat *datatypes.Chat) error
}

// Reconciler drives the per-chat turn state machine. It owns the live
// handle cache exclusively; durable state goes through the store.
//
// # Description
//
// Each turn resolves to one of: a brand-new chat (scrape client URLs, create
// the record), a warm resume (handle cached, no scraping), or a cold resume
// (handle lost, re-scrape the chat's stored URLs). Turn execution streams
// the answer to the sink, refreshes the handle's history mirror, then
// commits the question/answer pair atomically and emits the updated chat as
// metadata.
//
// # Thread Safety
//
// Safe for concurrent use. Turns against the same chat ID are serialized by
// a per-chat lock; a create-vs-resume race on one chat cannot double-prime.
type Reconciler struct {
	store  store.Store
	model  llm.Client
	docs   DocumentSource
	cache  HandleCache
	locks  *chatLocks
	params llm.GenerationParams
}

// NewReconciler wires a reconciler. model may be nil when the process runs
// in degraded mode; every turn then fails with ErrAIDisabled.
func NewReconciler(st store.Store, model llm.Client, docs DocumentSource, cache HandleCache) *Reconciler {
	return &Reconciler{
		store: st,
		model: model,
		docs:  docs,
		cache: cache,
		locks: newChatLocks(),
	}
}

// Forget drops the chat's live handle, if any. Called when a chat is
// deleted so a stale conversation cannot be resumed against a dead record.
func (r *Reconciler) Forget(chatID string) {
	r.cache.Evict(chatID)
	if m := observability.DefaultMetrics; m != nil {
		m.RecordHandleEviction(observability.EvictionChatDeleted)
	}
}

// RunTurn executes one complete turn and reports its outcome. Fragments and
// metadata are delivered through sink; any returned error means the turn
// did not fully succeed (though fragments may already have been delivered).
func (r *Reconciler) RunTurn(ctx context.Context, req TurnRequest, sink TurnSink) error {
	ctx, span := tracer.Start(ctx, "Reconciler.RunTurn")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.user_id", req.UserID),
		attribute.Int("chat.url_count", len(req.URLs)),
	)

	if r.model == nil {
		return ErrAIDisabled
	}

	// Step 1: Ensure the user exists
	user, err := r.store.UpsertUser(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	// Step 2: Resolve the chat record
	chat, isNew, err := r.resolveChat(ctx, user, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(
		attribute.String("chat.id", chat.ID),
		attribute.Bool("chat.new", isNew),
	)

	// Step 3: Serialize turns per chat
	unlock := r.locks.Lock(chat.ID)
	defer unlock()

	// Step 4: Decide whether this turn needs fresh document context
	handle := r.cache.Get(chat.ID)
	var scrapeURLs []string
	switch {
	case isNew:
		scrapeURLs = req.URLs
	case handle == nil:
		// Cold resume. Rehydrate from the URLs stored on the chat, not
		// whatever the client sent this time.
		if len(chat.URLs) == 0 {
			return ErrMissingStoredURLs
		}
		scrapeURLs = chat.URLs
	}

	// Step 5: Apply the client's URL list to the stored record on resume
	if !isNew && len(req.URLs) > 0 && !slices.Equal(req.URLs, chat.URLs) {
		slog.Info("updating chat urls",
			"chat_id", chat.ID,
			"old_count", len(chat.URLs),
			"new_count", len(req.URLs))
		if err := r.store.UpdateChatURLs(ctx, chat.ID, req.URLs); err != nil {
			return fmt.Errorf("failed to update chat urls: %w", err)
		}
		chat.URLs = req.URLs
	}

	// Step 6: Scrape when context is needed
	var document string
	if len(scrapeURLs) > 0 {
		doc, err := r.docs.BuildDocument(ctx, scrapeURLs)
		if err != nil {
			return fmt.Errorf("failed to build document: %w", err)
		}
		if scrape.AllFailed(doc) {
			return ErrAllSourcesFailed
		}
		document = scrape.LimitContext(doc, scrape.MaxDocumentChars)
	}

	// Step 7: Prime a live handle if none exists
	if handle == nil {
		handle, err = r.primeHandle(ctx, chat.ID, document)
		if err != nil {
			return err
		}
	}

	// Step 8: Stream the question turn
	question := llm.Message{Role: llm.RoleUser, Content: req.Question}
	history := append(handle.History, question)
	answer, err := r.streamAnswer(ctx, chat.ID, history, sink)
	if err != nil {
		return err
	}

	// Step 9: Refresh the history mirror before committing
	handle.History = append(history, llm.Message{Role: llm.RoleAssistant, Content: answer})
	r.cache.Put(handle)

	// Step 10: Commit the question/answer pair atomically
	pair := []datatypes.Message{
		datatypes.NewMessage(chat.ID, datatypes.RoleUser, req.Question),
		datatypes.NewMessage(chat.ID, datatypes.RoleAI, answer),
	}
	if err := r.store.CreateMessages(ctx, pair); err != nil {
		return &CommitError{Err: err}
	}

	// Step 11: Emit the updated chat as trailing metadata
	updated, err := r.store.FindChatByID(ctx, chat.ID)
	if err != nil {
		return &CommitError{Err: err}
	}
	slog.Info("turn committed",
		"chat_id", chat.ID,
		"user_id", user.ID,
		"answer_bytes", len(answer))
	return sink.Metadata(updated)
}

// resolveChat maps the request onto an existing chat or creates a new one.
func (r *Reconciler) resolveChat(ctx context.Context, user *datatypes.User, req TurnRequest) (*datatypes.Chat, bool, error) {
	if req.ChatID != "" {
		chat, err := r.store.FindChatByID(ctx, req.ChatID)
		switch {
		case err == nil:
			if chat.UserID != user.ID {
				slog.Warn("rejected cross-user chat access",
					"chat_id", req.ChatID,
					"owner_id", chat.UserID,
					"requester_id", user.ID)
				return nil, false, ErrUnauthorized
			}
			return chat, false, nil
		case errors.Is(err, store.ErrNotFound):
			if len(req.URLs) == 0 {
				return nil, false, ErrChatNotFound
			}
			slog.Info("chat id not found, starting a new chat", "chat_id", req.ChatID)
		default:
			return nil, false, fmt.Errorf("failed to look up chat: %w", err)
		}
	}

	if len(req.URLs) == 0 {
		return nil, false, ErrNoURLs
	}

	title := req.URLs[0]
	if title == "" {
		title = defaultChatTitle
	}
	chat := datatypes.NewChat(user.ID, title, req.URLs)
	if err := r.store.CreateChat(ctx, chat); err != nil {
		return nil, false, fmt.Errorf("failed to create chat: %w", err)
	}
	slog.Info("created chat", "chat_id", chat.ID, "user_id", user.ID, "url_count", len(chat.URLs))
	return chat, true, nil
}

// primeHandle opens a fresh conversation and, when document context exists,
// sends it as an initial context turn. The acknowledgment is discarded; its
// only purpose is priming. The context turn stays in the history mirror so
// later turns replay it.
func (r *Reconciler) primeHandle(ctx context.Context, chatID, document string) (*Handle, error) {
	ctx, span := tracer.Start(ctx, "Reconciler.primeHandle")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.id", chatID),
		attribute.Int("chat.document_bytes", len(document)),
	)

	handle := &Handle{ChatID: chatID}
	if document != "" {
		primer := llm.Message{
			Role:    llm.RoleUser,
			Content: "Based on the following document, please answer the question.\n\nDocument:\n" + document,
		}
		if _, err := r.model.Chat(ctx, []llm.Message{primer}, r.params); err != nil {
			span.SetStatus(codes.Error, err.Error())
			r.evict(chatID)
			return nil, &ProviderError{Err: err}
		}
		handle.History = append(handle.History, primer)
	}
	r.cache.Put(handle)
	return handle, nil
}

// streamAnswer runs the streamed question turn, forwarding fragments to the
// sink while accumulating the full answer.
func (r *Reconciler) streamAnswer(ctx context.Context, chatID string, history []llm.Message, sink TurnSink) (string, error) {
	acc, err := NewAnswerAccumulator()
	if err != nil {
		return "", fmt.Errorf("failed to allocate answer buffer: %w", err)
	}
	defer acc.Destroy()

	streamErr := r.model.ChatStream(ctx, history, r.params, func(ev llm.StreamEvent) error {
		switch ev.Type {
		case llm.StreamEventToken:
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := acc.Write(ev.Content); err != nil {
				return err
			}
			return sink.Fragment(ev.Content)
		case llm.StreamEventError:
			return ev.Err
		}
		return nil
	})
	if streamErr != nil {
		if errors.Is(streamErr, llm.ErrEmptyResponse) {
			// The provider answered cleanly, just with nothing. The handle
			// is still trustworthy; nothing is committed.
			return "", ErrEmptyResponse
		}
		r.evict(chatID)
		return "", &ProviderError{Err: streamErr}
	}

	answer, digest, err := acc.Finalize()
	if err != nil {
		// The mirror cannot be refreshed truthfully, so the handle has to go.
		r.evict(chatID)
		return "", fmt.Errorf("failed to finalize answer: %w", err)
	}
	if answer == "" {
		return "", ErrEmptyResponse
	}
	slog.Debug("answer stream complete",
		"chat_id", chatID,
		"answer_bytes", len(answer),
		"answer_sha256", digest[:16])
	return answer, nil
}

func (r *Reconciler) evict(chatID string) {
	r.cache.Evict(chatID)
	if m := observability.DefaultMetrics; m != nil {
		m.RecordHandleEviction(observability.EvictionProviderError)
	}
	slog.Warn("evicted live session handle", "chat_id", chatID)
}
