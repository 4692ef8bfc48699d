package firestore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/secretary-agent/internal/domain"
)

type Store struct {
	client     *firestore.Client
	collection string
}

var (
	_ domain.ConversationStore = (*Store)(nil)
	_ domain.MessageStore      = (*Store)(nil)
	_ domain.ExchangeStore     = (*Store)(nil)
)

// NewStore creates a Firestore store for the given project.
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return newStore(client, "conversations"), nil
}

func newStore(client *firestore.Client, collection string) *Store {
	return &Store{client: client, collection: collection}
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) conversationsCol() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

func (s *Store) conversationDoc(id domain.ConversationID) *firestore.DocumentRef {
	return s.conversationsCol().Doc(string(id))
}

func (s *Store) messagesCol(id domain.ConversationID) *firestore.CollectionRef {
	return s.conversationDoc(id).Collection("messages")
}

func (s *Store) messageDoc(convID domain.ConversationID, msgID domain.MessageID) *firestore.DocumentRef {
	return s.messagesCol(convID).Doc(string(msgID))
}

// lastSeq orders messages written with the same created_at.
var lastSeq atomic.Int64

func nextSeq() int64 {
	for {
		prev := lastSeq.Load()
		next := time.Now().UnixNano()
		if next <= prev {
			next = prev + 1
		}
		if lastSeq.CompareAndSwap(prev, next) {
			return next
		}
	}
}

func notFound(id domain.ConversationID) error {
	return fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
}

func wrap(op string, id domain.ConversationID, err error) error {
	if status.Code(err) == codes.NotFound {
		return notFound(id)
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrStore) {
		return err
	}
	return domain.StoreError("firestore "+op, err)
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type conversationDoc struct {
	UserID    string    `firestore:"user_id"`
	Title     string    `firestore:"title"`
	CreatedAt time.Time `firestore:"created_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

type messageDoc struct {
	ConversationID string    `firestore:"conversation_id"`
	Role           string    `firestore:"role"`
	Content        string    `firestore:"content"`
	CreatedAt      time.Time `firestore:"created_at"`
	Seq            int64     `firestore:"seq"`
	TokensInput    *int64    `firestore:"tokens_input"`
	TokensOutput   *int64    `firestore:"tokens_output"`
}

func toConversation(id string, doc conversationDoc) *domain.Conversation {
	return &domain.Conversation{
		ID:        domain.ConversationID(id),
		UserID:    domain.UserID(doc.UserID),
		Title:     doc.Title,
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
}

func toMessageDoc(msg *domain.Message) messageDoc {
	return messageDoc{
		ConversationID: string(msg.ConversationID),
		Role:           string(msg.Role),
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
		Seq:            nextSeq(),
		TokensInput:    int64Ptr(msg.TokensInput),
		TokensOutput:   int64Ptr(msg.TokensOutput),
	}
}

// ─────────────────────────────────────────
// ConversationStore implementation
// ─────────────────────────────────────────

func (s *Store) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	doc := conversationDoc{
		UserID:    string(conv.UserID),
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}

	if _, err := s.conversationDoc(conv.ID).Create(ctx, doc); err != nil {
		return domain.StoreError("firestore CreateConversation", err)
	}
	return nil
}

// GetConversation reads the document and hides it unless owner matches.
func (s *Store) GetConversation(ctx context.Context, id domain.ConversationID, owner domain.UserID) (*domain.Conversation, error) {
	snap, err := s.conversationDoc(id).Get(ctx)
	if err != nil {
		return nil, wrap("GetConversation", id, err)
	}

	var doc conversationDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, domain.StoreError("firestore GetConversation decode", err)
	}

	if doc.UserID != string(owner) {
		return nil, notFound(id)
	}
	return toConversation(snap.Ref.ID, doc), nil
}

func (s *Store) ListConversationsByUser(ctx context.Context, owner domain.UserID, limit int) ([]*domain.Conversation, error) {
	q := s.conversationsCol().Where("user_id", "==", string(owner)).OrderBy("updated_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	out := []*domain.Conversation{}
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, domain.StoreError("firestore ListConversationsByUser", err)
		}

		var doc conversationDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, domain.StoreError("decode conversationDoc", err)
		}
		out = append(out, toConversation(snap.Ref.ID, doc))
	}
	return out, nil
}

// DeleteConversation deletes the messages subcollection and then the conversation.
// Firestore has no cascading delete.
func (s *Store) DeleteConversation(ctx context.Context, id domain.ConversationID, owner domain.UserID) error {
	if _, err := s.GetConversation(ctx, id, owner); err != nil {
		return err
	}

	bw := s.client.BulkWriter(ctx)
	iter := s.messagesCol(id).DocumentRefs(ctx)
	for {
		ref, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			bw.End()
			return domain.StoreError("firestore DeleteConversation list", err)
		}
		if _, err := bw.Delete(ref); err != nil {
			bw.End()
			return domain.StoreError("firestore DeleteConversation message", err)
		}
	}
	bw.End()

	if _, err := s.conversationDoc(id).Delete(ctx); err != nil {
		return wrap("DeleteConversation", id, err)
	}
	return nil
}

func (s *Store) TouchConversation(ctx context.Context, id domain.ConversationID, at time.Time) error {
	_, err := s.conversationDoc(id).Update(ctx, []firestore.Update{{Path: "updated_at", Value: at}})
	if err != nil {
		return wrap("TouchConversation", id, err)
	}
	return nil
}

// ─────────────────────────────────────────
// MessageStore implementation
// ─────────────────────────────────────────

// AppendMessage creates the message document. Firestore would happily create
// a subcollection under a missing parent, so the parent is checked first.
func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(s.conversationDoc(msg.ConversationID)); err != nil {
			return wrap("AppendMessage", msg.ConversationID, err)
		}
		if err := tx.Create(s.messageDoc(msg.ConversationID, msg.ID), toMessageDoc(msg)); err != nil {
			return domain.StoreError("firestore AppendMessage", err)
		}
		return nil
	}, firestore.MaxAttempts(1))
}

func (s *Store) ListMessages(ctx context.Context, conversationID domain.ConversationID) ([]*domain.Message, error) {
	q := s.messagesCol(conversationID).
		OrderBy("created_at", firestore.Asc).
		OrderBy("seq", firestore.Asc)

	iter := q.Documents(ctx)
	defer iter.Stop()

	out := []*domain.Message{}
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, domain.StoreError("firestore ListMessages", err)
		}

		var doc messageDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, domain.StoreError("decode messageDoc", err)
		}

		out = append(out, &domain.Message{
			ID:             domain.MessageID(snap.Ref.ID),
			ConversationID: conversationID,
			Role:           domain.Role(doc.Role),
			Content:        doc.Content,
			CreatedAt:      doc.CreatedAt.UTC(),
			TokensInput:    intPtr(doc.TokensInput),
			TokensOutput:   intPtr(doc.TokensOutput),
		})
	}
	return out, nil
}

// ─────────────────────────────────────────
// ExchangeStore implementation
// ─────────────────────────────────────────

type txWriter struct {
	s  *Store
	tx *firestore.Transaction
}

func (w txWriter) AppendMessage(_ context.Context, msg *domain.Message) error {
	if err := w.tx.Create(w.s.messageDoc(msg.ConversationID, msg.ID), toMessageDoc(msg)); err != nil {
		return domain.StoreError("firestore AppendMessage", err)
	}
	return nil
}

// TouchConversation is an Update, so the whole transaction fails at commit
// if the conversation does not exist.
func (w txWriter) TouchConversation(_ context.Context, id domain.ConversationID, at time.Time) error {
	if err := w.tx.Update(w.s.conversationDoc(id), []firestore.Update{{Path: "updated_at", Value: at}}); err != nil {
		return domain.StoreError("firestore TouchConversation", err)
	}
	return nil
}

// RunExchange runs fn in a single Firestore transaction. Attempts are capped
// at one so a failed commit surfaces to the caller instead of being retried.
func (s *Store) RunExchange(ctx context.Context, fn func(ctx context.Context, w domain.ExchangeWriter) error) error {
	var convID domain.ConversationID
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, recordingWriter{txWriter: txWriter{s: s, tx: tx}, id: &convID})
	}, firestore.MaxAttempts(1))
	if err != nil {
		return wrap("RunExchange", convID, err)
	}
	return nil
}

// recordingWriter remembers the conversation touched so a commit-time
// NotFound can name it.
type recordingWriter struct {
	txWriter
	id *domain.ConversationID
}

func (w recordingWriter) TouchConversation(ctx context.Context, id domain.ConversationID, at time.Time) error {
	*w.id = id
	return w.txWriter.TouchConversation(ctx, id, at)
}

func int64Ptr(p *int) *int64 {
	if p == nil {
		return nil
	}
	v := int64(*p)
	return &v
}

func intPtr(p *int64) *int {
	if p == nil {
		return nil
	}
	v := int(*p)
	return &v
}
