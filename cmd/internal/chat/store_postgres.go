package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
//   - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//   - Close() is therefore a no-op.
//
// Schema: all tables live in one schema (default "parley"); identifiers are
// validated and quoted before being spliced into SQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema points the store at a different schema (default "parley").
// Names must be plain PostgreSQL identifiers; anything else is refused
// rather than quoted away.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		switch {
		case schema == "":
			return errors.New("chat: empty schema")
		case !isValidPGIdent(schema):
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore builds a Store over an existing pool. The pool stays
// owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	st := &PostgresStore{pool: pool, schema: "parley"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// ---- Users ----

func (s *PostgresStore) CreateUser(ctx context.Context, u User) error {
	if u.ID == "" || u.Username == "" {
		return fmt.Errorf("create user: %w", ErrInvalidInput)
	}
	users := tableRef(s.schema, "users")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+users+` (id, username, display_name, avatar_url, password_hash, status, last_seen_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Username, u.DisplayName, u.AvatarURL, u.PasswordHash, u.Status, u.LastSeenAt, u.CreatedAt,
	)
	if pgIsUniqueViolation(err) {
		return fmt.Errorf("create user: %w", ErrDuplicate)
	}
	return err
}

const userColumns = `id, username, display_name, avatar_url, password_hash, status, last_seen_at, created_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL, &u.PasswordHash, &u.Status, &u.LastSeenAt, &u.CreatedAt)
	return u, err
}

func (s *PostgresStore) UserByID(ctx context.Context, id string) (User, error) {
	users := tableRef(s.schema, "users")
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+users+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, err
}

func (s *PostgresStore) UserByUsername(ctx context.Context, username string) (User, error) {
	users := tableRef(s.schema, "users")
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+users+` WHERE username = $1`, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return u, err
}

func (s *PostgresStore) SetUserStatus(ctx context.Context, userID string, status UserStatus, at time.Time) error {
	users := tableRef(s.schema, "users")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+users+` SET status = $2, last_seen_at = $3 WHERE id = $1`,
		userID, status, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdateUserPasswordHash(ctx context.Context, userID, passwordHash string) error {
	if passwordHash == "" {
		return fmt.Errorf("update password hash: %w", ErrInvalidInput)
	}
	users := tableRef(s.schema, "users")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+users+` SET password_hash = $2 WHERE id = $1`,
		userID, passwordHash,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// ---- Conversations ----

func (s *PostgresStore) CreateConversation(ctx context.Context, c Conversation, participants []Participant) error {
	if c.ID == "" || c.Kind == "" {
		return fmt.Errorf("create conversation: %w", ErrInvalidInput)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	convs := tableRef(s.schema, "conversations")
	parts := tableRef(s.schema, "conversation_participants")

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+convs+` (id, kind, name, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Kind, c.Name, c.CreatedBy, c.CreatedAt, c.UpdatedAt,
	); err != nil {
		if pgIsUniqueViolation(err) {
			return fmt.Errorf("conversation %s: %w", c.ID, ErrDuplicate)
		}
		return err
	}

	for _, p := range participants {
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+parts+` (conversation_id, user_id, role, joined_at, last_read_message_id)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (conversation_id, user_id) DO NOTHING`,
			c.ID, p.UserID, p.Role, p.JoinedAt, p.LastReadMessageID,
		); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}

	return tx.Commit(ctx)
}

const conversationColumns = `id, kind, name, created_by, created_at, updated_at`

func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.Kind, &c.Name, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *PostgresStore) ConversationByID(ctx context.Context, id string) (Conversation, error) {
	convs := tableRef(s.schema, "conversations")
	c, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM `+convs+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return c, err
}

func (s *PostgresStore) RenameConversation(ctx context.Context, id, name string, at time.Time) (Conversation, error) {
	convs := tableRef(s.schema, "conversations")
	c, err := scanConversation(s.pool.QueryRow(ctx,
		`UPDATE `+convs+` SET name = $2, updated_at = $3 WHERE id = $1
		 RETURNING `+conversationColumns,
		id, name, at,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return c, err
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	convs := tableRef(s.schema, "conversations")
	// Participants, messages, reactions, and typing rows cascade via FKs.
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+convs+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ConversationsForUser(ctx context.Context, userID string) ([]Conversation, error) {
	convs := tableRef(s.schema, "conversations")
	parts := tableRef(s.schema, "conversation_participants")

	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.kind, c.name, c.created_by, c.created_at, c.updated_at
		   FROM `+convs+` c
		   JOIN `+parts+` p ON p.conversation_id = c.id
		  WHERE p.user_id = $1
		  ORDER BY c.created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Kind, &c.Name, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- Participants ----

func (s *PostgresStore) AddParticipant(ctx context.Context, p Participant) error {
	if p.ConversationID == "" || p.UserID == "" {
		return fmt.Errorf("add participant: %w", ErrInvalidInput)
	}
	parts := tableRef(s.schema, "conversation_participants")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+parts+` (conversation_id, user_id, role, joined_at, last_read_message_id)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ConversationID, p.UserID, p.Role, p.JoinedAt, p.LastReadMessageID,
	)
	switch {
	case pgIsUniqueViolation(err):
		return fmt.Errorf("participant %s: %w", p.UserID, ErrDuplicate)
	case pgIsForeignKeyViolation(err):
		return fmt.Errorf("conversation %s: %w", p.ConversationID, ErrNotFound)
	}
	return err
}

func (s *PostgresStore) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	parts := tableRef(s.schema, "conversation_participants")
	typing := tableRef(s.schema, "typing_states")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`DELETE FROM `+parts+` WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("participant %s: %w", userID, ErrNotFound)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM `+typing+` WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) SetParticipantRole(ctx context.Context, conversationID, userID string, role ParticipantRole) error {
	parts := tableRef(s.schema, "conversation_participants")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+parts+` SET role = $3 WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID, role,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("participant %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Participants(ctx context.Context, conversationID string) ([]Participant, error) {
	if ok, err := s.conversationExists(ctx, conversationID); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}

	parts := tableRef(s.schema, "conversation_participants")
	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id, user_id, role, joined_at, last_read_message_id
		   FROM `+parts+`
		  WHERE conversation_id = $1
		  ORDER BY joined_at ASC, user_id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.Role, &p.JoinedAt, &p.LastReadMessageID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	if ok, err := s.conversationExists(ctx, conversationID); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}

	parts := tableRef(s.schema, "conversation_participants")
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM `+parts+` WHERE conversation_id = $1 ORDER BY user_id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PostgresStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	conversationID = strings.TrimSpace(conversationID)
	userID = strings.TrimSpace(userID)
	if conversationID == "" || userID == "" {
		return false, nil
	}

	parts := tableRef(s.schema, "conversation_participants")
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+parts+` WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) SetLastRead(ctx context.Context, conversationID, userID, messageID string) error {
	parts := tableRef(s.schema, "conversation_participants")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+parts+` SET last_read_message_id = $3 WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID, messageID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("participant %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ContactIDs(ctx context.Context, userID string) ([]string, error) {
	parts := tableRef(s.schema, "conversation_participants")
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT o.user_id
		   FROM `+parts+` m
		   JOIN `+parts+` o ON o.conversation_id = m.conversation_id
		  WHERE m.user_id = $1 AND o.user_id <> $1
		  ORDER BY o.user_id ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---- Messages ----

const messageColumns = `id, conversation_id, sender_id, content, content_type, reply_to_id, pinned, pinned_by, edited, deleted, created_at, updated_at`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.ContentType,
		&m.ReplyToID, &m.Pinned, &m.PinnedBy, &m.Edited, &m.Deleted, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (s *PostgresStore) CreateMessage(ctx context.Context, m Message) error {
	if m.ID == "" || m.ConversationID == "" || m.SenderID == "" {
		return fmt.Errorf("create message: %w", ErrInvalidInput)
	}
	messages := tableRef(s.schema, "messages")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+messages+` (`+messageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.ContentType,
		m.ReplyToID, m.Pinned, m.PinnedBy, m.Edited, m.Deleted, m.CreatedAt, m.UpdatedAt,
	)
	switch {
	case pgIsUniqueViolation(err):
		return fmt.Errorf("message %s: %w", m.ID, ErrDuplicate)
	case pgIsForeignKeyViolation(err):
		return fmt.Errorf("conversation %s: %w", m.ConversationID, ErrNotFound)
	}
	return err
}

func (s *PostgresStore) MessageByID(ctx context.Context, id string) (Message, error) {
	messages := tableRef(s.schema, "messages")
	m, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+messages+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return m, err
}

func (s *PostgresStore) UpdateMessageContent(ctx context.Context, id, content string, at time.Time) (Message, error) {
	messages := tableRef(s.schema, "messages")
	m, err := scanMessage(s.pool.QueryRow(ctx,
		`UPDATE `+messages+`
		    SET content = $2, edited = TRUE, updated_at = $3
		  WHERE id = $1 AND NOT deleted
		 RETURNING `+messageColumns,
		id, content, at,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return m, err
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, id string, at time.Time) error {
	messages := tableRef(s.schema, "messages")
	reactions := tableRef(s.schema, "message_reactions")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE `+messages+`
		    SET deleted = TRUE, content = '', pinned = FALSE, pinned_by = '', updated_at = $2
		  WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM `+reactions+` WHERE message_id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) SetMessagePinned(ctx context.Context, id string, pinned bool, pinnedBy string, at time.Time) error {
	if !pinned {
		pinnedBy = ""
	}
	messages := tableRef(s.schema, "messages")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+messages+`
		    SET pinned = $2, pinned_by = $3, updated_at = $4
		  WHERE id = $1 AND NOT deleted`,
		id, pinned, pinnedBy, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Messages(ctx context.Context, in MessageWindow) (MessageWindowResult, error) {
	if in.ConversationID == "" {
		return MessageWindowResult{}, fmt.Errorf("messages: %w", ErrInvalidInput)
	}

	limit := in.Limit
	if limit <= 0 {
		limit = defaultWindowLimit
	}
	if limit > maxWindowLimit {
		limit = maxWindowLimit
	}
	fetch := limit + 1

	messages := tableRef(s.schema, "messages")

	var (
		rows pgx.Rows
		err  error
	)
	if in.AfterID == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageColumns+` FROM `+messages+`
			  WHERE conversation_id = $1
			  ORDER BY id ASC
			  LIMIT $2`,
			in.ConversationID, fetch,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageColumns+` FROM `+messages+`
			  WHERE conversation_id = $1 AND id > $2
			  ORDER BY id ASC
			  LIMIT $3`,
			in.ConversationID, in.AfterID, fetch,
		)
	}
	if err != nil {
		return MessageWindowResult{}, err
	}
	defer rows.Close()

	msgs := make([]Message, 0, fetch)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.ContentType,
			&m.ReplyToID, &m.Pinned, &m.PinnedBy, &m.Edited, &m.Deleted, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return MessageWindowResult{}, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return MessageWindowResult{}, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	return MessageWindowResult{Messages: msgs, HasMore: hasMore}, nil
}

func (s *PostgresStore) AddReaction(ctx context.Context, r Reaction) error {
	if r.MessageID == "" || r.UserID == "" || r.Emoji == "" {
		return fmt.Errorf("add reaction: %w", ErrInvalidInput)
	}
	messages := tableRef(s.schema, "messages")
	reactions := tableRef(s.schema, "message_reactions")

	var deleted bool
	err := s.pool.QueryRow(ctx,
		`SELECT deleted FROM `+messages+` WHERE id = $1`, r.MessageID,
	).Scan(&deleted)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && deleted) {
		return fmt.Errorf("message %s: %w", r.MessageID, ErrNotFound)
	}
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+reactions+` (message_id, user_id, emoji, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (message_id, user_id, emoji) DO NOTHING`,
		r.MessageID, r.UserID, r.Emoji, r.CreatedAt,
	)
	return err
}

func (s *PostgresStore) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	messages := tableRef(s.schema, "messages")
	reactions := tableRef(s.schema, "message_reactions")

	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM `+messages+` WHERE id = $1`, messageID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`DELETE FROM `+reactions+` WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji,
	)
	return err
}

func (s *PostgresStore) Reactions(ctx context.Context, messageID string) ([]Reaction, error) {
	reactions := tableRef(s.schema, "message_reactions")
	rows, err := s.pool.Query(ctx,
		`SELECT message_id, user_id, emoji, created_at
		   FROM `+reactions+`
		  WHERE message_id = $1
		  ORDER BY user_id ASC, emoji ASC`,
		messageID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reaction
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ReactionsForMessages(ctx context.Context, messageIDs []string) (map[string][]Reaction, error) {
	if len(messageIDs) == 0 {
		return map[string][]Reaction{}, nil
	}
	reactions := tableRef(s.schema, "message_reactions")
	rows, err := s.pool.Query(ctx,
		`SELECT message_id, user_id, emoji, created_at
		   FROM `+reactions+`
		  WHERE message_id = ANY($1)
		  ORDER BY message_id ASC, user_id ASC, emoji ASC`,
		messageIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]Reaction)
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, err
		}
		out[r.MessageID] = append(out[r.MessageID], r)
	}
	return out, rows.Err()
}

// ---- Calls ----

const callColumns = `id, conversation_id, initiator_id, call_type, status, created_at, started_at, ended_at, duration_seconds`

func scanCall(row pgx.Row) (Call, error) {
	var c Call
	err := row.Scan(&c.ID, &c.ConversationID, &c.InitiatorID, &c.Type, &c.Status,
		&c.CreatedAt, &c.StartedAt, &c.EndedAt, &c.DurationSeconds)
	return c, err
}

func (s *PostgresStore) CreateCall(ctx context.Context, c Call) error {
	if c.ID == "" || c.InitiatorID == "" {
		return fmt.Errorf("create call: %w", ErrInvalidInput)
	}
	calls := tableRef(s.schema, "calls")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+calls+` (`+callColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.ConversationID, c.InitiatorID, c.Type, c.Status,
		c.CreatedAt, c.StartedAt, c.EndedAt, c.DurationSeconds,
	)
	if pgIsUniqueViolation(err) {
		return fmt.Errorf("call %s: %w", c.ID, ErrDuplicate)
	}
	return err
}

func (s *PostgresStore) CallByID(ctx context.Context, id string) (Call, error) {
	calls := tableRef(s.schema, "calls")
	c, err := scanCall(s.pool.QueryRow(ctx,
		`SELECT `+callColumns+` FROM `+calls+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Call{}, fmt.Errorf("call %s: %w", id, ErrNotFound)
	}
	return c, err
}

func (s *PostgresStore) UpdateCall(ctx context.Context, c Call) error {
	calls := tableRef(s.schema, "calls")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+calls+`
		    SET status = $2, started_at = $3, ended_at = $4, duration_seconds = $5
		  WHERE id = $1`,
		c.ID, c.Status, c.StartedAt, c.EndedAt, c.DurationSeconds,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("call %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) AddCallParticipant(ctx context.Context, p CallParticipant) error {
	if p.CallID == "" || p.UserID == "" {
		return fmt.Errorf("add call participant: %w", ErrInvalidInput)
	}
	parts := tableRef(s.schema, "call_participants")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+parts+` (call_id, user_id, muted, video_off, screen_sharing, joined_at, left_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.CallID, p.UserID, p.Muted, p.VideoOff, p.ScreenSharing, p.JoinedAt, p.LeftAt,
	)
	switch {
	case pgIsUniqueViolation(err):
		return fmt.Errorf("call participant %s: %w", p.UserID, ErrDuplicate)
	case pgIsForeignKeyViolation(err):
		return fmt.Errorf("call %s: %w", p.CallID, ErrNotFound)
	}
	return err
}

func (s *PostgresStore) UpdateCallParticipant(ctx context.Context, p CallParticipant) error {
	parts := tableRef(s.schema, "call_participants")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+parts+`
		    SET muted = $3, video_off = $4, screen_sharing = $5, left_at = $6
		  WHERE call_id = $1 AND user_id = $2`,
		p.CallID, p.UserID, p.Muted, p.VideoOff, p.ScreenSharing, p.LeftAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("call participant %s: %w", p.UserID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) CallParticipants(ctx context.Context, callID string) ([]CallParticipant, error) {
	if ok, err := s.callExists(ctx, callID); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("call %s: %w", callID, ErrNotFound)
	}

	parts := tableRef(s.schema, "call_participants")
	rows, err := s.pool.Query(ctx,
		`SELECT call_id, user_id, muted, video_off, screen_sharing, joined_at, left_at
		   FROM `+parts+`
		  WHERE call_id = $1
		  ORDER BY joined_at ASC, user_id ASC`,
		callID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallParticipant
	for rows.Next() {
		var p CallParticipant
		if err := rows.Scan(&p.CallID, &p.UserID, &p.Muted, &p.VideoOff, &p.ScreenSharing, &p.JoinedAt, &p.LeftAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CallsForConversation(ctx context.Context, conversationID string, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = defaultWindowLimit
	}
	if limit > maxWindowLimit {
		limit = maxWindowLimit
	}

	calls := tableRef(s.schema, "calls")
	rows, err := s.pool.Query(ctx,
		`SELECT `+callColumns+` FROM `+calls+`
		  WHERE conversation_id = $1
		  ORDER BY created_at DESC
		  LIMIT $2`,
		conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		var c Call
		if err := rows.Scan(&c.ID, &c.ConversationID, &c.InitiatorID, &c.Type, &c.Status,
			&c.CreatedAt, &c.StartedAt, &c.EndedAt, &c.DurationSeconds); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- Typing ----

func (s *PostgresStore) SetTyping(ctx context.Context, t TypingState) error {
	if t.ConversationID == "" || t.UserID == "" {
		return fmt.Errorf("set typing: %w", ErrInvalidInput)
	}
	typing := tableRef(s.schema, "typing_states")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+typing+` (conversation_id, user_id, is_typing, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (conversation_id, user_id)
		 DO UPDATE SET is_typing = EXCLUDED.is_typing, updated_at = EXCLUDED.updated_at`,
		t.ConversationID, t.UserID, t.IsTyping, t.UpdatedAt,
	)
	if pgIsForeignKeyViolation(err) {
		return fmt.Errorf("conversation %s: %w", t.ConversationID, ErrNotFound)
	}
	return err
}

// ---- helpers ----

func (s *PostgresStore) conversationExists(ctx context.Context, id string) (bool, error) {
	convs := tableRef(s.schema, "conversations")
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM `+convs+` WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) callExists(ctx context.Context, id string) (bool, error) {
	calls := tableRef(s.schema, "calls")
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM `+calls+` WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

// tableRef renders a quoted, schema-qualified table reference for splicing
// into query text. Values are never spliced, only identifiers.
func tableRef(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// pgErrCode reports whether err carries the given Postgres SQLSTATE.
func pgErrCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func pgIsUniqueViolation(err error) bool { return pgErrCode(err, "23505") }

func pgIsForeignKeyViolation(err error) bool { return pgErrCode(err, "23503") }
