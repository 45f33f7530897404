package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return constraint == "" || pgErr.ConstraintName == constraint
	}
	return false
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	tags, err := json.Marshal(orEmpty(item.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, content, folder, status, tags, owner_id, word_count, character_count, last_edited_by)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10)
	`, item.ID, item.Title, item.Content, item.Folder, item.Status, string(tags), item.OwnerID, item.WordCount, item.CharacterCount, item.LastEditedBy)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	var tagsRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, folder, status, tags, owner_id, word_count, character_count, last_edited_by, created_at, updated_at
		FROM documents
		WHERE id=$1
	`, documentID).Scan(
		&item.ID,
		&item.Title,
		&item.Content,
		&item.Folder,
		&item.Status,
		&tagsRaw,
		&item.OwnerID,
		&item.WordCount,
		&item.CharacterCount,
		&item.LastEditedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	_ = json.Unmarshal(tagsRaw, &item.Tags)

	if err := s.hydrateDocument(ctx, &item); err != nil {
		return Document{}, err
	}
	return item, nil
}

// hydrateDocument attaches collaborators and share state to a document row.
func (s *PostgresStore) hydrateDocument(ctx context.Context, item *Document) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, capability
		FROM document_collaborators
		WHERE document_id=$1
	`, item.ID)
	if err != nil {
		return fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	item.Collaborators = make(map[string]string)
	for rows.Next() {
		var userID, capability string
		if err := rows.Scan(&userID, &capability); err != nil {
			return fmt.Errorf("scan collaborator: %w", err)
		}
		item.Collaborators[userID] = capability
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate collaborators: %w", err)
	}

	share, err := s.getShareSettings(ctx, item.ID)
	if err != nil {
		return err
	}
	item.Share = share
	return nil
}

func (s *PostgresStore) getShareSettings(ctx context.Context, documentID string) (*ShareSettings, error) {
	var share ShareSettings
	err := s.db.QueryRowContext(ctx, `
		SELECT is_public, allow_comments, allow_download, default_permission, password_hash, expires_at
		FROM document_share_settings
		WHERE document_id=$1
	`, documentID).Scan(
		&share.IsPublic,
		&share.AllowComments,
		&share.AllowDownload,
		&share.DefaultPermission,
		&share.PasswordHash,
		&share.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get share settings: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT token, document_id, capability, url, created_at
		FROM permission_links
		WHERE document_id=$1
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list permission links: %w", err)
	}
	defer rows.Close()

	share.Links = make(map[string]PermissionLink)
	for rows.Next() {
		var link PermissionLink
		if err := rows.Scan(&link.Token, &link.DocumentID, &link.Capability, &link.URL, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan permission link: %w", err)
		}
		share.Links[link.Capability] = link
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permission links: %w", err)
	}
	return &share, nil
}

func (s *PostgresStore) ListDocumentsForUser(ctx context.Context, userID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.title, d.content, d.folder, d.status, d.tags, d.owner_id, d.word_count, d.character_count, d.last_edited_by, d.created_at, d.updated_at
		FROM documents d
		WHERE d.owner_id=$1
		   OR EXISTS (SELECT 1 FROM document_collaborators c WHERE c.document_id=d.id AND c.user_id=$1)
		ORDER BY d.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		var tagsRaw []byte
		if err := rows.Scan(
			&item.ID,
			&item.Title,
			&item.Content,
			&item.Folder,
			&item.Status,
			&tagsRaw,
			&item.OwnerID,
			&item.WordCount,
			&item.CharacterCount,
			&item.LastEditedBy,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		_ = json.Unmarshal(tagsRaw, &item.Tags)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	for i := range items {
		if err := s.hydrateDocument(ctx, &items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, item Document) error {
	tags, err := json.Marshal(orEmpty(item.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title=$2, content=$3, folder=$4, status=$5, tags=$6::jsonb,
		    word_count=$7, character_count=$8, last_edited_by=$9, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Content, item.Folder, item.Status, string(tags), item.WordCount, item.CharacterCount, item.LastEditedBy)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetCollaborator(ctx context.Context, documentID, userID, capability string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_collaborators (document_id, user_id, capability)
		VALUES ($1, $2, $3)
		ON CONFLICT (document_id, user_id) DO UPDATE SET capability=EXCLUDED.capability
	`, documentID, userID, capability)
	if err != nil {
		return fmt.Errorf("set collaborator: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveCollaborator(ctx context.Context, documentID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM document_collaborators WHERE document_id=$1 AND user_id=$2
	`, documentID, userID)
	if err != nil {
		return fmt.Errorf("remove collaborator: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertShareSettings(ctx context.Context, documentID string, share ShareSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_share_settings (document_id, is_public, allow_comments, allow_download, default_permission, password_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (document_id) DO UPDATE SET
			is_public=EXCLUDED.is_public,
			allow_comments=EXCLUDED.allow_comments,
			allow_download=EXCLUDED.allow_download,
			default_permission=EXCLUDED.default_permission,
			password_hash=EXCLUDED.password_hash,
			expires_at=EXCLUDED.expires_at
	`, documentID, share.IsPublic, share.AllowComments, share.AllowDownload, share.DefaultPermission, share.PasswordHash, share.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert share settings: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertPermissionLink(ctx context.Context, link PermissionLink) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permission_links (token, document_id, capability, url)
		VALUES ($1, $2, $3, $4)
	`, link.Token, link.DocumentID, link.Capability, link.URL)
	if isUniqueViolation(err, "permission_links_pkey") {
		return ErrTokenExists
	}
	if isUniqueViolation(err, "") {
		return ErrLinkExists
	}
	if err != nil {
		return fmt.Errorf("insert permission link: %w", err)
	}
	return nil
}

// ClearSharing removes the share-settings row and every permission link for
// a document in one transaction, so a concurrent reader never observes a
// half-revoked document. It returns the removed tokens for cache eviction.
func (s *PostgresStore) ClearSharing(ctx context.Context, documentID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin clear sharing: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		DELETE FROM permission_links WHERE document_id=$1 RETURNING token
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("delete permission links: %w", err)
	}
	tokens := make([]string, 0)
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan removed token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate removed tokens: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM document_share_settings WHERE document_id=$1
	`, documentID); err != nil {
		return nil, fmt.Errorf("delete share settings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit clear sharing: %w", err)
	}
	return tokens, nil
}

func (s *PostgresStore) GetDocumentByToken(ctx context.Context, token string) (Document, PermissionLink, error) {
	var link PermissionLink
	err := s.db.QueryRowContext(ctx, `
		SELECT token, document_id, capability, url, created_at
		FROM permission_links
		WHERE token=$1
	`, token).Scan(&link.Token, &link.DocumentID, &link.Capability, &link.URL, &link.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, PermissionLink{}, ErrNotFound
	}
	if err != nil {
		return Document{}, PermissionLink{}, fmt.Errorf("lookup share token: %w", err)
	}

	doc, err := s.GetDocument(ctx, link.DocumentID)
	if err != nil {
		return Document{}, PermissionLink{}, err
	}
	return doc, link, nil
}

// InsertVersion assigns the next per-document version number and inserts the
// row in one statement. The (document_id, version_number) unique index turns
// a concurrent double-assignment into ErrVersionConflict for the loser.
func (s *PostgresStore) InsertVersion(ctx context.Context, version Version) (Version, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO document_versions (id, document_id, version_number, title, content, author_id, author_name, description, is_auto_save)
		SELECT $1, $2, COALESCE(MAX(version_number), 0) + 1, $3, $4, $5, $6, $7, $8
		FROM document_versions
		WHERE document_id=$2
		RETURNING version_number, created_at
	`, version.ID, version.DocumentID, version.Title, version.Content, version.AuthorID, version.AuthorName, version.Desc, version.IsAutoSave).Scan(&version.Number, &version.CreatedAt)
	if isUniqueViolation(err, "") {
		return Version{}, ErrVersionConflict
	}
	if err != nil {
		return Version{}, fmt.Errorf("insert version: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, documentID string, limit, offset int) ([]Version, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM document_versions WHERE document_id=$1
	`, documentID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count versions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, version_number, title, content, author_id, author_name, description, is_auto_save, created_at
		FROM document_versions
		WHERE document_id=$1
		ORDER BY version_number DESC
		LIMIT $2 OFFSET $3
	`, documentID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		var item Version
		if err := rows.Scan(
			&item.ID,
			&item.DocumentID,
			&item.Number,
			&item.Title,
			&item.Content,
			&item.AuthorID,
			&item.AuthorName,
			&item.Desc,
			&item.IsAutoSave,
			&item.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate versions: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, documentID, versionID string) (Version, error) {
	var item Version
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, version_number, title, content, author_id, author_name, description, is_auto_save, created_at
		FROM document_versions
		WHERE document_id=$1 AND id=$2
	`, documentID, versionID).Scan(
		&item.ID,
		&item.DocumentID,
		&item.Number,
		&item.Title,
		&item.Content,
		&item.AuthorID,
		&item.AuthorName,
		&item.Desc,
		&item.IsAutoSave,
		&item.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, ErrNotFound
	}
	if err != nil {
		return Version{}, fmt.Errorf("get version: %w", err)
	}
	return item, nil
}

func orEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
