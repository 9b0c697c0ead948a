package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/filekeep/internal/model"
)

const fileColumns = `id, owner_id, name, kind, parent_id, is_public, content_ref, created_at`

// PostgresFileRepo はPostgreSQLを使用したファイルメタデータリポジトリ。
type PostgresFileRepo struct {
	db *sql.DB
}

// NewPostgresFileRepo はPostgresFileRepoを生成する。
func NewPostgresFileRepo(db *sql.DB) *PostgresFileRepo {
	return &PostgresFileRepo{db: db}
}

// Create はファイルを作成する。IDはシーケンスから採番され、再利用されない。
func (r *PostgresFileRepo) Create(ctx context.Context, file *model.File) error {
	var contentRef sql.NullString
	if file.Content != nil {
		contentRef = sql.NullString{String: string(*file.Content), Valid: true}
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO files (owner_id, name, kind, parent_id, is_public, content_ref)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		file.OwnerID, file.Name, string(file.Kind), file.ParentID, file.IsPublic, contentRef,
	).Scan(&file.ID, &file.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}
	return nil
}

// FindByID は所有者を問わず指定IDのファイルを取得する。見つからない場合はnilを返す。
func (r *PostgresFileRepo) FindByID(ctx context.Context, id int64) (*model.File, error) {
	file, err := scanFile(r.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find file by ID: %w", err)
	}
	return file, nil
}

// FindByOwnerAndID は所有者スコープでファイルを取得する。見つからない場合はnilを返す。
func (r *PostgresFileRepo) FindByOwnerAndID(ctx context.Context, ownerID string, id int64) (*model.File, error) {
	file, err := scanFile(r.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find file by owner and ID: %w", err)
	}
	return file, nil
}

// ListByOwnerAndParent は(owner_id, parent_id)に一致するファイルをページ単位で取得する。
// 同一時刻の行がページ境界で重複・欠落しないよう、idを第2ソートキーとする。
func (r *PostgresFileRepo) ListByOwnerAndParent(ctx context.Context, ownerID string, parentID int64, limit, offset int) ([]*model.File, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+fileColumns+`
		 FROM files
		 WHERE owner_id = $1 AND parent_id = $2
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3 OFFSET $4`,
		ownerID, parentID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	files := make([]*model.File, 0, limit)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate files: %w", err)
	}
	return files, nil
}

// CountByOwnerAndParent はListByOwnerAndParentと同じ条件の件数を返す。
func (r *PostgresFileRepo) CountByOwnerAndParent(ctx context.Context, ownerID string, parentID int64) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM files WHERE owner_id = $1 AND parent_id = $2`,
		ownerID, parentID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return n, nil
}

// UpdateVisibility は公開フラグを更新し、更新後のファイルを返す。対象が存在しない場合はnilを返す。
func (r *PostgresFileRepo) UpdateVisibility(ctx context.Context, ownerID string, id int64, isPublic bool) (*model.File, error) {
	file, err := scanFile(r.db.QueryRowContext(ctx,
		`UPDATE files SET is_public = $3
		 WHERE id = $1 AND owner_id = $2
		 RETURNING `+fileColumns,
		id, ownerID, isPublic,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update file visibility: %w", err)
	}
	return file, nil
}

// Count は全ファイル数を返す。
func (r *PostgresFileRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return n, nil
}

// scanFile は1行をmodel.Fileに読み込む。content_refの有無はkindと一致する。
func scanFile(row rowScanner) (*model.File, error) {
	file := &model.File{}
	var kind string
	var contentRef sql.NullString
	if err := row.Scan(
		&file.ID, &file.OwnerID, &file.Name, &kind, &file.ParentID,
		&file.IsPublic, &contentRef, &file.CreatedAt,
	); err != nil {
		return nil, err
	}

	file.Kind = model.FileKind(kind)
	if contentRef.Valid {
		ref := model.ContentRef(contentRef.String)
		file.Content = &ref
	}
	return file, nil
}

// compile-time interface check
var _ FileRepository = (*PostgresFileRepo)(nil)
