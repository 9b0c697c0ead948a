package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hitoshi/filekeep/internal/model"
)

// LocalStore はローカルディレクトリにblobを保存するStore実装。
type LocalStore struct {
	root string
}

// NewLocalStore はLocalStoreを生成する。rootが存在しない場合は作成する（冪等）。
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root %q: %w", root, err)
	}
	return &LocalStore{root: root}, nil
}

// Save はdataを新しいUUID名で保存する。
func (s *LocalStore) Save(ctx context.Context, data []byte) (model.ContentRef, error) {
	ref := newContentRef()
	if err := s.write(ctx, string(ref), data); err != nil {
		return "", err
	}
	return ref, nil
}

// SaveDerivative はサムネイルを保存する。
func (s *LocalStore) SaveDerivative(ctx context.Context, ref model.ContentRef, width int, data []byte) error {
	return s.write(ctx, ref.DerivativeName(width), data)
}

// Read はblobを読み出す。
func (s *LocalStore) Read(ctx context.Context, ref model.ContentRef, width int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, ok := s.path(objectName(ref, width))
	if !ok {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	return data, nil
}

// write は一時ファイルに書き込んでからrenameする。
// 同じ名前への並行書き込みがあっても、読み手が途中までのデータを見ることはない。
func (s *LocalStore) write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, ok := s.path(name)
	if !ok {
		return fmt.Errorf("invalid content name %q", name)
	}

	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move content into place: %w", err)
	}
	return nil
}

// path はroot配下のパスを返す。名前にパス区切りを含む場合はfalseを返す。
func (s *LocalStore) path(name string) (string, bool) {
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		return "", false
	}
	return filepath.Join(s.root, name), true
}

// compile-time interface check
var _ Store = (*LocalStore)(nil)
