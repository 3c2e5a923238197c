package source

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/common"
)

// FileStore keeps uploaded source files under a directory, addressed by the
// sha256 of their content. Storing the same bytes twice yields the same ref.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("file store root is required")
	}
	dir := filepath.Join(root, "sources")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create file store: %w", err)
	}
	return &FileStore{root: dir}, nil
}

// StoredFile describes a stored upload.
type StoredFile struct {
	Ref          string
	HashHex      string
	Ext          string
	Size         int64
	Deduplicated bool
}

// Put reads at most constants.MaxUploadBytes from r and stores it.
func (s *FileStore) Put(r io.Reader, filename string) (StoredFile, error) {
	ext := constants.NormalizeExt(filepath.Ext(filename))
	if ext == "" || !constants.AllowedExt(ext) {
		return StoredFile{}, common.NewValidationErrorf("unsupported file extension %q", ext)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, constants.MaxUploadBytes+1))
	if err != nil {
		return StoredFile{}, fmt.Errorf("read upload: %w", err)
	}
	if n > constants.MaxUploadBytes {
		return StoredFile{}, common.NewValidationErrorf("file exceeds %d bytes", constants.MaxUploadBytes)
	}
	if n == 0 {
		return StoredFile{}, common.NewValidationError("file is empty")
	}

	sum := sha256.Sum256(buf.Bytes())
	hashHex := hex.EncodeToString(sum[:])
	ref := hashHex + "." + ext
	out := StoredFile{Ref: ref, HashHex: hashHex, Ext: ext, Size: n}

	path := filepath.Join(s.root, ref)
	if _, err := os.Stat(path); err == nil {
		out.Deduplicated = true
		return out, nil
	}

	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return StoredFile{}, fmt.Errorf("create temp: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return StoredFile{}, fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return StoredFile{}, fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return StoredFile{}, fmt.Errorf("store upload: %w", err)
	}
	return out, nil
}

// Open returns the stored bytes for ref.
func (s *FileStore) Open(ref string) ([]byte, error) {
	if ref == "" || ref != filepath.Base(ref) {
		return nil, common.NewValidationErrorf("invalid source ref %q", ref)
	}
	b, err := os.ReadFile(filepath.Join(s.root, ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, common.NewNotFoundError("stored source " + ref)
	}
	return b, err
}
