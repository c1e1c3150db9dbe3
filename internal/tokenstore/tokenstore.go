package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/Shauryam-singh/Advance-Attendance/internal/cloudinary"
)

// ErrInvalidID is returned for ids that cannot be used as a file name.
var ErrInvalidID = errors.New("invalid student id for token storage")

// QRRenderer encodes payloads as PNG QR codes.
type QRRenderer struct {
	Size int
}

// Render implements issuance.Renderer.
func (r QRRenderer) Render(payload string) ([]byte, error) {
	size := r.Size
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(payload, qrcode.Medium, size)
}

// FileStore keeps one PNG per student under Dir.
type FileStore struct {
	Dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("token dir: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

// Path returns where studentID's token lives.
func (s *FileStore) Path(studentID string) (string, error) {
	if studentID == "" || studentID == "." || studentID == ".." || strings.ContainsAny(studentID, `/\`) {
		return "", fmt.Errorf("%q: %w", studentID, ErrInvalidID)
	}
	return filepath.Join(s.Dir, studentID+".png"), nil
}

// StoreToken writes to a temp file and renames it over the old token, so a
// reader never sees a half-written image.
func (s *FileStore) StoreToken(_ context.Context, studentID string, image []byte) error {
	path, err := s.Path(studentID)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.Dir, ".token-*.png")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(image); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load returns the current token image for studentID.
func (s *FileStore) Load(studentID string) ([]byte, error) {
	path, err := s.Path(studentID)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// CloudStore mirrors token images to Cloudinary, one public id per student.
type CloudStore struct {
	Client *cloudinary.Client
	Batch  string
}

// StoreToken implements issuance.Store.
func (s *CloudStore) StoreToken(ctx context.Context, studentID string, image []byte) error {
	_, err := s.Client.Upload(ctx, image, s.Batch+"_"+studentID)
	return err
}

// Store matches issuance.Store.
type Store interface {
	StoreToken(ctx context.Context, studentID string, image []byte) error
}

// Multi writes to every store and joins their errors.
type Multi []Store

// StoreToken implements issuance.Store.
func (m Multi) StoreToken(ctx context.Context, studentID string, image []byte) error {
	var errs []error
	for _, s := range m {
		if err := s.StoreToken(ctx, studentID, image); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ForBatch opens the batch's directory under root and, when cloud is set,
// mirrors writes to Cloudinary as well. The FileStore is returned separately
// so callers can serve images back.
func ForBatch(root, batch string, cloud *cloudinary.Client) (*FileStore, Store, error) {
	if batch == "" || strings.ContainsAny(batch, `/\`) || batch == "." || batch == ".." {
		return nil, nil, fmt.Errorf("batch %q: %w", batch, ErrInvalidID)
	}
	files, err := NewFileStore(filepath.Join(root, batch))
	if err != nil {
		return nil, nil, err
	}
	if cloud == nil {
		return files, files, nil
	}
	return files, Multi{files, &CloudStore{Client: cloud, Batch: batch}}, nil
}
