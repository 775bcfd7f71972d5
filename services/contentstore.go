package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/config"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/models"
)

const pdfMagic = "%PDF"

// ContentStore keeps PDF payloads under a content-addressed directory tree,
// <root>/pdfs/<hh>/<hash>.pdf, with the artifact index in the database. The
// same bytes arriving under different identifiers are stored exactly once.
type ContentStore struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *gorm.DB
	Client *http.Client

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewContentStore creates the store and its directory skeleton.
func NewContentStore(cfg *config.Config, logger *zap.Logger, db *gorm.DB) (*ContentStore, error) {
	for _, dir := range []string{
		filepath.Join(cfg.LibraryRoot, "tmp"),
		filepath.Join(cfg.LibraryRoot, "pdfs"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating content store directory %s: %w", dir, err)
		}
	}
	return &ContentStore{
		Config: cfg,
		Logger: logger,
		DB:     db,
		Client: &http.Client{Timeout: 2 * time.Minute},
		locks:  map[string]*sync.Mutex{},
	}, nil
}

// Download fetches a PDF from url and stores it. The bool reports a dedup
// hit against an already stored payload. Network failures, non-PDF payloads
// and oversized responses come back as a FetchFailedError so callers can
// treat a missing PDF as a degraded success.
func (s *ContentStore) Download(ctx context.Context, url string, source models.ArtifactSource) (*models.PdfArtifact, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, &FetchFailedError{URL: url, Reason: "building request", Err: err}
	}
	req.Header.Set("User-Agent", fmt.Sprintf("article-fetcher (mailto:%s)", s.Config.ContactEmail))

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, false, &FetchFailedError{URL: url, Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, &FetchFailedError{URL: url, Reason: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	hash, size, tmpPath, err := s.spool(resp.Body)
	if err != nil {
		var ff *FetchFailedError
		if errors.As(err, &ff) {
			ff.URL = url
			return nil, false, ff
		}
		return nil, false, &FetchFailedError{URL: url, Reason: "spooling response", Err: err}
	}
	return s.commit(ctx, hash, size, tmpPath, source)
}

// PutFile stores a local PDF, for attachments handed in alongside an
// identifier. The bool reports a dedup hit.
func (s *ContentStore) PutFile(ctx context.Context, path string, source models.ArtifactSource) (*models.PdfArtifact, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("opening local pdf: %w", err)
	}
	defer f.Close()

	hash, size, tmpPath, err := s.spool(f)
	if err != nil {
		return nil, false, fmt.Errorf("reading local pdf %s: %w", path, err)
	}
	return s.commit(ctx, hash, size, tmpPath, source)
}

// spool streams the payload to a uniquely named temp file while hashing it,
// enforcing the size cap and the PDF magic bytes along the way.
func (s *ContentStore) spool(r io.Reader) (hash string, size int64, tmpPath string, err error) {
	tmpPath = filepath.Join(s.Config.LibraryRoot, "tmp", uuid.NewString())
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return "", 0, "", err
	}
	defer func() {
		tmp.Close()
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	head := make([]byte, len(pdfMagic))
	if _, err = io.ReadFull(r, head); err != nil {
		return "", 0, "", &FetchFailedError{Reason: "payload shorter than a pdf header", Err: err}
	}
	if !strings.HasPrefix(string(head), pdfMagic) {
		return "", 0, "", &FetchFailedError{Reason: "payload is not a pdf"}
	}

	h := sha256.New()
	dst := io.MultiWriter(tmp, h)
	if _, err = dst.Write(head); err != nil {
		return "", 0, "", err
	}

	limit := s.Config.MaxPDFBytes - int64(len(head))
	n, err := io.Copy(dst, io.LimitReader(r, limit+1))
	if err != nil {
		return "", 0, "", err
	}
	if n > limit {
		err = &FetchFailedError{Reason: fmt.Sprintf("payload exceeds %d bytes", s.Config.MaxPDFBytes)}
		return "", 0, "", err
	}
	if err = tmp.Close(); err != nil {
		return "", 0, "", err
	}
	return hex.EncodeToString(h.Sum(nil)), n + int64(len(head)), tmpPath, nil
}

// commit moves the spooled file into its hash-addressed home and records the
// artifact row. Per-hash locking keeps concurrent ingests of identical bytes
// down to a single write.
func (s *ContentStore) commit(ctx context.Context, hash string, size int64, tmpPath string, source models.ArtifactSource) (*models.PdfArtifact, bool, error) {
	lock := s.hashLock(hash)
	lock.Lock()
	defer lock.Unlock()

	var existing models.PdfArtifact
	err := s.DB.WithContext(ctx).Where("hash = ?", hash).First(&existing).Error
	if err == nil {
		os.Remove(tmpPath)
		s.Logger.Debug("Duplicate pdf payload, reusing artifact",
			zap.String("hash", hash), zap.Uint("artifact_id", existing.ID))
		return &existing, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		os.Remove(tmpPath)
		return nil, false, err
	}

	relPath := filepath.Join("pdfs", hash[:2], hash+".pdf")
	finalPath := filepath.Join(s.Config.LibraryRoot, relPath)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		os.Remove(tmpPath)
		return nil, false, err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return nil, false, err
	}

	artifact := models.PdfArtifact{Hash: hash, Size: size, Path: relPath, Source: source}
	err = s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&artifact).Error
	if err != nil {
		return nil, false, err
	}
	if artifact.ID == 0 {
		// Another process won the insert race, ours was a no-op.
		if err := s.DB.WithContext(ctx).Where("hash = ?", hash).First(&artifact).Error; err != nil {
			return nil, false, err
		}
		return &artifact, true, nil
	}
	s.Logger.Info("Stored pdf artifact",
		zap.String("hash", hash), zap.Int64("size", size), zap.String("path", relPath))
	return &artifact, false, nil
}

// AbsolutePath resolves an artifact's relative path under the library root.
func (s *ContentStore) AbsolutePath(a *models.PdfArtifact) string {
	return filepath.Join(s.Config.LibraryRoot, a.Path)
}

func (s *ContentStore) hashLock(hash string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[hash]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[hash] = lock
	}
	return lock
}
