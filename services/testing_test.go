package services

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/config"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/models"
)

// openTestDB gives every test its own in-memory database with the full schema.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Document{}, &models.DocumentIdentifier{}, &models.Tag{},
		&models.PdfArtifact{},
		&models.ScreeningProject{}, &models.Candidate{}, &models.LabelEvent{},
	))
	return db
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		LibraryRoot:       t.TempDir(),
		ContactEmail:      "dev@example.org",
		ProviderOrder:     "crossref,openalex,pubmed",
		RetryAttempts:     3,
		RetryBackoff:      time.Millisecond,
		ProviderTimeout:   time.Second,
		CooldownWindow:    time.Minute,
		MaxPDFBytes:       1 << 20,
		IngestConcurrency: 2,
		VerifyConcurrency: 2,
		SearchConcurrency: 3,
	}
}

func newTestLibrary(t *testing.T) *Library {
	t.Helper()
	return NewLibrary(openTestDB(t), zap.NewNop())
}
