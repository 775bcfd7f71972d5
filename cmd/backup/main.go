// Backup job: dumps the metadata database, pushes it to S3 and rotates old
// dumps. Optionally mirrors the PDF tree as well. Meant to run from cron or
// a one-shot container.
package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/kelseyhightower/envconfig"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/storage"
)

type BackupConfig struct {
	PostgresHost     string `envconfig:"POSTGRES_HOST" required:"true"`
	PostgresUser     string `envconfig:"POSTGRES_USER" required:"true"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	PostgresDB       string `envconfig:"POSTGRES_DB" required:"true"`
	BackupBucket     string `envconfig:"BACKUP_S3_BUCKET" required:"true"`
	BackupEndpoint   string `envconfig:"BACKUP_S3_ENDPOINT" required:"true"`
	BackupAccessKey  string `envconfig:"BACKUP_S3_ACCESS_KEY" required:"true"`
	BackupSecretKey  string `envconfig:"BACKUP_S3_SECRET_KEY" required:"true"`
	BackupRegion     string `envconfig:"BACKUP_S3_REGION" required:"true"`
	KeepBackups      int    `envconfig:"KEEP_BACKUPS" default:"4"`
	MirrorLibrary    bool   `envconfig:"BACKUP_MIRROR_LIBRARY" default:"false"`
	LibraryRoot      string `envconfig:"LIBRARY_ROOT" default:"./library"`
}

func main() {
	log.Println("Starting backup run...")

	var cfg BackupConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Loading configuration failed: %v", err)
	}
	ctx := context.Background()

	dumpData, err := createDump(cfg)
	if err != nil {
		log.Fatalf("Creating database dump failed: %v", err)
	}

	settings := storage.S3Settings{
		Endpoint:  cfg.BackupEndpoint,
		Region:    cfg.BackupRegion,
		AccessKey: cfg.BackupAccessKey,
		SecretKey: cfg.BackupSecretKey,
		Bucket:    cfg.BackupBucket,
	}
	client, err := storage.NewS3Client(ctx, settings)
	if err != nil {
		log.Fatalf("Creating S3 client failed: %v", err)
	}

	fileName := fmt.Sprintf("dumps/backup-%s.sql.gz", time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	if err := storage.Upload(ctx, client, settings, fileName, dumpData); err != nil {
		log.Fatalf("Uploading dump failed: %v", err)
	}
	log.Printf("Dump uploaded to s3://%s/%s", cfg.BackupBucket, fileName)

	if err := storage.Rotate(ctx, client, settings, "dumps/", cfg.KeepBackups); err != nil {
		log.Fatalf("Rotating old dumps failed: %v", err)
	}

	if cfg.MirrorLibrary {
		if err := mirrorLibrary(ctx, client, settings, cfg.LibraryRoot); err != nil {
			log.Fatalf("Mirroring pdf tree failed: %v", err)
		}
	}

	log.Println("Backup run finished.")
}

func createDump(cfg BackupConfig) ([]byte, error) {
	cmd := exec.Command("pg_dump",
		"-h", cfg.PostgresHost,
		"-U", cfg.PostgresUser,
		"-d", cfg.PostgresDB,
		"-w", // password comes in via PGPASSWORD
	)
	cmd.Env = append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", cfg.PostgresPassword))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	if _, err := io.Copy(gzipWriter, stdout); err != nil {
		return nil, err
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, err
	}
	if err := cmd.Wait(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// mirrorLibrary pushes every PDF under the library root. Keys match the
// content-addressed layout on disk, so re-runs overwrite identical bytes.
func mirrorLibrary(ctx context.Context, client *s3.Client, settings storage.S3Settings, root string) error {
	pdfRoot := filepath.Join(root, "pdfs")
	count := 0
	err := filepath.WalkDir(pdfRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := storage.Upload(ctx, client, settings, filepath.ToSlash(rel), data); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("Mirrored %d pdf files", count)
	return nil
}
