// Package backup snapshots the account store, encrypts it, and uploads it
// to S3-compatible storage. Financial-adjacent data warrants off-site
// durability even for a small service.
package backup

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Config struct {
	Bucket     string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Passphrase string
}

// Enabled reports whether the config is complete enough to run backups.
func (c Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != "" && c.Passphrase != ""
}

type s3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Manager uploads encrypted snapshots on a fixed schedule.
type Manager struct {
	cfg    Config
	client s3Client
	dbPath string
	logger *slog.Logger
}

func NewManager(cfg Config, dbPath string, logger *slog.Logger) *Manager {
	m := &Manager{cfg: cfg, dbPath: dbPath, logger: logger}
	if cfg.Enabled() {
		m.client = newS3Client(cfg)
	}
	return m
}

func newS3Client(cfg Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Run performs one backup: read the database file, encrypt, upload. The
// object key carries a UTC timestamp so uploads never overwrite each other.
func (m *Manager) Run(ctx context.Context) error {
	if m.client == nil {
		return fmt.Errorf("backup not configured")
	}

	plaintext, err := os.ReadFile(m.dbPath)
	if err != nil {
		return fmt.Errorf("read database file: %w", err)
	}

	salt, err := GenerateSalt()
	if err != nil {
		return err
	}
	encrypted, err := Encrypt(plaintext, m.cfg.Passphrase, salt)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("despacho/%s.db.enc", time.Now().UTC().Format("2006-01-02T15-04-05"))
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(encrypted),
	})
	if err != nil {
		return fmt.Errorf("upload backup: %w", err)
	}

	m.logger.Info("backup uploaded", "key", key, "bytes", len(encrypted))
	return nil
}

// Start runs a daily backup loop until the context is canceled.
func (m *Manager) Start(ctx context.Context) {
	if m.client == nil {
		m.logger.Info("backups disabled")
		return
	}
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Run(ctx); err != nil {
					m.logger.Error("scheduled backup failed", "error", err)
				}
			}
		}
	}()
}
