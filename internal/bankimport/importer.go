package bankimport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"VersotechFeeEngine/internal/logger"
	"VersotechFeeEngine/internal/matching"
	"VersotechFeeEngine/internal/metrics"
	"VersotechFeeEngine/internal/model"
	"VersotechFeeEngine/internal/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// batchNamespace seeds deterministic batch ids derived from file content.
var batchNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:feeengine:bank-import"))

// MatchRunner runs the automatic matching pass over a freshly imported batch.
type MatchRunner interface {
	RunBatch(ctx context.Context, batchID string) (matching.Summary, error)
}

// Archiver keeps the raw uploaded file.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte, contentType string) error
}

// S3Archiver stores raw extracts in an S3 bucket.
type S3Archiver struct {
	client *s3.Client
	bucket string
}

func NewS3Archiver(ctx context.Context, bucket, region string) (*S3Archiver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &S3Archiver{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (a *S3Archiver) Archive(ctx context.Context, key string, body []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload to s3 (bucket %s, key %s): %w", a.bucket, key, err)
	}
	return nil
}

// Ping checks the archive bucket is reachable with the loaded credentials.
func (a *S3Archiver) Ping(ctx context.Context) error {
	if _, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)}); err != nil {
		return fmt.Errorf("head bucket %s: %w", a.bucket, err)
	}
	return nil
}

var contentTypes = map[string]string{
	FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	FormatXLS:  "application/vnd.ms-excel",
	FormatCSV:  "text/csv",
}

type Config struct {
	DefaultCurrency string
	ArchivePrefix   string
}

// Upload is one statement file handed in by staff or a bank feed.
type Upload struct {
	Data       []byte
	FileName   string
	BatchID    string
	AccountRef string
}

type Summary struct {
	BatchID        string                  `json:"import_batch_id"`
	Format         string                  `json:"format"`
	Imported       int                     `json:"imported"`
	Skipped        int                     `json:"skipped"`
	Failed         int                     `json:"failed"`
	Duplicates     int                     `json:"duplicates"`
	PendingMatches int                     `json:"pending_matches"`
	Suggestions    int                     `json:"suggestions"`
	ArchiveKey     string                  `json:"archive_key,omitempty"`
	Errors         []model.ValidationError `json:"errors,omitempty"`
	MatchErrors    []matching.Failure      `json:"match_errors,omitempty"`
}

type options struct {
	now      func() time.Time
	metrics  *metrics.Engine
	audit    model.AuditSink
	newID    func() string
	archiver Archiver
	matcher  MatchRunner
}

type Option func(*options)

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func WithMetrics(m *metrics.Engine) Option { return func(o *options) { o.metrics = m } }

func WithAudit(a model.AuditSink) Option { return func(o *options) { o.audit = a } }

func WithIDs(gen func() string) Option { return func(o *options) { o.newID = gen } }

func WithArchiver(a Archiver) Option { return func(o *options) { o.archiver = a } }

// WithMatcher enables the matching pass that follows every import.
func WithMatcher(m MatchRunner) Option { return func(o *options) { o.matcher = m } }

type Importer struct {
	store store.Store
	cfg   Config
	opts  options
	log   zerolog.Logger
}

func NewImporter(st store.Store, cfg Config, opts ...Option) *Importer {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	o := options{
		now:   func() time.Time { return time.Now().UTC() },
		audit: model.NopAudit{},
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Importer{store: st, cfg: cfg, opts: o, log: logger.WithComponent("bankimport")}
}

// Import parses the upload and stores each row on its own, so a failure
// part-way leaves earlier rows committed and a re-run only adds what is
// missing.
func (im *Importer) Import(ctx context.Context, up Upload) (Summary, error) {
	const op = "bankimport.Import"
	if len(up.Data) == 0 {
		return Summary{}, fmt.Errorf("%s: %w", op, model.Invalid("file", "is empty"))
	}
	digest := sha256.Sum256(up.Data)
	hash := hex.EncodeToString(digest[:])

	sum := Summary{BatchID: strings.TrimSpace(up.BatchID)}
	if sum.BatchID == "" {
		sum.BatchID = uuid.NewSHA1(batchNamespace, digest[:]).String()
	}

	parsed, err := Parse(up.Data, im.cfg.DefaultCurrency)
	if err != nil {
		return sum, fmt.Errorf("%s: %s: %w", op, up.FileName, err)
	}
	sum.Format = parsed.Format
	sum.Skipped = parsed.Skipped
	sum.Failed = len(parsed.Errors)
	sum.Errors = parsed.Errors

	if im.opts.archiver != nil {
		key := im.cfg.ArchivePrefix + sum.BatchID + "/" + hash + "." + parsed.Format
		if err := im.opts.archiver.Archive(ctx, key, up.Data, contentTypes[parsed.Format]); err != nil {
			im.log.Warn().Err(err).Str("batch_id", sum.BatchID).Msg("raw statement not archived")
		} else {
			sum.ArchiveKey = key
		}
	}

	now := im.opts.now()
	for _, row := range parsed.Rows {
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("%s: %w", op, err)
		}
		account := row.AccountRef
		if account == "" {
			account = up.AccountRef
		}
		txn := &model.BankTransaction{
			ID:            im.opts.newID(),
			AccountRef:    account,
			Amount:        row.Amount,
			Currency:      row.Currency,
			ValueDate:     row.ValueDate,
			Counterparty:  row.Counterparty,
			Memo:          row.Memo,
			BankReference: row.BankReference,
			Status:        model.TransactionUnmatched,
			ImportBatchID: sum.BatchID,
			CreatedAt:     now,
		}
		err := im.store.InsertTransaction(ctx, txn)
		switch {
		case err == nil:
			sum.Imported++
		case errors.Is(err, model.ErrAlreadyProcessed):
			sum.Duplicates++
		default:
			sum.Failed++
			sum.Errors = append(sum.Errors, model.ValidationError{Row: row.Row, Reason: err.Error()})
		}
	}

	im.opts.metrics.Add(metrics.ImportedRows, float64(sum.Imported), "imported")
	im.opts.metrics.Add(metrics.ImportedRows, float64(sum.Skipped), "skipped")
	im.opts.metrics.Add(metrics.ImportedRows, float64(sum.Failed), "failed")
	im.opts.metrics.Add(metrics.ImportedRows, float64(sum.Duplicates), "duplicate")

	if im.opts.matcher != nil {
		ms, err := im.opts.matcher.RunBatch(ctx, sum.BatchID)
		if err != nil {
			im.log.Error().Err(err).Str("batch_id", sum.BatchID).Msg("matching pass after import failed")
		}
		sum.PendingMatches = ms.Pending
		sum.Suggestions = ms.Suggested
		sum.MatchErrors = ms.Errors
	}

	im.opts.audit.Record(ctx, model.AuditEntry{
		Actor: "system", Action: "import", Entity: "bank_import", EntityID: sum.BatchID,
		Detail: map[string]interface{}{
			"file":       up.FileName,
			"sha256":     hash,
			"imported":   sum.Imported,
			"duplicates": sum.Duplicates,
			"failed":     sum.Failed,
		},
		At: now,
	})
	im.log.Info().
		Str("batch_id", sum.BatchID).
		Str("format", sum.Format).
		Int("imported", sum.Imported).
		Int("skipped", sum.Skipped).
		Int("failed", sum.Failed).
		Int("duplicates", sum.Duplicates).
		Msg("bank statement imported")
	return sum, nil
}
