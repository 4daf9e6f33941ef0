package export

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/gaiadb/pkg/config"
	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/models"
)

const uploadPartSize = 8 * 1024 * 1024

// Scheme is the kind of destination.
type Scheme string

const (
	SchemeStdout Scheme = "stdout"
	SchemeFile   Scheme = "file"
	SchemeS3     Scheme = "s3"
	SchemeGCS    Scheme = "gs"
)

// Destination is a parsed output location.
type Destination struct {
	Scheme Scheme
	// Bucket is set for s3 and gs
	Bucket string
	// Path is the local path or object key
	Path string
}

// ParseDestination accepts "", "-", a local path, s3://bucket/key or
// gs://bucket/object.
func ParseDestination(raw string) (Destination, error) {
	if raw == "" || raw == "-" {
		return Destination{Scheme: SchemeStdout}, nil
	}
	if !strings.Contains(raw, "://") {
		return Destination{Scheme: SchemeFile, Path: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Destination{}, errors.Wrapf(err, errors.ErrorTypeValidation, "invalid destination %q", raw)
	}
	key := strings.TrimPrefix(u.Path, "/")
	switch Scheme(u.Scheme) {
	case SchemeS3, SchemeGCS:
		if u.Host == "" || key == "" || strings.HasSuffix(key, "/") {
			return Destination{}, errors.Newf(errors.ErrorTypeValidation, "destination %q needs a bucket and an object name", raw)
		}
		return Destination{Scheme: Scheme(u.Scheme), Bucket: u.Host, Path: key}, nil
	case SchemeFile:
		return Destination{Scheme: SchemeFile, Path: u.Path}, nil
	default:
		return Destination{}, errors.Newf(errors.ErrorTypeValidation, "unsupported destination scheme %q (want s3, gs or a local path)", u.Scheme)
	}
}

// String renders the destination.
func (d Destination) String() string {
	switch d.Scheme {
	case SchemeStdout:
		return "-"
	case SchemeFile:
		return d.Path
	default:
		return string(d.Scheme) + "://" + d.Bucket + "/" + d.Path
	}
}

// Uploader is the part of the s3 transfer manager used by the s3 sink.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Opener creates destination writers. Closing the writer completes the
// upload or file; a failed upload surfaces from Close.
type Opener struct {
	cfg    config.ExportConfig
	logger *zap.Logger

	// NewUploader and NewGCSClient are replaced in tests
	NewUploader  func(ctx context.Context) (Uploader, error)
	NewGCSClient func(ctx context.Context) (*storage.Client, error)
	Stdout       io.Writer
}

// NewOpener returns an opener using the configured cloud credentials.
func NewOpener(cfg config.ExportConfig, logger *zap.Logger) *Opener {
	o := &Opener{cfg: cfg, logger: logger.With(zap.String("component", "export")), Stdout: os.Stdout}
	o.NewUploader = o.s3Uploader
	o.NewGCSClient = o.gcsClient
	return o
}

// Open returns a writer for the destination.
func (o *Opener) Open(ctx context.Context, dest Destination, contentType string) (io.WriteCloser, error) {
	switch dest.Scheme {
	case SchemeStdout:
		return nopCloser{o.Stdout}, nil
	case SchemeFile:
		return o.openFile(dest.Path)
	case SchemeS3:
		return o.openS3(ctx, dest, contentType)
	case SchemeGCS:
		return o.openGCS(ctx, dest, contentType)
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "unsupported destination %q", dest.Scheme)
	}
}

func (o *Opener) openFile(path string) (io.WriteCloser, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to create %s", dir)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to create %s", path)
	}
	return f, nil
}

func (o *Opener) s3Uploader(ctx context.Context) (Uploader, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if o.cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(o.cfg.S3Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load aws config")
	}
	return manager.NewUploader(s3.NewFromConfig(cfg), func(u *manager.Uploader) {
		u.PartSize = uploadPartSize
		u.Concurrency = 2
	}), nil
}

// pipeUpload streams writes into a background upload.
type pipeUpload struct {
	pw   *io.PipeWriter
	done chan error
}

func (p *pipeUpload) Write(b []byte) (int, error) { return p.pw.Write(b) }

func (p *pipeUpload) Close() error {
	if err := p.pw.Close(); err != nil {
		return err
	}
	return <-p.done
}

func (o *Opener) openS3(ctx context.Context, dest Destination, contentType string) (io.WriteCloser, error) {
	up, err := o.NewUploader(ctx)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	p := &pipeUpload{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := up.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(dest.Bucket),
			Key:         aws.String(dest.Path),
			Body:        pr,
			ContentType: aws.String(contentType),
		})
		if err != nil {
			err = errors.Wrapf(err, errors.ErrorTypeConnection, "failed to upload %s", dest)
		} else {
			o.logger.Info("upload complete", zap.String("destination", dest.String()))
		}
		// unblock the writer if the upload stopped reading
		_ = pr.CloseWithError(err)
		p.done <- err
	}()
	return p, nil
}

func (o *Opener) gcsClient(ctx context.Context) (*storage.Client, error) {
	var opts []option.ClientOption
	if o.cfg.GCSCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(o.cfg.GCSCredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create gcs client")
	}
	return client, nil
}

// gcsObject closes the object writer and then the client.
type gcsObject struct {
	*storage.Writer
	client *storage.Client
	dest   Destination
	logger *zap.Logger
}

func (g *gcsObject) Close() error {
	err := g.Writer.Close()
	_ = g.client.Close()
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConnection, "failed to upload %s", g.dest)
	}
	g.logger.Info("upload complete", zap.String("destination", g.dest.String()))
	return nil
}

func (o *Opener) openGCS(ctx context.Context, dest Destination, contentType string) (io.WriteCloser, error) {
	client, err := o.NewGCSClient(ctx)
	if err != nil {
		return nil, err
	}
	w := client.Bucket(dest.Bucket).Object(dest.Path).NewWriter(ctx)
	w.ContentType = contentType
	return &gcsObject{Writer: w, client: client, dest: dest, logger: o.logger}, nil
}

// ContentType returns the MIME type of a format.
func ContentType(f Format) string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSONL:
		return "application/x-ndjson"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	case FormatAvro:
		return "application/avro"
	default:
		return "text/plain"
	}
}

// Export writes records to the raw destination in format.
func (o *Opener) Export(ctx context.Context, raw string, format Format, columns []string, records []*models.Record, opts Options) error {
	dest, err := ParseDestination(raw)
	if err != nil {
		return err
	}
	w, err := o.Open(ctx, dest, ContentType(format))
	if err != nil {
		return err
	}
	if err := WriteAll(format, w, columns, records, opts); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "failed to finish %s", dest)
	}
	o.logger.Debug("export written",
		zap.String("destination", dest.String()),
		zap.String("format", string(format)),
		zap.Int("rows", len(records)))
	return nil
}
