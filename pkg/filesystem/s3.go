package filesystem

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/logging"
)

// S3Client abstracts the S3 client methods we use
type S3Client interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

const S3MaxKeys = 1000

// S3Config holds the configuration for S3/Minio client
type S3Config struct {
	Endpoint         string
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	Insecure         bool
	UsePathStyle     bool
	MonitoringPeriod time.Duration
}

// S3FileSystem implements FileSystem for S3/Minio. Paths are of the form
// "bucket/key/..."; ParseS3URL converts the user facing s3:// form.
type S3FileSystem struct {
	client S3Client
	config S3Config
}

// ParseS3URL splits an s3://bucket/prefix URL into the "bucket/prefix" path
// form used by S3FileSystem.
func ParseS3URL(rawURL string) (p string, ok bool) {
	trimmed, ok := strings.CutPrefix(rawURL, "s3://")
	if !ok || trimmed == "" {
		return "", false
	}
	return strings.TrimSuffix(trimmed, "/"), true
}

// noOpLogger implements logging.Logger and discards all logs
type noOpLogger struct{}

func (noOpLogger) Logf(logging.Classification, string, ...any) {}

// NewS3FileSystem creates a new S3FileSystem instance
func NewS3FileSystem(ctx context.Context, cfg S3Config) (s3fs *S3FileSystem, err error) {
	if cfg.MonitoringPeriod == 0 {
		cfg.MonitoringPeriod = time.Second * 10
	}

	var opts []func(*config.LoadOptions) error

	// disable SDK log
	opts = append(opts, config.WithClientLogMode(0), config.WithLogger(noOpLogger{}))
	opts = append(opts, config.WithRegion(cfg.Region))

	if cfg.Insecure {
		httpClient := &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: true, //nolint:gosec // configuration chosen by user
				},
			},
		}
		opts = append(opts, config.WithHTTPClient(httpClient))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return
	}

	clientOpts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = cfg.UsePathStyle
			o.ClientLogMode = 0
			o.Logger = noOpLogger{}
		},
	}

	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	s3fs = &S3FileSystem{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		config: cfg,
	}
	return
}

// parsePath splits path into bucket and key
func (s *S3FileSystem) parsePath(name string) (bucket, key string, err error) {
	name = strings.TrimPrefix(name, "/")
	parts := strings.SplitN(name, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		err = errors.New("invalid path: bucket name required")
		return
	}
	bucket = parts[0]
	if len(parts) > 1 {
		key = parts[1]
	}
	return
}

// accessDenied reports whether err is an S3 authorization failure. Those are
// surfaced as fs.ErrPermission so directory pruning applies the same way it
// does on a local tree.
func accessDenied(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "AllAccessDisabled":
			return true
		}
	}
	respErr := new(awshttp.ResponseError)
	return errors.As(err, &respErr) && respErr.Response.StatusCode == http.StatusForbidden
}

// ReadDir lists one level under name using a delimiter; common prefixes come
// back as directories.
func (s *S3FileSystem) ReadDir(ctx context.Context, name string) (entries []fs.DirEntry, err error) {
	bucket, key, err := s.parsePath(name)
	if err != nil {
		return
	}

	prefix := key
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
		MaxKeys:   aws.Int32(S3MaxKeys),
	})

	for paginator.HasMorePages() {
		page, pageErr := paginator.NextPage(ctx)
		if pageErr != nil {
			if accessDenied(pageErr) {
				err = fmt.Errorf("%s: %w", name, errors.Join(fs.ErrPermission, pageErr))
				return
			}
			err = pageErr
			return
		}

		for _, commonPrefix := range page.CommonPrefixes {
			entries = append(entries, &s3DirEntry{
				name:  path.Base(strings.TrimSuffix(*commonPrefix.Prefix, "/")),
				isDir: true,
			})
		}

		for _, obj := range page.Contents {
			// skip directory markers
			if strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			entries = append(entries, &s3DirEntry{
				name:    path.Base(*obj.Key),
				size:    *obj.Size,
				modTime: *obj.LastModified,
			})
		}
	}

	// same ordering contract as os.ReadDir
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return
}

// s3FileInfo implements fs.FileInfo for S3 objects
type s3FileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
	isDir   bool
}

func (fi *s3FileInfo) Name() string       { return fi.name }
func (fi *s3FileInfo) Size() int64        { return fi.size }
func (fi *s3FileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi *s3FileInfo) ModTime() time.Time { return fi.modTime }
func (fi *s3FileInfo) IsDir() bool        { return fi.isDir }
func (fi *s3FileInfo) Sys() any           { return nil }

// s3DirEntry implements fs.DirEntry
type s3DirEntry struct {
	name    string
	size    int64
	modTime time.Time
	isDir   bool
}

func (e *s3DirEntry) Name() string { return e.name }
func (e *s3DirEntry) IsDir() bool  { return e.isDir }
func (e *s3DirEntry) Type() fs.FileMode {
	if e.isDir {
		return fs.ModeDir
	}
	return 0
}

func (e *s3DirEntry) Info() (fs.FileInfo, error) {
	mode := fs.FileMode(0o644)
	if e.isDir {
		mode = fs.ModeDir | 0o755
	}
	return &s3FileInfo{
		name:    e.name,
		size:    e.size,
		modTime: e.modTime,
		isDir:   e.isDir,
		mode:    mode,
	}, nil
}

// Stat returns file info
func (s *S3FileSystem) Stat(ctx context.Context, name string) (info fs.FileInfo, err error) {
	bucket, key, err := s.parsePath(name)
	if err != nil {
		return
	}

	// bucket root
	if key == "" {
		_, err = s.client.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(bucket),
		})
		respErr := new(awshttp.ResponseError)
		switch {
		case err == nil:
			info = &s3FileInfo{name: bucket, isDir: true, mode: fs.ModeDir | 0o755}
			return //nolint:nilerr // bucket info wanted in this case
		case accessDenied(err):
			err = fmt.Errorf("%s: %w", name, errors.Join(fs.ErrPermission, err))
			return
		case errors.As(err, &respErr) && respErr.Response.StatusCode == http.StatusNotFound:
			err = errors.Join(fs.ErrNotExist, err)
			return
		default:
			return
		}
	}

	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		info = &s3FileInfo{
			name:    path.Base(key),
			size:    *result.ContentLength,
			modTime: *result.LastModified,
			mode:    0o644,
		}
		return //nolint:nilerr // object found
	}
	if accessDenied(err) {
		err = fmt.Errorf("%s: %w", name, errors.Join(fs.ErrPermission, err))
		return
	}

	// not an object; a prefix with content is a directory
	listResult, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(strings.TrimSuffix(key, "/") + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		if accessDenied(err) {
			err = fmt.Errorf("%s: %w", name, errors.Join(fs.ErrPermission, err))
		}
		return
	}

	if len(listResult.Contents) > 0 || len(listResult.CommonPrefixes) > 0 {
		info = &s3FileInfo{name: path.Base(key), isDir: true, mode: fs.ModeDir | 0o755}
		return
	}

	err = fs.ErrNotExist
	return
}

// Lstat returns file info (same as Stat, S3 has no symlinks)
func (s *S3FileSystem) Lstat(ctx context.Context, name string) (info fs.FileInfo, err error) {
	return s.Stat(ctx, name)
}

// Open streams an object body
func (s *S3FileSystem) Open(ctx context.Context, name string) (reader io.ReadCloser, err error) {
	bucket, key, err := s.parsePath(name)
	if err != nil {
		return
	}
	if key == "" {
		err = errors.New("cannot open bucket as file")
		return
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if accessDenied(err) {
			err = fmt.Errorf("%s: %w", name, errors.Join(fs.ErrPermission, err))
		}
		return
	}
	reader = result.Body
	return
}

// Join joins path elements with slashes, S3 key style
func (s *S3FileSystem) Join(elem ...string) string {
	return path.Join(elem...)
}

// IsLocal returns false for S3FileSystem
func (s *S3FileSystem) IsLocal() bool {
	return false
}

// Watch starts watching the specified S3 path for changes using polling
func (s *S3FileSystem) Watch(ctx context.Context, s3Path string) (Watcher, error) {
	return newS3Watcher(ctx, s, s3Path)
}

// s3ObjectInfo represents an S3 object for comparison
type s3ObjectInfo struct {
	key          string
	lastModified time.Time
	size         int64
}

// s3Watcher implements Watcher for S3 using periodic listing
type s3Watcher struct {
	fs           *S3FileSystem
	bucket       string
	prefix       string
	events       chan WatchEvent
	errors       chan error
	done         chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	mu           sync.Mutex
	knownObjects map[string]s3ObjectInfo
	pollInterval time.Duration
}

func newS3Watcher(ctx context.Context, s3fs *S3FileSystem, s3Path string) (*s3Watcher, error) {
	bucket, prefix, err := s3fs.parsePath(s3Path)
	if err != nil {
		return nil, err
	}

	if _, err = s3fs.Stat(ctx, s3Path); err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)

	w := &s3Watcher{
		fs:           s3fs,
		bucket:       bucket,
		prefix:       prefix,
		events:       make(chan WatchEvent, 100),
		errors:       make(chan error, 10),
		done:         make(chan struct{}),
		ctx:          watchCtx,
		cancel:       cancel,
		knownObjects: make(map[string]s3ObjectInfo),
		pollInterval: s3fs.config.MonitoringPeriod,
	}

	// prime with the current state so pre-existing objects do not fire
	if err := w.checkForChanges(true); err != nil {
		cancel()
		return nil, err
	}

	go w.poll()

	return w, nil
}

func (w *s3Watcher) listObjects() (objects []s3ObjectInfo, err error) {
	paginator := s3.NewListObjectsV2Paginator(w.fs.client, &s3.ListObjectsV2Input{
		Bucket: &w.bucket,
		Prefix: &w.prefix,
	})

	for paginator.HasMorePages() {
		page, pageErr := paginator.NextPage(w.ctx)
		if pageErr != nil {
			err = pageErr
			return
		}
		for _, obj := range page.Contents {
			if strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			objects = append(objects, s3ObjectInfo{
				key:          *obj.Key,
				lastModified: *obj.LastModified,
				size:         *obj.Size,
			})
		}
	}
	return
}

func (w *s3Watcher) poll() {
	defer close(w.done)
	defer close(w.events)
	defer close(w.errors)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.checkForChanges(false); err != nil {
				select {
				case w.errors <- err:
				case <-w.ctx.Done():
					return
				}
			}
		}
	}
}

func (w *s3Watcher) checkForChanges(silent bool) error {
	objects, err := w.listObjects()
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, o := range objects {
		known, ok := w.knownObjects[o.key]
		switch {
		case !ok:
			if !silent {
				w.sendEvent(WatchEventCreate, o)
			}
		case o.lastModified.After(known.lastModified) || o.size != known.size:
			if !silent {
				w.sendEvent(WatchEventWrite, o)
			}
		}
	}

	current := make(map[string]s3ObjectInfo, len(objects))
	for _, obj := range objects {
		current[obj.key] = obj
	}
	w.knownObjects = current
	return nil
}

func (w *s3Watcher) sendEvent(eventType WatchEventType, obj s3ObjectInfo) {
	fileInfo := &s3FileInfo{
		name:    path.Base(obj.key),
		size:    obj.size,
		modTime: obj.lastModified,
		mode:    0o644,
	}

	select {
	case w.events <- WatchEvent{
		Path:     w.bucket + "/" + obj.key,
		Type:     eventType,
		Time:     time.Now(),
		FileInfo: fileInfo,
	}:
	case <-w.ctx.Done():
	}
}

func (w *s3Watcher) Events() <-chan WatchEvent {
	return w.events
}

func (w *s3Watcher) Errors() <-chan error {
	return w.errors
}

func (w *s3Watcher) Close() error {
	w.cancel()
	<-w.done
	return nil
}
