// Package location turns a command-line root argument into a Backend.
package location

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/mitchellh/go-homedir"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/yuya-takeyama/crustasync/internal/config"
	"github.com/yuya-takeyama/crustasync/internal/oauth"
	"github.com/yuya-takeyama/crustasync/pkg/backend"
	"github.com/yuya-takeyama/crustasync/pkg/backend/gdrive"
	"github.com/yuya-takeyama/crustasync/pkg/backend/local"
	"github.com/yuya-takeyama/crustasync/pkg/backend/objectstore"
	"github.com/yuya-takeyama/crustasync/pkg/logger"
	"github.com/yuya-takeyama/crustasync/pkg/s3client"
)

type Scheme int

const (
	Local Scheme = iota
	GoogleDrive
	S3
)

func (s Scheme) String() string {
	switch s {
	case GoogleDrive:
		return "gdrive"
	case S3:
		return "s3"
	default:
		return "local"
	}
}

// Location is a parsed root argument.
type Location struct {
	Scheme Scheme
	// Path is the local directory or the Drive folder path.
	Path   string
	Bucket string
	Prefix string
	Raw    string
}

// Parse recognises "gd:<path>", "s3://bucket/prefix" and anything else as a
// local directory.
func Parse(raw string) (Location, error) {
	switch {
	case strings.HasPrefix(raw, gdrive.Prefix):
		p := strings.Trim(strings.TrimPrefix(raw, gdrive.Prefix), "/")
		return Location{Scheme: GoogleDrive, Path: p, Raw: raw}, nil
	case strings.HasPrefix(raw, "s3://"):
		bucket, prefix, err := objectstore.ParseURI(raw)
		if err != nil {
			return Location{}, err
		}
		return Location{Scheme: S3, Bucket: bucket, Prefix: prefix, Raw: raw}, nil
	case raw == "":
		return Location{}, fmt.Errorf("empty location")
	default:
		p, err := homedir.Expand(raw)
		if err != nil {
			return Location{}, fmt.Errorf("expand %s: %w", raw, err)
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return Location{}, fmt.Errorf("resolve %s: %w", raw, err)
		}
		return Location{Scheme: Local, Path: abs, Raw: raw}, nil
	}
}

// Overlaps reports whether two locations share storage such that syncing one
// into the other would read its own writes.
func Overlaps(a, b Location) bool {
	if a.Scheme != b.Scheme {
		return false
	}
	switch a.Scheme {
	case S3:
		return a.Bucket == b.Bucket && nested(a.Prefix, b.Prefix)
	default:
		return nested(filepath.ToSlash(a.Path), filepath.ToSlash(b.Path))
	}
}

func nested(a, b string) bool {
	a = strings.Trim(a, "/")
	b = strings.Trim(b, "/")
	if a == b || a == "" || b == "" {
		return true
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// Options carries what Open needs to build remote clients.
type Options struct {
	Config config.Config
	Log    logger.Logger
	// Prompt receives the authorization URL on the first Drive login.
	Prompt io.Writer
}

// Open constructs the backend for a location. Remote clients are created
// lazily so a local-only sync never touches credentials.
func Open(ctx context.Context, loc Location, opts Options) (backend.Backend, error) {
	switch loc.Scheme {
	case GoogleDrive:
		ts, err := oauth.TokenSource(ctx, oauth.Config{
			ClientID:     opts.Config.Drive.ClientID,
			ClientSecret: opts.Config.Drive.ClientSecret,
			TokenPath:    opts.Config.TokenPath(),
			Prompt:       opts.Prompt,
		})
		if err != nil {
			return nil, fmt.Errorf("google drive credentials: %w", err)
		}
		svc, err := drive.NewService(ctx, option.WithTokenSource(ts))
		if err != nil {
			return nil, fmt.Errorf("create drive service: %w", err)
		}
		return gdrive.New(gdrive.NewFilesAPI(svc), loc.Path,
			gdrive.WithRateLimit(opts.Config.Drive.RequestsPerSecond),
			gdrive.WithLogger(opts.Log),
		), nil

	case S3:
		var configOpts []func(*awsconfig.LoadOptions) error
		if opts.Config.S3.Profile != "" {
			configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(opts.Config.S3.Profile))
		}
		if opts.Config.S3.Region != "" {
			configOpts = append(configOpts, awsconfig.WithRegion(opts.Config.S3.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		return objectstore.New(s3client.NewAWSClient(awsCfg), loc.Bucket, loc.Prefix), nil

	default:
		return local.New(loc.Path), nil
	}
}
