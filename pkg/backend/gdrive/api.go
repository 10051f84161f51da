package gdrive

import (
	"context"
	"fmt"
	"io"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const (
	folderMimeType   = "application/vnd.google-apps.folder"
	shortcutMimeType = "application/vnd.google-apps.shortcut"
	nativeMimePrefix = "application/vnd.google-apps."

	fileFields = "id, name, mimeType, modifiedTime, size, sha256Checksum, parents, shortcutDetails"
)

// FilesAPI is the subset of the Drive v3 files resource the backend needs.
type FilesAPI interface {
	ListChildren(ctx context.Context, parentID string) ([]*drive.File, error)
	FindChild(ctx context.Context, parentID, name string) ([]*drive.File, error)
	Get(ctx context.Context, id string) (*drive.File, error)
	Download(ctx context.Context, id string) (io.ReadCloser, error)
	Create(ctx context.Context, f *drive.File, media io.Reader) (*drive.File, error)
	Update(ctx context.Context, id string, f *drive.File, media io.Reader, addParents, removeParents string) (*drive.File, error)
	Delete(ctx context.Context, id string) error
}

type serviceAPI struct {
	svc *drive.Service
}

// NewFilesAPI adapts a Drive service.
func NewFilesAPI(svc *drive.Service) FilesAPI {
	return &serviceAPI{svc: svc}
}

func (s *serviceAPI) list(ctx context.Context, q string) ([]*drive.File, error) {
	var out []*drive.File
	call := s.svc.Files.List().
		Q(q).
		Spaces("drive").
		PageSize(1000).
		Fields(googleapi.Field("nextPageToken, files(" + fileFields + ")"))
	err := call.Pages(ctx, func(page *drive.FileList) error {
		out = append(out, page.Files...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *serviceAPI) ListChildren(ctx context.Context, parentID string) ([]*drive.File, error) {
	return s.list(ctx, fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(parentID)))
}

func (s *serviceAPI) FindChild(ctx context.Context, parentID, name string) ([]*drive.File, error) {
	return s.list(ctx, fmt.Sprintf("'%s' in parents and name = '%s' and trashed = false",
		escapeQuery(parentID), escapeQuery(name)))
}

func (s *serviceAPI) Get(ctx context.Context, id string) (*drive.File, error) {
	return s.svc.Files.Get(id).Fields(googleapi.Field(fileFields)).Context(ctx).Do()
}

func (s *serviceAPI) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := s.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (s *serviceAPI) Create(ctx context.Context, f *drive.File, media io.Reader) (*drive.File, error) {
	call := s.svc.Files.Create(f).Fields(googleapi.Field(fileFields)).Context(ctx)
	if media != nil {
		call = call.Media(media)
	}
	return call.Do()
}

func (s *serviceAPI) Update(ctx context.Context, id string, f *drive.File, media io.Reader, addParents, removeParents string) (*drive.File, error) {
	call := s.svc.Files.Update(id, f).Fields(googleapi.Field(fileFields)).Context(ctx)
	if media != nil {
		call = call.Media(media)
	}
	if addParents != "" {
		call = call.AddParents(addParents)
	}
	if removeParents != "" {
		call = call.RemoveParents(removeParents)
	}
	return call.Do()
}

func (s *serviceAPI) Delete(ctx context.Context, id string) error {
	return s.svc.Files.Delete(id).Context(ctx).Do()
}

// escapeQuery quotes a value for use inside a single-quoted Drive query
// string.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
