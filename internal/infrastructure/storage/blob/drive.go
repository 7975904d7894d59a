package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	xlsxMimeType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	driveFileFields = "id, name, parents, createdTime, size, mimeType"
)

// Drive is a Store over a Google Drive folder (shared drives supported).
//
// Drive has no create-if-absent primitive: CreateExclusive checks and then
// creates, and two callers can both pass the check. Atomic reports false so
// the marker lock adds its post-create verification.
type Drive struct {
	files  *drive.FilesService
	rootID string
}

var _ Store = (*Drive)(nil)

// NewDrive authenticates with a service-account JSON key.
func NewDrive(ctx context.Context, rootID string, credentialsJSON []byte) (*Drive, error) {
	if rootID == "" {
		return nil, errors.New("drive: root folder id is required")
	}
	srv, err := drive.NewService(ctx,
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(drive.DriveScope),
	)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Drive{files: srv.Files, rootID: rootID}, nil
}

// NewDriveWithService wraps an existing Drive client.
func NewDriveWithService(srv *drive.Service, rootID string) *Drive {
	return &Drive{files: srv.Files, rootID: rootID}
}

func (d *Drive) RootID() string { return d.rootID }

func (d *Drive) Find(ctx context.Context, name, parentID string) (Object, error) {
	objs, err := d.List(ctx, name, parentID)
	if err != nil {
		return Object{}, err
	}
	if len(objs) == 0 {
		return Object{}, ErrNotFound
	}
	return objs[0], nil
}

func (d *Drive) List(ctx context.Context, name, parentID string) ([]Object, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escapeQuery(name), escapeQuery(parentID))

	var out []Object
	call := d.files.List().
		Q(q).
		Spaces("drive").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		OrderBy("createdTime").
		Fields(googleapi.Field("nextPageToken, files(" + driveFileFields + ")"))

	err := call.Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			out = append(out, driveObject(f, parentID))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drive list %q: %w", name, err)
	}
	return out, nil
}

func (d *Drive) Get(ctx context.Context, id string) ([]byte, error) {
	resp, err := d.files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		if isDriveNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("drive download %s: %w", id, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("drive download %s: %w", id, err)
	}
	return b, nil
}

func (d *Drive) Put(ctx context.Context, name, parentID string, data []byte, existingID string) (string, error) {
	if existingID != "" {
		f, err := d.files.Update(existingID, &drive.File{}).
			Media(bytes.NewReader(data), googleapi.ContentType(mimeTypeFor(name))).
			SupportsAllDrives(true).
			Fields("id").
			Context(ctx).
			Do()
		if err != nil {
			if isDriveNotFound(err) {
				return "", ErrNotFound
			}
			return "", fmt.Errorf("drive update %s: %w", name, err)
		}
		return f.Id, nil
	}
	return d.create(ctx, name, parentID, data, mimeTypeFor(name))
}

func (d *Drive) CreateExclusive(ctx context.Context, name, parentID string, data []byte) (string, error) {
	existing, err := d.List(ctx, name, parentID)
	if err != nil {
		return "", err
	}
	if len(existing) > 0 {
		return "", ErrExists
	}
	return d.create(ctx, name, parentID, data, mimeTypeFor(name))
}

func (d *Drive) Atomic() bool { return false }

func (d *Drive) Delete(ctx context.Context, id string) error {
	err := d.files.Delete(id).SupportsAllDrives(true).Context(ctx).Do()
	if isDriveNotFound(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("drive delete %s: %w", id, err)
	}
	return nil
}

func (d *Drive) EnsureFolder(ctx context.Context, name, parentID string) (string, error) {
	objs, err := d.List(ctx, name, parentID)
	if err != nil {
		return "", err
	}
	for _, o := range objs {
		if o.IsFolder {
			return o.ID, nil
		}
	}
	f, err := d.files.Create(&drive.File{
		Name:     name,
		Parents:  []string{parentID},
		MimeType: folderMimeType,
	}).SupportsAllDrives(true).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive create folder %s: %w", name, err)
	}
	return f.Id, nil
}

func (d *Drive) create(ctx context.Context, name, parentID string, data []byte, mimeType string) (string, error) {
	f, err := d.files.Create(&drive.File{
		Name:    name,
		Parents: []string{parentID},
	}).
		Media(bytes.NewReader(data), googleapi.ContentType(mimeType)).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("drive create %s: %w", name, err)
	}
	return f.Id, nil
}

func driveObject(f *drive.File, parentID string) Object {
	created, _ := time.Parse(time.RFC3339, f.CreatedTime)
	return Object{
		ID:        f.Id,
		Name:      f.Name,
		ParentID:  parentID,
		Size:      f.Size,
		IsFolder:  f.MimeType == folderMimeType,
		CreatedAt: created,
	}
}

func mimeTypeFor(name string) string {
	switch {
	case strings.HasSuffix(name, ".xlsx"):
		return xlsxMimeType
	case strings.HasSuffix(name, ".lock"):
		return "application/json"
	}
	return "application/octet-stream"
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func isDriveNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
