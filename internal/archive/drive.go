package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/sydlexius/trackmerge/internal/filesystem"
)

// DriveAuth selects how the Drive backend authenticates. Set either
// ServiceAccount, or ClientSecrets together with TokenFile.
type DriveAuth struct {
	ServiceAccount string
	ClientSecrets  string
	TokenFile      string
}

// DriveBackend uploads archives into a Google Drive folder.
type DriveBackend struct {
	files    *drive.FilesService
	folderID string
}

// NewDriveBackend creates a Drive client for folderID.
func NewDriveBackend(ctx context.Context, folderID string, auth DriveAuth) (*DriveBackend, error) {
	if folderID == "" {
		return nil, fmt.Errorf("drive folder id is required")
	}

	opts, err := driveOptions(ctx, auth)
	if err != nil {
		return nil, err
	}

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating drive client: %w", err)
	}
	return &DriveBackend{files: svc.Files, folderID: folderID}, nil
}

func driveOptions(ctx context.Context, auth DriveAuth) ([]option.ClientOption, error) {
	switch {
	case auth.ClientSecrets != "":
		if auth.TokenFile == "" {
			return nil, fmt.Errorf("drive token file is required with client secrets")
		}
		secrets, err := os.ReadFile(auth.ClientSecrets)
		if err != nil {
			return nil, fmt.Errorf("reading drive client secrets: %w", err)
		}
		conf, err := google.ConfigFromJSON(secrets, drive.DriveFileScope)
		if err != nil {
			return nil, fmt.Errorf("parsing drive client secrets: %w", err)
		}
		tok, err := loadToken(auth.TokenFile)
		if err != nil {
			return nil, err
		}
		ts := savingTokenSource(tok, conf.TokenSource(ctx, tok), auth.TokenFile)
		return []option.ClientOption{option.WithTokenSource(ts)}, nil
	default:
		opts := clientOptions(auth.ServiceAccount)
		return append(opts, option.WithScopes(drive.DriveFileScope)), nil
	}
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading drive token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parsing drive token: %w", err)
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding drive token: %w", err)
	}
	if err := filesystem.WriteFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("saving drive token: %w", err)
	}
	return nil
}

// savingTokenSource returns a token source that writes every token src
// issues after tok back to path, so a rotated refresh token survives a
// restart.
func savingTokenSource(tok *oauth2.Token, src oauth2.TokenSource, path string) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(tok, &tokenSaver{src: src, path: path, last: tok.AccessToken})
}

type tokenSaver struct {
	src  oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *tokenSaver) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken == s.last {
		return tok, nil
	}
	if err := saveToken(s.path, tok); err != nil {
		return nil, err
	}
	s.last = tok.AccessToken
	return tok, nil
}

// Name implements Backend.
func (b *DriveBackend) Name() string { return "drive" }

// Upload implements Backend.
func (b *DriveBackend) Upload(ctx context.Context, name string, data []byte) error {
	meta := &drive.File{
		Name:     name,
		Parents:  []string{b.folderID},
		MimeType: ContentType,
	}
	_, err := b.files.Create(meta).
		Media(bytes.NewReader(data), googleapi.ContentType(ContentType)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("uploading %s to drive folder %s: %w", name, b.folderID, err)
	}
	return nil
}
