package delivery

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/shortsplit/pkg/storage/objectstore"
)

// ObjectStore delivers segments into a bucket under <recipient>/<run dir>/ and
// records text messages as small objects next to them.
type ObjectStore struct {
	store objectstore.Client
	now   func() time.Time
}

func NewObjectStore(store objectstore.Client) *ObjectStore {
	return &ObjectStore{store: store, now: time.Now}
}

func (o *ObjectStore) SendText(ctx context.Context, recipient, text string) error {
	key := path.Join(prefix(recipient), "messages", fmt.Sprintf("%s-%s.txt", o.now().UTC().Format("20060102T150405.000"), uuid.NewString()[:8]))
	return o.store.Put(ctx, key, strings.NewReader(text), int64(len(text)), map[string]string{
		"recipient": recipient,
	})
}

func (o *ObjectStore) SendFile(ctx context.Context, recipient, filePath, caption string) error {
	key := path.Join(prefix(recipient), runDir(filePath), filepath.Base(filePath))
	return o.store.FPut(ctx, key, filePath, "video/mp4", map[string]string{
		"recipient": recipient,
		"caption":   caption,
	})
}

// Probe ensures the bucket exists.
func (o *ObjectStore) Probe(ctx context.Context) error {
	return o.store.EnsureBucket(ctx)
}

// runDir is the name of the directory holding filePath, which the pipeline
// makes unique per run (parts_<run id>). Parts of different runs sent to the
// same recipient therefore never share a key.
func runDir(filePath string) string {
	dir := filepath.Base(filepath.Dir(filePath))
	if dir == "." || dir == string(filepath.Separator) || dir == ".." {
		return ""
	}
	return dir
}

func prefix(recipient string) string {
	r := strings.Trim(strings.ReplaceAll(recipient, "..", ""), "/ ")
	if r == "" {
		return "default"
	}
	return r
}
