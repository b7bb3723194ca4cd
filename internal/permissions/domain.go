package permissions

import (
	"fmt"
	"strings"
	"time"

	"github.com/avocado-data/avocado/internal/shared"
)

// AppLabel prefixes every permission string of the registry.
const AppLabel = "avocado"

// Content types that object permissions can be granted on.
const (
	ContentTypeField    = "datafield"
	ContentTypeConcept  = "dataconcept"
	ContentTypeCategory = "datacategory"
)

// ActionView is the action checked by publication filters.
const ActionView = "view"

var (
	// ErrInvalidPermission indicates a malformed permission string or one
	// that does not apply to the target object.
	ErrInvalidPermission = fmt.Errorf("permissions: invalid permission: %w", shared.ErrValidation)
	// ErrNoViewer indicates a grant was requested without a viewer.
	ErrNoViewer = fmt.Errorf("permissions: viewer required: %w", shared.ErrValidation)
)

var knownContentTypes = map[string]struct{}{
	ContentTypeField:    {},
	ContentTypeConcept:  {},
	ContentTypeCategory: {},
}

// Permission is a parsed "<app>.<action>_<model>" string.
type Permission struct {
	App    string
	Action string
	Model  string
}

// Codename returns the "<action>_<model>" form stored with grants.
func (p Permission) Codename() string {
	return p.Action + "_" + p.Model
}

func (p Permission) String() string {
	return p.App + "." + p.Codename()
}

// ViewPermission returns the view permission for contentType.
func ViewPermission(contentType string) Permission {
	return Permission{App: AppLabel, Action: ActionView, Model: contentType}
}

// Parse reads "avocado.view_datafield" or the bare codename "view_datafield".
func Parse(raw string) (Permission, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	app := AppLabel
	if idx := strings.IndexByte(raw, '.'); idx >= 0 {
		app, raw = raw[:idx], raw[idx+1:]
	}
	if app != AppLabel {
		return Permission{}, fmt.Errorf("%w: unknown app %q", ErrInvalidPermission, app)
	}
	idx := strings.IndexByte(raw, '_')
	if idx <= 0 || idx == len(raw)-1 {
		return Permission{}, fmt.Errorf("%w: %q", ErrInvalidPermission, raw)
	}
	perm := Permission{App: app, Action: raw[:idx], Model: raw[idx+1:]}
	if _, ok := knownContentTypes[perm.Model]; !ok {
		return Permission{}, fmt.Errorf("%w: unknown model %q", ErrInvalidPermission, perm.Model)
	}
	return perm, nil
}

// Object identifies a single registry record.
type Object struct {
	ContentType string
	ID          int64
}

// Grant ties a permission on one object to one user.
type Grant struct {
	UserID      int64
	Codename    string
	ContentType string
	ObjectID    int64
	CreatedAt   time.Time
}
