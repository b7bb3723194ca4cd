package shared

import (
	"context"
	"reflect"
)

// Viewer is the identity publication and permission checks run against.
type Viewer interface {
	GetID() int64
	IsSuperUser() bool
	IsActiveUser() bool
}

type viewerContextKey struct{}

// ContextWithViewer stores the viewer in context.
func ContextWithViewer(ctx context.Context, v Viewer) context.Context {
	return context.WithValue(ctx, viewerContextKey{}, v)
}

// ViewerFromContext extracts the viewer from context. It returns nil for
// anonymous requests.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerContextKey{}).(Viewer)
	return v
}

// IsAnonymous reports whether v carries no identity, including typed nil
// pointers stored in the interface.
func IsAnonymous(v Viewer) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
