package permissions_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avocado-data/avocado/internal/permissions"
	"github.com/avocado-data/avocado/internal/store/memory"
	"github.com/avocado-data/avocado/internal/users"
)

func TestParse(t *testing.T) {
	p, err := permissions.Parse("avocado.view_datafield")
	require.NoError(t, err)
	require.Equal(t, permissions.Permission{App: "avocado", Action: "view", Model: "datafield"}, p)
	require.Equal(t, "view_datafield", p.Codename())
	require.Equal(t, "avocado.view_datafield", p.String())

	p, err = permissions.Parse("view_dataconcept")
	require.NoError(t, err)
	require.Equal(t, "dataconcept", p.Model)

	for _, raw := range []string{"", "other.view_datafield", "view", "view_", "view_widget"} {
		_, err := permissions.Parse(raw)
		require.ErrorIs(t, err, permissions.ErrInvalidPermission, raw)
	}
}

func TestAssignHasAndFilter(t *testing.T) {
	ctx := context.Background()
	svc := permissions.NewService(memory.NewGrants(), nil)
	user1 := &users.User{ID: 1, IsActive: true}
	user2 := &users.User{ID: 2, IsActive: true}
	field7 := permissions.Object{ContentType: permissions.ContentTypeField, ID: 7}

	require.NoError(t, svc.Assign(ctx, "avocado.view_datafield", user1, field7))
	require.NoError(t, svc.Assign(ctx, "avocado.view_datafield", user1, field7), "assign is idempotent")

	ok, err := svc.Has(ctx, user1, "avocado.view_datafield", field7)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = svc.Has(ctx, user2, "avocado.view_datafield", field7)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = svc.Has(ctx, nil, "avocado.view_datafield", field7)
	require.NoError(t, err)
	require.False(t, ok)

	visible, err := svc.FilterVisible(ctx, user1, permissions.ContentTypeField, []int64{9, 7, 3})
	require.NoError(t, err)
	require.Equal(t, []int64{7}, visible)

	visible, err = svc.FilterVisible(ctx, user1, permissions.ContentTypeConcept, []int64{7})
	require.NoError(t, err)
	require.Empty(t, visible, "grants do not leak across content types")

	grants, err := svc.Grants(ctx, user1)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	require.Equal(t, "view_datafield", grants[0].Codename)

	require.NoError(t, svc.Remove(ctx, "view_datafield", user1, field7))
	visible, err = svc.FilterVisible(ctx, user1, permissions.ContentTypeField, []int64{7})
	require.NoError(t, err)
	require.Empty(t, visible)
}

func TestAssignRejectsMismatchedObject(t *testing.T) {
	ctx := context.Background()
	svc := permissions.NewService(memory.NewGrants(), nil)
	user := &users.User{ID: 1, IsActive: true}

	err := svc.Assign(ctx, "avocado.view_datafield", user, permissions.Object{ContentType: permissions.ContentTypeConcept, ID: 1})
	require.ErrorIs(t, err, permissions.ErrInvalidPermission)

	err = svc.Assign(ctx, "avocado.view_datafield", nil, permissions.Object{ContentType: permissions.ContentTypeField, ID: 1})
	require.ErrorIs(t, err, permissions.ErrNoViewer)

	err = svc.Assign(ctx, "avocado.view_datafield", user, permissions.Object{ContentType: permissions.ContentTypeField})
	require.ErrorIs(t, err, permissions.ErrInvalidPermission)
}

func TestSuperuserAndInactiveViewers(t *testing.T) {
	ctx := context.Background()
	svc := permissions.NewService(memory.NewGrants(), nil)
	admin := &users.User{ID: 1, IsActive: true, IsSuperuser: true}
	retired := &users.User{ID: 2, IsActive: false}
	obj := permissions.Object{ContentType: permissions.ContentTypeField, ID: 5}

	visible, err := svc.FilterVisible(ctx, admin, permissions.ContentTypeField, []int64{5, 1})
	require.NoError(t, err)
	require.Equal(t, []int64{5, 1}, visible)

	require.NoError(t, svc.Assign(ctx, "avocado.view_datafield", retired, obj))
	ok, err := svc.Has(ctx, retired, "avocado.view_datafield", obj)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestObjectIDs(t *testing.T) {
	ctx := context.Background()
	svc := permissions.NewService(memory.NewGrants(), nil)
	user := &users.User{ID: 3, IsActive: true}
	for _, id := range []int64{9, 2} {
		require.NoError(t, svc.Assign(ctx, "avocado.view_dataconcept", user,
			permissions.Object{ContentType: permissions.ContentTypeConcept, ID: id}))
	}
	require.NoError(t, svc.Assign(ctx, "avocado.view_datafield", user,
		permissions.Object{ContentType: permissions.ContentTypeField, ID: 4}))

	ids, err := svc.ObjectIDs(ctx, user, "avocado.view_dataconcept")
	require.NoError(t, err)
	require.Equal(t, []int64{2, 9}, ids)

	ids, err = svc.ObjectIDs(ctx, nil, "view_datafield")
	require.NoError(t, err)
	require.Empty(t, ids)

	_, err = svc.ObjectIDs(ctx, user, "avocado.view_widget")
	require.ErrorIs(t, err, permissions.ErrInvalidPermission)
}
