package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"annotationstore/config"
	"annotationstore/internal/annotation/model"
	"annotationstore/internal/annotation/registry"
	"annotationstore/internal/annotation/repository"
	"annotationstore/internal/annotation/search"
)

var (
	alice = &model.Identity{ID: "alice", ConsumerKey: "annotateit"}
	bob   = &model.Identity{ID: "bob", ConsumerKey: "annotateit"}
	now   = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func newService(t *testing.T) (*AnnotationService, *repository.MemoryIndex) {
	t.Helper()
	cfg := config.Default()
	idx := repository.NewMemoryIndex()
	reg := registry.NewRegistry(idx, nil)
	svc := NewAnnotationService(cfg, idx, reg, search.NewBuilder(cfg, reg))
	svc.Now = func() time.Time { return now }
	return svc, idx
}

func annotationIDs(anns []*model.Annotation) []string {
	out := make([]string, 0, len(anns))
	for _, a := range anns {
		out = append(out, a.ID)
	}
	sort.Strings(out)
	return out
}

func TestCreateAddsDefaultPermissions(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	ann, err := svc.Create(ctx, []byte(`{"text":"hi","uri":"http://a/x"}`), alice, model.RefreshImmediate)
	require.NoError(t, err)

	stored, err := svc.Fetch(ctx, ann.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Permissions)
	assert.Equal(t, []string{model.PublicConsumer}, stored.Permissions.Read)
	assert.Equal(t, "alice", stored.User)
	assert.Equal(t, "annotateit", stored.Consumer)
	assert.Equal(t, model.SchemaVersion, stored.AnnotatorSchemaVersion)
	assert.True(t, now.Equal(*stored.Created))
	assert.True(t, now.Equal(*stored.Updated))
}

func TestCreateIgnoresServerControlledFields(t *testing.T) {
	svc, _ := newService(t)
	payload := `{"id":"chosen","user":"mallory","consumer":"elsewhere","created":"1999-01-01T00:00:00Z","text":"x"}`

	ann, err := svc.Create(context.Background(), []byte(payload), alice, model.RefreshImmediate)
	require.NoError(t, err)
	assert.NotEqual(t, "chosen", ann.ID)
	assert.NotEmpty(t, ann.ID)
	assert.Equal(t, "alice", ann.User)
	assert.Equal(t, "annotateit", ann.Consumer)
	assert.True(t, now.Equal(*ann.Created))
}

func TestCreateRejections(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, []byte(`{"text":"hi"}`), nil, model.RefreshImmediate)
	assert.True(t, errors.Is(err, model.ErrAuthorizationRefused))

	for _, payload := range []string{``, `null`, `[1]`, `{"tags":"not-a-list"}`} {
		_, err := svc.Create(ctx, []byte(payload), alice, model.RefreshImmediate)
		assert.True(t, errors.Is(err, model.ErrMalformedInput), payload)
	}
}

func TestSearchExpandsEquivalentURIs(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, []byte(`{"text":"on x","uri":"http://a/x","document":{"link":[{"href":"http://a/x"}]}}`), alice, model.RefreshImmediate)
	require.NoError(t, err)
	second, err := svc.Create(ctx, []byte(`{"text":"on y","uri":"http://a/y","document":{"link":[{"href":"http://a/x"},{"href":"http://a/y"}]}}`), alice, model.RefreshImmediate)
	require.NoError(t, err)

	anns, total, err := svc.Find(ctx, search.Params{URI: model.SingleURI("http://a/y")}, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, annotationIDs(anns))

	anns, err = svc.Search(ctx, search.Params{URI: model.SingleURI("http://a/unrelated")}, alice)
	require.NoError(t, err)
	assert.Empty(t, anns)
}

func TestUnknownFieldsAreStoredAndSearchable(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	ann, err := svc.Create(ctx, []byte(`{"text":"hi","source":"kindle","location":{"page":12}}`), alice, model.RefreshImmediate)
	require.NoError(t, err)
	_, err = svc.Create(ctx, []byte(`{"text":"other","source":"web"}`), alice, model.RefreshImmediate)
	require.NoError(t, err)

	updated, err := svc.Update(ctx, ann.ID, []byte(`{"text":"changed"}`), alice, model.RefreshImmediate)
	require.NoError(t, err)
	assert.JSONEq(t, `"kindle"`, string(updated.Extra["source"]))

	stored, err := svc.Fetch(ctx, ann.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"page":12}`, string(stored.Extra["location"]))

	anns, err := svc.Search(ctx, search.Params{Fields: map[string][]string{"source": {"kindle"}}}, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{ann.ID}, annotationIDs(anns))
}

func TestSearchAppliesReadPermissions(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ann := &model.Annotation{ID: fmt.Sprintf("a%d", i), Text: "note", Permissions: &model.Permissions{Read: []string{}}}
		require.NoError(t, svc.Save(ctx, ann, model.RefreshImmediate))
	}
	anns, err := svc.Search(ctx, search.Params{}, nil)
	require.NoError(t, err)
	assert.Len(t, anns, 5)

	restricted, err := svc.Fetch(ctx, "a2")
	require.NoError(t, err)
	restricted.Permissions.Read = []string{"group:other"}
	require.NoError(t, svc.Save(ctx, restricted, model.RefreshImmediate))

	anns, err = svc.Search(ctx, search.Params{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a0", "a1", "a3", "a4"}, annotationIDs(anns))

	n, err := svc.Count(ctx, search.Params{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestSearchRawPostKeepsPermissionScope(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Save(ctx, &model.Annotation{ID: "public", Text: "fox"}, model.RefreshImmediate))
	require.NoError(t, svc.Save(ctx, &model.Annotation{ID: "private", Text: "fox",
		Permissions: &model.Permissions{Read: []string{"acct:carol@annotateit"}}}, model.RefreshImmediate))

	body := `{"query":{"bool":{"should":[{"missing":{"field":"permissions.read"}},{"exists":{"field":"permissions.read"}}]}}}`
	res, err := svc.SearchRawPost(ctx, []byte(body), url.Values{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Hits.Total)
	require.Len(t, res.Hits.Hits, 1)
	assert.Equal(t, "public", res.Hits.Hits[0].ID)
	assert.Equal(t, "annotator", res.Hits.Hits[0].Index)
	assert.Equal(t, "annotation", res.Hits.Hits[0].Type)
}

func TestSearchRawGetCount(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, svc.Save(ctx, &model.Annotation{ID: id, Text: "quick fox"}, model.RefreshImmediate))
	}

	res, err := svc.SearchRawGet(ctx, url.Values{"q": {"fox"}, "search_type": {"count"}}, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Hits.Total)
	assert.Empty(t, res.Hits.Hits)
}

func TestReadUpdateRemoveAuthorization(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	ann, err := svc.Create(ctx, []byte(`{"text":"mine"}`), alice, model.RefreshImmediate)
	require.NoError(t, err)

	got, err := svc.Read(ctx, ann.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "mine", got.Text)

	_, err = svc.Update(ctx, ann.ID, []byte(`{"text":"bob was here"}`), bob, model.RefreshImmediate)
	assert.True(t, errors.Is(err, model.ErrAuthorizationRefused))
	assert.True(t, errors.Is(svc.Remove(ctx, ann.ID, bob), model.ErrAuthorizationRefused))

	updated, err := svc.Update(ctx, ann.ID, []byte(`{"text":"edited","user":"bob","id":"other"}`), alice, model.RefreshImmediate)
	require.NoError(t, err)
	assert.Equal(t, ann.ID, updated.ID)
	assert.Equal(t, "edited", updated.Text)
	assert.Equal(t, "alice", updated.User)

	require.NoError(t, svc.Remove(ctx, ann.ID, alice))
	_, err = svc.Read(ctx, ann.ID, alice)
	assert.True(t, errors.Is(err, model.ErrNotFound))

	_, err = svc.Update(ctx, "missing", []byte(`{}`), alice, model.RefreshImmediate)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestReadRefusedForRestrictedAnnotation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Save(ctx, &model.Annotation{ID: "p", User: "alice", Consumer: "annotateit",
		Permissions: &model.Permissions{Read: []string{"alice"}}}, model.RefreshImmediate))

	_, err := svc.Read(ctx, "p", bob)
	assert.True(t, errors.Is(err, model.ErrAuthorizationRefused))
	_, err = svc.Read(ctx, "p", alice)
	assert.NoError(t, err)
}

func TestUpdatePermissionsNeedsAdmin(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Save(ctx, &model.Annotation{ID: "a1", User: "alice", Consumer: "annotateit",
		Permissions: &model.Permissions{Read: []string{}, Update: []string{"bob"}}}, model.RefreshImmediate))

	_, err := svc.Update(ctx, "a1", []byte(`{"text":"by bob"}`), bob, model.RefreshImmediate)
	require.NoError(t, err)

	// Resending the same permissions is not a change.
	_, err = svc.Update(ctx, "a1", []byte(`{"permissions":{"read":[],"update":["bob"],"delete":[],"admin":[]}}`), bob, model.RefreshImmediate)
	require.NoError(t, err)

	_, err = svc.Update(ctx, "a1", []byte(`{"permissions":{"read":["bob"],"update":["bob"]}}`), bob, model.RefreshImmediate)
	assert.True(t, errors.Is(err, model.ErrAuthorizationRefused))

	admin := &model.Identity{ID: "root", ConsumerKey: "annotateit", IsAdmin: true}
	updated, err := svc.Update(ctx, "a1", []byte(`{"permissions":{"read":["bob"],"update":["bob"]}}`), admin, model.RefreshImmediate)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, updated.Permissions.Read)
}

type recordingHooks struct {
	NopHooks
	calls      []string
	failAfter  bool
	failBefore bool
}

func (h *recordingHooks) BeforeCreate(_ context.Context, ann *model.Annotation) error {
	h.calls = append(h.calls, "before-create")
	if h.failBefore {
		return errors.New("vetoed")
	}
	return nil
}

func (h *recordingHooks) AfterCreate(_ context.Context, ann *model.Annotation) error {
	h.calls = append(h.calls, "after-create:"+ann.ID)
	if h.failAfter {
		return errors.New("notify failed")
	}
	return nil
}

func (h *recordingHooks) BeforeDelete(_ context.Context, ann *model.Annotation) error {
	h.calls = append(h.calls, "before-delete")
	return nil
}

func (h *recordingHooks) AfterDelete(_ context.Context, ann *model.Annotation) error {
	h.calls = append(h.calls, "after-delete")
	return nil
}

func TestHooksRunAroundWrites(t *testing.T) {
	svc, _ := newService(t)
	hooks := &recordingHooks{}
	svc.Hooks = hooks
	ctx := context.Background()

	ann, err := svc.Create(ctx, []byte(`{"text":"x"}`), alice, model.RefreshImmediate)
	require.NoError(t, err)
	require.NoError(t, svc.Remove(ctx, ann.ID, alice))

	assert.Equal(t, []string{"before-create", "after-create:" + ann.ID, "before-delete", "after-delete"}, hooks.calls)
}

func TestBeforeHookAbortsWrite(t *testing.T) {
	svc, idx := newService(t)
	svc.Hooks = &recordingHooks{failBefore: true}

	_, err := svc.Create(context.Background(), []byte(`{"text":"x"}`), alice, model.RefreshImmediate)
	require.Error(t, err)

	n, err := idx.Count(context.Background(), repository.TypeAnnotation, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAfterHookErrorStillStores(t *testing.T) {
	svc, _ := newService(t)
	svc.Hooks = &recordingHooks{failAfter: true}

	ann, err := svc.Create(context.Background(), []byte(`{"text":"x"}`), alice, model.RefreshImmediate)
	require.Error(t, err)
	require.NotNil(t, ann)

	stored, err := svc.Fetch(context.Background(), ann.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", stored.Text)
}
