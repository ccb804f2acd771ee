package contexts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleverschool/edubot/internal/directory"
)

type fakeDirectory struct {
	school    *directory.School
	schoolErr error
	class     *directory.Class
	classErr  error
	classes   map[string]directory.Class
	schools   map[string]directory.School
	student   *directory.Student
	roster    map[string]directory.Student
	profiles  map[string]string
	materials []directory.Material

	linkedUser    string
	linkedStudent string
}

func (f *fakeDirectory) GuildSchool(context.Context, string) (directory.School, error) {
	if f.schoolErr != nil {
		return directory.School{}, f.schoolErr
	}
	if f.school == nil {
		return directory.School{}, directory.ErrNotFound
	}
	return *f.school, nil
}

func (f *fakeDirectory) ChannelClass(context.Context, string) (directory.Class, error) {
	if f.classErr != nil {
		return directory.Class{}, f.classErr
	}
	if f.class == nil {
		return directory.Class{}, directory.ErrNotFound
	}
	return *f.class, nil
}

func (f *fakeDirectory) ClassByID(_ context.Context, classID string) (directory.Class, error) {
	c, ok := f.classes[classID]
	if !ok {
		return directory.Class{}, directory.ErrNotFound
	}
	return c, nil
}

func (f *fakeDirectory) SchoolByID(_ context.Context, schoolID string) (directory.School, error) {
	s, ok := f.schools[schoolID]
	if !ok {
		return directory.School{}, directory.ErrNotFound
	}
	return s, nil
}

func (f *fakeDirectory) UserStudent(context.Context, string) (directory.Student, error) {
	if f.student == nil {
		return directory.Student{}, directory.ErrNotFound
	}
	return *f.student, nil
}

func (f *fakeDirectory) StudentByDiscordID(_ context.Context, discordID string) (directory.Student, error) {
	st, ok := f.roster[discordID]
	if !ok {
		return directory.Student{}, directory.ErrNotFound
	}
	return st, nil
}

func (f *fakeDirectory) RegisterUser(context.Context, string, string) error { return nil }

func (f *fakeDirectory) LinkUserToStudent(_ context.Context, userID, studentID string) error {
	f.linkedUser = userID
	f.linkedStudent = studentID
	return nil
}

func (f *fakeDirectory) ContextProfile(_ context.Context, scope, scopeID string) (directory.ContextProfile, error) {
	content, ok := f.profiles[scope]
	if !ok {
		return directory.ContextProfile{}, directory.ErrNotFound
	}
	return directory.ContextProfile{Scope: scope, ScopeID: scopeID, Content: content}, nil
}

func (f *fakeDirectory) Materials(context.Context, string, string, int) ([]directory.Material, error) {
	return f.materials, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestResolver(dir Directory) *Resolver {
	return NewResolver(testLogger(), dir, Penalties{School: 0.9, Class: 0.8, Student: 0.7}, 5)
}

func TestResolveGuildConfidence(t *testing.T) {
	school := &directory.School{ID: "s1", Name: "Escola Azul"}
	class := &directory.Class{ID: "c1", SchoolID: "s1", Name: "7B"}
	student := &directory.Student{ID: "st1", Name: "Ana"}

	tests := []struct {
		name     string
		dir      *fakeDirectory
		want     float64
		wantDesc []string
	}{
		{
			name: "all layers present",
			dir: &fakeDirectory{
				school: school, class: class, student: student,
				profiles: map[string]string{
					"global": "g", "school": "s", "class": "c", "student": "st",
				},
			},
			want:     1.0,
			wantDesc: []string{LayerGlobal, LayerSchool, LayerClass, LayerStudent},
		},
		{
			name: "school missing",
			dir: &fakeDirectory{
				class: class, student: student,
				profiles: map[string]string{"global": "g", "class": "c", "student": "st"},
			},
			want:     0.9,
			wantDesc: []string{LayerGlobal, LayerClass, LayerStudent},
		},
		{
			name: "class missing",
			dir: &fakeDirectory{
				school: school, student: student,
				profiles: map[string]string{"global": "g", "school": "s", "student": "st"},
			},
			want:     0.8,
			wantDesc: []string{LayerGlobal, LayerSchool, LayerStudent},
		},
		{
			name: "student missing",
			dir: &fakeDirectory{
				school: school, class: class,
				profiles: map[string]string{"global": "g", "school": "s", "class": "c"},
			},
			want:     0.7,
			wantDesc: []string{LayerGlobal, LayerSchool, LayerClass},
		},
		{
			name: "everything but global missing",
			dir:  &fakeDirectory{profiles: map[string]string{"global": "g"}},
			want: 0.9 * 0.8 * 0.7,
		},
		{
			name: "school and student missing",
			dir: &fakeDirectory{
				class:    class,
				profiles: map[string]string{"global": "g", "class": "c"},
			},
			want: 0.9 * 0.7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestResolver(tt.dir)
			res, err := r.ResolveGuild(context.Background(), "g1", "ch1", "u1", "ana")
			require.NoError(t, err)
			assert.InDelta(t, tt.want, res.Confidence, 1e-9)
			if tt.wantDesc != nil {
				assert.Equal(t, tt.wantDesc, res.Layers)
			}
		})
	}
}

func TestResolveGuildMappedSchoolWithoutProfile(t *testing.T) {
	// A mapped school counts as present even without a context profile;
	// only the unmapped layers degrade confidence.
	dir := &fakeDirectory{
		school:   &directory.School{ID: "s1", Name: "Escola Azul"},
		profiles: map[string]string{"global": "g"},
	}
	r := newTestResolver(dir)

	res, err := r.ResolveGuild(context.Background(), "g1", "ch1", "u1", "ana")
	require.NoError(t, err)
	assert.Equal(t, "s1", res.SchoolID)
	assert.Equal(t, "Escola Azul", res.SchoolName)
	assert.Empty(t, res.School)
	assert.Contains(t, res.Layers, LayerSchool)
	assert.InDelta(t, 0.8*0.7, res.Confidence, 1e-9)
}

func TestResolveGuildLookupErrorDegrades(t *testing.T) {
	// A failing lookup counts as an absent layer; the message must still
	// get a resolved context instead of an error.
	dir := &fakeDirectory{
		schoolErr: errors.New("connection refused"),
		class:     &directory.Class{ID: "c1", SchoolID: "s1", Name: "7B"},
		student:   &directory.Student{ID: "st1", Name: "Ana"},
		profiles:  map[string]string{"global": "g", "class": "c", "student": "st"},
	}
	r := newTestResolver(dir)

	res, err := r.ResolveGuild(context.Background(), "g1", "ch1", "u1", "ana")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
	assert.NotContains(t, res.Layers, LayerSchool)
	assert.Contains(t, res.Layers, LayerClass)
	assert.Contains(t, res.Layers, LayerStudent)
}

func TestResolveDirectStudentMediatedSchoolAndClass(t *testing.T) {
	// In a DM the school and class come through the student's class
	// mapping, so a fully enrolled student reaches full confidence.
	dir := &fakeDirectory{
		student: &directory.Student{ID: "st1", Name: "Ana", ClassID: "c1"},
		classes: map[string]directory.Class{
			"c1": {ID: "c1", SchoolID: "s1", Name: "7B"},
		},
		schools: map[string]directory.School{
			"s1": {ID: "s1", Name: "Escola Azul"},
		},
		profiles: map[string]string{
			"global": "g", "school": "s", "class": "c", "student": "st",
		},
	}
	r := newTestResolver(dir)

	res, err := r.ResolveDirect(context.Background(), "u1", "ana")
	require.NoError(t, err)
	assert.Equal(t, "s1", res.SchoolID)
	assert.Equal(t, "7B", res.ClassName)
	assert.InDelta(t, 1.0, res.Confidence, 1e-9)
	assert.Equal(t, []string{LayerGlobal, LayerSchool, LayerClass, LayerStudent}, res.Layers)
}

func TestResolveDirectUnenrolledStudentKeepsSentinel(t *testing.T) {
	dir := &fakeDirectory{
		student:  &directory.Student{ID: "st1", Name: "Ana"},
		profiles: map[string]string{"global": "g", "student": "st"},
	}
	r := newTestResolver(dir)

	res, err := r.ResolveDirect(context.Background(), "u1", "ana")
	require.NoError(t, err)
	assert.Equal(t, DMSchoolSentinel, res.SchoolID)
	assert.InDelta(t, 0.9*0.8, res.Confidence, 1e-9)
	assert.Equal(t, "st", res.Student)
}

func TestResolveStudentRosterFallbackWritesThrough(t *testing.T) {
	dir := &fakeDirectory{
		roster: map[string]directory.Student{
			"u1": {ID: "st1", Name: "Ana", DiscordID: "u1"},
		},
		profiles: map[string]string{"global": "g", "student": "st"},
	}
	r := newTestResolver(dir)

	res, err := r.ResolveDirect(context.Background(), "u1", "ana")
	require.NoError(t, err)
	assert.Equal(t, "st1", res.StudentID)
	assert.Equal(t, "u1", dir.linkedUser)
	assert.Equal(t, "st1", dir.linkedStudent)
}

func TestResolveEducationalLayer(t *testing.T) {
	dir := &fakeDirectory{
		school:   &directory.School{ID: "s1", Name: "Escola Azul"},
		profiles: map[string]string{"global": "g", "school": "s"},
		materials: []directory.Material{
			{Title: "Frações", Content: "material de frações"},
			{Title: "Verbos", Content: "material de verbos"},
		},
	}
	r := newTestResolver(dir)

	res, err := r.ResolveGuild(context.Background(), "g1", "ch1", "u1", "ana")
	require.NoError(t, err)
	assert.Contains(t, res.Educational, "Frações: material de frações")
	assert.Contains(t, res.Educational, "Verbos: material de verbos")
	assert.Contains(t, res.Layers, LayerEducational)
}
