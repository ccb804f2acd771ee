package contexts

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/cleverschool/edubot/internal/directory"
)

// Directory is the slice of the directory service the resolver depends on.
type Directory interface {
	GuildSchool(ctx context.Context, guildID string) (directory.School, error)
	ChannelClass(ctx context.Context, channelID string) (directory.Class, error)
	ClassByID(ctx context.Context, classID string) (directory.Class, error)
	SchoolByID(ctx context.Context, schoolID string) (directory.School, error)
	UserStudent(ctx context.Context, userID string) (directory.Student, error)
	StudentByDiscordID(ctx context.Context, discordID string) (directory.Student, error)
	RegisterUser(ctx context.Context, userID, username string) error
	LinkUserToStudent(ctx context.Context, userID, studentID string) error
	ContextProfile(ctx context.Context, scope, scopeID string) (directory.ContextProfile, error)
	Materials(ctx context.Context, schoolID, classID string, limit int) ([]directory.Material, error)
}

// Resolver assembles the layered prompt context for a message. A layer is
// present when its mapping resolves; a missing mapping or a failed lookup
// degrades the confidence score instead of failing the request.
type Resolver struct {
	dir            Directory
	logger         *slog.Logger
	penalties      Penalties
	materialsLimit int
}

func NewResolver(logger *slog.Logger, dir Directory, penalties Penalties, materialsLimit int) *Resolver {
	if penalties.School == 0 {
		penalties.School = 0.9
	}
	if penalties.Class == 0 {
		penalties.Class = 0.8
	}
	if penalties.Student == 0 {
		penalties.Student = 0.7
	}
	if materialsLimit <= 0 {
		materialsLimit = 5
	}
	return &Resolver{
		dir:            dir,
		logger:         logger.With(slog.String("service", "contexts")),
		penalties:      penalties,
		materialsLimit: materialsLimit,
	}
}

// ResolveGuild builds the context for a message inside a guild channel.
func (r *Resolver) ResolveGuild(ctx context.Context, guildID, channelID, userID, username string) (Resolved, error) {
	res := Resolved{Confidence: 1.0}

	r.resolveGlobal(ctx, &res)

	if school, err := r.dir.GuildSchool(ctx, guildID); err == nil {
		r.applySchool(ctx, &res, school)
	} else {
		r.warnLookup("school", err)
		res.Confidence *= r.penalties.School
	}

	if class, err := r.dir.ChannelClass(ctx, channelID); err == nil {
		r.applyClass(ctx, &res, class)
	} else {
		r.warnLookup("class", err)
		res.Confidence *= r.penalties.Class
	}

	if student, ok := r.lookupStudent(ctx, userID, username); ok {
		r.applyStudent(ctx, &res, student)
	} else {
		res.Confidence *= r.penalties.Student
	}

	r.resolveEducational(ctx, &res)
	return res, nil
}

// ResolveDirect builds the context for a direct message. There is no guild
// or channel to map, so school and class are reached through the mapped
// student's class; an unmapped student leaves both absent with their
// penalties applied.
func (r *Resolver) ResolveDirect(ctx context.Context, userID, username string) (Resolved, error) {
	res := Resolved{Confidence: 1.0}

	r.resolveGlobal(ctx, &res)

	student, haveStudent := r.lookupStudent(ctx, userID, username)

	var class directory.Class
	haveClass := false
	if haveStudent && student.ClassID != "" {
		if c, err := r.dir.ClassByID(ctx, student.ClassID); err == nil {
			class, haveClass = c, true
		} else {
			r.warnLookup("class", err)
		}
	}

	haveSchool := false
	if haveClass {
		if school, err := r.dir.SchoolByID(ctx, class.SchoolID); err == nil {
			r.applySchool(ctx, &res, school)
			haveSchool = true
		} else {
			r.warnLookup("school", err)
		}
	}
	if !haveSchool {
		res.SchoolID = DMSchoolSentinel
		res.Confidence *= r.penalties.School
	}

	if haveClass {
		r.applyClass(ctx, &res, class)
	} else {
		res.Confidence *= r.penalties.Class
	}

	if haveStudent {
		r.applyStudent(ctx, &res, student)
	} else {
		res.Confidence *= r.penalties.Student
	}

	r.resolveEducational(ctx, &res)
	return res, nil
}

func (r *Resolver) resolveGlobal(ctx context.Context, res *Resolved) {
	p, err := r.dir.ContextProfile(ctx, directory.ScopeGlobal, "")
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			r.logger.Warn("global context lookup failed", slog.String("error", err.Error()))
		}
		return
	}
	res.Global = p.Content
	res.Layers = append(res.Layers, LayerGlobal)
}

// applySchool marks the school layer present. The context profile is
// optional and only enriches the layer when it exists.
func (r *Resolver) applySchool(ctx context.Context, res *Resolved, school directory.School) {
	res.SchoolID = school.ID
	res.SchoolName = school.Name
	res.Layers = append(res.Layers, LayerSchool)
	if p, err := r.dir.ContextProfile(ctx, directory.ScopeSchool, school.ID); err == nil {
		res.School = p.Content
	} else if !errors.Is(err, directory.ErrNotFound) {
		r.logger.Warn("school context lookup failed", slog.String("error", err.Error()))
	}
}

func (r *Resolver) applyClass(ctx context.Context, res *Resolved, class directory.Class) {
	res.ClassID = class.ID
	res.ClassName = class.Name
	res.Layers = append(res.Layers, LayerClass)
	if p, err := r.dir.ContextProfile(ctx, directory.ScopeClass, class.ID); err == nil {
		res.Class = p.Content
	} else if !errors.Is(err, directory.ErrNotFound) {
		r.logger.Warn("class context lookup failed", slog.String("error", err.Error()))
	}
}

func (r *Resolver) applyStudent(ctx context.Context, res *Resolved, student directory.Student) {
	res.StudentID = student.ID
	res.StudentName = student.Name
	res.Layers = append(res.Layers, LayerStudent)
	if p, err := r.dir.ContextProfile(ctx, directory.ScopeStudent, student.ID); err == nil {
		res.Student = p.Content
	} else if !errors.Is(err, directory.ErrNotFound) {
		r.logger.Warn("student context lookup failed", slog.String("error", err.Error()))
	}
}

// lookupStudent resolves the student mapping. Falls back to the roster: a
// student may carry the platform id before the user mapping exists; the
// mapping is written through so the next message hits the fast path.
func (r *Resolver) lookupStudent(ctx context.Context, userID, username string) (directory.Student, bool) {
	student, err := r.dir.UserStudent(ctx, userID)
	if err == nil {
		return student, true
	}
	r.warnLookup("student", err)

	student, err = r.dir.StudentByDiscordID(ctx, userID)
	if err != nil {
		r.warnLookup("student roster", err)
		return directory.Student{}, false
	}
	if regErr := r.dir.RegisterUser(ctx, userID, username); regErr != nil {
		r.logger.Warn("register user failed", slog.String("error", regErr.Error()))
	} else if linkErr := r.dir.LinkUserToStudent(ctx, userID, student.ID); linkErr != nil {
		r.logger.Warn("link student failed", slog.String("error", linkErr.Error()))
	}
	return student, true
}

// warnLookup logs a real lookup failure. A plain missing mapping is the
// expected degradation path and stays quiet.
func (r *Resolver) warnLookup(layer string, err error) {
	if err == nil || errors.Is(err, directory.ErrNotFound) {
		return
	}
	r.logger.Warn("layer lookup failed",
		slog.String("layer", layer),
		slog.String("error", err.Error()))
}

func (r *Resolver) resolveEducational(ctx context.Context, res *Resolved) {
	if res.SchoolID == "" || res.SchoolID == DMSchoolSentinel {
		return
	}
	materials, err := r.dir.Materials(ctx, res.SchoolID, res.ClassID, r.materialsLimit)
	if err != nil {
		r.logger.Warn("materials lookup failed", slog.String("error", err.Error()))
		return
	}
	if len(materials) == 0 {
		return
	}
	var b strings.Builder
	for i, m := range materials {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.Title)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	res.Educational = b.String()
	res.Layers = append(res.Layers, LayerEducational)
}
