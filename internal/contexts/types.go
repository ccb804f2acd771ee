package contexts

// Layer names as recorded in interaction logs.
const (
	LayerGlobal      = "global"
	LayerSchool      = "school"
	LayerClass       = "class"
	LayerStudent     = "student"
	LayerEducational = "educational"
)

// DMSchoolSentinel marks direct-message interactions that have no guild,
// and therefore no school, attached.
const DMSchoolSentinel = "DM_NO_SCHOOL"

// Resolved is the layered context assembled for a single incoming message.
// Absent layers are empty strings; Confidence carries the degradation
// applied for each missing layer.
type Resolved struct {
	Global      string
	School      string
	Class       string
	Student     string
	Educational string

	SchoolID    string
	SchoolName  string
	ClassID     string
	ClassName   string
	StudentID   string
	StudentName string

	Confidence float64
	Layers     []string
}

// Penalties are the multiplicative confidence reductions applied when a
// layer cannot be resolved.
type Penalties struct {
	School  float64
	Class   float64
	Student float64
}
