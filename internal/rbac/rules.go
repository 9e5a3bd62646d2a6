package rbac

const (
	QuizView       = "quiz:view"
	QuizCreate     = "quiz:create"
	AttemptCreate  = "attempt:create"
	AttemptAnswer  = "attempt:answer"
	AttemptSubmit  = "attempt:submit"
	AttemptViewOwn = "attempt:view-own"
	AttemptViewAll = "attempt:view-all"
	AttemptGrade   = "attempt:grade"
	EventsView     = "events:view"
)

var RolePermissions = map[string][]string{
	"student": {
		QuizView,
		AttemptCreate,
		AttemptAnswer,
		AttemptSubmit,
		AttemptViewOwn,
	},
	"teacher": {
		"quiz:*",
		AttemptViewAll,
		AttemptGrade,
	},
	"admin": {
		"*", // everything
	},
}
