package glm

import "errors"

var (
	// ErrNotConverged is returned when IRLS exhausts its iteration budget.
	ErrNotConverged = errors.New("glm: IRLS did not converge")
	// ErrSingular is returned when the weighted normal equations cannot be solved.
	ErrSingular = errors.New("glm: singular design matrix")
	// ErrDimensionMismatch is returned when X, y, offset or weights disagree in length.
	ErrDimensionMismatch = errors.New("glm: dimension mismatch")
	// ErrEmptyDesign is returned for a design matrix with no rows or columns.
	ErrEmptyDesign = errors.New("glm: empty design matrix")
)
