package utils

func Value[T any](v *T) T {
	if v == nil {
		return *new(T)
	}
	return *v
}

func Ptr[T any](v T) *T {
	return &v
}

// ClonePtr returns a new pointer holding a copy of *v, or nil.
func ClonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	return Ptr(*v)
}
