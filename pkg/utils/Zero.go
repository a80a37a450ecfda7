package utils

//=========================================== Zero Value Utils

// GetZero returns the zero value for type T, used in place of returning nil
// for concrete or generic types where nil isn't a valid literal.
func GetZero[T any]() T {
	var zero T
	return zero
}
