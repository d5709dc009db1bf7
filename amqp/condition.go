package amqp

// Condition is an AMQP error condition: a symbolic name plus a free-text
// description. The zero value means "no error".
type Condition struct {
	Name        string
	Description string
}

// Empty reports whether the condition carries no error.
func (c Condition) Empty() bool {
	return c.Name == "" && c.Description == ""
}

// What formats the condition as "<name>: <description>". If only one part
// is present, just that part is returned; an empty condition formats as "".
func (c Condition) What() string {
	switch {
	case c.Name != "" && c.Description != "":
		return c.Name + ": " + c.Description
	case c.Name != "":
		return c.Name
	default:
		return c.Description
	}
}

// Error makes a Condition usable as a Go error value.
func (c Condition) Error() string {
	return c.What()
}
