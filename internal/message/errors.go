package message

import "fmt"

type MissingFieldError struct {
	MessageName string
	FieldName   string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing field %s in message type %s", e.FieldName, e.MessageName)
}

type InvalidEnumValue struct {
	EnumName string
	Value    string
}

func (e *InvalidEnumValue) Error() string {
	return fmt.Sprintf("invalid enum value %q (enum: %s)", e.Value, e.EnumName)
}
