package ipa

import "fmt"

// Operation is a remote method the session is allowed to dispatch.
type Operation string

const (
	OpPing        Operation = "ping"
	OpHostFind    Operation = "host_find"
	OpHostShow    Operation = "host_show"
	OpServiceFind Operation = "service_find"
	OpServiceShow Operation = "service_show"
	OpCertShow    Operation = "cert_show"
)

var operations = map[Operation]struct{}{
	OpPing:        {},
	OpHostFind:    {},
	OpHostShow:    {},
	OpServiceFind: {},
	OpServiceShow: {},
	OpCertShow:    {},
}

// Operations lists every supported operation.
func Operations() []Operation {
	return []Operation{OpPing, OpHostFind, OpHostShow, OpServiceFind, OpServiceShow, OpCertShow}
}

// Valid reports whether op is supported.
func (op Operation) Valid() bool {
	_, ok := operations[op]
	return ok
}

func (op Operation) String() string {
	return string(op)
}

// ParseOperation converts a method name into an Operation.
func ParseOperation(name string) (Operation, error) {
	op := Operation(name)
	if !op.Valid() {
		return "", unknownOperation(op)
	}
	return op, nil
}

func unknownOperation(op Operation) *Error {
	return &Error{
		Kind:    KindUnknownOperation,
		Message: fmt.Sprintf("unsupported operation %q", string(op)),
	}
}
