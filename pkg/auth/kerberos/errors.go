package kerberos

import (
	"errors"
	"fmt"
)

// ErrNoCredentials is returned when the cache holds no TGT yet.
var ErrNoCredentials = errors.New("credential cache is empty")

// ErrInvalidPrincipal is returned for principals not of the form name[/instance]@REALM.
var ErrInvalidPrincipal = errors.New("invalid principal")

// KeytabError reports a keytab that cannot be read or parsed.
type KeytabError struct {
	Path string
	Err  error
}

func (e *KeytabError) Error() string {
	return fmt.Sprintf("keytab %s: %v", e.Path, e.Err)
}

func (e *KeytabError) Unwrap() error {
	return e.Err
}
