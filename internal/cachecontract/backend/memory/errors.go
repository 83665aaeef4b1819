package memory

import "errors"

var errUnsupportedEncoding = errors.New("memory backend: bitmap encoding not supported")
