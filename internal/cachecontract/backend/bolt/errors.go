package bolt

import "errors"

var errUnsupportedEncoding = errors.New("bolt backend: bitmap encoding not supported")
