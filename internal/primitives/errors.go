package primitives

import "errors"

var errInvalidHashLength = errors.New("primitives: decoded hash has wrong length")
