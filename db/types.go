package db

import "github.com/pkg/errors"

var ErrDuplicateToken = errors.New("duplicate token")
