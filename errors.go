package blitzorm

import "errors"

var (
	// ErrNotFound indicates a single-object lookup matched no row.
	ErrNotFound = errors.New("object does not exist")
	// ErrMultipleObjects indicates a single-object lookup matched more than one row.
	ErrMultipleObjects = errors.New("multiple objects returned")
	// ErrIndexOutOfRange indicates an index outside the materialized result.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrEmptyResult indicates a pop from an exhausted working copy.
	ErrEmptyResult = errors.New("pop from empty result")
	// ErrSliceStep indicates a slice with a step other than one.
	ErrSliceStep = errors.New("slice steps are not supported")
	// ErrNoPrimaryKey indicates an object without a resolvable primary key.
	ErrNoPrimaryKey = errors.New("object has no primary key")
)
