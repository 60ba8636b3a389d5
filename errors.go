package treekv

import (
	"errors"
	"fmt"

	"github.com/aalhour/treekv/internal/batch"
	"github.com/aalhour/treekv/internal/treestore"
)

var (
	// ErrNotFound is returned by point reads that miss.
	ErrNotFound = errors.New("treekv: not found")

	// ErrKeyOrder is returned when SST keys are not strictly increasing.
	ErrKeyOrder = errors.New("keys must be added in order")

	// ErrNoSavePoint is returned when a write batch has no save point to
	// pop or roll back to.
	ErrNoSavePoint = batch.ErrNoSavePoint

	// ErrInvalidRange is returned when a range end sorts before its start.
	ErrInvalidRange = errors.New("treekv: range end is less than start")

	// ErrCFName matches every *CFNameError.
	ErrCFName = errors.New("treekv: unknown column family")

	// ErrIO matches every *IOError.
	ErrIO = errors.New("treekv: io error")

	// ErrEngine matches every *EngineError.
	ErrEngine = errors.New("treekv: engine error")
)

// Engine kind sentinels. Each one matches ErrEngine.
var (
	ErrClosed     = &EngineError{Msg: "engine is closed"}
	ErrReleased   = &EngineError{Msg: "handle already released"}
	ErrCorruption = &EngineError{Msg: "corruption"}
	ErrBackground = &EngineError{Msg: "writes stopped after a commit log failure"}

	errEmptySST = &EngineError{Msg: "can't create sst with no entries"}
)

// CFNameError reports a column family the engine does not have.
type CFNameError struct {
	Name string
}

func (e *CFNameError) Error() string {
	return fmt.Sprintf("treekv: unknown column family %q", e.Name)
}

// Is matches ErrCFName.
func (e *CFNameError) Is(target error) bool { return target == ErrCFName }

// IOError wraps a filesystem failure.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("treekv: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("treekv: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Is matches ErrIO.
func (e *IOError) Is(target error) bool { return target == ErrIO }

// EngineError is a failure inside a backend.
type EngineError struct {
	Msg string
	Err error
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return "treekv: " + e.Msg
	}
	return fmt.Sprintf("treekv: %s: %v", e.Msg, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Is matches ErrEngine, and a sentinel EngineError with the same message.
func (e *EngineError) Is(target error) bool {
	if target == ErrEngine {
		return true
	}
	t, ok := target.(*EngineError)
	return ok && t.Err == nil && t.Msg == e.Msg
}

// NewEngineError returns an engine error wrapping err.
func NewEngineError(msg string, err error) error {
	return &EngineError{Msg: msg, Err: err}
}

// ErrorKind classifies errors returned by this package.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindNotFound
	KindCFName
	KindIO
	KindEngine
	KindKeyOrder
	KindNoSavePoint
	KindInvalidRange
	KindOther
)

var kindNames = [...]string{
	KindNone:         "None",
	KindNotFound:     "NotFound",
	KindCFName:       "CFName",
	KindIO:           "Io",
	KindEngine:       "Engine",
	KindKeyOrder:     "KeyOrder",
	KindNoSavePoint:  "NoSavePoint",
	KindInvalidRange: "InvalidRange",
	KindOther:        "Other",
}

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
	return kindNames[k]
}

// Kind returns the kind of err. Nil is KindNone.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrCFName):
		return KindCFName
	case errors.Is(err, ErrKeyOrder):
		return KindKeyOrder
	case errors.Is(err, ErrNoSavePoint):
		return KindNoSavePoint
	case errors.Is(err, ErrInvalidRange):
		return KindInvalidRange
	case errors.Is(err, ErrEngine):
		return KindEngine
	case errors.Is(err, ErrIO):
		return KindIO
	}
	return KindOther
}

// storeError maps a treestore error into this package's taxonomy.
func storeError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, treestore.ErrClosed):
		return ErrClosed
	case errors.Is(err, treestore.ErrBackground):
		return &EngineError{Msg: ErrBackground.Msg, Err: err}
	case errors.Is(err, treestore.ErrCorruption):
		return &EngineError{Msg: ErrCorruption.Msg, Err: err}
	case errors.Is(err, treestore.ErrExists):
		return &EngineError{Msg: "store already exists", Err: err}
	case errors.Is(err, treestore.ErrUnknownTree):
		return &EngineError{Msg: "unknown tree", Err: err}
	}
	return &IOError{Op: op, Path: path, Err: err}
}
