package demux

import (
	"errors"

	"github.com/zsiec/tsdemux/mpegts"
)

// Error taxonomy. Every mutating operation on a Demuxer returns nil or an
// error wrapping one of these sentinels; match with errors.Is. Continuity
// loss is deliberately not an error (see Demuxer.ContinuityError).
var (
	// ErrInvalidData reports a malformed packet, section, descriptor, or
	// adaptation field. Shared with package mpegts.
	ErrInvalidData = mpegts.ErrInvalidData

	// ErrTableFull reports a table or descriptor loop exceeding its
	// configured capacity; processing of that section is aborted.
	ErrTableFull = errors.New("demux: table capacity exceeded")

	// ErrUnknownPID reports a packet on a statically-reserved PID with no
	// registered filter. Custom-range PIDs are counted and skipped instead.
	ErrUnknownPID = errors.New("demux: no filter registered for reserved PID")

	// ErrPESUnsupported reports an attempt to reassemble a PES stream,
	// which this demuxer does not implement.
	ErrPESUnsupported = errors.New("demux: PES reassembly not supported")

	// ErrNotFound reports a missing input file.
	ErrNotFound = errors.New("demux: file not found")

	// ErrInvalidArguments reports a caller-side precondition failure.
	ErrInvalidArguments = errors.New("demux: invalid arguments")
)
