// Package mpegts implements the stateless layer of MPEG-TS parsing: the
// fixed-size transport packet codec (header, adaptation field, payload),
// packet-size auto-detection for 188/192/204-byte streams, and the MPEG-2
// CRC32 used when serializing PSI sections. Stateful demultiplexing lives
// in package demux.
package mpegts
